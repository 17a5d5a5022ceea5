// Package pathmatch matches request paths against lists of regular
// expressions. Expressions are searched for anywhere in the path, so a pattern
// must carry its own anchors when a full match is wanted.
package pathmatch

import (
	"fmt"
	"regexp"

	"github.com/hashicorp/go-multierror"
)

// Patterns is a compiled list of path expressions.
type Patterns []*regexp.Regexp

// Compile compiles every expression in patterns. All invalid expressions are
// reported together.
func Compile(patterns []string) (Patterns, error) {
	const op = "pathmatch.Compile"
	if len(patterns) == 0 {
		return nil, nil
	}
	var errs *multierror.Error
	compiled := make(Patterns, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: invalid pattern %q: %w", op, p, err))
			continue
		}
		compiled = append(compiled, re)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return compiled, nil
}

// MustCompile is like Compile but panics if an expression is invalid. It is
// meant for package level pattern lists.
func MustCompile(patterns ...string) Patterns {
	p, err := Compile(patterns)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether any pattern finds a match anywhere in path. It returns
// false when either the patterns or the path are missing.
func Match(patterns Patterns, path string) bool {
	if len(patterns) == 0 || path == "" {
		return false
	}
	for _, re := range patterns {
		if re != nil && re.MatchString(path) {
			return true
		}
	}
	return false
}

// Match is a convenience for Match(p, path).
func (p Patterns) Match(path string) bool {
	return Match(p, path)
}

// Strings returns the source expressions.
func (p Patterns) Strings() []string {
	ret := make([]string, 0, len(p))
	for _, re := range p {
		if re != nil {
			ret = append(ret, re.String())
		}
	}
	return ret
}

// Exact returns an expression that only matches path itself.
func Exact(path string) string {
	return "^" + regexp.QuoteMeta(path) + "$"
}
