package pathmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	t.Parallel()
	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p, err := Compile([]string{"^/static/", `\.css$`})
		require.NoError(err)
		assert.Len(p, 2)
		assert.Equal([]string{"^/static/", `\.css$`}, p.Strings())
	})
	t.Run("empty", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p, err := Compile(nil)
		require.NoError(err)
		assert.Nil(p)
	})
	t.Run("invalid-reports-all", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := Compile([]string{"(", "ok", "[a-"})
		require.Error(err)
		assert.Contains(err.Error(), `"("`)
		assert.Contains(err.Error(), `"[a-"`)
	})
	t.Run("must-compile-panics", func(t *testing.T) {
		assert.Panics(t, func() { MustCompile("(") })
	})
}

func TestMatch(t *testing.T) {
	t.Parallel()
	patterns := MustCompile("/public", "^/api/v[0-9]+/health$")
	tests := []struct {
		name     string
		patterns Patterns
		path     string
		want     bool
	}{
		{name: "nil-patterns", patterns: nil, path: "/public", want: false},
		{name: "empty-path", patterns: patterns, path: "", want: false},
		{name: "substring-match", patterns: patterns, path: "/assets/public/logo.png", want: true},
		{name: "anchored-match", patterns: patterns, path: "/api/v2/health", want: true},
		{name: "anchored-miss", patterns: patterns, path: "/api/v2/health/deep", want: false},
		{name: "no-match", patterns: patterns, path: "/dashboard", want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.patterns, tt.path))
			assert.Equal(t, tt.want, tt.patterns.Match(tt.path))
		})
	}
}

func TestExact(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	p := MustCompile(Exact("/login.html"))
	assert.True(p.Match("/login.html"))
	assert.False(p.Match("/loginxhtml"))
	assert.False(p.Match("/app/login.html"))
}
