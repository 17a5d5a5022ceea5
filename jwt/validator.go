package jwt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-hclog"
)

// Reason explains why a token was rejected.
type Reason int

const (
	// Valid means the token passed every check.
	Valid Reason = iota
	SignatureMismatch
	Expired
	NotYetValid
	AudienceMismatch
	IssuerMismatch
	MalformedToken
	KeyFetchFailure
)

func (r Reason) String() string {
	switch r {
	case Valid:
		return "valid"
	case SignatureMismatch:
		return "signature_mismatch"
	case Expired:
		return "expired"
	case NotYetValid:
		return "not_yet_valid"
	case AudienceMismatch:
		return "audience_mismatch"
	case IssuerMismatch:
		return "issuer_mismatch"
	case MalformedToken:
		return "malformed_token"
	case KeyFetchFailure:
		return "key_fetch_failure"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Result is the outcome of validating a token. Claims is only populated when
// Reason is Valid.
type Result struct {
	Claims map[string]interface{}
	Reason Reason
}

// Valid reports whether the token passed every check.
func (r Result) Valid() bool {
	return r.Reason == Valid
}

// Validator checks the signature, audience and validity window of ID tokens
// issued for a single client.
type Validator struct {
	keys     KeySet
	audience string
	algs     map[Alg]bool
	issuer   string
	leeway   time.Duration
	now      func() time.Time
	logger   hclog.Logger
}

// NewValidator creates a Validator which verifies signatures with keys and
// requires audience to be listed in the aud claim.
//
// Supported options: WithSupportedAlgorithms, WithIssuer, WithLeeway, WithNow,
// WithLogger
func NewValidator(keys KeySet, audience string, opt ...Option) (*Validator, error) {
	const op = "jwt.NewValidator"
	if keys == nil {
		return nil, fmt.Errorf("%s: key set is nil: %w", op, ErrNilParameter)
	}
	if audience == "" {
		return nil, fmt.Errorf("%s: audience is empty: %w", op, ErrInvalidParameter)
	}
	opts := getValidatorOpts(opt...)
	if err := SupportedSigningAlgorithm(opts.withSupportedAlgs...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	algs := make(map[Alg]bool, len(opts.withSupportedAlgs))
	for _, a := range opts.withSupportedAlgs {
		algs[a] = true
	}
	return &Validator{
		keys:     keys,
		audience: audience,
		algs:     algs,
		issuer:   opts.withIssuer,
		leeway:   opts.withLeeway,
		now:      opts.withNowFunc,
		logger:   opts.withLogger,
	}, nil
}

// Validate checks token and reports the outcome. It never returns an error:
// every failure, including a key set that cannot be fetched, maps to a Reason.
func (v *Validator) Validate(ctx context.Context, token string) (r Result) {
	defer func() {
		if rec := recover(); rec != nil {
			v.logger.Error("recovered while validating token", "panic", rec)
			r = Result{Reason: MalformedToken}
		}
	}()
	r = v.validate(ctx, token)
	if !r.Valid() {
		v.logger.Debug("token rejected", "reason", r.Reason)
	}
	return r
}

func (v *Validator) validate(ctx context.Context, token string) Result {
	if token == "" {
		return Result{Reason: MalformedToken}
	}
	jws, err := jose.ParseSigned(token, parseAlgorithms)
	if err != nil || len(jws.Signatures) != 1 {
		return Result{Reason: MalformedToken}
	}
	header := jws.Signatures[0].Header
	if !v.algs[Alg(header.Algorithm)] {
		return Result{Reason: SignatureMismatch}
	}

	keys, err := v.keys.Keys(ctx, header.KeyID)
	if err != nil {
		v.logger.Warn("unable to load signing keys", "kid", header.KeyID, "error", err)
		return Result{Reason: KeyFetchFailure}
	}
	payload, ok := verify(jws, header.Algorithm, keys)
	if !ok {
		return Result{Reason: SignatureMismatch}
	}

	var std jwt.Claims
	if err := json.Unmarshal(payload, &std); err != nil {
		return Result{Reason: MalformedToken}
	}
	claims := map[string]interface{}{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Result{Reason: MalformedToken}
	}

	if !std.Audience.Contains(v.audience) {
		return Result{Reason: AudienceMismatch}
	}
	if v.issuer != "" && std.Issuer != v.issuer {
		return Result{Reason: IssuerMismatch}
	}
	err = std.ValidateWithLeeway(jwt.Expected{Time: v.now()}, v.leeway)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrExpired):
		return Result{Reason: Expired}
	case errors.Is(err, jwt.ErrNotValidYet), errors.Is(err, jwt.ErrIssuedInTheFuture):
		return Result{Reason: NotYetValid}
	default:
		return Result{Reason: MalformedToken}
	}
	return Result{Claims: claims, Reason: Valid}
}

// verify tries each candidate key and returns the payload of the first one
// that verifies the signature.
func verify(jws *jose.JSONWebSignature, alg string, keys []jose.JSONWebKey) ([]byte, bool) {
	for _, k := range keys {
		if k.Algorithm != "" && k.Algorithm != alg {
			continue
		}
		payload, err := jws.Verify(k.Key)
		if err == nil {
			return payload, true
		}
	}
	return nil, false
}
