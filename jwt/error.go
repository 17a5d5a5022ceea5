package jwt

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrKeyFetchFailed   = errors.New("unable to fetch signing keys")
	ErrInvalidKeySet    = errors.New("invalid key set")
)
