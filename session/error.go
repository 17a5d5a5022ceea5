package session

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrNotFound         = errors.New("session not found")
	ErrRequestCanceled  = errors.New("request canceled, session not saved")
)
