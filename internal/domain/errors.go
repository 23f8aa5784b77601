package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNetwork           = errors.New("network failure")
	ErrBadResponse       = errors.New("bad exchange response")
	ErrInvalidPosition   = errors.New("invalid position data")
	ErrExchangeInactive  = errors.New("exchange not active")
	ErrExchangeUnknown   = errors.New("exchange not supported")
	ErrLockHeld          = errors.New("lock already held")
)
