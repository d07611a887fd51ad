package api

import "errors"

var (
	ErrNotFound       = errors.New("resource not found")
	ErrRateLimited    = errors.New("rate limited by API")
	ErrAuthFailed     = errors.New("authentication failed")
	ErrTooManySymbols = errors.New("too many symbols in one quote request")
)
