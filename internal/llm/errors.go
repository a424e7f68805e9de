package llm

import "errors"

// Provider error classes, mapped from HTTP status by each client.
var (
	ErrUnauthorized = errors.New("llm: invalid or missing API key")
	ErrRateLimited  = errors.New("llm: rate limited")
	ErrUnavailable  = errors.New("llm: provider unavailable")
)
