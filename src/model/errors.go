package model

import "errors"

var (
	// ErrDuplicateIdempotencyKey is returned when a fill (or pending order)
	// reuses a client idempotency key.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrDuplicateInFlight       = errors.New("duplicate in flight")
	ErrInsufficientFeeCoverage = errors.New("insufficient fee coverage")
	ErrTradeLimitExceeded      = errors.New("trade limit exceeded")
	ErrCircuitBreakerTripped   = errors.New("circuit breaker tripped")
	ErrOrderNotFound           = errors.New("order not found")
	ErrOrderNotPending         = errors.New("order is not pending")
	ErrPriceSourceUnavailable  = errors.New("price source unavailable")
	ErrIntegrityViolation      = errors.New("integrity violation")
	ErrAlreadyTripped          = errors.New("circuit breaker already tripped")
	ErrNotTripped              = errors.New("circuit breaker not tripped")
)
