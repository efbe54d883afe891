package db

import "errors"

// Common errors. Callers discriminate with errors.Is; everything else is
// wrapped with %w so the sentinel survives the service layers.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("resource not found")
	ErrUnauthorized        = errors.New("expert is not assigned to this request")
	ErrCapacityExhausted   = errors.New("expert is at maximum load")
	ErrEscalationExhausted = errors.New("request is already at the highest expert level")
	ErrPersistence         = errors.New("persistence failure")
)
