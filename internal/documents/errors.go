package documents

import "errors"

var (
	ErrNotFound          = errors.New("document not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidPayload    = errors.New("invalid payload for status")
	ErrInvalidInput      = errors.New("invalid input")
)
