package intake

import (
	"errors"
	"fmt"
)

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("upload rejected")

// Validation reasons.
const (
	ReasonMissingFile     = "missing_file"
	ReasonEmptyFile       = "empty_file"
	ReasonFileTooLarge    = "file_too_large"
	ReasonUnsupportedType = "unsupported_type"
	ReasonContentMismatch = "content_mismatch"
	ReasonTooManyFiles    = "too_many_files"
	ReasonUnreadablePDF   = "unreadable_pdf"
)

// ValidationError rejects an upload before or while it is stored.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func reject(reason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// ReasonOf returns the validation reason carried by err, or "".
func ReasonOf(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	return ""
}

// NewValidationError builds a rejection for checks done outside this package,
// such as the statement PDF preflight.
func NewValidationError(reason, message string) *ValidationError {
	return &ValidationError{Reason: reason, Message: message}
}
