package documents

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the processing state of a document.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Failure codes recorded on failed payloads.
const (
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrorCodeBadInput           = "BAD_INPUT"
	ErrorCodeServiceError       = "SERVICE_ERROR"
	ErrorCodeEmptyResult        = "EMPTY_RESULT"
	ErrorCodeTimeout            = "TIMEOUT"
	ErrorCodeStorage            = "STORAGE_ERROR"
	ErrorCodeInternal           = "INTERNAL_ERROR"
	ErrorCodeAbandoned          = "ABANDONED"
)

// Payload is the extraction outcome stored on a terminal document.
type Payload struct {
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	Date             string           `json:"date,omitempty"`
	Vendor           string           `json:"vendor,omitempty"`
	Currency         string           `json:"currency,omitempty"`
	Confidence       *float64         `json:"confidence,omitempty"`
	RawText          string           `json:"rawText,omitempty"`
	ProcessingStatus string           `json:"processingStatus,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
	Retryable *bool  `json:"retryable,omitempty"`
}

// HasExtractedFields reports whether any of amount, date or vendor is set.
func (p *Payload) HasExtractedFields() bool {
	if p == nil {
		return false
	}
	return p.Amount != nil || p.Date != "" || p.Vendor != ""
}

// FailurePayload builds the payload for a failed document.
func FailurePayload(code, message string, retryable bool) *Payload {
	return &Payload{Error: message, ErrorCode: code, Retryable: &retryable}
}

// Document is the durable record of one uploaded file.
type Document struct {
	ID                  string
	UserID              string
	StoredFilename      string
	OriginalFilename    string
	StorageProvider     string
	StorageKey          string
	SizeBytes           int64
	MimeType            string
	DetectedMimeType    string
	Status              Status
	Payload             *Payload
	DispatchAttempts    int
	ProcessingStartedAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
