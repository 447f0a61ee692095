package model

import "time"

// Severity classifies an event log entry.
type Severity string

const (
	SeverityDebug   Severity = "DEBUG"
	SeverityInfo    Severity = "INFO"
	SeverityWarn    Severity = "WARN"
	SeverityError   Severity = "ERROR"
	SeverityPartial Severity = "PARTIAL"
)

// Event is one entry of the observability sink.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	AccountID string    `json:"account_id,omitempty"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
}

// ActionRecord describes one finished composite action or claim.
type ActionRecord struct {
	AccountID string
	Kind      string // "COMPOSITE", "CLAIM", "FREE", "ROUND", "FUNDS"
	Success   bool
	Partial   bool
	Funds     int64
	Remaining int64
	Note      string
}
