package recorder

import "AccountPilot/internal/model"

// RoundEvent records the start or end of one account round.
type RoundEvent struct {
	AccountID string
	RunID     string
	Round     int
	Funds     int64
	Granted   int64  // actions granted for the round
	Outcome   string // "STARTED", "RENEWED", "COMPLETED", "ERRORED"
}

// Recorder persists an append-only history for later analysis.
// It is never read back into scheduler state.
type Recorder interface {
	RecordEvent(evt model.Event) error
	RecordAction(rec *model.ActionRecord) error
	RecordRound(evt *RoundEvent) error
	Close() error
}
