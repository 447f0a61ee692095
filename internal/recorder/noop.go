package recorder

import "AccountPilot/internal/model"

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordEvent(_ model.Event) error          { return nil }
func (n *NoopRecorder) RecordAction(_ *model.ActionRecord) error { return nil }
func (n *NoopRecorder) RecordRound(_ *RoundEvent) error          { return nil }
func (n *NoopRecorder) Close() error                             { return nil }
