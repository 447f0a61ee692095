package model

import "time"

// Window is the effective daily window of one account.
type Window struct {
	Start  time.Time     `json:"start"`
	End    time.Time     `json:"end"`
	Jitter time.Duration `json:"jitter"`
}

// Contains reports whether t falls in [Start, End].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}
