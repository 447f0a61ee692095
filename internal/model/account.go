package model

import "time"

// Counters holds accumulate-only progress counters.
type Counters struct {
	ActionsTotal     int64 `json:"actions_total"`
	ActionsThisRound int64 `json:"actions_this_round"`
	PacksOpened      int64 `json:"packs_opened"`
	ClaimsCompleted  int64 `json:"claims_completed"`
	FreeActions      int64 `json:"free_actions"`
}

// Account is the per-identity state held by the registry.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	RefreshToken     string    `json:"-"`
	SessionToken     string    `json:"-"`
	SessionExpiresAt time.Time `json:"session_expires_at,omitempty"`

	Enabled bool   `json:"enabled"`
	Status  Status `json:"status"`

	Funds          int64     `json:"funds"`
	FundsUpdatedAt time.Time `json:"funds_updated_at,omitempty"`

	Counters         Counters `json:"counters"`
	Round            int      `json:"round"`
	RemainingActions int64    `json:"remaining_actions"`

	NextActionAt time.Time `json:"next_action_at,omitempty"`
	Window       *Window   `json:"window,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	RunStartedAt time.Time `json:"run_started_at,omitempty"`
	RunEndedAt   time.Time `json:"run_ended_at,omitempty"`

	ConsecutiveFailures int `json:"consecutive_failures"`
}

// HasSession reports whether a non-expired session credential is held.
func (a *Account) HasSession(now time.Time) bool {
	if a.SessionToken == "" {
		return false
	}
	return a.SessionExpiresAt.IsZero() || now.Before(a.SessionExpiresAt)
}

// IsActive reports whether timed window actions may run for the account.
func (a *Account) IsActive() bool {
	return a.Enabled && a.Status != StatusIdle && a.Status != StatusError
}

// Clone returns a deep copy safe to hand out of the registry.
func (a *Account) Clone() *Account {
	c := *a
	if a.Window != nil {
		w := *a.Window
		c.Window = &w
	}
	return &c
}
