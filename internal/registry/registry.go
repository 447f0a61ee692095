// Package registry holds per-account mutable state for the process lifetime.
//
// Field ownership: the round-robin scheduler writes status and round fields,
// the daily window scheduler writes window fields, and both may add to the
// progress counters. Counters only ever accumulate outside of Reset.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"AccountPilot/internal/model"
)

var (
	// ErrAccountNotFound is returned for unknown account ids.
	ErrAccountNotFound = errors.New("account not found")

	// ErrDuplicateAccount is returned when an id is registered twice.
	ErrDuplicateAccount = errors.New("duplicate account id")

	// ErrInvalidTransition is returned when a status change is not in the transition table.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Registry is the in-memory account store.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	order    []string
	now      func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		accounts: make(map[string]*model.Account),
		now:      time.Now,
	}
}

// Add registers a new account in the idle state.
func (r *Registry) Add(id, name, refreshToken string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAccount, id)
	}
	r.accounts[id] = &model.Account{
		ID:           id,
		Name:         name,
		RefreshToken: refreshToken,
		Enabled:      enabled,
		Status:       model.StatusIdle,
	}
	r.order = append(r.order, id)
	return nil
}

// Get returns a copy of an account.
func (r *Registry) Get(id string) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return a.Clone(), nil
}

// List returns copies of all accounts in registration order.
func (r *Registry) List() []*model.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Account, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.accounts[id].Clone())
	}
	return out
}

// IDs returns all account ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Status returns the current status of an account.
func (r *Registry) Status(id string) (model.Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return a.Status, nil
}

// Transition moves an account to a new status if the transition table allows it.
func (r *Registry) Transition(id string, to model.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return r.transition(a, to)
}

// MarkErrored moves an account to the error state and records the reason.
func (r *Registry) MarkErrored(id string, reason error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	if err := r.transition(a, model.StatusError); err != nil {
		return err
	}
	if reason != nil {
		a.LastError = reason.Error()
	}
	return nil
}

func (r *Registry) transition(a *model.Account, to model.Status) error {
	if !a.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, a.ID, a.Status, to)
	}
	a.Status = to
	switch to {
	case model.StatusQueued:
		a.RunStartedAt = r.now()
		a.RunEndedAt = time.Time{}
		a.LastError = ""
	case model.StatusCompleted, model.StatusError:
		a.RunEndedAt = r.now()
		a.RemainingActions = 0
		a.NextActionAt = time.Time{}
	}
	return nil
}

// SetLastError records an error without changing status.
func (r *Registry) SetLastError(id string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		a.LastError = reason
	}
}

// Credentials returns the refresh and session credentials of an account.
func (r *Registry) Credentials(id string) (refresh, session string, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[id]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	if !a.HasSession(r.now()) {
		return a.RefreshToken, "", nil
	}
	return a.RefreshToken, a.SessionToken, nil
}

// SetSession stores a session credential. A zero expiry means no expiry.
func (r *Registry) SetSession(id, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	a.SessionToken = token
	a.SessionExpiresAt = expiresAt
	return nil
}

// ClearSession drops the session credential.
func (r *Registry) ClearSession(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		a.SessionToken = ""
		a.SessionExpiresAt = time.Time{}
	}
}

// RotateRefreshToken replaces the refresh credential.
func (r *Registry) RotateRefreshToken(id, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	a.RefreshToken = token
	return nil
}

// SetFunds records the last observed balance.
func (r *Registry) SetFunds(id string, funds int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	a.Funds = funds
	a.FundsUpdatedAt = r.now()
	return nil
}

// StartRound begins a new round with the given action budget.
func (r *Registry) StartRound(id string, remaining int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	if remaining < 0 {
		remaining = 0
	}
	a.Round++
	a.RemainingActions = remaining
	a.Counters.ActionsThisRound = 0
	return nil
}

// RecordAction counts one completed composite action and returns the
// remaining actions of the round.
func (r *Registry) RecordAction(id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	a.Counters.ActionsTotal++
	a.Counters.ActionsThisRound++
	if a.RemainingActions > 0 {
		a.RemainingActions--
	}
	return a.RemainingActions, nil
}

// AddPacksOpened adds n to the packs-opened counter.
func (r *Registry) AddPacksOpened(id string, n int64) {
	r.addCounter(id, n, func(c *model.Counters) *int64 { return &c.PacksOpened })
}

// AddClaims adds n to the claims-completed counter.
func (r *Registry) AddClaims(id string, n int64) {
	r.addCounter(id, n, func(c *model.Counters) *int64 { return &c.ClaimsCompleted })
}

// AddFreeActions adds n to the free-actions counter.
func (r *Registry) AddFreeActions(id string, n int64) {
	r.addCounter(id, n, func(c *model.Counters) *int64 { return &c.FreeActions })
}

func (r *Registry) addCounter(id string, n int64, field func(*model.Counters) *int64) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		*field(&a.Counters) += n
	}
}

// SetNextAction records when the account is next expected to act.
func (r *Registry) SetNextAction(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		a.NextActionAt = at
	}
}

// SetWindow stores the effective window for the current day.
func (r *Registry) SetWindow(id string, w model.Window) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	a.Window = &w
	return nil
}

// Window returns the stored window, if any.
func (r *Registry) Window(id string) (model.Window, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[id]
	if !ok || a.Window == nil {
		return model.Window{}, false
	}
	return *a.Window, true
}

// RecordFailure increments the consecutive-failure counter and returns it.
func (r *Registry) RecordFailure(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return 0
	}
	a.ConsecutiveFailures++
	return a.ConsecutiveFailures
}

// ResetFailures zeroes the consecutive-failure counter.
func (r *Registry) ResetFailures(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		a.ConsecutiveFailures = 0
	}
}

// Reset returns every account to idle and clears round, window and counter state.
// Credentials are kept.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		a.Status = model.StatusIdle
		a.Counters = model.Counters{}
		a.Round = 0
		a.RemainingActions = 0
		a.NextActionAt = time.Time{}
		a.Window = nil
		a.LastError = ""
		a.RunStartedAt = time.Time{}
		a.RunEndedAt = time.Time{}
		a.ConsecutiveFailures = 0
	}
}

// CountByStatus returns the number of accounts per status.
func (r *Registry) CountByStatus() map[model.Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[model.Status]int)
	for _, a := range r.accounts {
		counts[a.Status]++
	}
	return counts
}
