// Package retry wraps single remote attempts with backoff, rate-limit
// handling and session refresh. It is the only place attempt budgets live.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"AccountPilot/internal/remote"
)

// ErrPermanent marks a failure the coordinator will not retry any further.
var ErrPermanent = errors.New("permanent failure")

// Policy configures the attempt budget and delays. MaxRetries is the number
// of transient or rate-limited failures tolerated before the operation is
// declared permanent; session refreshes do not count against it.
type Policy struct {
	MaxRetries       int
	InitialDelay     time.Duration
	Multiplier       float64
	MaxDelay         time.Duration
	RateLimitDelay   time.Duration
	MaxAuthRefreshes int
}

// DefaultPolicy returns the stock policy: 3 attempts, waiting 5s, 15s, 45s
// after each failure.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:       3,
		InitialDelay:     5 * time.Second,
		Multiplier:       3,
		MaxDelay:         5 * time.Minute,
		RateLimitDelay:   60 * time.Second,
		MaxAuthRefreshes: 2,
	}
}

// Backoff returns the delay before retry n (0-based):
// min(InitialDelay * Multiplier^n, MaxDelay).
func (p Policy) Backoff(n int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(n))
	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Operation is one zero-argument remote attempt.
type Operation func(ctx context.Context) remote.Outcome

// Refresher renews an account's session credential out of band.
type Refresher interface {
	RefreshSession(ctx context.Context, accountID string) error
}

// FailureTracker keeps the per-account consecutive-failure count.
type FailureTracker interface {
	RecordFailure(id string) int
	ResetFailures(id string)
}

// AttemptHook observes every attempt outcome (metrics).
type AttemptHook func(accountID, label string, o remote.Outcome)

// PermanentError is returned once an operation will not be retried.
type PermanentError struct {
	AccountID string
	Label     string
	Attempts  int
	Outcome   remote.Outcome
	Err       error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s [%s]: permanent after %d attempt(s): %v", e.Label, e.AccountID, e.Attempts, e.Err)
}

// Unwrap exposes both ErrPermanent and the underlying cause.
func (e *PermanentError) Unwrap() []error {
	return []error{ErrPermanent, e.Err}
}

// Coordinator executes operations under a Policy. Safe for concurrent use
// across accounts.
type Coordinator struct {
	policy    Policy
	refresher Refresher
	tracker   FailureTracker
	sleep     func(ctx context.Context, d time.Duration) error
	hook      AttemptHook
}

// New creates a Coordinator. refresher and tracker may be nil.
func New(policy Policy, refresher Refresher, tracker FailureTracker) *Coordinator {
	return &Coordinator{
		policy:    policy,
		refresher: refresher,
		tracker:   tracker,
		sleep:     sleepCtx,
	}
}

// SetSleep replaces the wait function (tests).
func (c *Coordinator) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	c.sleep = fn
}

// OnAttempt registers a hook called after every attempt.
func (c *Coordinator) OnAttempt(hook AttemptHook) {
	c.hook = hook
}

// Policy returns the active policy.
func (c *Coordinator) Policy() Policy {
	return c.policy
}

// Do runs op until it succeeds, fails fatally or the budget is spent.
// Every counted failure is followed by its wait, including the last one, so
// the caller never evicts an account sooner than the full backoff schedule.
// A non-nil error is either a *PermanentError or the context error.
func (c *Coordinator) Do(ctx context.Context, accountID, label string, op Operation) (remote.Outcome, error) {
	failures := 0
	refreshes := 0
	calls := 0

	for {
		o := op(ctx)
		calls++
		if c.hook != nil {
			c.hook(accountID, label, o)
		}

		var delay time.Duration
		switch o.Kind {
		case remote.KindOK:
			c.resetFailures(accountID)
			return o, nil

		case remote.KindFatal:
			c.recordFailure(accountID)
			return o, c.permanent(accountID, label, calls, o, o.Err())

		case remote.KindAuthExpired:
			c.recordFailure(accountID)
			if c.refresher == nil || refreshes >= c.policy.MaxAuthRefreshes {
				return o, c.permanent(accountID, label, calls, o, o.Err())
			}
			refreshes++
			if err := c.refresher.RefreshSession(ctx, accountID); err != nil {
				log.Printf("[WARN] %s [%s]: session refresh failed: %v", label, accountID, err)
				return o, c.permanent(accountID, label, calls, o, errors.Join(o.Err(), err))
			}
			log.Printf("[INFO] %s [%s]: session refreshed, retrying", label, accountID)
			continue

		case remote.KindRateLimited:
			delay = c.policy.RateLimitDelay

		default:
			delay = c.policy.Backoff(failures)
		}

		c.recordFailure(accountID)
		failures++
		if c.policy.MaxRetries <= 0 {
			return o, c.permanent(accountID, label, calls, o, o.Err())
		}

		log.Printf("[WARN] %s [%s]: %v (failure %d/%d, waiting %v)", label, accountID, o.Err(), failures, c.policy.MaxRetries, delay)
		if err := c.sleep(ctx, delay); err != nil {
			return o, fmt.Errorf("%s [%s]: %w", label, accountID, err)
		}
		if failures >= c.policy.MaxRetries {
			return o, c.permanent(accountID, label, calls, o, o.Err())
		}
	}
}

func (c *Coordinator) permanent(accountID, label string, calls int, o remote.Outcome, cause error) error {
	return &PermanentError{
		AccountID: accountID,
		Label:     label,
		Attempts:  calls,
		Outcome:   o,
		Err:       cause,
	}
}

func (c *Coordinator) recordFailure(id string) {
	if c.tracker != nil {
		c.tracker.RecordFailure(id)
	}
}

func (c *Coordinator) resetFailures(id string) {
	if c.tracker != nil {
		c.tracker.ResetFailures(id)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
