package model

// Status is the activity state of an account.
//
// Lifecycle:
//
//	IDLE → QUEUED → ACTIVE_READY ⇄ ACTIVE_BUSY
//	                     ↘ COMPLETED (funds below threshold)
//	                     ↘ ERROR (retries exhausted)
//	ERROR / COMPLETED → QUEUED (explicit control operation)
type Status string

const (
	StatusIdle        Status = "IDLE"
	StatusQueued      Status = "QUEUED"
	StatusActiveReady Status = "ACTIVE_READY"
	StatusActiveBusy  Status = "ACTIVE_BUSY"
	StatusError       Status = "ERROR"
	StatusCompleted   Status = "COMPLETED"
)

// transitions lists the statuses reachable from each status.
var transitions = map[Status][]Status{
	StatusIdle:        {StatusQueued},
	StatusQueued:      {StatusActiveReady, StatusCompleted, StatusError, StatusIdle},
	StatusActiveReady: {StatusActiveBusy, StatusCompleted, StatusError, StatusQueued},
	StatusActiveBusy:  {StatusActiveReady, StatusCompleted, StatusError},
	StatusError:       {StatusQueued, StatusIdle},
	StatusCompleted:   {StatusQueued, StatusIdle},
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// InPool reports whether an account with this status belongs to the active pool.
func (s Status) InPool() bool {
	return s == StatusActiveReady || s == StatusActiveBusy
}

// IsTerminal reports whether the round-robin scheduler is done with the account.
func (s Status) IsTerminal() bool {
	return s == StatusError || s == StatusCompleted
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) String() string {
	return string(s)
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusIdle, StatusQueued, StatusActiveReady, StatusActiveBusy, StatusCompleted, StatusError}
}
