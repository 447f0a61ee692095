package roundrobin

import "errors"

var (
	// ErrPartialSuccess marks a composite action whose first step succeeded
	// and whose dependent step failed. No compensation is attempted and the
	// account is treated as failed.
	ErrPartialSuccess = errors.New("partial success")

	// ErrNotQueueable is returned when an account cannot be (re)queued from
	// its current status.
	ErrNotQueueable = errors.New("account cannot be queued")

	// ErrInvariant is wrapped by every pool invariant violation.
	ErrInvariant = errors.New("pool invariant violated")
)
