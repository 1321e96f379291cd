package ratelimit

import (
	"context"
	"time"
)

// ClientKey identifies one rate-limited bucket.
type ClientKey struct {
	Address  string
	Category string
}

func (k ClientKey) String() string { return k.Address + "|" + k.Category }

// Reason says why a request was denied.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonLimit is a client over its per-window limit.
	ReasonLimit
	// ReasonCapacity is a new client refused because the store is full.
	ReasonCapacity
)

func (r Reason) String() string {
	switch r {
	case ReasonLimit:
		return "limit"
	case ReasonCapacity:
		return "capacity"
	default:
		return "none"
	}
}

// Decision is the outcome of one admission.
type Decision struct {
	Allowed   bool
	Reason    Reason
	Limit     int
	Count     int
	Remaining int
	// ResetAt is when the current window ends.
	ResetAt time.Time

	// RetryAfter is RetryHint on every denial.
	RetryAfter time.Duration
	// First is set on the first denial of its kind: the first over-limit
	// request of a window, or the first capacity refusal since the store
	// last had room.
	First bool
}

// Store counts requests per key. Implementations must be safe for
// concurrent use.
type Store interface {
	Admit(ctx context.Context, key ClientKey, now time.Time, limit int, window time.Duration) (Decision, error)
}

func decide(count, limit int, start time.Time, window time.Duration) Decision {
	d := Decision{
		Allowed: count <= limit,
		Limit:   limit,
		Count:   count,
		ResetAt: start.Add(window),
	}
	if d.Allowed {
		d.Remaining = limit - count
		return d
	}
	d.Reason = ReasonLimit
	d.RetryAfter = RetryHint
	d.First = count == limit+1
	return d
}
