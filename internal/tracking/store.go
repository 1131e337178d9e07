package tracking

import (
	"context"
	"time"
)

// Store is the single source of truth for tracking sessions. Every mutation
// is scoped to one session record; MarkNotified and AdvanceStop are atomic
// check-and-set operations so concurrent pipelines never double-fire a
// notification or skip a stop.
type Store interface {
	Get(ctx context.Context, id string) (Session, error)
	// FindByBooking returns the most recently created session for bookingRef.
	FindByBooking(ctx context.Context, bookingRef string) (Session, error)
	Create(ctx context.Context, s Session) (Session, error)

	// ApplyLocation rejects with ErrSessionInactive, without mutating, unless
	// the session is pending or active. The first accepted sample activates it.
	ApplyLocation(ctx context.Context, id string, sample Sample) (Session, error)

	// MarkNotified returns true only for the one caller that moved the stop
	// from not-notified to notified.
	MarkNotified(ctx context.Context, id, stopID string, at time.Time) (bool, error)
	RecordDeliveryFailure(ctx context.Context, id, stopID, reason string) error
	MarkServed(ctx context.Context, id, stopID string, at time.Time) (Session, error)

	// AdvanceStop moves past stop index from, provided the session is still
	// active and still pointing at from. The bool reports whether this call
	// performed the move. Advancing past the last stop completes the session.
	AdvanceStop(ctx context.Context, id string, from int, at time.Time) (Session, bool, error)

	Complete(ctx context.Context, id string, at time.Time) (Session, error)
	Expire(ctx context.Context, id string, at time.Time) (Session, error)
	Fail(ctx context.Context, id string, at time.Time) (Session, error)

	// ExpireInactive expires active sessions idle since before idleBefore and
	// open sessions past their deadline. It returns the expired ids.
	ExpireInactive(ctx context.Context, idleBefore, now time.Time) ([]string, error)
	// Purge deletes terminal sessions that ended before endedBefore.
	Purge(ctx context.Context, endedBefore time.Time) (int, error)
}
