package tracking

import (
	"context"
	"fmt"
	"time"

	"backend-shuttletrack/internal/shared/geo"
)

// Advancer moves a session past its current stop once that stop is notified
// and either served by the driver or within the arrival radius. Stops keep
// the order they were assigned in.
type Advancer struct {
	store   Store
	radiusM float64
	now     func() time.Time
}

func NewAdvancer(store Store, radiusM float64) *Advancer {
	if radiusM <= 0 {
		radiusM = 100
	}
	return &Advancer{store: store, radiusM: radiusM, now: time.Now}
}

// Eligible reports whether the current stop may be left behind.
func (a *Advancer) Eligible(s Session) bool {
	if s.Status != StatusActive {
		return false
	}
	stop, ok := s.CurrentStop()
	if !ok || !stop.Notified() {
		return false
	}
	if stop.Served() {
		return true
	}
	return s.LastPosition != nil && geo.DistanceMeters(s.LastPosition.Point(), stop.Destination) <= a.radiusM
}

// ConsiderAdvance advances at most one stop. The bool reports whether this
// call moved the session.
func (a *Advancer) ConsiderAdvance(ctx context.Context, s Session) (Session, bool, error) {
	if !a.Eligible(s) {
		return s, false, nil
	}
	next, moved, err := a.store.AdvanceStop(ctx, s.ID, s.CurrentStopIndex, a.now())
	if err != nil {
		return s, false, fmt.Errorf("advance stop: %w", err)
	}
	return next, moved, nil
}
