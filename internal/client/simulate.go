package client

import (
	"context"
	"sync"
	"time"

	"backend-shuttletrack/internal/shared/geo"
	"backend-shuttletrack/internal/tracking"
)

// LinearSource simulates a vehicle driving due south toward a destination at
// a constant speed. Useful for demos and load tests.
type LinearSource struct {
	dest     geo.Point
	startM   float64
	speedMps float64
	every    time.Duration
	start    time.Time
	now      func() time.Time
	once     sync.Once
}

func NewLinearSource(dest geo.Point, startMeters, speedKmh float64, every time.Duration) *LinearSource {
	if every <= 0 {
		every = 2 * time.Second
	}
	return &LinearSource{dest: dest, startM: startMeters, speedMps: speedKmh / 3.6, every: every, now: time.Now}
}

func (s *LinearSource) position() tracking.LocationInput {
	now := s.now()
	s.once.Do(func() { s.start = now })
	remaining := max(s.startM-s.speedMps*now.Sub(s.start).Seconds(), 0)
	p := geo.Offset(s.dest, remaining)
	return tracking.LocationInput{Lat: p.Lat, Lng: p.Lng, Accuracy: 10, ObservedAt: now}
}

func (s *LinearSource) Current(context.Context) (tracking.LocationInput, error) {
	return s.position(), nil
}

func (s *LinearSource) Watch(ctx context.Context) <-chan tracking.LocationInput {
	out := make(chan tracking.LocationInput)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case out <- s.position():
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
