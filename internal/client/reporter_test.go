package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backend-shuttletrack/internal/shared/geo"
	"backend-shuttletrack/internal/tracking"
)

type fakeSource struct {
	updates chan tracking.LocationInput
	fix     tracking.LocationInput
	err     error
}

func newFakeSource() *fakeSource {
	return &fakeSource{updates: make(chan tracking.LocationInput)}
}

func (f *fakeSource) Watch(context.Context) <-chan tracking.LocationInput { return f.updates }

func (f *fakeSource) Current(context.Context) (tracking.LocationInput, error) {
	return f.fix, f.err
}

type recordingPusher struct {
	mu    sync.Mutex
	calls []tracking.LocationInput
	err   error
}

func (p *recordingPusher) PushLocation(_ context.Context, _ string, loc tracking.LocationInput) (tracking.PushResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, loc)
	if p.err != nil {
		return tracking.PushResult{}, p.err
	}
	return tracking.PushResult{Accepted: true, Status: tracking.StatusActive}, nil
}

func (p *recordingPusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func runReporter(r *Reporter) <-chan error {
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	return done
}

func TestReporterThrottlesWatchUpdates(t *testing.T) {
	src := newFakeSource()
	pusher := &recordingPusher{}
	r := NewReporter(pusher, "abc", src, ReporterConfig{Throttle: time.Hour, Backup: time.Hour})
	done := runReporter(r)

	for i := 0; i < 3; i++ {
		src.updates <- tracking.LocationInput{Lat: float64(i)}
	}
	r.Stop()
	require.NoError(t, <-done)
	assert.Equal(t, 1, pusher.count())
	assert.Equal(t, 0.0, pusher.calls[0].Lat)
}

func TestReporterBackupTimerPushesCurrentFix(t *testing.T) {
	src := newFakeSource()
	src.fix = tracking.LocationInput{Lat: -6.2, Lng: 106.8}
	pusher := &recordingPusher{}
	var results int
	var mu sync.Mutex
	r := NewReporter(pusher, "abc", src, ReporterConfig{
		Backup:   5 * time.Millisecond,
		OnResult: func(tracking.PushResult) { mu.Lock(); results++; mu.Unlock() },
	})
	done := runReporter(r)

	require.Eventually(t, func() bool { return pusher.count() >= 2 }, time.Second, time.Millisecond)
	r.Stop()
	require.NoError(t, <-done)
	mu.Lock()
	assert.GreaterOrEqual(t, results, 2)
	mu.Unlock()
}

func TestReporterStopsWhenSessionInactive(t *testing.T) {
	for _, stopErr := range []error{tracking.ErrSessionInactive, tracking.ErrSessionNotFound} {
		src := newFakeSource()
		pusher := &recordingPusher{err: stopErr}
		r := NewReporter(pusher, "abc", src, ReporterConfig{Backup: time.Hour})
		done := runReporter(r)

		src.updates <- tracking.LocationInput{Lat: 1}
		assert.ErrorIs(t, <-done, stopErr)
	}
}

func TestReporterSurvivesTransientAndDeviceErrors(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("gps off")
	pusher := &recordingPusher{err: errors.New("offline")}

	var mu sync.Mutex
	var errs []error
	r := NewReporter(pusher, "abc", src, ReporterConfig{
		Throttle: time.Nanosecond,
		Backup:   5 * time.Millisecond,
		OnError:  func(err error) { mu.Lock(); errs = append(errs, err); mu.Unlock() },
	})
	done := runReporter(r)

	src.updates <- tracking.LocationInput{Lat: 1}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, err := range errs {
			if errors.Is(err, ErrDeviceLocation) {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
	r.Stop()
	require.NoError(t, <-done)
	assert.Equal(t, 1, pusher.count())
}

func TestReporterAgainstService(t *testing.T) {
	svc := tracking.NewService(tracking.NewMemoryStore(), nil, nil, nil, tracking.Options{}, nil)
	dest := geo.Point{Lat: -6.2, Lng: 106.8}
	session, err := svc.Create(context.Background(), tracking.CreateInput{
		BookingRef: "b-1",
		Stops:      []tracking.StopInput{{ID: "s1", Address: "Hotel", Lat: dest.Lat, Lng: dest.Lng}},
	})
	require.NoError(t, err)

	src := newFakeSource()
	p := geo.Offset(dest, 10000)
	src.fix = tracking.LocationInput{Lat: p.Lat, Lng: p.Lng, Accuracy: 10}
	r := NewReporter(svc, session.ID, src, ReporterConfig{Backup: 5 * time.Millisecond})
	done := runReporter(r)

	require.Eventually(t, func() bool {
		snap, err := svc.Snapshot(context.Background(), session.ID)
		return err == nil && snap.Status == tracking.StatusActive
	}, time.Second, time.Millisecond)

	_, err = svc.Complete(context.Background(), session.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, <-done, tracking.ErrSessionInactive)
}

func TestLinearSourceApproachesDestination(t *testing.T) {
	dest := geo.Point{Lat: -6.2, Lng: 106.8}
	src := NewLinearSource(dest, 1000, 36, time.Second)
	start := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	now := start
	src.now = func() time.Time { return now }

	first, err := src.Current(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1000, geo.DistanceMeters(geo.Point{Lat: first.Lat, Lng: first.Lng}, dest), 1)

	now = start.Add(50 * time.Second)
	mid, _ := src.Current(context.Background())
	assert.InDelta(t, 500, geo.DistanceMeters(geo.Point{Lat: mid.Lat, Lng: mid.Lng}, dest), 1)

	now = start.Add(10 * time.Minute)
	end, _ := src.Current(context.Background())
	assert.InDelta(t, 0, geo.DistanceMeters(geo.Point{Lat: end.Lat, Lng: end.Lng}, dest), 0.01)
}
