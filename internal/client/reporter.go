package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"backend-shuttletrack/internal/tracking"
)

// ErrDeviceLocation wraps failures to obtain a position from the device. It
// is reported but never stops the reporter.
var ErrDeviceLocation = errors.New("device location unavailable")

// LocationSource is the device's positioning API.
type LocationSource interface {
	// Watch delivers position changes until ctx is done.
	Watch(ctx context.Context) <-chan tracking.LocationInput
	// Current takes a one-off fix.
	Current(ctx context.Context) (tracking.LocationInput, error)
}

// Pusher is satisfied by *API and by *tracking.Service.
type Pusher interface {
	PushLocation(ctx context.Context, ref string, loc tracking.LocationInput) (tracking.PushResult, error)
}

type ReporterConfig struct {
	// Throttle is the minimum spacing between watch-driven pushes.
	Throttle time.Duration
	// Backup is the period of the independent timer push.
	Backup   time.Duration
	OnResult func(tracking.PushResult)
	OnError  func(error)
}

// Reporter is the driver loop. A watch callback and a backup timer both
// feed the same endpoint; the server's check-and-set operations make the
// overlap harmless.
type Reporter struct {
	api Pusher
	ref string
	src LocationSource
	cfg ReporterConfig
	log *slog.Logger
	now func() time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	lastSent time.Time
}

func NewReporter(api Pusher, ref string, src LocationSource, cfg ReporterConfig) *Reporter {
	if cfg.Throttle <= 0 {
		cfg.Throttle = 5 * time.Second
	}
	if cfg.Backup <= 0 {
		cfg.Backup = 30 * time.Second
	}
	return &Reporter{api: api, ref: ref, src: src, cfg: cfg, log: slog.Default(), now: time.Now}
}

// Run blocks until Stop, ctx cancellation, or the server reports the session
// inactive or unknown, which is returned.
func (r *Reporter) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	updates := r.src.Watch(ctx)
	backup := time.NewTicker(r.cfg.Backup)
	defer backup.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case loc, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if r.throttled() {
				continue
			}
			if err := r.send(ctx, loc); err != nil {
				return err
			}
		case <-backup.C:
			loc, err := r.src.Current(ctx)
			if err != nil {
				r.report(fmt.Errorf("%w: %v", ErrDeviceLocation, err))
				continue
			}
			if err := r.send(ctx, loc); err != nil {
				return err
			}
		}
	}
}

// Stop halts both producers.
func (r *Reporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Reporter) throttled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.lastSent.IsZero() && r.now().Sub(r.lastSent) < r.cfg.Throttle
}

// send returns an error only when the loop must end.
func (r *Reporter) send(ctx context.Context, loc tracking.LocationInput) error {
	r.mu.Lock()
	r.lastSent = r.now()
	r.mu.Unlock()

	res, err := r.api.PushLocation(ctx, r.ref, loc)
	switch {
	case errors.Is(err, tracking.ErrSessionInactive), errors.Is(err, tracking.ErrSessionNotFound):
		r.log.Info("tracking stopped by server", "tracking_ref", r.ref, "reason", err)
		return err
	case err != nil:
		if ctx.Err() == nil {
			r.report(err)
		}
		return nil
	}
	if r.cfg.OnResult != nil {
		r.cfg.OnResult(res)
	}
	return nil
}

func (r *Reporter) report(err error) {
	if r.cfg.OnError != nil {
		r.cfg.OnError(err)
		return
	}
	r.log.Warn("location push failed", "tracking_ref", r.ref, "error", err)
}
