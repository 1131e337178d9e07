package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"backend-shuttletrack/internal/tracking"
)

// Snapshotter is satisfied by *API and by *tracking.Service.
type Snapshotter interface {
	Snapshot(ctx context.Context, ref string) (tracking.Snapshot, error)
}

// Poller is the passenger loop: it reads the snapshot on a fixed interval
// while the session is pending or active.
type Poller struct {
	src      Snapshotter
	ref      string
	interval time.Duration
	onView   func(View)
	log      *slog.Logger

	mu   sync.Mutex
	last *tracking.Snapshot
}

func NewPoller(src Snapshotter, ref string, interval time.Duration, onView func(View)) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if onView == nil {
		onView = func(View) {}
	}
	return &Poller{src: src, ref: ref, interval: interval, onView: onView, log: slog.Default()}
}

// Last returns the last snapshot read successfully.
func (p *Poller) Last() (tracking.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return tracking.Snapshot{}, false
	}
	return *p.last, true
}

// Run polls until the session ends, the reference turns out invalid, or ctx
// is cancelled. Transient failures keep the last good view.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if done := p.poll(ctx); done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context) bool {
	snap, err := p.src.Snapshot(ctx, p.ref)
	if errors.Is(err, tracking.ErrSessionNotFound) {
		p.onView(InvalidView())
		return true
	}
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("tracking poll failed", "tracking_ref", p.ref, "error", err)
		}
		return false
	}

	p.mu.Lock()
	p.last = &snap
	p.mu.Unlock()

	p.onView(ViewFor(snap))
	return snap.Status.Terminal()
}
