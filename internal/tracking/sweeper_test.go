package tracking

import (
	"context"
	"testing"
	"time"

	"backend-shuttletrack/internal/shared/geo"
)

func TestSweeperRunExpiresAndStops(t *testing.T) {
	svc, store, _, clock := newTestService(t)
	session := singleStop(t, svc)
	pushAt(t, svc, session.ID, geo.Offset(jakarta, 8000))
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(svc, 5*time.Millisecond, nil).Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		s, _ := store.Get(context.Background(), session.ID)
		if s.Status == StatusExpired {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("sweeper never expired the session")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop on cancel")
	}
}
