package tracking

import (
	"context"
	"testing"
	"time"

	"backend-shuttletrack/internal/shared/geo"
)

func TestAdvancerNeedsNotification(t *testing.T) {
	store := NewMemoryStore()
	adv := NewAdvancer(store, 100)
	seedSession(t, store, "a", "b")
	s, _ := store.ApplyLocation(context.Background(), "sess-1", Sample{ReceivedAt: time.Now()})
	s.Stops[0].Destination = jakarta
	near := Position{Lat: jakarta.Lat, Lng: jakarta.Lng}
	s.LastPosition = &near

	if adv.Eligible(s) {
		t.Fatalf("un-notified stop must not advance")
	}
	now := time.Now()
	s.Stops[0].NotifiedAt = &now
	if !adv.Eligible(s) {
		t.Fatalf("notified stop within radius should advance")
	}

	far := Position{Lat: geo.Offset(jakarta, 150).Lat, Lng: jakarta.Lng}
	s.LastPosition = &far
	if adv.Eligible(s) {
		t.Fatalf("150 m is outside the advance radius")
	}
	s.Stops[0].ServedAt = &now
	if !adv.Eligible(s) {
		t.Fatalf("served stop should advance regardless of distance")
	}
}

func TestAdvancerConsiderAdvance(t *testing.T) {
	store := NewMemoryStore()
	adv := NewAdvancer(store, 100)
	s := activeSession(t, store, "a", "b")
	now := time.Now()
	if _, err := store.MarkNotified(context.Background(), "sess-1", "a", now); err != nil {
		t.Fatalf("mark: %v", err)
	}
	s, _ = store.MarkServed(context.Background(), "sess-1", "a", now)

	next, moved, err := adv.ConsiderAdvance(context.Background(), s)
	if err != nil || !moved || next.CurrentStopIndex != 1 {
		t.Fatalf("expected advance: %v %v %d", err, moved, next.CurrentStopIndex)
	}
	if _, moved, _ := adv.ConsiderAdvance(context.Background(), s); moved {
		t.Fatalf("stale snapshot advanced twice")
	}
	if next.Status != StatusActive {
		t.Fatalf("run with remaining stops should stay active")
	}
}
