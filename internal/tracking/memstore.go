package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memEntry struct {
	mu      sync.Mutex
	session Session
}

// MemoryStore keeps sessions in process. Each session has its own lock, so
// there is no contention between sessions.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]*memEntry{}}
}

func (m *MemoryStore) entry(id string) (*memEntry, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

// update runs fn under the session lock. fn mutates the session in place and
// must leave it untouched when it returns an error.
func (m *MemoryStore) update(id string, fn func(s *Session) error) (Session, error) {
	e, err := m.entry(id)
	if err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := fn(&e.session); err != nil {
		return e.session.clone(), err
	}
	return e.session.clone(), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	e, err := m.entry(id)
	if err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.clone(), nil
}

func (m *MemoryStore) FindByBooking(_ context.Context, bookingRef string) (Session, error) {
	m.mu.RLock()
	entries := make([]*memEntry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var found *Session
	for _, e := range entries {
		e.mu.Lock()
		if e.session.BookingRef == bookingRef && (found == nil || e.session.CreatedAt.After(found.CreatedAt)) {
			s := e.session.clone()
			found = &s
		}
		e.mu.Unlock()
	}
	if found == nil {
		return Session{}, ErrSessionNotFound
	}
	return *found, nil
}

func (m *MemoryStore) Create(_ context.Context, s Session) (Session, error) {
	if len(s.Stops) == 0 {
		return Session{}, fmt.Errorf("%w: at least one stop is required", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return Session{}, fmt.Errorf("%w: session %s already exists", ErrValidation, s.ID)
	}
	m.sessions[s.ID] = &memEntry{session: s.clone()}
	return s.clone(), nil
}

func (m *MemoryStore) ApplyLocation(_ context.Context, id string, sample Sample) (Session, error) {
	return m.update(id, func(s *Session) error {
		if !s.Status.AcceptsSamples() {
			return ErrSessionInactive
		}
		if s.Status == StatusPending {
			s.Status = StatusActive
		}
		at := sample.ReceivedAt
		s.LastSampleAt = &at
		s.UpdatedAt = at
		if sample.Suspect {
			return nil
		}
		pos := sample.Position()
		s.LastPosition = &pos
		s.Recent = append(s.Recent, pos)
		if len(s.Recent) > recentSampleLimit {
			s.Recent = append([]Position(nil), s.Recent[len(s.Recent)-recentSampleLimit:]...)
		}
		return nil
	})
}

func (m *MemoryStore) MarkNotified(_ context.Context, id, stopID string, at time.Time) (bool, error) {
	won := false
	_, err := m.update(id, func(s *Session) error {
		i := s.stopIndex(stopID)
		if i < 0 {
			return ErrStopNotFound
		}
		if s.Stops[i].Notified() {
			return nil
		}
		t := at
		s.Stops[i].NotifiedAt = &t
		s.UpdatedAt = at
		won = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

func (m *MemoryStore) RecordDeliveryFailure(_ context.Context, id, stopID, reason string) error {
	_, err := m.update(id, func(s *Session) error {
		i := s.stopIndex(stopID)
		if i < 0 {
			return ErrStopNotFound
		}
		s.Stops[i].DeliveryError = reason
		return nil
	})
	return err
}

func (m *MemoryStore) MarkServed(_ context.Context, id, stopID string, at time.Time) (Session, error) {
	return m.update(id, func(s *Session) error {
		if s.Status != StatusActive {
			return ErrSessionInactive
		}
		i := s.stopIndex(stopID)
		if i < 0 {
			return ErrStopNotFound
		}
		if i != s.CurrentStopIndex {
			return ErrStopNotCurrent
		}
		if !s.Stops[i].Served() {
			t := at
			s.Stops[i].ServedAt = &t
			s.UpdatedAt = at
		}
		return nil
	})
}

func (m *MemoryStore) AdvanceStop(_ context.Context, id string, from int, at time.Time) (Session, bool, error) {
	moved := false
	s, err := m.update(id, func(s *Session) error {
		if s.Status != StatusActive || s.CurrentStopIndex != from || from >= len(s.Stops) {
			return nil
		}
		t := at
		s.Stops[from].ReachedAt = &t
		s.UpdatedAt = at
		if from+1 < len(s.Stops) {
			s.CurrentStopIndex = from + 1
		} else {
			s.Status = StatusCompleted
			s.EndedAt = &t
		}
		moved = true
		return nil
	})
	return s, moved, err
}

func (m *MemoryStore) finish(id string, to Status, at time.Time) (Session, error) {
	return m.update(id, func(s *Session) error {
		if s.Status == to {
			return nil
		}
		if !s.Status.CanTransition(to) {
			return ErrSessionInactive
		}
		t := at
		s.Status = to
		s.EndedAt = &t
		s.UpdatedAt = at
		return nil
	})
}

func (m *MemoryStore) Complete(_ context.Context, id string, at time.Time) (Session, error) {
	return m.finish(id, StatusCompleted, at)
}

func (m *MemoryStore) Expire(_ context.Context, id string, at time.Time) (Session, error) {
	return m.finish(id, StatusExpired, at)
}

func (m *MemoryStore) Fail(_ context.Context, id string, at time.Time) (Session, error) {
	return m.finish(id, StatusError, at)
}

func (m *MemoryStore) ExpireInactive(_ context.Context, idleBefore, now time.Time) ([]string, error) {
	m.mu.RLock()
	entries := make([]*memEntry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var expired []string
	for _, e := range entries {
		e.mu.Lock()
		s := &e.session
		idle := s.Status == StatusActive && s.LastSampleAt != nil && s.LastSampleAt.Before(idleBefore)
		overdue := s.Status.AcceptsSamples() && !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(now)
		if idle || overdue {
			t := now
			s.Status = StatusExpired
			s.EndedAt = &t
			s.UpdatedAt = now
			expired = append(expired, s.ID)
		}
		e.mu.Unlock()
	}
	return expired, nil
}

func (m *MemoryStore) Purge(_ context.Context, endedBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for id, e := range m.sessions {
		e.mu.Lock()
		s := e.session
		e.mu.Unlock()
		if s.Status.Terminal() && s.EndedAt != nil && s.EndedAt.Before(endedBefore) {
			delete(m.sessions, id)
			purged++
		}
	}
	return purged, nil
}
