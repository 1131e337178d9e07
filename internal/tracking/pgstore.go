package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend-shuttletrack/internal/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PGStore persists sessions in Postgres. Check-and-set operations are single
// conditional statements, so row-level locking gives the atomicity.
type PGStore struct {
	db db.Querier
}

func NewPGStore(q db.Querier) *PGStore {
	return &PGStore{db: q}
}

const selectSession = `
	SELECT id, booking_ref, driver_id, driver_name, dropoff_address, status, current_stop_index,
	       last_observed_at IS NOT NULL, COALESCE(last_lat,0), COALESCE(last_lng,0), COALESCE(last_accuracy,0),
	       COALESCE(last_observed_at,'epoch'), COALESCE(last_sample_at,'epoch'),
	       created_at, updated_at, expires_at, COALESCE(ended_at,'epoch')
	FROM tracking_sessions WHERE id=$1`

func (p *PGStore) Get(ctx context.Context, id string) (Session, error) {
	var (
		s           Session
		status      string
		hasPosition bool
		pos         Position
		lastSample  time.Time
		endedAt     time.Time
	)
	row := p.db.QueryRow(ctx, selectSession, id)
	if err := row.Scan(&s.ID, &s.BookingRef, &s.DriverID, &s.DriverName, &s.DropoffAddress, &status, &s.CurrentStopIndex,
		&hasPosition, &pos.Lat, &pos.Lng, &pos.Accuracy, &pos.ObservedAt, &lastSample,
		&s.CreatedAt, &s.UpdatedAt, &s.ExpiresAt, &endedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	parsed, err := ParseStatus(status)
	if err != nil {
		return Session{}, err
	}
	s.Status = parsed
	if hasPosition {
		s.LastPosition = &pos
	}
	s.LastSampleAt = nullTime(lastSample)
	s.EndedAt = nullTime(endedAt)

	if s.Stops, err = p.stops(ctx, id); err != nil {
		return Session{}, err
	}
	if s.Recent, err = p.recent(ctx, id); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (p *PGStore) stops(ctx context.Context, id string) ([]Stop, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, address, lat, lng, contact_ref,
		       COALESCE(notified_at,'epoch'), COALESCE(reached_at,'epoch'), COALESCE(served_at,'epoch'), delivery_error
		FROM tracking_stops WHERE session_id=$1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stops []Stop
	for rows.Next() {
		var (
			st                          Stop
			notified, reached, servedAt time.Time
		)
		if err := rows.Scan(&st.ID, &st.Address, &st.Destination.Lat, &st.Destination.Lng, &st.ContactRef,
			&notified, &reached, &servedAt, &st.DeliveryError); err != nil {
			return nil, err
		}
		st.NotifiedAt = nullTime(notified)
		st.ReachedAt = nullTime(reached)
		st.ServedAt = nullTime(servedAt)
		stops = append(stops, st)
	}
	return stops, rows.Err()
}

func (p *PGStore) recent(ctx context.Context, id string) ([]Position, error) {
	rows, err := p.db.Query(ctx, `
		SELECT lat, lng, accuracy, observed_at
		FROM tracking_samples WHERE session_id=$1
		ORDER BY observed_at DESC, id DESC
		LIMIT $2
	`, id, recentSampleLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var newestFirst []Position
	for rows.Next() {
		var pos Position
		if err := rows.Scan(&pos.Lat, &pos.Lng, &pos.Accuracy, &pos.ObservedAt); err != nil {
			return nil, err
		}
		newestFirst = append(newestFirst, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]Position, len(newestFirst))
	for i, pos := range newestFirst {
		out[len(newestFirst)-1-i] = pos
	}
	return out, nil
}

func (p *PGStore) FindByBooking(ctx context.Context, bookingRef string) (Session, error) {
	var id string
	err := p.db.QueryRow(ctx, `
		SELECT id FROM tracking_sessions WHERE booking_ref=$1
		ORDER BY created_at DESC
		LIMIT 1
	`, bookingRef).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	return p.Get(ctx, id)
}

func (p *PGStore) Create(ctx context.Context, s Session) (Session, error) {
	if len(s.Stops) == 0 {
		return Session{}, fmt.Errorf("%w: at least one stop is required", ErrValidation)
	}
	positions := make([]int32, len(s.Stops))
	ids := make([]string, len(s.Stops))
	addresses := make([]string, len(s.Stops))
	lats := make([]float64, len(s.Stops))
	lngs := make([]float64, len(s.Stops))
	contacts := make([]string, len(s.Stops))
	for i, st := range s.Stops {
		positions[i] = int32(i)
		ids[i] = st.ID
		addresses[i] = st.Address
		lats[i] = st.Destination.Lat
		lngs[i] = st.Destination.Lng
		contacts[i] = st.ContactRef
	}

	_, err := p.db.Exec(ctx, `
		WITH s AS (
			INSERT INTO tracking_sessions (id, booking_ref, driver_id, driver_name, dropoff_address, status,
			                               current_stop_index, stop_count, created_at, updated_at, expires_at)
			VALUES ($1,$2,$3,$4,$5,$6,0,$7,$8,$8,$9)
			RETURNING id
		)
		INSERT INTO tracking_stops (session_id, position, id, address, lat, lng, contact_ref)
		SELECT s.id, u.position, u.id, u.address, u.lat, u.lng, u.contact_ref
		FROM s, unnest($10::int[], $11::text[], $12::text[], $13::float8[], $14::float8[], $15::text[])
		     AS u(position, id, address, lat, lng, contact_ref)
	`, s.ID, s.BookingRef, s.DriverID, s.DriverName, s.DropoffAddress, s.Status.String(),
		len(s.Stops), s.CreatedAt, s.ExpiresAt,
		positions, ids, addresses, lats, lngs, contacts)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Session{}, fmt.Errorf("%w: duplicate session or stop id", ErrValidation)
		}
		return Session{}, err
	}
	return s.clone(), nil
}

func (p *PGStore) ApplyLocation(ctx context.Context, id string, sample Sample) (Session, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if sample.Suspect {
		tag, err = p.db.Exec(ctx, `
			UPDATE tracking_sessions
			SET status = CASE WHEN status = 'pending' THEN 'active' ELSE status END,
			    last_sample_at = $2, updated_at = $2
			WHERE id = $1 AND status IN ('pending', 'active')
		`, id, sample.ReceivedAt)
	} else {
		tag, err = p.db.Exec(ctx, `
			WITH s AS (
				UPDATE tracking_sessions
				SET status = CASE WHEN status = 'pending' THEN 'active' ELSE status END,
				    last_lat = $2, last_lng = $3, last_accuracy = $4, last_observed_at = $5,
				    last_sample_at = $6, updated_at = $6
				WHERE id = $1 AND status IN ('pending', 'active')
				RETURNING id
			),
			trimmed AS (
				DELETE FROM tracking_samples t
				WHERE t.session_id IN (SELECT id FROM s)
				  AND t.id NOT IN (
					SELECT id FROM tracking_samples
					WHERE session_id = $1
					ORDER BY observed_at DESC, id DESC
					LIMIT $7
				  )
			)
			INSERT INTO tracking_samples (session_id, lat, lng, accuracy, observed_at)
			SELECT id, $2, $3, $4, $5 FROM s
		`, id, sample.Lat, sample.Lng, sample.Accuracy, sample.ObservedAt, sample.ReceivedAt, recentSampleLimit-1)
	}
	if err != nil {
		return Session{}, err
	}
	if tag.RowsAffected() == 0 {
		return p.rejected(ctx, id)
	}
	return p.Get(ctx, id)
}

// rejected explains a conditional update that matched no row.
func (p *PGStore) rejected(ctx context.Context, id string) (Session, error) {
	s, err := p.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	return s, ErrSessionInactive
}

func (p *PGStore) MarkNotified(ctx context.Context, id, stopID string, at time.Time) (bool, error) {
	tag, err := p.db.Exec(ctx, `
		UPDATE tracking_stops SET notified_at = $3
		WHERE session_id = $1 AND id = $2 AND notified_at IS NULL
	`, id, stopID, at)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := p.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM tracking_stops WHERE session_id = $1 AND id = $2)
	`, id, stopID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrStopNotFound
	}
	return false, nil
}

func (p *PGStore) RecordDeliveryFailure(ctx context.Context, id, stopID, reason string) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE tracking_stops SET delivery_error = $3
		WHERE session_id = $1 AND id = $2
	`, id, stopID, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStopNotFound
	}
	return nil
}

func (p *PGStore) MarkServed(ctx context.Context, id, stopID string, at time.Time) (Session, error) {
	tag, err := p.db.Exec(ctx, `
		UPDATE tracking_stops st SET served_at = COALESCE(st.served_at, $3)
		FROM tracking_sessions s
		WHERE st.session_id = $1 AND st.id = $2 AND s.id = st.session_id AND s.status = 'active'
		  AND st.position = s.current_stop_index
	`, id, stopID, at)
	if err != nil {
		return Session{}, err
	}
	if tag.RowsAffected() == 1 {
		return p.Get(ctx, id)
	}
	s, err := p.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s.Status != StatusActive {
		return s, ErrSessionInactive
	}
	if s.stopIndex(stopID) >= 0 {
		return s, ErrStopNotCurrent
	}
	return s, ErrStopNotFound
}

func (p *PGStore) AdvanceStop(ctx context.Context, id string, from int, at time.Time) (Session, bool, error) {
	tag, err := p.db.Exec(ctx, `
		WITH moved AS (
			UPDATE tracking_sessions
			SET current_stop_index = LEAST(current_stop_index + 1, stop_count - 1),
			    status = CASE WHEN current_stop_index + 1 >= stop_count THEN 'completed' ELSE status END,
			    ended_at = CASE WHEN current_stop_index + 1 >= stop_count THEN $3 ELSE ended_at END,
			    updated_at = $3
			WHERE id = $1 AND current_stop_index = $2 AND status = 'active'
			RETURNING id
		)
		UPDATE tracking_stops SET reached_at = $3
		WHERE session_id IN (SELECT id FROM moved) AND position = $2
	`, id, from, at)
	if err != nil {
		return Session{}, false, err
	}
	s, err := p.Get(ctx, id)
	if err != nil {
		return Session{}, false, err
	}
	return s, tag.RowsAffected() == 1, nil
}

func (p *PGStore) finish(ctx context.Context, id string, to Status, at time.Time) (Session, error) {
	tag, err := p.db.Exec(ctx, `
		UPDATE tracking_sessions SET status = $2, ended_at = $3, updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'active')
	`, id, to.String(), at)
	if err != nil {
		return Session{}, err
	}
	s, err := p.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if tag.RowsAffected() == 0 && s.Status != to {
		return s, ErrSessionInactive
	}
	return s, nil
}

func (p *PGStore) Complete(ctx context.Context, id string, at time.Time) (Session, error) {
	return p.finish(ctx, id, StatusCompleted, at)
}

func (p *PGStore) Expire(ctx context.Context, id string, at time.Time) (Session, error) {
	return p.finish(ctx, id, StatusExpired, at)
}

func (p *PGStore) Fail(ctx context.Context, id string, at time.Time) (Session, error) {
	return p.finish(ctx, id, StatusError, at)
}

func (p *PGStore) ExpireInactive(ctx context.Context, idleBefore, now time.Time) ([]string, error) {
	rows, err := p.db.Query(ctx, `
		UPDATE tracking_sessions SET status = 'expired', ended_at = $2, updated_at = $2
		WHERE (status = 'active' AND last_sample_at < $1)
		   OR (status IN ('pending', 'active') AND expires_at < $2)
		RETURNING id
	`, idleBefore, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *PGStore) Purge(ctx context.Context, endedBefore time.Time) (int, error) {
	tag, err := p.db.Exec(ctx, `
		DELETE FROM tracking_sessions
		WHERE status IN ('completed', 'expired', 'error') AND ended_at < $1
	`, endedBefore)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// nullTime maps the COALESCE sentinel back to an absent timestamp.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() || t.Unix() == 0 {
		return nil
	}
	return &t
}
