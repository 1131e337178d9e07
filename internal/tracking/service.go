package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"backend-shuttletrack/internal/shared/geo"

	"github.com/google/uuid"
)

// Broadcaster pushes snapshot JSON to live viewers of a session.
type Broadcaster interface {
	Broadcast(sessionID string, payload []byte)
}

type Options struct {
	ThresholdMinutes     int
	ArrivalRadiusM       float64
	AdvanceRadiusM       float64
	AssumedSpeedKmh      float64
	MinSpeedKmh          float64
	MaxPlausibleSpeedKmh float64
	InactivityWindow     time.Duration
	RetentionWindow      time.Duration
	SessionTTL           time.Duration
	Now                  func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ThresholdMinutes <= 0 {
		o.ThresholdMinutes = 5
	}
	if o.MaxPlausibleSpeedKmh <= 0 {
		o.MaxPlausibleSpeedKmh = 200
	}
	if o.InactivityWindow <= 0 {
		o.InactivityWindow = 10 * time.Minute
	}
	if o.RetentionWindow <= 0 {
		o.RetentionWindow = 24 * time.Hour
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = 24 * time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Service runs the ingestion pipeline and serves snapshots.
type Service struct {
	store       Store
	estimator   *Estimator
	dispatcher  *Dispatcher
	advancer    *Advancer
	broadcaster Broadcaster
	opts        Options
	log         *slog.Logger
}

func NewService(store Store, notifier Notifier, provider RouteProvider, broadcaster Broadcaster, opts Options, log *slog.Logger) *Service {
	opts = opts.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	est := NewEstimator(EstimatorConfig{
		AssumedSpeedKmh: opts.AssumedSpeedKmh,
		MinSpeedKmh:     opts.MinSpeedKmh,
		ArrivalRadiusM:  opts.ArrivalRadiusM,
	}, provider, log)
	est.now = opts.Now
	disp := NewDispatcher(store, notifier, opts.ThresholdMinutes, log)
	disp.now = opts.Now
	adv := NewAdvancer(store, opts.AdvanceRadiusM)
	adv.now = opts.Now
	return &Service{
		store:       store,
		estimator:   est,
		dispatcher:  disp,
		advancer:    adv,
		broadcaster: broadcaster,
		opts:        opts,
		log:         log,
	}
}

type StopInput struct {
	ID         string  `json:"id"`
	Address    string  `json:"address"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	ContactRef string  `json:"contact_ref"`
}

// CreateInput describes a confirmed booking or run. Runs may be keyed by
// driver, date and departure time instead of BookingRef.
type CreateInput struct {
	BookingRef     string      `json:"booking_ref"`
	DriverID       string      `json:"driver_id"`
	DriverName     string      `json:"driver_name"`
	Date           string      `json:"date"`
	DepartureTime  string      `json:"departure_time"`
	DropoffAddress string      `json:"dropoff_address"`
	Stops          []StopInput `json:"stops"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (Session, error) {
	ref := strings.TrimSpace(in.BookingRef)
	if ref == "" && in.DriverID != "" && in.Date != "" && in.DepartureTime != "" {
		ref = RunRef(in.DriverID, in.Date, in.DepartureTime)
	}
	if ref == "" {
		return Session{}, fmt.Errorf("%w: booking_ref or driver_id, date and departure_time required", ErrValidation)
	}
	if len(in.Stops) == 0 {
		return Session{}, fmt.Errorf("%w: at least one stop is required", ErrValidation)
	}

	seen := make(map[string]struct{}, len(in.Stops))
	stops := make([]Stop, 0, len(in.Stops))
	for i, st := range in.Stops {
		dest := geo.Point{Lat: st.Lat, Lng: st.Lng}
		if !dest.Valid() {
			return Session{}, fmt.Errorf("%w: stop %d has invalid coordinates", ErrValidation, i)
		}
		id := strings.TrimSpace(st.ID)
		if id == "" {
			id = uuid.NewString()
		}
		if _, dup := seen[id]; dup {
			return Session{}, fmt.Errorf("%w: duplicate stop id %q", ErrValidation, id)
		}
		seen[id] = struct{}{}
		stops = append(stops, Stop{ID: id, Address: st.Address, Destination: dest, ContactRef: st.ContactRef})
	}

	now := s.opts.Now()
	session := Session{
		ID:             uuid.NewString(),
		BookingRef:     ref,
		DriverID:       in.DriverID,
		DriverName:     in.DriverName,
		DropoffAddress: in.DropoffAddress,
		Status:         StatusPending,
		Stops:          stops,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.opts.SessionTTL),
	}
	created, err := s.store.Create(ctx, session)
	if err != nil {
		return Session{}, err
	}
	s.log.InfoContext(ctx, "tracking session created", "session_id", created.ID, "booking_ref", ref, "stops", len(stops))
	return created, nil
}

type LocationInput struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Accuracy   float64   `json:"accuracy"`
	ObservedAt time.Time `json:"observed_at"`
}

// PushResult is the driver-facing outcome of one sample.
type PushResult struct {
	Accepted         bool     `json:"accepted"`
	Suspect          bool     `json:"suspect,omitempty"`
	Status           Status   `json:"status,omitempty"`
	CurrentStopIndex int      `json:"current_stop_index"`
	ETAMinutes       *int     `json:"eta_minutes,omitempty"`
	Notified         bool     `json:"notified"`
	NewlyNotified    []string `json:"newly_notified"`
	Advanced         bool     `json:"advanced"`
	Reason           string   `json:"reason,omitempty"`
}

// PushLocation runs apply, estimate, evaluate and advance for one sample.
// ref may be a tracking reference or a booking reference.
func (s *Service) PushLocation(ctx context.Context, ref string, in LocationInput) (PushResult, error) {
	session, err := s.resolve(ctx, ref)
	if err != nil {
		return PushResult{}, err
	}
	res, _, _, err := s.push(ctx, session, in)
	return res, err
}

func (s *Service) resolve(ctx context.Context, ref string) (Session, error) {
	session, err := s.store.Get(ctx, ref)
	if errors.Is(err, ErrSessionNotFound) {
		return s.store.FindByBooking(ctx, ref)
	}
	return session, err
}

func (s *Service) push(ctx context.Context, session Session, in LocationInput) (PushResult, Session, *ETAResult, error) {
	pos := geo.Point{Lat: in.Lat, Lng: in.Lng}
	if !pos.Valid() || in.Accuracy < 0 || math.IsNaN(in.Accuracy) {
		return PushResult{}, session, nil, fmt.Errorf("%w: invalid location", ErrValidation)
	}

	now := s.opts.Now()
	if eff := session.effectiveStatus(now, s.opts.InactivityWindow); !eff.AcceptsSamples() {
		if eff != session.Status {
			if _, err := s.store.Expire(ctx, session.ID, now); err != nil && !errors.Is(err, ErrSessionInactive) {
				return PushResult{}, session, nil, fmt.Errorf("expire session: %w", err)
			}
			s.log.InfoContext(ctx, "tracking session expired on ingest", "session_id", session.ID)
		}
		return rejectedPush(session, eff), session, nil, ErrSessionInactive
	}

	observed := in.ObservedAt
	if observed.IsZero() || observed.After(now) {
		observed = now
	}
	sample := Sample{
		SessionID:  session.ID,
		Lat:        in.Lat,
		Lng:        in.Lng,
		Accuracy:   in.Accuracy,
		ObservedAt: observed,
		ReceivedAt: now,
	}
	sample.Suspect = s.suspect(session.LastPosition, sample)

	applied, err := s.store.ApplyLocation(ctx, session.ID, sample)
	if errors.Is(err, ErrSessionInactive) {
		if applied.ID == "" {
			applied = session
		}
		return rejectedPush(applied, applied.Status), applied, nil, err
	}
	if err != nil {
		return PushResult{}, session, nil, err
	}
	session = applied

	res := PushResult{Accepted: true, Suspect: sample.Suspect, NewlyNotified: []string{}}
	var eta *ETAResult
	if sample.Suspect {
		s.log.WarnContext(ctx, "implausible location sample ignored", "session_id", session.ID)
	} else if stop, ok := session.CurrentStop(); ok && session.LastPosition != nil {
		e := s.estimator.Estimate(ctx, session.LastPosition.Point(), stop, session.Recent)
		eta = &e
		minutes := e.ETAMinutes
		res.ETAMinutes = &minutes

		var decisions []Decision
		session, decisions, err = s.dispatcher.Evaluate(ctx, session, e)
		if err != nil {
			return PushResult{}, session, eta, err
		}
		for _, d := range decisions {
			if d.Fired {
				res.NewlyNotified = append(res.NewlyNotified, d.StopID)
			}
		}
		res.Notified = session.Stops[session.CurrentStopIndex].Notified()

		session, res.Advanced, err = s.advancer.ConsiderAdvance(ctx, session)
		if err != nil {
			return PushResult{}, session, eta, err
		}
		if res.Advanced {
			s.log.InfoContext(ctx, "stop reached", "session_id", session.ID, "stop_id", stop.ID, "status", session.Status.String())
		}
	}

	res.Status = session.Status
	res.CurrentStopIndex = session.CurrentStopIndex
	s.broadcast(session, eta)
	return res, session, eta, nil
}

// rejectedPush is the soft answer for a session that no longer takes samples.
func rejectedPush(session Session, status Status) PushResult {
	return PushResult{
		Status:           status,
		CurrentStopIndex: session.CurrentStopIndex,
		NewlyNotified:    []string{},
		Reason:           "session_inactive",
	}
}

// suspect flags a sample whose implied speed from the last accepted position
// is implausible and whose jump exceeds the reported accuracy.
func (s *Service) suspect(last *Position, sample Sample) bool {
	if last == nil {
		return false
	}
	meters := geo.DistanceMeters(last.Point(), geo.Point{Lat: sample.Lat, Lng: sample.Lng})
	if meters <= math.Max(sample.Accuracy, 50) {
		return false
	}
	elapsed := sample.ObservedAt.Sub(last.ObservedAt)
	if elapsed <= 0 {
		return true
	}
	return meters/elapsed.Seconds()*3.6 > s.opts.MaxPlausibleSpeedKmh
}

type RunLocationInput struct {
	DriverID        string    `json:"driver_id"`
	Date            string    `json:"date"`
	DepartureTime   string    `json:"departure_time"`
	Lat             float64   `json:"lat"`
	Lng             float64   `json:"lng"`
	Accuracy        float64   `json:"accuracy"`
	ObservedAt      time.Time `json:"observed_at"`
	NotifiedPickups []string  `json:"notified_pickups"`
}

type StopETA struct {
	Minutes        int     `json:"minutes"`
	DistanceMeters float64 `json:"distance_meters"`
}

type RunPushResult struct {
	Accepted         bool               `json:"accepted"`
	Status           Status             `json:"status,omitempty"`
	CurrentStopIndex int                `json:"current_stop_index"`
	ETAs             map[string]StopETA `json:"etas"`
	NewlyNotified    []string           `json:"newly_notified"`
	Reason           string             `json:"reason,omitempty"`
}

// PushRunLocation ingests a sample for a multi-stop run and reports ETAs for
// every stop not yet reached. Only the current stop is ever dispatched; the
// client's notified list is informational.
func (s *Service) PushRunLocation(ctx context.Context, in RunLocationInput) (RunPushResult, error) {
	if in.DriverID == "" || in.Date == "" || in.DepartureTime == "" {
		return RunPushResult{}, fmt.Errorf("%w: driver_id, date and departure_time required", ErrValidation)
	}
	session, err := s.store.FindByBooking(ctx, RunRef(in.DriverID, in.Date, in.DepartureTime))
	if err != nil {
		return RunPushResult{}, err
	}
	res, session, eta, err := s.push(ctx, session, LocationInput{
		Lat: in.Lat, Lng: in.Lng, Accuracy: in.Accuracy, ObservedAt: in.ObservedAt,
	})
	if errors.Is(err, ErrSessionInactive) {
		return RunPushResult{
			Status:           res.Status,
			CurrentStopIndex: res.CurrentStopIndex,
			ETAs:             map[string]StopETA{},
			NewlyNotified:    []string{},
			Reason:           res.Reason,
		}, err
	}
	if err != nil {
		return RunPushResult{}, err
	}

	out := RunPushResult{
		Accepted:         res.Accepted,
		Status:           session.Status,
		CurrentStopIndex: session.CurrentStopIndex,
		ETAs:             map[string]StopETA{},
		NewlyNotified:    res.NewlyNotified,
	}
	if session.LastPosition == nil {
		return out, nil
	}
	here := session.LastPosition.Point()
	for _, st := range session.Stops {
		if st.Reached() {
			continue
		}
		e := s.estimator.EstimateLocal(here, st, session.Recent)
		if eta != nil && eta.StopID == st.ID {
			e = *eta
		}
		out.ETAs[st.ID] = StopETA{Minutes: e.ETAMinutes, DistanceMeters: e.DistanceMeters}
	}
	return out, nil
}

// MarkServed records the driver's explicit pickup of the current stop. A stop
// served before it was notified claims the notification gate silently so no
// late arrival message can fire. Later stops are rejected with
// ErrStopNotCurrent.
func (s *Service) MarkServed(ctx context.Context, ref, stopID string) (Session, error) {
	at := s.opts.Now()
	session, err := s.store.MarkServed(ctx, ref, stopID, at)
	if err != nil {
		return Session{}, err
	}
	i := session.stopIndex(stopID)
	if i >= 0 && !session.Stops[i].Notified() {
		if _, err := s.store.MarkNotified(ctx, ref, stopID, at); err != nil {
			return Session{}, fmt.Errorf("claim notification: %w", err)
		}
		t := at
		session.Stops[i].NotifiedAt = &t
	}
	session, _, err = s.advancer.ConsiderAdvance(ctx, session)
	if err != nil {
		return Session{}, err
	}
	s.broadcast(session, nil)
	return session, nil
}

// Complete ends sharing at the driver's request.
func (s *Service) Complete(ctx context.Context, ref string) (Session, error) {
	session, err := s.store.Complete(ctx, ref, s.opts.Now())
	if err != nil {
		return Session{}, err
	}
	s.log.InfoContext(ctx, "tracking session completed", "session_id", ref)
	s.broadcast(session, nil)
	return session, nil
}

// Abort moves the session to error, e.g. when the booking is cancelled.
func (s *Service) Abort(ctx context.Context, ref string) (Session, error) {
	session, err := s.store.Fail(ctx, ref, s.opts.Now())
	if err != nil {
		return Session{}, err
	}
	s.log.WarnContext(ctx, "tracking session aborted", "session_id", ref)
	s.broadcast(session, nil)
	return session, nil
}

type StopView struct {
	ID         string     `json:"id"`
	Address    string     `json:"address"`
	Notified   bool       `json:"notified"`
	NotifiedAt *time.Time `json:"notified_at,omitempty"`
	Reached    bool       `json:"reached"`
	Served     bool       `json:"served"`
}

// Snapshot is the passenger-facing view of a session.
type Snapshot struct {
	TrackingRef      string     `json:"tracking_ref"`
	Status           Status     `json:"status"`
	CurrentStopIndex int        `json:"current_stop_index"`
	CurrentLocation  *Position  `json:"current_location,omitempty"`
	ETAMinutes       *int       `json:"eta_minutes,omitempty"`
	DistanceMeters   *float64   `json:"distance_meters,omitempty"`
	DriverName       string     `json:"driver_name"`
	PickupAddress    string     `json:"pickup_address"`
	DropoffAddress   string     `json:"dropoff_address"`
	Stops            []StopView `json:"stops"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Snapshot reads a session without side effects.
func (s *Service) Snapshot(ctx context.Context, ref string) (Snapshot, error) {
	session, err := s.visible(s.store.Get(ctx, ref))
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshotOf(session, nil), nil
}

// visible hides sessions past retention and applies lazy expiry.
func (s *Service) visible(session Session, err error) (Session, error) {
	if err != nil {
		return Session{}, err
	}
	now := s.opts.Now()
	if session.Status.Terminal() && session.EndedAt != nil && now.Sub(*session.EndedAt) > s.opts.RetentionWindow {
		return Session{}, ErrSessionNotFound
	}
	session.Status = session.effectiveStatus(now, s.opts.InactivityWindow)
	return session, nil
}

func (s *Service) snapshotOf(session Session, eta *ETAResult) Snapshot {
	snap := Snapshot{
		TrackingRef:      session.ID,
		Status:           session.Status,
		CurrentStopIndex: session.CurrentStopIndex,
		CurrentLocation:  session.LastPosition,
		DriverName:       session.DriverName,
		DropoffAddress:   session.DropoffAddress,
		Stops:            make([]StopView, 0, len(session.Stops)),
		UpdatedAt:        session.UpdatedAt,
	}
	for _, st := range session.Stops {
		snap.Stops = append(snap.Stops, StopView{
			ID:         st.ID,
			Address:    st.Address,
			Notified:   st.Notified(),
			NotifiedAt: st.NotifiedAt,
			Reached:    st.Reached(),
			Served:     st.Served(),
		})
	}
	if len(session.Stops) > 0 {
		snap.PickupAddress = session.Stops[session.CurrentStopIndex].Address
	}

	stop, ok := session.CurrentStop()
	if session.Status != StatusActive || !ok || session.LastPosition == nil {
		return snap
	}
	var e ETAResult
	if eta != nil && eta.StopID == stop.ID {
		e = *eta
	} else {
		e = s.estimator.EstimateLocal(session.LastPosition.Point(), stop, session.Recent)
	}
	minutes, meters := e.ETAMinutes, e.DistanceMeters
	snap.ETAMinutes = &minutes
	snap.DistanceMeters = &meters
	return snap
}

// BookingSnapshot is the authenticated booking-scoped view.
type BookingSnapshot struct {
	TrackingRef          string `json:"tracking_ref"`
	Status               Status `json:"status"`
	PickupAddress        string `json:"pickup_address"`
	DropoffAddress       string `json:"dropoff_address"`
	CustomerNotified5Min bool   `json:"customer_notified_5min"`
}

func (s *Service) BookingSnapshot(ctx context.Context, bookingRef string) (BookingSnapshot, error) {
	session, err := s.visible(s.store.FindByBooking(ctx, bookingRef))
	if err != nil {
		return BookingSnapshot{}, err
	}
	out := BookingSnapshot{
		TrackingRef:    session.ID,
		Status:         session.Status,
		DropoffAddress: session.DropoffAddress,
	}
	if len(session.Stops) > 0 {
		out.PickupAddress = session.Stops[0].Address
		out.CustomerNotified5Min = session.Stops[0].Notified()
	}
	return out, nil
}

type SweepResult struct {
	Expired []string
	Purged  int
}

// Sweep persists inactivity and deadline expiry and purges sessions past
// retention.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.opts.Now()
	expired, err := s.store.ExpireInactive(ctx, now.Add(-s.opts.InactivityWindow), now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("expire inactive: %w", err)
	}
	for _, id := range expired {
		if session, err := s.store.Get(ctx, id); err == nil {
			s.broadcast(session, nil)
		}
	}
	purged, err := s.store.Purge(ctx, now.Add(-s.opts.RetentionWindow))
	if err != nil {
		return SweepResult{Expired: expired}, fmt.Errorf("purge: %w", err)
	}
	if len(expired) > 0 || purged > 0 {
		s.log.InfoContext(ctx, "tracking sweep", "expired", len(expired), "purged", purged)
	}
	return SweepResult{Expired: expired, Purged: purged}, nil
}

func (s *Service) broadcast(session Session, eta *ETAResult) {
	if s.broadcaster == nil {
		return
	}
	payload, err := json.Marshal(s.snapshotOf(session, eta))
	if err != nil {
		s.log.Error("marshal snapshot", "session_id", session.ID, "error", err)
		return
	}
	s.broadcaster.Broadcast(session.ID, payload)
}
