package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Notifier is the external messaging channel (message, SMS or push).
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Decision is the dispatcher's verdict for one stop.
type Decision struct {
	StopID       string    `json:"stop_id"`
	ShouldNotify bool      `json:"should_notify"`
	Fired        bool      `json:"fired"`
	ETA          ETAResult `json:"eta"`
}

// Dispatcher fires the one-time "arriving soon" notification. Idempotency
// lives in Store.MarkNotified, so Evaluate may run from any number of
// concurrent paths.
type Dispatcher struct {
	store            Store
	notifier         Notifier
	thresholdMinutes int
	log              *slog.Logger
	now              func() time.Time
}

func NewDispatcher(store Store, notifier Notifier, thresholdMinutes int, log *slog.Logger) *Dispatcher {
	if thresholdMinutes <= 0 {
		thresholdMinutes = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{store: store, notifier: notifier, thresholdMinutes: thresholdMinutes, log: log, now: time.Now}
}

// Evaluate considers the current stop only, using eta computed for it. It
// returns the session with the stop's notified state reflected locally.
func (d *Dispatcher) Evaluate(ctx context.Context, s Session, eta ETAResult) (Session, []Decision, error) {
	if s.Status != StatusActive {
		return s, nil, nil
	}
	stop, ok := s.CurrentStop()
	if !ok || stop.ID != eta.StopID {
		return s, nil, nil
	}

	decision := Decision{StopID: stop.ID, ETA: eta}
	if stop.Notified() || eta.ETAMinutes > d.thresholdMinutes {
		return s, []Decision{decision}, nil
	}
	decision.ShouldNotify = true

	at := d.now()
	won, err := d.store.MarkNotified(ctx, s.ID, stop.ID, at)
	if err != nil {
		return s, nil, fmt.Errorf("mark notified: %w", err)
	}
	s = s.clone()
	s.Stops[s.CurrentStopIndex].NotifiedAt = &at
	if !won {
		return s, []Decision{decision}, nil
	}
	decision.Fired = true

	n := Notification{
		SessionID:  s.ID,
		BookingRef: s.BookingRef,
		StopID:     stop.ID,
		ContactRef: stop.ContactRef,
		Address:    stop.Address,
		DriverName: s.DriverName,
		ETAMinutes: eta.ETAMinutes,
		NotifiedAt: at,
	}
	n.Message = ArrivalMessage(n)
	d.deliver(ctx, n)

	return s, []Decision{decision}, nil
}

// deliver sends n and records, without rolling back, any failure.
func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Notify(ctx, n); err != nil {
		err = fmt.Errorf("%w: %v", ErrNotificationDelivery, err)
		d.log.ErrorContext(ctx, "notification delivery failed",
			"session_id", n.SessionID, "stop_id", n.StopID, "error", err)
		if recErr := d.store.RecordDeliveryFailure(ctx, n.SessionID, n.StopID, err.Error()); recErr != nil {
			d.log.ErrorContext(ctx, "record delivery failure", "session_id", n.SessionID, "error", recErr)
		}
		return
	}
	d.log.InfoContext(ctx, "arrival notification sent",
		"session_id", n.SessionID, "stop_id", n.StopID, "eta_minutes", n.ETAMinutes)
}

// ArrivalMessage is the templated text sent to the passenger.
func ArrivalMessage(n Notification) string {
	driver := n.DriverName
	if driver == "" {
		driver = "Your driver"
	}
	if n.ETAMinutes <= 0 {
		return fmt.Sprintf("%s has arrived at %s.", driver, n.Address)
	}
	unit := "minutes"
	if n.ETAMinutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("%s is about %d %s away from %s.", driver, n.ETAMinutes, unit, n.Address)
}
