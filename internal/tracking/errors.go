package tracking

import "errors"

var (
	// ErrSessionNotFound is returned for unknown or purged tracking references.
	ErrSessionNotFound = errors.New("tracking session not found")

	// ErrSessionInactive is returned when a session no longer accepts writes.
	// Drivers receiving it should stop their reporting loops.
	ErrSessionInactive = errors.New("tracking session inactive")

	ErrStopNotFound = errors.New("stop not found")

	// ErrStopNotCurrent rejects writes aimed at a stop other than the one the
	// driver is heading to.
	ErrStopNotCurrent = errors.New("stop is not the current stop")

	ErrValidation = errors.New("validation error")

	// ErrEstimatorUnavailable wraps routing provider failures. The estimator
	// recovers from it locally and never surfaces it to callers.
	ErrEstimatorUnavailable = errors.New("estimator unavailable")

	// ErrNotificationDelivery wraps messaging channel failures. The stop stays
	// notified; the failure is only recorded.
	ErrNotificationDelivery = errors.New("notification delivery failed")
)
