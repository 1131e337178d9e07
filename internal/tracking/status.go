package tracking

import "fmt"

// Status is the lifecycle state of a tracking session. The zero value is
// not a valid status; sessions always carry one of the constants below.
type Status uint8

const (
	StatusPending Status = iota + 1
	StatusActive
	StatusCompleted
	StatusExpired
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusExpired:
		return "expired"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseStatus is the inverse of String.
func ParseStatus(v string) (Status, error) {
	switch v {
	case "pending":
		return StatusPending, nil
	case "active":
		return StatusActive, nil
	case "completed":
		return StatusCompleted, nil
	case "expired":
		return StatusExpired, nil
	case "error":
		return StatusError, nil
	default:
		return 0, fmt.Errorf("%w: unknown status %q", ErrValidation, v)
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusError:
		return true
	default:
		return false
	}
}

// AcceptsSamples reports whether location samples may be applied.
func (s Status) AcceptsSamples() bool {
	return s == StatusPending || s == StatusActive
}

// CanTransition enforces pending -> active -> {completed, expired, error}.
// A pending session may also end directly (driver never started sharing).
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusActive || to.Terminal()
	case StatusActive:
		return to.Terminal()
	default:
		return false
	}
}

func (s Status) MarshalText() ([]byte, error) {
	if s < StatusPending || s > StatusError {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
