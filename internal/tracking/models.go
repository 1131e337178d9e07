package tracking

import (
	"time"

	"backend-shuttletrack/internal/shared/geo"
)

// recentSampleLimit bounds the samples kept for observed speed.
const recentSampleLimit = 5

type Position struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Accuracy   float64   `json:"accuracy"`
	ObservedAt time.Time `json:"observed_at"`
}

func (p Position) Point() geo.Point {
	return geo.Point{Lat: p.Lat, Lng: p.Lng}
}

type Stop struct {
	ID            string     `json:"id"`
	Address       string     `json:"address"`
	Destination   geo.Point  `json:"destination"`
	ContactRef    string     `json:"contact_ref,omitempty"`
	NotifiedAt    *time.Time `json:"notified_at,omitempty"`
	ReachedAt     *time.Time `json:"reached_at,omitempty"`
	ServedAt      *time.Time `json:"served_at,omitempty"`
	DeliveryError string     `json:"delivery_error,omitempty"`
}

func (s Stop) Notified() bool { return s.NotifiedAt != nil }
func (s Stop) Reached() bool  { return s.ReachedAt != nil }
func (s Stop) Served() bool   { return s.ServedAt != nil }

// Session is one booking or shuttle run being tracked.
type Session struct {
	ID               string     `json:"id"`
	BookingRef       string     `json:"booking_ref"`
	DriverID         string     `json:"driver_id,omitempty"`
	DriverName       string     `json:"driver_name,omitempty"`
	DropoffAddress   string     `json:"dropoff_address,omitempty"`
	Status           Status     `json:"status"`
	Stops            []Stop     `json:"stops"`
	CurrentStopIndex int        `json:"current_stop_index"`
	LastPosition     *Position  `json:"last_position,omitempty"`
	LastSampleAt     *time.Time `json:"last_sample_at,omitempty"`
	Recent           []Position `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

// CurrentStop returns the stop the driver is heading to. It is false once the
// last stop has been reached.
func (s Session) CurrentStop() (Stop, bool) {
	if s.CurrentStopIndex < 0 || s.CurrentStopIndex >= len(s.Stops) {
		return Stop{}, false
	}
	stop := s.Stops[s.CurrentStopIndex]
	if stop.Reached() {
		return Stop{}, false
	}
	return stop, true
}

func (s Session) stopIndex(stopID string) int {
	for i, st := range s.Stops {
		if st.ID == stopID {
			return i
		}
	}
	return -1
}

// effectiveStatus is the status a reader should see at now. Sessions past
// their deadline or idle beyond the inactivity window read as expired even
// before the sweeper persists the transition.
func (s Session) effectiveStatus(now time.Time, inactivity time.Duration) Status {
	if s.Status.Terminal() {
		return s.Status
	}
	if !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt) {
		return StatusExpired
	}
	if s.Status == StatusActive && s.LastSampleAt != nil && inactivity > 0 && now.Sub(*s.LastSampleAt) > inactivity {
		return StatusExpired
	}
	return s.Status
}

func (s Session) clone() Session {
	out := s
	out.Stops = append([]Stop(nil), s.Stops...)
	out.Recent = append([]Position(nil), s.Recent...)
	if s.LastPosition != nil {
		p := *s.LastPosition
		out.LastPosition = &p
	}
	return out
}

// Sample is one position report from the driver's device.
type Sample struct {
	SessionID  string
	Lat        float64
	Lng        float64
	Accuracy   float64
	ObservedAt time.Time
	ReceivedAt time.Time
	// Suspect samples keep the session alive but do not move the driver.
	Suspect bool
}

func (s Sample) Position() Position {
	return Position{Lat: s.Lat, Lng: s.Lng, Accuracy: s.Accuracy, ObservedAt: s.ObservedAt}
}

// ETAResult is derived per evaluation and never stored.
type ETAResult struct {
	StopID         string    `json:"stop_id"`
	DistanceMeters float64   `json:"distance_meters"`
	ETAMinutes     int       `json:"eta_minutes"`
	Arrived        bool      `json:"arrived"`
	Source         string    `json:"source"`
	ComputedAt     time.Time `json:"computed_at"`
}

// Notification is handed to the messaging collaborator once per stop.
type Notification struct {
	SessionID  string    `json:"session_id"`
	BookingRef string    `json:"booking_ref"`
	StopID     string    `json:"stop_id"`
	ContactRef string    `json:"contact_ref"`
	Address    string    `json:"address"`
	DriverName string    `json:"driver_name"`
	ETAMinutes int       `json:"eta_minutes"`
	Message    string    `json:"message"`
	NotifiedAt time.Time `json:"notified_at"`
}

// RunRef is the booking reference used for multi-stop shuttle runs.
func RunRef(driverID, date, departureTime string) string {
	return "run:" + driverID + ":" + date + ":" + departureTime
}
