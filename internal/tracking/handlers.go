package tracking

import (
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

type stopRequest struct {
	ID         string   `json:"id"`
	Address    string   `json:"address" validate:"required"`
	Lat        *float64 `json:"lat" validate:"required,latitude"`
	Lng        *float64 `json:"lng" validate:"required,longitude"`
	ContactRef string   `json:"contact_ref"`
}

type createRequest struct {
	BookingRef     string        `json:"booking_ref"`
	DriverID       string        `json:"driver_id"`
	DriverName     string        `json:"driver_name"`
	Date           string        `json:"date"`
	DepartureTime  string        `json:"departure_time"`
	DropoffAddress string        `json:"dropoff_address"`
	Stops          []stopRequest `json:"stops" validate:"required,min=1,dive"`
}

type locationRequest struct {
	Lat        *float64  `json:"lat" validate:"required,latitude"`
	Lng        *float64  `json:"lng" validate:"required,longitude"`
	Accuracy   float64   `json:"accuracy" validate:"gte=0"`
	ObservedAt time.Time `json:"observed_at"`
}

type runLocationRequest struct {
	DriverID        string    `json:"driver_id" validate:"required"`
	Date            string    `json:"date" validate:"required"`
	DepartureTime   string    `json:"departure_time" validate:"required"`
	Lat             *float64  `json:"lat" validate:"required,latitude"`
	Lng             *float64  `json:"lng" validate:"required,longitude"`
	Accuracy        float64   `json:"accuracy" validate:"gte=0"`
	ObservedAt      time.Time `json:"observed_at"`
	NotifiedPickups []string  `json:"notified_pickups"`
}

// RegisterRoutes mounts the tracking API. drivers guards the driver-facing
// writes; dispatchers guards session lifecycle calls from the booking system.
func RegisterRoutes(r fiber.Router, svc *Service, drivers, dispatchers fiber.Handler) {
	r.Post("/sessions", dispatchers, func(c *fiber.Ctx) error {
		var req createRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		in := CreateInput{
			BookingRef:     req.BookingRef,
			DriverID:       req.DriverID,
			DriverName:     req.DriverName,
			Date:           req.Date,
			DepartureTime:  req.DepartureTime,
			DropoffAddress: req.DropoffAddress,
		}
		for _, st := range req.Stops {
			in.Stops = append(in.Stops, StopInput{ID: st.ID, Address: st.Address, Lat: *st.Lat, Lng: *st.Lng, ContactRef: st.ContactRef})
		}
		session, err := svc.Create(c.UserContext(), in)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"tracking_ref": session.ID,
			"status":       session.Status,
			"session":      session,
		})
	})

	r.Get("/sessions/:ref", func(c *fiber.Ctx) error {
		snap, err := svc.Snapshot(c.UserContext(), c.Params("ref"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(snap)
	})

	r.Post("/sessions/:ref/location", drivers, func(c *fiber.Ctx) error {
		var req locationRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		res, err := svc.PushLocation(c.UserContext(), c.Params("ref"), LocationInput{
			Lat: *req.Lat, Lng: *req.Lng, Accuracy: req.Accuracy, ObservedAt: req.ObservedAt,
		})
		if errors.Is(err, ErrSessionInactive) {
			return c.JSON(res)
		}
		if err != nil {
			return httpError(err)
		}
		return c.JSON(res)
	})

	r.Post("/sessions/:ref/stops/:stopId/served", drivers, func(c *fiber.Ctx) error {
		session, err := svc.MarkServed(c.UserContext(), c.Params("ref"), c.Params("stopId"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(session)
	})

	r.Post("/sessions/:ref/complete", drivers, func(c *fiber.Ctx) error {
		session, err := svc.Complete(c.UserContext(), c.Params("ref"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(session)
	})

	r.Post("/sessions/:ref/abort", dispatchers, func(c *fiber.Ctx) error {
		session, err := svc.Abort(c.UserContext(), c.Params("ref"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(session)
	})

	r.Post("/runs/location", drivers, func(c *fiber.Ctx) error {
		var req runLocationRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		res, err := svc.PushRunLocation(c.UserContext(), RunLocationInput{
			DriverID:        req.DriverID,
			Date:            req.Date,
			DepartureTime:   req.DepartureTime,
			Lat:             *req.Lat,
			Lng:             *req.Lng,
			Accuracy:        req.Accuracy,
			ObservedAt:      req.ObservedAt,
			NotifiedPickups: req.NotifiedPickups,
		})
		if errors.Is(err, ErrSessionInactive) {
			return c.JSON(res)
		}
		if err != nil {
			return httpError(err)
		}
		return c.JSON(res)
	})

	r.Get("/bookings/:bookingId", dispatchers, func(c *fiber.Ctx) error {
		snap, err := svc.BookingSnapshot(c.UserContext(), c.Params("bookingId"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(snap)
	})
}

func bind(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrStopNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, ErrSessionInactive), errors.Is(err, ErrStopNotCurrent):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		slog.Error("tracking request failed", "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "internal error")
	}
}
