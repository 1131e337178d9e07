package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"backend-shuttletrack/internal/shared/geo"
)

const (
	SourceHaversine = "haversine"
	SourceRouting   = "routing"

	// minObservedWindow is the shortest sample span trusted for observed speed.
	minObservedWindow = 20 * time.Second
)

// Route is what a directions provider returns for one leg.
type Route struct {
	DistanceMeters float64       `json:"distance_meters"`
	Duration       time.Duration `json:"duration"`
}

// RouteProvider is an external geocoding/directions engine.
type RouteProvider interface {
	Route(ctx context.Context, from, to geo.Point) (Route, error)
}

type EstimatorConfig struct {
	AssumedSpeedKmh float64
	MinSpeedKmh     float64
	ArrivalRadiusM  float64
}

func (c EstimatorConfig) withDefaults() EstimatorConfig {
	if c.AssumedSpeedKmh <= 0 {
		c.AssumedSpeedKmh = 50
	}
	if c.MinSpeedKmh <= 0 {
		c.MinSpeedKmh = 5
	}
	if c.ArrivalRadiusM <= 0 {
		c.ArrivalRadiusM = 50
	}
	return c
}

// Estimator turns a driver position and a destination into an ETA. The
// haversine path always works; a RouteProvider, when set, refines it.
type Estimator struct {
	cfg      EstimatorConfig
	provider RouteProvider
	log      *slog.Logger
	now      func() time.Time
}

func NewEstimator(cfg EstimatorConfig, provider RouteProvider, log *slog.Logger) *Estimator {
	if log == nil {
		log = slog.Default()
	}
	return &Estimator{cfg: cfg.withDefaults(), provider: provider, log: log, now: time.Now}
}

// Estimate computes the ETA from current to stop, consulting the route
// provider and falling back to haversine when it fails.
func (e *Estimator) Estimate(ctx context.Context, current geo.Point, stop Stop, recent []Position) ETAResult {
	res := e.local(current, stop, recent)
	if res.Arrived || e.provider == nil {
		return res
	}

	route, err := e.provider.Route(ctx, current, stop.Destination)
	if err != nil {
		if !errors.Is(err, ErrEstimatorUnavailable) {
			err = fmt.Errorf("%w: %v", ErrEstimatorUnavailable, err)
		}
		e.log.WarnContext(ctx, "routing fallback to haversine", "stop_id", stop.ID, "error", err)
		return res
	}
	if route.Duration < 0 {
		return res
	}
	if route.DistanceMeters > 0 {
		res.DistanceMeters = route.DistanceMeters
	}
	res.ETAMinutes = clampMinutes(route.Duration.Minutes())
	res.Source = SourceRouting
	return res
}

// EstimateLocal never calls out; the read path uses it.
func (e *Estimator) EstimateLocal(current geo.Point, stop Stop, recent []Position) ETAResult {
	return e.local(current, stop, recent)
}

func (e *Estimator) local(current geo.Point, stop Stop, recent []Position) ETAResult {
	distance := geo.DistanceMeters(current, stop.Destination)
	res := ETAResult{
		StopID:         stop.ID,
		DistanceMeters: distance,
		Source:         SourceHaversine,
		ComputedAt:     e.now(),
	}
	if distance <= e.cfg.ArrivalRadiusM {
		res.Arrived = true
		return res
	}

	speed := e.cfg.AssumedSpeedKmh
	if observed, ok := ObservedSpeedKmh(recent); ok {
		speed = observed
	}
	speed = math.Max(speed, e.cfg.MinSpeedKmh)

	res.ETAMinutes = clampMinutes(distance / 1000 / speed * 60)
	return res
}

// ObservedSpeedKmh is the average speed along recent samples, ordered oldest
// first. It is false when the samples span too short a window to trust.
func ObservedSpeedKmh(recent []Position) (float64, bool) {
	if len(recent) < 2 {
		return 0, false
	}
	elapsed := recent[len(recent)-1].ObservedAt.Sub(recent[0].ObservedAt)
	if elapsed < minObservedWindow {
		return 0, false
	}
	var meters float64
	for i := 1; i < len(recent); i++ {
		meters += geo.DistanceMeters(recent[i-1].Point(), recent[i].Point())
	}
	return meters / elapsed.Seconds() * 3.6, true
}

// roundMinutes rounds half up and never goes below zero.
func roundMinutes(m float64) int {
	if m <= 0 || math.IsNaN(m) {
		return 0
	}
	return int(math.Floor(m + 0.5))
}

// clampMinutes is roundMinutes for a driver outside the arrival radius, who
// is never reported as zero minutes away.
func clampMinutes(m float64) int {
	if r := roundMinutes(m); r > 0 {
		return r
	}
	return 1
}
