package geo

import (
	"math"
	"testing"
)

func TestHaversineKm(t *testing.T) {
	// Jakarta (-6.2, 106.816) to Bandung (-6.9175, 107.6191) ~ 115-120 km
	d := HaversineKm(-6.2, 106.816, -6.9175, 107.6191)
	if d < 100 || d > 140 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestDistanceMetersSamePoint(t *testing.T) {
	p := Point{Lat: 51.5, Lng: -0.12}
	if d := DistanceMeters(p, p); d != 0 {
		t.Fatalf("expected zero distance, got %v", d)
	}
}

func TestOffsetRoundTrip(t *testing.T) {
	dest := Point{Lat: -6.2, Lng: 106.8}
	for _, m := range []float64{40, 400, 3300, 10000} {
		got := DistanceMeters(Offset(dest, m), dest)
		if math.Abs(got-m) > 0.5 {
			t.Fatalf("offset %v: got distance %v", m, got)
		}
	}
}

func TestPointValid(t *testing.T) {
	if !(Point{Lat: 10, Lng: 20}).Valid() {
		t.Fatalf("expected valid point")
	}
	if (Point{Lat: 91, Lng: 0}).Valid() || (Point{Lat: 0, Lng: 181}).Valid() || (Point{Lat: math.NaN()}).Valid() {
		t.Fatalf("expected invalid point")
	}
}
