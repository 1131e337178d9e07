package routing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"backend-shuttletrack/internal/shared/geo"
	"backend-shuttletrack/internal/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	from = geo.Point{Lat: -6.2, Lng: 106.8}
	to   = geo.Point{Lat: -6.25, Lng: 106.85}
)

func TestClientRoute(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"distance":7421.5,"duration":612}]}`))
	}))
	defer srv.Close()

	r, err := NewClient(srv.URL+"/", time.Second).Route(context.Background(), from, to)
	require.NoError(t, err)
	assert.InDelta(t, 7421.5, r.DistanceMeters, 0.01)
	assert.Equal(t, 612*time.Second, r.Duration)
	assert.True(t, strings.HasPrefix(gotPath, "/route/v1/driving/106.800000,-6.200000;"), gotPath)
}

func TestClientRouteFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) },
		"body":   func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{`)) },
		"noroute": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"code":"NoRoute","routes":[]}`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			_, err := NewClient(srv.URL, time.Second).Route(context.Background(), from, to)
			assert.ErrorIs(t, err, tracking.ErrEstimatorUnavailable)
		})
	}
}

func TestClientRouteUnreachable(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1", 100*time.Millisecond).Route(context.Background(), from, to)
	assert.ErrorIs(t, err, tracking.ErrEstimatorUnavailable)
}
