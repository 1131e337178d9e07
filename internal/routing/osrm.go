package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"backend-shuttletrack/internal/shared/geo"
	"backend-shuttletrack/internal/tracking"
)

// Client queries an OSRM-compatible /route/v1/driving endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

func (c *Client) Route(ctx context.Context, from, to geo.Point) (tracking.Route, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=false", c.baseURL, from.Lng, from.Lat, to.Lng, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return tracking.Route{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return tracking.Route{}, fmt.Errorf("%w: %v", tracking.ErrEstimatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tracking.Route{}, fmt.Errorf("%w: routing status %d", tracking.ErrEstimatorUnavailable, resp.StatusCode)
	}
	var body osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return tracking.Route{}, fmt.Errorf("%w: decode: %v", tracking.ErrEstimatorUnavailable, err)
	}
	if body.Code != "Ok" || len(body.Routes) == 0 {
		return tracking.Route{}, fmt.Errorf("%w: no route (%s)", tracking.ErrEstimatorUnavailable, body.Code)
	}
	r := body.Routes[0]
	return tracking.Route{
		DistanceMeters: r.Distance,
		Duration:       time.Duration(r.Duration * float64(time.Second)),
	}, nil
}
