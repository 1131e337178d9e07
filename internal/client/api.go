package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"backend-shuttletrack/internal/tracking"
)

// API talks to the tracking HTTP surface.
type API struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewAPI(baseURL, token string) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// PushLocation reports one sample. A soft rejection from the server comes
// back as tracking.ErrSessionInactive.
func (a *API) PushLocation(ctx context.Context, ref string, loc tracking.LocationInput) (tracking.PushResult, error) {
	var res tracking.PushResult
	if err := a.do(ctx, http.MethodPost, "/tracking/sessions/"+url.PathEscape(ref)+"/location", loc, &res); err != nil {
		return tracking.PushResult{}, err
	}
	if !res.Accepted && res.Reason == "session_inactive" {
		return res, tracking.ErrSessionInactive
	}
	return res, nil
}

func (a *API) Snapshot(ctx context.Context, ref string) (tracking.Snapshot, error) {
	var snap tracking.Snapshot
	err := a.do(ctx, http.MethodGet, "/tracking/sessions/"+url.PathEscape(ref), nil, &snap)
	return snap, err
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return tracking.ErrSessionNotFound
	case resp.StatusCode == http.StatusConflict:
		return tracking.ErrSessionInactive
	case resp.StatusCode >= 300:
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
