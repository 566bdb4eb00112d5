package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Healthchecks pings a Healthchecks.io-style endpoint. One base URL, four
// logical calls: start (/start), per-database log (/log), final success
// (bare URL) and final failure (/fail). Every ping carries the run id so
// the monitor can correlate start and finish.
type Healthchecks struct {
	baseURL string
	client  *http.Client
}

func NewHealthchecks(baseURL string) *Healthchecks {
	return &Healthchecks{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *Healthchecks) Start(ctx context.Context, runID string) error {
	return h.ping(ctx, http.MethodGet, "/start", runID, "")
}

func (h *Healthchecks) Log(ctx context.Context, runID, message string) error {
	return h.ping(ctx, http.MethodPost, "/log", runID, message)
}

func (h *Healthchecks) Finish(ctx context.Context, runID string, success bool, message string) error {
	if success {
		return h.ping(ctx, http.MethodGet, "", runID, "")
	}
	return h.ping(ctx, http.MethodPost, "/fail", runID, message)
}

func (h *Healthchecks) ping(ctx context.Context, method, suffix, runID, message string) error {
	endpoint := h.baseURL + suffix
	if runID != "" {
		endpoint += "?" + url.Values{"rid": {runID}}.Encode()
	}

	var body io.Reader
	if message != "" {
		body = strings.NewReader(message)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build healthcheck request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ping %s: received non-success status: %s", endpoint, resp.Status)
	}
	return nil
}

// Nop is used when no healthcheck URL is configured.
type Nop struct{}

func (Nop) Start(context.Context, string) error                { return nil }
func (Nop) Log(context.Context, string, string) error          { return nil }
func (Nop) Finish(context.Context, string, bool, string) error { return nil }
