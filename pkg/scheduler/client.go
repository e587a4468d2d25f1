// Package scheduler is the read-only HTTP client for the external job
// scheduler. It fetches status snapshots and accounting records for
// dispatched jobs; submission is the job runner's business, not ours.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/milaops/jobrunner/pkg/jobstatus"
)

const requestTimeout = 15 * time.Second

// Compile-time interface check.
var _ jobstatus.Fetcher = (*Client)(nil)

// Client talks to the scheduler's REST API.
type Client struct {
	log     logrus.FieldLogger
	baseURL string
	http    *http.Client
}

// NewClient creates a scheduler client for the given base URL.
func NewClient(log logrus.FieldLogger, baseURL string) *Client {
	return &Client{
		log:     log.WithField("component", "scheduler"),
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// JobStatus fetches the current status snapshot for a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (jobstatus.Snapshot, error) {
	var snap jobstatus.Snapshot
	if err := c.getJSON(ctx, "/jobs/"+url.PathEscape(jobID)+"/status", &snap); err != nil {
		return jobstatus.Snapshot{}, err
	}

	return snap, nil
}

// Accounting fetches the scheduler's accounting record for a job. The
// record is passed through opaquely; callers pick the paths they need.
func (c *Client) Accounting(ctx context.Context, jobID string) (map[string]any, error) {
	var record map[string]any
	if err := c.getJSON(ctx, "/jobs/"+url.PathEscape(jobID)+"/accounting", &record); err != nil {
		return nil, err
	}

	return record, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", path, err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		return fmt.Errorf("fetching %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}

	return nil
}
