// Package soda fetches incident records from Socrata Open Data API (SODA)
// datasets using a trailing-window query on the feed's watermark column.
package soda

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/incident-feed-relay/internal/domain"
)

// sinceLayout is the SODA floating-timestamp format used in $where clauses.
const sinceLayout = "2006-01-02T15:04:05.000"

// Client queries SODA datasets. One client serves every feed; the per-feed
// specifics travel in the FeedSpec.
type Client struct {
	httpClient *http.Client
	appToken   string
	limit      int
	lookback   time.Duration
	clock      clockwork.Clock
}

// NewClient builds a SODA client. appToken may be empty, trading for a lower
// anonymous rate limit. Pass a fake clock in tests; nil means real time.
func NewClient(appToken string, limit int, lookback time.Duration, clk clockwork.Clock) *Client {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		appToken:   appToken,
		limit:      limit,
		lookback:   lookback,
		clock:      clk,
	}
}

// Fetch returns the records whose watermark falls inside the trailing
// lookback window, newest first. The window overlaps previous polls on
// purpose; deduplication happens downstream.
func (c *Client) Fetch(ctx context.Context, spec domain.FeedSpec) ([]domain.Record, error) {
	since := c.clock.Now().UTC().Add(-c.lookback).Format(sinceLayout)

	query := url.Values{}
	query.Set("$where", fmt.Sprintf("%s >= '%s'", spec.WatermarkField, since))
	query.Set("$order", spec.WatermarkField+" DESC")
	query.Set("$limit", fmt.Sprintf("%d", c.limit))

	endpoint := fmt.Sprintf("%s/%s.json?%s", spec.BaseURL, spec.DatasetID, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s feed request: %w", spec.Kind, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.appToken != "" {
		req.Header.Set("X-App-Token", c.appToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s feed: %w", spec.Kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch %s feed: unexpected status %d: %s",
			spec.Kind, resp.StatusCode, string(body))
	}

	var records []domain.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode %s feed response: %w", spec.Kind, err)
	}
	return records, nil
}
