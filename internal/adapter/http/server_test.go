package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/incident-feed-relay/internal/adapter/http"
	"github.com/couchcryptid/incident-feed-relay/internal/domain"
	"github.com/couchcryptid/incident-feed-relay/internal/store"
)

type mockStore struct {
	pingErr     error
	sweepReturn int64
	sweepMaxAge time.Duration
}

func (m *mockStore) Ping(_ context.Context) error { return m.pingErr }

func (m *mockStore) Stats(_ context.Context, feedKind string) (store.FeedState, error) {
	return store.FeedState{FeedKind: feedKind, PollCount: 3, EventsSentTotal: 5}, nil
}

func (m *mockStore) Sweep(_ context.Context, maxAge time.Duration) (int64, error) {
	m.sweepMaxAge = maxAge
	return m.sweepReturn, nil
}

type mockSender struct {
	running bool
	depth   int
}

func (m *mockSender) Running() bool   { return m.running }
func (m *mockSender) QueueDepth() int { return m.depth }

type mockFeed struct {
	kind    string
	running bool
	tracker *domain.Tracker
}

func (m *mockFeed) Kind() string             { return m.kind }
func (m *mockFeed) Running() bool            { return m.running }
func (m *mockFeed) Tracker() *domain.Tracker { return m.tracker }

func newTestServer(st *mockStore, sender *mockSender, feeds ...*mockFeed) *httpadapter.Server {
	fs := make([]httpadapter.FeedStatus, 0, len(feeds))
	for _, f := range feeds {
		if f.tracker == nil {
			f.tracker = domain.NewTracker(domain.TrafficFeed("https://example.test", "dx9v-zd7x"), nil)
		}
		fs = append(fs, f)
	}
	return httpadapter.NewServer(":0", st, sender, fs, 7*24*time.Hour, "test", slog.Default())
}

func doRequest(srv *httpadapter.Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(&mockStore{}, &mockSender{running: true})

	rec := doRequest(srv, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzAllComponentsUp(t *testing.T) {
	srv := newTestServer(&mockStore{}, &mockSender{running: true},
		&mockFeed{kind: "fire", running: true},
		&mockFeed{kind: "traffic", running: true},
	)

	rec := doRequest(srv, http.MethodGet, "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, "ok", body.Checks["store"])
	assert.Equal(t, "ok", body.Checks["poller_fire"])
}

func TestReadyzReportsEachFailedComponent(t *testing.T) {
	srv := newTestServer(&mockStore{pingErr: errors.New("database locked")},
		&mockSender{running: false},
		&mockFeed{kind: "traffic", running: true},
	)

	rec := doRequest(srv, http.MethodGet, "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body.Status)
	assert.Equal(t, "database locked", body.Checks["store"])
	assert.Equal(t, "not running", body.Checks["sender"])
	assert.Equal(t, "ok", body.Checks["poller_traffic"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(&mockStore{}, &mockSender{running: true})

	rec := doRequest(srv, http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStatsAggregatesComponents(t *testing.T) {
	srv := newTestServer(&mockStore{}, &mockSender{running: true, depth: 2},
		&mockFeed{kind: "fire", running: true})

	rec := doRequest(srv, http.MethodGet, "/stats")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Feeds map[string]struct {
			Polling store.FeedState `json:"polling"`
		} `json:"feeds"`
		Delivery struct {
			Running    bool `json:"running"`
			QueueDepth int  `json:"queue_depth"`
		} `json:"delivery"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(3), body.Feeds["fire"].Polling.PollCount)
	assert.True(t, body.Delivery.Running)
	assert.Equal(t, 2, body.Delivery.QueueDepth)
}

func TestCleanupUsesConfiguredRetention(t *testing.T) {
	st := &mockStore{sweepReturn: 4}
	srv := newTestServer(st, &mockSender{running: true})

	rec := doRequest(srv, http.MethodPost, "/cleanup")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7*24*time.Hour, st.sweepMaxAge)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(4), body["removed"])
}

func TestCleanupDaysOverride(t *testing.T) {
	st := &mockStore{}
	srv := newTestServer(st, &mockSender{running: true})

	rec := doRequest(srv, http.MethodPost, "/cleanup?days=2")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 48*time.Hour, st.sweepMaxAge)

	rec = doRequest(srv, http.MethodPost, "/cleanup?days=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
