package store_test

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/incident-feed-relay/internal/domain"
	"github.com/couchcryptid/incident-feed-relay/internal/store"
)

func openTestStore(t *testing.T, clk clockwork.Clock) *store.Seen {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seen.db")
	s, err := store.Open(path, clk, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSeen_DedupRoundTrip(t *testing.T) {
	ctx := context.Background()
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	s := openTestStore(t, clk)

	rec := domain.Record{"traffic_report_id": "T1", "issue_reported": "CRASH"}

	seen, err := s.HasSeen(ctx, "traffic.T1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.MarkSeen(ctx, "traffic.T1", "traffic", rec, true))

	seen, err = s.HasSeen(ctx, "traffic.T1")
	require.NoError(t, err)
	assert.True(t, seen)

	// Re-marking keeps it seen.
	require.NoError(t, s.MarkSeen(ctx, "traffic.T1", "traffic", rec, true))
	seen, err = s.HasSeen(ctx, "traffic.T1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestSeen_MarkSeenPreservesFirstEncounter(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	clk := clockwork.NewFakeClockAt(start)
	s := openTestStore(t, clk)

	original := domain.Record{"traffic_report_id": "T1", "issue_reported": "CRASH"}
	require.NoError(t, s.MarkSeen(ctx, "traffic.T1", "traffic", original, false))

	clk.Advance(5 * time.Minute)

	updated := domain.Record{"traffic_report_id": "T1", "issue_reported": "COLLISION"}
	require.NoError(t, s.MarkSeen(ctx, "traffic.T1", "traffic", updated, true))

	got, err := s.Get(ctx, "traffic.T1")
	require.NoError(t, err)
	require.NotNil(t, got)

	// first_seen and the original snapshot survive the update; last_seen
	// and delivered move.
	assert.Equal(t, start, got.FirstSeenAt)
	assert.Equal(t, start.Add(5*time.Minute), got.LastSeenAt)
	assert.True(t, got.Delivered)
	assert.Contains(t, got.RawSnapshot, "CRASH")
	assert.NotContains(t, got.RawSnapshot, "COLLISION")
}

func TestSeen_DeliveredFlagIsSticky(t *testing.T) {
	ctx := context.Background()
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	s := openTestStore(t, clk)

	rec := domain.Record{"traffic_report_id": "T1"}
	require.NoError(t, s.MarkSeen(ctx, "traffic.T1", "traffic", rec, true))

	// A suppressed re-sighting refreshes last_seen without flipping
	// delivered back off.
	clk.Advance(time.Minute)
	require.NoError(t, s.MarkSeen(ctx, "traffic.T1", "traffic", rec, false))

	got, err := s.Get(ctx, "traffic.T1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Delivered)
	assert.Equal(t, clk.Now().UTC(), got.LastSeenAt)
}

func TestSeen_RecordPoll(t *testing.T) {
	ctx := context.Background()
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	s := openTestStore(t, clk)

	require.NoError(t, s.RecordPoll(ctx, "fire", 10, 7, "2026-03-14T11:59:00.000"))
	require.NoError(t, s.RecordPoll(ctx, "fire", 3, 2, ""))

	state, err := s.Stats(ctx, "fire")
	require.NoError(t, err)

	assert.Equal(t, int64(2), state.PollCount)
	assert.Equal(t, int64(13), state.RecordsFetchedTotal)
	assert.Equal(t, int64(9), state.EventsSentTotal)
	// Empty watermark keeps the previous one.
	assert.Equal(t, "2026-03-14T11:59:00.000", state.LastWatermark)
	assert.Equal(t, clk.Now().UTC(), state.LastPollAt)
}

func TestSeen_StatsUnknownFeed(t *testing.T) {
	s := openTestStore(t, clockwork.NewFakeClock())

	state, err := s.Stats(context.Background(), "fire")
	require.NoError(t, err)

	assert.Equal(t, "fire", state.FeedKind)
	assert.Zero(t, state.PollCount)
	assert.True(t, state.LastPollAt.IsZero())
}

func TestSeen_SweepBoundary(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	clk := clockwork.NewFakeClockAt(start)
	s := openTestStore(t, clk)

	rec := domain.Record{"issue_reported": "CRASH"}

	// Last seen one microsecond before the eventual cutoff: swept.
	require.NoError(t, s.MarkSeen(ctx, "traffic.older", "traffic", rec, true))

	clk.Advance(time.Microsecond)
	// Last seen exactly at the cutoff: survives.
	require.NoError(t, s.MarkSeen(ctx, "traffic.boundary", "traffic", rec, true))

	clk.Advance(7 * 24 * time.Hour)
	removed, err := s.Sweep(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	seen, err := s.HasSeen(ctx, "traffic.older")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = s.HasSeen(ctx, "traffic.boundary")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestSeen_ReopenExistingDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seen.db")

	s, err := store.Open(path, clockwork.NewFakeClock(), slog.Default())
	require.NoError(t, err)
	require.NoError(t, s.MarkSeen(ctx, "fire.F1", "fire", domain.Record{"incident_number": "F1"}, true))
	require.NoError(t, s.Close())

	// Reopening applies no migrations but keeps the data.
	s, err = store.Open(path, clockwork.NewFakeClock(), slog.Default())
	require.NoError(t, err)
	defer s.Close()

	seen, err := s.HasSeen(ctx, "fire.F1")
	require.NoError(t, err)
	assert.True(t, seen)
}
