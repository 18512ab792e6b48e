// Package store persists the deduplication record and per-feed poll
// counters in a local sqlite database. Both tables survive restarts; the
// in-memory lifecycle tracker deliberately does not (see the domain package).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/couchcryptid/incident-feed-relay/internal/domain"
)

// SeenRecord is one deduplication row: the first and most recent sighting
// of an identity, plus the raw snapshot captured on first encounter.
type SeenRecord struct {
	Identity    string
	FeedKind    string
	RawSnapshot string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	Delivered   bool
}

// FeedState carries the monotonic per-feed poll counters.
type FeedState struct {
	FeedKind            string    `json:"feed_kind"`
	PollCount           int64     `json:"poll_count"`
	RecordsFetchedTotal int64     `json:"records_fetched_total"`
	EventsSentTotal     int64     `json:"events_sent_total"`
	LastPollAt          time.Time `json:"last_poll_at"`
	LastWatermark       string    `json:"last_watermark,omitempty"`
}

// Seen is the durable identity store. All timestamps are kept as integer
// unix microseconds so retention cutoffs compare exactly.
type Seen struct {
	db     *sql.DB
	clock  clockwork.Clock
	logger *slog.Logger
}

// Open opens (creating if needed) the sqlite database at path and applies
// pending migrations. Pass a fake clock in tests; nil means real time.
func Open(path string, clk clockwork.Clock, logger *slog.Logger) (*Seen, error) {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open seen store: %w", err)
	}

	// One connection serializes writers; poller goroutines and the sweep
	// endpoint then cannot race each other inside sqlite.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Seen{db: db, clock: clk, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Seen) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable, for readiness checks.
func (s *Seen) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// HasSeen reports whether the identity has been recorded before.
func (s *Seen) HasSeen(ctx context.Context, identity string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM seen_incidents WHERE identity = ?`, identity).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query seen incident: %w", err)
	}
	return true, nil
}

// MarkSeen upserts the identity. A new identity is inserted with the raw
// snapshot and first_seen = last_seen = now; a re-encounter only refreshes
// last_seen and the delivered flag, never the original snapshot or
// first_seen. Delivered is sticky: once an event went out, a suppressed
// re-sighting cannot flip it back.
func (s *Seen) MarkSeen(ctx context.Context, identity, feedKind string, rec domain.Record, delivered bool) error {
	snapshot, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record snapshot: %w", err)
	}

	now := s.clock.Now().UTC().UnixMicro()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO seen_incidents (identity, feed_kind, raw_record, first_seen_us, last_seen_us, delivered)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			last_seen_us = excluded.last_seen_us,
			delivered = MAX(delivered, excluded.delivered)
	`, identity, feedKind, string(snapshot), now, now, boolToInt(delivered))
	if err != nil {
		return fmt.Errorf("mark incident seen: %w", err)
	}
	return nil
}

// Get returns the stored record for an identity, or nil when absent.
func (s *Seen) Get(ctx context.Context, identity string) (*SeenRecord, error) {
	var (
		rec             SeenRecord
		firstUS, lastUS int64
		delivered       int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT identity, feed_kind, raw_record, first_seen_us, last_seen_us, delivered
		FROM seen_incidents WHERE identity = ?
	`, identity).Scan(&rec.Identity, &rec.FeedKind, &rec.RawSnapshot, &firstUS, &lastUS, &delivered)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get seen incident: %w", err)
	}
	rec.FirstSeenAt = time.UnixMicro(firstUS).UTC()
	rec.LastSeenAt = time.UnixMicro(lastUS).UTC()
	rec.Delivered = delivered != 0
	return &rec, nil
}

// RecordPoll atomically bumps the feed's counters: poll count by one,
// fetched and sent totals by the given amounts. The row is created on the
// first call. A non-empty watermark replaces the stored one; empty keeps it.
func (s *Seen) RecordPoll(ctx context.Context, feedKind string, fetched, sent int, watermark string) error {
	now := s.clock.Now().UTC().UnixMicro()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feed_state (feed_kind, poll_count, records_fetched_total, events_sent_total, last_poll_us, last_watermark)
		VALUES (?, 1, ?, ?, ?, ?)
		ON CONFLICT(feed_kind) DO UPDATE SET
			poll_count = poll_count + 1,
			records_fetched_total = records_fetched_total + excluded.records_fetched_total,
			events_sent_total = events_sent_total + excluded.events_sent_total,
			last_poll_us = excluded.last_poll_us,
			last_watermark = CASE WHEN excluded.last_watermark = ''
				THEN last_watermark ELSE excluded.last_watermark END
	`, feedKind, fetched, sent, now, watermark)
	if err != nil {
		return fmt.Errorf("record poll for %s: %w", feedKind, err)
	}
	return nil
}

// Stats returns the feed's counters. A feed that has never polled gets a
// zero-valued state, not an error.
func (s *Seen) Stats(ctx context.Context, feedKind string) (FeedState, error) {
	var (
		state  FeedState
		lastUS int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT feed_kind, poll_count, records_fetched_total, events_sent_total, last_poll_us, last_watermark
		FROM feed_state WHERE feed_kind = ?
	`, feedKind).Scan(&state.FeedKind, &state.PollCount, &state.RecordsFetchedTotal,
		&state.EventsSentTotal, &lastUS, &state.LastWatermark)
	if err == sql.ErrNoRows {
		return FeedState{FeedKind: feedKind}, nil
	}
	if err != nil {
		return FeedState{}, fmt.Errorf("query feed state: %w", err)
	}
	if lastUS > 0 {
		state.LastPollAt = time.UnixMicro(lastUS).UTC()
	}
	return state, nil
}

// Sweep deletes seen records whose last sighting is strictly older than
// maxAge and returns how many were removed. A record last seen exactly at
// the cutoff survives. The cutoff is a duration subtraction, not calendar
// arithmetic, so month boundaries behave.
func (s *Seen) Sweep(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.clock.Now().UTC().Add(-maxAge).UnixMicro()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM seen_incidents WHERE last_seen_us < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep seen incidents: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep rows affected: %w", err)
	}
	if removed > 0 {
		s.logger.Info("swept old seen incidents", "removed", removed, "max_age", maxAge.String())
	}
	return removed, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
