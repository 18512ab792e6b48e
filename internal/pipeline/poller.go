// Package pipeline orchestrates the poll cycle for one feed: fetch, validate,
// deduplicate, encode, enqueue, and track lifecycle transitions.
package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/incident-feed-relay/internal/domain"
	"github.com/couchcryptid/incident-feed-relay/internal/observability"
)

// Fetcher retrieves the feed's current records.
type Fetcher interface {
	Fetch(ctx context.Context, spec domain.FeedSpec) ([]domain.Record, error)
}

// EventSink accepts encoded payloads for delivery. Enqueue reports false
// when the sink is not accepting work; the poller logs and moves on.
type EventSink interface {
	Enqueue(payload []byte) bool
}

// SeenStore is the durable dedup and counter store the poller consults.
type SeenStore interface {
	HasSeen(ctx context.Context, identity string) (bool, error)
	MarkSeen(ctx context.Context, identity, feedKind string, rec domain.Record, delivered bool) error
	RecordPoll(ctx context.Context, feedKind string, fetched, sent int, watermark string) error
}

// Poller drives one feed. Each feed gets its own Poller and Tracker; they
// share the sink and the store.
type Poller struct {
	spec    domain.FeedSpec
	fetcher Fetcher
	sink    EventSink
	store   SeenStore
	tracker *domain.Tracker
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock

	interval      time.Duration
	staleAfter    time.Duration
	trackerMaxAge time.Duration

	running atomic.Bool
}

// Config carries the poller's tunables.
type Config struct {
	Interval      time.Duration
	StaleAfter    time.Duration
	TrackerMaxAge time.Duration
}

// New creates a Poller for one feed. Pass a fake clock in tests; nil means
// real time.
func New(spec domain.FeedSpec, fetcher Fetcher, sink EventSink, store SeenStore,
	logger *slog.Logger, metrics *observability.Metrics, cfg Config, clk clockwork.Clock) *Poller {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Poller{
		spec:          spec,
		fetcher:       fetcher,
		sink:          sink,
		store:         store,
		tracker:       domain.NewTracker(spec, clk),
		logger:        logger.With("feed", spec.Kind),
		metrics:       metrics,
		clock:         clk,
		interval:      cfg.Interval,
		staleAfter:    cfg.StaleAfter,
		trackerMaxAge: cfg.TrackerMaxAge,
	}
}

// Kind returns the feed kind this poller serves.
func (p *Poller) Kind() string {
	return p.spec.Kind
}

// Tracker exposes the feed's lifecycle tracker for the stats endpoint.
func (p *Poller) Tracker() *domain.Tracker {
	return p.tracker
}

// Running reports whether the poll loop is active, for readiness checks.
func (p *Poller) Running() bool {
	return p.running.Load()
}

// Run polls immediately, then on every interval tick until the context is
// cancelled. A failed cycle never stops the loop.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started", "interval", p.interval.String(), "dataset", p.spec.DatasetID)
	p.running.Store(true)
	defer p.running.Store(false)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			p.pollOnce(ctx)
		}
	}
}

// pollOnce runs a single fetch-encode-enqueue cycle. Fetch and storage
// failures abandon the cycle; the overlapping poll window re-covers the
// records next time.
func (p *Poller) pollOnce(ctx context.Context) {
	p.metrics.PollsTotal.WithLabelValues(p.spec.Kind).Inc()

	records, err := p.fetcher.Fetch(ctx, p.spec)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.metrics.PollErrors.WithLabelValues(p.spec.Kind).Inc()
		p.logger.Error("feed fetch failed", "error", err)
		return
	}

	p.metrics.RecordsFetched.WithLabelValues(p.spec.Kind).Add(float64(len(records)))

	sent := 0
	for _, rec := range records {
		delivered, ok := p.processRecord(ctx, rec)
		if !ok {
			return
		}
		if delivered {
			sent++
		}
	}

	// Lifecycle runs against the full fetched batch so a record that lost
	// its coordinates mid-life still counts as present.
	for _, ev := range p.tracker.CheckForClosures(records) {
		if p.enqueueEvent(ev) {
			sent++
		}
	}

	if removed := p.tracker.Cleanup(p.trackerMaxAge); removed > 0 {
		p.logger.Info("expired stale tracked incidents", "removed", removed)
	}

	if err := p.store.RecordPoll(ctx, p.spec.Kind, len(records), sent, p.watermark(records)); err != nil {
		p.logger.Error("record poll counters failed", "error", err)
	}
}

// processRecord validates, deduplicates, and enqueues one record. The bool
// pair is (delivered, cycle may continue); a storage error stops the cycle.
func (p *Poller) processRecord(ctx context.Context, rec domain.Record) (bool, bool) {
	if _, _, ok := rec.Coordinates(); !ok {
		p.metrics.RecordsDropped.WithLabelValues(p.spec.Kind, "coordinates").Inc()
		p.logger.Debug("dropped record without coordinates", "category", rec.Category())
		return false, true
	}

	// A record with no natural id, no category, and no location would hash
	// on coordinates alone, which drift between polls. Drop it.
	if p.spec.NaturalID(rec) == "" && rec.Category() == "" && rec.Location() == "" {
		p.metrics.RecordsDropped.WithLabelValues(p.spec.Kind, "identifier").Inc()
		p.logger.Debug("dropped record without identifier")
		return false, true
	}

	identity := domain.ResolveIdentity(p.spec, rec)
	seen, err := p.store.HasSeen(ctx, identity)
	if err != nil {
		p.logger.Error("dedup lookup failed, abandoning cycle", "error", err, "identity", identity)
		return false, false
	}
	if seen {
		// Dedup suppresses the enqueue, but the sighting still counts:
		// without the refresh a long-lived incident ages out of retention
		// while it is still being observed, then re-announces as new.
		if err := p.store.MarkSeen(ctx, identity, p.spec.Kind, rec, false); err != nil {
			p.logger.Error("refresh seen failed, abandoning cycle", "error", err, "identity", identity)
			return false, false
		}
		return false, true
	}

	ev := domain.Encode(p.spec, rec, p.staleAfter)
	delivered := p.enqueueEvent(ev)

	if err := p.store.MarkSeen(ctx, identity, p.spec.Kind, rec, delivered); err != nil {
		p.logger.Error("mark seen failed, abandoning cycle", "error", err, "identity", identity)
		return false, false
	}
	return delivered, true
}

// enqueueEvent marshals and hands one event to the sink.
func (p *Poller) enqueueEvent(ev domain.CanonicalEvent) bool {
	payload, err := domain.MarshalCoT(ev)
	if err != nil {
		p.logger.Error("marshal event failed", "error", err, "identity", ev.Identity)
		return false
	}
	if !p.sink.Enqueue(payload) {
		p.logger.Warn("sink refused event, dropping", "identity", ev.Identity, "kind", string(ev.Kind))
		return false
	}
	p.metrics.EventsEnqueued.WithLabelValues(p.spec.Kind, string(ev.Kind)).Inc()
	return true
}

// watermark returns the newest watermark value in the batch. The fetch
// orders newest first, but the scan tolerates any order.
func (p *Poller) watermark(records []domain.Record) string {
	newest := ""
	for _, rec := range records {
		if w := rec.Str(p.spec.WatermarkField); w > newest {
			newest = w
		}
	}
	return newest
}
