package domain

import (
	"maps"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const statusActive = "ACTIVE"

// closureReason maps a previous status to the human-readable reason carried
// on the closure event.
func closureReason(status string) string {
	switch status {
	case "ARCHIVED":
		return "INCIDENT ARCHIVED"
	case "CLOSED":
		return "INCIDENT CLOSED"
	case "RESOLVED":
		return "INCIDENT RESOLVED"
	default:
		return "INCIDENT NO LONGER ACTIVE"
	}
}

// TrackingStats summarizes the tracker's contents for the stats endpoint.
type TrackingStats struct {
	TotalTracked int `json:"total_tracked"`
	Active       int `json:"active"`
	Archived     int `json:"archived"`
}

// Tracker follows incident lifecycle for one feed. It keeps the last
// observed record per identity and detects closures: an active incident
// that disappears from a poll batch, or one whose status flips from ACTIVE
// to ARCHIVED. Tracked state is volatile; a restart rebuilds it from the
// next poll and accepts that a closure landing entirely inside the downtime
// window is missed.
//
// Only the owning poller mutates a Tracker, but the stats endpoint reads it
// concurrently, hence the mutex.
type Tracker struct {
	spec  FeedSpec
	clock clockwork.Clock

	mu      sync.Mutex
	tracked map[string]Record
}

// NewTracker creates an empty lifecycle tracker for the given feed. Pass a
// fake clock in tests; nil means real time.
func NewTracker(spec FeedSpec, clk clockwork.Clock) *Tracker {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Tracker{
		spec:    spec,
		clock:   clk,
		tracked: make(map[string]Record),
	}
}

// CheckForClosures diffs the current poll batch against the tracked
// snapshots and returns one closure event per incident that transitioned
// out of ACTIVE. The diff runs entirely against the old snapshots before
// any of them are replaced: a record present in the batch can therefore
// produce both a closure (from its old state) and a fresh tracking entry
// (from its new state) in the same call.
func (t *Tracker) CheckForClosures(batch []Record) []CanonicalEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := make(map[string]Record, len(batch))
	for _, r := range batch {
		current[ResolveIdentity(t.spec, r)] = r
	}

	var closures []CanonicalEvent
	for identity, prev := range t.tracked {
		cur := current[identity]
		if !t.shouldClose(prev, cur) {
			continue
		}
		// A record still present carries its own terminal status; a vanished
		// one only has the previous snapshot to go by.
		statusSource := prev
		if cur != nil {
			statusSource = cur
		}
		closures = append(closures, EncodeClosure(t.spec, prev, closureReason(t.spec.Status(statusSource))))
		delete(t.tracked, identity)
	}

	maps.Copy(t.tracked, current)

	return closures
}

// shouldClose implements the transition table. Only a previously ACTIVE
// incident can close: by vanishing from the batch or by flipping to
// ARCHIVED. Every other combination is a no-op.
func (t *Tracker) shouldClose(prev, cur Record) bool {
	if t.spec.Status(prev) != statusActive {
		return false
	}
	if cur == nil {
		return true
	}
	return t.spec.Status(cur) == "ARCHIVED"
}

// Cleanup removes tracked incidents whose source-reported timestamp is older
// than maxAge, plus any whose timestamp cannot be parsed (treated as expired
// immediately). Unlike the seen store's sweep, the cutoff is measured against
// the source's own published time, not our observation time.
func (t *Tracker) Cleanup(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.clock.Now().UTC().Add(-maxAge)
	removed := 0
	for identity, r := range t.tracked {
		published, err := ParseFeedTime(r.Str(t.spec.PublishedField))
		if err != nil || published.Before(cutoff) {
			delete(t.tracked, identity)
			removed++
		}
	}
	return removed
}

// Stats reports how many incidents are tracked and their status split.
func (t *Tracker) Stats() TrackingStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := TrackingStats{TotalTracked: len(t.tracked)}
	for _, r := range t.tracked {
		if t.spec.Status(r) == statusActive {
			stats.Active++
		} else {
			stats.Archived++
		}
	}
	return stats
}
