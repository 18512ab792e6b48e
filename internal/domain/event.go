package domain

import "time"

// EventKind distinguishes an incident announcement from its closure marker.
type EventKind string

const (
	KindActive  EventKind = "active"
	KindClosure EventKind = "closure"
)

// CanonicalEvent is the standardized output document for one incident
// observation. It is immutable once built; ownership passes to the delivery
// queue when enqueued.
type CanonicalEvent struct {
	Identity   string
	Kind       EventKind
	Lat        float64
	Lon        float64
	Label      string // contact callsign, e.g. "APD: CRASH"
	Detail     string // pipe-joined remarks
	SourceLink string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}
