package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	defaultCategory = "INCIDENT"
	defaultLocation = "Unknown Location"
	defaultStatus   = "Active"

	// closureStale is forced on every closure event so consumers expire the
	// marker almost immediately, regardless of the configured stale window.
	closureStale = time.Minute
)

// Encode converts an incident record into an active CanonicalEvent. It is
// total: missing or malformed fields degrade to defaults and never fail the
// caller. Whether a defaulted coordinate pair is acceptable is the caller's
// decision (the poller validates coordinates before encoding).
func Encode(spec FeedSpec, r Record, staleAfter time.Duration) CanonicalEvent {
	return encode(spec, r, staleAfter, KindActive, "")
}

// EncodeClosure builds the closure event for a previously observed record.
// The stale window is forced to one minute.
func EncodeClosure(spec FeedSpec, r Record, reason string) CanonicalEvent {
	return encode(spec, r, closureStale, KindClosure, reason)
}

func encode(spec FeedSpec, r Record, staleAfter time.Duration, kind EventKind, reason string) CanonicalEvent {
	lat, lon, _ := r.Coordinates()

	category := r.Category()
	if category == "" {
		category = defaultCategory
	}

	label := spec.AgencyPrefix + ": " + category
	if kind == KindClosure {
		label += " - " + reason
	}

	now := clock.Now().UTC()
	return CanonicalEvent{
		Identity:   ResolveIdentity(spec, r),
		Kind:       kind,
		Lat:        lat,
		Lon:        lon,
		Label:      label,
		Detail:     buildDetail(spec, r, category, reason),
		SourceLink: sourceLink(spec, r),
		IssuedAt:   now,
		ExpiresAt:  now.Add(staleAfter),
	}
}

// buildDetail assembles the pipe-joined remarks text. Optional segments are
// omitted when their source field is missing or unparsable; the encode as a
// whole never fails on a bad field.
func buildDetail(spec FeedSpec, r Record, category, closureReason string) string {
	location := r.Location()
	if location == "" {
		location = defaultLocation
	}

	segments := []string{category + " @ " + location}

	if desc := r.Str("description"); desc != "" {
		segments = append(segments, desc)
	}
	if units := r.Str("units"); units != "" {
		segments = append(segments, "Units: "+units)
	}

	status := r.Str(spec.StatusField)
	if status == "" {
		status = defaultStatus
	}
	segments = append(segments, "Status: "+status)

	if closureReason != "" {
		segments = append(segments, "Closure: "+closureReason)
	}

	if published := r.Str(spec.PublishedField); published != "" {
		if t, err := ParseFeedTime(published); err == nil {
			segments = append(segments, "Reported: "+t.Format("2006-01-02 15:04 UTC"))
		}
	}

	return strings.Join(segments, " | ")
}

// sourceLink returns the deterministic dataset URL filtered to this record's
// natural identifier.
func sourceLink(spec FeedSpec, r Record) string {
	return fmt.Sprintf("%s/%s.json?%s=%s",
		spec.BaseURL, spec.DatasetID, spec.NaturalIDField,
		url.QueryEscape(spec.NaturalID(r)))
}
