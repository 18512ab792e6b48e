package domain

import (
	"strconv"
	"strings"
	"time"
)

// Record is one incident row as returned by a SODA dataset. There is no
// guaranteed schema: values are usually strings, occasionally numbers, and
// any field may be absent.
type Record map[string]any

// Str returns the first non-empty value among the given keys, stringified.
// Numeric values are formatted without an exponent so coordinates survive
// the round trip.
func (r Record) Str(keys ...string) string {
	for _, k := range keys {
		v, ok := r[k]
		if !ok {
			continue
		}
		switch s := v.(type) {
		case string:
			if strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		case int:
			return strconv.Itoa(s)
		case bool:
			return strconv.FormatBool(s)
		}
	}
	return ""
}

// Float parses the first of the given keys as a float64.
func (r Record) Float(keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := r[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// Coordinates returns the record's latitude/longitude pair.
// ok is false when either coordinate is missing or unparsable.
func (r Record) Coordinates() (lat, lon float64, ok bool) {
	lat, okLat := r.Float("latitude", "lat")
	lon, okLon := r.Float("longitude", "lon")
	return lat, lon, okLat && okLon
}

// Category returns the incident category across the field names the two
// datasets use for it.
func (r Record) Category() string {
	return r.Str("issue_reported", "category", "incident_type")
}

// Location returns the human-readable incident location.
func (r Record) Location() string {
	return r.Str("address", "location")
}

// feedTimeLayouts covers the timestamp shapes SODA emits: RFC 3339 with and
// without a zone designator, and the "floating timestamp" form without one.
var feedTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
}

// ParseFeedTime parses a SODA timestamp string. Zone-less values are taken
// as UTC, which is how the Austin datasets publish them.
func ParseFeedTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range feedTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// FeedSpec describes one polled dataset: where it lives and which field
// names carry the identity, status, and timestamp concerns. Adding a feed
// means adding a FeedSpec, not a code branch.
type FeedSpec struct {
	Kind           string // "fire" or "traffic"
	DatasetID      string
	BaseURL        string
	AgencyPrefix   string // callsign prefix: "AFD" or "APD"
	NaturalIDField string // feed's own unique-id column
	StatusField    string // ACTIVE/ARCHIVED column
	PublishedField string // source-reported timestamp column
	WatermarkField string // column used for the trailing-window query
}

// NaturalID returns the record's natural identifier, or "" when absent.
func (s FeedSpec) NaturalID(r Record) string {
	return r.Str(s.NaturalIDField)
}

// Status returns the record's status field, upper-cased for comparison.
func (s FeedSpec) Status(r Record) string {
	return strings.ToUpper(r.Str(s.StatusField))
}

// FireFeed returns the FeedSpec for the Austin fire incidents dataset.
func FireFeed(baseURL, datasetID string) FeedSpec {
	return FeedSpec{
		Kind:           "fire",
		DatasetID:      datasetID,
		BaseURL:        baseURL,
		AgencyPrefix:   "AFD",
		NaturalIDField: "incident_number",
		StatusField:    "traffic_report_status",
		PublishedField: "published_date",
		WatermarkField: "published_date",
	}
}

// TrafficFeed returns the FeedSpec for the Austin real-time traffic dataset.
func TrafficFeed(baseURL, datasetID string) FeedSpec {
	return FeedSpec{
		Kind:           "traffic",
		DatasetID:      datasetID,
		BaseURL:        baseURL,
		AgencyPrefix:   "APD",
		NaturalIDField: "traffic_report_id",
		StatusField:    "traffic_report_status",
		PublishedField: "published_date",
		WatermarkField: "last_update",
	}
}
