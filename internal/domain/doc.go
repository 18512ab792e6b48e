// Package domain models Austin open-data incident reports and their
// conversion into Cursor-on-Target (CoT) situational-awareness events.
//
// # Data Source
//
// Incident records come from two City of Austin Socrata (SODA) datasets:
// fire incidents and real-time traffic reports. Both are polled on an
// interval by the pipeline package. SODA returns loosely typed JSON rows:
// almost every value is a string, fields appear and disappear between rows,
// and the two datasets disagree on field names. [Record] wraps a row and
// provides tolerant accessors; [FeedSpec] captures the per-feed field names
// so new feeds are configuration, not new code paths.
//
// # Identity
//
// Every real-world incident gets a stable identity of the form
//
//	{feedKind}.{naturalID}     when the feed's natural-id field is present
//	{feedKind}.{digest12}      otherwise
//
// The digest is the first 12 hex characters of a SHA-256 over a canonical
// serialization of the category, location, latitude, and longitude fields
// (missing fields contribute empty strings). Deterministic identities make
// deduplication and closure tracking replay-safe: resolving the same record
// twice always yields the same identity. See [ResolveIdentity].
//
// # Lifecycle
//
// [Tracker] keeps the last observed record per identity and detects when an
// active incident disappears from a poll batch or flips to ARCHIVED, emitting
// a closure event built from the previous snapshot. Closure events carry a
// one-minute expiry so consumers drop the marker almost immediately.
//
// # Wire Format
//
// [MarshalCoT] renders a [CanonicalEvent] as a CoT XML document:
//
//	<event version="2.0" uid="..." type="b-e-i" time="..." start="..." stale="..." how="m-g">
//	  <point lat="..." lon="..." hae="9999999.0" ce="9999999.0" le="9999999.0"/>
//	  <detail>
//	    <contact callsign="..."/>
//	    <link url="..."/>
//	    <remarks>...</remarks>
//	  </detail>
//	</event>
//
// Timestamps use ISO-8601 with milliseconds in UTC ("2006-01-02T15:04:05.000Z").
// encoding/xml escapes the five reserved markup characters in attributes and
// character data, so free text from the feeds round-trips safely.
package domain
