package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// digestLen is the number of hex characters kept from the content hash.
// 48 bits is plenty for the handful of concurrent incidents a city produces,
// and the fixed 12-character all-hex shape keeps hash identities visually
// distinct from natural ones.
const digestLen = 12

// ResolveIdentity returns the stable identity for a record within its feed.
//
// When the feed's natural-id field is present the identity is
// "{kind}.{naturalID}". Otherwise it falls back to a content hash over the
// category, location, and coordinate fields, serialized in a fixed key
// order with missing fields as empty strings. Identical field subsets always
// produce identical identities; the function never fails.
func ResolveIdentity(spec FeedSpec, r Record) string {
	if id := spec.NaturalID(r); id != "" {
		return spec.Kind + "." + id
	}

	input := fmt.Sprintf("lat=%s|location=%s|lon=%s|type=%s",
		r.Str("latitude", "lat"),
		r.Location(),
		r.Str("longitude", "lon"),
		r.Category(),
	)
	sum := sha256.Sum256([]byte(input))
	return spec.Kind + "." + hex.EncodeToString(sum[:])[:digestLen]
}
