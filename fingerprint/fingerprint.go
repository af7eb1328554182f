// Package fingerprint canonicalises a request object into a stable,
// hashable identity, ignoring the transient keys that vary between
// otherwise-identical requests (req_id, passthrough, subscribe).
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Fingerprint is the canonical identity of a request, usable as a map key.
type Fingerprint string

var transientKeys = map[string]struct{}{
	"req_id":      {},
	"passthrough": {},
	"subscribe":   {},
}

// Compute returns the fingerprint of req. encoding/json already serialises
// map[string]any with lexicographically sorted keys, so stripping the
// transient keys and marshalling is sufficient for canonical byte-equality;
// the result is hashed to a fixed-width string for cheap map-key comparison.
func Compute(req map[string]any) Fingerprint {
	clean := make(map[string]any, len(req))
	for k, v := range req {
		if _, skip := transientKeys[k]; skip {
			continue
		}
		clean[k] = v
	}

	b, err := json.Marshal(clean)
	if err != nil {
		// A request built from JSON-serialisable values cannot fail to
		// marshal; fall back to a sorted key dump so Compute never panics.
		b = []byte(fallback(clean))
	}

	sum := sha256.Sum256(b)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

func fallback(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]byte, 0, 64)
	for _, k := range keys {
		out = append(out, k...)
		out = append(out, '=')
	}
	return string(out)
}
