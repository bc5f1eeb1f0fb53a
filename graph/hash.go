package graph

import (
	"fmt"
	"hash/fnv"
)

// contentHash computes a deterministic, order-independent digest over a
// body's exported state, used only to detect no-op upserts. It is
// grounded on the stable content-addressing discipline of hashing a
// node's observable state rather than its identity, reimplemented with
// the standard library since equality-detection (not a content-addressed
// store) is all this needs.
func contentHash(b Body) uint64 {
	h := fnv.New64a()
	// %#v gives a deterministic, field-order-stable representation for
	// the plain structs used as body variants (no maps with nondeterministic
	// iteration order are embedded in any body type).
	_, _ = fmt.Fprintf(h, "%#v", b)
	return h.Sum64()
}
