package scorer

import (
	"crypto/sha256"

	"github.com/google/uuid"

	"github.com/bwl/forest/pkg/store"
)

// EdgeID derives the stable edge identifier for an unordered pair: the
// sha-256 of "min|max" truncated to 128 bits and rendered in the canonical
// dashed UUID form. The same pair always yields the same id, so rescores
// are byte-identical.
func EdgeID(a, b string) string {
	src, dst := store.NormalizeEdgePair(a, b)
	sum := sha256.Sum256([]byte(src + "|" + dst))

	var id uuid.UUID
	copy(id[:], sum[:16])
	return id.String()
}
