package docs

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// BodySeparator joins chunk bodies into the canonical document body.
const BodySeparator = "\n\n"

// NormalizeSegmentBody strips trailing whitespace from every line and
// normalizes the segment to a single trailing newline, so editor round-trips
// that only disturb end-of-line whitespace count as untouched.
func NormalizeSegmentBody(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	normalized := strings.Join(lines, "\n")
	normalized = strings.TrimRight(normalized, "\n")
	return normalized + "\n"
}

// SegmentChecksum is the sha-256 hex digest of the normalized segment body.
// Matching checksums across versions identify unchanged segments.
func SegmentChecksum(body string) string {
	sum := sha256.Sum256([]byte(NormalizeSegmentBody(body)))
	return hex.EncodeToString(sum[:])
}

// CanonicalBody joins chunk bodies in order with the blank-line separator.
// The result is byte-exact: reconstruction of the stored body.
func CanonicalBody(bodies []string) string {
	return strings.Join(bodies, BodySeparator)
}

// SegmentExtents computes each chunk's byte offset and length within the
// canonical body produced by CanonicalBody over the same slice.
func SegmentExtents(bodies []string) []struct{ Offset, Length int } {
	extents := make([]struct{ Offset, Length int }, len(bodies))
	offset := 0
	for i, body := range bodies {
		extents[i].Offset = offset
		extents[i].Length = len(body)
		offset += len(body) + len(BodySeparator)
	}
	return extents
}
