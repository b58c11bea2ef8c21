package docs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Segment marker grammar. The whole document is rendered as plain text with
// every segment wrapped in a start/end marker pair; the user edits freely
// between them.
var (
	segmentStartPattern = regexp.MustCompile(
		`^<!-- forest:segment start segment_id=(\S+) node_id=(\S+) order=(\d+) title="((?:[^"\\]|\\.)*)" -->$`)
	segmentEndPattern = regexp.MustCompile(
		`^<!-- forest:segment end segment_id=(\S+) -->$`)
)

// ParseError reports a malformed edit buffer. The user's bytes are never
// discarded: the engine writes them to a scratch file before returning.
type ParseError struct {
	Line        int    // 1-based line of the offending marker (0 = end of buffer)
	Marker      string // Offending marker text, when applicable
	Msg         string
	ScratchPath string // Where the buffer was preserved
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("edit buffer line %d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("edit buffer: %s", e.Msg)
}

// ParsedSegment is one segment recovered from an edit buffer.
type ParsedSegment struct {
	SegmentID string
	NodeID    string
	Order     int // Position in the buffer, not the stored order
	Title     string
	Body      string
}

// RenderSegment is the input to RenderBuffer: one segment in stored order.
type RenderSegment struct {
	SegmentID string
	NodeID    string
	Order     int
	Title     string
	Body      string
}

// RenderBuffer produces the plain-text edit buffer for a document: every
// segment's body wrapped in its marker pair, pairs separated by blank lines.
func RenderBuffer(segments []RenderSegment) string {
	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "<!-- forest:segment start segment_id=%s node_id=%s order=%d title=%q -->\n",
			seg.SegmentID, seg.NodeID, seg.Order, seg.Title)
		b.WriteString(seg.Body)
		if !strings.HasSuffix(seg.Body, "\n") {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "<!-- forest:segment end segment_id=%s -->\n", seg.SegmentID)
	}
	return b.String()
}

// ParseBuffer validates the marker structure and reconstructs segment bodies.
// expected lists the segment ids the document currently has; every one must
// appear exactly once, and no unknown segment may appear.
func ParseBuffer(buffer string, expected []string) ([]ParsedSegment, *ParseError) {
	expectedSet := make(map[string]bool, len(expected))
	for _, id := range expected {
		expectedSet[id] = true
	}

	lines := strings.Split(buffer, "\n")
	var segments []ParsedSegment
	seen := make(map[string]bool)

	var open *ParsedSegment
	var openLine int
	var bodyLines []string

	for i, line := range lines {
		lineNo := i + 1
		trimmed := strings.TrimRight(line, "\r")

		if m := segmentStartPattern.FindStringSubmatch(trimmed); m != nil {
			if open != nil {
				return nil, &ParseError{
					Line:   lineNo,
					Marker: trimmed,
					Msg:    fmt.Sprintf("segment %s opened before segment %s was closed", m[1], open.SegmentID),
				}
			}
			segID := m[1]
			if !expectedSet[segID] {
				return nil, &ParseError{
					Line:   lineNo,
					Marker: trimmed,
					Msg:    fmt.Sprintf("unknown segment id %s", segID),
				}
			}
			if seen[segID] {
				return nil, &ParseError{
					Line:   lineNo,
					Marker: trimmed,
					Msg:    fmt.Sprintf("duplicate segment id %s", segID),
				}
			}
			order, err := strconv.Atoi(m[3])
			if err != nil {
				return nil, &ParseError{
					Line:   lineNo,
					Marker: trimmed,
					Msg:    fmt.Sprintf("malformed order attribute %q", m[3]),
				}
			}
			title, err := strconv.Unquote(`"` + m[4] + `"`)
			if err != nil {
				title = m[4]
			}
			open = &ParsedSegment{SegmentID: segID, NodeID: m[2], Order: order, Title: title}
			openLine = lineNo
			bodyLines = nil
			continue
		}

		if m := segmentEndPattern.FindStringSubmatch(trimmed); m != nil {
			if open == nil {
				return nil, &ParseError{
					Line:   lineNo,
					Marker: trimmed,
					Msg:    fmt.Sprintf("end marker for segment %s without a start", m[1]),
				}
			}
			if m[1] != open.SegmentID {
				return nil, &ParseError{
					Line:   lineNo,
					Marker: trimmed,
					Msg:    fmt.Sprintf("end marker for segment %s does not match open segment %s", m[1], open.SegmentID),
				}
			}
			open.Order = len(segments) // Position in the buffer decides the new order
			open.Body = strings.TrimSuffix(strings.Join(bodyLines, "\n"), "\n")
			seen[open.SegmentID] = true
			segments = append(segments, *open)
			open = nil
			continue
		}

		if open != nil {
			bodyLines = append(bodyLines, line)
		}
		// Text between segments is ignored.
	}

	if open != nil {
		return nil, &ParseError{
			Line: openLine,
			Msg:  fmt.Sprintf("segment %s is never closed", open.SegmentID),
		}
	}

	for _, id := range expected {
		if !seen[id] {
			return nil, &ParseError{
				Msg: fmt.Sprintf("segment %s is missing from the buffer", id),
			}
		}
	}

	return segments, nil
}
