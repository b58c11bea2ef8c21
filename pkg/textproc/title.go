package textproc

import (
	"fmt"
	"strings"
)

// maxTitleLength is the truncation point for derived titles.
const maxTitleLength = 120

// fallbackTitle is used when no title can be derived at all.
const fallbackTitle = "Untitled Idea"

// PickTitle chooses a node title. An explicit title wins; otherwise the
// first non-empty line of the body is trimmed and truncated.
func PickTitle(body, explicitTitle string) string {
	if trimmed := strings.TrimSpace(explicitTitle); trimmed != "" {
		return truncateTitle(trimmed)
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(stripHeaderMarkers(line))
		if trimmed != "" {
			return truncateTitle(trimmed)
		}
	}
	return fallbackTitle
}

// ComposeChunkTitle builds the "DocTitle [k/N] Section" form for chunk
// nodes. k is 1-based; the section suffix is omitted when empty.
func ComposeChunkTitle(docTitle string, chunkOrder, totalChunks int, sectionTitle string) string {
	title := fmt.Sprintf("%s [%d/%d]", docTitle, chunkOrder+1, totalChunks)
	if section := strings.TrimSpace(sectionTitle); section != "" {
		title += " " + section
	}
	return truncateTitle(title)
}

func truncateTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= maxTitleLength {
		return title
	}
	return string(runes[:maxTitleLength])
}

// stripHeaderMarkers drops leading Markdown header hashes so a "# Heading"
// first line titles the node as "Heading".
func stripHeaderMarkers(line string) string {
	trimmed := strings.TrimLeft(line, "#")
	if trimmed != line {
		return strings.TrimSpace(trimmed)
	}
	return line
}
