package forest

import (
	"context"
	"time"
)

// Tagger is the external LLM tagging collaborator. The engine consumes it
// when tagMethod is "llm" and never implements it; timeouts and errors fall
// back to lexical extraction.
type Tagger interface {
	// TagText returns a sorted unique tag list for the text.
	TagText(ctx context.Context, text string) ([]string, error)
}

// taggerTimeout bounds one collaborator call.
const taggerTimeout = 30 * time.Second

// EditorHost is the external editor collaborator: it opens a temp file
// containing the edit buffer, blocks until the user closes it, and returns
// the file's final bytes.
type EditorHost interface {
	Edit(ctx context.Context, initial []byte) ([]byte, error)
}
