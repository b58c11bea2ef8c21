package forest

import (
	"context"
	"errors"
	"strings"

	"github.com/bwl/forest/pkg/config"
	"github.com/bwl/forest/pkg/docs"
	"github.com/bwl/forest/pkg/search"
	"github.com/bwl/forest/pkg/store"
)

// Kind is the user-facing error classification. Every error leaving the
// engine maps onto exactly one kind.
type Kind string

const (
	KindNotFound   Kind = "not-found"
	KindAmbiguous  Kind = "ambiguous"
	KindConflict   Kind = "conflict"
	KindValidation Kind = "validation-failure"
	KindProvider   Kind = "provider-failure"
	KindIO         Kind = "io-failure"
	KindBusy       Kind = "busy-resource"
	KindCancelled  Kind = "cancelled"
	KindParse      Kind = "parse-error"
	KindUnknown    Kind = "unknown"
)

// ErrEmptyBody is returned by capture when there is nothing to store.
var ErrEmptyBody = errors.New("note body cannot be empty")

// Classify inspects an error and returns its kind. Sentinel matching first,
// then driver-level string heuristics for the I/O boundary.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var parseErr *docs.ParseError
	if errors.As(err, &parseErr) {
		return KindParse
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, store.ErrBusy):
		return KindBusy
	case errors.Is(err, store.ErrNodeNotFound),
		errors.Is(err, store.ErrEdgeNotFound),
		errors.Is(err, store.ErrDocumentNotFound),
		errors.Is(err, store.ErrEventNotFound),
		errors.Is(err, store.ErrSnapshotNotFound),
		errors.Is(err, search.ErrRefNotFound):
		return KindNotFound
	case errors.Is(err, search.ErrAmbiguousRef):
		return KindAmbiguous
	case errors.Is(err, store.ErrSelfLoop),
		errors.Is(err, store.ErrConflict):
		return KindConflict
	case errors.Is(err, config.ErrInvalid),
		errors.Is(err, ErrEmptyBody):
		return KindValidation
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "embedding") || strings.Contains(msg, "provider"):
		return KindProvider
	case strings.Contains(msg, "disk") || strings.Contains(msg, "i/o") ||
		strings.Contains(msg, "permission denied") || strings.Contains(msg, "no such file"):
		return KindIO
	case strings.Contains(msg, "database") || strings.Contains(msg, "sql"):
		return KindIO
	case strings.Contains(msg, "cannot be empty") || strings.Contains(msg, "out of range") ||
		strings.Contains(msg, "malformed") || strings.Contains(msg, "invalid"):
		return KindValidation
	}
	return KindUnknown
}

// Problem is the structured error shape handed to programmatic callers.
type Problem struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	// Candidates lists up to five nodes for ambiguous references.
	Candidates []*store.Node `json:"candidates,omitempty"`
	// ScratchPath points at the preserved edit buffer for parse errors.
	ScratchPath string `json:"scratchPath,omitempty"`
	// Line is the offending buffer line for parse errors.
	Line int `json:"line,omitempty"`
}

// AsProblem converts any engine error into its structured form.
func AsProblem(err error) *Problem {
	if err == nil {
		return nil
	}
	p := &Problem{Kind: Classify(err), Message: err.Error()}

	var ambiguous *search.AmbiguousError
	if errors.As(err, &ambiguous) {
		p.Candidates = ambiguous.Candidates
	}
	var parseErr *docs.ParseError
	if errors.As(err, &parseErr) {
		p.ScratchPath = parseErr.ScratchPath
		p.Line = parseErr.Line
	}
	return p
}
