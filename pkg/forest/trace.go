package forest

import "time"

// OperationTrace captures timing data for one engine operation.
// The structure is stable for downstream consumers.
type OperationTrace struct {
	// Spans contains timing data for each stage of the operation.
	Spans []Span `json:"spans"`

	// TotalDurationMs is the total elapsed time in milliseconds.
	TotalDurationMs int64 `json:"totalDurationMs"`
}

// Span represents a single timed stage within an operation.
// Stage names are stable:
//   - "tokenize": text analysis and tag extraction
//   - "embed": embedding computation
//   - "write-store": store writes
//   - "link": edge rescore
//   - "chunk": document chunking
//   - "parse-buffer": edit buffer parsing
//   - "search-rank": similarity ranking
type Span struct {
	// Name identifies the operation stage.
	Name string `json:"name"`

	// DurationMs is the elapsed time for this span in milliseconds.
	DurationMs int64 `json:"durationMs"`

	// OK indicates whether the span completed successfully.
	OK bool `json:"ok"`

	// Error contains the error message if OK is false.
	Error string `json:"error,omitempty"`

	// Counters provides additional metrics for the span.
	// Example keys: "chunkCount", "pairsEvaluated", "edgesCreated".
	Counters map[string]int64 `json:"counters,omitempty"`
}

// newTrace creates an OperationTrace with empty spans.
func newTrace() *OperationTrace {
	return &OperationTrace{Spans: make([]Span, 0)}
}

// stage starts timing a named stage and returns its completion func. The
// completion func records the span with the given outcome and counters.
// Calling stage on a nil trace yields a no-op, so operation code reads the
// same whether tracing is on or off.
func (t *OperationTrace) stage(name string) func(err error, counters map[string]int64) {
	if t == nil {
		return func(error, map[string]int64) {}
	}
	start := time.Now()
	return func(err error, counters map[string]int64) {
		span := Span{
			Name:       name,
			DurationMs: time.Since(start).Milliseconds(),
			OK:         err == nil,
			Counters:   counters,
		}
		if err != nil {
			span.Error = err.Error()
		}
		t.Spans = append(t.Spans, span)
		t.TotalDurationMs += span.DurationMs
	}
}
