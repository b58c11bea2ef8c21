// Package metrics defines the telemetry hooks the engine emits into:
// operation outcomes, per-stage latencies, classified errors, and the size
// of the stored graph.
package metrics

import "time"

// GraphSizes is a snapshot of the store's entity counts.
type GraphSizes struct {
	Nodes     int64
	Edges     int64
	Documents int64
	Tags      int64
}

// Recorder receives engine telemetry. The engine calls it synchronously on
// the operation path, so implementations must be cheap and non-blocking.
type Recorder interface {
	// OperationDone reports one finished operation (capture, rescore,
	// search, import, edit, admin) and whether it failed.
	OperationDone(op string, failed bool, elapsed time.Duration)

	// StageDone reports one stage inside an operation (tokenize, embed,
	// link, write-store, chunk, parse-buffer, search-rank).
	StageDone(op, stage string, elapsed time.Duration)

	// ErrorSeen reports an error by its taxonomy kind (not-found,
	// conflict, provider-failure, ...).
	ErrorSeen(op, kind string)

	// GraphSize publishes the current entity counts.
	GraphSize(sizes GraphSizes)
}

// Nop returns a Recorder that discards everything. The engine default.
func Nop() Recorder {
	return nopRecorder{}
}

type nopRecorder struct{}

func (nopRecorder) OperationDone(string, bool, time.Duration) {}
func (nopRecorder) StageDone(string, string, time.Duration)   {}
func (nopRecorder) ErrorSeen(string, string)                  {}
func (nopRecorder) GraphSize(GraphSizes)                      {}
