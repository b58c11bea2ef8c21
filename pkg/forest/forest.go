// Package forest is the engine facade: node and edge lifecycle, documents,
// search, traversal, and admin operations over a single embedded store.
package forest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bwl/forest/pkg/config"
	"github.com/bwl/forest/pkg/docs"
	"github.com/bwl/forest/pkg/embeddings"
	"github.com/bwl/forest/pkg/graph"
	"github.com/bwl/forest/pkg/linker"
	"github.com/bwl/forest/pkg/metrics"
	"github.com/bwl/forest/pkg/scorer"
	"github.com/bwl/forest/pkg/search"
	"github.com/bwl/forest/pkg/store"
	"github.com/bwl/forest/pkg/textproc"
	tracepkg "github.com/bwl/forest/pkg/trace"
)

// Engine is the main entry point for the knowledge base.
type Engine struct {
	cfg    config.Config
	store  *store.Store
	embed  *embeddings.Service
	linker *linker.Linker
	docs   *docs.Engine
	graph  *graph.Service
	search *search.Service

	tagger  Tagger
	metrics metrics.Recorder
	journal tracepkg.Writer
}

// Open loads the layered configuration and opens the engine.
func Open(overrides config.Overrides) (*Engine, error) {
	cfg, err := config.Load(overrides)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// New opens the engine with an explicit configuration. The store schema is
// migrated forward and pre-canonical chunk nodes are backfilled.
func New(cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	provider, err := embeddings.Select(cfg.EmbedProvider, cfg.LocalEmbedURL, cfg.LocalEmbedModel,
		cfg.HostedAAPIKey, cfg.HostedBAPIKey)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("%v: %w", err, config.ErrInvalid)
	}
	embedSvc := embeddings.NewService(embeddings.NewCachedProvider(provider))

	thresholds := scorer.Thresholds{Semantic: cfg.SemanticThreshold, Tag: cfg.TagThreshold}
	lk := linker.New(st, thresholds, cfg.MaxAcceptedDegree)
	tagOpts := textproc.TagOptions{MaxTags: cfg.MaxTags}

	e := &Engine{
		cfg:     cfg,
		store:   st,
		embed:   embedSvc,
		linker:  lk,
		docs:    docs.NewEngine(st, embedSvc, lk, tagOpts),
		graph:   graph.NewService(st),
		search:  search.NewService(st, embedSvc),
		metrics: metrics.Nop(),
		journal: tracepkg.Nop(),
	}

	// Pre-canonical chunk nodes get their Document rows on open.
	if _, err := e.docs.Backfill(context.Background()); err != nil {
		st.Close()
		return nil, err
	}

	return e, nil
}

// WithTagger attaches the external LLM tagging collaborator.
func (e *Engine) WithTagger(t Tagger) *Engine {
	e.tagger = t
	return e
}

// WithMetrics attaches a telemetry recorder (default: discard).
func (e *Engine) WithMetrics(r metrics.Recorder) *Engine {
	e.metrics = r
	return e
}

// WithTraceJournal attaches an operations journal (default: discard).
func (e *Engine) WithTraceJournal(w tracepkg.Writer) *Engine {
	e.journal = w
	return e
}

// Close releases the store and flushes the operations journal.
func (e *Engine) Close() error {
	_ = e.journal.Close()
	return e.store.Close()
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() config.Config {
	return e.cfg
}

// Store exposes the underlying store to driver-level tests and the dump
// surface. External callers go through the engine operations.
func (e *Engine) Store() *store.Store {
	return e.store
}

// CaptureInput is one note to capture.
type CaptureInput struct {
	Title string
	Body  string
	// Tags overrides extraction when non-empty.
	Tags     []string
	Metadata map[string]any
	// TraceEnabled collects per-stage timing into the result.
	TraceEnabled bool
}

// CaptureResult reports a capture.
type CaptureResult struct {
	NodeID       string
	Title        string
	Tags         []string
	Embedded     bool
	EdgesCreated int
	EdgesRemoved int
	Trace        *OperationTrace
}

// Capture stores one note as a node, extracts its tags, embeds it, and
// links it into the graph.
func (e *Engine) Capture(ctx context.Context, input CaptureInput) (*CaptureResult, error) {
	startTime := time.Now()
	operationID := uuid.New().String()

	if strings.TrimSpace(input.Body) == "" && strings.TrimSpace(input.Title) == "" {
		return nil, ErrEmptyBody
	}

	var trace *OperationTrace
	if input.TraceEnabled {
		trace = newTrace()
	}

	endTokenize := trace.stage("tokenize")
	title := textproc.PickTitle(input.Body, input.Title)
	counts := textproc.Tokenize(title + "\n" + input.Body)
	tags := input.Tags
	if len(tags) == 0 {
		tags = e.extractTags(ctx, input.Body, counts)
	}
	endTokenize(nil, map[string]int64{"tokenCount": int64(len(counts))})

	endEmbed := trace.stage("embed")
	vector := e.embed.EmbedNode(ctx, title, input.Body)
	endEmbed(nil, map[string]int64{"dimension": int64(len(vector))})

	node := &store.Node{
		ID:          uuid.New().String(),
		Title:       title,
		Body:        input.Body,
		Tags:        tags,
		TokenCounts: counts,
		Embedding:   vector,
		Metadata:    input.Metadata,
	}

	endWrite := trace.stage("write-store")
	if err := e.store.InsertNode(ctx, node); err != nil {
		endWrite(err, nil)
		e.recordOp(ctx, operationID, "capture", startTime, trace, err, nil)
		return nil, err
	}
	endWrite(nil, nil)

	endLink := trace.stage("link")
	rescore, err := e.linker.RescoreNode(ctx, node.ID)
	if err != nil {
		endLink(err, nil)
		e.recordOp(ctx, operationID, "capture", startTime, trace, err, nil)
		return nil, err
	}
	endLink(nil, map[string]int64{
		"pairsEvaluated": int64(rescore.PairsEvaluated),
		"edgesCreated":   int64(rescore.EdgesCreated),
	})

	e.recordOp(ctx, operationID, "capture", startTime, trace, nil, map[string]interface{}{
		"nodeId":       node.ID,
		"edgesCreated": rescore.EdgesCreated,
	})

	return &CaptureResult{
		NodeID:       node.ID,
		Title:        node.Title,
		Tags:         node.Tags,
		Embedded:     len(vector) > 0,
		EdgesCreated: rescore.EdgesCreated,
		EdgesRemoved: rescore.EdgesRemoved,
		Trace:        trace,
	}, nil
}

// extractTags runs the configured tag method. The LLM collaborator gets a
// bounded call and falls back to lexical extraction on any failure.
func (e *Engine) extractTags(ctx context.Context, body string, counts map[string]int) []string {
	tagOpts := textproc.TagOptions{MaxTags: e.cfg.MaxTags, Body: body}

	if e.cfg.TagMethod == config.TagMethodLLM && e.tagger != nil {
		tagCtx, cancel := context.WithTimeout(ctx, taggerTimeout)
		defer cancel()
		if tags, err := e.tagger.TagText(tagCtx, body); err == nil && len(tags) > 0 {
			sort.Strings(tags)
			return tags
		}
	}
	return textproc.ExtractTags(body, counts, tagOpts)
}

// UpdateInput is a partial note edit. Nil fields are left unchanged; when
// Tags is nil the tag set is re-extracted from the new text.
type UpdateInput struct {
	Title *string
	Body  *string
	Tags  *[]string
}

// UpdateNote applies a title/body edit: re-tokenize, re-tag, re-embed, and
// rescore.
func (e *Engine) UpdateNote(ctx context.Context, ref string, input UpdateInput) (*store.Node, error) {
	node, err := e.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	title := node.Title
	if input.Title != nil {
		title = *input.Title
	}
	body := node.Body
	if input.Body != nil {
		body = *input.Body
	}
	if strings.TrimSpace(title) == "" {
		title = textproc.PickTitle(body, "")
	}

	counts := textproc.Tokenize(title + "\n" + body)
	var tags []string
	if input.Tags != nil {
		tags = *input.Tags
	} else {
		tags = e.extractTags(ctx, body, counts)
	}
	vector := e.embed.EmbedNode(ctx, title, body)

	patch := store.NodePatch{
		Title:       &title,
		Body:        &body,
		Tags:        &tags,
		TokenCounts: &counts,
		Embedding:   &vector,
	}
	if err := e.store.UpdateNode(ctx, node.ID, patch); err != nil {
		return nil, err
	}
	if _, err := e.linker.RescoreNode(ctx, node.ID); err != nil {
		return nil, err
	}
	return e.store.GetNode(ctx, node.ID)
}

// DeleteNode removes a node and every edge touching it.
func (e *Engine) DeleteNode(ctx context.Context, ref string) error {
	node, err := e.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	return e.store.DeleteNode(ctx, node.ID)
}

// GetNode resolves a reference and returns the node.
func (e *Engine) GetNode(ctx context.Context, ref string) (*store.Node, error) {
	return e.Resolve(ctx, ref)
}

// ListNodes lists nodes through the store filter.
func (e *Engine) ListNodes(ctx context.Context, filter store.NodeFilter) ([]*store.Node, error) {
	return e.store.ListNodes(ctx, filter)
}

// Resolve turns any reference form (uuid prefix, @N, #tag, "title") into
// its node.
func (e *Engine) Resolve(ctx context.Context, ref string) (*store.Node, error) {
	return e.search.Resolve(ctx, ref)
}

// recordOp emits metrics and a sanitized journal record for one operation.
func (e *Engine) recordOp(ctx context.Context, operationID, operation string, startTime time.Time, trace *OperationTrace, opErr error, ids map[string]interface{}) {
	elapsed := time.Since(startTime)
	errKind := ""
	if opErr != nil {
		errKind = string(Classify(opErr))
		e.metrics.ErrorSeen(operation, errKind)
	}
	e.metrics.OperationDone(operation, opErr != nil, elapsed)
	if trace != nil {
		for _, span := range trace.Spans {
			e.metrics.StageDone(operation, span.Name, time.Duration(span.DurationMs)*time.Millisecond)
		}
	}

	if trace == nil {
		return
	}
	record := &tracepkg.OpRecord{
		At:        startTime,
		OpID:      operationID,
		Op:        operation,
		ElapsedMs: elapsed.Milliseconds(),
		ErrKind:   errKind,
		IDs:       ids,
	}
	for _, span := range trace.Spans {
		stage := tracepkg.StageRecord{
			Name:      span.Name,
			ElapsedMs: span.DurationMs,
			Counters:  span.Counters,
		}
		if !span.OK {
			stage.ErrKind = errKind
		}
		record.Stages = append(record.Stages, stage)
	}
	_ = e.journal.Record(record)
}
