// Package store provides SQLite-backed persistence for the Forest knowledge graph.
package store

import (
	"errors"
	"time"
)

// Node represents a captured note, the unit of the graph.
type Node struct {
	ID               string         // Unique identifier (UUID, lowercase dashed)
	Title            string         // Non-empty display title
	Body             string         // Note body text
	Tags             []string       // Sorted, deduplicated, lowercased
	TokenCounts      map[string]int // token -> count over title+body
	Embedding        []float32      // Vector embedding; nil when un-embedded
	ParentDocumentID string         // Set when IsChunk is true
	IsChunk          bool           // Node is one segment of a document
	ChunkOrder       int            // Position within the parent document
	AcceptedDegree   int            // Count of accepted edges touching this node
	ApproxScored     bool           // Scores were computed against a stale context
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Metadata         map[string]any // Additional metadata as JSON
}

// Edge type constants. Semantic edges are subject to the acceptance
// thresholds; all other types are structural and always kept.
const (
	EdgeTypeSemantic    = "semantic"
	EdgeTypeParentChild = "parent-child"
	EdgeTypeSequential  = "sequential"
	EdgeTypeManual      = "manual"
	EdgeTypeBridge      = "bridge"
)

// StatusAccepted is the only status produced by new writes. The column is
// retained for stores written before the dual-score model.
const StatusAccepted = "accepted"

// Edge represents an undirected link between two nodes.
// Invariant: SourceID < TargetID, enforced on write.
type Edge struct {
	ID            string   // Derived from the ordered pair, stable across rescores
	SourceID      string
	TargetID      string
	Score         float64  // max(semanticScore ?? 0, tagScore ?? 0) for semantic edges
	SemanticScore *float64 // nil when either node lacks an embedding
	TagScore      *float64 // nil when the nodes share no tags
	SharedTags    []string // Sorted unique intersection of the two tag sets
	EdgeType      string
	Status        string
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TagIDF is one row of the tag inverse-document-frequency table.
type TagIDF struct {
	Tag          string
	DocFrequency int
	IDF          float64
}

// Document is the canonical, versioned text of a multi-chunk note.
type Document struct {
	ID         string
	Title      string
	Body       string // Chunk bodies joined by a blank-line separator, byte-exact
	Metadata   map[string]any
	Version    int    // Monotone; increments on every edit that changes a segment
	RootNodeID string // Optional summary node
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DocumentChunk maps one segment of a document to its chunk node.
type DocumentChunk struct {
	DocumentID string
	SegmentID  string
	NodeID     string
	Offset     int    // Byte offset into Document.Body
	Length     int    // Byte length within Document.Body
	ChunkOrder int    // Contiguous from 0
	Checksum   string // sha-256 hex of the normalized segment body
}

// EdgeEvent is an append-only record of an edge status transition.
type EdgeEvent struct {
	ID         string
	EdgeID     string
	SourceID   string
	TargetID   string
	PrevStatus string // "" when the edge did not exist before
	NextStatus string // "" when the edge was deleted
	Payload    map[string]any
	CreatedAt  time.Time
	Undone     bool
}

// Snapshot is a point-in-time count record used by the temporal surface.
type Snapshot struct {
	ID            string
	NodeCount     int64
	EdgeCount     int64
	DocumentCount int64
	TagCount      int64
	CreatedAt     time.Time
}

// NodeFilter narrows ListNodes. Zero values mean "no constraint".
type NodeFilter struct {
	Tags          []string  // Nodes carrying any of these tags
	Since         time.Time // UpdatedAt >= Since
	Until         time.Time // UpdatedAt <= Until
	IncludeChunks bool      // Chunk nodes are hidden unless set
	OnlyChunks    bool
	HasEmbedding  bool // Only nodes with a stored embedding
	Limit         int  // 0 = unlimited
	OrderBy       string
}

// ListNodes ordering constants.
const (
	OrderUpdatedDesc = "updated_desc"
	OrderCreatedDesc = "created_desc"
	OrderDegreeDesc  = "degree_desc"
)

// EdgeFilter narrows ListEdges.
type EdgeFilter struct {
	NodeID   string // Edges touching this node
	EdgeType string
	MinScore float64
	Limit    int
}

// NodePatch describes a partial node update. Nil fields are left unchanged.
type NodePatch struct {
	Title        *string
	Body         *string
	Tags         *[]string
	TokenCounts  *map[string]int
	Embedding    *[]float32 // Pointer to nil slice clears the embedding
	ChunkOrder   *int
	ApproxScored *bool
	Metadata     *map[string]any
}

// DegreeRepairReport compares stored acceptedDegree counters with the true
// degrees derived from the edge table.
type DegreeRepairReport struct {
	NodesScanned    int
	MismatchedNodes int
	MaxDelta        int
	Offenders       []DegreeOffender // Sample of at most maxOffenderSample entries
	Repaired        bool
}

// DegreeOffender is one node whose counter disagreed with the edge table.
type DegreeOffender struct {
	NodeID string
	Stored int
	Actual int
}

// Sentinel errors. Callers match with errors.Is; the engine facade maps them
// onto the user-facing error taxonomy.
var (
	ErrNodeNotFound     = errors.New("node not found")
	ErrEdgeNotFound     = errors.New("edge not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrEventNotFound    = errors.New("edge event not found")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrSelfLoop         = errors.New("self-loop edges are not allowed")
	ErrConflict         = errors.New("store invariant violated")
	ErrBusy             = errors.New("store file is held by another process")
	ErrNoBatch          = errors.New("no open batch")
)
