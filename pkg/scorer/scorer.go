package scorer

import (
	"math"
	"sort"

	"github.com/bwl/forest/pkg/store"
)

// Default acceptance thresholds.
const (
	DefaultSemanticThreshold = 0.5
	DefaultTagThreshold      = 0.3
)

// Thresholds hold the acceptance cutoffs for the dual-score model.
type Thresholds struct {
	Semantic float64
	Tag      float64
}

// DefaultThresholds returns the standard cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{Semantic: DefaultSemanticThreshold, Tag: DefaultTagThreshold}
}

// TagContext is a read-only IDF snapshot built from the full node set. It
// must not be shared across calls that mutate the node set.
type TagContext struct {
	IDF        map[string]float64
	MaxIDF     float64
	TotalNodes int64
}

// NewTagContext builds the snapshot from the persisted tag-IDF table.
func NewTagContext(rows []store.TagIDF, totalNodes int64) *TagContext {
	ctx := &TagContext{
		IDF:        make(map[string]float64, len(rows)),
		TotalNodes: totalNodes,
	}
	for _, row := range rows {
		ctx.IDF[row.Tag] = row.IDF
		if row.IDF > ctx.MaxIDF {
			ctx.MaxIDF = row.IDF
		}
	}
	return ctx
}

// IDFOf returns the snapshot IDF for a tag, computing the floor value for
// tags missing from the table (every tag has docFrequency >= 1).
func (c *TagContext) IDFOf(tag string) float64 {
	if idf, ok := c.IDF[tag]; ok {
		return idf
	}
	if c.TotalNodes > 1 {
		return math.Log(float64(c.TotalNodes))
	}
	return 0
}

// PairScore is the dual score for one pair of nodes.
type PairScore struct {
	SemanticScore *float64 // nil when either node lacks an embedding
	TagScore      *float64 // nil when the nodes share no tags
	SharedTags    []string // sorted unique intersection
	Score         float64  // max(semantic ?? 0, tag ?? 0)

	// Tag-score components, surfaced by the explain operation.
	Jaccard float64
	AvgIDF  float64
	MaxIDF  float64
}

// Score computes the dual score for a pair of nodes against the snapshot.
func (c *TagContext) Score(a, b *store.Node) PairScore {
	var ps PairScore
	ps.MaxIDF = c.MaxIDF

	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		cos := Cosine(a.Embedding, b.Embedding)
		ps.SemanticScore = &cos
	}

	shared, union := intersect(a.Tags, b.Tags)
	ps.SharedTags = shared
	if len(shared) > 0 {
		ps.Jaccard = float64(len(shared)) / float64(union)

		var sum float64
		for _, tag := range shared {
			sum += c.IDFOf(tag)
		}
		ps.AvgIDF = sum / float64(len(shared))

		tagScore := ps.Jaccard
		if c.MaxIDF > 0 {
			tagScore = ps.Jaccard * (ps.AvgIDF / c.MaxIDF)
		}
		tagScore = clip(tagScore, 0, 1)
		ps.TagScore = &tagScore
	}

	ps.Score = math.Max(deref(ps.SemanticScore), deref(ps.TagScore))
	return ps
}

// Accepted reports whether the pair crosses either acceptance threshold.
// Structural (non-semantic) edge types bypass classification entirely.
func (t Thresholds) Accepted(ps PairScore) bool {
	if ps.SemanticScore != nil && *ps.SemanticScore >= t.Semantic {
		return true
	}
	if ps.TagScore != nil && *ps.TagScore >= t.Tag {
		return true
	}
	return false
}

// intersect returns the sorted intersection and the union size of two
// normalized (sorted, unique, lowercase) tag sets.
func intersect(a, b []string) ([]string, int) {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	var shared []string
	union := len(a)
	for _, t := range b {
		if set[t] {
			shared = append(shared, t)
		} else {
			union++
		}
	}
	sort.Strings(shared)
	return shared, union
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
