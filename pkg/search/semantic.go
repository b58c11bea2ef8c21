// Package search provides semantic and metadata retrieval plus reference
// resolution over the node set.
package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/bwl/forest/pkg/embeddings"
	"github.com/bwl/forest/pkg/scorer"
	"github.com/bwl/forest/pkg/store"
)

// DefaultLimit caps result sets when the caller does not say otherwise.
const DefaultLimit = 10

// Service answers search queries.
type Service struct {
	store *store.Store
	embed *embeddings.Service
}

// NewService creates a search service.
func NewService(st *store.Store, embed *embeddings.Service) *Service {
	return &Service{store: st, embed: embed}
}

// Result is one ranked hit.
type Result struct {
	Node  *store.Node
	Score float64
	// ChunkNodeID is set when the hit came from a chunk that was collapsed
	// into its document's root node.
	ChunkNodeID string
}

// SemanticOptions configures semantic search.
type SemanticOptions struct {
	Limit    int
	MinScore float64
	// TagFilter keeps only nodes carrying at least one of these tags.
	TagFilter []string
}

// Semantic embeds the query and ranks all embedded nodes by cosine
// similarity. Chunk hits are de-duplicated: at most one entry per parent
// document, represented by the document's root node when one exists.
func (s *Service) Semantic(ctx context.Context, query string, opts SemanticOptions) ([]Result, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.MinScore < 0 || opts.MinScore > 1 {
		return nil, fmt.Errorf("minScore %f out of range [0, 1]", opts.MinScore)
	}

	queryVec := s.embed.EmbedText(ctx, query)
	if queryVec == nil {
		// No embedding, no semantic ranking: the contract is an empty
		// result, not an error.
		return nil, nil
	}

	nodes, err := s.store.ListNodes(ctx, store.NodeFilter{
		IncludeChunks: true,
		HasEmbedding:  true,
		Tags:          opts.TagFilter,
	})
	if err != nil {
		return nil, err
	}

	ranked := make([]Result, 0, len(nodes))
	for _, node := range nodes {
		score := scorer.Cosine(queryVec, node.Embedding)
		if score < opts.MinScore {
			continue
		}
		ranked = append(ranked, Result{Node: node, Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Node.ID < ranked[j].Node.ID
	})

	deduped, err := s.collapseChunks(ctx, ranked)
	if err != nil {
		return nil, err
	}

	if len(deduped) > opts.Limit {
		deduped = deduped[:opts.Limit]
	}
	return deduped, nil
}

// collapseChunks replaces chunk hits with their document's root node,
// keeping the best chunk's score, and drops further hits from the same
// document. Documents without a root node keep their single best chunk.
func (s *Service) collapseChunks(ctx context.Context, ranked []Result) ([]Result, error) {
	var out []Result
	seenDocs := make(map[string]bool)
	rootCache := make(map[string]*store.Node)

	for _, r := range ranked {
		if !r.Node.IsChunk {
			// Root nodes carry their document id; suppress duplicates when
			// a chunk from the same document already ranked higher.
			if r.Node.ParentDocumentID != "" {
				if seenDocs[r.Node.ParentDocumentID] {
					continue
				}
				seenDocs[r.Node.ParentDocumentID] = true
			}
			out = append(out, r)
			continue
		}

		docID := r.Node.ParentDocumentID
		if seenDocs[docID] {
			continue
		}
		seenDocs[docID] = true

		root, ok := rootCache[docID]
		if !ok {
			doc, err := s.store.GetDocument(ctx, docID)
			if err == nil && doc.RootNodeID != "" {
				if rootNode, rerr := s.store.GetNode(ctx, doc.RootNodeID); rerr == nil {
					root = rootNode
				}
			}
			rootCache[docID] = root
		}

		if root != nil {
			out = append(out, Result{Node: root, Score: r.Score, ChunkNodeID: r.Node.ID})
		} else {
			out = append(out, r)
		}
	}
	return out, nil
}
