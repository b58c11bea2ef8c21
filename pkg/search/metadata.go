package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwl/forest/pkg/store"
)

// Sort orders for metadata search.
const (
	SortRecency = "recency"
	SortDegree  = "degree"
	SortTitle   = "title"
)

// Criteria narrows a metadata search. Zero values mean "no constraint".
type Criteria struct {
	IDPrefix       string
	TitleExact     string
	TitleSubstring string
	BodySubstring  string
	TagsAll        []string
	TagsAny        []string
	Since          time.Time
	Until          time.Time
	Origin         string // Matches node metadata "origin"
	Creator        string // Matches node metadata "creator"
	IncludeChunks  bool
	SortBy         string // recency (default), degree, title
	Limit          int
}

// Metadata filters nodes by id, title, body, tags, time windows, and
// provenance fields. Substring matching is a plain scan; full-text indexing
// is out of scope.
func (s *Service) Metadata(ctx context.Context, criteria Criteria) ([]*store.Node, error) {
	if criteria.Limit <= 0 {
		criteria.Limit = DefaultLimit
	}

	var nodes []*store.Node
	var err error
	if criteria.IDPrefix != "" {
		nodes, err = s.store.FindNodesByIDPrefix(ctx, criteria.IDPrefix)
	} else {
		nodes, err = s.store.ListNodes(ctx, store.NodeFilter{
			IncludeChunks: criteria.IncludeChunks,
			Since:         criteria.Since,
			Until:         criteria.Until,
			Tags:          criteria.TagsAny,
		})
	}
	if err != nil {
		return nil, err
	}

	var out []*store.Node
	for _, node := range nodes {
		if !matches(node, criteria) {
			continue
		}
		out = append(out, node)
	}

	switch criteria.SortBy {
	case SortDegree:
		sort.Slice(out, func(i, j int) bool {
			if out[i].AcceptedDegree != out[j].AcceptedDegree {
				return out[i].AcceptedDegree > out[j].AcceptedDegree
			}
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		})
	case SortTitle:
		sort.Slice(out, func(i, j int) bool {
			return strings.ToLower(out[i].Title) < strings.ToLower(out[j].Title)
		})
	default:
		sort.Slice(out, func(i, j int) bool {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		})
	}

	if len(out) > criteria.Limit {
		out = out[:criteria.Limit]
	}
	return out, nil
}

func matches(node *store.Node, criteria Criteria) bool {
	if criteria.IDPrefix != "" {
		// Prefix filtering already happened in the store; the remaining
		// criteria still apply.
		if !criteria.IncludeChunks && node.IsChunk {
			return false
		}
		if !criteria.Since.IsZero() && node.UpdatedAt.Before(criteria.Since) {
			return false
		}
		if !criteria.Until.IsZero() && node.UpdatedAt.After(criteria.Until) {
			return false
		}
	}
	if criteria.TitleExact != "" && node.Title != criteria.TitleExact {
		return false
	}
	if criteria.TitleSubstring != "" &&
		!strings.Contains(strings.ToLower(node.Title), strings.ToLower(criteria.TitleSubstring)) {
		return false
	}
	if criteria.BodySubstring != "" &&
		!strings.Contains(strings.ToLower(node.Body), strings.ToLower(criteria.BodySubstring)) {
		return false
	}
	if len(criteria.TagsAll) > 0 {
		tagSet := make(map[string]bool, len(node.Tags))
		for _, t := range node.Tags {
			tagSet[t] = true
		}
		for _, t := range criteria.TagsAll {
			if !tagSet[strings.ToLower(t)] {
				return false
			}
		}
	}
	if len(criteria.TagsAny) > 0 {
		tagSet := make(map[string]bool, len(node.Tags))
		for _, t := range node.Tags {
			tagSet[t] = true
		}
		any := false
		for _, t := range criteria.TagsAny {
			if tagSet[strings.ToLower(t)] {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	if criteria.Origin != "" && metaString(node, "origin") != criteria.Origin {
		return false
	}
	if criteria.Creator != "" && metaString(node, "creator") != criteria.Creator {
		return false
	}
	return true
}

func metaString(node *store.Node, key string) string {
	if node.Metadata == nil {
		return ""
	}
	if v, ok := node.Metadata[key].(string); ok {
		return v
	}
	return ""
}
