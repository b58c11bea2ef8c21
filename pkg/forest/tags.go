package forest

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwl/forest/pkg/store"
)

// AddTag adds a tag to a node and relinks it.
func (e *Engine) AddTag(ctx context.Context, ref, tag string) (*store.Node, error) {
	node, err := e.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return nil, fmt.Errorf("tag cannot be empty: %w", store.ErrConflict)
	}
	for _, existing := range node.Tags {
		if existing == tag {
			return nil, fmt.Errorf("node already carries tag %q: %w", tag, store.ErrConflict)
		}
	}

	tags := append(append([]string{}, node.Tags...), tag)
	if err := e.store.UpdateNode(ctx, node.ID, store.NodePatch{Tags: &tags}); err != nil {
		return nil, err
	}
	if _, err := e.linker.RescoreNode(ctx, node.ID); err != nil {
		return nil, err
	}
	return e.store.GetNode(ctx, node.ID)
}

// RemoveTag removes a tag from a node and relinks it.
func (e *Engine) RemoveTag(ctx context.Context, ref, tag string) (*store.Node, error) {
	node, err := e.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	tag = strings.ToLower(strings.TrimSpace(tag))

	var tags []string
	found := false
	for _, existing := range node.Tags {
		if existing == tag {
			found = true
			continue
		}
		tags = append(tags, existing)
	}
	if !found {
		return nil, fmt.Errorf("node does not carry tag %q: %w", tag, store.ErrNodeNotFound)
	}
	if tags == nil {
		tags = []string{}
	}

	if err := e.store.UpdateNode(ctx, node.ID, store.NodePatch{Tags: &tags}); err != nil {
		return nil, err
	}
	if _, err := e.linker.RescoreNode(ctx, node.ID); err != nil {
		return nil, err
	}
	return e.store.GetNode(ctx, node.ID)
}

// RenameTagResult reports a tag rename.
type RenameTagResult struct {
	NodesUpdated    int
	NewDocFrequency int
}

// RenameTag rewrites a tag on every node carrying it, rebuilds the IDF
// table, and rescores the affected nodes. Nodes already carrying the new
// tag simply drop the old one.
func (e *Engine) RenameTag(ctx context.Context, oldTag, newTag string) (*RenameTagResult, error) {
	oldTag = strings.ToLower(strings.TrimSpace(oldTag))
	newTag = strings.ToLower(strings.TrimSpace(newTag))
	if oldTag == "" || newTag == "" {
		return nil, fmt.Errorf("tag names cannot be empty: %w", store.ErrConflict)
	}
	if oldTag == newTag {
		return nil, fmt.Errorf("old and new tag are identical: %w", store.ErrConflict)
	}

	ids, err := e.store.NodeIDsWithTag(ctx, oldTag)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("tag %q: %w", oldTag, store.ErrNodeNotFound)
	}

	if err := e.store.BeginBatch(); err != nil {
		return nil, err
	}
	var failed error
	for _, id := range ids {
		node, err := e.store.GetNode(ctx, id)
		if err != nil {
			failed = err
			break
		}
		var tags []string
		for _, t := range node.Tags {
			if t == oldTag {
				continue
			}
			tags = append(tags, t)
		}
		tags = append(tags, newTag)
		if err := e.store.UpdateNode(ctx, id, store.NodePatch{Tags: &tags}); err != nil {
			failed = err
			break
		}
	}
	if failed != nil {
		e.store.FailBatch(failed)
	}
	if err := e.store.EndBatch(); err != nil {
		return nil, err
	}
	if failed != nil {
		return nil, failed
	}

	if err := e.store.RebuildTagIDF(ctx); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, err := e.linker.RescoreNode(ctx, id); err != nil {
			return nil, err
		}
	}

	row, _, err := e.store.GetTagIDF(ctx, newTag)
	if err != nil {
		return nil, err
	}
	return &RenameTagResult{
		NodesUpdated:    len(ids),
		NewDocFrequency: row.DocFrequency,
	}, nil
}

// Tags returns the full tag-IDF table.
func (e *Engine) Tags(ctx context.Context) ([]store.TagIDF, error) {
	if err := e.store.RebuildTagIDF(ctx); err != nil {
		return nil, err
	}
	return e.store.AllTagIDF(ctx)
}
