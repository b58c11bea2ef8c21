// Package graph provides read-mostly in-memory views of the accepted edge
// graph for traversal. The authoritative edge set stays in the store; the
// view is rebuilt per call.
package graph

import (
	"container/heap"
	"context"
	"sort"

	"github.com/bwl/forest/pkg/store"
)

// Service answers traversal queries over the accepted edge graph.
type Service struct {
	store *store.Store
}

// NewService creates a graph service.
func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// view is one call's in-memory adjacency snapshot.
type view struct {
	adjacency map[string][]*store.Edge
}

func (s *Service) buildView(ctx context.Context) (*view, error) {
	edges, err := s.store.ListEdges(ctx, store.EdgeFilter{})
	if err != nil {
		return nil, err
	}
	v := &view{adjacency: make(map[string][]*store.Edge)}
	for _, e := range edges {
		v.adjacency[e.SourceID] = append(v.adjacency[e.SourceID], e)
		v.adjacency[e.TargetID] = append(v.adjacency[e.TargetID], e)
	}
	return v, nil
}

func peerOf(e *store.Edge, nodeID string) string {
	if e.SourceID == nodeID {
		return e.TargetID
	}
	return e.SourceID
}

// NeighborhoodResult is one BFS expansion.
type NeighborhoodResult struct {
	Nodes []NeighborNode
	Edges []*store.Edge
}

// NeighborNode is one node reached by the expansion.
type NeighborNode struct {
	Node  *store.Node
	Depth int      // Hops from the origin
	Score float64  // Score of the edge the node was first discovered through
}

// Neighborhood expands breadth-first over accepted edges (any type) from the
// origin, best-first within each depth (higher edge score first), capped by
// limit (0 = unlimited). The origin itself is not returned.
func (s *Service) Neighborhood(ctx context.Context, nodeID string, depth, limit int) (*NeighborhoodResult, error) {
	if depth < 1 {
		depth = 1
	}
	if _, err := s.store.GetNode(ctx, nodeID); err != nil {
		return nil, err
	}

	v, err := s.buildView(ctx)
	if err != nil {
		return nil, err
	}

	type found struct {
		id    string
		depth int
		score float64
	}
	visited := map[string]bool{nodeID: true}
	var discovered []found
	seenEdges := make(map[string]bool)
	var edges []*store.Edge

	frontier := []found{{id: nodeID, depth: 0, score: 1.0}}
	for len(frontier) > 0 && (limit <= 0 || len(discovered) < limit) {
		var next []found
		for _, cur := range frontier {
			if cur.depth >= depth {
				continue
			}
			adjacent := v.adjacency[cur.id]
			// Best-first within this node's fan-out.
			sorted := make([]*store.Edge, len(adjacent))
			copy(sorted, adjacent)
			sort.Slice(sorted, func(i, j int) bool {
				if sorted[i].Score != sorted[j].Score {
					return sorted[i].Score > sorted[j].Score
				}
				return sorted[i].ID < sorted[j].ID
			})
			for _, e := range sorted {
				peer := peerOf(e, cur.id)
				if !seenEdges[e.ID] {
					seenEdges[e.ID] = true
					edges = append(edges, e)
				}
				if visited[peer] {
					continue
				}
				visited[peer] = true
				f := found{id: peer, depth: cur.depth + 1, score: e.Score}
				discovered = append(discovered, f)
				next = append(next, f)
				if limit > 0 && len(discovered) >= limit {
					break
				}
			}
			if limit > 0 && len(discovered) >= limit {
				break
			}
		}
		frontier = next
	}

	// Best-first ordering of the final set: depth, then score descending.
	sort.Slice(discovered, func(i, j int) bool {
		if discovered[i].depth != discovered[j].depth {
			return discovered[i].depth < discovered[j].depth
		}
		if discovered[i].score != discovered[j].score {
			return discovered[i].score > discovered[j].score
		}
		return discovered[i].id < discovered[j].id
	})

	ids := make([]string, len(discovered))
	for i, f := range discovered {
		ids[i] = f.id
	}
	nodes, err := s.store.GetNodesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*store.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	result := &NeighborhoodResult{Edges: edges}
	for _, f := range discovered {
		if node, ok := byID[f.id]; ok {
			result.Nodes = append(result.Nodes, NeighborNode{Node: node, Depth: f.depth, Score: f.score})
		}
	}
	return result, nil
}

// PathStep is one hop of a shortest path.
type PathStep struct {
	Node         *store.Node
	IncomingEdge *store.Edge // nil for the origin
}

// PathResult is the outcome of a shortest-path query.
type PathResult struct {
	Found      bool
	Steps      []PathStep
	Hops       int
	TotalScore float64 // Sum of edge scores along the path
	Distance   float64 // Sum of (1 - score) along the path
}

// ShortestPath runs Dijkstra over the accepted-edge graph with per-edge
// distance 1 - score. Found is false when the endpoints are disconnected.
func (s *Service) ShortestPath(ctx context.Context, from, to string) (*PathResult, error) {
	if _, err := s.store.GetNode(ctx, from); err != nil {
		return nil, err
	}
	if _, err := s.store.GetNode(ctx, to); err != nil {
		return nil, err
	}
	if from == to {
		node, err := s.store.GetNode(ctx, from)
		if err != nil {
			return nil, err
		}
		return &PathResult{Found: true, Steps: []PathStep{{Node: node}}}, nil
	}

	v, err := s.buildView(ctx)
	if err != nil {
		return nil, err
	}

	dist := map[string]float64{from: 0}
	prevEdge := make(map[string]*store.Edge)
	prevNode := make(map[string]string)
	done := make(map[string]bool)

	pq := &distQueue{}
	heap.Init(pq)
	heap.Push(pq, distItem{id: from, dist: 0})

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(distItem)
		if done[cur.id] {
			continue
		}
		done[cur.id] = true
		if cur.id == to {
			break
		}

		for _, e := range v.adjacency[cur.id] {
			peer := peerOf(e, cur.id)
			if done[peer] {
				continue
			}
			weight := 1.0 - e.Score
			if weight < 0 {
				weight = 0
			}
			alt := cur.dist + weight
			if old, seen := dist[peer]; !seen || alt < old {
				dist[peer] = alt
				prevEdge[peer] = e
				prevNode[peer] = cur.id
				heap.Push(pq, distItem{id: peer, dist: alt})
			}
		}
	}

	if !done[to] {
		return &PathResult{Found: false}, nil
	}

	// Walk back from the target.
	var ids []string
	var incoming []*store.Edge
	for cur := to; ; {
		ids = append([]string{cur}, ids...)
		e := prevEdge[cur]
		incoming = append([]*store.Edge{e}, incoming...)
		if cur == from {
			break
		}
		cur = prevNode[cur]
	}

	nodes, err := s.store.GetNodesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*store.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	result := &PathResult{Found: true, Distance: dist[to]}
	for i, id := range ids {
		step := PathStep{Node: byID[id], IncomingEdge: incoming[i]}
		result.Steps = append(result.Steps, step)
		if step.IncomingEdge != nil {
			result.Hops++
			result.TotalScore += step.IncomingEdge.Score
		}
	}
	return result, nil
}

// DegreeReport compares stored acceptedDegree counters with the edge table.
func (s *Service) DegreeReport(ctx context.Context) (*store.DegreeRepairReport, error) {
	return s.store.DegreeReport(ctx)
}

// HotNodes returns the k highest-degree nodes.
func (s *Service) HotNodes(ctx context.Context, k int) ([]*store.Node, error) {
	if k <= 0 {
		k = 10
	}
	return s.store.ListNodes(ctx, store.NodeFilter{OrderBy: store.OrderDegreeDesc, Limit: k})
}

// RecentNodes returns the k most recently updated nodes.
func (s *Service) RecentNodes(ctx context.Context, k int) ([]*store.Node, error) {
	if k <= 0 {
		k = 10
	}
	return s.store.ListNodes(ctx, store.NodeFilter{OrderBy: store.OrderUpdatedDesc, Limit: k})
}

// distQueue is the Dijkstra priority queue.
type distItem struct {
	id   string
	dist float64
}

type distQueue []distItem

func (q distQueue) Len() int { return len(q) }
func (q distQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].id < q[j].id
}
func (q distQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *distQueue) Push(x any)   { *q = append(*q, x.(distItem)) }
func (q *distQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
