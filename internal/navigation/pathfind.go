package navigation

import (
	"container/heap"
	"context"

	"github.com/angelstreet/virtualpytest-sub002/internal/apperr"
)

// pathCost is compared lexicographically: fewest hops first, then fewest
// cross-tree transitions, then lowest summed action-set priority (spec.md
// §4.1 FindPath tie-break rule).
type pathCost struct {
	hops       int
	crossTree  int
	prioritySum int
}

func (a pathCost) less(b pathCost) bool {
	if a.hops != b.hops {
		return a.hops < b.hops
	}
	if a.crossTree != b.crossTree {
		return a.crossTree < b.crossTree
	}
	return a.prioritySum < b.prioritySum
}

func (a pathCost) plus(edge *UnifiedEdge) pathCost {
	cross := 0
	if edge.Kind != EdgeKindReal {
		cross = 1
	}
	priority := 0
	if as, ok := edge.DefaultActionSetIDResolved(); ok {
		priority = as.Priority
	}
	return pathCost{hops: a.hops + 1, crossTree: a.crossTree + cross, prioritySum: a.prioritySum + priority}
}

// DefaultActionSetIDResolved returns the action set named by
// DefaultActionSetID, for priority-based tie-breaking during pathfinding.
func (e *UnifiedEdge) DefaultActionSetIDResolved() (*ActionSetRef, bool) {
	for i := range e.ActionSets {
		if e.ActionSets[i].ID == e.DefaultActionSetID {
			return &ActionSetRef{ID: e.ActionSets[i].ID, Priority: e.ActionSets[i].Priority}, true
		}
	}
	return nil, false
}

// ActionSetRef is a minimal projection used only for cost accumulation.
type ActionSetRef struct {
	ID       string
	Priority int
}

type pqItem struct {
	nodeID string
	cost   pathCost
	index  int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].cost.less(pq[j].cost) }
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index, pq[j].index = i, j
}
func (pq *priorityQueue) Push(x interface{}) {
	item := x.(*pqItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

type predEntry struct {
	fromNodeID string
	edge       *UnifiedEdge
}

// FindPath computes the shortest path to targetNodeID from startNodeID
// (defaulting to the unified graph's designated root entry when empty)
// using Dijkstra over a unit-weight graph with the composite tie-break
// cost above (spec.md §4.1). It requires a previously loaded/cached
// unified graph -- UnifiedCacheMissing is returned otherwise (no
// single-tree fallback).
func (e *Engine) FindPath(ctx context.Context, rootTreeID, targetNodeID, teamID, startNodeID string) ([]Transition, error) {
	entry, ok := e.cached(rootTreeID, teamID)
	if !ok {
		return nil, errCacheMissing("FindPath")
	}
	g := entry.graph

	if startNodeID == "" {
		if root, ok := entryNodeID(entry.hierarchy, rootTreeID); ok {
			startNodeID = root
		}
	}
	if startNodeID == targetNodeID {
		return []Transition{}, nil
	}

	dist := map[string]pathCost{startNodeID: {}}
	pred := map[string]predEntry{}
	visited := map[string]bool{}

	pq := &priorityQueue{{nodeID: startNodeID, cost: pathCost{}}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*pqItem)
		if visited[cur.nodeID] {
			continue
		}
		visited[cur.nodeID] = true
		if cur.nodeID == targetNodeID {
			break
		}

		for _, edge := range g.Edges(cur.nodeID) {
			if visited[edge.TargetNodeID] {
				continue
			}
			next := cur.cost.plus(edge)
			if existing, ok := dist[edge.TargetNodeID]; !ok || next.less(existing) {
				dist[edge.TargetNodeID] = next
				pred[edge.TargetNodeID] = predEntry{fromNodeID: cur.nodeID, edge: edge}
				heap.Push(pq, &pqItem{nodeID: edge.TargetNodeID, cost: next})
			}
		}
	}

	if _, ok := dist[targetNodeID]; !ok {
		return nil, apperr.New("FindPath", "NotFound", apperr.ErrNotFound)
	}

	var transitions []Transition
	node := targetNodeID
	for node != startNodeID {
		p, ok := pred[node]
		if !ok {
			break
		}
		edge := p.edge
		asID := edge.DefaultActionSetID
		transitions = append([]Transition{{
			FromNodeID:  p.fromNodeID,
			ToNodeID:    node,
			Kind:        edge.Kind,
			EdgeID:      edge.EdgeID,
			TreeID:      edge.TreeID,
			ActionSetID: asID,
			IsCrossTree: edge.Kind != EdgeKindReal,
		}}, transitions...)
		node = p.fromNodeID
	}
	return transitions, nil
}
