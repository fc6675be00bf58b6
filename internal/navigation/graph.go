// Package navigation loads tree hierarchies, assembles the unified
// cross-tree graph, answers pathfinding queries, and generates validation
// walks (spec.md §4.1). The Engine owns a single-writer/many-reader cache
// keyed by (root_tree_id, team_id), grounded on the teacher framework's
// orchestration/workflow_dag.go DAG-traversal idiom.
package navigation

import "github.com/angelstreet/virtualpytest-sub002/internal/model"

// EdgeKind tags a unified-graph edge as real or a synthesized hierarchy
// crossing (spec.md §3 Unified Graph).
type EdgeKind string

const (
	EdgeKindReal          EdgeKind = "real"
	EdgeKindEnterSubtree  EdgeKind = "ENTER_SUBTREE"
	EdgeKindExitSubtree   EdgeKind = "EXIT_SUBTREE"
)

// UnifiedEdge is one directed arc of the unified multigraph.
type UnifiedEdge struct {
	Kind               EdgeKind
	EdgeID             string // empty for virtual edges
	TreeID             string // owning tree for real edges; child tree id for ENTER/EXIT
	SourceNodeID       string
	TargetNodeID       string
	ActionSets         []model.ActionSet
	DefaultActionSetID string
	IsBidirectional    bool
	AlternativesCount  int
	HasTimerActions    bool
	Weight             int
}

func hasTimerActions(sets []model.ActionSet) bool {
	for _, s := range sets {
		if s.TimerMS > 0 {
			return true
		}
	}
	return false
}

// UnifiedGraph is the process-local in-memory structure assembled by
// BuildUnified. adjacency is keyed by source node_id.
type UnifiedGraph struct {
	RootTreeID string
	TeamID     string

	// NodeLocation maps node_id -> owning tree_id.
	NodeLocation map[string]string

	adjacency map[string][]*UnifiedEdge

	// BidirectionalIndex maps (source,target) -> the edge data, for both
	// directions of a bidirectional edge (spec.md §4.2b).
	BidirectionalIndex map[[2]string]*UnifiedEdge
}

// Edges returns the outgoing edges from a node, or nil if none.
func (g *UnifiedGraph) Edges(nodeID string) []*UnifiedEdge {
	return g.adjacency[nodeID]
}

// EdgeCount returns the structural edge count `|real_edges| +
// 2·|non_root_trees|` (spec.md §8): each real edge row counts once
// regardless of bidirectionality (the reverse arc added to adjacency for
// traversal is the same logical edge), and each non-root tree contributes
// its ENTER_SUBTREE and EXIT_SUBTREE virtual edges.
func (g *UnifiedGraph) EdgeCount() int {
	realSeen := map[[2]string]bool{} // (tree_id, edge_id)
	n := 0
	for _, edges := range g.adjacency {
		for _, e := range edges {
			if e.Kind != EdgeKindReal {
				n++
				continue
			}
			key := [2]string{e.TreeID, e.EdgeID}
			if !realSeen[key] {
				realSeen[key] = true
				n++
			}
		}
	}
	return n
}

// Transition is one hop of a computed path (spec.md §4.1 FindPath).
type Transition struct {
	FromNodeID  string
	ToNodeID    string
	Kind        EdgeKind
	EdgeID      string
	TreeID      string
	ActionSetID string
	IsCrossTree bool
}

// Hierarchy is the ordered set of trees from depth 0 to deepest (spec.md §4.1 LoadHierarchy).
type Hierarchy struct {
	RootTreeID string
	TeamID     string
	Trees      []*model.Tree // ordered by TreeDepth ascending
	Nodes      map[string][]*model.Node
	Edges      map[string][]*model.Edge
}
