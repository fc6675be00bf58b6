package navigation

import (
	"github.com/angelstreet/virtualpytest-sub002/internal/apperr"
)

// entryNodeID and exitNodeID resolve a subtree's designated entry/exit
// points. The teacher repo has no screen-hierarchy concept to ground this
// on; spec.md §3 only says "entry_of(T_child)"/"exit_of(T_child)", so by
// convention the tree's root node (is_root) serves as both entry and exit;
// node types are not consulted.
func entryNodeID(h *Hierarchy, treeID string) (string, bool) {
	for _, n := range h.Nodes[treeID] {
		if n.IsRoot {
			return n.NodeID, true
		}
	}
	return "", false
}

func exitNodeID(h *Hierarchy, treeID string) (string, bool) {
	return entryNodeID(h, treeID)
}

// BuildUnified assembles the multigraph from a loaded hierarchy (spec.md
// §4.1): real edges keep their action-set metadata; each non-root tree
// contributes two virtual ENTER_SUBTREE/EXIT_SUBTREE edges at its parent
// anchor node.
func (e *Engine) BuildUnified(h *Hierarchy) (*UnifiedGraph, error) {
	g := &UnifiedGraph{
		RootTreeID:         h.RootTreeID,
		TeamID:             h.TeamID,
		NodeLocation:       map[string]string{},
		adjacency:          map[string][]*UnifiedEdge{},
		BidirectionalIndex: map[[2]string]*UnifiedEdge{},
	}

	for _, t := range h.Trees {
		for _, n := range h.Nodes[t.TreeID] {
			g.NodeLocation[n.NodeID] = t.TreeID
		}
	}

	for _, t := range h.Trees {
		for _, edge := range h.Edges[t.TreeID] {
			if err := edge.Validate(); err != nil {
				return nil, apperr.Wrapf("BuildUnified", "ValidationError", apperr.ErrValidation, "%v", err)
			}
			ue := &UnifiedEdge{
				Kind:               EdgeKindReal,
				EdgeID:             edge.EdgeID,
				TreeID:             t.TreeID,
				SourceNodeID:       edge.SourceNodeID,
				TargetNodeID:       edge.TargetNodeID,
				ActionSets:         edge.ActionSets,
				DefaultActionSetID: edge.DefaultActionSetID,
				IsBidirectional:    edge.IsBidirectional(),
				AlternativesCount:  len(edge.ActionSets),
				HasTimerActions:    hasTimerActions(edge.ActionSets),
				Weight:             1,
			}
			g.adjacency[edge.SourceNodeID] = append(g.adjacency[edge.SourceNodeID], ue)
			g.BidirectionalIndex[[2]string{edge.SourceNodeID, edge.TargetNodeID}] = ue

			if ue.IsBidirectional {
				reverseSet, _ := edge.ReverseActionSet()
				reverseDefaultID := edge.DefaultActionSetID
				if reverseSet != nil {
					reverseDefaultID = reverseSet.ID
				}
				reverse := &UnifiedEdge{
					Kind: EdgeKindReal, EdgeID: edge.EdgeID, TreeID: t.TreeID,
					SourceNodeID: edge.TargetNodeID, TargetNodeID: edge.SourceNodeID,
					ActionSets: edge.ActionSets, DefaultActionSetID: reverseDefaultID,
					IsBidirectional: true, AlternativesCount: len(edge.ActionSets),
					HasTimerActions: ue.HasTimerActions, Weight: 1,
				}
				g.adjacency[edge.TargetNodeID] = append(g.adjacency[edge.TargetNodeID], reverse)
				g.BidirectionalIndex[[2]string{edge.TargetNodeID, edge.SourceNodeID}] = reverse
			}
		}

		if t.IsRootTree {
			continue
		}
		entry, ok := entryNodeID(h, t.TreeID)
		if !ok {
			return nil, apperr.Wrapf("BuildUnified", "ValidationError", apperr.ErrValidation,
				"subtree %s has no entry node", t.TreeID)
		}
		exit, ok := exitNodeID(h, t.TreeID)
		if !ok {
			return nil, apperr.Wrapf("BuildUnified", "ValidationError", apperr.ErrValidation,
				"subtree %s has no exit node", t.TreeID)
		}

		enter := &UnifiedEdge{Kind: EdgeKindEnterSubtree, TreeID: t.TreeID, SourceNodeID: t.ParentNodeID, TargetNodeID: entry, Weight: 1}
		exitEdge := &UnifiedEdge{Kind: EdgeKindExitSubtree, TreeID: t.TreeID, SourceNodeID: exit, TargetNodeID: t.ParentNodeID, Weight: 1}
		g.adjacency[t.ParentNodeID] = append(g.adjacency[t.ParentNodeID], enter)
		g.adjacency[exit] = append(g.adjacency[exit], exitEdge)
	}

	return g, nil
}
