package navigation

import (
	"context"
	"fmt"

	"github.com/angelstreet/virtualpytest-sub002/internal/apperr"
	"github.com/angelstreet/virtualpytest-sub002/internal/model"
)

// LoadHierarchy returns the ordered list of trees in the hierarchy rooted
// at rootTreeID, depth 0 to deepest, fetching every tree's nodes and edges.
func (e *Engine) LoadHierarchy(ctx context.Context, rootTreeID, teamID string) (*Hierarchy, error) {
	root, err := e.store.GetTree(ctx, teamID, rootTreeID)
	if err != nil {
		return nil, apperr.New("LoadHierarchy", "TreeNotFound", apperr.ErrNotFound)
	}
	if !root.IsRootTree {
		return nil, apperr.Wrapf("LoadHierarchy", "BrokenParentLink", apperr.ErrValidation,
			"tree %s is not a root tree", rootTreeID)
	}

	h := &Hierarchy{
		RootTreeID: rootTreeID,
		TeamID:     teamID,
		Trees:      []*model.Tree{root},
		Nodes:      map[string][]*model.Node{},
		Edges:      map[string][]*model.Edge{},
	}

	frontier := []*model.Tree{root}
	for len(frontier) > 0 {
		var next []*model.Tree
		for _, t := range frontier {
			children, err := e.store.ListChildTrees(ctx, teamID, t.TreeID, "")
			if err != nil {
				return nil, apperr.Wrapf("LoadHierarchy", "BrokenParentLink", apperr.ErrValidation,
					"loading children of %s: %v", t.TreeID, err)
			}
			for _, c := range children {
				if c.TreeDepth > model.MaxHierarchyDepth {
					return nil, apperr.Wrapf("LoadHierarchy", "HierarchyDepthExceeded", apperr.ErrValidation,
						"tree %s exceeds max depth %d", c.TreeID, model.MaxHierarchyDepth)
				}
				if c.ParentTreeID != t.TreeID {
					return nil, apperr.Wrapf("LoadHierarchy", "BrokenParentLink", apperr.ErrValidation,
						"tree %s parent_tree_id %s does not match traversal parent %s", c.TreeID, c.ParentTreeID, t.TreeID)
				}
				h.Trees = append(h.Trees, c)
				next = append(next, c)
			}
		}
		frontier = next
	}

	for _, t := range h.Trees {
		nodes, _, err := e.store.ListNodesPaginated(ctx, teamID, t.TreeID, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("load nodes for tree %s: %w", t.TreeID, err)
		}
		h.Nodes[t.TreeID] = nodes

		edges, err := e.store.ListEdges(ctx, teamID, t.TreeID, nil)
		if err != nil {
			return nil, fmt.Errorf("load edges for tree %s: %w", t.TreeID, err)
		}
		h.Edges[t.TreeID] = edges
	}

	return h, nil
}
