package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelstreet/virtualpytest-sub002/internal/apperr"
	"github.com/angelstreet/virtualpytest-sub002/internal/httpapi"
	"github.com/angelstreet/virtualpytest-sub002/internal/model"
)

// hierarchyNode is one entry of a GET .../hierarchy response: a tree plus
// the subtrees anchored at each of its nodes, recursively.
type hierarchyNode struct {
	Tree     *model.Tree      `json:"tree"`
	Children []*hierarchyNode `json:"children,omitempty"`
}

// handleCreateSubtree implements POST .../{tree}/nodes/{node}/subtrees
// (spec.md §6.1): anchors a brand-new tree at an existing node, one level
// deeper than its parent. Rejects nesting past MaxHierarchyDepth with the
// literal message spec.md §8 Scenario 6 requires.
func (s *Server) handleCreateSubtree(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	parentTreeID, parentNodeID := r.PathValue("tree"), r.PathValue("node")

	parent, err := s.Store.GetTree(r.Context(), teamID, parentTreeID)
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.createSubtree", err)
		return
	}
	if _, err := s.Store.GetNode(r.Context(), teamID, parentTreeID, parentNodeID); err != nil {
		httpapi.WriteError(w, s.Log, "server.createSubtree", err)
		return
	}

	var tree model.Tree
	if err := httpapi.DecodeJSON(r, &tree); err != nil {
		httpapi.WriteError(w, s.Log, "server.createSubtree", err)
		return
	}
	if tree.TreeID == "" {
		tree.TreeID = uuid.NewString()
	}
	tree.TeamID = teamID
	tree.IsRootTree = false
	tree.ParentTreeID = parentTreeID
	tree.ParentNodeID = parentNodeID
	tree.TreeDepth = parent.TreeDepth + 1

	if tree.TreeDepth > model.MaxHierarchyDepth {
		httpapi.WriteError(w, s.Log, "server.createSubtree",
			apperr.Wrapf("server.createSubtree", "ValidationError", apperr.ErrValidation,
				"Maximum nesting depth reached (%d levels)", model.MaxHierarchyDepth))
		return
	}
	if err := tree.Validate(); err != nil {
		httpapi.WriteError(w, s.Log, "server.createSubtree",
			apperr.Wrapf("server.createSubtree", "ValidationError", apperr.ErrValidation, "%v", err))
		return
	}
	if err := s.Store.SaveTree(r.Context(), &tree); err != nil {
		httpapi.WriteError(w, s.Log, "server.createSubtree", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, tree)
}

// handleTreeHierarchy implements GET .../{id}/hierarchy: the tree named by
// {id} plus every subtree nested beneath it, recursively, mirroring the
// same "node anchors subtree" walk the cascade-delete path performs.
func (s *Server) handleTreeHierarchy(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	treeID := r.PathValue("id")

	root, err := s.Store.GetTree(r.Context(), teamID, treeID)
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.treeHierarchy", err)
		return
	}
	node, err := s.buildHierarchy(r.Context(), teamID, root)
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.treeHierarchy", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, node)
}

func (s *Server) buildHierarchy(ctx context.Context, teamID string, tree *model.Tree) (*hierarchyNode, error) {
	out := &hierarchyNode{Tree: tree}
	nodes, _, err := s.Store.ListNodesPaginated(ctx, teamID, tree.TreeID, 1, 0)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if !n.HasSubtree {
			continue
		}
		children, err := s.Store.ListChildTrees(ctx, teamID, tree.TreeID, n.NodeID)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			childNode, err := s.buildHierarchy(ctx, teamID, child)
			if err != nil {
				return nil, err
			}
			out.Children = append(out.Children, childNode)
		}
	}
	return out, nil
}

// breadcrumbEntry is one step of a GET .../breadcrumb response, root first.
type breadcrumbEntry struct {
	TreeID       string `json:"tree_id"`
	Name         string `json:"name"`
	ParentNodeID string `json:"parent_node_id,omitempty"`
}

// handleTreeBreadcrumb implements GET .../{id}/breadcrumb: the root-to-leaf
// path of trees ending at {id}, walking ParentTreeID links upward.
func (s *Server) handleTreeBreadcrumb(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	treeID := r.PathValue("id")

	var crumbs []breadcrumbEntry
	for treeID != "" {
		tree, err := s.Store.GetTree(r.Context(), teamID, treeID)
		if err != nil {
			httpapi.WriteError(w, s.Log, "server.treeBreadcrumb", err)
			return
		}
		crumbs = append([]breadcrumbEntry{{TreeID: tree.TreeID, Name: tree.Name, ParentNodeID: tree.ParentNodeID}}, crumbs...)
		treeID = tree.ParentTreeID
	}
	httpapi.WriteJSON(w, http.StatusOK, crumbs)
}

// handleCascadeDeleteTree implements DELETE .../{id}/cascade. The plain
// DELETE .../{id} already performs the full recursive cascade (spec.md line
// 38/234(c)/279), so this is an explicit-intent alias for callers that want
// to state the cascading behavior at the call site rather than rely on it
// being implicit in the bare delete.
func (s *Server) handleCascadeDeleteTree(w http.ResponseWriter, r *http.Request) {
	s.handleDeleteTree(w, r)
}

type moveSubtreeRequest struct {
	ParentTreeID string `json:"parent_tree_id"`
	ParentNodeID string `json:"parent_node_id"`
}

// handleMoveSubtree implements PUT .../{subtree}/move: reparents an
// existing subtree onto a different (tree, node) anchor, recomputing its
// own tree_depth and cascading that recompute to every tree nested beneath
// it (spec.md line 38 "T_c.tree_depth = T_parent.tree_depth + 1").
func (s *Server) handleMoveSubtree(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	subtreeID := r.PathValue("subtree")

	var req moveSubtreeRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, s.Log, "server.moveSubtree", err)
		return
	}

	tree, err := s.Store.GetTree(r.Context(), teamID, subtreeID)
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.moveSubtree", err)
		return
	}
	if tree.IsRootTree {
		httpapi.WriteError(w, s.Log, "server.moveSubtree",
			apperr.Wrapf("server.moveSubtree", "ValidationError", apperr.ErrValidation, "root tree %s has no parent to move", tree.TreeID))
		return
	}
	newParent, err := s.Store.GetTree(r.Context(), teamID, req.ParentTreeID)
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.moveSubtree", err)
		return
	}
	if _, err := s.Store.GetNode(r.Context(), teamID, req.ParentTreeID, req.ParentNodeID); err != nil {
		httpapi.WriteError(w, s.Log, "server.moveSubtree", err)
		return
	}

	newDepth := newParent.TreeDepth + 1
	if newDepth > model.MaxHierarchyDepth {
		httpapi.WriteError(w, s.Log, "server.moveSubtree",
			apperr.Wrapf("server.moveSubtree", "ValidationError", apperr.ErrValidation,
				"Maximum nesting depth reached (%d levels)", model.MaxHierarchyDepth))
		return
	}

	tree.ParentTreeID = req.ParentTreeID
	tree.ParentNodeID = req.ParentNodeID
	depthDelta := newDepth - tree.TreeDepth
	tree.TreeDepth = newDepth
	if err := tree.Validate(); err != nil {
		httpapi.WriteError(w, s.Log, "server.moveSubtree",
			apperr.Wrapf("server.moveSubtree", "ValidationError", apperr.ErrValidation, "%v", err))
		return
	}
	if err := s.Store.SaveTree(r.Context(), tree); err != nil {
		httpapi.WriteError(w, s.Log, "server.moveSubtree", err)
		return
	}

	if depthDelta != 0 {
		if err := s.recomputeDescendantDepths(r.Context(), teamID, tree, depthDelta); err != nil {
			httpapi.WriteError(w, s.Log, "server.moveSubtree", err)
			return
		}
	}
	httpapi.WriteJSON(w, http.StatusOK, tree)
}

// recomputeDescendantDepths shifts every tree nested beneath parent by
// delta, keeping tree_depth consistent with spec.md's per-level invariant
// after a move changes the depth of the subtree it was applied to.
func (s *Server) recomputeDescendantDepths(ctx context.Context, teamID string, parent *model.Tree, delta int) error {
	nodes, _, err := s.Store.ListNodesPaginated(ctx, teamID, parent.TreeID, 1, 0)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if !n.HasSubtree {
			continue
		}
		children, err := s.Store.ListChildTrees(ctx, teamID, parent.TreeID, n.NodeID)
		if err != nil {
			return err
		}
		for _, child := range children {
			child.TreeDepth += delta
			if child.TreeDepth > model.MaxHierarchyDepth || child.TreeDepth < 0 {
				return apperr.Wrapf("server.moveSubtree", "ValidationError", apperr.ErrValidation,
					"Maximum nesting depth reached (%d levels)", model.MaxHierarchyDepth)
			}
			if err := s.Store.SaveTree(ctx, child); err != nil {
				return err
			}
			if err := s.recomputeDescendantDepths(ctx, teamID, child, delta); err != nil {
				return err
			}
		}
	}
	return nil
}
