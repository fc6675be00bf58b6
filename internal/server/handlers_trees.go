package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/angelstreet/virtualpytest-sub002/internal/apperr"
	"github.com/angelstreet/virtualpytest-sub002/internal/httpapi"
	"github.com/angelstreet/virtualpytest-sub002/internal/model"
)

// fullTreeView is the GET .../full response: a tree plus every node and
// edge it currently holds.
type fullTreeView struct {
	Tree  *model.Tree   `json:"tree"`
	Nodes []*model.Node `json:"nodes"`
	Edges []*model.Edge `json:"edges"`
}

func (s *Server) handleGetTreeMetadata(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	tree, err := s.Store.GetTree(r.Context(), teamID, r.PathValue("id"))
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.getTreeMetadata", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, tree)
}

func (s *Server) handleSaveTreeMetadata(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	var tree model.Tree
	if err := httpapi.DecodeJSON(r, &tree); err != nil {
		httpapi.WriteError(w, s.Log, "server.saveTreeMetadata", err)
		return
	}
	tree.TeamID = teamID
	if tree.TreeID == "" {
		tree.TreeID = r.PathValue("id")
	}
	if err := tree.Validate(); err != nil {
		httpapi.WriteError(w, s.Log, "server.saveTreeMetadata",
			apperr.Wrapf("server.saveTreeMetadata", "ValidationError", apperr.ErrValidation, "%v", err))
		return
	}
	if err := s.Store.SaveTree(r.Context(), &tree); err != nil {
		httpapi.WriteError(w, s.Log, "server.saveTreeMetadata", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, tree)
}

func (s *Server) handleDeleteTree(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	if err := s.Store.DeleteTree(r.Context(), teamID, r.PathValue("id")); err != nil {
		httpapi.WriteError(w, s.Log, "server.deleteTree", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	treeID := r.PathValue("id")
	page, limit := paginationParams(r)
	nodes, total, err := s.Store.ListNodesPaginated(r.Context(), teamID, treeID, page, limit)
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.listNodes", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"nodes": nodes, "total": total, "page": page, "limit": limit})
}

func (s *Server) handleSaveNode(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	var node model.Node
	if err := httpapi.DecodeJSON(r, &node); err != nil {
		httpapi.WriteError(w, s.Log, "server.saveNode", err)
		return
	}
	node.TreeID = r.PathValue("id")
	if err := s.Store.SaveNode(r.Context(), teamID, &node); err != nil {
		httpapi.WriteError(w, s.Log, "server.saveNode", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, node)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	if err := s.Store.DeleteNode(r.Context(), teamID, r.PathValue("id"), r.PathValue("node")); err != nil {
		httpapi.WriteError(w, s.Log, "server.deleteNode", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

func (s *Server) handleListEdges(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	treeID := r.PathValue("id")
	var nodeIDs []string
	if v := r.URL.Query().Get("node_ids"); v != "" {
		nodeIDs = strings.Split(v, ",")
	}
	edges, err := s.Store.ListEdges(r.Context(), teamID, treeID, nodeIDs)
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.listEdges", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, edges)
}

func (s *Server) handleSaveEdge(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	var edge model.Edge
	if err := httpapi.DecodeJSON(r, &edge); err != nil {
		httpapi.WriteError(w, s.Log, "server.saveEdge", err)
		return
	}
	edge.TreeID = r.PathValue("id")
	if err := edge.Validate(); err != nil {
		httpapi.WriteError(w, s.Log, "server.saveEdge",
			apperr.Wrapf("server.saveEdge", "ValidationError", apperr.ErrValidation, "%v", err))
		return
	}
	if err := s.Store.SaveEdge(r.Context(), teamID, &edge); err != nil {
		httpapi.WriteError(w, s.Log, "server.saveEdge", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, edge)
}

func (s *Server) handleDeleteEdge(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	if err := s.Store.DeleteEdge(r.Context(), teamID, r.PathValue("id"), r.PathValue("edge")); err != nil {
		httpapi.WriteError(w, s.Log, "server.deleteEdge", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

func (s *Server) handleGetFullTree(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	treeID := r.PathValue("id")

	tree, err := s.Store.GetTree(r.Context(), teamID, treeID)
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.getFullTree", err)
		return
	}
	nodes, _, err := s.Store.ListNodesPaginated(r.Context(), teamID, treeID, 1, 0)
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.getFullTree", err)
		return
	}
	edges, err := s.Store.ListEdges(r.Context(), teamID, treeID, nil)
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.getFullTree", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, fullTreeView{Tree: tree, Nodes: nodes, Edges: edges})
}

func (s *Server) handleGetNodeSubTrees(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	children, err := s.Store.ListChildTrees(r.Context(), teamID, r.PathValue("tree"), r.PathValue("node"))
	if err != nil {
		httpapi.WriteError(w, s.Log, "server.getNodeSubTrees", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, children)
}

func paginationParams(r *http.Request) (page, limit int) {
	page, limit = 1, 0
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return page, limit
}
