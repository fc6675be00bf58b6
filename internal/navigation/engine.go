package navigation

import (
	"context"
	"sync"

	"github.com/angelstreet/virtualpytest-sub002/internal/apperr"
	"github.com/angelstreet/virtualpytest-sub002/internal/logger"
	"github.com/angelstreet/virtualpytest-sub002/internal/model"
	"github.com/angelstreet/virtualpytest-sub002/internal/persistence"
)

type cacheKey struct {
	RootTreeID string
	TeamID     string
}

type cacheEntry struct {
	graph     *UnifiedGraph
	hierarchy *Hierarchy
}

// Engine is the Navigation Engine (spec.md §4.1): single writer, many
// readers over a unified-graph cache keyed by (root_tree_id, team_id).
// Grounded on the teacher's orchestration package, which likewise keeps a
// DAG built once and traversed by many concurrent callers.
type Engine struct {
	store persistence.Store
	log   logger.Logger

	mu    sync.RWMutex
	cache map[cacheKey]*cacheEntry

	// treeToRoot lets Invalidate find the root entry to drop when an
	// arbitrary tree/node/edge write lands on a non-root tree.
	treeToRoot map[[2]string]cacheKey // (team_id,tree_id) -> owning cacheKey
}

// NewEngine constructs an Engine with an empty cache.
func NewEngine(store persistence.Store, log logger.Logger) *Engine {
	if log == nil {
		log = logger.Noop()
	}
	return &Engine{
		store:      store,
		log:        log,
		cache:      map[cacheKey]*cacheEntry{},
		treeToRoot: map[[2]string]cacheKey{},
	}
}

// Load loads the hierarchy, builds the unified graph, and caches both
// (spec.md §4.1 Caching). Call this before FindPath/ActionSetFor;
// ValidationSequence reads the store directly and does not need it.
func (e *Engine) Load(ctx context.Context, rootTreeID, teamID string) (*UnifiedGraph, error) {
	h, err := e.LoadHierarchy(ctx, rootTreeID, teamID)
	if err != nil {
		return nil, err
	}
	g, err := e.BuildUnified(h)
	if err != nil {
		return nil, err
	}

	k := cacheKey{RootTreeID: rootTreeID, TeamID: teamID}
	e.mu.Lock()
	e.cache[k] = &cacheEntry{graph: g, hierarchy: h}
	for _, t := range h.Trees {
		e.treeToRoot[[2]string{teamID, t.TreeID}] = k
	}
	e.mu.Unlock()

	e.log.Info("unified graph loaded", logger.Fields{
		"root_tree_id": rootTreeID, "team_id": teamID, "tree_count": len(h.Trees), "edge_count": g.EdgeCount(),
	})
	return g, nil
}

func (e *Engine) cached(rootTreeID, teamID string) (*cacheEntry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.cache[cacheKey{RootTreeID: rootTreeID, TeamID: teamID}]
	return entry, ok
}

// Invalidate drops the cache entry owning treeID by walking parent_tree_id
// to the root (spec.md §4.1: "any write to a node, edge, or tree in the
// hierarchy invalidates the root entry"). Call after every persistence
// write touching a tree in a loaded hierarchy.
func (e *Engine) Invalidate(teamID, treeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k, ok := e.treeToRoot[[2]string{teamID, treeID}]
	if !ok {
		return
	}
	delete(e.cache, k)
	for tk, owner := range e.treeToRoot {
		if owner == k {
			delete(e.treeToRoot, tk)
		}
	}
}

// ActionSetFor resolves a Transition's (tree_id, edge_id, action_set_id) to
// the underlying ActionSet so the executor's navigation-node dispatch can
// run the transition's actions without a second persistence round-trip.
// Requires the owning hierarchy to already be cached (errCacheMissing if not).
func (e *Engine) ActionSetFor(rootTreeID, teamID string, t Transition) (*model.ActionSet, error) {
	entry, ok := e.cached(rootTreeID, teamID)
	if !ok {
		return nil, errCacheMissing("ActionSetFor")
	}
	for _, edge := range entry.hierarchy.Edges[t.TreeID] {
		if edge.EdgeID != t.EdgeID {
			continue
		}
		for i := range edge.ActionSets {
			if edge.ActionSets[i].ID == t.ActionSetID {
				return &edge.ActionSets[i], nil
			}
		}
	}
	return nil, apperr.Wrapf("ActionSetFor", "NotFound", apperr.ErrNotFound,
		"edge %s action set %s not found in tree %s", t.EdgeID, t.ActionSetID, t.TreeID)
}

// errCacheMissing wraps apperr.ErrUnifiedCacheMissing so FindPath and
// ActionSetFor fail fast on an unloaded hierarchy per spec.md §4.1/§7.
func errCacheMissing(op string) error {
	return apperr.New(op, "UnifiedCacheMissing", apperr.ErrUnifiedCacheMissing)
}
