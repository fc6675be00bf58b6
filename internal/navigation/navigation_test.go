package navigation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelstreet/virtualpytest-sub002/internal/apperr"
	"github.com/angelstreet/virtualpytest-sub002/internal/model"
	"github.com/angelstreet/virtualpytest-sub002/internal/persistence"
)

func simpleEdge(treeID, edgeID, src, dst string, bidirectional bool) *model.Edge {
	sets := []model.ActionSet{{ID: "fwd", Actions: []model.Action{{Command: "tap"}}}}
	if bidirectional {
		sets = append(sets, model.ActionSet{ID: "rev", Actions: []model.Action{{Command: "back"}}})
	}
	return &model.Edge{TreeID: treeID, EdgeID: edgeID, SourceNodeID: src, TargetNodeID: dst, ActionSets: sets, DefaultActionSetID: "fwd"}
}

func seedSingleTree(t *testing.T, store *persistence.MemoryStore, teamID, treeID string) {
	ctx := context.Background()
	require.NoError(t, store.SaveTree(ctx, &model.Tree{TreeID: treeID, TeamID: teamID, Name: "root", IsRootTree: true}))
	require.NoError(t, store.SaveNode(ctx, teamID, &model.Node{TreeID: treeID, NodeID: "home", NodeType: model.NodeTypeEntry, IsRoot: true}))
	require.NoError(t, store.SaveNode(ctx, teamID, &model.Node{TreeID: treeID, NodeID: "settings", NodeType: model.NodeTypeScreen}))
	require.NoError(t, store.SaveNode(ctx, teamID, &model.Node{TreeID: treeID, NodeID: "about", NodeType: model.NodeTypeScreen}))
	require.NoError(t, store.SaveEdge(ctx, teamID, simpleEdge(treeID, "e1", "home", "settings", true)))
	require.NoError(t, store.SaveEdge(ctx, teamID, simpleEdge(treeID, "e2", "settings", "about", false)))
}

func TestEngine_FindPath_RequiresLoadedCache(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore(nil)
	seedSingleTree(t, store, "t1", "root")
	eng := NewEngine(store, nil)

	_, err := eng.FindPath(ctx, "root", "settings", "t1", "home")
	assert.ErrorIs(t, err, apperr.ErrUnifiedCacheMissing)
}

func TestEngine_FindPath_ShortestRoute(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore(nil)
	seedSingleTree(t, store, "t1", "root")
	eng := NewEngine(store, nil)

	_, err := eng.Load(ctx, "root", "t1")
	require.NoError(t, err)

	path, err := eng.FindPath(ctx, "root", "about", "t1", "home")
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, "home", path[0].FromNodeID)
	assert.Equal(t, "settings", path[0].ToNodeID)
	assert.Equal(t, "settings", path[1].FromNodeID)
	assert.Equal(t, "about", path[1].ToNodeID)
}

func TestEngine_BuildUnified_EdgeCountInvariant(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore(nil)
	require.NoError(t, store.SaveTree(ctx, &model.Tree{TreeID: "root", TeamID: "t1", IsRootTree: true}))
	require.NoError(t, store.SaveNode(ctx, "t1", &model.Node{TreeID: "root", NodeID: "home", IsRoot: true, NodeType: model.NodeTypeEntry}))
	require.NoError(t, store.SaveNode(ctx, "t1", &model.Node{TreeID: "root", NodeID: "settings", NodeType: model.NodeTypeScreen}))
	require.NoError(t, store.SaveEdge(ctx, "t1", simpleEdge("root", "e1", "home", "settings", false)))

	require.NoError(t, store.SaveTree(ctx, &model.Tree{
		TreeID: "child", TeamID: "t1", ParentTreeID: "root", ParentNodeID: "settings", TreeDepth: 1,
	}))
	require.NoError(t, store.SaveNode(ctx, "t1", &model.Node{TreeID: "child", NodeID: "child-home", IsRoot: true, NodeType: model.NodeTypeEntry}))

	eng := NewEngine(store, nil)
	g, err := eng.Load(ctx, "root", "t1")
	require.NoError(t, err)

	// |real_edges| + 2 * |non_root_trees| = 1 + 2*1 = 3.
	assert.Equal(t, 3, g.EdgeCount())
}

func TestEngine_Invalidate_DropsCacheEntry(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore(nil)
	seedSingleTree(t, store, "t1", "root")
	eng := NewEngine(store, nil)

	_, err := eng.Load(ctx, "root", "t1")
	require.NoError(t, err)

	eng.Invalidate("t1", "root")

	_, err = eng.FindPath(ctx, "root", "settings", "t1", "home")
	assert.ErrorIs(t, err, apperr.ErrUnifiedCacheMissing)
}

func TestEngine_ValidationSequence_DirectAndBidirectionalReturns(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore(nil)
	seedSingleTree(t, store, "t1", "root")
	eng := NewEngine(store, nil)

	steps, err := eng.ValidationSequence(ctx, "root", "t1", true)
	require.NoError(t, err)
	require.NotEmpty(t, steps)

	var sawBidiReturn, sawSkip bool
	for _, s := range steps {
		if s.StepType == StepReturnBidi {
			sawBidiReturn = true
		}
		if s.StepType == StepReturnSkip {
			sawSkip = true
		}
	}
	assert.True(t, sawBidiReturn, "home<->settings is bidirectional: expected a bidirectional return step")
	assert.True(t, sawSkip, "about has no outgoing edge back to settings: expected the return leg to be skipped")
}

// seedTransitionalTree builds a forward edge (a->b) with no direct or
// bidirectional return, but a 2-hop return route b->c->a, so the return leg
// can only be produced by the Transitional strategy.
func seedTransitionalTree(t *testing.T, store *persistence.MemoryStore, teamID, treeID string) {
	ctx := context.Background()
	require.NoError(t, store.SaveTree(ctx, &model.Tree{TreeID: treeID, TeamID: teamID, Name: "root", IsRootTree: true}))
	require.NoError(t, store.SaveNode(ctx, teamID, &model.Node{TreeID: treeID, NodeID: "a", NodeType: model.NodeTypeEntry, IsRoot: true}))
	require.NoError(t, store.SaveNode(ctx, teamID, &model.Node{TreeID: treeID, NodeID: "b", NodeType: model.NodeTypeScreen}))
	require.NoError(t, store.SaveNode(ctx, teamID, &model.Node{TreeID: treeID, NodeID: "c", NodeType: model.NodeTypeScreen}))
	require.NoError(t, store.SaveEdge(ctx, teamID, simpleEdge(treeID, "ab", "a", "b", false)))
	require.NoError(t, store.SaveEdge(ctx, teamID, simpleEdge(treeID, "bc", "b", "c", false)))
	require.NoError(t, store.SaveEdge(ctx, teamID, simpleEdge(treeID, "ca", "c", "a", false)))
}

func TestEngine_ValidationSequence_TransitionalFallbackToggle(t *testing.T) {
	ctx := context.Background()

	storeEnabled := persistence.NewMemoryStore(nil)
	seedTransitionalTree(t, storeEnabled, "t1", "root")
	engEnabled := NewEngine(storeEnabled, nil)
	stepsEnabled, err := engEnabled.ValidationSequence(ctx, "root", "t1", true)
	require.NoError(t, err)

	var sawTransitional bool
	for _, s := range stepsEnabled {
		if s.StepType == StepReturnTrans {
			sawTransitional = true
		}
	}
	assert.True(t, sawTransitional, "a 2-hop return path must produce a transitional return when enabled")

	storeDisabled := persistence.NewMemoryStore(nil)
	seedTransitionalTree(t, storeDisabled, "t1", "root")
	engDisabled := NewEngine(storeDisabled, nil)
	stepsDisabled, err := engDisabled.ValidationSequence(ctx, "root", "t1", false)
	require.NoError(t, err)

	var sawTransDisabled, sawSkipDisabled bool
	for _, s := range stepsDisabled {
		if s.StepType == StepReturnTrans {
			sawTransDisabled = true
		}
		if s.FromNodeID == "b" && s.ToNodeID == "a" && s.StepType == StepReturnSkip {
			sawSkipDisabled = true
		}
	}
	assert.False(t, sawTransDisabled, "the transitional strategy must never run when the fallback is disabled")
	assert.True(t, sawSkipDisabled, "the same 2-hop return must be skipped, not found, when the fallback is disabled")
}
