package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTree_Validate_RootMustHaveNoParentAndZeroDepth(t *testing.T) {
	root := &Tree{TreeID: "t1", IsRootTree: true, TreeDepth: 0}
	assert.NoError(t, root.Validate())

	rootWithParent := &Tree{TreeID: "t1", IsRootTree: true, TreeDepth: 0, ParentTreeID: "t0"}
	assert.Error(t, rootWithParent.Validate())

	rootWrongDepth := &Tree{TreeID: "t1", IsRootTree: true, TreeDepth: 1}
	assert.Error(t, rootWrongDepth.Validate())
}

func TestTree_Validate_NonRootMustHaveParent(t *testing.T) {
	child := &Tree{TreeID: "t2", IsRootTree: false, TreeDepth: 1, ParentTreeID: "t1", ParentNodeID: "n1"}
	assert.NoError(t, child.Validate())

	orphan := &Tree{TreeID: "t2", IsRootTree: false, TreeDepth: 1}
	assert.Error(t, orphan.Validate())
}

func TestTree_Validate_DepthOutOfRange(t *testing.T) {
	tooDeep := &Tree{TreeID: "t1", ParentTreeID: "t0", ParentNodeID: "n0", TreeDepth: MaxHierarchyDepth + 1}
	assert.Error(t, tooDeep.Validate())

	negative := &Tree{TreeID: "t1", ParentTreeID: "t0", ParentNodeID: "n0", TreeDepth: -1}
	assert.Error(t, negative.Validate())
}

func TestAction_WaitTimeMS_HandlesIntFloatAndMissing(t *testing.T) {
	assert.Equal(t, 0, Action{}.WaitTimeMS())
	assert.Equal(t, 500, Action{Params: map[string]interface{}{"wait_time": 500}}.WaitTimeMS())
	assert.Equal(t, 500, Action{Params: map[string]interface{}{"wait_time": 500.0}}.WaitTimeMS())
	assert.Equal(t, 0, Action{Params: map[string]interface{}{"other": "x"}}.WaitTimeMS())
}

func TestEdge_DefaultActionSet_And_ReverseActionSet(t *testing.T) {
	e := &Edge{
		EdgeID:             "e1",
		DefaultActionSetID: "forward",
		ActionSets: []ActionSet{
			{ID: "forward", Actions: []Action{{Command: "tap"}}},
			{ID: "backward", Actions: []Action{{Command: "back"}}},
		},
	}
	assert.True(t, e.IsBidirectional())

	def, ok := e.DefaultActionSet()
	require.True(t, ok)
	require.Equal(t, "forward", def.ID)

	rev, ok := e.ReverseActionSet()
	require.True(t, ok)
	require.Equal(t, "backward", rev.ID)
}

func TestEdge_Validate_RequiresAtLeastOneActionSet(t *testing.T) {
	e := &Edge{EdgeID: "e1"}
	assert.Error(t, e.Validate())
}

func TestEdge_Validate_DefaultMustExistInActionSets(t *testing.T) {
	e := &Edge{EdgeID: "e1", DefaultActionSetID: "missing", ActionSets: []ActionSet{{ID: "forward"}}}
	assert.Error(t, e.Validate())
}

func TestEdge_Validate_BidirectionalRequiresExactlyTwoDistinctIDs(t *testing.T) {
	dup := &Edge{
		EdgeID: "e1", DefaultActionSetID: "forward",
		ActionSets: []ActionSet{{ID: "forward"}, {ID: "forward"}},
	}
	assert.Error(t, dup.Validate(), "duplicate action set ids on a bidirectional edge must be rejected")

	threeSets := &Edge{
		EdgeID: "e1", DefaultActionSetID: "forward",
		ActionSets: []ActionSet{{ID: "forward"}, {ID: "backward"}, {ID: "extra"}},
	}
	assert.Error(t, threeSets.Validate())

	valid := &Edge{
		EdgeID: "e1", DefaultActionSetID: "forward",
		ActionSets: []ActionSet{{ID: "forward"}, {ID: "backward"}},
	}
	assert.NoError(t, valid.Validate())
}

func TestEdge_Validate_UnidirectionalSingleSetIsValid(t *testing.T) {
	e := &Edge{EdgeID: "e1", DefaultActionSetID: "forward", ActionSets: []ActionSet{{ID: "forward"}}}
	assert.NoError(t, e.Validate())
	assert.False(t, e.IsBidirectional())
}

func TestCachedPlan_SuccessRate_ZeroExecutionsIsZero(t *testing.T) {
	p := &CachedPlan{}
	assert.Equal(t, 0.0, p.SuccessRate())
}

func TestCachedPlan_RecordExecution_TracksCountersAndEWMA(t *testing.T) {
	p := &CachedPlan{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	p.RecordExecution(true, 100, "", now)
	assert.Equal(t, 1, p.ExecutionCount)
	assert.Equal(t, 1, p.SuccessCount)
	assert.Equal(t, 100.0, p.AvgExecutionTimeMS, "the first sample seeds the average directly")
	assert.Equal(t, 1.0, p.SuccessRate())

	later := now.Add(time.Minute)
	p.RecordExecution(false, 200, "timeout", later)
	assert.Equal(t, 2, p.ExecutionCount)
	assert.Equal(t, 1, p.FailureCount)
	assert.Equal(t, []string{"timeout"}, p.FailureReasons)
	assert.Equal(t, 0.5, p.SuccessRate())
	assert.InDelta(t, PlanEWMAAlpha*200+(1-PlanEWMAAlpha)*100, p.AvgExecutionTimeMS, 0.0001)
	assert.Equal(t, later, p.LastFailure)
}
