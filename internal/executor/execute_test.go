package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelstreet/virtualpytest-sub002/internal/model"
)

type scriptedAction struct {
	command string
	success bool
	evidence map[string]interface{}
	err     error
}

type fakeActionRunner struct {
	scripts map[string][]scriptedAction
	calls   map[string]int
}

func newFakeActionRunner() *fakeActionRunner {
	return &fakeActionRunner{scripts: map[string][]scriptedAction{}, calls: map[string]int{}}
}

func (f *fakeActionRunner) queue(command string, outcomes ...scriptedAction) {
	f.scripts[command] = outcomes
}

func (f *fakeActionRunner) Run(_ context.Context, _ DeviceContext, action model.Action) (bool, map[string]interface{}, error) {
	outcomes := f.scripts[action.Command]
	i := f.calls[action.Command]
	f.calls[action.Command]++
	if i >= len(outcomes) {
		return true, nil, nil
	}
	o := outcomes[i]
	return o.success, o.evidence, o.err
}

type fakeVerificationRunner struct {
	success bool
}

func (f *fakeVerificationRunner) Run(_ context.Context, _ DeviceContext, _ model.Verification) (bool, map[string]interface{}, error) {
	return f.success, map[string]interface{}{"screenshot": "local://frame.png"}, nil
}

func straightGraph(nodes ...*PlanNode) *Graph {
	g := &Graph{Nodes: map[string]*PlanNode{}}
	for _, n := range nodes {
		g.Nodes[n.ID] = n
	}
	for i := 0; i < len(nodes)-1; i++ {
		g.Edges = append(g.Edges, PlanEdge{FromNodeID: nodes[i].ID, ToNodeID: nodes[i+1].ID, Handle: "success"})
	}
	return g
}

func TestExecute_MalformedGraph_NoStartNode(t *testing.T) {
	ex := NewExecutor(newFakeActionRunner(), &fakeVerificationRunner{success: true}, nil, nil, nil)
	g := &Graph{Nodes: map[string]*PlanNode{"a": {ID: "a", Kind: NodeSuccess}}}
	_, err := ex.Execute(context.Background(), Request{Graph: g})
	require.Error(t, err)
}

func TestExecute_SimpleActionThenSuccess(t *testing.T) {
	runner := newFakeActionRunner()
	runner.queue("press_key", scriptedAction{command: "press_key", success: true})
	ex := NewExecutor(runner, &fakeVerificationRunner{success: true}, nil, nil, nil)

	g := straightGraph(
		&PlanNode{ID: "start", Kind: NodeStart},
		&PlanNode{ID: "act1", Kind: NodeAction, ActionSet: &model.ActionSet{
			ID: "as1", Actions: []model.Action{{Command: "press_key"}},
		}},
		&PlanNode{ID: "ok", Kind: NodeSuccess},
	)

	result, err := ex.Execute(context.Background(), Request{Graph: g})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.Canceled)
	assert.Len(t, result.StepResults, 2) // action step + success terminal bookend
}

func TestExecute_ActionFailsThenRetrySucceeds(t *testing.T) {
	runner := newFakeActionRunner()
	runner.queue("tap", scriptedAction{command: "tap", success: false})
	runner.queue("tap_retry", scriptedAction{command: "tap_retry", success: true})
	ex := NewExecutor(runner, &fakeVerificationRunner{success: true}, nil, nil, nil)

	g := straightGraph(
		&PlanNode{ID: "start", Kind: NodeStart},
		&PlanNode{ID: "act1", Kind: NodeAction, ActionSet: &model.ActionSet{
			ID:           "as1",
			Actions:      []model.Action{{Command: "tap"}},
			RetryActions: []model.Action{{Command: "tap_retry"}},
		}},
		&PlanNode{ID: "ok", Kind: NodeSuccess},
	)

	result, err := ex.Execute(context.Background(), Request{Graph: g})
	require.NoError(t, err)
	assert.True(t, result.Success, "retry_actions succeeding should recover the step")
	assert.True(t, result.StepResults[0].Success)
}

func TestExecute_ActionFailsRetryAndFailureActionsStillFailed(t *testing.T) {
	runner := newFakeActionRunner()
	runner.queue("tap", scriptedAction{command: "tap", success: false})
	runner.queue("tap_retry", scriptedAction{command: "tap_retry", success: false})
	runner.queue("cleanup", scriptedAction{command: "cleanup", success: true})
	ex := NewExecutor(runner, &fakeVerificationRunner{success: true}, nil, nil, nil)

	g := &Graph{
		Nodes: map[string]*PlanNode{
			"start": {ID: "start", Kind: NodeStart},
			"act1": {ID: "act1", Kind: NodeAction, ActionSet: &model.ActionSet{
				ID:             "as1",
				Actions:        []model.Action{{Command: "tap"}},
				RetryActions:   []model.Action{{Command: "tap_retry"}},
				FailureActions: []model.Action{{Command: "cleanup"}},
			}},
			"ok":   {ID: "ok", Kind: NodeSuccess},
			"fail": {ID: "fail", Kind: NodeFailure},
		},
		Edges: []PlanEdge{
			{FromNodeID: "start", ToNodeID: "act1", Handle: "success"},
			{FromNodeID: "act1", ToNodeID: "ok", Handle: "success"},
			{FromNodeID: "act1", ToNodeID: "fail", Handle: "failure"},
		},
	}

	result, err := ex.Execute(context.Background(), Request{Graph: g})
	require.NoError(t, err)
	assert.False(t, result.Success, "failure_actions do not override the step's failed status")
	assert.False(t, result.StepResults[0].Success)
}

func TestExecute_OffGraphEdgeFollowsLastOutcome(t *testing.T) {
	runner := newFakeActionRunner()
	runner.queue("press_key", scriptedAction{command: "press_key", success: false})
	ex := NewExecutor(runner, &fakeVerificationRunner{success: true}, nil, nil, nil)

	g := &Graph{
		Nodes: map[string]*PlanNode{
			"start": {ID: "start", Kind: NodeStart},
			"act1":  {ID: "act1", Kind: NodeAction, ActionSet: &model.ActionSet{ID: "as1", Actions: []model.Action{{Command: "press_key"}}}},
		},
		Edges: []PlanEdge{{FromNodeID: "start", ToNodeID: "act1", Handle: "success"}},
	}

	result, err := ex.Execute(context.Background(), Request{Graph: g})
	require.NoError(t, err)
	assert.False(t, result.Success, "no outgoing failure edge: result follows the last (failed) outcome")
}

func TestExecute_LoopNodeRunsBodyThenDone(t *testing.T) {
	runner := newFakeActionRunner()
	runner.queue("tick", scriptedAction{command: "tick", success: true})
	ex := NewExecutor(runner, &fakeVerificationRunner{success: true}, nil, nil, nil)

	g := &Graph{
		Nodes: map[string]*PlanNode{
			"start": {ID: "start", Kind: NodeStart},
			"loop":  {ID: "loop", Kind: NodeLoop, MaxIterations: 2},
			"body":  {ID: "body", Kind: NodeAction, ActionSet: &model.ActionSet{ID: "as1", Actions: []model.Action{{Command: "tick"}}}},
			"ok":    {ID: "ok", Kind: NodeSuccess},
		},
		Edges: []PlanEdge{
			{FromNodeID: "start", ToNodeID: "loop", Handle: "success"},
			{FromNodeID: "loop", ToNodeID: "body", Handle: "body"},
			{FromNodeID: "body", ToNodeID: "loop", Handle: "success"},
			{FromNodeID: "loop", ToNodeID: "ok", Handle: "done"},
		},
	}

	result, err := ex.Execute(context.Background(), Request{Graph: g})
	require.NoError(t, err)
	assert.True(t, result.Success)
	// loop(body) -> tick -> loop(body) -> tick -> loop(done) -> success
	assert.Equal(t, 6, len(result.StepResults))
}

func TestExecute_CancellationStopsAtNodeBoundary(t *testing.T) {
	runner := newFakeActionRunner()
	ex := NewExecutor(runner, &fakeVerificationRunner{success: true}, nil, nil, nil)

	g := straightGraph(
		&PlanNode{ID: "start", Kind: NodeStart},
		&PlanNode{ID: "act1", Kind: NodeAction, ActionSet: &model.ActionSet{ID: "as1", Actions: []model.Action{{Command: "noop"}}}},
		&PlanNode{ID: "ok", Kind: NodeSuccess},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := ex.Execute(ctx, Request{Graph: g})
	require.NoError(t, err)
	assert.True(t, result.Canceled)
	assert.False(t, result.Success)
	assert.Empty(t, result.StepResults, "canceled before the start node ever dispatches")
}

func TestExecute_ParseGraph_RoundTrips(t *testing.T) {
	raw := map[string]interface{}{
		"nodes": []interface{}{
			map[string]interface{}{"id": "start", "kind": "start"},
			map[string]interface{}{"id": "ok", "kind": "success"},
		},
		"edges": []interface{}{
			map[string]interface{}{"from": "start", "to": "ok", "handle": "success"},
		},
	}
	g, err := ParseGraph(raw)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 2)
	assert.Len(t, g.Edges, 1)

	start, err := g.StartNode()
	require.NoError(t, err)
	assert.Equal(t, "start", start.ID)
}

func TestExecute_ParseGraph_RejectsMultipleStartNodes(t *testing.T) {
	raw := map[string]interface{}{
		"nodes": []interface{}{
			map[string]interface{}{"id": "s1", "kind": "start"},
			map[string]interface{}{"id": "s2", "kind": "start"},
		},
	}
	g, err := ParseGraph(raw)
	require.NoError(t, err)
	_, err = g.StartNode()
	require.Error(t, err)
}
