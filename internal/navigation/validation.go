package navigation

import (
	"context"
	"sort"

	"github.com/angelstreet/virtualpytest-sub002/internal/model"
)

// MaxTransitionalSteps bounds the Transitional return-path search (spec.md
// §4.1 ValidationSequence, strategy 3).
const MaxTransitionalSteps = 3

// TransitionDirection is forward (default action set) or reverse (any
// non-default action set).
type TransitionDirection string

const (
	DirectionForward TransitionDirection = "forward"
	DirectionReverse TransitionDirection = "reverse"
)

// StepType classifies how a validation Step's return leg was produced.
type StepType string

const (
	StepForward      StepType = "forward"
	StepReturnDirect StepType = "return_direct"
	StepReturnBidi   StepType = "return_bidirectional"
	StepReturnTrans  StepType = "return_transitional"
	StepReturnSkip   StepType = "return_skipped"
)

// Step is one produced entry of a ValidationSequence walk.
type Step struct {
	FromNodeID    string
	ToNodeID      string
	EdgeID        string
	ActionSetID   string
	Direction     TransitionDirection
	StepType      StepType
	Actions       []model.Action
	RetryActions  []model.Action
	Verifications []model.Verification
}

// edgeState is the per-(directed-edge) state machine from spec.md §4.1:
// PENDING -> FORWARD_DONE -> RETURN_DONE | RETURN_SKIPPED.
type edgeState int

const (
	statePending edgeState = iota
	stateForwardDone
	stateReturnDone
	stateReturnSkipped
)

type directedKey struct {
	from, to, edgeID string
}

type validationGraph struct {
	nodes map[string]*model.Node
	// forward adjacency: edges usable going "away" from an already-visited node
	adjacency map[string][]*model.Edge
	// lookup[(u,v)] -> edge data, present for both directions of a bidirectional edge
	lookup map[[2]string]*model.Edge
}

func buildValidationGraph(nodes []*model.Node, edges []*model.Edge) *validationGraph {
	vg := &validationGraph{
		nodes:     map[string]*model.Node{},
		adjacency: map[string][]*model.Edge{},
		lookup:    map[[2]string]*model.Edge{},
	}
	for _, n := range nodes {
		vg.nodes[n.NodeID] = n
	}
	for _, e := range edges {
		vg.adjacency[e.SourceNodeID] = append(vg.adjacency[e.SourceNodeID], e)
		vg.lookup[[2]string{e.SourceNodeID, e.TargetNodeID}] = e
		if e.IsBidirectional() {
			vg.lookup[[2]string{e.TargetNodeID, e.SourceNodeID}] = e
		}
	}
	return vg
}

// ValidationSequence produces an ordered walk exercising every real edge at
// least once, depth-first from each entry point, preferring the default
// action set forward and a non-default set backward (spec.md §4.1, §4.2b).
// enableTransitionalFallback gates strategy 3 of the return-leg cascade: when
// false, an edge with no direct or bidirectional return falls straight to
// Skip instead of searching for a multi-hop transitional path.
func (e *Engine) ValidationSequence(ctx context.Context, treeID, teamID string, enableTransitionalFallback bool) ([]Step, error) {
	nodes, _, err := e.store.ListNodesPaginated(ctx, teamID, treeID, 0, 0)
	if err != nil {
		return nil, err
	}
	edges, err := e.store.ListEdges(ctx, teamID, treeID, nil)
	if err != nil {
		return nil, err
	}
	vg := buildValidationGraph(nodes, edges)

	entryPoints := entryPointsOf(nodes)
	states := map[directedKey]edgeState{}
	visitedDirected := map[directedKey]bool{}

	var steps []Step
	for _, entry := range entryPoints {
		walkDFS(vg, entry.NodeID, "", states, visitedDirected, &steps, enableTransitionalFallback)
	}
	return steps, nil
}

func entryPointsOf(nodes []*model.Node) []*model.Node {
	var entries []*model.Node
	for _, n := range nodes {
		if n.NodeType == model.NodeTypeEntry {
			entries = append(entries, n)
		}
	}
	if len(entries) == 0 {
		for _, n := range nodes {
			if n.IsRoot {
				entries = append(entries, n)
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].NodeID < entries[j].NodeID })
	return entries
}

// walkDFS explores forward edges from current, skipping the edge back to
// parent (avoids trivial back-and-forth) and any already-visited directed
// edge, then resolves the return leg by the Direct/Bidirectional/
// Transitional/Skip strategy cascade.
func walkDFS(vg *validationGraph, current, parent string, states map[directedKey]edgeState, visited map[directedKey]bool, steps *[]Step, enableTransitionalFallback bool) {
	outgoing := append([]*model.Edge{}, vg.adjacency[current]...)
	sort.Slice(outgoing, func(i, j int) bool { return outgoing[i].EdgeID < outgoing[j].EdgeID })

	for _, edge := range outgoing {
		if edge.TargetNodeID == parent {
			continue
		}
		dk := directedKey{current, edge.TargetNodeID, edge.EdgeID}
		if visited[dk] {
			continue
		}
		visited[dk] = true
		states[dk] = stateForwardDone

		defaultSet, _ := edge.DefaultActionSet()
		forwardStep := Step{
			FromNodeID: current, ToNodeID: edge.TargetNodeID, EdgeID: edge.EdgeID,
			Direction: DirectionForward, StepType: StepForward,
		}
		if defaultSet != nil {
			forwardStep.ActionSetID = defaultSet.ID
			forwardStep.Actions = defaultSet.Actions
			forwardStep.RetryActions = defaultSet.RetryActions
		}
		*steps = append(*steps, forwardStep)

		walkDFS(vg, edge.TargetNodeID, current, states, visited, steps, enableTransitionalFallback)

		returnStep, stateAfter := resolveReturn(vg, edge, current, enableTransitionalFallback)
		states[dk] = stateAfter
		if returnStep != nil {
			*steps = append(*steps, *returnStep)
		}
	}
}

// resolveReturn implements the Direct -> Bidirectional -> Transitional ->
// Skip strategy cascade (spec.md §4.1). Transitional is only attempted when
// enableTransitionalFallback is true; otherwise an edge with no direct or
// bidirectional return goes straight to Skip.
func resolveReturn(vg *validationGraph, forwardEdge *model.Edge, parent string, enableTransitionalFallback bool) (*Step, edgeState) {
	child := forwardEdge.TargetNodeID

	// 1. Direct: a distinct edge (child -> parent) exists.
	if direct, ok := findDirectEdge(vg, child, parent, forwardEdge.EdgeID); ok {
		as, _ := direct.DefaultActionSet()
		step := &Step{FromNodeID: child, ToNodeID: parent, EdgeID: direct.EdgeID, Direction: DirectionReverse, StepType: StepReturnDirect}
		if as != nil {
			step.ActionSetID = as.ID
			step.Actions = as.Actions
			step.RetryActions = as.RetryActions
		}
		return step, stateReturnDone
	}

	// 2. Bidirectional: the forward edge itself carries a second action set.
	if reverse, ok := forwardEdge.ReverseActionSet(); ok {
		step := &Step{
			FromNodeID: child, ToNodeID: parent, EdgeID: forwardEdge.EdgeID,
			Direction: DirectionReverse, StepType: StepReturnBidi,
			ActionSetID: reverse.ID, Actions: reverse.Actions, RetryActions: reverse.RetryActions,
		}
		return step, stateReturnDone
	}

	// 3. Transitional: a path of <= MaxTransitionalSteps edges exists back to
	// parent, but only when the caller opted into this fallback.
	if enableTransitionalFallback {
		if path := findTransitionalPath(vg, child, parent, MaxTransitionalSteps); path != nil {
			step := &Step{FromNodeID: child, ToNodeID: parent, Direction: DirectionReverse, StepType: StepReturnTrans}
			return step, stateReturnDone
		}
	}

	// 4. Skip: record as unreachable; never fail the sequence.
	return &Step{FromNodeID: child, ToNodeID: parent, Direction: DirectionReverse, StepType: StepReturnSkip}, stateReturnSkipped
}

func findDirectEdge(vg *validationGraph, from, to, excludeEdgeID string) (*model.Edge, bool) {
	for _, e := range vg.adjacency[from] {
		if e.TargetNodeID == to && e.EdgeID != excludeEdgeID {
			return e, true
		}
	}
	return nil, false
}

// findTransitionalPath does a bounded BFS for a short return route,
// returning the edge sequence or nil if none exists within maxSteps.
func findTransitionalPath(vg *validationGraph, from, to string, maxSteps int) []*model.Edge {
	type frame struct {
		node string
		path []*model.Edge
	}
	queue := []frame{{node: from}}
	seen := map[string]bool{from: true}

	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		if len(f.path) > maxSteps {
			continue
		}
		if f.node == to && len(f.path) > 0 {
			return f.path
		}
		for _, e := range vg.adjacency[f.node] {
			if seen[e.TargetNodeID] || len(f.path) >= maxSteps {
				continue
			}
			seen[e.TargetNodeID] = true
			next := append(append([]*model.Edge{}, f.path...), e)
			queue = append(queue, frame{node: e.TargetNodeID, path: next})
		}
	}
	return nil
}
