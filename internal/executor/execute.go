package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelstreet/virtualpytest-sub002/internal/apperr"
	"github.com/angelstreet/virtualpytest-sub002/internal/logger"
	"github.com/angelstreet/virtualpytest-sub002/internal/model"
	"github.com/angelstreet/virtualpytest-sub002/internal/navigation"
	"github.com/angelstreet/virtualpytest-sub002/internal/telemetry"
)

// Executor walks one plan graph on one device, sequentially, end to end
// (spec.md §4.2: "one executor, one traversal"). It holds no per-execution
// state between calls -- everything lives in the execState built fresh by
// Execute.
type Executor struct {
	actions       ActionRunner
	verifications VerificationRunner
	nav           *navigation.Engine
	log           logger.Logger
	tel           *telemetry.Telemetry
}

// NewExecutor builds an Executor wired to its sub-executors and the
// Navigation Engine for live (non-pre-baked) navigation nodes. tel may be
// nil, in which case step spans are skipped.
func NewExecutor(actions ActionRunner, verifications VerificationRunner, nav *navigation.Engine, log logger.Logger, tel *telemetry.Telemetry) *Executor {
	if log == nil {
		log = logger.Noop()
	}
	return &Executor{actions: actions, verifications: verifications, nav: nav, log: log, tel: tel}
}

// Request carries everything one traversal needs.
type Request struct {
	Graph          *Graph
	Device         DeviceContext
	TeamID         string
	ExecutableType string
	ExecutableID   string
	ScriptType     model.ScriptType
	ScriptName     string
	Host           string
	RootTreeID     string // for live navigation lookups; "" if the graph has no live navigation nodes
	CurrentNodeID  string // ctx.current_node_id at traversal start

	// OnStep, if set, is invoked synchronously after every recorded step,
	// in traversal order. The Host's async task status endpoint uses this
	// to grow its execution_log live instead of only at traversal end
	// (spec.md §4.5/§5: "the Host's status endpoint returns a
	// monotonically growing execution_log").
	OnStep func(model.StepRecord)
}

type execState struct {
	currentNodeID string
	loopState     map[string]int
}

// Execute traverses req.Graph start to a terminal node (or off the graph),
// dispatching each node and recording a StepRecord, per spec.md §4.2.
func (e *Executor) Execute(ctx context.Context, req Request) (*model.ExecutionResult, error) {
	start, err := req.Graph.StartNode()
	if err != nil {
		return nil, apperr.Wrapf("Execute", "MalformedGraph", apperr.ErrValidation, "%v", err)
	}

	result := &model.ExecutionResult{
		ResultID:       uuid.NewString(),
		TeamID:         req.TeamID,
		ExecutableType: req.ExecutableType,
		ExecutableID:   req.ExecutableID,
		ScriptType:     req.ScriptType,
		ScriptName:     req.ScriptName,
		Host:           req.Host,
		DeviceID:       req.Device.DeviceID,
		StartedAt:      time.Now(),
	}

	state := &execState{currentNodeID: req.CurrentNodeID, loopState: map[string]int{}}
	current := start.ID
	lastSuccess := false
	stepIndex := 0

	for {
		if ctx.Err() != nil {
			result.Canceled = true
			result.Success = false
			e.log.Info("execution canceled at node boundary", logger.Fields{"result_id": result.ResultID, "node_id": current})
			break
		}

		node, ok := req.Graph.Nodes[current]
		if !ok {
			return nil, apperr.Wrapf("Execute", "MalformedGraph", apperr.ErrValidation, "edge points at unknown node %q", current)
		}

		started := time.Now()
		var handle string
		var success bool
		var step model.StepRecord
		recordStep := true

		stepCtx, endSpan := e.startStepSpan(ctx, node)

		switch node.Kind {
		case NodeStart:
			// The start node has no work of its own; it just forwards
			// along its single success edge to the first real node.
			handle = "success"
			recordStep = false
		case NodeSuccess:
			result.Success = true
			step = StepRecord(stepIndex, node.ID, "", nil, started, started, true, "")
		case NodeFailure:
			result.Success = false
			step = StepRecord(stepIndex, node.ID, "", nil, started, started, false, "")
		case NodeAction:
			success, step = e.runActionNode(stepCtx, req.Device, node, stepIndex, started)
			handle = handleFor(success)
		case NodeVerification:
			success, step = e.runVerificationNode(stepCtx, req.Device, node, stepIndex, started)
			handle = handleFor(success)
		case NodeNavigation:
			success, step = e.runNavigationNode(stepCtx, req, node, state, stepIndex, started)
			handle = handleFor(success)
		case NodeLoop:
			success, step, handle = e.runLoopNode(node, state, stepIndex, started)
		default:
			endSpan()
			return nil, apperr.Wrapf("Execute", "MalformedGraph", apperr.ErrValidation, "unknown node kind %q", node.Kind)
		}
		endSpan()

		if recordStep {
			result.StepResults = append(result.StepResults, step)
			stepIndex++
			lastSuccess = success
			if req.OnStep != nil {
				req.OnStep(step)
			}
		}

		if node.Kind == NodeSuccess || node.Kind == NodeFailure {
			goto done
		}

		next, ok := req.Graph.edgeFor(node.ID, handle)
		if !ok {
			// Traversal ran off the graph: result follows the last outcome.
			result.Success = lastSuccess
			goto done
		}
		current = next
	}

done:
	result.ExecutionTimeMS = time.Since(result.StartedAt).Milliseconds()
	return result, nil
}

// startStepSpan opens a per-step trace span (DESIGN.md: internal/telemetry
// wired into the executor's node dispatch). Safe to call with a nil
// Telemetry -- the returned end func is then a no-op.
func (e *Executor) startStepSpan(ctx context.Context, node *PlanNode) (context.Context, func()) {
	if e.tel == nil {
		return ctx, func() {}
	}
	return e.tel.StartSpan(ctx, "executor.step."+string(node.Kind))
}

func handleFor(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// StepRecord builds a model.StepRecord; Execute uses it for the
// success/failure terminal bookend steps.
func StepRecord(index int, nodeID, command string, params map[string]interface{}, started, ended time.Time, success bool, errMsg string) model.StepRecord {
	return model.StepRecord{
		StepIndex: index,
		NodeID:    nodeID,
		Command:   command,
		Params:    params,
		StartedAt: started,
		EndedAt:   ended,
		Success:   success,
		Error:     errMsg,
	}
}

func mergeEvidence(step *model.StepRecord, evidence map[string]interface{}) {
	if evidence == nil {
		return
	}
	if s, ok := evidence["screenshot"].(string); ok && s != "" {
		step.Screenshots = append(step.Screenshots, s)
	}
	if list, ok := evidence["screenshots"].([]interface{}); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				step.Screenshots = append(step.Screenshots, s)
			}
		}
	}
	if t, ok := evidence["transcript"].(string); ok && t != "" {
		step.Transcript = t
	}
	if list, ok := evidence["frame_descriptions"].([]interface{}); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				step.FrameDescs = append(step.FrameDescs, s)
			}
		}
	}
}

// runActionNode implements spec.md §4.2's retry/failure-action cascade: the
// action set's actions run in order; the first failure triggers a single
// pass of retry_actions, and if the node is still failing, failure_actions
// run and the step is marked failed. A failed action never aborts
// traversal on its own -- only the outer Execute loop's "failure" handle
// (or an off-graph edge) can do that.
func (e *Executor) runActionNode(ctx context.Context, dc DeviceContext, node *PlanNode, idx int, started time.Time) (bool, model.StepRecord) {
	set := node.ActionSet
	step := model.StepRecord{StepIndex: idx, NodeID: node.ID, StartedAt: started}
	if set == nil {
		step.EndedAt = time.Now()
		step.Error = "action node missing action_set"
		return false, step
	}

	ok, errMsg := e.runActionList(ctx, dc, set.Actions, &step)
	if !ok && len(set.RetryActions) > 0 {
		e.log.Info("action failed, running retry_actions", logger.Fields{"node_id": node.ID})
		ok, errMsg = e.runActionList(ctx, dc, set.RetryActions, &step)
	}
	if !ok && len(set.FailureActions) > 0 {
		e.log.Info("action still failing, running failure_actions", logger.Fields{"node_id": node.ID})
		// failure_actions run for cleanup/evidence; their own outcome does
		// not change the step's already-decided failed status.
		_, _ = e.runActionList(ctx, dc, set.FailureActions, &step)
	}

	step.EndedAt = time.Now()
	step.Success = ok
	step.Error = errMsg
	return ok, step
}

func (e *Executor) runActionList(ctx context.Context, dc DeviceContext, actions []model.Action, step *model.StepRecord) (bool, string) {
	for _, a := range actions {
		if step.Command == "" {
			step.Command = a.Command
			step.Params = a.Params
		}
		success, evidence, err := e.actions.Run(ctx, dc, a)
		mergeEvidence(step, evidence)
		if err != nil {
			return false, err.Error()
		}
		if !success {
			return false, fmt.Sprintf("action %s reported failure", a.Command)
		}
		if wait := a.WaitTimeMS(); wait > 0 {
			select {
			case <-time.After(time.Duration(wait) * time.Millisecond):
			case <-ctx.Done():
				return false, "canceled during wait_time"
			}
		}
	}
	return true, ""
}

func (e *Executor) runVerificationNode(ctx context.Context, dc DeviceContext, node *PlanNode, idx int, started time.Time) (bool, model.StepRecord) {
	step := model.StepRecord{StepIndex: idx, NodeID: node.ID, StartedAt: started}
	v := node.Verification
	if v == nil {
		step.EndedAt = time.Now()
		step.Error = "verification node missing verification"
		return false, step
	}
	step.Command = v.Command
	step.Params = v.Params

	success, evidence, err := e.verifications.Run(ctx, dc, *v)
	mergeEvidence(&step, evidence)
	step.EndedAt = time.Now()
	step.Success = success
	if err != nil {
		step.Error = err.Error()
		return false, step
	}
	return success, step
}

// runNavigationNode executes the node's pre-baked transitions if present
// (avoiding a runtime pathfinding call); otherwise it asks the Navigation
// Engine for a path from the current position (spec.md §4.2.1).
func (e *Executor) runNavigationNode(ctx context.Context, req Request, node *PlanNode, state *execState, idx int, started time.Time) (bool, model.StepRecord) {
	step := model.StepRecord{StepIndex: idx, NodeID: node.ID, StartedAt: started}

	transitions := node.Transitions
	if transitions == nil {
		if e.nav == nil || req.RootTreeID == "" {
			step.EndedAt = time.Now()
			step.Error = "navigation node has no pre-baked transitions and no live engine configured"
			return false, step
		}
		path, err := e.nav.FindPath(ctx, req.RootTreeID, node.TargetNodeID, req.TeamID, state.currentNodeID)
		if err != nil {
			step.EndedAt = time.Now()
			step.Error = err.Error()
			return false, step
		}
		transitions = path
	}

	for _, t := range transitions {
		if t.Kind != navigation.EdgeKindReal {
			state.currentNodeID = t.ToNodeID
			continue
		}
		set, err := e.actionSetForTransition(req, t)
		if err != nil {
			step.EndedAt = time.Now()
			step.Error = err.Error()
			return false, step
		}
		ok, errMsg := e.runActionList(ctx, req.Device, set.Actions, &step)
		if !ok {
			step.EndedAt = time.Now()
			step.Error = errMsg
			return false, step
		}
		state.currentNodeID = t.ToNodeID
	}

	step.EndedAt = time.Now()
	step.Success = true
	return true, step
}

func (e *Executor) actionSetForTransition(req Request, t navigation.Transition) (*model.ActionSet, error) {
	if e.nav == nil || req.RootTreeID == "" {
		return nil, fmt.Errorf("no navigation engine configured to resolve transition action set")
	}
	return e.nav.ActionSetFor(req.RootTreeID, req.TeamID, t)
}

// runLoopNode advances the loop counter in ctx.loop_state (spec.md §4.2
// item 5): the body edge is taken while the counter is below max, then done.
func (e *Executor) runLoopNode(node *PlanNode, state *execState, idx int, started time.Time) (bool, model.StepRecord, string) {
	step := model.StepRecord{StepIndex: idx, NodeID: node.ID, StartedAt: started, EndedAt: time.Now(), Success: true}
	count := state.loopState[node.ID]
	if count < node.MaxIterations {
		state.loopState[node.ID] = count + 1
		return true, step, "body"
	}
	return true, step, "done"
}
