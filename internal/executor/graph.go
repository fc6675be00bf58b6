// Package executor implements the Plan Execution Engine (spec.md §4.2):
// traverse a stored testcase or live AI plan graph, dispatch each node to
// the right sub-executor, and record every step into an ExecutionResult.
// Grounded on the teacher framework's orchestration/workflow_engine.go
// (step dispatch, retry-with-backoff, cancellation-at-boundary) and
// orchestration/workflow_dag.go (typed node/edge graph shape), adapted
// from a dependency-DAG scheduler to a success/failure-handle state
// machine since a navigation plan graph is walked once, node by node,
// rather than scheduled by dependency readiness.
package executor

import (
	"encoding/json"
	"fmt"

	"github.com/angelstreet/virtualpytest-sub002/internal/model"
	"github.com/angelstreet/virtualpytest-sub002/internal/navigation"
)

// NodeKind enumerates the node types a plan graph may contain (spec.md §4.2).
type NodeKind string

const (
	NodeStart        NodeKind = "start"
	NodeSuccess      NodeKind = "success"
	NodeFailure      NodeKind = "failure"
	NodeAction       NodeKind = "action"
	NodeVerification NodeKind = "verification"
	NodeNavigation   NodeKind = "navigation"
	NodeLoop         NodeKind = "loop"
)

// PlanNode is one node of an execution graph.
type PlanNode struct {
	ID            string              `json:"id"`
	Kind          NodeKind            `json:"kind"`
	ActionSet     *model.ActionSet    `json:"action_set,omitempty"`
	Verification  *model.Verification `json:"verification,omitempty"`
	TargetNodeID  string              `json:"target_node_id,omitempty"`
	Transitions   []navigation.Transition `json:"transitions,omitempty"`
	MaxIterations int                 `json:"max_iterations,omitempty"`
}

// PlanEdge connects two nodes along a named handle. success/failure handles
// drive ordinary traversal; loop nodes use body/done instead.
type PlanEdge struct {
	FromNodeID string `json:"from"`
	ToNodeID   string `json:"to"`
	Handle     string `json:"handle"`
}

// Graph is a parsed, typed execution graph.
type Graph struct {
	Nodes map[string]*PlanNode
	Edges []PlanEdge
}

type wireGraph struct {
	Nodes []*PlanNode `json:"nodes"`
	Edges []PlanEdge  `json:"edges"`
}

// ParseGraph decodes the opaque graph_json/graph blob (as stored by
// Testcase.GraphJSON or CachedPlan.Graph) into a typed Graph. The
// round-trip through encoding/json is the same marshal/unmarshal idiom
// internal/persistence already uses for opaque JSON blobs (getJSON/setJSON);
// there is no schema-decoding library exercised anywhere in the pack for
// this exact map[string]interface{}->struct shape, so this stays on the
// standard library rather than reaching for one.
func ParseGraph(raw map[string]interface{}) (*Graph, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("MalformedGraph: %w", err)
	}
	var wg wireGraph
	if err := json.Unmarshal(data, &wg); err != nil {
		return nil, fmt.Errorf("MalformedGraph: %w", err)
	}

	g := &Graph{Nodes: make(map[string]*PlanNode, len(wg.Nodes)), Edges: wg.Edges}
	for _, n := range wg.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("MalformedGraph: node with empty id")
		}
		g.Nodes[n.ID] = n
	}
	return g, nil
}

// StartNode locates the graph's unique start node.
func (g *Graph) StartNode() (*PlanNode, error) {
	var found *PlanNode
	for _, n := range g.Nodes {
		if n.Kind == NodeStart {
			if found != nil {
				return nil, fmt.Errorf("MalformedGraph: more than one start node")
			}
			found = n
		}
	}
	if found == nil {
		return nil, fmt.Errorf("MalformedGraph: no start node")
	}
	return found, nil
}

// edgeFor returns the target node id for the given source node and handle.
func (g *Graph) edgeFor(fromNodeID, handle string) (string, bool) {
	for _, e := range g.Edges {
		if e.FromNodeID == fromNodeID && e.Handle == handle {
			return e.ToNodeID, true
		}
	}
	return "", false
}
