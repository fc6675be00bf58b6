// Package model holds the data-transfer shapes shared by every subsystem:
// trees/nodes/edges, testcases, AI-cached plans, and execution results.
// These are plain structs; the persistence layer owns how they're stored.
package model

import (
	"fmt"
	"time"
)

// NodeType enumerates the kinds of node a tree can hold.
type NodeType string

const (
	NodeTypeEntry  NodeType = "entry"
	NodeTypeScreen NodeType = "screen"
	NodeTypeMenu   NodeType = "menu"
	NodeTypeAction NodeType = "action"
)

// Tree is a named collection of nodes+edges scoped to a user interface.
type Tree struct {
	TreeID       string `json:"tree_id"`
	TeamID       string `json:"team_id"`
	Name         string `json:"name"`
	UIName       string `json:"ui_name"`
	TreeDepth    int    `json:"tree_depth"`
	IsRootTree   bool   `json:"is_root_tree"`
	ParentTreeID string `json:"parent_tree_id,omitempty"`
	ParentNodeID string `json:"parent_node_id,omitempty"`
}

// MaxHierarchyDepth is the maximum nesting depth a tree hierarchy may reach.
const MaxHierarchyDepth = 5

// Validate checks the invariant: is_root_tree ≡ (parent_tree_id IS NULL AND parent_node_id IS NULL).
func (t *Tree) Validate() error {
	hasParent := t.ParentTreeID != "" || t.ParentNodeID != ""
	if t.IsRootTree && hasParent {
		return errf("tree %s: is_root_tree but has a parent reference", t.TreeID)
	}
	if !t.IsRootTree && !hasParent {
		return errf("tree %s: non-root tree missing parent_tree_id/parent_node_id", t.TreeID)
	}
	if t.TreeDepth < 0 || t.TreeDepth > MaxHierarchyDepth {
		return errf("tree %s: tree_depth %d out of range [0,%d]", t.TreeID, t.TreeDepth, MaxHierarchyDepth)
	}
	if t.IsRootTree && t.TreeDepth != 0 {
		return errf("tree %s: root tree must have tree_depth 0", t.TreeID)
	}
	return nil
}

// Node is identified by (tree_id, node_id); node_id is a stable label used
// across sibling trees for label/screenshot mirroring.
type Node struct {
	TreeID        string         `json:"tree_id"`
	NodeID        string         `json:"node_id"`
	Label         string         `json:"label"`
	NodeType      NodeType       `json:"node_type"`
	IsRoot        bool           `json:"is_root"`
	Screenshot    string         `json:"screenshot,omitempty"`
	Verifications []Verification `json:"verifications,omitempty"`
	HasSubtree    bool           `json:"has_subtree"`
	SubtreeCount  int            `json:"subtree_count"`
	PositionX     float64        `json:"position_x,omitempty"`
	PositionY     float64        `json:"position_y,omitempty"`
}

// Key returns the composite identity used for map lookups.
func (n *Node) Key() NodeKey { return NodeKey{TreeID: n.TreeID, NodeID: n.NodeID} }

// NodeKey is the composite (tree_id, node_id) identity.
type NodeKey struct {
	TreeID string
	NodeID string
}

// Verification is embedded in a node and evaluated after navigation to it.
type Verification struct {
	Type    string                 `json:"type"`
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Action carries an opaque, command-specific parameter map. wait_time (ms)
// is a reserved key inside Params honored by the executor after the command runs.
type Action struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// WaitTimeMS extracts the reserved wait_time param, defaulting to 0.
func (a Action) WaitTimeMS() int {
	if a.Params == nil {
		return 0
	}
	switch v := a.Params["wait_time"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// ActionSet is a named bundle of actions attached to an edge.
type ActionSet struct {
	ID             string     `json:"id"`
	Label          string     `json:"label"`
	Priority       int        `json:"priority"`
	TimerMS        int        `json:"timer,omitempty"`
	Conditions     []string   `json:"conditions,omitempty"`
	Actions        []Action   `json:"actions"`
	RetryActions   []Action   `json:"retry_actions,omitempty"`
	FailureActions []Action   `json:"failure_actions,omitempty"`
}

// Edge is identified by (tree_id, edge_id), directed source -> target within one tree.
type Edge struct {
	TreeID             string      `json:"tree_id"`
	EdgeID             string      `json:"edge_id"`
	SourceNodeID       string      `json:"source_node_id"`
	TargetNodeID       string      `json:"target_node_id"`
	ActionSets         []ActionSet `json:"action_sets"`
	DefaultActionSetID string      `json:"default_action_set_id"`
	FinalWaitTimeMS    int         `json:"final_wait_time,omitempty"`
	Priority           int         `json:"priority,omitempty"`
	Threshold          float64     `json:"threshold,omitempty"`
}

// IsBidirectional reports whether this edge carries a reverse action set.
func (e *Edge) IsBidirectional() bool { return len(e.ActionSets) >= 2 }

// DefaultActionSet returns the action set named by DefaultActionSetID.
func (e *Edge) DefaultActionSet() (*ActionSet, bool) {
	for i := range e.ActionSets {
		if e.ActionSets[i].ID == e.DefaultActionSetID {
			return &e.ActionSets[i], true
		}
	}
	return nil, false
}

// ReverseActionSet returns the first action set whose id differs from the default.
func (e *Edge) ReverseActionSet() (*ActionSet, bool) {
	for i := range e.ActionSets {
		if e.ActionSets[i].ID != e.DefaultActionSetID {
			return &e.ActionSets[i], true
		}
	}
	return nil, false
}

// Validate checks the edge invariants from spec.md §3/§8.
func (e *Edge) Validate() error {
	if len(e.ActionSets) == 0 {
		return errf("edge %s: must have at least one action set", e.EdgeID)
	}
	if _, ok := e.DefaultActionSet(); !ok {
		return errf("edge %s: default_action_set_id %q not present in action_sets", e.EdgeID, e.DefaultActionSetID)
	}
	if e.IsBidirectional() {
		seen := map[string]bool{}
		for _, as := range e.ActionSets {
			if seen[as.ID] {
				return errf("edge %s: bidirectional edge has duplicate action set id %q", e.EdgeID, as.ID)
			}
			seen[as.ID] = true
		}
		if len(e.ActionSets) != 2 {
			return errf("edge %s: bidirectional edge must have exactly 2 action sets, got %d", e.EdgeID, len(e.ActionSets))
		}
	}
	return nil
}

// CreationMethod is how a testcase's graph was produced.
type CreationMethod string

const (
	CreationVisual CreationMethod = "visual"
	CreationAI     CreationMethod = "ai"
)

// Testcase is a stored, executable graph.
type Testcase struct {
	TestcaseID     string                 `json:"testcase_id"`
	TeamID         string                 `json:"team_id"`
	Name           string                 `json:"name"`
	UIName         string                 `json:"ui_name"`
	GraphJSON      map[string]interface{} `json:"graph_json"`
	CreationMethod CreationMethod         `json:"creation_method"`
	AIPrompt       string                 `json:"ai_prompt,omitempty"`
	AIAnalysis     string                 `json:"ai_analysis,omitempty"`
	FolderID       string                 `json:"folder_id"`
	Tags           []string               `json:"tags,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// Folder organizes testcases; FolderID "0" is the reserved root.
type Folder struct {
	FolderID string `json:"folder_id"`
	TeamID   string `json:"team_id"`
	Name     string `json:"name"`
}

// RootFolderID is the reserved root folder id (spec.md §3, §6.5).
const RootFolderID = "0"

// TagPalette is the fixed 12-entry color palette tags are assigned from on creation.
var TagPalette = [12]string{
	"#EF4444", "#F97316", "#F59E0B", "#EAB308",
	"#84CC16", "#22C55E", "#10B981", "#14B8A6",
	"#06B6D4", "#3B82F6", "#6366F1", "#A855F7",
}

// Tag is a flat label; Name is unique lowercase per team.
type Tag struct {
	TagID  string `json:"tag_id"`
	TeamID string `json:"team_id"`
	Name   string `json:"name"`
	Color  string `json:"color"`
}

// CachedPlan is a content-addressed, reusable AI-generated execution graph.
type CachedPlan struct {
	Fingerprint        string                 `json:"fingerprint"`
	TeamID             string                 `json:"team_id"`
	NormalizedPrompt   string                 `json:"normalized_prompt"`
	Intent             string                 `json:"intent"`
	Target             string                 `json:"target"`
	DeviceModel        string                 `json:"device_model"`
	UIName             string                 `json:"ui_name"`
	AvailableNodes     []string               `json:"available_nodes"`
	ContextSignature   string                 `json:"context_signature"`
	Graph              map[string]interface{} `json:"graph"`
	SuccessCount       int                    `json:"success_count"`
	FailureCount       int                    `json:"failure_count"`
	ExecutionCount     int                    `json:"execution_count"`
	AvgExecutionTimeMS float64                `json:"avg_execution_time_ms"`
	LastUsed           time.Time              `json:"last_used"`
	LastSuccess        time.Time              `json:"last_success"`
	LastFailure        time.Time              `json:"last_failure"`
	FailureReasons     []string               `json:"failure_reasons,omitempty"`
}

// SuccessRate is success_count / execution_count, 0 when no executions recorded.
func (p *CachedPlan) SuccessRate() float64 {
	if p.ExecutionCount == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(p.ExecutionCount)
}

// PlanEWMAAlpha is the smoothing factor for avg_execution_time_ms updates.
const PlanEWMAAlpha = 0.2

// RecordExecution updates success/failure counters and the EWMA average
// execution time in place (spec.md §4.3 storage rule).
func (p *CachedPlan) RecordExecution(success bool, execTimeMS float64, failureReason string, now time.Time) {
	p.ExecutionCount++
	p.LastUsed = now
	if p.ExecutionCount == 1 {
		p.AvgExecutionTimeMS = execTimeMS
	} else {
		p.AvgExecutionTimeMS = PlanEWMAAlpha*execTimeMS + (1-PlanEWMAAlpha)*p.AvgExecutionTimeMS
	}
	if success {
		p.SuccessCount++
		p.LastSuccess = now
	} else {
		p.FailureCount++
		p.LastFailure = now
		if failureReason != "" {
			p.FailureReasons = append(p.FailureReasons, failureReason)
		}
	}
}

// ScriptType enumerates the kind of executable a script_results row records.
type ScriptType string

const (
	ScriptTypeScript   ScriptType = "script"
	ScriptTypeTestcase ScriptType = "testcase"
	ScriptTypeAI       ScriptType = "ai"
)

// StepRecord captures one executed node's evidence.
type StepRecord struct {
	StepIndex    int                    `json:"step_index"`
	NodeID       string                 `json:"node_id"`
	Command      string                 `json:"command,omitempty"`
	Params       map[string]interface{} `json:"params,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	EndedAt      time.Time              `json:"ended_at"`
	Success      bool                   `json:"success"`
	Error        string                 `json:"error,omitempty"`
	Screenshots  []string               `json:"screenshots,omitempty"`
	Transcript   string                 `json:"transcript,omitempty"`
	FrameDescs   []string               `json:"frame_descriptions,omitempty"`
}

// ExecutionResult is the row persisted for every test/script/AI run.
type ExecutionResult struct {
	ResultID        string       `json:"result_id"`
	TeamID          string       `json:"team_id"`
	ExecutableType  string       `json:"executable_type"`
	ExecutableID    string       `json:"executable_id"`
	ScriptType      ScriptType   `json:"script_type"`
	ScriptName      string       `json:"script_name"`
	Host            string       `json:"host"`
	DeviceID        string       `json:"device_id"`
	Success         bool         `json:"success"`
	Canceled        bool         `json:"canceled,omitempty"`
	StartedAt       time.Time    `json:"started_at"`
	ExecutionTimeMS int64        `json:"execution_time_ms"`
	ReportURL       string       `json:"report_url,omitempty"`
	StepResults     []StepRecord `json:"step_results"`

	// Review pipeline columns, written only by the external, asynchronous
	// review consumer (spec.md §9 open question) -- nil/zero until reviewed.
	Checked        bool   `json:"checked"`
	CheckType      string `json:"check_type,omitempty"`
	Discard        bool   `json:"discard"`
	DiscardType    string `json:"discard_type,omitempty"`
	DiscardComment string `json:"discard_comment,omitempty"`
}

// AlertStatus tracks an Alert's lifecycle.
type AlertStatus string

const (
	AlertStatusOpen     AlertStatus = "open"
	AlertStatusResolved AlertStatus = "resolved"
)

// Alert is a device/host health incident raised by the monitoring pipeline
// (e.g. a device missing heartbeats, or an execution failing repeatedly in
// a row) and persisted separately from ExecutionResult rows: an alert has
// its own open/resolved lifecycle independent of any single execution.
type Alert struct {
	AlertID          string                 `json:"alert_id"`
	TeamID           string                 `json:"team_id"`
	Host             string                 `json:"host"`
	DeviceID         string                 `json:"device_id"`
	AlertType        string                 `json:"alert_type"`
	Message          string                 `json:"message"`
	Status           AlertStatus            `json:"status"`
	ConsecutiveCount int                    `json:"consecutive_count"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	StartedAt        time.Time              `json:"started_at"`
	ResolvedAt       *time.Time             `json:"resolved_at,omitempty"`
}

func errf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
