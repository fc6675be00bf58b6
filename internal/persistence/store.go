// Package persistence is the single interface every other component talks
// to for durable state (spec.md §6.3, §9: "no direct DB access from other
// components"). It owns the trigger-equivalent behavior of spec.md §6.5c
// (subtree count maintenance, label/screenshot mirroring, cascade delete)
// so those contracts are atomic from the caller's perspective regardless
// of backing implementation.
package persistence

import (
	"context"

	"github.com/angelstreet/virtualpytest-sub002/internal/model"
)

// Store is the persistence contract from spec.md §6.3.
type Store interface {
	// Trees
	GetTree(ctx context.Context, teamID, treeID string) (*model.Tree, error)
	SaveTree(ctx context.Context, tree *model.Tree) error
	DeleteTree(ctx context.Context, teamID, treeID string) error
	ListChildTrees(ctx context.Context, teamID, parentTreeID, parentNodeID string) ([]*model.Tree, error)

	// Nodes
	ListNodesPaginated(ctx context.Context, teamID, treeID string, page, limit int) ([]*model.Node, int, error)
	GetNode(ctx context.Context, teamID, treeID, nodeID string) (*model.Node, error)
	SaveNode(ctx context.Context, teamID string, node *model.Node) error
	DeleteNode(ctx context.Context, teamID, treeID, nodeID string) error

	// Edges
	ListEdges(ctx context.Context, teamID, treeID string, nodeIDs []string) ([]*model.Edge, error)
	SaveEdge(ctx context.Context, teamID string, edge *model.Edge) error
	DeleteEdge(ctx context.Context, teamID, treeID, edgeID string) error

	// Testcases
	SaveTestcase(ctx context.Context, tc *model.Testcase) error
	ListTestcases(ctx context.Context, teamID string) ([]*model.Testcase, error)
	GetTestcase(ctx context.Context, teamID, testcaseID string) (*model.Testcase, error)
	DeleteTestcase(ctx context.Context, teamID, testcaseID string) error
	ListExecutions(ctx context.Context, teamID, testcaseID string) ([]*model.ExecutionResult, error)

	// Folders / tags
	GetOrCreateFolder(ctx context.Context, teamID, name string) (*model.Folder, error)
	GetOrCreateTag(ctx context.Context, teamID, name string) (*model.Tag, error)
	SetExecutableTags(ctx context.Context, teamID, executableType, executableID string, tagNames []string) error
	ListFolders(ctx context.Context, teamID string) ([]*model.Folder, error)
	ListTags(ctx context.Context, teamID string) ([]*model.Tag, error)

	// AI plan cache
	GetPlanByFingerprint(ctx context.Context, teamID, fingerprint string) (*model.CachedPlan, error)
	FindCompatiblePlans(ctx context.Context, teamID, normalizedPrompt string) ([]*model.CachedPlan, error)
	UpsertPlan(ctx context.Context, plan *model.CachedPlan) error
	UpdatePlanMetrics(ctx context.Context, teamID, fingerprint string, success bool, execTimeMS float64, failureReason string) error
	InvalidatePlan(ctx context.Context, teamID, fingerprint string) error
	PlanMaintenance(ctx context.Context, teamID string) (evicted int, err error)

	// Results
	InsertResult(ctx context.Context, result *model.ExecutionResult) error
	UpdateResult(ctx context.Context, result *model.ExecutionResult) error
	ListResultsByExecutable(ctx context.Context, teamID, executableType, executableID string) ([]*model.ExecutionResult, error)

	// Alerts
	InsertAlert(ctx context.Context, alert *model.Alert) error
	UpdateAlert(ctx context.Context, alert *model.Alert) error
}

// SubtreeParent identifies the anchor of a subtree for cascade-delete and
// has_subtree/subtree_count bookkeeping.
type SubtreeParent struct {
	ParentTreeID string
	ParentNodeID string
}
