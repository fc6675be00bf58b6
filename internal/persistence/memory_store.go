package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/angelstreet/virtualpytest-sub002/internal/apperr"
	"github.com/angelstreet/virtualpytest-sub002/internal/logger"
	"github.com/angelstreet/virtualpytest-sub002/internal/model"
)

// MemoryStore is an in-process Store, grounded on the teacher framework's
// core/memory_store.go (mutex-guarded maps, debug-log-on-lookup). It backs
// local development (VPT_MOCK_REDIS) and unit tests; RedisStore is used in
// every deployed environment.
type MemoryStore struct {
	mu sync.RWMutex

	log logger.Logger

	trees     map[treeKey]*model.Tree
	nodes     map[nodeKey]*model.Node
	edges     map[edgeKey]*model.Edge
	testcases map[tcKey]*model.Testcase
	folders   map[folderKey]*model.Folder
	tags      map[tagKey]*model.Tag
	execTags  map[string][]string // "teamID|executableType|executableID" -> tag names
	plans     map[planKey]*model.CachedPlan
	results   map[string]*model.ExecutionResult // resultID -> result
	alerts    map[string]*model.Alert           // alertID -> alert
}

type treeKey struct{ teamID, treeID string }
type nodeKey struct{ teamID, treeID, nodeID string }
type edgeKey struct{ teamID, treeID, edgeID string }
type tcKey struct{ teamID, testcaseID string }
type folderKey struct{ teamID, name string }
type tagKey struct{ teamID, name string }
type planKey struct{ teamID, fingerprint string }

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(log logger.Logger) *MemoryStore {
	if log == nil {
		log = logger.Noop()
	}
	return &MemoryStore{
		log:       log,
		trees:     map[treeKey]*model.Tree{},
		nodes:     map[nodeKey]*model.Node{},
		edges:     map[edgeKey]*model.Edge{},
		testcases: map[tcKey]*model.Testcase{},
		folders:   map[folderKey]*model.Folder{},
		tags:      map[tagKey]*model.Tag{},
		execTags:  map[string][]string{},
		plans:     map[planKey]*model.CachedPlan{},
		results:   map[string]*model.ExecutionResult{},
		alerts:    map[string]*model.Alert{},
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) GetTree(ctx context.Context, teamID, treeID string) (*model.Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trees[treeKey{teamID, treeID}]
	if !ok {
		s.log.Debug("tree lookup miss", logger.Fields{"tree_id": treeID})
		return nil, apperr.New("GetTree", "not_found", apperr.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) SaveTree(ctx context.Context, tree *model.Tree) error {
	if err := tree.Validate(); err != nil {
		return apperr.Wrapf("SaveTree", "validation", err, "tree %s", tree.TreeID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tree
	s.trees[treeKey{tree.TeamID, tree.TreeID}] = &cp

	if !tree.IsRootTree {
		s.adjustSubtreeCountLocked(tree.TeamID, tree.ParentTreeID, tree.ParentNodeID, 1)
	}
	return nil
}

// DeleteTree cascades to child trees and their nodes/edges, then decrements
// the parent node's subtree_count (spec.md §6.5c cascade-delete trigger equivalent).
func (s *MemoryStore) DeleteTree(ctx context.Context, teamID, treeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteTreeLocked(teamID, treeID)
}

func (s *MemoryStore) deleteTreeLocked(teamID, treeID string) error {
	t, ok := s.trees[treeKey{teamID, treeID}]
	if !ok {
		return apperr.New("DeleteTree", "not_found", apperr.ErrNotFound)
	}

	for _, child := range s.listChildTreesLocked(teamID, treeID, "") {
		if err := s.deleteTreeLocked(teamID, child.TreeID); err != nil {
			return err
		}
	}

	for k := range s.nodes {
		if k.teamID == teamID && k.treeID == treeID {
			delete(s.nodes, k)
		}
	}
	for k := range s.edges {
		if k.teamID == teamID && k.treeID == treeID {
			delete(s.edges, k)
		}
	}
	delete(s.trees, treeKey{teamID, treeID})

	if !t.IsRootTree {
		s.adjustSubtreeCountLocked(teamID, t.ParentTreeID, t.ParentNodeID, -1)
	}
	return nil
}

func (s *MemoryStore) ListChildTrees(ctx context.Context, teamID, parentTreeID, parentNodeID string) ([]*model.Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listChildTreesLocked(teamID, parentTreeID, parentNodeID), nil
}

func (s *MemoryStore) listChildTreesLocked(teamID, parentTreeID, parentNodeID string) []*model.Tree {
	var out []*model.Tree
	for _, t := range s.trees {
		if t.TeamID != teamID || t.ParentTreeID != parentTreeID {
			continue
		}
		if parentNodeID != "" && t.ParentNodeID != parentNodeID {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TreeID < out[j].TreeID })
	return out
}

// adjustSubtreeCountLocked mirrors the trigger-equivalent bookkeeping on the
// parent anchor node: has_subtree/subtree_count reflect live child-tree count.
func (s *MemoryStore) adjustSubtreeCountLocked(teamID, parentTreeID, parentNodeID string, delta int) {
	k := nodeKey{teamID, parentTreeID, parentNodeID}
	n, ok := s.nodes[k]
	if !ok {
		return
	}
	n.SubtreeCount += delta
	if n.SubtreeCount < 0 {
		n.SubtreeCount = 0
	}
	n.HasSubtree = n.SubtreeCount > 0
}

func (s *MemoryStore) ListNodesPaginated(ctx context.Context, teamID, treeID string, page, limit int) ([]*model.Node, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*model.Node
	for k, n := range s.nodes {
		if k.teamID == teamID && k.treeID == treeID {
			cp := *n
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].NodeID < all[j].NodeID })
	total := len(all)
	if limit <= 0 {
		return all, total, nil
	}
	start := page * limit
	if start >= total {
		return []*model.Node{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *MemoryStore) GetNode(ctx context.Context, teamID, treeID, nodeID string) (*model.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[nodeKey{teamID, treeID, nodeID}]
	if !ok {
		return nil, apperr.New("GetNode", "not_found", apperr.ErrNotFound)
	}
	cp := *n
	return &cp, nil
}

// SaveNode mirrors label/screenshot changes across every sibling tree node
// sharing the same node_id within the team (spec.md §6.5c mirroring trigger).
func (s *MemoryStore) SaveNode(ctx context.Context, teamID string, node *model.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *node
	s.nodes[nodeKey{teamID, node.TreeID, node.NodeID}] = &cp

	for k, n := range s.nodes {
		if k.teamID == teamID && k.nodeID == node.NodeID && k.treeID != node.TreeID {
			n.Label = node.Label
			n.Screenshot = node.Screenshot
		}
	}
	return nil
}

// DeleteNode removes a node and every same-tree edge touching it, and
// cascades to every subtree it parents (spec.md line 38/234(c)/279: deleting
// a node with N subtrees deletes exactly those N trees, recursively, and
// nothing else).
func (s *MemoryStore) DeleteNode(ctx context.Context, teamID, treeID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := nodeKey{teamID, treeID, nodeID}
	if _, ok := s.nodes[k]; !ok {
		return apperr.New("DeleteNode", "not_found", apperr.ErrNotFound)
	}

	for _, child := range s.listChildTreesLocked(teamID, treeID, nodeID) {
		if err := s.deleteTreeLocked(teamID, child.TreeID); err != nil {
			return err
		}
	}

	delete(s.nodes, k)
	for ek, e := range s.edges {
		if ek.teamID == teamID && ek.treeID == treeID && (e.SourceNodeID == nodeID || e.TargetNodeID == nodeID) {
			delete(s.edges, ek)
		}
	}
	return nil
}

func (s *MemoryStore) ListEdges(ctx context.Context, teamID, treeID string, nodeIDs []string) ([]*model.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	filter := map[string]bool{}
	for _, id := range nodeIDs {
		filter[id] = true
	}
	var out []*model.Edge
	for k, e := range s.edges {
		if k.teamID != teamID || k.treeID != treeID {
			continue
		}
		if len(filter) > 0 && !filter[e.SourceNodeID] && !filter[e.TargetNodeID] {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EdgeID < out[j].EdgeID })
	return out, nil
}

func (s *MemoryStore) SaveEdge(ctx context.Context, teamID string, edge *model.Edge) error {
	if err := edge.Validate(); err != nil {
		return apperr.Wrapf("SaveEdge", "validation", err, "edge %s", edge.EdgeID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *edge
	s.edges[edgeKey{teamID, edge.TreeID, edge.EdgeID}] = &cp
	return nil
}

func (s *MemoryStore) DeleteEdge(ctx context.Context, teamID, treeID, edgeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := edgeKey{teamID, treeID, edgeID}
	if _, ok := s.edges[k]; !ok {
		return apperr.New("DeleteEdge", "not_found", apperr.ErrNotFound)
	}
	delete(s.edges, k)
	return nil
}

func (s *MemoryStore) SaveTestcase(ctx context.Context, tc *model.Testcase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if tc.CreatedAt.IsZero() {
		tc.CreatedAt = now
	}
	tc.UpdatedAt = now
	cp := *tc
	s.testcases[tcKey{tc.TeamID, tc.TestcaseID}] = &cp
	return nil
}

func (s *MemoryStore) ListTestcases(ctx context.Context, teamID string) ([]*model.Testcase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Testcase
	for k, tc := range s.testcases {
		if k.teamID == teamID {
			cp := *tc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) GetTestcase(ctx context.Context, teamID, testcaseID string) (*model.Testcase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tc, ok := s.testcases[tcKey{teamID, testcaseID}]
	if !ok {
		return nil, apperr.New("GetTestcase", "not_found", apperr.ErrNotFound)
	}
	cp := *tc
	return &cp, nil
}

func (s *MemoryStore) DeleteTestcase(ctx context.Context, teamID, testcaseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := tcKey{teamID, testcaseID}
	if _, ok := s.testcases[k]; !ok {
		return apperr.New("DeleteTestcase", "not_found", apperr.ErrNotFound)
	}
	delete(s.testcases, k)
	return nil
}

func (s *MemoryStore) ListExecutions(ctx context.Context, teamID, testcaseID string) ([]*model.ExecutionResult, error) {
	return s.ListResultsByExecutable(ctx, teamID, "testcase", testcaseID)
}

func (s *MemoryStore) GetOrCreateFolder(ctx context.Context, teamID, name string) (*model.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := folderKey{teamID, name}
	if f, ok := s.folders[k]; ok {
		cp := *f
		return &cp, nil
	}
	f := &model.Folder{FolderID: newID(), TeamID: teamID, Name: name}
	s.folders[k] = f
	cp := *f
	return &cp, nil
}

func (s *MemoryStore) ListFolders(ctx context.Context, teamID string) ([]*model.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*model.Folder{{FolderID: model.RootFolderID, TeamID: teamID, Name: "root"}}
	for k, f := range s.folders {
		if k.teamID == teamID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetOrCreateTag assigns the next unused palette color round-robin by
// current tag count (spec.md §3 TagPalette).
func (s *MemoryStore) GetOrCreateTag(ctx context.Context, teamID, name string) (*model.Tag, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	s.mu.Lock()
	defer s.mu.Unlock()
	k := tagKey{teamID, name}
	if t, ok := s.tags[k]; ok {
		cp := *t
		return &cp, nil
	}
	count := 0
	for tk := range s.tags {
		if tk.teamID == teamID {
			count++
		}
	}
	t := &model.Tag{
		TagID:  newID(),
		TeamID: teamID,
		Name:   name,
		Color:  model.TagPalette[count%len(model.TagPalette)],
	}
	s.tags[k] = t
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTags(ctx context.Context, teamID string) ([]*model.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Tag
	for k, t := range s.tags {
		if k.teamID == teamID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) SetExecutableTags(ctx context.Context, teamID, executableType, executableID string, tagNames []string) error {
	for _, name := range tagNames {
		if _, err := s.GetOrCreateTag(ctx, teamID, name); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execTags[execTagKey(teamID, executableType, executableID)] = append([]string{}, tagNames...)
	return nil
}

func execTagKey(teamID, executableType, executableID string) string {
	return teamID + "|" + executableType + "|" + executableID
}

func (s *MemoryStore) GetPlanByFingerprint(ctx context.Context, teamID, fingerprint string) (*model.CachedPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[planKey{teamID, fingerprint}]
	if !ok {
		return nil, apperr.New("GetPlanByFingerprint", "cache_miss", apperr.ErrCacheMiss)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) FindCompatiblePlans(ctx context.Context, teamID, normalizedPrompt string) ([]*model.CachedPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.CachedPlan
	for k, p := range s.plans {
		if k.teamID == teamID && p.NormalizedPrompt == normalizedPrompt {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertPlan(ctx context.Context, plan *model.CachedPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *plan
	s.plans[planKey{plan.TeamID, plan.Fingerprint}] = &cp
	return nil
}

func (s *MemoryStore) UpdatePlanMetrics(ctx context.Context, teamID, fingerprint string, success bool, execTimeMS float64, failureReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planKey{teamID, fingerprint}]
	if !ok {
		return apperr.New("UpdatePlanMetrics", "not_found", apperr.ErrNotFound)
	}
	p.RecordExecution(success, execTimeMS, failureReason, time.Now())
	return nil
}

func (s *MemoryStore) InvalidatePlan(ctx context.Context, teamID, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := planKey{teamID, fingerprint}
	if _, ok := s.plans[k]; !ok {
		return apperr.New("InvalidatePlan", "not_found", apperr.ErrNotFound)
	}
	delete(s.plans, k)
	return nil
}

// PlanMaintenance applies the eviction policy from spec.md §5.4: low
// reliability (execution_count>5 && success_rate<0.3) or stale-and-weak
// (last_used>90d && success_rate<0.7), plus an LRU cap of 1000 plans/team.
func (s *MemoryStore) PlanMaintenance(ctx context.Context, teamID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	evicted := 0
	var remaining []*model.CachedPlan
	for k, p := range s.plans {
		if k.teamID != teamID {
			continue
		}
		rate := p.SuccessRate()
		lowReliability := p.ExecutionCount > 5 && rate < 0.3
		staleWeak := now.Sub(p.LastUsed) > 90*24*time.Hour && rate < 0.7
		if lowReliability || staleWeak {
			delete(s.plans, k)
			evicted++
			continue
		}
		remaining = append(remaining, p)
	}
	const cap = 1000
	if len(remaining) > cap {
		sort.Slice(remaining, func(i, j int) bool { return remaining[i].LastUsed.After(remaining[j].LastUsed) })
		for _, p := range remaining[cap:] {
			delete(s.plans, planKey{teamID, p.Fingerprint})
			evicted++
		}
	}
	return evicted, nil
}

func (s *MemoryStore) InsertResult(ctx context.Context, result *model.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *result
	s.results[result.ResultID] = &cp
	return nil
}

func (s *MemoryStore) UpdateResult(ctx context.Context, result *model.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[result.ResultID]; !ok {
		return apperr.New("UpdateResult", "not_found", apperr.ErrNotFound)
	}
	cp := *result
	s.results[result.ResultID] = &cp
	return nil
}

func (s *MemoryStore) ListResultsByExecutable(ctx context.Context, teamID, executableType, executableID string) ([]*model.ExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.ExecutionResult
	for _, r := range s.results {
		if r.TeamID == teamID && r.ExecutableType == executableType && r.ExecutableID == executableID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) InsertAlert(ctx context.Context, alert *model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *alert
	s.alerts[alert.AlertID] = &cp
	return nil
}

func (s *MemoryStore) UpdateAlert(ctx context.Context, alert *model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[alert.AlertID]; !ok {
		return apperr.New("UpdateAlert", "not_found", apperr.ErrNotFound)
	}
	cp := *alert
	s.alerts[alert.AlertID] = &cp
	return nil
}

var idCounter struct {
	mu sync.Mutex
	n  uint64
}

// newID generates a process-unique id without time.Now()/crypto-rand
// dependence, suitable for in-memory/test use only; RedisStore generates
// uuid.NewString() ids instead.
func newID() string {
	idCounter.mu.Lock()
	defer idCounter.mu.Unlock()
	idCounter.n++
	return "mem-" + itoa(idCounter.n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
