package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/angelstreet/virtualpytest-sub002/internal/apperr"
	"github.com/angelstreet/virtualpytest-sub002/internal/logger"
	"github.com/angelstreet/virtualpytest-sub002/internal/model"
)

// RedisStore is the deployed Store implementation, grounded on the teacher
// framework's core/redis_client.go (DB isolation + key namespacing) and
// core/redis_registry.go (JSON-serialized rows indexed by auxiliary sets).
// Every entity is stored as a JSON blob under a namespaced key; per-team
// index sets (e.g. "vpt:idx:tree:<team>") make listing possible without a
// secondary index engine.
type RedisStore struct {
	client    *redis.Client
	namespace string
	log       logger.Logger
}

// RedisStoreOptions configures RedisStore construction.
type RedisStoreOptions struct {
	RedisURL  string
	Namespace string // defaults to "vpt"
	Logger    logger.Logger
}

// NewRedisStore dials Redis and verifies connectivity with a Ping, mirroring
// the teacher's NewRedisClient connection test.
func NewRedisStore(ctx context.Context, opts RedisStoreOptions) (*RedisStore, error) {
	if opts.RedisURL == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	ns := opts.Namespace
	if ns == "" {
		ns = "vpt"
	}
	log := opts.Logger
	if log == nil {
		log = logger.Noop()
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(redisOpt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	log.Info("redis store connected", logger.Fields{"namespace": ns})
	return &RedisStore{client: client, namespace: ns, log: log}, nil
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) key(parts ...string) string {
	return s.namespace + ":" + strings.Join(parts, ":")
}

func (s *RedisStore) getJSON(ctx context.Context, key string, out interface{}) error {
	raw, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return apperr.New("getJSON", "not_found", apperr.ErrNotFound)
	}
	if err != nil {
		return apperr.Wrapf("getJSON", "transient", apperr.ErrTransient, "redis get %s: %v", key, err)
	}
	return json.Unmarshal([]byte(raw), out)
}

func (s *RedisStore) setJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, raw, 0).Err(); err != nil {
		return apperr.Wrapf("setJSON", "transient", apperr.ErrTransient, "redis set %s: %v", key, err)
	}
	return nil
}

// --- Trees ---

func (s *RedisStore) treeKey(teamID, treeID string) string { return s.key("tree", teamID, treeID) }
func (s *RedisStore) treeIndexKey(teamID string) string    { return s.key("idx", "tree", teamID) }

func (s *RedisStore) GetTree(ctx context.Context, teamID, treeID string) (*model.Tree, error) {
	var t model.Tree
	if err := s.getJSON(ctx, s.treeKey(teamID, treeID), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *RedisStore) SaveTree(ctx context.Context, tree *model.Tree) error {
	if err := tree.Validate(); err != nil {
		return apperr.Wrapf("SaveTree", "validation", err, "tree %s", tree.TreeID)
	}
	if err := s.setJSON(ctx, s.treeKey(tree.TeamID, tree.TreeID), tree); err != nil {
		return err
	}
	if err := s.client.SAdd(ctx, s.treeIndexKey(tree.TeamID), tree.TreeID).Err(); err != nil {
		return apperr.Wrapf("SaveTree", "transient", apperr.ErrTransient, "index tree: %v", err)
	}
	if !tree.IsRootTree {
		return s.adjustSubtreeCount(ctx, tree.TeamID, tree.ParentTreeID, tree.ParentNodeID, 1)
	}
	return nil
}

func (s *RedisStore) DeleteTree(ctx context.Context, teamID, treeID string) error {
	tree, err := s.GetTree(ctx, teamID, treeID)
	if err != nil {
		return err
	}

	children, err := s.ListChildTrees(ctx, teamID, treeID, "")
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.DeleteTree(ctx, teamID, child.TreeID); err != nil {
			return err
		}
	}

	nodeIDs, err := s.client.SMembers(ctx, s.nodeIndexKey(teamID, treeID)).Result()
	if err != nil {
		return apperr.Wrapf("DeleteTree", "transient", apperr.ErrTransient, "list nodes: %v", err)
	}
	for _, nodeID := range nodeIDs {
		s.client.Del(ctx, s.nodeKey(teamID, treeID, nodeID))
	}
	s.client.Del(ctx, s.nodeIndexKey(teamID, treeID))

	edgeIDs, err := s.client.SMembers(ctx, s.edgeIndexKey(teamID, treeID)).Result()
	if err != nil {
		return apperr.Wrapf("DeleteTree", "transient", apperr.ErrTransient, "list edges: %v", err)
	}
	for _, edgeID := range edgeIDs {
		s.client.Del(ctx, s.edgeKey(teamID, treeID, edgeID))
	}
	s.client.Del(ctx, s.edgeIndexKey(teamID, treeID))

	s.client.Del(ctx, s.treeKey(teamID, treeID))
	s.client.SRem(ctx, s.treeIndexKey(teamID), treeID)

	if !tree.IsRootTree {
		return s.adjustSubtreeCount(ctx, teamID, tree.ParentTreeID, tree.ParentNodeID, -1)
	}
	return nil
}

func (s *RedisStore) ListChildTrees(ctx context.Context, teamID, parentTreeID, parentNodeID string) ([]*model.Tree, error) {
	ids, err := s.client.SMembers(ctx, s.treeIndexKey(teamID)).Result()
	if err != nil {
		return nil, apperr.Wrapf("ListChildTrees", "transient", apperr.ErrTransient, "list trees: %v", err)
	}
	var out []*model.Tree
	for _, id := range ids {
		t, err := s.GetTree(ctx, teamID, id)
		if err != nil {
			continue
		}
		if t.ParentTreeID != parentTreeID {
			continue
		}
		if parentNodeID != "" && t.ParentNodeID != parentNodeID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TreeID < out[j].TreeID })
	return out, nil
}

func (s *RedisStore) adjustSubtreeCount(ctx context.Context, teamID, parentTreeID, parentNodeID string, delta int) error {
	n, err := s.GetNode(ctx, teamID, parentTreeID, parentNodeID)
	if err != nil {
		return nil // anchor node not persisted yet; nothing to adjust
	}
	n.SubtreeCount += delta
	if n.SubtreeCount < 0 {
		n.SubtreeCount = 0
	}
	n.HasSubtree = n.SubtreeCount > 0
	return s.SaveNode(ctx, teamID, n)
}

// --- Nodes ---

func (s *RedisStore) nodeKey(teamID, treeID, nodeID string) string {
	return s.key("node", teamID, treeID, nodeID)
}
func (s *RedisStore) nodeIndexKey(teamID, treeID string) string { return s.key("idx", "node", teamID, treeID) }
func (s *RedisStore) siblingIndexKey(teamID, nodeID string) string {
	return s.key("idx", "node-siblings", teamID, nodeID)
}

func (s *RedisStore) ListNodesPaginated(ctx context.Context, teamID, treeID string, page, limit int) ([]*model.Node, int, error) {
	ids, err := s.client.SMembers(ctx, s.nodeIndexKey(teamID, treeID)).Result()
	if err != nil {
		return nil, 0, apperr.Wrapf("ListNodesPaginated", "transient", apperr.ErrTransient, "list nodes: %v", err)
	}
	sort.Strings(ids)
	var all []*model.Node
	for _, id := range ids {
		n, err := s.GetNode(ctx, teamID, treeID, id)
		if err == nil {
			all = append(all, n)
		}
	}
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

func (s *RedisStore) GetNode(ctx context.Context, teamID, treeID, nodeID string) (*model.Node, error) {
	var n model.Node
	if err := s.getJSON(ctx, s.nodeKey(teamID, treeID, nodeID), &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// SaveNode mirrors label/screenshot across sibling nodes sharing the same
// node_id in other trees of the same team (spec.md §6.5c).
func (s *RedisStore) SaveNode(ctx context.Context, teamID string, node *model.Node) error {
	if err := s.setJSON(ctx, s.nodeKey(teamID, node.TreeID, node.NodeID), node); err != nil {
		return err
	}
	s.client.SAdd(ctx, s.nodeIndexKey(teamID, node.TreeID), node.NodeID)
	siblingKey := s.siblingIndexKey(teamID, node.NodeID)
	s.client.SAdd(ctx, siblingKey, node.TreeID)

	siblingTreeIDs, err := s.client.SMembers(ctx, siblingKey).Result()
	if err != nil {
		return nil
	}
	for _, treeID := range siblingTreeIDs {
		if treeID == node.TreeID {
			continue
		}
		sibling, err := s.GetNode(ctx, teamID, treeID, node.NodeID)
		if err != nil {
			continue
		}
		sibling.Label = node.Label
		sibling.Screenshot = node.Screenshot
		_ = s.setJSON(ctx, s.nodeKey(teamID, treeID, node.NodeID), sibling)
	}
	return nil
}

// DeleteNode removes a node and every same-tree edge touching it, and
// cascades to every subtree it parents (spec.md line 38/234(c)/279: deleting
// a node with N subtrees deletes exactly those N trees, recursively, and
// nothing else).
func (s *RedisStore) DeleteNode(ctx context.Context, teamID, treeID, nodeID string) error {
	if _, err := s.GetNode(ctx, teamID, treeID, nodeID); err != nil {
		return err
	}

	children, err := s.ListChildTrees(ctx, teamID, treeID, nodeID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.DeleteTree(ctx, teamID, child.TreeID); err != nil {
			return err
		}
	}

	s.client.Del(ctx, s.nodeKey(teamID, treeID, nodeID))
	s.client.SRem(ctx, s.nodeIndexKey(teamID, treeID), nodeID)
	s.client.SRem(ctx, s.siblingIndexKey(teamID, nodeID), treeID)

	edges, _ := s.ListEdges(ctx, teamID, treeID, []string{nodeID})
	for _, e := range edges {
		s.DeleteEdge(ctx, teamID, treeID, e.EdgeID)
	}
	return nil
}

// --- Edges ---

func (s *RedisStore) edgeKey(teamID, treeID, edgeID string) string {
	return s.key("edge", teamID, treeID, edgeID)
}
func (s *RedisStore) edgeIndexKey(teamID, treeID string) string { return s.key("idx", "edge", teamID, treeID) }

func (s *RedisStore) ListEdges(ctx context.Context, teamID, treeID string, nodeIDs []string) ([]*model.Edge, error) {
	ids, err := s.client.SMembers(ctx, s.edgeIndexKey(teamID, treeID)).Result()
	if err != nil {
		return nil, apperr.Wrapf("ListEdges", "transient", apperr.ErrTransient, "list edges: %v", err)
	}
	filter := map[string]bool{}
	for _, id := range nodeIDs {
		filter[id] = true
	}
	var out []*model.Edge
	for _, id := range ids {
		var e model.Edge
		if err := s.getJSON(ctx, s.edgeKey(teamID, treeID, id), &e); err != nil {
			continue
		}
		if len(filter) > 0 && !filter[e.SourceNodeID] && !filter[e.TargetNodeID] {
			continue
		}
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EdgeID < out[j].EdgeID })
	return out, nil
}

func (s *RedisStore) SaveEdge(ctx context.Context, teamID string, edge *model.Edge) error {
	if err := edge.Validate(); err != nil {
		return apperr.Wrapf("SaveEdge", "validation", err, "edge %s", edge.EdgeID)
	}
	if err := s.setJSON(ctx, s.edgeKey(teamID, edge.TreeID, edge.EdgeID), edge); err != nil {
		return err
	}
	return s.client.SAdd(ctx, s.edgeIndexKey(teamID, edge.TreeID), edge.EdgeID).Err()
}

func (s *RedisStore) DeleteEdge(ctx context.Context, teamID, treeID, edgeID string) error {
	if err := s.client.Del(ctx, s.edgeKey(teamID, treeID, edgeID)).Err(); err != nil {
		return apperr.Wrapf("DeleteEdge", "transient", apperr.ErrTransient, "%v", err)
	}
	return s.client.SRem(ctx, s.edgeIndexKey(teamID, treeID), edgeID).Err()
}

// --- Testcases ---

func (s *RedisStore) tcKey(teamID, testcaseID string) string { return s.key("testcase", teamID, testcaseID) }
func (s *RedisStore) tcIndexKey(teamID string) string         { return s.key("idx", "testcase", teamID) }

func (s *RedisStore) SaveTestcase(ctx context.Context, tc *model.Testcase) error {
	now := time.Now()
	if tc.CreatedAt.IsZero() {
		tc.CreatedAt = now
	}
	tc.UpdatedAt = now
	if err := s.setJSON(ctx, s.tcKey(tc.TeamID, tc.TestcaseID), tc); err != nil {
		return err
	}
	return s.client.SAdd(ctx, s.tcIndexKey(tc.TeamID), tc.TestcaseID).Err()
}

func (s *RedisStore) ListTestcases(ctx context.Context, teamID string) ([]*model.Testcase, error) {
	ids, err := s.client.SMembers(ctx, s.tcIndexKey(teamID)).Result()
	if err != nil {
		return nil, apperr.Wrapf("ListTestcases", "transient", apperr.ErrTransient, "%v", err)
	}
	var out []*model.Testcase
	for _, id := range ids {
		tc, err := s.GetTestcase(ctx, teamID, id)
		if err == nil {
			out = append(out, tc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *RedisStore) GetTestcase(ctx context.Context, teamID, testcaseID string) (*model.Testcase, error) {
	var tc model.Testcase
	if err := s.getJSON(ctx, s.tcKey(teamID, testcaseID), &tc); err != nil {
		return nil, err
	}
	return &tc, nil
}

func (s *RedisStore) DeleteTestcase(ctx context.Context, teamID, testcaseID string) error {
	if err := s.client.Del(ctx, s.tcKey(teamID, testcaseID)).Err(); err != nil {
		return apperr.Wrapf("DeleteTestcase", "transient", apperr.ErrTransient, "%v", err)
	}
	return s.client.SRem(ctx, s.tcIndexKey(teamID), testcaseID).Err()
}

func (s *RedisStore) ListExecutions(ctx context.Context, teamID, testcaseID string) ([]*model.ExecutionResult, error) {
	return s.ListResultsByExecutable(ctx, teamID, "testcase", testcaseID)
}

// --- Folders / tags ---

func (s *RedisStore) folderKey(teamID, name string) string { return s.key("folder", teamID, name) }
func (s *RedisStore) folderIndexKey(teamID string) string  { return s.key("idx", "folder", teamID) }
func (s *RedisStore) tagKey(teamID, name string) string    { return s.key("tag", teamID, name) }
func (s *RedisStore) tagIndexKey(teamID string) string     { return s.key("idx", "tag", teamID) }

func (s *RedisStore) GetOrCreateFolder(ctx context.Context, teamID, name string) (*model.Folder, error) {
	var f model.Folder
	key := s.folderKey(teamID, name)
	if err := s.getJSON(ctx, key, &f); err == nil {
		return &f, nil
	}
	f = model.Folder{FolderID: uuid.NewString(), TeamID: teamID, Name: name}
	if err := s.setJSON(ctx, key, &f); err != nil {
		return nil, err
	}
	if err := s.client.SAdd(ctx, s.folderIndexKey(teamID), name).Err(); err != nil {
		return nil, apperr.Wrapf("GetOrCreateFolder", "transient", apperr.ErrTransient, "%v", err)
	}
	return &f, nil
}

func (s *RedisStore) ListFolders(ctx context.Context, teamID string) ([]*model.Folder, error) {
	names, err := s.client.SMembers(ctx, s.folderIndexKey(teamID)).Result()
	if err != nil {
		return nil, apperr.Wrapf("ListFolders", "transient", apperr.ErrTransient, "%v", err)
	}
	out := []*model.Folder{{FolderID: model.RootFolderID, TeamID: teamID, Name: "root"}}
	for _, name := range names {
		var f model.Folder
		if err := s.getJSON(ctx, s.folderKey(teamID, name), &f); err == nil {
			out = append(out, &f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetOrCreateTag assigns the next unused palette color round-robin by
// current tag count (spec.md §3 TagPalette), using the index set's
// cardinality as the rotation counter.
func (s *RedisStore) GetOrCreateTag(ctx context.Context, teamID, name string) (*model.Tag, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	var t model.Tag
	key := s.tagKey(teamID, name)
	if err := s.getJSON(ctx, key, &t); err == nil {
		return &t, nil
	}
	count, err := s.client.SCard(ctx, s.tagIndexKey(teamID)).Result()
	if err != nil {
		count = 0
	}
	t = model.Tag{
		TagID:  uuid.NewString(),
		TeamID: teamID,
		Name:   name,
		Color:  model.TagPalette[int(count)%len(model.TagPalette)],
	}
	if err := s.setJSON(ctx, key, &t); err != nil {
		return nil, err
	}
	if err := s.client.SAdd(ctx, s.tagIndexKey(teamID), name).Err(); err != nil {
		return nil, apperr.Wrapf("GetOrCreateTag", "transient", apperr.ErrTransient, "%v", err)
	}
	return &t, nil
}

func (s *RedisStore) ListTags(ctx context.Context, teamID string) ([]*model.Tag, error) {
	names, err := s.client.SMembers(ctx, s.tagIndexKey(teamID)).Result()
	if err != nil {
		return nil, apperr.Wrapf("ListTags", "transient", apperr.ErrTransient, "%v", err)
	}
	var out []*model.Tag
	for _, name := range names {
		var t model.Tag
		if err := s.getJSON(ctx, s.tagKey(teamID, name), &t); err == nil {
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *RedisStore) SetExecutableTags(ctx context.Context, teamID, executableType, executableID string, tagNames []string) error {
	for _, name := range tagNames {
		if _, err := s.GetOrCreateTag(ctx, teamID, name); err != nil {
			return err
		}
	}
	key := s.key("executable-tags", teamID, executableType, executableID)
	s.client.Del(ctx, key)
	if len(tagNames) == 0 {
		return nil
	}
	members := make([]interface{}, len(tagNames))
	for i, n := range tagNames {
		members[i] = n
	}
	return s.client.SAdd(ctx, key, members...).Err()
}

// --- AI plan cache ---

func (s *RedisStore) planKey(teamID, fingerprint string) string {
	return s.key("plan", teamID, fingerprint)
}
func (s *RedisStore) planIndexKey(teamID string) string { return s.key("idx", "plan", teamID) }

func (s *RedisStore) GetPlanByFingerprint(ctx context.Context, teamID, fingerprint string) (*model.CachedPlan, error) {
	var p model.CachedPlan
	if err := s.getJSON(ctx, s.planKey(teamID, fingerprint), &p); err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.New("GetPlanByFingerprint", "cache_miss", apperr.ErrCacheMiss)
		}
		return nil, err
	}
	return &p, nil
}

func (s *RedisStore) FindCompatiblePlans(ctx context.Context, teamID, normalizedPrompt string) ([]*model.CachedPlan, error) {
	ids, err := s.client.SMembers(ctx, s.planIndexKey(teamID)).Result()
	if err != nil {
		return nil, apperr.Wrapf("FindCompatiblePlans", "transient", apperr.ErrTransient, "%v", err)
	}
	var out []*model.CachedPlan
	for _, fp := range ids {
		var p model.CachedPlan
		if err := s.getJSON(ctx, s.planKey(teamID, fp), &p); err == nil && p.NormalizedPrompt == normalizedPrompt {
			out = append(out, &p)
		}
	}
	return out, nil
}

func (s *RedisStore) UpsertPlan(ctx context.Context, plan *model.CachedPlan) error {
	if err := s.setJSON(ctx, s.planKey(plan.TeamID, plan.Fingerprint), plan); err != nil {
		return err
	}
	return s.client.SAdd(ctx, s.planIndexKey(plan.TeamID), plan.Fingerprint).Err()
}

func (s *RedisStore) UpdatePlanMetrics(ctx context.Context, teamID, fingerprint string, success bool, execTimeMS float64, failureReason string) error {
	p, err := s.GetPlanByFingerprint(ctx, teamID, fingerprint)
	if err != nil {
		return err
	}
	p.RecordExecution(success, execTimeMS, failureReason, time.Now())
	return s.setJSON(ctx, s.planKey(teamID, fingerprint), p)
}

func (s *RedisStore) InvalidatePlan(ctx context.Context, teamID, fingerprint string) error {
	if err := s.client.Del(ctx, s.planKey(teamID, fingerprint)).Err(); err != nil {
		return apperr.Wrapf("InvalidatePlan", "transient", apperr.ErrTransient, "%v", err)
	}
	return s.client.SRem(ctx, s.planIndexKey(teamID), fingerprint).Err()
}

// PlanMaintenance applies the same eviction policy as MemoryStore (spec.md
// §5.4). It runs when called through aicache.Cache.Maintenance; nothing in
// the module schedules it.
func (s *RedisStore) PlanMaintenance(ctx context.Context, teamID string) (int, error) {
	ids, err := s.client.SMembers(ctx, s.planIndexKey(teamID)).Result()
	if err != nil {
		return 0, apperr.Wrapf("PlanMaintenance", "transient", apperr.ErrTransient, "%v", err)
	}
	now := time.Now()
	evicted := 0
	var remaining []*model.CachedPlan
	for _, fp := range ids {
		var p model.CachedPlan
		if err := s.getJSON(ctx, s.planKey(teamID, fp), &p); err != nil {
			continue
		}
		rate := p.SuccessRate()
		lowReliability := p.ExecutionCount > 5 && rate < 0.3
		staleWeak := now.Sub(p.LastUsed) > 90*24*time.Hour && rate < 0.7
		if lowReliability || staleWeak {
			s.client.Del(ctx, s.planKey(teamID, fp))
			s.client.SRem(ctx, s.planIndexKey(teamID), fp)
			evicted++
			continue
		}
		remaining = append(remaining, &p)
	}
	const cap = 1000
	if len(remaining) > cap {
		sort.Slice(remaining, func(i, j int) bool { return remaining[i].LastUsed.After(remaining[j].LastUsed) })
		for _, p := range remaining[cap:] {
			s.client.Del(ctx, s.planKey(teamID, p.Fingerprint))
			s.client.SRem(ctx, s.planIndexKey(teamID), p.Fingerprint)
			evicted++
		}
	}
	return evicted, nil
}

// --- Results ---

func (s *RedisStore) resultKey(resultID string) string { return s.key("result", resultID) }
func (s *RedisStore) resultIndexKey(teamID, executableType, executableID string) string {
	return s.key("idx", "result", teamID, executableType, executableID)
}

func (s *RedisStore) InsertResult(ctx context.Context, result *model.ExecutionResult) error {
	if err := s.setJSON(ctx, s.resultKey(result.ResultID), result); err != nil {
		return err
	}
	return s.client.SAdd(ctx, s.resultIndexKey(result.TeamID, result.ExecutableType, result.ExecutableID), result.ResultID).Err()
}

func (s *RedisStore) UpdateResult(ctx context.Context, result *model.ExecutionResult) error {
	if err := s.client.Exists(ctx, s.resultKey(result.ResultID)).Err(); err != nil {
		return apperr.Wrapf("UpdateResult", "transient", apperr.ErrTransient, "%v", err)
	}
	return s.setJSON(ctx, s.resultKey(result.ResultID), result)
}

func (s *RedisStore) ListResultsByExecutable(ctx context.Context, teamID, executableType, executableID string) ([]*model.ExecutionResult, error) {
	ids, err := s.client.SMembers(ctx, s.resultIndexKey(teamID, executableType, executableID)).Result()
	if err != nil {
		return nil, apperr.Wrapf("ListResultsByExecutable", "transient", apperr.ErrTransient, "%v", err)
	}
	var out []*model.ExecutionResult
	for _, id := range ids {
		var r model.ExecutionResult
		if err := s.getJSON(ctx, s.resultKey(id), &r); err == nil {
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *RedisStore) alertKey(alertID string) string { return s.key("alert", alertID) }

func (s *RedisStore) InsertAlert(ctx context.Context, alert *model.Alert) error {
	return s.setJSON(ctx, s.alertKey(alert.AlertID), alert)
}

func (s *RedisStore) UpdateAlert(ctx context.Context, alert *model.Alert) error {
	if err := s.client.Exists(ctx, s.alertKey(alert.AlertID)).Err(); err != nil {
		return apperr.Wrapf("UpdateAlert", "transient", apperr.ErrTransient, "%v", err)
	}
	return s.setJSON(ctx, s.alertKey(alert.AlertID), alert)
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }
