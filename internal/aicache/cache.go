package aicache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/angelstreet/virtualpytest-sub002/internal/apperr"
	"github.com/angelstreet/virtualpytest-sub002/internal/logger"
	"github.com/angelstreet/virtualpytest-sub002/internal/model"
	"github.com/angelstreet/virtualpytest-sub002/internal/persistence"
)

// Cache is the AI Plan Cache (spec.md §4.3), a thin decision layer over
// the persistence Store's ai_plan operations.
type Cache struct {
	store persistence.Store
	log   logger.Logger
}

// NewCache constructs a Cache over the given Store.
func NewCache(store persistence.Store, log logger.Logger) *Cache {
	if log == nil {
		log = logger.Noop()
	}
	return &Cache{store: store, log: log}
}

// ReuseConfidence classifies a candidate plan's reliability (spec.md §4.3
// Reuse decision).
type ReuseConfidence string

const (
	ConfidenceHigh    ReuseConfidence = "high"
	ConfidenceMonitor ReuseConfidence = "monitored"
	ConfidenceDiscard ReuseConfidence = "discard"
)

// LookupResult is what Lookup returns: either a reusable plan with its
// confidence tier, or a cache miss (Plan == nil, which is never an error).
type LookupResult struct {
	Plan       *model.CachedPlan
	Confidence ReuseConfidence
	Normalized Normalized
	Fingerprint string
}

// Lookup implements spec.md §4.3's two-stage lookup: exact fingerprint hit,
// else normalized_prompt + context-compatible candidates ranked by
// success_rate/execution_count/last_used. Returns a nil Plan on a clean
// miss -- callers must log that as a normal event, not an error.
func (c *Cache) Lookup(ctx context.Context, teamID, rawPrompt string, execCtx ExecutionContext) (*LookupResult, error) {
	norm := Normalize(rawPrompt)
	fp := Fingerprint(norm.Prompt, execCtx)

	if !execCtx.UseCache {
		c.log.Info("ai plan cache skipped: use_cache=false", logger.Fields{"prompt": norm.Prompt})
		return &LookupResult{Normalized: norm, Fingerprint: fp}, nil
	}

	if plan, err := c.store.GetPlanByFingerprint(ctx, teamID, fp); err == nil {
		return c.decide(plan, norm, fp), nil
	} else if !errors.Is(err, apperr.ErrCacheMiss) {
		return nil, err
	}

	candidates, err := c.store.FindCompatiblePlans(ctx, teamID, norm.Prompt)
	if err != nil {
		return nil, err
	}

	var compatible []*model.CachedPlan
	for _, p := range candidates {
		if p.DeviceModel != execCtx.DeviceModel || p.UIName != execCtx.UIName {
			continue
		}
		if Jaccard(execCtx.AvailableNodes, p.AvailableNodes) < 0.8 {
			continue
		}
		compatible = append(compatible, p)
	}

	if len(compatible) == 0 {
		c.log.Info("ai plan cache MISS (normal) -- will generate", logger.Fields{"prompt": norm.Prompt, "fingerprint": fp})
		return &LookupResult{Normalized: norm, Fingerprint: fp}, nil
	}

	sort.Slice(compatible, func(i, j int) bool {
		a, b := compatible[i], compatible[j]
		if a.SuccessRate() != b.SuccessRate() {
			return a.SuccessRate() > b.SuccessRate()
		}
		if a.ExecutionCount != b.ExecutionCount {
			return a.ExecutionCount > b.ExecutionCount
		}
		return a.LastUsed.After(b.LastUsed)
	})

	return c.decide(compatible[0], norm, fp), nil
}

func (c *Cache) decide(plan *model.CachedPlan, norm Normalized, fp string) *LookupResult {
	rate := plan.SuccessRate()
	result := &LookupResult{Plan: plan, Normalized: norm, Fingerprint: fp}

	switch {
	case !isValidGraph(plan.Graph):
		result.Confidence = ConfidenceDiscard
		result.Plan = nil
	case rate >= 0.8 && plan.ExecutionCount >= 2:
		result.Confidence = ConfidenceHigh
	case rate >= 0.6:
		result.Confidence = ConfidenceMonitor
	case rate < 0.5:
		result.Confidence = ConfidenceDiscard
		result.Plan = nil
	default:
		// Between 0.5 and 0.6: spec.md only names the >=0.6 and <0.5
		// bands explicitly; treat the gap as monitored rather than an
		// undefined third tier.
		result.Confidence = ConfidenceMonitor
	}
	return result
}

func isValidGraph(graph map[string]interface{}) bool {
	if graph == nil {
		return false
	}
	_, ok := graph["nodes"]
	return ok
}

// StoreOutcome carries the result of an execution that consulted (or
// could have consulted) the cache, as needed by Record.
type StoreOutcome struct {
	TeamID           string
	Fingerprint      string
	NormalizedPrompt string
	Intent           string
	Target           string
	DeviceModel      string
	UIName           string
	AvailableNodes   []string
	Graph            map[string]interface{}
	OverallSuccess   bool
	EveryStepSucceeded bool
	UseCache         bool
	DebugMode        bool
	ExecutionTimeMS  float64
	FailureReason    string
	WasCacheHit      bool
}

// Record applies spec.md §4.3's storage rule. A fresh plan is stored only
// if ALL of {overall success, every step succeeded, use_cache, !debug_mode}
// hold; a plan that came from a cache hit instead has its metrics updated
// (success or failure) regardless of debug_mode, since it already exists.
func (c *Cache) Record(ctx context.Context, o StoreOutcome) error {
	if o.WasCacheHit {
		err := c.store.UpdatePlanMetrics(ctx, o.TeamID, o.Fingerprint, o.OverallSuccess, o.ExecutionTimeMS, o.FailureReason)
		if err != nil {
			return err
		}
		if o.OverallSuccess {
			c.log.Info("ai plan cache STORED", logger.Fields{"fingerprint": o.Fingerprint})
		} else {
			c.log.Info(fmt.Sprintf("ai plan cache NOT STORED: failure on cached plan (%s)", o.FailureReason), logger.Fields{"fingerprint": o.Fingerprint})
		}
		return nil
	}

	reasons := storageDenialReasons(o)
	if len(reasons) > 0 {
		c.log.Info("ai plan cache NOT STORED: "+joinReasons(reasons), logger.Fields{"fingerprint": o.Fingerprint})
		return nil
	}

	plan := &model.CachedPlan{
		Fingerprint:      o.Fingerprint,
		TeamID:           o.TeamID,
		NormalizedPrompt: o.NormalizedPrompt,
		Intent:           o.Intent,
		Target:           o.Target,
		DeviceModel:      o.DeviceModel,
		UIName:           o.UIName,
		AvailableNodes:   o.AvailableNodes,
		Graph:            o.Graph,
	}
	plan.RecordExecution(true, o.ExecutionTimeMS, "", time.Now())
	if err := c.store.UpsertPlan(ctx, plan); err != nil {
		return err
	}
	c.log.Info("ai plan cache STORED", logger.Fields{"fingerprint": o.Fingerprint})
	return nil
}

func storageDenialReasons(o StoreOutcome) []string {
	var reasons []string
	if !o.OverallSuccess {
		reasons = append(reasons, "execution did not succeed overall")
	}
	if !o.EveryStepSucceeded {
		reasons = append(reasons, "not every step succeeded")
	}
	if !o.UseCache {
		reasons = append(reasons, "use_cache=false")
	}
	if o.DebugMode {
		reasons = append(reasons, "debug_mode=true")
	}
	return reasons
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}

// Maintenance runs the daily eviction pass (spec.md §4.3 Eviction).
func (c *Cache) Maintenance(ctx context.Context, teamID string) (int, error) {
	evicted, err := c.store.PlanMaintenance(ctx, teamID)
	if err != nil {
		return 0, err
	}
	c.log.Info("ai plan cache maintenance complete", logger.Fields{"team_id": teamID, "evicted": evicted})
	return evicted, nil
}

// Invalidate drops a single cached plan by fingerprint (manual invalidation).
func (c *Cache) Invalidate(ctx context.Context, teamID, fingerprint string) error {
	return c.store.InvalidatePlan(ctx, teamID, fingerprint)
}
