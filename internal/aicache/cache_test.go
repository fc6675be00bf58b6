package aicache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelstreet/virtualpytest-sub002/internal/model"
	"github.com/angelstreet/virtualpytest-sub002/internal/persistence"
)

func TestNormalize_StripsPolitenessAndClassifies(t *testing.T) {
	n := Normalize("Can you please go to settings")
	assert.Equal(t, IntentNavigation, n.Intent)
	assert.Contains(t, n.Prompt, "navigation_")
}

func TestFingerprint_StableForSameInputs(t *testing.T) {
	ctx := ExecutionContext{DeviceModel: "pixel-7", UIName: "android-tv", AvailableNodes: []string{"b", "a", "c"}}
	fp1 := Fingerprint("navigation_settings", ctx)

	ctx2 := ExecutionContext{DeviceModel: "pixel-7", UIName: "android-tv", AvailableNodes: []string{"c", "b", "a"}}
	fp2 := Fingerprint("navigation_settings", ctx2)

	assert.Equal(t, fp1, fp2, "fingerprint must not depend on available_nodes ordering")
}

func TestCache_LookupMissIsNotAnError(t *testing.T) {
	store := persistence.NewMemoryStore(nil)
	cache := NewCache(store, nil)

	result, err := cache.Lookup(context.Background(), "t1", "go to settings", ExecutionContext{
		DeviceModel: "pixel-7", UIName: "android-tv", UseCache: true,
	})
	require.NoError(t, err)
	assert.Nil(t, result.Plan)
}

func TestCache_StorageRuleRejectsDebugMode(t *testing.T) {
	store := persistence.NewMemoryStore(nil)
	cache := NewCache(store, nil)
	ctx := context.Background()

	norm := Normalize("go to settings")
	execCtx := ExecutionContext{DeviceModel: "pixel-7", UIName: "android-tv", UseCache: true, DebugMode: true}
	fp := Fingerprint(norm.Prompt, execCtx)

	err := cache.Record(ctx, StoreOutcome{
		TeamID: "t1", Fingerprint: fp, NormalizedPrompt: norm.Prompt,
		DeviceModel: "pixel-7", UIName: "android-tv",
		OverallSuccess: true, EveryStepSucceeded: true, UseCache: true, DebugMode: true,
	})
	require.NoError(t, err)

	_, err = store.GetPlanByFingerprint(ctx, "t1", fp)
	assert.Error(t, err, "debug_mode=true must prevent storage")
}

func TestCache_StorageRuleAcceptsFullSuccess(t *testing.T) {
	store := persistence.NewMemoryStore(nil)
	cache := NewCache(store, nil)
	ctx := context.Background()

	norm := Normalize("go to settings")
	execCtx := ExecutionContext{DeviceModel: "pixel-7", UIName: "android-tv", UseCache: true}
	fp := Fingerprint(norm.Prompt, execCtx)

	err := cache.Record(ctx, StoreOutcome{
		TeamID: "t1", Fingerprint: fp, NormalizedPrompt: norm.Prompt,
		DeviceModel: "pixel-7", UIName: "android-tv",
		Graph:              map[string]interface{}{"nodes": []interface{}{}},
		OverallSuccess:      true,
		EveryStepSucceeded:  true,
		UseCache:            true,
		ExecutionTimeMS:     250,
	})
	require.NoError(t, err)

	plan, err := store.GetPlanByFingerprint(ctx, "t1", fp)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.SuccessCount)
	assert.Equal(t, 1, plan.ExecutionCount)
}

func TestCache_ReuseConfidenceTiers(t *testing.T) {
	store := persistence.NewMemoryStore(nil)
	cache := NewCache(store, nil)
	ctx := context.Background()

	highPlan := &model.CachedPlan{
		TeamID: "t1", Fingerprint: "fp-high", NormalizedPrompt: "navigation_settings",
		DeviceModel: "pixel-7", UIName: "android-tv",
		Graph: map[string]interface{}{"nodes": []interface{}{}},
	}
	require.NoError(t, store.UpsertPlan(ctx, highPlan))
	for i := 0; i < 5; i++ {
		require.NoError(t, store.UpdatePlanMetrics(ctx, "t1", "fp-high", true, 100, ""))
	}

	result, err := cache.Lookup(ctx, "t1", "go to settings", ExecutionContext{
		DeviceModel: "pixel-7", UIName: "android-tv", UseCache: true,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Plan)
	assert.Equal(t, ConfidenceHigh, result.Confidence)

	lowPlan := &model.CachedPlan{
		TeamID: "t1", Fingerprint: "fp-low", NormalizedPrompt: "navigation_about",
		DeviceModel: "pixel-7", UIName: "android-tv",
		Graph: map[string]interface{}{"nodes": []interface{}{}},
	}
	require.NoError(t, store.UpsertPlan(ctx, lowPlan))
	for i := 0; i < 5; i++ {
		require.NoError(t, store.UpdatePlanMetrics(ctx, "t1", "fp-low", false, 100, "not found"))
	}

	result, err = cache.Lookup(ctx, "t1", "go to about", ExecutionContext{
		DeviceModel: "pixel-7", UIName: "android-tv", UseCache: true,
	})
	require.NoError(t, err)
	assert.Nil(t, result.Plan, "low success rate must discard rather than reuse")
}
