// Package engine drives run execution: the admission queue, the per-run
// executor and its driver subprocess bridge, the cron scheduler, and the
// retention sweeper. Components are independent loops wired together by the
// serve command; the store is their only shared state.
package engine

import (
	"github.com/akeyanjam/mbss-test/internal/store"
)

// EffectiveConfig computes the configuration handed to the driver for one
// test in one environment. Sources merge left to right with later sources
// replacing matching keys wholesale (no deep merge):
//
//	{environment} <- constants.shared <- constants.environments[env]
//	            <- overrides.shared <- overrides.environments[env]
//	            <- runOverrides
func EffectiveConfig(env string, def *store.TestDefinition, runOverrides map[string]any) map[string]any {
	merged := map[string]any{"environment": env}

	applyLayer(merged, def.Constants.Shared)
	applyLayer(merged, def.Constants.Environments[env])

	if def.Overrides != nil {
		applyLayer(merged, def.Overrides.Shared)
		applyLayer(merged, def.Overrides.Environments[env])
	}

	applyLayer(merged, runOverrides)

	return merged
}

// applyLayer copies src keys over dst, replacing values at the top level.
func applyLayer(dst map[string]any, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}
