package engine

import (
	"fmt"
	"time"

	"github.com/heatstack-io/heatstack/internal/ir"
)

// CreateDestroyPlan builds a plan that deletes every resource in state, in
// reverse dependency order.
func (e *Engine) CreateDestroyPlan(state *ir.State) (*ir.Plan, error) {
	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
		Outputs: map[string]any{},
	}

	dag, err := BuildDAGFromState(state.Resources)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph from state: %w", err)
	}

	stateMap := make(map[string]*ir.ResourceState)
	for _, res := range state.Resources {
		stateMap[fmt.Sprintf("%s.%s", res.Type, res.Name)] = res
	}

	for _, addr := range dag.DestructionOrder() {
		res, ok := stateMap[addr]
		if !ok {
			continue
		}
		if err := e.registry.LoadProvider(res.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
		}
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address: addr,
			Action:  "DELETE",
			Prior: &ir.Resource{
				Type:       res.Type,
				Name:       res.Name,
				Provider:   res.Provider,
				DependsOn:  res.Dependencies,
				Properties: res.Inputs,
			},
			Diff: buildDeleteDiff(res.Inputs),
		})
		plan.Summary.Delete++
	}

	return plan, nil
}
