package engine

import (
	"context"
	"testing"

	"github.com/heatstack-io/heatstack/internal/ir"
	"github.com/heatstack-io/heatstack/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPlan_Create(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "null.test1",
				Action:  "CREATE",
				Desired: &ir.Resource{
					Type:     "null",
					Name:     "test1",
					Provider: "null",
					Properties: map[string]any{
						"triggers": map[string]any{"a": "b"},
					},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 1},
		Outputs: map[string]any{},
	}

	state := &ir.State{
		Version: 1,
	}

	newState, err := eng.ApplyPlan(ctx, plan, state)
	require.NoError(t, err)
	require.Len(t, newState.Resources, 1)
	assert.Equal(t, "null", newState.Resources[0].Type)
	assert.Equal(t, "test1", newState.Resources[0].Name)
	assert.Equal(t, "null-test1", newState.Resources[0].Outputs["id"])
	assert.Equal(t, 1, newState.Serial)
}

func TestApplyPlan_RecordsDependencies(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "null.base",
				Action:  "CREATE",
				Desired: &ir.Resource{
					Type:       "null",
					Name:       "base",
					Provider:   "null",
					Properties: map[string]any{"triggers": map[string]any{"a": "b"}},
				},
			},
			{
				Address: "null.leaf",
				Action:  "CREATE",
				Desired: &ir.Resource{
					Type:       "null",
					Name:       "leaf",
					Provider:   "null",
					DependsOn:  []string{"null.base"},
					Properties: map[string]any{"triggers": map[string]any{"a": "b"}},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 2},
		Outputs: map[string]any{},
	}

	newState, err := eng.ApplyPlan(ctx, plan, &ir.State{Version: 1})
	require.NoError(t, err)
	require.Len(t, newState.Resources, 2)

	byAddr := make(map[string]*ir.ResourceState)
	for _, res := range newState.Resources {
		byAddr[res.Type+"."+res.Name] = res
	}
	assert.Equal(t, []string{"null.base"}, byAddr["null.leaf"].Dependencies)
	assert.Empty(t, byAddr["null.base"].Dependencies)
}

func TestApplyPlan_Delete(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "null.test1",
				Action:  "DELETE",
				Prior: &ir.Resource{
					Type:     "null",
					Name:     "test1",
					Provider: "null",
				},
			},
		},
		Summary: &ir.PlanSummary{Delete: 1},
		Outputs: map[string]any{},
	}

	state := &ir.State{
		Version: 1,
		Resources: []*ir.ResourceState{
			{
				Type:     "null",
				Name:     "test1",
				Provider: "null",
				Outputs:  map[string]any{"id": "null-test1"},
			},
		},
	}

	newState, err := eng.ApplyPlan(ctx, plan, state)
	require.NoError(t, err)
	assert.Len(t, newState.Resources, 0)
}

func TestApplyPlan_Replace_NoDuplicates(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "null.test1",
				Action:  "REPLACE",
				Desired: &ir.Resource{
					Type:     "null",
					Name:     "test1",
					Provider: "null",
					Properties: map[string]any{
						"triggers": map[string]any{"a": "new_value"},
					},
				},
			},
		},
		Summary: &ir.PlanSummary{Replace: 1},
		Outputs: map[string]any{},
	}

	state := &ir.State{
		Version: 1,
		Resources: []*ir.ResourceState{
			{
				Type:     "null",
				Name:     "test1",
				Provider: "null",
				Outputs:  map[string]any{"id": "null-test1", "triggers": map[string]any{"a": "old_value"}},
			},
		},
	}

	newState, err := eng.ApplyPlan(ctx, plan, state)
	require.NoError(t, err)
	// Still exactly one resource, not two.
	assert.Len(t, newState.Resources, 1)
	assert.Equal(t, "null-test1", newState.Resources[0].Outputs["id"])
}

func TestApplyPlan_ProgressCallback(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "null.test1",
				Action:  "CREATE",
				Desired: &ir.Resource{
					Type:     "null",
					Name:     "test1",
					Provider: "null",
					Properties: map[string]any{
						"triggers": map[string]any{"a": "b"},
					},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 1},
		Outputs: map[string]any{},
	}

	state := &ir.State{Version: 1}

	var events []ApplyEvent
	callback := func(event ApplyEvent) {
		events = append(events, event)
	}

	_, err := eng.ApplyPlanWithCallback(ctx, plan, state, callback)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "started", events[0].Status)
	assert.Equal(t, "completed", events[1].Status)
	assert.Equal(t, "null.test1", events[0].Address)
}

func TestApplyPlan_ContinueOnError(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	eng.ContinueOnError = true
	ctx := context.Background()

	// Two independent resources: one valid, one with a bad provider.
	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "null.good",
				Action:  "CREATE",
				Desired: &ir.Resource{
					Type:     "null",
					Name:     "good",
					Provider: "null",
					Properties: map[string]any{
						"triggers": map[string]any{"a": "b"},
					},
				},
			},
			{
				Address: "null.bad",
				Action:  "CREATE",
				Desired: &ir.Resource{
					Type:     "null",
					Name:     "bad",
					Provider: "nonexistent",
					Properties: map[string]any{
						"triggers": map[string]any{"a": "b"},
					},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 2},
		Outputs: map[string]any{},
	}

	state := &ir.State{Version: 1}

	newState, err := eng.ApplyPlanWithCallback(ctx, plan, state, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	// The good resource was still applied.
	assert.GreaterOrEqual(t, len(newState.Resources), 1)
}

func TestApplyPlan_FailFastByDefault(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "null.bad",
				Action:  "CREATE",
				Desired: &ir.Resource{
					Type:     "null",
					Name:     "bad",
					Provider: "nonexistent",
					Properties: map[string]any{
						"triggers": map[string]any{"a": "b"},
					},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 1},
		Outputs: map[string]any{},
	}

	state := &ir.State{Version: 1}

	_, err := eng.ApplyPlan(ctx, plan, state)
	require.Error(t, err)
}

func TestApplyPlan_ResolvesOutputs(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "null.repo",
				Action:  "CREATE",
				Desired: &ir.Resource{
					Type:       "null",
					Name:       "repo",
					Provider:   "null",
					Properties: map[string]any{"triggers": map[string]any{"a": "b"}},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 1},
		Outputs: map[string]any{
			"repository_id": "ref://null/repo/id",
			"region":        "us-east-1",
		},
	}

	newState, err := eng.ApplyPlan(ctx, plan, &ir.State{Version: 1})
	require.NoError(t, err)

	// Output references resolve against the freshly written state.
	assert.Equal(t, "null-repo", newState.Outputs["repository_id"])
	assert.Equal(t, "us-east-1", newState.Outputs["region"])
}

func TestResolveReferences(t *testing.T) {
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{
				Type:     "aws:ECR.Repository",
				Name:     "batch",
				Provider: "aws",
				Outputs:  map[string]any{"arn": "arn:aws:ecr:us-east-1:123456789012:repository/batch", "url": "123456789012.dkr.ecr.us-east-1.amazonaws.com/batch"},
			},
		},
	}

	result := resolveReferences("ref://aws:ECR.Repository/batch/url", state)
	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com/batch", result)

	result = resolveReferences("ref://aws:ECR.Repository/batch/arn", state)
	assert.Equal(t, "arn:aws:ecr:us-east-1:123456789012:repository/batch", result)

	// Non-references pass through unchanged.
	result = resolveReferences("plain-string", state)
	assert.Equal(t, "plain-string", result)

	// Unknown attributes stay as the raw reference.
	result = resolveReferences("ref://aws:ECR.Repository/batch/nope", state)
	assert.Equal(t, "ref://aws:ECR.Repository/batch/nope", result)

	// Nested maps.
	result = resolveReferences(map[string]any{
		"image": "ref://aws:ECR.Repository/batch/url",
		"name":  "batch",
	}, state)
	m, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com/batch", m["image"])
	assert.Equal(t, "batch", m["name"])

	// Lists.
	result = resolveReferences([]any{
		"ref://aws:ECR.Repository/batch/arn",
		"literal",
	}, state)
	list, ok := result.([]any)
	require.True(t, ok)
	assert.Equal(t, "arn:aws:ecr:us-east-1:123456789012:repository/batch", list[0])
	assert.Equal(t, "literal", list[1])
}

func TestCreateDestroyPlan(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)

	state := &ir.State{
		Version: 1,
		Resources: []*ir.ResourceState{
			{Type: "null", Name: "base", Provider: "null", Inputs: map[string]any{"triggers": map[string]any{"a": "b"}}},
			{Type: "null", Name: "leaf", Provider: "null", Dependencies: []string{"null.base"}},
		},
	}

	plan, err := eng.CreateDestroyPlan(state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, 2, plan.Summary.Delete)

	// The dependent resource is destroyed before its dependency.
	assert.Equal(t, "null.leaf", plan.Changes[0].Address)
	assert.Equal(t, "DELETE", plan.Changes[0].Action)
	assert.Equal(t, "null.base", plan.Changes[1].Address)
}

func TestCreateDestroyPlan_EmptyState(t *testing.T) {
	reg := provider.NewRegistry()
	eng := NewEngine(reg)

	plan, err := eng.CreateDestroyPlan(&ir.State{Version: 1})
	require.NoError(t, err)
	assert.Empty(t, plan.Changes)
	assert.Equal(t, 0, plan.Summary.Delete)
}
