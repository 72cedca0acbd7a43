package engine

import (
	"context"
	"testing"

	"github.com/heatstack-io/heatstack/internal/ir"
	"github.com/heatstack-io/heatstack/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_CreatePlan(t *testing.T) {
	reg := provider.NewRegistry()
	err := reg.LoadProvider("null")
	require.NoError(t, err)

	eng := NewEngine(reg)
	ctx := context.Background()

	// 1. Plan creation (new resource)
	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{
				Type:     "null",
				Name:     "test1",
				Provider: "null",
				Properties: map[string]any{
					"triggers": map[string]string{"a": "b"},
				},
			},
		},
	}

	state := &ir.State{}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "CREATE", plan.Changes[0].Action)
	assert.Equal(t, "null.test1", plan.Changes[0].Address)

	assert.NotNil(t, plan.Changes[0].Diff)
	assert.Contains(t, plan.Changes[0].Diff, "triggers")

	// 2. Same triggers already in state -> no-op
	state = &ir.State{
		Resources: []*ir.ResourceState{
			{
				Type:     "null",
				Name:     "test1",
				Provider: "null",
				Outputs: map[string]any{
					"triggers": map[string]string{"a": "b"},
					"id":       "null-test1",
				},
			},
		},
	}

	plan, err = eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 0)
	assert.Equal(t, 1, plan.Summary.NoOp)

	// 3. Changed trigger -> replace
	cfg.Resources[0].Properties["triggers"] = map[string]string{"a": "c"}

	plan, err = eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "REPLACE", plan.Changes[0].Action)
}

func TestEngine_CreatePlan_Delete(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	// Empty config, resource in state -> DELETE
	cfg := &ir.Config{
		Resources: []*ir.Resource{},
	}

	state := &ir.State{
		Resources: []*ir.ResourceState{
			{
				Type:         "null",
				Name:         "old_resource",
				Provider:     "null",
				Outputs:      map[string]any{"id": "null-old"},
				Dependencies: []string{"null.base"},
			},
		},
	}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "DELETE", plan.Changes[0].Action)
	assert.Equal(t, "null.old_resource", plan.Changes[0].Address)
	assert.Equal(t, 1, plan.Summary.Delete)

	// Recorded dependencies carry over so deletes can be ordered.
	require.NotNil(t, plan.Changes[0].Prior)
	assert.Equal(t, []string{"null.base"}, plan.Changes[0].Prior.DependsOn)
}

func TestEngine_CreatePlan_PreventDestroy(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{
				Type:     "null",
				Name:     "protected",
				Provider: "null",
				Lifecycle: &ir.Lifecycle{
					PreventDestroy: true,
				},
				Properties: map[string]any{
					"triggers": map[string]string{"a": "new_value"},
				},
			},
		},
	}

	state := &ir.State{
		Resources: []*ir.ResourceState{
			{
				Type:     "null",
				Name:     "protected",
				Provider: "null",
				Outputs: map[string]any{
					"id":       "null-protected",
					"triggers": map[string]string{"a": "old_value"},
				},
			},
		},
	}

	// Trigger change means REPLACE, which prevent_destroy forbids.
	_, err := eng.CreatePlan(ctx, cfg, state)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "prevent_destroy")
}

func TestEngine_CreatePlan_Timestamp(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	cfg := &ir.Config{Resources: []*ir.Resource{}}
	state := &ir.State{}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	assert.NotEmpty(t, plan.Metadata.Timestamp)
}

func TestEngine_CreatePlan_DependencyOrder(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{
				Type:       "null",
				Name:       "second",
				Provider:   "null",
				DependsOn:  []string{"null.first"},
				Properties: map[string]any{"triggers": map[string]string{"x": "y"}},
			},
			{
				Type:       "null",
				Name:       "first",
				Provider:   "null",
				Properties: map[string]any{"triggers": map[string]string{"a": "b"}},
			},
		},
	}

	state := &ir.State{}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)

	assert.Equal(t, "null.first", plan.Changes[0].Address)
	assert.Equal(t, "null.second", plan.Changes[1].Address)
}

func TestEngine_CreatePlan_Targets(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{
				Type:       "null",
				Name:       "wanted",
				Provider:   "null",
				DependsOn:  []string{"null.base"},
				Properties: map[string]any{"triggers": map[string]string{"a": "b"}},
			},
			{
				Type:       "null",
				Name:       "base",
				Provider:   "null",
				Properties: map[string]any{"triggers": map[string]string{"a": "b"}},
			},
			{
				Type:       "null",
				Name:       "unrelated",
				Provider:   "null",
				Properties: map[string]any{"triggers": map[string]string{"a": "b"}},
			},
		},
	}

	plan, err := eng.CreatePlanWithTargets(ctx, cfg, &ir.State{}, []string{"null.wanted"})
	require.NoError(t, err)

	// The target plus its transitive dependency, but not the unrelated resource.
	require.Len(t, plan.Changes, 2)
	addrs := []string{plan.Changes[0].Address, plan.Changes[1].Address}
	assert.Contains(t, addrs, "null.wanted")
	assert.Contains(t, addrs, "null.base")
}

func TestValidateReferences_Undeclared(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "aws:EC2.Subnet",
			Name:     "public",
			Provider: "aws",
			Properties: map[string]any{
				"vpcId": "ref://aws:EC2.Vpc/missing/id",
			},
		},
	}

	err := ValidateReferences(resources, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared resource aws:EC2.Vpc.missing")
}

func TestValidateReferences_SatisfiedByState(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "aws:EC2.Subnet",
			Name:     "public",
			Provider: "aws",
			Properties: map[string]any{
				"vpcId": "ref://aws:EC2.Vpc/main/id",
			},
		},
	}

	state := &ir.State{
		Resources: []*ir.ResourceState{
			{Type: "aws:EC2.Vpc", Name: "main", Provider: "aws"},
		},
	}

	assert.NoError(t, ValidateReferences(resources, state))
}

func TestValidateReferences_DanglingDependsOn(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null", Name: "a", Provider: "null", DependsOn: []string{"null.gone"}},
	}

	err := ValidateReferences(resources, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependsOn")
}

func TestEngine_SecondApplyIsIdempotent(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{
				Type:     "null",
				Name:     "base",
				Provider: "null",
				Properties: map[string]any{
					"triggers": map[string]any{"rev": "1"},
				},
			},
		},
		Outputs: map[string]any{},
	}

	state := &ir.State{Version: 1}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Equal(t, 1, plan.Summary.Create)

	state, err = eng.ApplyPlan(ctx, plan, state)
	require.NoError(t, err)
	require.Len(t, state.Resources, 1)
	assert.NotEmpty(t, state.Resources[0].InputsHash)

	// Re-planning the identical declaration must require no work.
	plan, err = eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	assert.Len(t, plan.Changes, 0)
	assert.Equal(t, 1, plan.Summary.NoOp)
	assert.Equal(t, 0, plan.Summary.Create)
	assert.Equal(t, 0, plan.Summary.Update)
}

func TestEngine_UnchangedDeclarationPlansNothing(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("aws"))

	eng := NewEngine(reg)
	ctx := context.Background()

	props := map[string]any{
		"cidrBlock":          "10.0.0.0/16",
		"enableDnsSupport":   true,
		"enableDnsHostnames": true,
	}
	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "aws:EC2.Vpc", Name: "main", Provider: "aws", Properties: props},
		},
	}

	// State as a successful apply records it: provider outputs alongside
	// the declared inputs and their fingerprint. The outputs never share
	// the inputs' shape, so the fingerprint is what settles the no-op.
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{
				Type:       "aws:EC2.Vpc",
				Name:       "main",
				Provider:   "aws",
				Inputs:     props,
				InputsHash: hashInputs(props),
				Outputs: map[string]any{
					"id":        "vpc-0abc123",
					"arn":       "arn:aws:ec2:us-east-1:123456789012:vpc/vpc-0abc123",
					"cidrBlock": "10.0.0.0/16",
				},
			},
		},
	}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	assert.Len(t, plan.Changes, 0)
	assert.Equal(t, 1, plan.Summary.NoOp)
	assert.Equal(t, 0, plan.Summary.Update)

	// An actual edit still plans one change.
	cfg.Resources[0].Properties = map[string]any{
		"cidrBlock": "10.1.0.0/16",
	}
	plan, err = eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "UPDATE", plan.Changes[0].Action)
}
