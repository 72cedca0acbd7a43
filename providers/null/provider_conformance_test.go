package null

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pv "github.com/heatstack-io/heatstack/pkg/provider"
)

// Provider conformance test suite.
// These tests verify that a provider correctly implements the full lifecycle:
// Configure -> Plan (CREATE) -> Apply -> Read -> Plan (NOOP) -> Plan (REPLACE) -> Apply -> Apply (delete)

func TestConformance_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	p := New()

	// 1. Configure
	configResp, err := p.Configure(ctx, &pv.ConfigureRequest{})
	require.NoError(t, err)
	assert.Empty(t, configResp.Diagnostics)

	// 2. Plan (CREATE) - no prior state
	desired := map[string]any{"triggers": map[string]string{"key": "value"}}
	desiredJSON, _ := json.Marshal(desired)

	planResp, err := p.Plan(ctx, &pv.PlanRequest{
		Type:              "null_resource",
		Name:              "test",
		DesiredConfigJSON: desiredJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, pv.ActionCreate, planResp.Action)

	// 3. Apply
	applyResp, err := p.Apply(ctx, &pv.ApplyRequest{
		Type:              "null_resource",
		Name:              "test",
		DesiredConfigJSON: desiredJSON,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, applyResp.NewStateJSON)

	var state map[string]any
	require.NoError(t, json.Unmarshal(applyResp.NewStateJSON, &state))
	assert.NotEmpty(t, state["id"])

	// 4. Read
	readResp, err := p.Read(ctx, &pv.ReadRequest{
		Type:             "null_resource",
		ID:               state["id"].(string),
		CurrentStateJSON: applyResp.NewStateJSON,
	})
	require.NoError(t, err)
	assert.True(t, readResp.Exists)

	// 5. Plan (NOOP) - same desired as current
	planResp2, err := p.Plan(ctx, &pv.PlanRequest{
		Type:              "null_resource",
		Name:              "test",
		DesiredConfigJSON: desiredJSON,
		PriorStateJSON:    applyResp.NewStateJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, pv.ActionNoop, planResp2.Action)

	// 6. Plan (REPLACE) - changed triggers
	newDesired := map[string]any{"triggers": map[string]string{"key": "new-value"}}
	newDesiredJSON, _ := json.Marshal(newDesired)

	planResp3, err := p.Plan(ctx, &pv.PlanRequest{
		Type:              "null_resource",
		Name:              "test",
		DesiredConfigJSON: newDesiredJSON,
		PriorStateJSON:    applyResp.NewStateJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, pv.ActionReplace, planResp3.Action)

	// 7. Apply update
	applyResp2, err := p.Apply(ctx, &pv.ApplyRequest{
		Type:              "null_resource",
		Name:              "test",
		DesiredConfigJSON: newDesiredJSON,
		PriorStateJSON:    applyResp.NewStateJSON,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, applyResp2.NewStateJSON)

	// 8. Delete (nil desired)
	deleteResp, err := p.Apply(ctx, &pv.ApplyRequest{
		Type:           "null_resource",
		Name:           "test",
		PriorStateJSON: applyResp2.NewStateJSON,
	})
	require.NoError(t, err)
	assert.Empty(t, deleteResp.NewStateJSON)
}

func TestConformance_ConfigureIdempotent(t *testing.T) {
	ctx := context.Background()
	p := New()

	for i := 0; i < 3; i++ {
		resp, err := p.Configure(ctx, &pv.ConfigureRequest{})
		require.NoError(t, err)
		assert.Empty(t, resp.Diagnostics)
	}
}
