package null

import (
	"context"
	"encoding/json"
	"fmt"

	pv "github.com/heatstack-io/heatstack/pkg/provider"
)

type Provider struct {
	pv.Unimplemented
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Configure(ctx context.Context, req *pv.ConfigureRequest) (*pv.ConfigureResponse, error) {
	return &pv.ConfigureResponse{}, nil
}

func (p *Provider) Plan(ctx context.Context, req *pv.PlanRequest) (*pv.PlanResponse, error) {
	if req.DesiredConfigJSON == nil && req.PriorStateJSON != nil {
		return &pv.PlanResponse{Action: pv.ActionDelete}, nil
	}
	if req.PriorStateJSON == nil {
		return &pv.PlanResponse{Action: pv.ActionCreate}, nil
	}

	var desired Config
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	var prior State
	if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	// Triggers changing forces replacement.
	if !equal(desired.Triggers, prior.Triggers) {
		return &pv.PlanResponse{
			Action:            pv.ActionReplace,
			ChangedAttributes: []string{"triggers"},
		}, nil
	}

	return &pv.PlanResponse{Action: pv.ActionNoop}, nil
}

func (p *Provider) Apply(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	// Null resources don't exist anywhere; deletion is state-only.
	if req.DesiredConfigJSON == nil {
		return &pv.ApplyResponse{}, nil
	}

	var desired Config
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	state := State{
		ID:       fmt.Sprintf("null-%s", req.Name),
		Triggers: desired.Triggers,
	}
	stateBytes, _ := json.Marshal(state)

	return &pv.ApplyResponse{NewStateJSON: stateBytes}, nil
}

func (p *Provider) Read(ctx context.Context, req *pv.ReadRequest) (*pv.ReadResponse, error) {
	return &pv.ReadResponse{
		Exists:       true,
		NewStateJSON: req.CurrentStateJSON,
	}, nil
}

func (p *Provider) Delete(ctx context.Context, req *pv.DeleteRequest) (*pv.DeleteResponse, error) {
	return &pv.DeleteResponse{}, nil
}

type Config struct {
	Triggers map[string]string `json:"triggers"`
}

type State struct {
	ID       string            `json:"id"`
	Triggers map[string]string `json:"triggers"`
}

func equal(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
