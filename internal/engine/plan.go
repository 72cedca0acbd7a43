package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/heatstack-io/heatstack/internal/ir"
	"github.com/heatstack-io/heatstack/internal/logging"
	regpkg "github.com/heatstack-io/heatstack/internal/provider"
	"github.com/heatstack-io/heatstack/pkg/provider"
)

// Engine orchestrates the lifecycle of declared resources.
type Engine struct {
	registry        *regpkg.Registry
	ContinueOnError bool // if true, apply continues past failures instead of stopping
}

func NewEngine(registry *regpkg.Registry) *Engine {
	return &Engine{
		registry: registry,
	}
}

// CreatePlan generates an execution plan by comparing the declaration with
// the recorded state.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	return e.CreatePlanWithTargets(ctx, cfg, state, nil)
}

// CreatePlanWithTargets generates a plan filtered to specific resource
// addresses. If targets is empty, all resources are planned.
func (e *Engine) CreatePlanWithTargets(ctx context.Context, cfg *ir.Config, state *ir.State, targets []string) (*ir.Plan, error) {
	logging.Debug("creating plan", "resources", len(cfg.Resources), "state_resources", len(state.Resources), "targets", len(targets))
	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
		Outputs: cfg.Outputs,
	}

	for _, res := range cfg.Resources {
		if err := e.registry.LoadProvider(res.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
		}
	}

	cfg.Resources = ExpandForEach(cfg.Resources)

	if err := ValidateReferences(cfg.Resources, state); err != nil {
		return nil, err
	}

	dag, err := BuildDAG(cfg.Resources)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}

	stateMap := make(map[string]*ir.ResourceState)
	for _, res := range state.Resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		stateMap[addr] = res
	}

	configByAddr := make(map[string]*ir.Resource)
	for _, res := range cfg.Resources {
		configByAddr[resourceAddr(res)] = res
	}

	// If targets are given, include their transitive dependencies too.
	var targetSet map[string]bool
	if len(targets) > 0 {
		targetSet = make(map[string]bool)
		for _, t := range targets {
			targetSet[t] = true
		}
		for _, t := range targets {
			for _, dep := range dag.TransitiveDeps(t) {
				targetSet[dep] = true
			}
		}
	}

	for _, addr := range dag.CreationOrder() {
		res, ok := configByAddr[addr]
		if !ok {
			continue
		}

		if targetSet != nil && !targetSet[addr] {
			plan.Summary.NoOp++
			continue
		}

		resourceType := res.Type
		if resourceType == "" {
			resourceType = "null_resource"
		}

		prov, err := e.registry.Get(res.Provider)
		if err != nil {
			return nil, err
		}

		props := normalizeValue(res.Properties)
		desiredJSON, err := json.Marshal(props)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal properties for %s: %w", res.Name, err)
		}

		var priorJSON []byte
		if prior, ok := stateMap[addr]; ok {
			// Declaration unchanged since it was applied: nothing for
			// the provider to diff.
			if prior.InputsHash != "" && prior.InputsHash == hashInputs(res.Properties) {
				plan.Summary.NoOp++
				continue
			}
			priorJSON, _ = json.Marshal(prior.Outputs)
		}

		resp, err := prov.Plan(ctx, &provider.PlanRequest{
			Type:              resourceType,
			Name:              res.Name,
			DesiredConfigJSON: desiredJSON,
			PriorStateJSON:    priorJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("plan failed for %s: %w", addr, err)
		}

		action := resp.Action

		if action != provider.ActionNoop {
			if err := enforceLifecycle(res, action, addr); err != nil {
				return nil, err
			}

			if res.Lifecycle != nil && len(res.Lifecycle.IgnoreChanges) > 0 && action == provider.ActionUpdate {
				action = filterIgnoredChanges(res, resp, stateMap[addr])
			}
		}

		if action == provider.ActionNoop {
			plan.Summary.NoOp++
			continue
		}

		change := &ir.ResourceChange{
			Address: addr,
			Action:  action.String(),
			Desired: res,
		}

		if prior, ok := stateMap[addr]; ok {
			change.Prior = &ir.Resource{
				Type:       prior.Type,
				Name:       prior.Name,
				Provider:   prior.Provider,
				Properties: prior.Inputs,
			}
			change.Diff = buildPropertyDiff(prior.Inputs, res.Properties)
		} else {
			change.Diff = buildCreateDiff(res.Properties)
		}

		plan.Changes = append(plan.Changes, change)

		switch action {
		case provider.ActionCreate:
			plan.Summary.Create++
		case provider.ActionUpdate:
			plan.Summary.Update++
		case provider.ActionReplace:
			plan.Summary.Replace++
		case provider.ActionDelete:
			plan.Summary.Delete++
		}
	}

	// Resources in state but no longer declared get deleted.
	for _, res := range state.Resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		if _, declared := configByAddr[addr]; declared {
			continue
		}
		if targetSet != nil && !targetSet[addr] {
			continue
		}
		change := &ir.ResourceChange{
			Address: addr,
			Action:  provider.ActionDelete.String(),
			Prior: &ir.Resource{
				Type:       res.Type,
				Name:       res.Name,
				Provider:   res.Provider,
				DependsOn:  res.Dependencies,
				Properties: res.Inputs,
			},
			Diff: buildDeleteDiff(res.Inputs),
		}
		plan.Changes = append(plan.Changes, change)
		plan.Summary.Delete++
	}

	return plan, nil
}

// ValidateReferences checks that every ref:// in the declaration points at a
// resource that is either declared or already recorded in state. Dangling
// role/policy attachments and similar mistakes fail here instead of at the
// cloud API.
func ValidateReferences(resources []*ir.Resource, state *ir.State) error {
	known := make(map[string]bool)
	for _, res := range resources {
		known[resourceAddr(res)] = true
	}
	if state != nil {
		for _, res := range state.Resources {
			known[fmt.Sprintf("%s.%s", res.Type, res.Name)] = true
		}
	}

	for _, res := range resources {
		for _, ref := range extractRefs(res.Properties) {
			depAddr := refToAddr(ref)
			if depAddr == "" {
				return fmt.Errorf("%s: malformed reference %q", resourceAddr(res), ref)
			}
			if !known[depAddr] {
				return fmt.Errorf("%s: reference %q points at undeclared resource %s", resourceAddr(res), ref, depAddr)
			}
		}
		for _, dep := range res.DependsOn {
			if !known[dep] {
				return fmt.Errorf("%s: dependsOn names undeclared resource %s", resourceAddr(res), dep)
			}
		}
	}
	return nil
}

// enforceLifecycle checks lifecycle rules and returns an error if violated.
func enforceLifecycle(res *ir.Resource, action provider.Action, addr string) error {
	if res.Lifecycle == nil {
		return nil
	}

	if res.Lifecycle.PreventDestroy && (action == provider.ActionDelete || action == provider.ActionReplace) {
		return fmt.Errorf("resource %s has prevent_destroy set but plan requires destruction", addr)
	}

	return nil
}

// filterIgnoredChanges downgrades an update to a no-op when every changed
// attribute is listed in IgnoreChanges.
func filterIgnoredChanges(res *ir.Resource, resp *provider.PlanResponse, prior *ir.ResourceState) provider.Action {
	if prior == nil || res.Lifecycle == nil {
		return resp.Action
	}

	ignoreSet := make(map[string]bool)
	for _, attr := range res.Lifecycle.IgnoreChanges {
		ignoreSet[attr] = true
	}

	if len(resp.ChangedAttributes) > 0 {
		allIgnored := true
		for _, attr := range resp.ChangedAttributes {
			if !ignoreSet[attr] {
				allIgnored = false
				break
			}
		}
		if allIgnored {
			return provider.ActionNoop
		}
	}

	return resp.Action
}

// buildPropertyDiff compares prior and desired properties.
func buildPropertyDiff(prior, desired map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)

	allKeys := make(map[string]bool)
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	for k := range allKeys {
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		if !inPrior {
			diff[k] = &ir.PropertyDiff{
				After:  desiredVal,
				Action: "create",
			}
		} else if !inDesired {
			diff[k] = &ir.PropertyDiff{
				Before: priorVal,
				Action: "delete",
			}
		} else if fmt.Sprintf("%v", priorVal) != fmt.Sprintf("%v", desiredVal) {
			diff[k] = &ir.PropertyDiff{
				Before: priorVal,
				After:  desiredVal,
				Action: "update",
			}
		}
	}

	return diff
}

func buildCreateDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{
			After:  v,
			Action: "create",
		}
	}
	return diff
}

func buildDeleteDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{
			Before: v,
			Action: "delete",
		}
	}
	return diff
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return newMap
	case map[string]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[k] = normalizeValue(v)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(val))
		for i, v := range val {
			newSlice[i] = normalizeValue(v)
		}
		return newSlice
	default:
		return val
	}
}
