package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/heatstack-io/heatstack/internal/ir"
	"github.com/heatstack-io/heatstack/internal/logging"
	"github.com/heatstack-io/heatstack/pkg/provider"
)

const defaultParallelism = 10

// ApplyEvent is a progress event emitted while applying a plan.
type ApplyEvent struct {
	Address  string
	Action   string
	Status   string // "started", "completed", "failed"
	Duration time.Duration
	Error    error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// ApplyPlan executes a plan and updates the state.
func (e *Engine) ApplyPlan(ctx context.Context, plan *ir.Plan, state *ir.State) (*ir.State, error) {
	return e.ApplyPlanWithCallback(ctx, plan, state, nil)
}

// ApplyPlanWithCallback executes a plan with progress event callbacks.
// Creates and updates run in parallel where dependency ordering allows;
// deletes run afterwards in reverse dependency order. If e.ContinueOnError
// is set, apply continues past individual failures and returns an
// aggregated error at the end.
func (e *Engine) ApplyPlanWithCallback(ctx context.Context, plan *ir.Plan, state *ir.State, callback ApplyCallback) (*ir.State, error) {
	var mu sync.Mutex
	var errs []error

	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	stateIndex := make(map[string]int)
	for i, res := range state.Resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		stateIndex[addr] = i
	}

	var createUpdates, deletes []*ir.ResourceChange
	for _, change := range plan.Changes {
		if change.Action == "DELETE" {
			deletes = append(deletes, change)
		} else {
			createUpdates = append(createUpdates, change)
		}
	}

	runGroup := func(changes []*ir.ResourceChange) error {
		if len(changes) > 1 {
			return e.applyParallel(ctx, changes, state, &stateIndex, &mu, emit)
		}
		for _, change := range changes {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("apply cancelled: %w", err)
			}
			start := time.Now()
			emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "started"})
			if err := e.applyChange(ctx, change, state, &stateIndex, &mu); err != nil {
				emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "failed", Duration: time.Since(start), Error: err})
				return err
			}
			emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "completed", Duration: time.Since(start)})
		}
		return nil
	}

	for _, group := range [][]*ir.ResourceChange{createUpdates, deletes} {
		if err := runGroup(group); err != nil {
			if !e.ContinueOnError {
				return state, err
			}
			errs = append(errs, err)
		}
	}

	state.Serial++

	// Output values may reference resource attributes; resolve them
	// against the freshly written state.
	if outputs, ok := resolveReferences(normalizeValue(plan.Outputs), state).(map[string]any); ok {
		state.Outputs = outputs
	} else {
		state.Outputs = plan.Outputs
	}

	if len(errs) > 0 {
		return state, fmt.Errorf("%d resource group(s) failed: %w", len(errs), errors.Join(errs...))
	}

	return state, nil
}

// applyParallel applies changes concurrently, respecting the dependency
// edges between the changes themselves.
func (e *Engine) applyParallel(ctx context.Context, changes []*ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex, emit func(ApplyEvent)) error {
	changeMap := make(map[string]*ir.ResourceChange)
	for _, c := range changes {
		changeMap[c.Address] = c
	}

	deps := make(map[string]map[string]bool)
	for _, c := range changes {
		deps[c.Address] = make(map[string]bool)
	}
	for _, c := range changes {
		if c.Action == "DELETE" {
			// Deletion runs in reverse: a resource's dependencies wait
			// for it to be deleted first.
			if c.Prior != nil {
				for _, d := range c.Prior.DependsOn {
					if _, ok := changeMap[d]; ok {
						deps[d][c.Address] = true
					}
				}
			}
			continue
		}
		if c.Desired == nil {
			continue
		}
		for _, d := range c.Desired.DependsOn {
			if _, ok := changeMap[d]; ok {
				deps[c.Address][d] = true
			}
		}
		for _, ref := range extractRefs(c.Desired.Properties) {
			depAddr := refToAddr(ref)
			if _, ok := changeMap[depAddr]; ok {
				deps[c.Address][depAddr] = true
			}
		}
	}

	completed := make(map[string]bool)
	failed := make(map[string]bool)
	completedMu := sync.Mutex{}
	completedCond := sync.NewCond(&completedMu)
	var firstErr error
	var allErrs []error
	sem := make(chan struct{}, defaultParallelism)

	var wg sync.WaitGroup

	for _, change := range changes {
		wg.Add(1)
		go func(c *ir.ResourceChange) {
			defer wg.Done()

			completedMu.Lock()
			for {
				if firstErr != nil && !e.ContinueOnError {
					completedMu.Unlock()
					return
				}
				allDepsReady := true
				depFailed := false
				for dep := range deps[c.Address] {
					if failed[dep] {
						depFailed = true
						break
					}
					if !completed[dep] {
						allDepsReady = false
						break
					}
				}
				if depFailed {
					failed[c.Address] = true
					completedMu.Unlock()
					completedCond.Broadcast()
					return
				}
				if allDepsReady {
					break
				}
				completedCond.Wait()
			}
			completedMu.Unlock()

			if err := ctx.Err(); err != nil {
				completedMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("apply cancelled: %w", err)
				}
				completedMu.Unlock()
				completedCond.Broadcast()
				return
			}

			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "started"})

			if err := e.applyChange(ctx, c, state, stateIndex, mu); err != nil {
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "failed", Duration: time.Since(start), Error: err})
				completedMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				allErrs = append(allErrs, err)
				failed[c.Address] = true
				completedMu.Unlock()
				completedCond.Broadcast()
				return
			}

			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "completed", Duration: time.Since(start)})

			completedMu.Lock()
			completed[c.Address] = true
			completedMu.Unlock()
			completedCond.Broadcast()
		}(change)
	}

	wg.Wait()

	if e.ContinueOnError && len(allErrs) > 0 {
		return fmt.Errorf("%d resource(s) failed: %w", len(allErrs), errors.Join(allErrs...))
	}
	if firstErr != nil {
		return firstErr
	}
	return nil
}

func (e *Engine) applyChange(ctx context.Context, change *ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex) error {
	addr := change.Address
	logging.Debug("applying change", "address", addr, "action", change.Action)

	var timeout time.Duration
	if change.Desired != nil && change.Desired.Timeout != "" {
		if d, err := time.ParseDuration(change.Desired.Timeout); err == nil {
			timeout = d
		}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var desiredJSON []byte
	var priorJSON []byte
	var name, typ string
	var resolvedProps any

	if change.Desired != nil {
		name = change.Desired.Name
		typ = change.Desired.Type
		props := normalizeValue(change.Desired.Properties)
		mu.Lock()
		resolvedProps = resolveReferences(props, state)
		mu.Unlock()
		desiredJSON, _ = json.Marshal(resolvedProps)
	} else if change.Prior != nil {
		name = change.Prior.Name
		typ = change.Prior.Type
	}

	mu.Lock()
	if idx, ok := (*stateIndex)[addr]; ok {
		priorState := state.Resources[idx]
		if priorState.Outputs != nil {
			priorJSON, _ = json.Marshal(priorState.Outputs)
		}
	}
	mu.Unlock()

	provName := "null"
	if change.Desired != nil {
		provName = change.Desired.Provider
	} else if change.Prior != nil {
		provName = change.Prior.Provider
	}

	prov, err := e.registry.Get(provName)
	if err != nil {
		return fmt.Errorf("provider not found: %s", provName)
	}

	retryPolicy := DefaultRetryPolicy()

	switch change.Action {
	case "CREATE", "UPDATE", "REPLACE":
		if err := checkImagePrecondition(ctx, prov, typ, addr, resolvedProps); err != nil {
			return err
		}

		var resp *provider.ApplyResponse
		err := RetryWithBackoff(ctx, retryPolicy, func() error {
			var applyErr error
			resp, applyErr = prov.Apply(ctx, &provider.ApplyRequest{
				Type:              typ,
				Name:              name,
				DesiredConfigJSON: desiredJSON,
				PriorStateJSON:    priorJSON,
			})
			return applyErr
		}, IsTransientError)
		if err != nil {
			return fmt.Errorf("apply failed for %s: %w", addr, err)
		}

		var outputs map[string]any
		if len(resp.NewStateJSON) > 0 {
			if err := json.Unmarshal(resp.NewStateJSON, &outputs); err != nil {
				return fmt.Errorf("failed to unmarshal state: %w", err)
			}
		}

		newResState := &ir.ResourceState{
			Type:         typ,
			Name:         name,
			Provider:     provName,
			Inputs:       change.Desired.Properties,
			InputsHash:   hashInputs(change.Desired.Properties),
			Outputs:      outputs,
			Dependencies: dependencyAddrs(change.Desired),
		}

		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			state.Resources[idx] = newResState
		} else {
			(*stateIndex)[addr] = len(state.Resources)
			state.Resources = append(state.Resources, newResState)
		}
		mu.Unlock()

	case "DELETE":
		// Providers treat a nil desired config as deletion.
		err := RetryWithBackoff(ctx, retryPolicy, func() error {
			_, deleteErr := prov.Apply(ctx, &provider.ApplyRequest{
				Type:           typ,
				Name:           name,
				PriorStateJSON: priorJSON,
			})
			return deleteErr
		}, IsTransientError)
		if err != nil {
			return fmt.Errorf("delete failed for %s: %w", addr, err)
		}

		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			state.Resources = append(state.Resources[:idx], state.Resources[idx+1:]...)
			*stateIndex = make(map[string]int)
			for i, res := range state.Resources {
				a := fmt.Sprintf("%s.%s", res.Type, res.Name)
				(*stateIndex)[a] = i
			}
		}
		mu.Unlock()
	}

	return nil
}

// dependencyAddrs collects the resource addresses a resource depends on,
// from both explicit dependsOn entries and ref:// properties. Recorded in
// state so destruction can order deletes without the declaration.
func dependencyAddrs(res *ir.Resource) []string {
	seen := make(map[string]bool)
	var addrs []string
	for _, d := range res.DependsOn {
		if !seen[d] {
			seen[d] = true
			addrs = append(addrs, d)
		}
	}
	for _, ref := range extractRefs(res.Properties) {
		if addr := refToAddr(ref); addr != "" && !seen[addr] {
			seen[addr] = true
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// resolveReferences replaces ref:// strings with attribute values recorded
// in state for the referenced resource.
func resolveReferences(val any, state *ir.State) any {
	switch v := val.(type) {
	case string:
		if len(v) > 6 && v[:6] == "ref://" {
			for _, res := range state.Resources {
				// ref://<type>/<name>/<attribute>
				matchPrefix := fmt.Sprintf("ref://%s/%s/", res.Type, res.Name)
				if len(v) > len(matchPrefix) && v[:len(matchPrefix)] == matchPrefix {
					attr := v[len(matchPrefix):]
					if val, ok := res.Outputs[attr]; ok {
						return val
					}
					if val, ok := res.Inputs[attr]; ok {
						return val
					}
					return v
				}
			}
		}
		return v
	case map[string]any:
		newMap := make(map[string]any)
		for k, v := range v {
			newMap[k] = resolveReferences(v, state)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(v))
		for i, v := range v {
			newSlice[i] = resolveReferences(v, state)
		}
		return newSlice
	default:
		return v
	}
}
