package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/heatstack-io/heatstack/internal/engine"
	"github.com/heatstack-io/heatstack/internal/eval"
	"github.com/heatstack-io/heatstack/internal/ir"
	"github.com/heatstack-io/heatstack/internal/provider"
	"github.com/heatstack-io/heatstack/internal/state"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy [path]",
	Short: "Destroy all managed infrastructure",
	Long: `Destroys all resources managed by Heatstack.

This command is the inverse of 'heatstack apply'. It deletes all resources
tracked in the state file, in reverse dependency order.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	wd, _, err := resolveEntry(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	stateMgr := state.NewManager(statePath(wd), evaluator)
	registry := provider.NewRegistry()
	eng := engine.NewEngine(registry)

	if err := stateMgr.Lock(); err != nil {
		return err
	}
	defer stateMgr.Unlock()

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(currentState.Resources) == 0 {
		fmt.Println("Nothing to destroy. State is empty.")
		return nil
	}

	if err := loadStateProviders(registry, currentState); err != nil {
		return err
	}

	plan, err := eng.CreateDestroyPlan(currentState)
	if err != nil {
		return fmt.Errorf("destroy plan generation failed: %w", err)
	}

	fmt.Println("Heatstack will destroy the following resources:")
	renderPlanChanges(plan)
	fmt.Printf("\nTotal: %d resources to destroy.\n", plan.Summary.Delete)

	if !destroyAutoApprove {
		fmt.Print("\nDo you really want to destroy all resources? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	fmt.Printf("\nDestroying %d resources...\n", len(plan.Changes))

	newState, err := eng.ApplyPlan(ctx, plan, currentState)
	if err != nil {
		// Keep whatever survived so a rerun picks up where this stopped
		_ = stateMgr.Write(ctx, currentState)
		return fmt.Errorf("destroy failed: %w", err)
	}

	newState.Outputs = map[string]any{}
	newState.Resources = []*ir.ResourceState{}
	if err := stateMgr.Write(ctx, newState); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Printf("\nDestroy complete! %d resources deleted.\n", plan.Summary.Delete)
	return nil
}
