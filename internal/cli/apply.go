package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/heatstack-io/heatstack/internal/engine"
	"github.com/heatstack-io/heatstack/internal/eval"
	"github.com/heatstack-io/heatstack/internal/provider"
	"github.com/heatstack-io/heatstack/internal/state"
)

var (
	applyAutoApprove bool
	applyProperties  map[string]string
)

var applyCmd = &cobra.Command{
	Use:   "apply [path]",
	Short: "Apply a stack declaration",
	Long:  `Builds or changes infrastructure according to the stack declaration.`,
	RunE:  runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	applyCmd.Flags().StringToStringVarP(&applyProperties, "prop", "D", nil, "Set external properties (format: key=value)")
}

func runApply(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveEntry(args)
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

	fmt.Print("Loading configuration... ")
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, applyProperties)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Println("OK")

	if err := loadRequiredProviders(registry, cfg); err != nil {
		return err
	}

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	// Providers for resources already in state are needed for DELETE
	if err := loadStateProviders(registry, currentState); err != nil {
		return err
	}

	fmt.Print("Calculating plan... ")
	plan, err := eng.CreatePlan(ctx, cfg, currentState)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	if len(plan.Changes) == 0 {
		fmt.Println("No changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Println("\nHeatstack will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove {
		fmt.Print("\nDo you want to perform these actions? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d changes...\n", len(plan.Changes))

	newState, err := eng.ApplyPlan(ctx, plan, currentState)
	if err != nil {
		// Write partial state on failure so successful changes aren't lost
		_ = stateMgr.Write(ctx, currentState)
		return fmt.Errorf("apply failed: %w", err)
	}

	if err := stateMgr.Write(ctx, newState); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Printf("\nApply complete! Resources: %d added, %d changed, %d destroyed.\n",
		plan.Summary.Create, plan.Summary.Update, plan.Summary.Delete)

	if len(newState.Outputs) > 0 {
		fmt.Println("\nOutputs:")
		for k, v := range newState.Outputs {
			fmt.Printf("  %s = %v\n", k, v)
		}
	}

	return nil
}
