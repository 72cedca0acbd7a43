package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/heatstack-io/heatstack/internal/engine"
	"github.com/heatstack-io/heatstack/internal/eval"
)

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate the stack declaration",
	Long: `Validates the syntax and types of the PKL stack declaration, and
checks that every resource reference points at a declared resource.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveEntry(args)
	if err != nil {
		return err
	}

	fmt.Println("Validating configuration...")

	evaluator := eval.NewEvaluator(wd)

	fmt.Printf("Checking %s... ", entryPoint)
	cfg, err := evaluator.LoadConfig(cmd.Context(), entryPoint, nil)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Println("OK")

	fmt.Print("Checking references... ")
	resources := engine.ExpandForEach(cfg.Resources)
	if err := engine.ValidateReferences(resources, nil); err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	if _, err := engine.BuildDAG(resources); err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Println("OK")

	fmt.Println("\nConfiguration is valid!")
	return nil
}
