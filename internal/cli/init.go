package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new heatstack stack",
	Long:  `Creates a stack directory with a starter declaration and an empty state file.`,
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", stateDir, err)
	}

	mainPkl := "main.pkl"
	if _, err := os.Stat(mainPkl); os.IsNotExist(err) {
		content := `// heatstack declaration
// See: https://github.com/heatstack-io/heatstack

amends "../../pkg/schemas/Config.pkl"

resources {
  // Add your resources here
}

outputs {
  // Values published after apply, e.g.:
  //   ["repository_url"] = "ref://aws:ECR.Repository/batch/repositoryUrl"
}
`
		if err := os.WriteFile(mainPkl, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to create %s: %w", mainPkl, err)
		}
		fmt.Printf("Created %s\n", mainPkl)
	}

	stateFile := filepath.Join(stateDir, "state.pkl")
	if _, err := os.Stat(stateFile); os.IsNotExist(err) {
		content := `// heatstack state file - DO NOT EDIT MANUALLY
amends "../../../pkg/schemas/State.pkl"

version = 1
serial = 0
lineage = ""

resources {}

outputs {}
`
		if err := os.WriteFile(stateFile, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to create state file: %w", err)
		}
		fmt.Printf("Created %s\n", stateFile)
	}

	fmt.Println("\nheatstack initialized successfully!")
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit main.pkl to declare your infrastructure")
	fmt.Println("  2. Run 'heatstack plan' to see what will be created")
	fmt.Println("  3. Run 'heatstack apply' to create it")

	return nil
}
