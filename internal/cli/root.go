package cli

import (
	"github.com/spf13/cobra"

	"github.com/heatstack-io/heatstack/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "heatstack",
	Short: "PKL-native AWS Batch stack management",
	Long: `Heatstack declares and manages the AWS infrastructure for scheduled
container batch jobs, defined in Apple's PKL language.

A stack declaration covers networking, an ECR repository, a public data
bucket, IAM roles, the Batch compute environment, and the EventBridge
schedule that submits the job. The release command builds and pushes the
job image against an applied stack.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(versionCmd)
}
