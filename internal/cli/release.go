package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/heatstack-io/heatstack/internal/eval"
	"github.com/heatstack-io/heatstack/internal/release"
	"github.com/heatstack-io/heatstack/internal/state"
	pv "github.com/heatstack-io/heatstack/pkg/provider"
	awsprov "github.com/heatstack-io/heatstack/providers/aws"
	dockerprov "github.com/heatstack-io/heatstack/providers/docker"
)

var (
	releaseContextDir string
	releaseDockerfile string
	releaseTag        string
)

var releaseCmd = &cobra.Command{
	Use:   "release [path]",
	Short: "Build and push the job image",
	Long: `Builds the job container image and pushes it to the stack's ECR
repository, using the 'region' and 'repository_url' outputs of the
applied stack.

The pipeline runs login, build, tag, push in order and stops at the
first failure, so a broken build never reaches the registry.`,
	RunE: runRelease,
}

func init() {
	releaseCmd.Flags().StringVar(&releaseContextDir, "context", "app", "Docker build context directory")
	releaseCmd.Flags().StringVar(&releaseDockerfile, "dockerfile", "Dockerfile", "Dockerfile path relative to the context")
	releaseCmd.Flags().StringVar(&releaseTag, "tag", "latest", "Image tag to push")
}

func runRelease(cmd *cobra.Command, args []string) error {
	wd, _, err := resolveEntry(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	stateMgr := state.NewManager(statePath(wd), evaluator)

	s, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	region, _ := s.Outputs["region"].(string)
	repositoryURL, _ := s.Outputs["repository_url"].(string)
	if region == "" || repositoryURL == "" {
		return fmt.Errorf("stack outputs 'region' and 'repository_url' are required; run 'heatstack apply' first")
	}

	registry := awsprov.New()
	resp, err := registry.Configure(ctx, &pv.ConfigureRequest{
		Settings: map[string]string{"region": region},
	})
	if err != nil {
		return fmt.Errorf("failed to configure AWS provider: %w", err)
	}
	for _, diag := range resp.Diagnostics {
		if diag.Severity == pv.SeverityError {
			return fmt.Errorf("failed to configure AWS provider: %s: %s", diag.Summary, diag.Detail)
		}
	}

	pipeline := release.NewPipeline(&ecrTokenSource{provider: registry}, dockerprov.New()).
		WithIdentity(registry)

	return pipeline.Run(ctx, release.Options{
		Region:        region,
		RepositoryURL: repositoryURL,
		ContextDir:    releaseContextDir,
		Dockerfile:    releaseDockerfile,
		Tag:           releaseTag,
	})
}

// ecrTokenSource adapts the AWS provider's ECR token API to the release
// pipeline's credential interface.
type ecrTokenSource struct {
	provider *awsprov.Provider
}

func (s *ecrTokenSource) RegistryCredentials(ctx context.Context) (*release.Credentials, error) {
	token, err := s.provider.GetAuthorizationToken(ctx)
	if err != nil {
		return nil, err
	}
	return &release.Credentials{
		Username: token.Username,
		Password: token.Password,
		Endpoint: token.Endpoint,
	}, nil
}
