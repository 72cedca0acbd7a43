// Package release builds the job image and pushes it to the stack's
// container registry. It consumes the repository URL and region exposed
// as stack outputs, so it must run against an applied stack.
package release

import (
	"context"
	"fmt"
	"strings"

	"github.com/heatstack-io/heatstack/internal/logging"
)

// Credentials authenticate a docker push to a registry.
type Credentials struct {
	Username string
	Password string
	Endpoint string
}

// TokenSource produces short-lived registry credentials.
type TokenSource interface {
	RegistryCredentials(ctx context.Context) (*Credentials, error)
}

// IdentitySource resolves which AWS account and region the ambient
// credentials belong to.
type IdentitySource interface {
	Region() string
	AccountID(ctx context.Context) (string, error)
}

// ImageWorkflow is the subset of docker operations the pipeline drives.
type ImageWorkflow interface {
	Login(ctx context.Context, serverAddress, username, password string) error
	Build(ctx context.Context, contextDir, dockerfile string, tags []string) error
	Tag(ctx context.Context, source, target string) error
	Push(ctx context.Context, ref, serverAddress, username, password string) error
}

// Options configure a release run. Region and RepositoryURL come from
// the stack outputs.
type Options struct {
	Region        string
	RepositoryURL string
	ContextDir    string
	Dockerfile    string
	Tag           string
}

type Pipeline struct {
	tokens   TokenSource
	docker   ImageWorkflow
	identity IdentitySource
}

func NewPipeline(tokens TokenSource, docker ImageWorkflow) *Pipeline {
	return &Pipeline{tokens: tokens, docker: docker}
}

// WithIdentity enables the ownership preflight: before anything is built
// or pushed, the pipeline checks that the target repository belongs to
// the caller's account and region.
func (p *Pipeline) WithIdentity(id IdentitySource) *Pipeline {
	p.identity = id
	return p
}

// Run executes login, build, tag, push in order. Each step must succeed
// before the next runs; a failed login or build never reaches the
// registry.
func (p *Pipeline) Run(ctx context.Context, opts Options) error {
	if err := validateOptions(&opts); err != nil {
		return err
	}

	ref := opts.RepositoryURL + ":" + opts.Tag
	localTag := localImageName(opts.RepositoryURL) + ":" + opts.Tag

	if p.identity != nil {
		if err := p.verifyRepositoryOwner(ctx, opts); err != nil {
			return err
		}
	}

	creds, err := p.tokens.RegistryCredentials(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain registry credentials: %w", err)
	}

	logging.Info("Logging in to registry", "endpoint", creds.Endpoint)
	if err := p.docker.Login(ctx, creds.Endpoint, creds.Username, creds.Password); err != nil {
		return fmt.Errorf("registry login failed: %w", err)
	}

	logging.Info("Building image", "context", opts.ContextDir, "tag", localTag)
	if err := p.docker.Build(ctx, opts.ContextDir, opts.Dockerfile, []string{localTag}); err != nil {
		return fmt.Errorf("image build failed: %w", err)
	}

	if err := p.docker.Tag(ctx, localTag, ref); err != nil {
		return fmt.Errorf("image tag failed: %w", err)
	}

	logging.Info("Pushing image", "ref", ref)
	if err := p.docker.Push(ctx, ref, creds.Endpoint, creds.Username, creds.Password); err != nil {
		return fmt.Errorf("image push failed: %w", err)
	}

	logging.Info("Release complete", "ref", ref)
	return nil
}

func validateOptions(opts *Options) error {
	if opts.RepositoryURL == "" {
		return fmt.Errorf("repository URL is required; apply the stack first")
	}
	if opts.Region == "" {
		return fmt.Errorf("region is required; apply the stack first")
	}
	if !strings.Contains(opts.RepositoryURL, "/") {
		return fmt.Errorf("repository URL %q has no repository path", opts.RepositoryURL)
	}
	if opts.ContextDir == "" {
		opts.ContextDir = "."
	}
	if opts.Dockerfile == "" {
		opts.Dockerfile = "Dockerfile"
	}
	if opts.Tag == "" {
		opts.Tag = "latest"
	}
	return nil
}

// verifyRepositoryOwner refuses to push to a repository the caller's
// credentials do not own. Wrong-profile pushes fail here instead of with
// an opaque registry 403.
func (p *Pipeline) verifyRepositoryOwner(ctx context.Context, opts Options) error {
	account, region, ok := parseRegistryHost(opts.RepositoryURL)
	if !ok {
		return nil
	}
	if r := p.identity.Region(); r != "" && r != region {
		return fmt.Errorf("repository %s lives in %s but the provider is configured for %s",
			opts.RepositoryURL, region, r)
	}
	caller, err := p.identity.AccountID(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve caller identity: %w", err)
	}
	if caller != account {
		return fmt.Errorf("repository %s belongs to account %s but the credentials resolve to account %s",
			opts.RepositoryURL, account, caller)
	}
	return nil
}

// parseRegistryHost splits a private ECR repository URL into its account
// and region (<account>.dkr.ecr.<region>.amazonaws.com/<repo>).
func parseRegistryHost(repositoryURL string) (account, region string, ok bool) {
	host := repositoryURL
	if i := strings.Index(host, "/"); i >= 0 {
		host = host[:i]
	}
	parts := strings.Split(host, ".")
	if len(parts) != 6 || parts[1] != "dkr" || parts[2] != "ecr" || parts[4] != "amazonaws" || parts[5] != "com" {
		return "", "", false
	}
	return parts[0], parts[3], true
}

// localImageName derives a short local tag from the full repository URL,
// e.g. 123456789012.dkr.ecr.us-east-1.amazonaws.com/batch-job -> batch-job.
func localImageName(repositoryURL string) string {
	if i := strings.Index(repositoryURL, "/"); i >= 0 {
		return repositoryURL[i+1:]
	}
	return repositoryURL
}
