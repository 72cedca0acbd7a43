package release

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	creds *Credentials
	err   error
}

func (f *fakeTokens) RegistryCredentials(ctx context.Context) (*Credentials, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.creds, nil
}

type fakeDocker struct {
	calls    []string
	loginErr error
	buildErr error
	tagErr   error
	pushErr  error

	builtTags []string
	pushedRef string
}

func (f *fakeDocker) Login(ctx context.Context, server, user, pass string) error {
	f.calls = append(f.calls, "login")
	return f.loginErr
}

func (f *fakeDocker) Build(ctx context.Context, contextDir, dockerfile string, tags []string) error {
	f.calls = append(f.calls, "build")
	f.builtTags = tags
	return f.buildErr
}

func (f *fakeDocker) Tag(ctx context.Context, source, target string) error {
	f.calls = append(f.calls, "tag")
	return f.tagErr
}

func (f *fakeDocker) Push(ctx context.Context, ref, server, user, pass string) error {
	f.calls = append(f.calls, "push")
	f.pushedRef = ref
	return f.pushErr
}

func testOptions() Options {
	return Options{
		Region:        "us-east-1",
		RepositoryURL: "123456789012.dkr.ecr.us-east-1.amazonaws.com/batch-job",
		ContextDir:    "./app",
	}
}

func testCreds() *Credentials {
	return &Credentials{
		Username: "AWS",
		Password: "token",
		Endpoint: "https://123456789012.dkr.ecr.us-east-1.amazonaws.com",
	}
}

func TestPipeline_Run(t *testing.T) {
	docker := &fakeDocker{}
	p := NewPipeline(&fakeTokens{creds: testCreds()}, docker)

	err := p.Run(context.Background(), testOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"login", "build", "tag", "push"}, docker.calls)
	assert.Equal(t, []string{"batch-job:latest"}, docker.builtTags)
	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com/batch-job:latest", docker.pushedRef)
}

func TestPipeline_CustomTag(t *testing.T) {
	docker := &fakeDocker{}
	p := NewPipeline(&fakeTokens{creds: testCreds()}, docker)

	opts := testOptions()
	opts.Tag = "v42"
	require.NoError(t, p.Run(context.Background(), opts))

	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com/batch-job:v42", docker.pushedRef)
}

func TestPipeline_HaltsWhenCredentialsFail(t *testing.T) {
	docker := &fakeDocker{}
	p := NewPipeline(&fakeTokens{err: errors.New("sts unavailable")}, docker)

	err := p.Run(context.Background(), testOptions())
	require.Error(t, err)
	assert.Empty(t, docker.calls, "no docker operation should run without credentials")
}

func TestPipeline_HaltsBeforePushOnLoginFailure(t *testing.T) {
	docker := &fakeDocker{loginErr: errors.New("denied")}
	p := NewPipeline(&fakeTokens{creds: testCreds()}, docker)

	err := p.Run(context.Background(), testOptions())
	require.Error(t, err)
	assert.Equal(t, []string{"login"}, docker.calls)
}

func TestPipeline_HaltsBeforePushOnBuildFailure(t *testing.T) {
	docker := &fakeDocker{buildErr: errors.New("syntax error in Dockerfile")}
	p := NewPipeline(&fakeTokens{creds: testCreds()}, docker)

	err := p.Run(context.Background(), testOptions())
	require.Error(t, err)
	assert.Equal(t, []string{"login", "build"}, docker.calls)
	assert.NotContains(t, docker.calls, "push")
}

func TestPipeline_RequiresStackOutputs(t *testing.T) {
	p := NewPipeline(&fakeTokens{creds: testCreds()}, &fakeDocker{})

	err := p.Run(context.Background(), Options{Region: "us-east-1"})
	assert.Error(t, err)

	err = p.Run(context.Background(), Options{RepositoryURL: "x.dkr.ecr.us-east-1.amazonaws.com/repo"})
	assert.Error(t, err)
}

type fakeIdentity struct {
	account string
	region  string
	err     error
}

func (f *fakeIdentity) Region() string { return f.region }

func (f *fakeIdentity) AccountID(ctx context.Context) (string, error) {
	return f.account, f.err
}

func TestPipeline_VerifiesRepositoryOwner(t *testing.T) {
	docker := &fakeDocker{}
	p := NewPipeline(&fakeTokens{creds: testCreds()}, docker).
		WithIdentity(&fakeIdentity{account: "123456789012", region: "us-east-1"})

	require.NoError(t, p.Run(context.Background(), testOptions()))
	assert.Equal(t, []string{"login", "build", "tag", "push"}, docker.calls)
}

func TestPipeline_RejectsForeignRepository(t *testing.T) {
	docker := &fakeDocker{}
	p := NewPipeline(&fakeTokens{creds: testCreds()}, docker).
		WithIdentity(&fakeIdentity{account: "999999999999", region: "us-east-1"})

	err := p.Run(context.Background(), testOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "belongs to account 123456789012")
	assert.Empty(t, docker.calls, "nothing should be built for a repository the caller does not own")
}

func TestPipeline_RejectsRegionMismatch(t *testing.T) {
	docker := &fakeDocker{}
	p := NewPipeline(&fakeTokens{creds: testCreds()}, docker).
		WithIdentity(&fakeIdentity{account: "123456789012", region: "eu-west-1"})

	err := p.Run(context.Background(), testOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configured for eu-west-1")
	assert.Empty(t, docker.calls)
}

func TestParseRegistryHost(t *testing.T) {
	tests := []struct {
		url     string
		account string
		region  string
		ok      bool
	}{
		{"123456789012.dkr.ecr.us-east-1.amazonaws.com/batch-job", "123456789012", "us-east-1", true},
		{"123456789012.dkr.ecr.eu-west-1.amazonaws.com/team/batch-job", "123456789012", "eu-west-1", true},
		{"public.ecr.aws/library/alpine", "", "", false},
		{"docker.io/library/alpine", "", "", false},
		{"batch-job", "", "", false},
	}

	for _, tt := range tests {
		account, region, ok := parseRegistryHost(tt.url)
		assert.Equal(t, tt.ok, ok, tt.url)
		assert.Equal(t, tt.account, account, tt.url)
		assert.Equal(t, tt.region, region, tt.url)
	}
}
