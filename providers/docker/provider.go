package docker

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	pv "github.com/heatstack-io/heatstack/pkg/provider"
)

type Provider struct {
	pv.Unimplemented
	client *client.Client
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) ensureClient() error {
	if p.client != nil {
		return nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return err
	}
	p.client = cli
	return nil
}

func (p *Provider) Configure(ctx context.Context, req *pv.ConfigureRequest) (*pv.ConfigureResponse, error) {
	if err := p.ensureClient(); err != nil {
		return &pv.ConfigureResponse{
			Diagnostics: []pv.Diagnostic{
				{
					Severity: pv.SeverityError,
					Summary:  "Failed to create Docker client",
					Detail:   err.Error(),
				},
			},
		}, nil
	}
	return &pv.ConfigureResponse{}, nil
}

func (p *Provider) Plan(ctx context.Context, req *pv.PlanRequest) (*pv.PlanResponse, error) {
	if req.DesiredConfigJSON == nil && req.PriorStateJSON != nil {
		return &pv.PlanResponse{Action: pv.ActionDelete}, nil
	}
	if req.PriorStateJSON == nil {
		return &pv.PlanResponse{Action: pv.ActionCreate}, nil
	}

	switch req.Type {
	case "docker:Container":
		var desired ContainerConfig
		if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
			return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
		}
		var prior ContainerState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior: %w", err)
		}
		if desired.Image != prior.ImageName {
			return &pv.PlanResponse{
				Action:            pv.ActionReplace,
				ChangedAttributes: []string{"image"},
			}, nil
		}
		return &pv.PlanResponse{Action: pv.ActionNoop}, nil

	case "docker:Image":
		if string(req.DesiredConfigJSON) != string(req.PriorStateJSON) {
			return &pv.PlanResponse{Action: pv.ActionUpdate}, nil
		}
		return &pv.PlanResponse{Action: pv.ActionNoop}, nil
	}

	return &pv.PlanResponse{Action: pv.ActionNoop}, nil
}

func (p *Provider) Apply(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	switch req.Type {
	case "docker:Image":
		return p.applyImage(ctx, req)
	case "docker:Container":
		return p.applyContainer(ctx, req)
	}

	return nil, fmt.Errorf("unknown resource type: %s", req.Type)
}

type ImageConfig struct {
	Name         string   `json:"name"`
	BuildContext string   `json:"buildContext"`
	Dockerfile   string   `json:"dockerfile"`
	Tags         []string `json:"tags"`
}

type ImageState struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

func (p *Provider) applyImage(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior ImageState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ID != "" {
			_, err := p.client.ImageRemove(ctx, prior.ID, image.RemoveOptions{Force: true})
			if err != nil && !client.IsErrNotFound(err) {
				return nil, fmt.Errorf("failed to remove image: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired ImageConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	if desired.BuildContext != "" {
		if err := p.Build(ctx, desired.BuildContext, desired.Dockerfile, append([]string{desired.Name}, desired.Tags...)); err != nil {
			return nil, err
		}
	} else {
		reader, err := p.client.ImagePull(ctx, desired.Name, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to pull image: %w", err)
		}
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()
	}

	inspect, _, err := p.client.ImageInspectWithRaw(ctx, desired.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect image: %w", err)
	}

	newState := ImageState{
		ID:   inspect.ID,
		Name: desired.Name,
		Tags: desired.Tags,
	}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}

// Build builds an image from the given context directory and tags it.
func (p *Provider) Build(ctx context.Context, contextDir, dockerfile string, tags []string) error {
	if err := p.ensureClient(); err != nil {
		return err
	}

	tar, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to create build context tar: %w", err)
	}

	opts := types.ImageBuildOptions{
		Tags:       tags,
		Dockerfile: dockerfile,
		Remove:     true,
	}

	resp, err := p.client.ImageBuild(ctx, tar, opts)
	if err != nil {
		return fmt.Errorf("failed to build image: %w", err)
	}
	defer resp.Body.Close()

	return drainBuildOutput(resp.Body)
}

// Tag applies an additional reference to a local image.
func (p *Provider) Tag(ctx context.Context, source, target string) error {
	if err := p.ensureClient(); err != nil {
		return err
	}
	if err := p.client.ImageTag(ctx, source, target); err != nil {
		return fmt.Errorf("failed to tag %s as %s: %w", source, target, err)
	}
	return nil
}

// Login verifies registry credentials against the daemon.
func (p *Provider) Login(ctx context.Context, serverAddress, username, password string) error {
	if err := p.ensureClient(); err != nil {
		return err
	}
	_, err := p.client.RegistryLogin(ctx, registry.AuthConfig{
		ServerAddress: serverAddress,
		Username:      username,
		Password:      password,
	})
	if err != nil {
		return fmt.Errorf("registry login to %s failed: %w", serverAddress, err)
	}
	return nil
}

// Push pushes an image reference to its registry using the given
// credentials.
func (p *Provider) Push(ctx context.Context, ref, serverAddress, username, password string) error {
	if err := p.ensureClient(); err != nil {
		return err
	}

	authJSON, err := json.Marshal(registry.AuthConfig{
		ServerAddress: serverAddress,
		Username:      username,
		Password:      password,
	})
	if err != nil {
		return fmt.Errorf("failed to encode registry auth: %w", err)
	}

	reader, err := p.client.ImagePush(ctx, ref, image.PushOptions{
		RegistryAuth: base64.URLEncoding.EncodeToString(authJSON),
	})
	if err != nil {
		return fmt.Errorf("failed to push %s: %w", ref, err)
	}
	defer reader.Close()

	return drainBuildOutput(reader)
}

// drainBuildOutput consumes the daemon's JSON stream and surfaces any
// embedded error message, which the HTTP status alone does not carry.
func drainBuildOutput(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			return fmt.Errorf("docker daemon: %s", msg.Error)
		}
	}
	return scanner.Err()
}

type ContainerConfig struct {
	Image   string            `json:"image"`
	Name    string            `json:"name"`
	Command []string          `json:"command"`
	Ports   map[string]int    `json:"ports"`
	Env     map[string]string `json:"env"`
}

type ContainerState struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ImageName string `json:"image"`
}

func (p *Provider) applyContainer(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior ContainerState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ID != "" {
			timeout := 10 // seconds
			_ = p.client.ContainerStop(ctx, prior.ID, container.StopOptions{Timeout: &timeout})
			if err := p.client.ContainerRemove(ctx, prior.ID, container.RemoveOptions{Force: true}); err != nil {
				if !client.IsErrNotFound(err) {
					return nil, fmt.Errorf("failed to remove container: %w", err)
				}
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired ContainerConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	// Pull only if the image is not already local; locally built job
	// images are the common case here.
	if _, _, err := p.client.ImageInspectWithRaw(ctx, desired.Image); err != nil {
		reader, err := p.client.ImagePull(ctx, desired.Image, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", desired.Image, err)
		}
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()
	}

	portBindings := nat.PortMap{}
	for hostPort, containerPort := range desired.Ports {
		cp := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		portBindings[cp] = []nat.PortBinding{
			{HostIP: "0.0.0.0", HostPort: hostPort},
		}
	}

	resp, err := p.client.ContainerCreate(ctx,
		&container.Config{
			Image: desired.Image,
			Cmd:   desired.Command,
			Env:   mapToEnvList(desired.Env),
		},
		&container.HostConfig{PortBindings: portBindings},
		&network.NetworkingConfig{},
		&v1.Platform{},
		desired.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	newState := ContainerState{
		ID:        resp.ID,
		Name:      desired.Name,
		ImageName: desired.Image,
	}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func mapToEnvList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
