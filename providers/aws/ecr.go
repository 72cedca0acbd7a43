package aws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
	pv "github.com/heatstack-io/heatstack/pkg/provider"
)

type RepositoryConfig struct {
	Name               string            `json:"name"`
	ImageTagMutability string            `json:"imageTagMutability"` // MUTABLE or IMMUTABLE
	ScanOnPush         bool              `json:"scanOnPush"`
	ForceDelete        bool              `json:"forceDelete"`
	Tags               map[string]string `json:"tags"`
}

type RepositoryState struct {
	Arn           string `json:"arn"`
	Name          string `json:"name"`
	RepositoryURL string `json:"repositoryUrl"`
	RegistryID    string `json:"registryId"`
	ForceDelete   bool   `json:"forceDelete"`
}

func (p *Provider) applyRepository(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior RepositoryState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.Name != "" {
			_, err := p.ecrClient.DeleteRepository(ctx, &ecr.DeleteRepositoryInput{
				RepositoryName: &prior.Name,
				Force:          prior.ForceDelete,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to delete repository: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired RepositoryConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	mutability := types.ImageTagMutabilityMutable
	if desired.ImageTagMutability == "IMMUTABLE" {
		mutability = types.ImageTagMutabilityImmutable
	}

	input := &ecr.CreateRepositoryInput{
		RepositoryName:     &desired.Name,
		ImageTagMutability: mutability,
		ImageScanningConfiguration: &types.ImageScanningConfiguration{
			ScanOnPush: desired.ScanOnPush,
		},
	}
	for k, v := range desired.Tags {
		input.Tags = append(input.Tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	resp, err := p.ecrClient.CreateRepository(ctx, input)
	if err != nil {
		// Reuse an existing repository rather than failing the whole apply.
		var exists *types.RepositoryAlreadyExistsException
		if !errors.As(err, &exists) {
			return nil, fmt.Errorf("failed to create repository: %w", err)
		}
		describe, derr := p.ecrClient.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
			RepositoryNames: []string{desired.Name},
		})
		if derr != nil || len(describe.Repositories) == 0 {
			return nil, fmt.Errorf("repository %q exists but could not be described: %w", desired.Name, derr)
		}
		repo := describe.Repositories[0]
		newState := RepositoryState{
			Arn:           aws.ToString(repo.RepositoryArn),
			Name:          aws.ToString(repo.RepositoryName),
			RepositoryURL: aws.ToString(repo.RepositoryUri),
			RegistryID:    aws.ToString(repo.RegistryId),
			ForceDelete:   desired.ForceDelete,
		}
		stateJSON, _ := json.Marshal(newState)
		return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
	}

	newState := RepositoryState{
		Arn:           aws.ToString(resp.Repository.RepositoryArn),
		Name:          aws.ToString(resp.Repository.RepositoryName),
		RepositoryURL: aws.ToString(resp.Repository.RepositoryUri),
		RegistryID:    aws.ToString(resp.Repository.RegistryId),
		ForceDelete:   desired.ForceDelete,
	}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}

// CheckImageTag reports whether the given tag exists in the repository.
// The engine consults this before registering a job definition that
// references an image in this registry.
func (p *Provider) CheckImageTag(ctx context.Context, repository, tag string) (bool, error) {
	if err := p.ensureClients(ctx); err != nil {
		return false, err
	}
	_, err := p.ecrClient.DescribeImages(ctx, &ecr.DescribeImagesInput{
		RepositoryName: &repository,
		ImageIds:       []types.ImageIdentifier{{ImageTag: &tag}},
	})
	if err != nil {
		var notFound *types.ImageNotFoundException
		if errors.As(err, &notFound) {
			return false, nil
		}
		var repoNotFound *types.RepositoryNotFoundException
		if errors.As(err, &repoNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to describe image %s:%s: %w", repository, tag, err)
	}
	return true, nil
}

// AuthorizationToken is a decoded ECR registry credential.
type AuthorizationToken struct {
	Username string
	Password string
	Endpoint string
}

// GetAuthorizationToken fetches and decodes an ECR login token. The raw
// token is base64("AWS:<password>").
func (p *Provider) GetAuthorizationToken(ctx context.Context) (*AuthorizationToken, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}
	resp, err := p.ecrClient.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization token: %w", err)
	}
	if len(resp.AuthorizationData) == 0 {
		return nil, fmt.Errorf("no authorization data returned")
	}
	data := resp.AuthorizationData[0]

	decoded, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return nil, fmt.Errorf("failed to decode authorization token: %w", err)
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed authorization token")
	}

	return &AuthorizationToken{
		Username: parts[0],
		Password: parts[1],
		Endpoint: aws.ToString(data.ProxyEndpoint),
	}, nil
}
