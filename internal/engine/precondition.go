package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/heatstack-io/heatstack/pkg/provider"
)

// ErrImageTagMissing is returned when a job definition references a
// container image tag that has not been pushed yet. Without this check the
// definition would apply cleanly and fail much later, at job-submission
// time.
var ErrImageTagMissing = errors.New("referenced image tag does not exist in the registry")

// jobDefinitionType is the only resource type with an image precondition.
const jobDefinitionType = "aws:Batch.JobDefinition"

// checkImagePrecondition verifies that the image a job definition points at
// already exists in its registry. Only registry-hosted images on providers
// that can look tags up are checked; anything else passes.
func checkImagePrecondition(ctx context.Context, prov provider.Provider, resourceType, addr string, resolvedProps any) error {
	if resourceType != jobDefinitionType {
		return nil
	}

	checker, ok := prov.(provider.ImageTagChecker)
	if !ok {
		return nil
	}

	props, ok := resolvedProps.(map[string]any)
	if !ok {
		return nil
	}
	image, _ := props["image"].(string)
	repo, tag, ok := splitRegistryImage(image)
	if !ok {
		return nil
	}

	exists, err := checker.CheckImageTag(ctx, repo, tag)
	if err != nil {
		return fmt.Errorf("image precondition check failed for %s: %w", addr, err)
	}
	if !exists {
		return fmt.Errorf("%s references %s: %w", addr, image, ErrImageTagMissing)
	}
	return nil
}

// splitRegistryImage splits an ECR image reference into repository name and
// tag. Returns ok=false for images not hosted in ECR (public images are not
// checked).
func splitRegistryImage(image string) (repo, tag string, ok bool) {
	if image == "" {
		return "", "", false
	}

	host, rest, found := strings.Cut(image, "/")
	if !found || !strings.Contains(host, ".dkr.ecr.") {
		return "", "", false
	}

	repo, tag, found = strings.Cut(rest, ":")
	if !found {
		tag = "latest"
	}
	if repo == "" || tag == "" {
		return "", "", false
	}
	return repo, tag, true
}
