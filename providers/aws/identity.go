package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Region returns the region the provider is configured for.
func (p *Provider) Region() string {
	return p.region
}

// AccountID resolves the caller's AWS account via STS.
func (p *Provider) AccountID(ctx context.Context) (string, error) {
	if err := p.ensureClients(ctx); err != nil {
		return "", err
	}
	resp, err := p.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %w", err)
	}
	return aws.ToString(resp.Account), nil
}
