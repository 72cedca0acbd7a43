package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	pv "github.com/heatstack-io/heatstack/pkg/provider"
)

type LogGroupConfig struct {
	Name            string            `json:"name"`
	RetentionInDays int               `json:"retentionInDays"`
	Tags            map[string]string `json:"tags"`
}

type LogGroupState struct {
	Name string `json:"name"`
}

func (p *Provider) applyLogGroup(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior LogGroupState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.Name != "" {
			_, err := p.logsClient.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{
				LogGroupName: &prior.Name,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to delete log group: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired LogGroupConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	input := &cloudwatchlogs.CreateLogGroupInput{LogGroupName: &desired.Name}
	if len(desired.Tags) > 0 {
		input.Tags = desired.Tags
	}

	if _, err := p.logsClient.CreateLogGroup(ctx, input); err != nil {
		var exists *types.ResourceAlreadyExistsException
		if !errors.As(err, &exists) {
			return nil, fmt.Errorf("failed to create log group: %w", err)
		}
	}

	if desired.RetentionInDays > 0 {
		_, err := p.logsClient.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
			LogGroupName:    &desired.Name,
			RetentionInDays: aws.Int32(int32(desired.RetentionInDays)),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to set retention policy: %w", err)
		}
	}

	newState := LogGroupState{Name: desired.Name}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}
