package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	pv "github.com/heatstack-io/heatstack/pkg/provider"

	"github.com/heatstack-io/heatstack/internal/schedule"
)

type RuleConfig struct {
	Name               string            `json:"name"`
	ScheduleExpression string            `json:"scheduleExpression"` // cron(...) or rate(...)
	State              string            `json:"state"`              // ENABLED or DISABLED
	Description        string            `json:"description"`
	Tags               map[string]string `json:"tags"`
}

type RuleState struct {
	Arn  string `json:"arn"`
	Name string `json:"name"`
}

func (p *Provider) applyRule(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior RuleState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.Name != "" {
			_, err := p.eventbridgeClient.DeleteRule(ctx, &eventbridge.DeleteRuleInput{Name: &prior.Name})
			if err != nil {
				return nil, fmt.Errorf("failed to delete rule: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired RuleConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	if err := schedule.Validate(desired.ScheduleExpression); err != nil {
		return nil, fmt.Errorf("rule %q: %w", desired.Name, err)
	}

	state := types.RuleStateEnabled
	if desired.State == "DISABLED" {
		state = types.RuleStateDisabled
	}

	input := &eventbridge.PutRuleInput{
		Name:               &desired.Name,
		ScheduleExpression: &desired.ScheduleExpression,
		State:              state,
	}
	if desired.Description != "" {
		input.Description = &desired.Description
	}
	for k, v := range desired.Tags {
		input.Tags = append(input.Tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	resp, err := p.eventbridgeClient.PutRule(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to put rule: %w", err)
	}

	newState := RuleState{
		Arn:  aws.ToString(resp.RuleArn),
		Name: desired.Name,
	}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}

type TargetConfig struct {
	RuleName      string `json:"ruleName"`
	TargetID      string `json:"targetId"`
	Arn           string `json:"arn"`     // job queue ARN for Batch targets
	RoleArn       string `json:"roleArn"` // role EventBridge assumes to submit
	JobDefinition string `json:"jobDefinition"`
	JobName       string `json:"jobName"`
	Input         string `json:"input"`
	RetryAttempts int    `json:"retryAttempts"`
}

type TargetState struct {
	RuleName string `json:"ruleName"`
	TargetID string `json:"targetId"`
}

func (p *Provider) applyTarget(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior TargetState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.RuleName != "" {
			_, err := p.eventbridgeClient.RemoveTargets(ctx, &eventbridge.RemoveTargetsInput{
				Rule: &prior.RuleName,
				Ids:  []string{prior.TargetID},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to remove targets: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired TargetConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}
	if desired.TargetID == "" {
		desired.TargetID = desired.RuleName + "-target"
	}

	target := types.Target{
		Id:  &desired.TargetID,
		Arn: &desired.Arn,
	}
	if desired.RoleArn != "" {
		target.RoleArn = &desired.RoleArn
	}
	if desired.JobDefinition != "" {
		target.BatchParameters = &types.BatchParameters{
			JobDefinition: &desired.JobDefinition,
			JobName:       &desired.JobName,
		}
		if desired.RetryAttempts > 0 {
			target.BatchParameters.RetryStrategy = &types.BatchRetryStrategy{
				Attempts: int32(desired.RetryAttempts),
			}
		}
	}
	if desired.Input != "" {
		target.Input = &desired.Input
	}

	resp, err := p.eventbridgeClient.PutTargets(ctx, &eventbridge.PutTargetsInput{
		Rule:    &desired.RuleName,
		Targets: []types.Target{target},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put targets: %w", err)
	}
	if resp.FailedEntryCount > 0 && len(resp.FailedEntries) > 0 {
		entry := resp.FailedEntries[0]
		return nil, fmt.Errorf("failed to put target %s: %s: %s",
			aws.ToString(entry.TargetId), aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
	}

	newState := TargetState{
		RuleName: desired.RuleName,
		TargetID: desired.TargetID,
	}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}
