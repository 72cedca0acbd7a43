package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
	pv "github.com/heatstack-io/heatstack/pkg/provider"
)

type RoleConfig struct {
	Name              string            `json:"name"`
	AssumeRolePolicy  *PolicyDocument   `json:"assumeRolePolicy"`
	AssumeRoleService string            `json:"assumeRoleService"`
	Description       string            `json:"description"`
	Tags              map[string]string `json:"tags"`
}

type RoleState struct {
	Arn  string `json:"arn"`
	Name string `json:"name"`
}

func (p *Provider) applyRole(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior RoleState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.Name != "" {
			_, err := p.iamClient.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: &prior.Name})
			if err != nil {
				return nil, fmt.Errorf("failed to delete role: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired RoleConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}
	if desired.AssumeRolePolicy == nil && desired.AssumeRoleService != "" {
		desired.AssumeRolePolicy = ServiceAssumeRolePolicy(desired.AssumeRoleService)
	}
	if desired.AssumeRolePolicy == nil {
		return nil, fmt.Errorf("role %q requires an assume role policy", desired.Name)
	}

	assumeDoc, err := desired.AssumeRolePolicy.JSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode assume role policy: %w", err)
	}

	input := &iam.CreateRoleInput{
		RoleName:                 &desired.Name,
		AssumeRolePolicyDocument: &assumeDoc,
	}
	if desired.Description != "" {
		input.Description = &desired.Description
	}
	for k, v := range desired.Tags {
		input.Tags = append(input.Tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	resp, err := p.iamClient.CreateRole(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	newState := RoleState{
		Arn:  aws.ToString(resp.Role.Arn),
		Name: aws.ToString(resp.Role.RoleName),
	}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}

type PolicyConfig struct {
	Name        string            `json:"name"`
	Document    *PolicyDocument   `json:"document"`
	Description string            `json:"description"`
	Tags        map[string]string `json:"tags"`
}

type PolicyState struct {
	Arn  string `json:"arn"`
	Name string `json:"name"`
}

func (p *Provider) applyPolicy(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior PolicyState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.Arn != "" {
			_, err := p.iamClient.DeletePolicy(ctx, &iam.DeletePolicyInput{PolicyArn: &prior.Arn})
			if err != nil {
				return nil, fmt.Errorf("failed to delete policy: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired PolicyConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}
	if desired.Document == nil {
		return nil, fmt.Errorf("policy %q requires a document", desired.Name)
	}

	doc, err := desired.Document.JSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy document: %w", err)
	}

	input := &iam.CreatePolicyInput{
		PolicyName:     &desired.Name,
		PolicyDocument: &doc,
	}
	if desired.Description != "" {
		input.Description = &desired.Description
	}
	for k, v := range desired.Tags {
		input.Tags = append(input.Tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	resp, err := p.iamClient.CreatePolicy(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy: %w", err)
	}

	newState := PolicyState{
		Arn:  aws.ToString(resp.Policy.Arn),
		Name: aws.ToString(resp.Policy.PolicyName),
	}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}

type RolePolicyAttachmentConfig struct {
	RoleName  string `json:"roleName"`
	PolicyArn string `json:"policyArn"`
}

type RolePolicyAttachmentState struct {
	RoleName  string `json:"roleName"`
	PolicyArn string `json:"policyArn"`
}

func (p *Provider) applyRolePolicyAttachment(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior RolePolicyAttachmentState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.RoleName != "" && prior.PolicyArn != "" {
			_, err := p.iamClient.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
				RoleName:  &prior.RoleName,
				PolicyArn: &prior.PolicyArn,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to detach role policy: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired RolePolicyAttachmentConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}
	if desired.RoleName == "" || desired.PolicyArn == "" {
		return nil, fmt.Errorf("role policy attachment requires both roleName and policyArn")
	}

	_, err := p.iamClient.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  &desired.RoleName,
		PolicyArn: &desired.PolicyArn,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach role policy: %w", err)
	}

	newState := RolePolicyAttachmentState{
		RoleName:  desired.RoleName,
		PolicyArn: desired.PolicyArn,
	}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}
