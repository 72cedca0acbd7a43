package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
	pv "github.com/heatstack-io/heatstack/pkg/provider"
)

type ComputeEnvironmentConfig struct {
	Name             string            `json:"name"`
	Type             string            `json:"type"`        // MANAGED or UNMANAGED
	ComputeType      string            `json:"computeType"` // FARGATE, FARGATE_SPOT, EC2
	MaxVCpus         int               `json:"maxVCpus"`
	Subnets          []string          `json:"subnets"`
	SecurityGroupIDs []string          `json:"securityGroupIds"`
	ServiceRoleArn   string            `json:"serviceRoleArn"`
	Tags             map[string]string `json:"tags"`
}

type ComputeEnvironmentState struct {
	Arn  string `json:"arn"`
	Name string `json:"name"`
}

func (p *Provider) applyComputeEnvironment(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior ComputeEnvironmentState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.Name != "" {
			// A compute environment must be DISABLED before deletion.
			_, err := p.batchClient.UpdateComputeEnvironment(ctx, &batch.UpdateComputeEnvironmentInput{
				ComputeEnvironment: &prior.Name,
				State:              types.CEStateDisabled,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to disable compute environment: %w", err)
			}
			_, err = p.batchClient.DeleteComputeEnvironment(ctx, &batch.DeleteComputeEnvironmentInput{
				ComputeEnvironment: &prior.Name,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to delete compute environment: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired ComputeEnvironmentConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}
	if len(desired.Subnets) == 0 {
		return nil, fmt.Errorf("compute environment %q requires at least one subnet", desired.Name)
	}

	ceType := types.CETypeManaged
	if desired.Type == "UNMANAGED" {
		ceType = types.CETypeUnmanaged
	}

	input := &batch.CreateComputeEnvironmentInput{
		ComputeEnvironmentName: &desired.Name,
		Type:                   ceType,
		State:                  types.CEStateEnabled,
		ComputeResources: &types.ComputeResource{
			Type:             types.CRType(desired.ComputeType),
			MaxvCpus:         aws.Int32(int32(desired.MaxVCpus)),
			Subnets:          desired.Subnets,
			SecurityGroupIds: desired.SecurityGroupIDs,
		},
	}
	if desired.ServiceRoleArn != "" {
		input.ServiceRole = &desired.ServiceRoleArn
	}
	if len(desired.Tags) > 0 {
		input.Tags = desired.Tags
	}

	resp, err := p.batchClient.CreateComputeEnvironment(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute environment: %w", err)
	}

	newState := ComputeEnvironmentState{
		Arn:  aws.ToString(resp.ComputeEnvironmentArn),
		Name: aws.ToString(resp.ComputeEnvironmentName),
	}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}

type JobQueueConfig struct {
	Name                string            `json:"name"`
	State               string            `json:"state"` // ENABLED or DISABLED
	Priority            int               `json:"priority"`
	ComputeEnvironments []string          `json:"computeEnvironments"` // ordered, highest preference first
	Tags                map[string]string `json:"tags"`
}

type JobQueueState struct {
	Arn  string `json:"arn"`
	Name string `json:"name"`
}

func (p *Provider) applyJobQueue(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior JobQueueState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.Name != "" {
			_, err := p.batchClient.UpdateJobQueue(ctx, &batch.UpdateJobQueueInput{
				JobQueue: &prior.Name,
				State:    types.JQStateDisabled,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to disable job queue: %w", err)
			}
			_, err = p.batchClient.DeleteJobQueue(ctx, &batch.DeleteJobQueueInput{JobQueue: &prior.Name})
			if err != nil {
				return nil, fmt.Errorf("failed to delete job queue: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired JobQueueConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}
	if len(desired.ComputeEnvironments) == 0 {
		return nil, fmt.Errorf("job queue %q requires at least one compute environment", desired.Name)
	}

	var order []types.ComputeEnvironmentOrder
	for i, ceArn := range desired.ComputeEnvironments {
		order = append(order, types.ComputeEnvironmentOrder{
			Order:              aws.Int32(int32(i + 1)),
			ComputeEnvironment: aws.String(ceArn),
		})
	}

	state := types.JQStateEnabled
	if desired.State == "DISABLED" {
		state = types.JQStateDisabled
	}

	input := &batch.CreateJobQueueInput{
		JobQueueName:            &desired.Name,
		State:                   state,
		Priority:                aws.Int32(int32(desired.Priority)),
		ComputeEnvironmentOrder: order,
	}
	if len(desired.Tags) > 0 {
		input.Tags = desired.Tags
	}

	resp, err := p.batchClient.CreateJobQueue(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create job queue: %w", err)
	}

	newState := JobQueueState{
		Arn:  aws.ToString(resp.JobQueueArn),
		Name: aws.ToString(resp.JobQueueName),
	}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}

type JobDefinitionConfig struct {
	Name                 string            `json:"name"`
	Image                string            `json:"image"`
	VCpus                float64           `json:"vcpus"`
	MemoryMiB            int               `json:"memoryMiB"`
	Command              []string          `json:"command"`
	JobRoleArn           string            `json:"jobRoleArn"`
	ExecutionRoleArn     string            `json:"executionRoleArn"`
	PlatformCapabilities []string          `json:"platformCapabilities"` // e.g. FARGATE
	AssignPublicIp       bool              `json:"assignPublicIp"`
	LogGroup             string            `json:"logGroup"`
	Environment          map[string]string `json:"environment"`
	Tags                 map[string]string `json:"tags"`
}

type JobDefinitionState struct {
	Arn      string `json:"arn"`
	Name     string `json:"name"`
	Revision int    `json:"revision"`
}

func (p *Provider) applyJobDefinition(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior JobDefinitionState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.Name != "" {
			defRef := fmt.Sprintf("%s:%d", prior.Name, prior.Revision)
			_, err := p.batchClient.DeregisterJobDefinition(ctx, &batch.DeregisterJobDefinitionInput{
				JobDefinition: &defRef,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to deregister job definition: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired JobDefinitionConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}
	if desired.Image == "" {
		return nil, fmt.Errorf("job definition %q requires an image", desired.Name)
	}

	// Fargate sizes resources from requirements, not the legacy
	// vcpus/memory container fields.
	resources := []types.ResourceRequirement{
		{Type: types.ResourceTypeVcpu, Value: aws.String(strconv.FormatFloat(desired.VCpus, 'f', -1, 64))},
		{Type: types.ResourceTypeMemory, Value: aws.String(strconv.Itoa(desired.MemoryMiB))},
	}

	container := &types.ContainerProperties{
		Image:                &desired.Image,
		ResourceRequirements: resources,
	}
	if len(desired.Command) > 0 {
		container.Command = desired.Command
	}
	if desired.JobRoleArn != "" {
		container.JobRoleArn = &desired.JobRoleArn
	}
	if desired.ExecutionRoleArn != "" {
		container.ExecutionRoleArn = &desired.ExecutionRoleArn
	}
	if desired.AssignPublicIp {
		container.NetworkConfiguration = &types.NetworkConfiguration{
			AssignPublicIp: types.AssignPublicIpEnabled,
		}
	}
	if desired.LogGroup != "" {
		container.LogConfiguration = &types.LogConfiguration{
			LogDriver: types.LogDriverAwslogs,
			Options:   map[string]string{"awslogs-group": desired.LogGroup},
		}
	}
	if len(desired.Environment) > 0 {
		for k, v := range desired.Environment {
			container.Environment = append(container.Environment, types.KeyValuePair{
				Name:  aws.String(k),
				Value: aws.String(v),
			})
		}
	}

	input := &batch.RegisterJobDefinitionInput{
		JobDefinitionName:   &desired.Name,
		Type:                types.JobDefinitionTypeContainer,
		ContainerProperties: container,
	}
	for _, cap := range desired.PlatformCapabilities {
		input.PlatformCapabilities = append(input.PlatformCapabilities, types.PlatformCapability(cap))
	}
	if len(desired.Tags) > 0 {
		input.Tags = desired.Tags
	}

	resp, err := p.batchClient.RegisterJobDefinition(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to register job definition: %w", err)
	}

	newState := JobDefinitionState{
		Arn:      aws.ToString(resp.JobDefinitionArn),
		Name:     aws.ToString(resp.JobDefinitionName),
		Revision: int(aws.ToInt32(resp.Revision)),
	}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}
