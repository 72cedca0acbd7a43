package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	pv "github.com/heatstack-io/heatstack/pkg/provider"
)

// DefaultRegion is used when the provider is not configured with one.
const DefaultRegion = "us-east-1"

type Provider struct {
	pv.Unimplemented

	region string

	ec2Client         *ec2.Client
	ecrClient         *ecr.Client
	iamClient         *iam.Client
	s3Client          *s3.Client
	batchClient       *batch.Client
	eventbridgeClient *eventbridge.Client
	logsClient        *cloudwatchlogs.Client
	stsClient         *sts.Client
}

func New() *Provider {
	return &Provider{region: DefaultRegion}
}

func (p *Provider) ensureClients(ctx context.Context) error {
	if p.ec2Client != nil {
		return nil
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(p.region))
	if err != nil {
		return fmt.Errorf("unable to load SDK config: %w", err)
	}

	p.ec2Client = ec2.NewFromConfig(cfg)
	p.ecrClient = ecr.NewFromConfig(cfg)
	p.iamClient = iam.NewFromConfig(cfg)
	p.s3Client = s3.NewFromConfig(cfg)
	p.batchClient = batch.NewFromConfig(cfg)
	p.eventbridgeClient = eventbridge.NewFromConfig(cfg)
	p.logsClient = cloudwatchlogs.NewFromConfig(cfg)
	p.stsClient = sts.NewFromConfig(cfg)

	return nil
}

func (p *Provider) Configure(ctx context.Context, req *pv.ConfigureRequest) (*pv.ConfigureResponse, error) {
	if region := req.Settings["region"]; region != "" {
		p.region = region
	}
	if err := p.ensureClients(ctx); err != nil {
		return &pv.ConfigureResponse{
			Diagnostics: []pv.Diagnostic{
				{
					Severity: pv.SeverityError,
					Summary:  "Failed to load AWS config",
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

	if string(req.DesiredConfigJSON) != string(req.PriorStateJSON) {
		return &pv.PlanResponse{Action: pv.ActionUpdate}, nil
	}

	return &pv.PlanResponse{Action: pv.ActionNoop}, nil
}

func (p *Provider) Apply(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.Type {
	case "aws:EC2.Vpc":
		return p.applyVpc(ctx, req)
	case "aws:EC2.Subnet":
		return p.applySubnet(ctx, req)
	case "aws:EC2.InternetGateway":
		return p.applyInternetGateway(ctx, req)
	case "aws:EC2.RouteTable":
		return p.applyRouteTable(ctx, req)
	case "aws:EC2.RouteTableAssociation":
		return p.applyRouteTableAssociation(ctx, req)
	case "aws:EC2.SecurityGroup":
		return p.applySecurityGroup(ctx, req)

	case "aws:Batch.ComputeEnvironment":
		return p.applyComputeEnvironment(ctx, req)
	case "aws:Batch.JobQueue":
		return p.applyJobQueue(ctx, req)
	case "aws:Batch.JobDefinition":
		return p.applyJobDefinition(ctx, req)

	case "aws:ECR.Repository":
		return p.applyRepository(ctx, req)

	case "aws:IAM.Role":
		return p.applyRole(ctx, req)
	case "aws:IAM.Policy":
		return p.applyPolicy(ctx, req)
	case "aws:IAM.RolePolicyAttachment":
		return p.applyRolePolicyAttachment(ctx, req)

	case "aws:S3.Bucket":
		return p.applyBucket(ctx, req)
	case "aws:S3.PublicAccessBlock":
		return p.applyPublicAccessBlock(ctx, req)
	case "aws:S3.BucketPolicy":
		return p.applyBucketPolicy(ctx, req)

	case "aws:Events.Rule":
		return p.applyRule(ctx, req)
	case "aws:Events.Target":
		return p.applyTarget(ctx, req)

	case "aws:Logs.LogGroup":
		return p.applyLogGroup(ctx, req)
	}

	return nil, fmt.Errorf("unknown resource type: %s", req.Type)
}
