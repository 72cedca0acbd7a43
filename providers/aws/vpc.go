package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	pv "github.com/heatstack-io/heatstack/pkg/provider"
)

type VpcConfig struct {
	CidrBlock          string            `json:"cidrBlock"`
	EnableDnsSupport   bool              `json:"enableDnsSupport"`
	EnableDnsHostnames bool              `json:"enableDnsHostnames"`
	Tags               map[string]string `json:"tags"`
}

type VpcState struct {
	ID        string `json:"id"`
	CidrBlock string `json:"cidrBlock"`
}

func (p *Provider) applyVpc(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior VpcState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ID != "" {
			_, err := p.ec2Client.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: &prior.ID})
			if err != nil {
				return nil, fmt.Errorf("failed to delete VPC: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired VpcConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	resp, err := p.ec2Client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock: &desired.CidrBlock,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create VPC: %w", err)
	}
	vpcID := *resp.Vpc.VpcId

	if desired.EnableDnsSupport {
		_, _ = p.ec2Client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:            &vpcID,
			EnableDnsSupport: &types.AttributeBooleanValue{Value: aws.Bool(true)},
		})
	}
	if desired.EnableDnsHostnames {
		_, _ = p.ec2Client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:              &vpcID,
			EnableDnsHostnames: &types.AttributeBooleanValue{Value: aws.Bool(true)},
		})
	}

	p.tagResources(ctx, desired.Tags, vpcID)

	newState := VpcState{
		ID:        vpcID,
		CidrBlock: *resp.Vpc.CidrBlock,
	}
	stateJSON, _ := json.Marshal(newState)

	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}

type SubnetConfig struct {
	VpcID               string            `json:"vpcId"`
	CidrBlock           string            `json:"cidrBlock"`
	AvailabilityZone    string            `json:"availabilityZone"`
	MapPublicIpOnLaunch bool              `json:"mapPublicIpOnLaunch"`
	Tags                map[string]string `json:"tags"`
}

type SubnetState struct {
	ID    string `json:"id"`
	VpcID string `json:"vpcId"`
}

func (p *Provider) applySubnet(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior SubnetState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ID != "" {
			_, err := p.ec2Client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: &prior.ID})
			if err != nil {
				return nil, fmt.Errorf("failed to delete subnet: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired SubnetConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	input := &ec2.CreateSubnetInput{
		VpcId:     &desired.VpcID,
		CidrBlock: &desired.CidrBlock,
	}
	if desired.AvailabilityZone != "" {
		input.AvailabilityZone = &desired.AvailabilityZone
	}

	resp, err := p.ec2Client.CreateSubnet(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create subnet: %w", err)
	}
	subnetID := *resp.Subnet.SubnetId

	if desired.MapPublicIpOnLaunch {
		_, _ = p.ec2Client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            &subnetID,
			MapPublicIpOnLaunch: &types.AttributeBooleanValue{Value: aws.Bool(true)},
		})
	}

	p.tagResources(ctx, desired.Tags, subnetID)

	newState := SubnetState{
		ID:    subnetID,
		VpcID: *resp.Subnet.VpcId,
	}
	stateJSON, _ := json.Marshal(newState)

	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}

type InternetGatewayConfig struct {
	VpcID string            `json:"vpcId"`
	Tags  map[string]string `json:"tags"`
}

type InternetGatewayState struct {
	ID    string `json:"id"`
	VpcID string `json:"vpcId"`
}

func (p *Provider) applyInternetGateway(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior InternetGatewayState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior: %w", err)
		}
		if prior.ID != "" {
			if prior.VpcID != "" {
				_, _ = p.ec2Client.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
					InternetGatewayId: &prior.ID,
					VpcId:             &prior.VpcID,
				})
			}
			_, err := p.ec2Client.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{InternetGatewayId: &prior.ID})
			if err != nil {
				return nil, fmt.Errorf("failed to delete IGW: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired InternetGatewayConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	resp, err := p.ec2Client.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to create IGW: %w", err)
	}
	igwID := *resp.InternetGateway.InternetGatewayId

	if desired.VpcID != "" {
		_, err := p.ec2Client.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
			InternetGatewayId: &igwID,
			VpcId:             &desired.VpcID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to attach IGW: %w", err)
		}
	}

	p.tagResources(ctx, desired.Tags, igwID)

	newState := InternetGatewayState{ID: igwID, VpcID: desired.VpcID}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}

type RouteConfig struct {
	DestinationCidrBlock string  `json:"destinationCidrBlock"`
	GatewayID            *string `json:"gatewayId"`
	NatGatewayID         *string `json:"natGatewayId"`
}

type RouteTableConfig struct {
	VpcID  string            `json:"vpcId"`
	Routes []RouteConfig     `json:"routes"`
	Tags   map[string]string `json:"tags"`
}

type RouteTableState struct {
	ID string `json:"id"`
}

func (p *Provider) applyRouteTable(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior RouteTableState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err == nil && prior.ID != "" {
			_, err := p.ec2Client.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{RouteTableId: &prior.ID})
			if err != nil {
				return nil, fmt.Errorf("failed to delete route table: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired RouteTableConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	resp, err := p.ec2Client.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{VpcId: &desired.VpcID})
	if err != nil {
		return nil, fmt.Errorf("failed to create route table: %w", err)
	}
	rtID := *resp.RouteTable.RouteTableId

	for _, route := range desired.Routes {
		input := &ec2.CreateRouteInput{
			RouteTableId:         &rtID,
			DestinationCidrBlock: &route.DestinationCidrBlock,
		}
		if route.GatewayID != nil {
			input.GatewayId = route.GatewayID
		}
		if route.NatGatewayID != nil {
			input.NatGatewayId = route.NatGatewayID
		}
		if _, err := p.ec2Client.CreateRoute(ctx, input); err != nil {
			return nil, fmt.Errorf("failed to create route %s: %w", route.DestinationCidrBlock, err)
		}
	}

	p.tagResources(ctx, desired.Tags, rtID)

	newState := RouteTableState{ID: rtID}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}

type RouteTableAssociationConfig struct {
	RouteTableID string `json:"routeTableId"`
	SubnetID     string `json:"subnetId"`
}

type RouteTableAssociationState struct {
	ID           string `json:"id"`
	RouteTableID string `json:"routeTableId"`
	SubnetID     string `json:"subnetId"`
}

func (p *Provider) applyRouteTableAssociation(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior RouteTableAssociationState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err == nil && prior.ID != "" {
			_, err := p.ec2Client.DisassociateRouteTable(ctx, &ec2.DisassociateRouteTableInput{
				AssociationId: &prior.ID,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to disassociate route table: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired RouteTableAssociationConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	resp, err := p.ec2Client.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
		RouteTableId: &desired.RouteTableID,
		SubnetId:     &desired.SubnetID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to associate route table: %w", err)
	}

	newState := RouteTableAssociationState{
		ID:           *resp.AssociationId,
		RouteTableID: desired.RouteTableID,
		SubnetID:     desired.SubnetID,
	}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}

type SecurityGroupConfig struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	VpcID       string              `json:"vpcId"`
	Ingress     []SecurityGroupRule `json:"ingress"`
	Egress      []SecurityGroupRule `json:"egress"`
	Tags        map[string]string   `json:"tags"`
}

type SecurityGroupRule struct {
	FromPort   int      `json:"fromPort"`
	ToPort     int      `json:"toPort"`
	Protocol   string   `json:"protocol"` // "-1" means all
	CidrBlocks []string `json:"cidrBlocks"`
}

type SecurityGroupState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (p *Provider) applySecurityGroup(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredConfigJSON == nil {
		var prior SecurityGroupState
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ID != "" {
			_, err := p.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: &prior.ID})
			if err != nil {
				return nil, fmt.Errorf("failed to delete security group: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired SecurityGroupConfig
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	input := &ec2.CreateSecurityGroupInput{
		GroupName:   &desired.Name,
		Description: &desired.Description,
	}
	if desired.VpcID != "" {
		input.VpcId = &desired.VpcID
	}

	resp, err := p.ec2Client.CreateSecurityGroup(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create security group: %w", err)
	}
	groupID := *resp.GroupId

	if len(desired.Ingress) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       &groupID,
			IpPermissions: toIPPermissions(desired.Ingress),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to authorize ingress: %w", err)
		}
	}

	// EC2 creates a default allow-all egress rule; only touch egress when
	// the declaration narrows it.
	if len(desired.Egress) > 0 && !isAllowAllEgress(desired.Egress) {
		_, err := p.ec2Client.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:       &groupID,
			IpPermissions: toIPPermissions(desired.Egress),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to authorize egress: %w", err)
		}
	}

	p.tagResources(ctx, desired.Tags, groupID)

	newState := SecurityGroupState{
		ID:   groupID,
		Name: desired.Name,
	}
	stateJSON, _ := json.Marshal(newState)

	return &pv.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func isAllowAllEgress(rules []SecurityGroupRule) bool {
	if len(rules) != 1 {
		return false
	}
	r := rules[0]
	return r.Protocol == "-1" && len(r.CidrBlocks) == 1 && r.CidrBlocks[0] == "0.0.0.0/0"
}

func toIPPermissions(rules []SecurityGroupRule) []types.IpPermission {
	var perms []types.IpPermission
	for _, rule := range rules {
		var ipRanges []types.IpRange
		for _, cidr := range rule.CidrBlocks {
			ipRanges = append(ipRanges, types.IpRange{CidrIp: aws.String(cidr)})
		}
		perm := types.IpPermission{
			IpProtocol: aws.String(rule.Protocol),
			IpRanges:   ipRanges,
		}
		if rule.Protocol != "-1" {
			perm.FromPort = aws.Int32(int32(rule.FromPort))
			perm.ToPort = aws.Int32(int32(rule.ToPort))
		}
		perms = append(perms, perm)
	}
	return perms
}

func (p *Provider) tagResources(ctx context.Context, tags map[string]string, ids ...string) {
	if len(tags) == 0 {
		return
	}
	var ec2Tags []types.Tag
	for k, v := range tags {
		ec2Tags = append(ec2Tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	_, _ = p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: ids,
		Tags:      ec2Tags,
	})
}
