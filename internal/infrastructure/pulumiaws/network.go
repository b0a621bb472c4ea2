// Package pulumiaws realises a [domain.DeploymentGraph] as a Pulumi program
// over the AWS provider and submits it with the Automation API.
package pulumiaws

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/hms-dbmi/dseqr.aws/internal/domain"
)

type network struct {
	vpcID   pulumi.StringOutput
	cidr    string
	subnets []pulumi.StringOutput
}

func (n *network) subnetIDs() pulumi.StringArray {
	ids := make(pulumi.StringArray, 0, len(n.subnets))
	for _, s := range n.subnets {
		ids = append(ids, s)
	}
	return ids
}

// declareNetwork creates the VPC with one public subnet per availability
// zone routed through an internet gateway. No NAT gateways are declared.
// An existing network is joined instead.
func declareNetwork(ctx *pulumi.Context, spec domain.NetworkSpec) (*network, error) {
	if spec.Existing != nil {
		return joinNetwork(ctx, *spec.Existing)
	}

	vpc, err := ec2.NewVpc(ctx, "vpc", &ec2.VpcArgs{
		CidrBlock:          pulumi.String(spec.CIDR),
		EnableDnsHostnames: pulumi.Bool(true),
		EnableDnsSupport:   pulumi.Bool(true),
		Tags:               nameTag(ctx, "vpc"),
	})
	if err != nil {
		return nil, err
	}

	igw, err := ec2.NewInternetGateway(ctx, "igw", &ec2.InternetGatewayArgs{
		VpcId: vpc.ID().ToStringOutput(),
		Tags:  nameTag(ctx, "igw"),
	})
	if err != nil {
		return nil, err
	}

	routes, err := ec2.NewRouteTable(ctx, "public", &ec2.RouteTableArgs{
		VpcId: vpc.ID(),
		Routes: ec2.RouteTableRouteArray{
			&ec2.RouteTableRouteArgs{
				CidrBlock: pulumi.String(domain.AnyIPv4),
				GatewayId: igw.ID().ToStringOutput(),
			},
		},
		Tags: nameTag(ctx, "public"),
	})
	if err != nil {
		return nil, err
	}

	n := &network{vpcID: vpc.ID().ToStringOutput(), cidr: spec.CIDR}
	for i, s := range spec.Subnets {
		name := fmt.Sprintf("public-%d", i)
		subnet, err := ec2.NewSubnet(ctx, name, &ec2.SubnetArgs{
			VpcId:               vpc.ID(),
			CidrBlock:           pulumi.String(s.CIDR),
			AvailabilityZone:    pulumi.String(s.AvailabilityZone),
			MapPublicIpOnLaunch: pulumi.Bool(true),
			Tags:                nameTag(ctx, name),
		})
		if err != nil {
			return nil, err
		}
		if _, err := ec2.NewRouteTableAssociation(ctx, name, &ec2.RouteTableAssociationArgs{
			SubnetId:     subnet.ID().ToStringOutput(),
			RouteTableId: routes.ID(),
		}); err != nil {
			return nil, err
		}
		n.subnets = append(n.subnets, subnet.ID().ToStringOutput())
	}
	return n, nil
}

// joinNetwork reads an existing VPC and its subnets. Nothing is declared.
func joinNetwork(ctx *pulumi.Context, existing domain.ExistingNetwork) (*network, error) {
	vpcID := existing.VPCID
	if vpcID == "" {
		sg, err := ec2.LookupSecurityGroup(ctx, &ec2.LookupSecurityGroupArgs{Id: pulumi.StringRef(existing.SecurityGroupID)})
		if err != nil {
			return nil, errors.Wrapf(err, "look up security group %s", existing.SecurityGroupID)
		}
		vpcID = sg.VpcId
	}

	vpc, err := ec2.LookupVpc(ctx, &ec2.LookupVpcArgs{Id: pulumi.StringRef(vpcID)})
	if err != nil {
		return nil, errors.Wrapf(err, "look up vpc %s", vpcID)
	}

	subnetIDs := existing.SubnetIDs
	if len(subnetIDs) == 0 {
		found, err := ec2.GetSubnets(ctx, &ec2.GetSubnetsArgs{
			Filters: []ec2.GetSubnetsFilter{{Name: "vpc-id", Values: []string{vpcID}}},
		})
		if err != nil {
			return nil, errors.Wrapf(err, "list subnets of vpc %s", vpcID)
		}
		subnetIDs = found.Ids
	}
	if len(subnetIDs) == 0 {
		return nil, errors.WithHint(
			errors.Newf("vpc %s has no subnets", vpcID),
			"set subnet_ids to public subnets of the vpc",
		)
	}

	n := &network{vpcID: pulumi.String(vpcID).ToStringOutput(), cidr: vpc.CidrBlock}
	for _, id := range subnetIDs {
		n.subnets = append(n.subnets, pulumi.String(id).ToStringOutput())
	}
	return n, nil
}

// declareSecurityGroup creates a security group in the network admitting the
// given TCP rules, with unrestricted egress.
func declareSecurityGroup(ctx *pulumi.Context, name, description string, n *network, rules []domain.IngressRule) (*ec2.SecurityGroup, error) {
	ingress := make(ec2.SecurityGroupIngressArray, 0, len(rules))
	for _, r := range rules {
		ingress = append(ingress, &ec2.SecurityGroupIngressArgs{
			Protocol:    pulumi.String("tcp"),
			FromPort:    pulumi.Int(r.Port),
			ToPort:      pulumi.Int(r.Port),
			CidrBlocks:  pulumi.StringArray{pulumi.String(r.CIDR)},
			Description: pulumi.String(r.Description),
		})
	}
	return ec2.NewSecurityGroup(ctx, name, &ec2.SecurityGroupArgs{
		VpcId:       n.vpcID,
		Description: pulumi.String(description),
		Ingress:     ingress,
		Egress: ec2.SecurityGroupEgressArray{
			&ec2.SecurityGroupEgressArgs{
				Protocol:   pulumi.String("-1"),
				FromPort:   pulumi.Int(0),
				ToPort:     pulumi.Int(0),
				CidrBlocks: pulumi.StringArray{pulumi.String(domain.AnyIPv4)},
			},
		},
		Tags: nameTag(ctx, name),
	})
}

func nameTag(ctx *pulumi.Context, name string) pulumi.StringMap {
	return pulumi.StringMap{
		"Name": pulumi.Sprintf("%s-%s-%s", ctx.Project(), ctx.Stack(), name),
	}
}
