package pulumiaws

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/efs"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/hms-dbmi/dseqr.aws/internal/domain"
)

// declareStorage creates the owned file system with its mount targets, or
// refers to the imported one, and grants NFS ingress according to the
// storage's ingress policy. It returns the file system id.
func declareStorage(ctx *pulumi.Context, n *network, compute *ec2.SecurityGroup, ref domain.SharedStorageRef) (pulumi.StringOutput, error) {
	if !ref.Owned {
		if err := grantStorageIngress(ctx, pulumi.String(ref.SecurityBoundaryID), n, compute, ref.Ingress); err != nil {
			return pulumi.StringOutput{}, err
		}
		return pulumi.String(ref.ID).ToStringOutput(), nil
	}

	decl := ref.Declaration
	fs, err := efs.NewFileSystem(ctx, "file-system", &efs.FileSystemArgs{
		Encrypted: pulumi.Bool(decl.Encrypted),
		LifecyclePolicies: efs.FileSystemLifecyclePolicyArray{
			&efs.FileSystemLifecyclePolicyArgs{
				TransitionToIa: pulumi.String(decl.TransitionToIA),
			},
		},
		Tags: nameTag(ctx, "file-system"),
	}, pulumi.RetainOnDelete(decl.Retain))
	if err != nil {
		return pulumi.StringOutput{}, err
	}

	sg, err := declareSecurityGroup(ctx, "file-system", "Shared storage mount targets", n, nil)
	if err != nil {
		return pulumi.StringOutput{}, err
	}
	if err := grantStorageIngress(ctx, sg.ID(), n, compute, ref.Ingress); err != nil {
		return pulumi.StringOutput{}, err
	}

	for i, subnet := range n.subnets {
		if _, err := efs.NewMountTarget(ctx, fmt.Sprintf("mount-target-%d", i), &efs.MountTargetArgs{
			FileSystemId:   fs.ID(),
			SubnetId:       subnet,
			SecurityGroups: pulumi.StringArray{sg.ID()},
		}); err != nil {
			return pulumi.StringOutput{}, err
		}
	}

	if decl.AccessPoint {
		if _, err := efs.NewAccessPoint(ctx, "access-point", &efs.AccessPointArgs{
			FileSystemId: fs.ID(),
			Tags:         nameTag(ctx, "access-point"),
		}); err != nil {
			return pulumi.StringOutput{}, err
		}
	}

	return fs.ID().ToStringOutput(), nil
}

// grantStorageIngress admits NFS into group. The source is the network
// CIDR, any address, or the compute security group, per policy.
func grantStorageIngress(ctx *pulumi.Context, group pulumi.StringInput, n *network, compute *ec2.SecurityGroup, ingress domain.StorageIngress) error {
	args := &ec2.SecurityGroupRuleArgs{
		Type:            pulumi.String("ingress"),
		Protocol:        pulumi.String("tcp"),
		FromPort:        pulumi.Int(ingress.Port),
		ToPort:          pulumi.Int(ingress.Port),
		SecurityGroupId: group,
	}
	switch ingress.Policy {
	case domain.StorageIngressAnywhere:
		args.CidrBlocks = pulumi.StringArray{pulumi.String(domain.AnyIPv4)}
		args.Description = pulumi.String("NFS from anywhere")
	case domain.StorageIngressCompute:
		args.SourceSecurityGroupId = compute.ID().ToStringOutput()
		args.Description = pulumi.String("NFS from compute")
	default:
		args.CidrBlocks = pulumi.StringArray{pulumi.String(n.cidr)}
		args.Description = pulumi.String("NFS from the deployment network")
	}
	_, err := ec2.NewSecurityGroupRule(ctx, "nfs-ingress", args)
	return err
}
