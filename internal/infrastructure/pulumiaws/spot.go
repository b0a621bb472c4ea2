package pulumiaws

import (
	"encoding/json"
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/iam"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/scheduler"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/hms-dbmi/dseqr.aws/internal/domain"
)

const terminateInstancesTarget = "arn:aws:scheduler:::aws-sdk:ec2:terminateInstances"

// declareSpot allocates the static address, launches the interruptible
// instance, associates the two and, when configured, schedules termination.
// It returns the public address.
func declareSpot(
	ctx *pulumi.Context,
	n *network,
	compute *ec2.SecurityGroup,
	spec *domain.SpotTopology,
	userData pulumi.StringOutput,
) (pulumi.StringOutput, error) {
	address, err := ec2.NewEip(ctx, spec.StaticAddress.Name, &ec2.EipArgs{
		Domain: pulumi.String("vpc"),
		Tags:   nameTag(ctx, spec.StaticAddress.Name),
	})
	if err != nil {
		return pulumi.StringOutput{}, err
	}

	m := spec.Instance.Machine
	instance, err := ec2.NewInstance(ctx, "instance", &ec2.InstanceArgs{
		Ami:                 pulumi.String(m.ImageID),
		InstanceType:        pulumi.String(m.InstanceType),
		KeyName:             pulumi.String(m.KeyName),
		SubnetId:            n.subnets[0],
		VpcSecurityGroupIds: pulumi.StringArray{compute.ID()},
		UserData:            userData,
		RootBlockDevice: &ec2.InstanceRootBlockDeviceArgs{
			VolumeSize:          pulumi.Int(int(m.RootDevice.VolumeSizeGiB)),
			DeleteOnTermination: pulumi.Bool(true),
		},
		InstanceMarketOptions: &ec2.InstanceInstanceMarketOptionsArgs{
			MarketType: pulumi.String("spot"),
			SpotOptions: &ec2.InstanceInstanceMarketOptionsSpotOptionsArgs{
				SpotInstanceType:             pulumi.String(spec.Instance.SpotInstanceType),
				InstanceInterruptionBehavior: pulumi.String(spec.Instance.InterruptionBehavior),
			},
		},
		Tags: nameTag(ctx, "instance"),
	})
	if err != nil {
		return pulumi.StringOutput{}, err
	}

	if _, err := ec2.NewEipAssociation(ctx, spec.StaticAddress.Name, &ec2.EipAssociationArgs{
		AllocationId: address.AllocationId,
		InstanceId:   instance.ID().ToStringOutput(),
	}); err != nil {
		return pulumi.StringOutput{}, err
	}

	if spec.Expiry != nil {
		if err := declareExpiry(ctx, instance, spec.Expiry); err != nil {
			return pulumi.StringOutput{}, err
		}
	}
	return address.PublicIp, nil
}

// declareExpiry schedules a one-shot EC2 TerminateInstances call through
// EventBridge Scheduler.
func declareExpiry(ctx *pulumi.Context, instance *ec2.Instance, expiry *domain.Expiry) error {
	assume, err := json.Marshal(map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{{
			"Effect":    "Allow",
			"Principal": map[string]string{"Service": "scheduler.amazonaws.com"},
			"Action":    "sts:AssumeRole",
		}},
	})
	if err != nil {
		return err
	}
	role, err := iam.NewRole(ctx, "expiry", &iam.RoleArgs{
		AssumeRolePolicy: pulumi.String(string(assume)),
		Tags:             nameTag(ctx, "expiry"),
	})
	if err != nil {
		return err
	}

	policy := instance.Arn.ApplyT(func(arn string) (string, error) {
		b, err := json.Marshal(map[string]any{
			"Version": "2012-10-17",
			"Statement": []map[string]any{{
				"Effect":   "Allow",
				"Action":   "ec2:TerminateInstances",
				"Resource": arn,
			}},
		})
		return string(b), err
	}).(pulumi.StringOutput)
	if _, err := iam.NewRolePolicy(ctx, "expiry", &iam.RolePolicyArgs{
		Role:   role.ID(),
		Policy: policy,
	}); err != nil {
		return err
	}

	input := instance.ID().ToStringOutput().ApplyT(func(id string) (string, error) {
		b, err := json.Marshal(map[string][]string{"InstanceIds": {id}})
		return string(b), err
	}).(pulumi.StringOutput)

	_, err = scheduler.NewSchedule(ctx, "expiry", &scheduler.ScheduleArgs{
		ScheduleExpression:         pulumi.String(atExpression(expiry)),
		ScheduleExpressionTimezone: pulumi.String("UTC"),
		FlexibleTimeWindow: &scheduler.ScheduleFlexibleTimeWindowArgs{
			Mode: pulumi.String("OFF"),
		},
		Target: &scheduler.ScheduleTargetArgs{
			Arn:     pulumi.String(terminateInstancesTarget),
			RoleArn: role.Arn,
			Input:   input,
		},
	})
	return err
}

func atExpression(expiry *domain.Expiry) string {
	return fmt.Sprintf("at(%s)", expiry.At.UTC().Format("2006-01-02T15:04:05"))
}
