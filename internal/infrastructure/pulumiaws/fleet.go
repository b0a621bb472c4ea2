package pulumiaws

import (
	"encoding/base64"
	"strconv"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/autoscaling"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/lb"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/hms-dbmi/dseqr.aws/internal/domain"
)

type fleetOutputs struct {
	dnsName pulumi.StringOutput
	zoneID  pulumi.StringOutput
}

// declareFleet creates the launch template, autoscaling group, scaling
// policy, load balancer and listeners. certificateArn is only read when the
// listener terminates TLS.
func declareFleet(
	ctx *pulumi.Context,
	n *network,
	compute *ec2.SecurityGroup,
	spec *domain.FleetTopology,
	userData pulumi.StringOutput,
	certificateArn pulumi.StringOutput,
) (fleetOutputs, error) {
	lbRules := []domain.IngressRule{{Port: spec.Listener.Port, CIDR: spec.LoadBalancer.IngressCIDR, Description: "Allow inbound web traffic"}}
	if r := spec.LoadBalancer.Redirect; r != nil {
		lbRules = append(lbRules, domain.IngressRule{Port: r.FromPort, CIDR: spec.LoadBalancer.IngressCIDR, Description: "Allow inbound HTTP for redirect"})
	}
	lbGroup, err := declareSecurityGroup(ctx, "load-balancer", "Fleet load balancer", n, lbRules)
	if err != nil {
		return fleetOutputs{}, err
	}
	if _, err := ec2.NewSecurityGroupRule(ctx, "targets-from-load-balancer", &ec2.SecurityGroupRuleArgs{
		Type:                  pulumi.String("ingress"),
		Protocol:              pulumi.String("tcp"),
		FromPort:              pulumi.Int(spec.Listener.TargetPort),
		ToPort:                pulumi.Int(spec.Listener.TargetPort),
		SecurityGroupId:       compute.ID(),
		SourceSecurityGroupId: lbGroup.ID().ToStringOutput(),
		Description:           pulumi.String("Load balancer to fleet members"),
	}); err != nil {
		return fleetOutputs{}, err
	}

	sg := spec.ScalingGroup
	m := sg.Machine
	template, err := ec2.NewLaunchTemplate(ctx, "launch-template", &ec2.LaunchTemplateArgs{
		ImageId:      pulumi.String(m.ImageID),
		InstanceType: pulumi.String(m.InstanceType),
		KeyName:      pulumi.String(m.KeyName),
		UserData: userData.ApplyT(func(s string) string {
			return base64.StdEncoding.EncodeToString([]byte(s))
		}).(pulumi.StringOutput),
		BlockDeviceMappings: ec2.LaunchTemplateBlockDeviceMappingArray{
			&ec2.LaunchTemplateBlockDeviceMappingArgs{
				DeviceName: pulumi.String(m.RootDevice.DeviceName),
				Ebs: &ec2.LaunchTemplateBlockDeviceMappingEbsArgs{
					VolumeSize:          pulumi.Int(int(m.RootDevice.VolumeSizeGiB)),
					DeleteOnTermination: pulumi.String("true"),
				},
			},
		},
		NetworkInterfaces: ec2.LaunchTemplateNetworkInterfaceArray{
			&ec2.LaunchTemplateNetworkInterfaceArgs{
				AssociatePublicIpAddress: pulumi.String(strconv.FormatBool(sg.AssociatePublicIP)),
				SecurityGroups:           pulumi.StringArray{compute.ID()},
			},
		},
		InstanceMarketOptions: &ec2.LaunchTemplateInstanceMarketOptionsArgs{
			MarketType: pulumi.String("spot"),
			SpotOptions: &ec2.LaunchTemplateInstanceMarketOptionsSpotOptionsArgs{
				MaxPrice: pulumi.String(sg.SpotPrice),
			},
		},
		TagSpecifications: ec2.LaunchTemplateTagSpecificationArray{
			&ec2.LaunchTemplateTagSpecificationArgs{
				ResourceType: pulumi.String("instance"),
				Tags:         nameTag(ctx, "fleet"),
			},
		},
	})
	if err != nil {
		return fleetOutputs{}, err
	}

	balancer, err := lb.NewLoadBalancer(ctx, domain.LoadBalancerResource, &lb.LoadBalancerArgs{
		Internal:         pulumi.Bool(!spec.LoadBalancer.InternetFacing),
		LoadBalancerType: pulumi.String("application"),
		SecurityGroups:   pulumi.StringArray{lbGroup.ID()},
		Subnets:          n.subnetIDs(),
		Tags:             nameTag(ctx, domain.LoadBalancerResource),
	})
	if err != nil {
		return fleetOutputs{}, err
	}

	l := spec.Listener
	targets, err := lb.NewTargetGroup(ctx, "targets", &lb.TargetGroupArgs{
		Port:       pulumi.Int(l.TargetPort),
		Protocol:   pulumi.String("HTTP"),
		TargetType: pulumi.String("instance"),
		VpcId:      n.vpcID,
		Stickiness: &lb.TargetGroupStickinessArgs{
			Enabled:        pulumi.Bool(l.StickinessDuration > 0),
			Type:           pulumi.String("lb_cookie"),
			CookieDuration: pulumi.Int(int(l.StickinessDuration.Seconds())),
		},
	})
	if err != nil {
		return fleetOutputs{}, err
	}

	listener := &lb.ListenerArgs{
		LoadBalancerArn: balancer.Arn,
		Port:            pulumi.Int(l.Port),
		Protocol:        pulumi.String("HTTP"),
		DefaultActions: lb.ListenerDefaultActionArray{
			&lb.ListenerDefaultActionArgs{
				Type:           pulumi.String("forward"),
				TargetGroupArn: targets.Arn,
			},
		},
	}
	if l.TLS {
		listener.Protocol = pulumi.String("HTTPS")
		listener.CertificateArn = certificateArn
	}
	if _, err := lb.NewListener(ctx, "listener", listener); err != nil {
		return fleetOutputs{}, err
	}

	if r := spec.LoadBalancer.Redirect; r != nil {
		if _, err := lb.NewListener(ctx, "redirect", &lb.ListenerArgs{
			LoadBalancerArn: balancer.Arn,
			Port:            pulumi.Int(r.FromPort),
			Protocol:        pulumi.String("HTTP"),
			DefaultActions: lb.ListenerDefaultActionArray{
				&lb.ListenerDefaultActionArgs{
					Type: pulumi.String("redirect"),
					Redirect: &lb.ListenerDefaultActionRedirectArgs{
						Port:       pulumi.String(strconv.Itoa(r.ToPort)),
						Protocol:   pulumi.String("HTTPS"),
						StatusCode: pulumi.String("HTTP_301"),
					},
				},
			},
		}); err != nil {
			return fleetOutputs{}, err
		}
	}

	group, err := autoscaling.NewGroup(ctx, "fleet", &autoscaling.GroupArgs{
		MinSize:            pulumi.Int(sg.MinCapacity),
		MaxSize:            pulumi.Int(sg.MaxCapacity),
		VpcZoneIdentifiers: n.subnetIDs(),
		LaunchTemplate: &autoscaling.GroupLaunchTemplateArgs{
			Id:      template.ID().ToStringOutput(),
			Version: pulumi.String("$Latest"),
		},
		TargetGroupArns: pulumi.StringArray{targets.Arn},
	})
	if err != nil {
		return fleetOutputs{}, err
	}

	if _, err := autoscaling.NewPolicy(ctx, "cpu-target", &autoscaling.PolicyArgs{
		AutoscalingGroupName: group.Name,
		PolicyType:           pulumi.String("TargetTrackingScaling"),
		TargetTrackingConfiguration: &autoscaling.PolicyTargetTrackingConfigurationArgs{
			PredefinedMetricSpecification: &autoscaling.PolicyTargetTrackingConfigurationPredefinedMetricSpecificationArgs{
				PredefinedMetricType: pulumi.String("ASGAverageCPUUtilization"),
			},
			TargetValue: pulumi.Float64(sg.CPUTargetPercent),
		},
	}); err != nil {
		return fleetOutputs{}, err
	}

	return fleetOutputs{dnsName: balancer.DnsName, zoneID: balancer.ZoneId}, nil
}
