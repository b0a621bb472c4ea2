package domain

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// Fixed parameters of the fleet strategy.
const (
	FleetMinCapacity      = 2
	FleetMaxCapacity      = 4
	FleetCPUTargetPercent = 70
	// FleetSpotPrice is the on-demand price of an m5.xlarge, used as the
	// ceiling bid for fleet members.
	FleetSpotPrice        = "0.192"
	FleetStickiness       = 3 * 24 * time.Hour
	RootDeviceName        = "/dev/sda1"
	NetworkCIDR           = "10.0.0.0/16"
	LoadBalancerResource  = "load-balancer"
	StaticAddressResource = "static-address"
)

// TopologyBuilder maps a validated configuration to one compute topology.
type TopologyBuilder interface {
	Build(cfg DeploymentConfig, storage SharedStorageRef, script BootstrapScript) (ComputeTopology, error)
}

// TopologyFactory returns the builder for a compute strategy.
type TopologyFactory interface {
	Builder(strategy ComputeStrategy) (TopologyBuilder, error)
}

// DefaultTopologyFactory creates the built-in builders. Now is the clock used
// to anchor instance expiry; nil means time.Now.
type DefaultTopologyFactory struct {
	Now func() time.Time
}

func (f DefaultTopologyFactory) Builder(strategy ComputeStrategy) (TopologyBuilder, error) {
	switch strategy {
	case ComputeStrategyFleet:
		return &FleetBuilder{}, nil
	case ComputeStrategySpot:
		return &SpotBuilder{Now: f.Now}, nil
	default:
		return nil, errors.Wrapf(ErrInvalidArgument, "unsupported compute strategy %q", strategy)
	}
}

// FleetBuilder declares an autoscaling group behind a load balancer.
type FleetBuilder struct{}

func (b *FleetBuilder) Build(cfg DeploymentConfig, _ SharedStorageRef, script BootstrapScript) (ComputeTopology, error) {
	lb := LoadBalancerSpec{InternetFacing: true, IngressCIDR: AnyIPv4}
	listener := ListenerSpec{Port: 80, TargetPort: 80, StickinessDuration: FleetStickiness}
	// A TLS listener needs a certificate, and a certificate needs a domain.
	if cfg.HasDomain() {
		lb.Redirect = &RedirectSpec{FromPort: 80, ToPort: 443}
		listener.Port = 443
		listener.TLS = true
	}

	return ComputeTopology{
		Strategy: ComputeStrategyFleet,
		Fleet: &FleetTopology{
			Network: deploymentNetwork(cfg, 2),
			SecurityGroup: SecurityGroupSpec{Ingress: []IngressRule{
				{Port: 22, CIDR: AnyIPv4, Description: "Allow inbound SSH"},
			}},
			ScalingGroup: ScalingGroupSpec{
				MinCapacity:       FleetMinCapacity,
				MaxCapacity:       FleetMaxCapacity,
				CPUTargetPercent:  FleetCPUTargetPercent,
				SpotPrice:         FleetSpotPrice,
				AssociatePublicIP: true,
				Machine:           machine(cfg, script),
			},
			LoadBalancer: lb,
			Listener:     listener,
		},
	}, nil
}

// SpotBuilder declares one interruptible instance with a static address.
type SpotBuilder struct {
	Now func() time.Time
}

func (b *SpotBuilder) Build(cfg DeploymentConfig, _ SharedStorageRef, script BootstrapScript) (ComputeTopology, error) {
	spot := &SpotTopology{
		Network: deploymentNetwork(cfg, 1),
		SecurityGroup: SecurityGroupSpec{Ingress: []IngressRule{
			{Port: 443, CIDR: AnyIPv4, Description: "Allow inbound HTTPS"},
			{Port: 80, CIDR: AnyIPv4, Description: "Allow inbound HTTP"},
			{Port: 22, CIDR: AnyIPv4, Description: "Allow inbound SSH"},
		}},
		Instance: SpotInstanceSpec{
			Machine:              machine(cfg, script),
			SpotInstanceType:     "one-time",
			InterruptionBehavior: "terminate",
		},
		StaticAddress: StaticAddressSpec{Name: StaticAddressResource},
	}
	if cfg.ExpireAfterHours > 0 {
		after := time.Duration(cfg.ExpireAfterHours) * time.Hour
		spot.Expiry = &Expiry{After: after, At: b.now().Add(after)}
	}
	return ComputeTopology{Strategy: ComputeStrategySpot, Spot: spot}, nil
}

func (b *SpotBuilder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func machine(cfg DeploymentConfig, script BootstrapScript) MachineSpec {
	return MachineSpec{
		InstanceType: cfg.InstanceType,
		ImageID:      cfg.ImageID,
		KeyName:      cfg.SSHKeyName,
		RootDevice:   BlockDeviceSpec{DeviceName: RootDeviceName, VolumeSizeGiB: cfg.VolumeSizeGiB},
		UserData:     script,
	}
}

// deploymentNetwork joins the configured VPC, or the VPC of an imported file
// system so its mount targets stay reachable, and otherwise declares a new
// public network.
func deploymentNetwork(cfg DeploymentConfig, azCount int) NetworkSpec {
	switch {
	case cfg.Network != nil:
		existing := *cfg.Network
		existing.SubnetIDs = append([]string(nil), cfg.Network.SubnetIDs...)
		return NetworkSpec{Region: cfg.Region, Existing: &existing}
	case cfg.SharedStorage != nil:
		return NetworkSpec{Region: cfg.Region, Existing: &ExistingNetwork{SecurityGroupID: cfg.SharedStorage.SecurityGroupID}}
	}
	return publicNetwork(cfg.Region, azCount)
}

// publicNetwork spreads azCount /24 public subnets over the region's first
// availability zones.
func publicNetwork(region string, azCount int) NetworkSpec {
	n := NetworkSpec{Region: region, CIDR: NetworkCIDR}
	for i := 0; i < azCount; i++ {
		n.Subnets = append(n.Subnets, SubnetSpec{
			AvailabilityZone: fmt.Sprintf("%s%c", region, 'a'+i),
			CIDR:             fmt.Sprintf("10.0.%d.0/24", i),
		})
	}
	return n
}
