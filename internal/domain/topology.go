package domain

import (
	"time"

	"github.com/cockroachdb/errors"
)

// AnyIPv4 is the CIDR matching every IPv4 address.
const AnyIPv4 = "0.0.0.0/0"

// SubnetSpec is one public subnet of the deployment network.
type SubnetSpec struct {
	AvailabilityZone string
	CIDR             string
}

// NetworkSpec is the deployment's virtual network. All compute is placed in
// public subnets; no NAT gateways are declared. When Existing is set nothing
// is declared and CIDR and Subnets are empty.
type NetworkSpec struct {
	Region      string
	CIDR        string
	NatGateways int
	Subnets     []SubnetSpec
	Existing    *ExistingNetwork
}

// IngressRule admits TCP traffic on Port from CIDR.
type IngressRule struct {
	Port        int
	CIDR        string
	Description string
}

// SecurityGroupSpec is the compute security group.
type SecurityGroupSpec struct {
	Ingress []IngressRule
}

// BlockDeviceSpec is the root volume of a machine.
type BlockDeviceSpec struct {
	DeviceName    string
	VolumeSizeGiB uint
}

// MachineSpec describes how each compute instance is launched.
type MachineSpec struct {
	InstanceType string
	ImageID      string
	KeyName      string
	RootDevice   BlockDeviceSpec
	UserData     BootstrapScript
}

// ScalingGroupSpec is the fleet's autoscaling group.
type ScalingGroupSpec struct {
	MinCapacity      int
	MaxCapacity      int
	CPUTargetPercent float64
	// SpotPrice is the hourly price ceiling bid for every member.
	SpotPrice         string
	AssociatePublicIP bool
	Machine           MachineSpec
}

// RedirectSpec sends plain HTTP on FromPort to HTTPS on ToPort.
type RedirectSpec struct {
	FromPort int
	ToPort   int
}

// LoadBalancerSpec is the fleet's internet-facing application load balancer.
type LoadBalancerSpec struct {
	InternetFacing bool
	IngressCIDR    string
	Redirect       *RedirectSpec
}

// ListenerSpec forwards Port on the load balancer to TargetPort on the
// fleet members. TLS listeners are bound to the identity certificate.
type ListenerSpec struct {
	Port               int
	TLS                bool
	TargetPort         int
	StickinessDuration time.Duration
}

// FleetTopology is an autoscaling group behind a load balancer.
type FleetTopology struct {
	Network       NetworkSpec
	SecurityGroup SecurityGroupSpec
	ScalingGroup  ScalingGroupSpec
	LoadBalancer  LoadBalancerSpec
	Listener      ListenerSpec
}

// SpotInstanceSpec is the single interruptible instance.
type SpotInstanceSpec struct {
	Machine              MachineSpec
	SpotInstanceType     string
	InterruptionBehavior string
}

// StaticAddressSpec is the address allocated independently of the instance so
// it survives instance replacement.
type StaticAddressSpec struct {
	Name string
}

// Expiry schedules termination of the single instance.
type Expiry struct {
	After time.Duration
	At    time.Time
}

// SpotTopology is one interruptible instance with a static address.
type SpotTopology struct {
	Network       NetworkSpec
	SecurityGroup SecurityGroupSpec
	Instance      SpotInstanceSpec
	StaticAddress StaticAddressSpec
	Expiry        *Expiry
}

// ComputeTopology is a tagged variant: exactly one of Fleet and Spot is set,
// matching Strategy.
type ComputeTopology struct {
	Strategy ComputeStrategy
	Fleet    *FleetTopology
	Spot     *SpotTopology
}

// Validate checks the variant tag agrees with the populated branch.
func (t ComputeTopology) Validate() error {
	switch t.Strategy {
	case ComputeStrategyFleet:
		if t.Fleet == nil || t.Spot != nil {
			return errors.Wrap(ErrInvalidArgument, "fleet topology must carry only the fleet variant")
		}
	case ComputeStrategySpot:
		if t.Spot == nil || t.Fleet != nil {
			return errors.Wrap(ErrInvalidArgument, "spot topology must carry only the spot variant")
		}
	default:
		return errors.Wrapf(ErrInvalidArgument, "unknown compute strategy %q", t.Strategy)
	}
	return nil
}

// Network returns the network of the active variant.
func (t ComputeTopology) Network() NetworkSpec {
	if t.Fleet != nil {
		return t.Fleet.Network
	}
	if t.Spot != nil {
		return t.Spot.Network
	}
	return NetworkSpec{}
}

// Machine returns the launch description of the active variant.
func (t ComputeTopology) Machine() MachineSpec {
	if t.Fleet != nil {
		return t.Fleet.ScalingGroup.Machine
	}
	if t.Spot != nil {
		return t.Spot.Instance.Machine
	}
	return MachineSpec{}
}

// Endpoint returns the public endpoint the active variant exposes.
func (t ComputeTopology) Endpoint() PublicEndpoint {
	switch t.Strategy {
	case ComputeStrategyFleet:
		return PublicEndpoint{Kind: EndpointAlias, Value: LoadBalancerResource}
	case ComputeStrategySpot:
		return PublicEndpoint{Kind: EndpointStaticAddress, Value: StaticAddressResource}
	}
	return PublicEndpoint{}
}
