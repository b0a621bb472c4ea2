package domain

// ComputeStrategy identifies the kind of compute topology a deployment uses.
type ComputeStrategy string

const (
	// ComputeStrategyFleet is an autoscaling group behind a load balancer.
	ComputeStrategyFleet ComputeStrategy = "fleet"
	// ComputeStrategySpot is one interruptible instance with a static address.
	ComputeStrategySpot ComputeStrategy = "spot"
)

// StorageIngressPolicy scopes the NFS ingress grant on the shared file system.
type StorageIngressPolicy string

const (
	// StorageIngressNetwork admits NFS traffic from any address in the
	// deployment network.
	StorageIngressNetwork StorageIngressPolicy = "network"
	// StorageIngressAnywhere admits NFS traffic from any IPv4 address.
	StorageIngressAnywhere StorageIngressPolicy = "anywhere"
	// StorageIngressCompute admits NFS traffic only from the compute
	// security group.
	StorageIngressCompute StorageIngressPolicy = "compute"
)

// Recognized raw configuration keys.
const (
	KeyInstanceType    = "instance_type"
	KeyVolumeSize      = "volume_size"
	KeySSHKeyName      = "ssh_key_name"
	KeyDomainName      = "domain_name"
	KeyZoneID          = "zone_id"
	KeyKeepEFS         = "keep_efs"
	KeyEFSID           = "efs_id"
	KeyEFSSecurityGrp  = "efs_sg_id"
	KeyExpireAfter     = "expire_after"
	KeyGetCert         = "get_cert"
	KeyExampleData     = "example_data"
	KeyComputeStrategy = "compute_strategy"
	KeyRegion          = "region"
	KeyImageID         = "ami_id"
	KeyMountPoint      = "efs_mount_point"
	KeyStorageIngress  = "efs_ingress"
	KeyVPCID           = "vpc_id"
	KeySubnetIDs       = "subnet_ids"
)

const (
	DefaultInstanceType = "r5.xlarge"
	DefaultRegion       = "us-east-2"
	DefaultMountPoint   = "/srv/drugseqr"

	// MaxExpireAfterHours bounds expire_after to one year.
	MaxExpireAfterHours = 24 * 365
)

// machineImages pins the boot image per supported region.
var machineImages = map[string]string{
	"us-east-2": "ami-0dd9f0e7df0f0a138",
}

// strategyDefaults holds the values that differ between compute strategies.
type strategyDefaults struct {
	VolumeSizeGiB uint
	// ImportedStorageVolumeSizeGiB overrides VolumeSizeGiB when the shared
	// file system is imported rather than declared. Zero means no override.
	ImportedStorageVolumeSizeGiB uint
}

var defaultsByStrategy = map[ComputeStrategy]strategyDefaults{
	ComputeStrategyFleet: {VolumeSizeGiB: 16},
	ComputeStrategySpot:  {VolumeSizeGiB: 50, ImportedStorageVolumeSizeGiB: 14},
}

func (d strategyDefaults) volumeSize(importedStorage bool) uint {
	if importedStorage && d.ImportedStorageVolumeSizeGiB > 0 {
		return d.ImportedStorageVolumeSizeGiB
	}
	return d.VolumeSizeGiB
}

// DomainSpec is an existing hosted zone the deployment is published under.
// The deployment answers on the zone apex.
type DomainSpec struct {
	ZoneName     string
	HostedZoneID string
}

// ImportedStorage identifies an existing shared file system and the security
// group guarding its mount targets.
type ImportedStorage struct {
	FileSystemID    string
	SecurityGroupID string
}

// ExistingNetwork is a VPC the deployment joins instead of declaring its own.
// An empty VPCID is resolved from the VPC holding SecurityGroupID, and empty
// SubnetIDs select every subnet of the VPC.
type ExistingNetwork struct {
	VPCID           string
	SubnetIDs       []string
	SecurityGroupID string
}

// DeploymentConfig is the validated, typed form of the raw configuration.
// It is created once per resolution and never mutated.
type DeploymentConfig struct {
	InstanceType            string
	VolumeSizeGiB           uint
	SSHKeyName              string
	Domain                  *DomainSpec
	SharedStorage           *ImportedStorage
	Network                 *ExistingNetwork
	RetainStorageOnTeardown bool
	ComputeStrategy         ComputeStrategy
	ExpireAfterHours        uint
	ExampleData             bool
	RequestCertificate      bool
	Region                  string
	ImageID                 string
	MountPoint              string
	StorageIngress          StorageIngressPolicy
}

// HasDomain reports whether a custom domain is bound.
func (c DeploymentConfig) HasDomain() bool { return c.Domain != nil }

// DomainName returns the configured domain or the empty string.
func (c DeploymentConfig) DomainName() string {
	if c.Domain == nil {
		return ""
	}
	return c.Domain.ZoneName
}
