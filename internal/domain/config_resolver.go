package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ResolveConfig validates a flat key/value configuration and produces a
// [DeploymentConfig]. Rules are checked in a fixed order and the first
// violation is returned as a [ConfigError].
func ResolveConfig(raw map[string]string) (DeploymentConfig, error) {
	get := func(key string) string { return strings.TrimSpace(raw[key]) }

	keyName := get(KeySSHKeyName)
	if keyName == "" {
		return DeploymentConfig{}, newConfigError(MissingCredential, KeySSHKeyName, "", "an EC2 key pair name is required")
	}

	zoneName, zoneID := get(KeyDomainName), get(KeyZoneID)
	if (zoneName == "") != (zoneID == "") {
		return DeploymentConfig{}, newConfigError(InconsistentDomainSpec, missingOf(KeyDomainName, zoneName, KeyZoneID), "",
			"domain_name and zone_id must be provided together or not at all")
	}

	efsID, efsSG := get(KeyEFSID), get(KeyEFSSecurityGrp)
	if (efsID == "") != (efsSG == "") {
		return DeploymentConfig{}, newConfigError(InconsistentStorageSpec, missingOf(KeyEFSID, efsID, KeyEFSSecurityGrp), "",
			"efs_id and efs_sg_id must be provided together to import an existing file system")
	}

	vpcID, subnetIDs := get(KeyVPCID), splitList(get(KeySubnetIDs))
	if vpcID == "" && len(subnetIDs) > 0 {
		return DeploymentConfig{}, newConfigError(InvalidValue, KeyVPCID, "", "subnet_ids requires vpc_id")
	}

	strategy := ComputeStrategyFleet
	if v := get(KeyComputeStrategy); v != "" {
		strategy = ComputeStrategy(strings.ToLower(v))
	}
	defaults, ok := defaultsByStrategy[strategy]
	if !ok {
		return DeploymentConfig{}, newConfigError(InvalidValue, KeyComputeStrategy, get(KeyComputeStrategy), "expected fleet or spot")
	}
	// The load balancer spans at least two availability zones.
	if strategy == ComputeStrategyFleet && len(subnetIDs) == 1 {
		return DeploymentConfig{}, newConfigError(InvalidValue, KeySubnetIDs, get(KeySubnetIDs), "a fleet needs subnets in at least two availability zones")
	}

	cfg := DeploymentConfig{
		InstanceType:    orDefault(get(KeyInstanceType), DefaultInstanceType),
		SSHKeyName:      keyName,
		ComputeStrategy: strategy,
		Region:          orDefault(get(KeyRegion), DefaultRegion),
		MountPoint:      orDefault(get(KeyMountPoint), DefaultMountPoint),
		StorageIngress:  StorageIngressNetwork,
	}
	if zoneName != "" {
		cfg.Domain = &DomainSpec{ZoneName: zoneName, HostedZoneID: zoneID}
	}
	if efsID != "" {
		cfg.SharedStorage = &ImportedStorage{FileSystemID: efsID, SecurityGroupID: efsSG}
	}
	if vpcID != "" {
		cfg.Network = &ExistingNetwork{VPCID: vpcID, SubnetIDs: subnetIDs}
	}

	var err error
	if cfg.VolumeSizeGiB, err = parseUint(raw, KeyVolumeSize, defaults.volumeSize(cfg.SharedStorage != nil)); err != nil {
		return DeploymentConfig{}, err
	}
	if cfg.VolumeSizeGiB == 0 {
		return DeploymentConfig{}, newConfigError(InvalidValue, KeyVolumeSize, get(KeyVolumeSize), "must be at least 1 GiB")
	}
	if cfg.ExpireAfterHours, err = parseUint(raw, KeyExpireAfter, 0); err != nil {
		return DeploymentConfig{}, err
	}
	if cfg.ExpireAfterHours > MaxExpireAfterHours {
		return DeploymentConfig{}, newConfigError(InvalidValue, KeyExpireAfter, get(KeyExpireAfter),
			fmt.Sprintf("must be at most %d hours", MaxExpireAfterHours))
	}
	if cfg.RetainStorageOnTeardown, err = parseBool(raw, KeyKeepEFS, true); err != nil {
		return DeploymentConfig{}, err
	}
	if cfg.RequestCertificate, err = parseBool(raw, KeyGetCert, false); err != nil {
		return DeploymentConfig{}, err
	}
	if cfg.ExampleData, err = parseBool(raw, KeyExampleData, true); err != nil {
		return DeploymentConfig{}, err
	}

	if v := get(KeyStorageIngress); v != "" {
		switch p := StorageIngressPolicy(strings.ToLower(v)); p {
		case StorageIngressNetwork, StorageIngressAnywhere, StorageIngressCompute:
			cfg.StorageIngress = p
		default:
			return DeploymentConfig{}, newConfigError(InvalidValue, KeyStorageIngress, v, "expected network, anywhere or compute")
		}
	}

	cfg.ImageID = get(KeyImageID)
	if cfg.ImageID == "" {
		image, ok := machineImages[cfg.Region]
		if !ok {
			return DeploymentConfig{}, newConfigError(InvalidValue, KeyRegion, cfg.Region, "no pinned machine image for region; set ami_id")
		}
		cfg.ImageID = image
	}

	return cfg, nil
}

// missingOf names the absent half of a both-or-neither pair.
func missingOf(firstKey, firstValue, secondKey string) string {
	if firstValue == "" {
		return firstKey
	}
	return secondKey
}

// splitList reads a comma-separated list, dropping blank entries.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parseUint(raw map[string]string, key string, def uint) (uint, error) {
	v := strings.TrimSpace(raw[key])
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, newConfigError(InvalidValue, key, v, "expected a non-negative integer")
	}
	return uint(n), nil
}

// parseBool accepts the strconv spellings ("1", "0", "true", "false", ...).
func parseBool(raw map[string]string, key string, def bool) (bool, error) {
	v := strings.TrimSpace(raw[key])
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, newConfigError(InvalidValue, key, v, "expected a boolean")
	}
	return b, nil
}
