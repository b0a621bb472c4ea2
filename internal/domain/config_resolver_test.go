package domain_test

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/hms-dbmi/dseqr.aws/internal/domain"
)

func TestResolveConfig_Defaults(t *testing.T) {
	cfg, err := domain.ResolveConfig(map[string]string{"ssh_key_name": "k"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.InstanceType != "r5.xlarge" {
		t.Errorf("InstanceType = %q, want r5.xlarge", cfg.InstanceType)
	}
	if cfg.ComputeStrategy != domain.ComputeStrategyFleet {
		t.Errorf("ComputeStrategy = %q, want fleet", cfg.ComputeStrategy)
	}
	if cfg.VolumeSizeGiB != 16 {
		t.Errorf("VolumeSizeGiB = %d, want 16", cfg.VolumeSizeGiB)
	}
	if !cfg.RetainStorageOnTeardown {
		t.Error("RetainStorageOnTeardown = false, want true")
	}
	if cfg.RequestCertificate {
		t.Error("RequestCertificate = true, want false")
	}
	if !cfg.ExampleData {
		t.Error("ExampleData = false, want true")
	}
	if cfg.Domain != nil || cfg.SharedStorage != nil {
		t.Errorf("Domain = %v, SharedStorage = %v; want both nil", cfg.Domain, cfg.SharedStorage)
	}
	if cfg.Region != "us-east-2" || cfg.ImageID != "ami-0dd9f0e7df0f0a138" {
		t.Errorf("Region/ImageID = %s/%s", cfg.Region, cfg.ImageID)
	}
	if cfg.StorageIngress != domain.StorageIngressNetwork {
		t.Errorf("StorageIngress = %q, want network", cfg.StorageIngress)
	}
	if cfg.MountPoint != "/srv/drugseqr" {
		t.Errorf("MountPoint = %q", cfg.MountPoint)
	}
}

func TestResolveConfig_VolumeDefaultsByStrategy(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]string
		want uint
	}{
		{"fleet", map[string]string{"compute_strategy": "fleet"}, 16},
		{"spot", map[string]string{"compute_strategy": "spot"}, 50},
		{"spot with imported storage", map[string]string{"compute_strategy": "spot", "efs_id": "fs-1", "efs_sg_id": "sg-1"}, 14},
		{"fleet with imported storage", map[string]string{"compute_strategy": "fleet", "efs_id": "fs-1", "efs_sg_id": "sg-1"}, 16},
		{"explicit", map[string]string{"compute_strategy": "spot", "volume_size": "100"}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.raw["ssh_key_name"] = "k"
			cfg, err := domain.ResolveConfig(tt.raw)
			if err != nil {
				t.Fatal(err)
			}
			if cfg.VolumeSizeGiB != tt.want {
				t.Errorf("VolumeSizeGiB = %d, want %d", cfg.VolumeSizeGiB, tt.want)
			}
		})
	}
}

func TestResolveConfig_Errors(t *testing.T) {
	tests := []struct {
		name     string
		raw      map[string]string
		sentinel error
		field    string
	}{
		{"missing key", map[string]string{}, domain.ErrMissingCredential, "ssh_key_name"},
		{"blank key", map[string]string{"ssh_key_name": "  "}, domain.ErrMissingCredential, "ssh_key_name"},
		{"domain without zone", map[string]string{"ssh_key_name": "k", "domain_name": "example.org"}, domain.ErrInconsistentDomainSpec, "zone_id"},
		{"zone without domain", map[string]string{"ssh_key_name": "k", "zone_id": "Z1"}, domain.ErrInconsistentDomainSpec, "domain_name"},
		{"efs without sg", map[string]string{"ssh_key_name": "k", "efs_id": "fs-1"}, domain.ErrInconsistentStorageSpec, "efs_sg_id"},
		{"sg without efs", map[string]string{"ssh_key_name": "k", "efs_sg_id": "sg-1"}, domain.ErrInconsistentStorageSpec, "efs_id"},
		{"unknown strategy", map[string]string{"ssh_key_name": "k", "compute_strategy": "lambda"}, domain.ErrInvalidValue, "compute_strategy"},
		{"bad volume", map[string]string{"ssh_key_name": "k", "volume_size": "big"}, domain.ErrInvalidValue, "volume_size"},
		{"zero volume", map[string]string{"ssh_key_name": "k", "volume_size": "0"}, domain.ErrInvalidValue, "volume_size"},
		{"negative expiry", map[string]string{"ssh_key_name": "k", "expire_after": "-1"}, domain.ErrInvalidValue, "expire_after"},
		{"expiry past a year", map[string]string{"ssh_key_name": "k", "compute_strategy": "spot", "expire_after": "8761"}, domain.ErrInvalidValue, "expire_after"},
		{"expiry overflowing a duration", map[string]string{"ssh_key_name": "k", "compute_strategy": "spot", "expire_after": "3000000"}, domain.ErrInvalidValue, "expire_after"},
		{"subnets without vpc", map[string]string{"ssh_key_name": "k", "subnet_ids": "subnet-a,subnet-b"}, domain.ErrInvalidValue, "vpc_id"},
		{"fleet in one subnet", map[string]string{"ssh_key_name": "k", "vpc_id": "vpc-1", "subnet_ids": "subnet-a"}, domain.ErrInvalidValue, "subnet_ids"},
		{"bad bool", map[string]string{"ssh_key_name": "k", "keep_efs": "maybe"}, domain.ErrInvalidValue, "keep_efs"},
		{"unknown ingress", map[string]string{"ssh_key_name": "k", "efs_ingress": "vpn"}, domain.ErrInvalidValue, "efs_ingress"},
		{"unpinned region", map[string]string{"ssh_key_name": "k", "region": "ap-south-1"}, domain.ErrInvalidValue, "region"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := domain.ResolveConfig(tt.raw)
			if err == nil {
				t.Fatalf("expected error, got config %+v", cfg)
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("error %v does not match %v", err, tt.sentinel)
			}
			var ce *domain.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("error %v is not a ConfigError", err)
			}
			if ce.Field != tt.field {
				t.Errorf("Field = %q, want %q", ce.Field, tt.field)
			}
		})
	}
}

func TestResolveConfig_FirstViolationWins(t *testing.T) {
	// Missing key, half a domain and half a storage spec at once.
	_, err := domain.ResolveConfig(map[string]string{"domain_name": "example.org", "efs_id": "fs-1"})
	if !errors.Is(err, domain.ErrMissingCredential) {
		t.Fatalf("got %v, want MissingCredential", err)
	}

	_, err = domain.ResolveConfig(map[string]string{"ssh_key_name": "k", "domain_name": "example.org", "efs_id": "fs-1"})
	if !errors.Is(err, domain.ErrInconsistentDomainSpec) {
		t.Fatalf("got %v, want InconsistentDomainSpec", err)
	}
}

func TestResolveConfig_MissingKeyForAnyOtherInput(t *testing.T) {
	inputs := []map[string]string{
		{},
		{"compute_strategy": "spot"},
		{"domain_name": "example.org", "zone_id": "Z1"},
		{"efs_id": "fs-1", "efs_sg_id": "sg-1", "expire_after": "6"},
		{"instance_type": "m5.large", "volume_size": "20", "get_cert": "true"},
	}
	for _, raw := range inputs {
		if _, err := domain.ResolveConfig(raw); !errors.Is(err, domain.ErrMissingCredential) {
			t.Errorf("ResolveConfig(%v) = %v, want MissingCredential", raw, err)
		}
	}
}

func TestResolveConfig_ExplicitValues(t *testing.T) {
	cfg, err := domain.ResolveConfig(map[string]string{
		"ssh_key_name":     "k",
		"instance_type":    "m5.large",
		"compute_strategy": "SPOT",
		"domain_name":      "example.org",
		"zone_id":          "Z1",
		"keep_efs":         "false",
		"expire_after":     "6",
		"get_cert":         "1",
		"example_data":     "false",
		"ami_id":           "ami-custom",
		"region":           "eu-west-1",
		"efs_ingress":      "compute",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ComputeStrategy != domain.ComputeStrategySpot {
		t.Errorf("ComputeStrategy = %q", cfg.ComputeStrategy)
	}
	if cfg.DomainName() != "example.org" || cfg.Domain.HostedZoneID != "Z1" {
		t.Errorf("Domain = %+v", cfg.Domain)
	}
	if cfg.RetainStorageOnTeardown || !cfg.RequestCertificate || cfg.ExampleData {
		t.Errorf("bools = keep %v cert %v example %v", cfg.RetainStorageOnTeardown, cfg.RequestCertificate, cfg.ExampleData)
	}
	if cfg.ExpireAfterHours != 6 {
		t.Errorf("ExpireAfterHours = %d", cfg.ExpireAfterHours)
	}
	if cfg.ImageID != "ami-custom" || cfg.Region != "eu-west-1" {
		t.Errorf("ImageID/Region = %s/%s", cfg.ImageID, cfg.Region)
	}
	if cfg.StorageIngress != domain.StorageIngressCompute {
		t.Errorf("StorageIngress = %q", cfg.StorageIngress)
	}
}

func TestResolveConfig_ExpiryUpperBound(t *testing.T) {
	cfg, err := domain.ResolveConfig(map[string]string{"ssh_key_name": "k", "compute_strategy": "spot", "expire_after": "8760"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ExpireAfterHours != domain.MaxExpireAfterHours {
		t.Errorf("ExpireAfterHours = %d, want %d", cfg.ExpireAfterHours, domain.MaxExpireAfterHours)
	}
}

func TestResolveConfig_ExistingNetwork(t *testing.T) {
	cfg, err := domain.ResolveConfig(map[string]string{
		"ssh_key_name": "k",
		"vpc_id":       "vpc-1",
		"subnet_ids":   " subnet-a, ,subnet-b ",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Network == nil || cfg.Network.VPCID != "vpc-1" {
		t.Fatalf("Network = %+v", cfg.Network)
	}
	if got := cfg.Network.SubnetIDs; len(got) != 2 || got[0] != "subnet-a" || got[1] != "subnet-b" {
		t.Errorf("SubnetIDs = %q", got)
	}

	cfg, err = domain.ResolveConfig(map[string]string{"ssh_key_name": "k", "compute_strategy": "spot", "vpc_id": "vpc-1", "subnet_ids": "subnet-a"})
	if err != nil {
		t.Fatalf("spot in one subnet: %v", err)
	}
	if len(cfg.Network.SubnetIDs) != 1 {
		t.Errorf("SubnetIDs = %q", cfg.Network.SubnetIDs)
	}

	cfg = mustConfig(t, map[string]string{})
	if cfg.Network != nil {
		t.Errorf("Network = %+v, want nil", cfg.Network)
	}
}
