package pulumiaws_test

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pulumi/pulumi/sdk/v3/go/common/resource"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hms-dbmi/dseqr.aws/internal/domain"
	"github.com/hms-dbmi/dseqr.aws/internal/infrastructure/pulumiaws"
)

const (
	mockFileSystemID = "fs-0123456789abcdef0"
	mockDNSName      = "dseqr-1234.us-east-2.elb.amazonaws.com"
	mockPublicIP     = "203.0.113.10"
	mockSharedVPC    = "vpc-shared"
	mockSharedCIDR   = "172.31.0.0/16"
)

var mockSharedSubnets = []string{"subnet-shared-a", "subnet-shared-b", "subnet-shared-c"}

type declared struct {
	token  string
	name   string
	inputs resource.PropertyMap
}

// mocks records every declared resource and returns fixed values for the
// outputs the program reads.
type mocks struct {
	mu        sync.Mutex
	resources []declared
	calls     []declared
}

func (m *mocks) NewResource(args pulumi.MockResourceArgs) (string, resource.PropertyMap, error) {
	m.mu.Lock()
	m.resources = append(m.resources, declared{token: args.TypeToken, name: args.Name, inputs: args.Inputs})
	m.mu.Unlock()

	outputs := args.Inputs.Copy()
	id := args.Name + "-id"
	switch args.TypeToken {
	case "aws:efs/fileSystem:FileSystem":
		id = mockFileSystemID
	case "aws:lb/loadBalancer:LoadBalancer":
		outputs["dnsName"] = resource.NewStringProperty(mockDNSName)
		outputs["zoneId"] = resource.NewStringProperty("Z3AADJGX6KTTL2")
		outputs["arn"] = resource.NewStringProperty("arn:aws:elasticloadbalancing:us-east-2:123456789012:loadbalancer/app/dseqr/1")
	case "aws:ec2/eip:Eip":
		outputs["publicIp"] = resource.NewStringProperty(mockPublicIP)
		outputs["allocationId"] = resource.NewStringProperty("eipalloc-1")
	case "aws:ec2/instance:Instance":
		outputs["arn"] = resource.NewStringProperty("arn:aws:ec2:us-east-2:123456789012:instance/i-1")
	case "aws:acm/certificate:Certificate":
		outputs["arn"] = resource.NewStringProperty("arn:aws:acm:us-east-2:123456789012:certificate/1")
		outputs["domainValidationOptions"] = resource.NewArrayProperty([]resource.PropertyValue{
			resource.NewObjectProperty(resource.PropertyMap{
				"domainName":          resource.NewStringProperty("example.org"),
				"resourceRecordName":  resource.NewStringProperty("_abc.example.org."),
				"resourceRecordType":  resource.NewStringProperty("CNAME"),
				"resourceRecordValue": resource.NewStringProperty("_xyz.acm-validations.aws."),
			}),
		})
	case "aws:acm/certificateValidation:CertificateValidation":
		outputs["certificateArn"] = args.Inputs["certificateArn"]
	case "aws:route53/record:Record":
		outputs["fqdn"] = resource.NewStringProperty("record.example.org")
	}
	return id, outputs, nil
}

// Call answers the network lookups as if every imported resource lived in
// one shared VPC.
func (m *mocks) Call(args pulumi.MockCallArgs) (resource.PropertyMap, error) {
	m.mu.Lock()
	m.calls = append(m.calls, declared{token: args.Token, inputs: args.Args})
	m.mu.Unlock()

	switch args.Token {
	case "aws:ec2/getSecurityGroup:getSecurityGroup":
		return resource.PropertyMap{
			"id":    args.Args["id"],
			"vpcId": resource.NewStringProperty(mockSharedVPC),
		}, nil
	case "aws:ec2/getVpc:getVpc":
		return resource.PropertyMap{
			"id":        args.Args["id"],
			"cidrBlock": resource.NewStringProperty(mockSharedCIDR),
		}, nil
	case "aws:ec2/getSubnets:getSubnets":
		ids := make([]resource.PropertyValue, len(mockSharedSubnets))
		for i, id := range mockSharedSubnets {
			ids[i] = resource.NewStringProperty(id)
		}
		return resource.PropertyMap{
			"id":  resource.NewStringProperty("us-east-2"),
			"ids": resource.NewArrayProperty(ids),
		}, nil
	}
	return args.Args, nil
}

func (m *mocks) called(token string) []resource.PropertyMap {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []resource.PropertyMap
	for _, c := range m.calls {
		if c.token == token {
			out = append(out, c.inputs)
		}
	}
	return out
}

func (m *mocks) byToken(token string) []declared {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []declared
	for _, r := range m.resources {
		if r.token == token {
			out = append(out, r)
		}
	}
	return out
}

func (m *mocks) one(t *testing.T, token, name string) resource.PropertyMap {
	t.Helper()
	for _, r := range m.byToken(token) {
		if r.name == name {
			return r.inputs
		}
	}
	t.Fatalf("no %s named %q declared", token, name)
	return nil
}

type staticTemplate string

func (s staticTemplate) Load(context.Context, string) (string, error) { return string(s), nil }

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func resolve(t *testing.T, raw map[string]string) domain.DeploymentGraph {
	t.Helper()
	r := &domain.Resolver{
		Templates:  staticTemplate("server_name drugseqr.com;\n"),
		Topologies: domain.DefaultTopologyFactory{Now: func() time.Time { return fixedNow }},
	}
	graph, err := r.Resolve(context.Background(), raw)
	require.NoError(t, err)
	return graph
}

func run(t *testing.T, graph domain.DeploymentGraph) *mocks {
	t.Helper()
	m := &mocks{}
	err := pulumi.RunErr(pulumiaws.Program(graph), pulumi.WithMocks(pulumiaws.DefaultProject, "test", m))
	require.NoError(t, err)
	return m
}

func TestProgram_FleetWithoutDomain(t *testing.T) {
	m := run(t, resolve(t, map[string]string{"ssh_key_name": "k"}))

	assert.Len(t, m.byToken("aws:ec2/subnet:Subnet"), 2)
	assert.Len(t, m.byToken("aws:efs/mountTarget:MountTarget"), 2)
	assert.Len(t, m.byToken("aws:efs/fileSystem:FileSystem"), 1)
	assert.Len(t, m.byToken("aws:efs/accessPoint:AccessPoint"), 1)
	assert.Len(t, m.byToken("aws:autoscaling/group:Group"), 1)
	assert.Empty(t, m.byToken("aws:acm/certificate:Certificate"))
	assert.Empty(t, m.byToken("aws:route53/record:Record"))
	assert.Empty(t, m.byToken("aws:ec2/natGateway:NatGateway"))

	listeners := m.byToken("aws:lb/listener:Listener")
	require.Len(t, listeners, 1)
	assert.Equal(t, float64(80), listeners[0].inputs["port"].NumberValue())
	assert.Equal(t, "HTTP", listeners[0].inputs["protocol"].StringValue())

	group := m.one(t, "aws:autoscaling/group:Group", "fleet")
	assert.Equal(t, float64(2), group["minSize"].NumberValue())
	assert.Equal(t, float64(4), group["maxSize"].NumberValue())

	policy := m.one(t, "aws:autoscaling/policy:Policy", "cpu-target")
	tracking := policy["targetTrackingConfiguration"].ObjectValue()
	assert.Equal(t, float64(70), tracking["targetValue"].NumberValue())

	lt := m.one(t, "aws:ec2/launchTemplate:LaunchTemplate", "launch-template")
	script, err := base64.StdEncoding.DecodeString(lt["userData"].StringValue())
	require.NoError(t, err)
	assert.Contains(t, string(script), "file_system_id_1="+mockFileSystemID)
	assert.NotContains(t, string(script), domain.PendingFileSystemID)
	assert.True(t, strings.HasPrefix(string(script), "#!/bin/bash\n"))
	market := lt["instanceMarketOptions"].ObjectValue()
	assert.Equal(t, "0.192", market["spotOptions"].ObjectValue()["maxPrice"].StringValue())
}

func TestProgram_FleetWithDomain(t *testing.T) {
	m := run(t, resolve(t, map[string]string{
		"ssh_key_name": "k",
		"domain_name":  "example.org",
		"zone_id":      "Z123",
	}))

	assert.Len(t, m.byToken("aws:acm/certificate:Certificate"), 1)
	assert.Len(t, m.byToken("aws:acm/certificateValidation:CertificateValidation"), 1)
	assert.Len(t, m.byToken("aws:lb/listener:Listener"), 2)

	listener := m.one(t, "aws:lb/listener:Listener", "listener")
	assert.Equal(t, float64(443), listener["port"].NumberValue())
	assert.Equal(t, "HTTPS", listener["protocol"].StringValue())

	redirect := m.one(t, "aws:lb/listener:Listener", "redirect")
	assert.Equal(t, float64(80), redirect["port"].NumberValue())

	record := m.one(t, "aws:route53/record:Record", "a-record")
	assert.Equal(t, "example.org", record["name"].StringValue())
	assert.Equal(t, "Z123", record["zoneId"].StringValue())
	aliases := record["aliases"].ArrayValue()
	require.Len(t, aliases, 1)
	assert.Equal(t, mockDNSName, aliases[0].ObjectValue()["name"].StringValue())

	validation := m.one(t, "aws:route53/record:Record", "certificate-validation-record")
	assert.Equal(t, "_abc.example.org.", validation["name"].StringValue())
	assert.Equal(t, "CNAME", validation["type"].StringValue())
}

func TestProgram_SpotWithImportedStorageAndExpiry(t *testing.T) {
	m := run(t, resolve(t, map[string]string{
		"ssh_key_name":     "k",
		"compute_strategy": "spot",
		"efs_id":           "fs-imported",
		"efs_sg_id":        "sg-imported",
		"expire_after":     "6",
		"domain_name":      "example.org",
		"zone_id":          "Z123",
	}))

	assert.Empty(t, m.byToken("aws:efs/fileSystem:FileSystem"))
	assert.Empty(t, m.byToken("aws:efs/mountTarget:MountTarget"))
	assert.Empty(t, m.byToken("aws:acm/certificate:Certificate"))
	assert.Len(t, m.byToken("aws:ec2/eip:Eip"), 1)
	assert.Len(t, m.byToken("aws:ec2/eipAssociation:EipAssociation"), 1)

	// The instance joins the VPC holding the imported file system.
	assert.Empty(t, m.byToken("aws:ec2/vpc:Vpc"))
	assert.Empty(t, m.byToken("aws:ec2/subnet:Subnet"))
	assert.Empty(t, m.byToken("aws:ec2/internetGateway:InternetGateway"))
	lookups := m.called("aws:ec2/getSecurityGroup:getSecurityGroup")
	require.Len(t, lookups, 1)
	assert.Equal(t, "sg-imported", lookups[0]["id"].StringValue())
	compute := m.one(t, "aws:ec2/securityGroup:SecurityGroup", "compute")
	assert.Equal(t, mockSharedVPC, compute["vpcId"].StringValue())

	rule := m.one(t, "aws:ec2/securityGroupRule:SecurityGroupRule", "nfs-ingress")
	assert.Equal(t, "sg-imported", rule["securityGroupId"].StringValue())
	assert.Equal(t, float64(domain.NFSPort), rule["fromPort"].NumberValue())
	cidrs := rule["cidrBlocks"].ArrayValue()
	require.Len(t, cidrs, 1)
	assert.Equal(t, mockSharedCIDR, cidrs[0].StringValue())

	instance := m.one(t, "aws:ec2/instance:Instance", "instance")
	assert.Equal(t, mockSharedSubnets[0], instance["subnetId"].StringValue())
	assert.Contains(t, instance["userData"].StringValue(), "file_system_id_1=fs-imported")
	assert.Equal(t, float64(14), instance["rootBlockDevice"].ObjectValue()["volumeSize"].NumberValue())
	spot := instance["instanceMarketOptions"].ObjectValue()["spotOptions"].ObjectValue()
	assert.Equal(t, "one-time", spot["spotInstanceType"].StringValue())
	assert.Equal(t, "terminate", spot["instanceInterruptionBehavior"].StringValue())

	schedule := m.one(t, "aws:scheduler/schedule:Schedule", "expiry")
	assert.Equal(t, "at(2026-03-02T15:00:00)", schedule["scheduleExpression"].StringValue())
	target := schedule["target"].ObjectValue()
	assert.Equal(t, "arn:aws:scheduler:::aws-sdk:ec2:terminateInstances", target["arn"].StringValue())
	assert.JSONEq(t, `{"InstanceIds":["instance-id"]}`, target["input"].StringValue())

	record := m.one(t, "aws:route53/record:Record", "a-record")
	records := record["records"].ArrayValue()
	require.Len(t, records, 1)
	assert.Equal(t, mockPublicIP, records[0].StringValue())
}

func TestProgram_FleetInExistingNetwork(t *testing.T) {
	m := run(t, resolve(t, map[string]string{
		"ssh_key_name": "k",
		"vpc_id":       "vpc-given",
		"subnet_ids":   "subnet-1,subnet-2",
	}))

	assert.Empty(t, m.byToken("aws:ec2/vpc:Vpc"))
	assert.Empty(t, m.byToken("aws:ec2/subnet:Subnet"))
	assert.Empty(t, m.byToken("aws:ec2/routeTable:RouteTable"))
	assert.Empty(t, m.called("aws:ec2/getSecurityGroup:getSecurityGroup"))
	assert.Empty(t, m.called("aws:ec2/getSubnets:getSubnets"))
	vpcs := m.called("aws:ec2/getVpc:getVpc")
	require.Len(t, vpcs, 1)
	assert.Equal(t, "vpc-given", vpcs[0]["id"].StringValue())

	targets := m.byToken("aws:efs/mountTarget:MountTarget")
	require.Len(t, targets, 2)
	var subnets []string
	for _, mt := range targets {
		subnets = append(subnets, mt.inputs["subnetId"].StringValue())
	}
	assert.ElementsMatch(t, []string{"subnet-1", "subnet-2"}, subnets)

	balancer := m.one(t, "aws:lb/loadBalancer:LoadBalancer", domain.LoadBalancerResource)
	lbSubnets := balancer["subnets"].ArrayValue()
	require.Len(t, lbSubnets, 2)
	assert.Equal(t, "subnet-1", lbSubnets[0].StringValue())

	for _, sg := range m.byToken("aws:ec2/securityGroup:SecurityGroup") {
		assert.Equal(t, "vpc-given", sg.inputs["vpcId"].StringValue(), sg.name)
	}
	rule := m.one(t, "aws:ec2/securityGroupRule:SecurityGroupRule", "nfs-ingress")
	assert.Equal(t, mockSharedCIDR, rule["cidrBlocks"].ArrayValue()[0].StringValue())
}

func TestProgram_ImportedStorageListsSubnetsOfItsVPC(t *testing.T) {
	m := run(t, resolve(t, map[string]string{
		"ssh_key_name": "k",
		"efs_id":       "fs-imported",
		"efs_sg_id":    "sg-imported",
		"efs_ingress":  "compute",
	}))

	listed := m.called("aws:ec2/getSubnets:getSubnets")
	require.Len(t, listed, 1)
	filters := listed[0]["filters"].ArrayValue()
	require.Len(t, filters, 1)
	filter := filters[0].ObjectValue()
	assert.Equal(t, "vpc-id", filter["name"].StringValue())
	assert.Equal(t, mockSharedVPC, filter["values"].ArrayValue()[0].StringValue())

	group := m.one(t, "aws:autoscaling/group:Group", "fleet")
	assert.Len(t, group["vpcZoneIdentifiers"].ArrayValue(), len(mockSharedSubnets))

	// Under the compute policy both groups sit in the same VPC.
	compute := m.one(t, "aws:ec2/securityGroup:SecurityGroup", "compute")
	assert.Equal(t, mockSharedVPC, compute["vpcId"].StringValue())
	rule := m.one(t, "aws:ec2/securityGroupRule:SecurityGroupRule", "nfs-ingress")
	assert.Equal(t, "sg-imported", rule["securityGroupId"].StringValue())
	assert.Equal(t, "compute-id", rule["sourceSecurityGroupId"].StringValue())
}

func TestProgram_SpotWithoutExpiryHasNoSchedule(t *testing.T) {
	m := run(t, resolve(t, map[string]string{"ssh_key_name": "k", "compute_strategy": "spot"}))

	assert.Empty(t, m.byToken("aws:scheduler/schedule:Schedule"))
	assert.Empty(t, m.byToken("aws:iam/role:Role"))
	assert.Empty(t, m.byToken("aws:route53/record:Record"))
}

func TestProgram_StorageIngressPolicy(t *testing.T) {
	t.Run("network", func(t *testing.T) {
		m := run(t, resolve(t, map[string]string{"ssh_key_name": "k"}))
		rule := m.one(t, "aws:ec2/securityGroupRule:SecurityGroupRule", "nfs-ingress")
		cidrs := rule["cidrBlocks"].ArrayValue()
		require.Len(t, cidrs, 1)
		assert.Equal(t, domain.NetworkCIDR, cidrs[0].StringValue())
	})

	t.Run("anywhere", func(t *testing.T) {
		m := run(t, resolve(t, map[string]string{"ssh_key_name": "k", "efs_ingress": "anywhere"}))
		rule := m.one(t, "aws:ec2/securityGroupRule:SecurityGroupRule", "nfs-ingress")
		cidrs := rule["cidrBlocks"].ArrayValue()
		require.Len(t, cidrs, 1)
		assert.Equal(t, domain.AnyIPv4, cidrs[0].StringValue())
	})

	t.Run("compute", func(t *testing.T) {
		m := run(t, resolve(t, map[string]string{"ssh_key_name": "k", "efs_ingress": "compute"}))
		rule := m.one(t, "aws:ec2/securityGroupRule:SecurityGroupRule", "nfs-ingress")
		assert.Equal(t, "compute-id", rule["sourceSecurityGroupId"].StringValue())
		assert.False(t, rule.HasValue("cidrBlocks"))
	})
}
