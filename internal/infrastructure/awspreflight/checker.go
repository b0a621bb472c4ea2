// Package awspreflight verifies, before a stack update, that the AWS
// resources a deployment graph refers to but does not create exist.
package awspreflight

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/efs"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/cockroachdb/errors"

	"github.com/hms-dbmi/dseqr.aws/internal/domain"
)

// EC2API is the subset of the EC2 client used by preflight checks.
type EC2API interface {
	DescribeKeyPairs(ctx context.Context, in *ec2.DescribeKeyPairsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeKeyPairsOutput, error)
	DescribeImages(ctx context.Context, in *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	DescribeSecurityGroups(ctx context.Context, in *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	DescribeVpcs(ctx context.Context, in *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	DescribeSubnets(ctx context.Context, in *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
}

// EFSAPI is the subset of the EFS client used by preflight checks.
type EFSAPI interface {
	DescribeFileSystems(ctx context.Context, in *efs.DescribeFileSystemsInput, optFns ...func(*efs.Options)) (*efs.DescribeFileSystemsOutput, error)
}

// Route53API is the subset of the Route 53 client used by preflight checks.
type Route53API interface {
	GetHostedZone(ctx context.Context, in *route53.GetHostedZoneInput, optFns ...func(*route53.Options)) (*route53.GetHostedZoneOutput, error)
}

// Clients bundles the API clients of one region.
type Clients struct {
	EC2     EC2API
	EFS     EFSAPI
	Route53 Route53API
}

// DefaultClients builds clients from the default credential chain.
func DefaultClients(ctx context.Context, region string) (Clients, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return Clients{}, errors.Wrap(err, "load aws config")
	}
	return Clients{
		EC2:     ec2.NewFromConfig(cfg),
		EFS:     efs.NewFromConfig(cfg),
		Route53: route53.NewFromConfig(cfg),
	}, nil
}

// Checker implements [domain.Preflight] against the AWS APIs. All checks
// run; every failure is reported.
type Checker struct {
	// Clients returns clients for a region; nil uses [DefaultClients].
	Clients func(ctx context.Context, region string) (Clients, error)
	Logger  *slog.Logger
}

func (c *Checker) Check(ctx context.Context, graph domain.DeploymentGraph) error {
	newClients := c.Clients
	if newClients == nil {
		newClients = DefaultClients
	}
	clients, err := newClients(ctx, graph.Region)
	if err != nil {
		return errors.Mark(err, domain.ErrPreflight)
	}

	log := c.logger().With("region", graph.Region)
	machine := graph.Topology.Machine()

	var failures []error
	fail := func(err error) {
		if err != nil {
			failures = append(failures, err)
		}
	}

	fail(checkKeyPair(ctx, clients.EC2, machine.KeyName))
	fail(checkImage(ctx, clients.EC2, machine.ImageID))
	var vpcID string
	if existing := graph.Topology.Network().Existing; existing != nil && existing.VPCID != "" {
		vpcID = existing.VPCID
		fail(checkNetwork(ctx, clients.EC2, *existing))
	}
	if !graph.Storage.Owned {
		fail(checkFileSystem(ctx, clients.EFS, graph.Storage.ID))
		fail(checkSecurityGroup(ctx, clients.EC2, graph.Storage.SecurityBoundaryID, vpcID))
	}
	if rec := graph.Identity.Record; rec != nil {
		fail(checkHostedZone(ctx, clients.Route53, rec.ZoneID, rec.Name))
	}

	if err := combine(failures); err != nil {
		log.Warn("preflight failed", "checks", len(failures), "error", err)
		return err
	}
	log.Debug("preflight passed")
	return nil
}

// combine reports a single failure as is, keeping its hints, and several
// as one error listing each.
func combine(failures []error) error {
	switch len(failures) {
	case 0:
		return nil
	case 1:
		return errors.Mark(failures[0], domain.ErrPreflight)
	}
	msgs := make([]string, len(failures))
	for i, f := range failures {
		msgs[i] = f.Error()
	}
	return errors.Mark(
		errors.Newf("%d preflight checks failed: %s", len(failures), strings.Join(msgs, "; ")),
		domain.ErrPreflight,
	)
}

func (c *Checker) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func checkKeyPair(ctx context.Context, api EC2API, name string) error {
	out, err := api.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{KeyNames: []string{name}})
	if err == nil && len(out.KeyPairs) > 0 {
		return nil
	}
	if err == nil {
		err = errors.New("not found")
	}
	return errors.WithHint(
		errors.Wrapf(err, "key pair %q", name),
		"create or import the key pair in the deployment region, or set ssh_key_name",
	)
}

func checkImage(ctx context.Context, api EC2API, id string) error {
	out, err := api.DescribeImages(ctx, &ec2.DescribeImagesInput{ImageIds: []string{id}})
	if err == nil && len(out.Images) > 0 {
		return nil
	}
	if err == nil {
		err = errors.New("not found")
	}
	return errors.WithHint(
		errors.Wrapf(err, "machine image %q", id),
		"machine images are regional; set ami_id to an image available in the deployment region",
	)
}

func checkFileSystem(ctx context.Context, api EFSAPI, id string) error {
	out, err := api.DescribeFileSystems(ctx, &efs.DescribeFileSystemsInput{FileSystemId: aws.String(id)})
	if err == nil && len(out.FileSystems) > 0 {
		return nil
	}
	if err == nil {
		err = errors.New("not found")
	}
	return errors.Wrapf(err, "file system %q", id)
}

// checkSecurityGroup verifies the group exists and, when vpcID is set, that
// it belongs to that VPC.
func checkSecurityGroup(ctx context.Context, api EC2API, id, vpcID string) error {
	out, err := api.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: []string{id}})
	if err == nil && len(out.SecurityGroups) == 0 {
		err = errors.New("not found")
	}
	if err != nil {
		return errors.Wrapf(err, "security group %q", id)
	}
	if got := aws.ToString(out.SecurityGroups[0].VpcId); vpcID != "" && got != vpcID {
		return errors.WithHint(
			errors.Newf("security group %q is in %q, not vpc_id %q", id, got, vpcID),
			"the imported file system must be reachable from vpc_id; leave vpc_id unset to join the file system's VPC",
		)
	}
	return nil
}

// checkNetwork verifies the VPC exists and holds every listed subnet.
func checkNetwork(ctx context.Context, api EC2API, existing domain.ExistingNetwork) error {
	vpcs, err := api.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{existing.VPCID}})
	if err == nil && len(vpcs.Vpcs) == 0 {
		err = errors.New("not found")
	}
	if err != nil {
		return errors.Wrapf(err, "vpc %q", existing.VPCID)
	}
	if len(existing.SubnetIDs) == 0 {
		return nil
	}

	subnets, err := api.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: existing.SubnetIDs})
	if err != nil {
		return errors.Wrapf(err, "subnets %s", strings.Join(existing.SubnetIDs, ","))
	}
	found := make(map[string]string, len(subnets.Subnets))
	for _, s := range subnets.Subnets {
		found[aws.ToString(s.SubnetId)] = aws.ToString(s.VpcId)
	}
	for _, id := range existing.SubnetIDs {
		vpc, ok := found[id]
		if !ok {
			return errors.Newf("subnet %q: not found", id)
		}
		if vpc != existing.VPCID {
			return errors.WithHint(
				errors.Newf("subnet %q is in %q, not vpc_id %q", id, vpc, existing.VPCID),
				"subnet_ids must all belong to vpc_id",
			)
		}
	}
	return nil
}

// checkHostedZone verifies the zone exists and that name is the zone apex
// or lies beneath it.
func checkHostedZone(ctx context.Context, api Route53API, zoneID, name string) error {
	out, err := api.GetHostedZone(ctx, &route53.GetHostedZoneInput{Id: aws.String(zoneID)})
	if err != nil {
		return errors.Wrapf(err, "hosted zone %q", zoneID)
	}
	if out.HostedZone == nil || out.HostedZone.Name == nil {
		return errors.Newf("hosted zone %q: not found", zoneID)
	}
	zone := strings.TrimSuffix(aws.ToString(out.HostedZone.Name), ".")
	name = strings.TrimSuffix(name, ".")
	if name != zone && !strings.HasSuffix(name, "."+zone) {
		return errors.WithHint(
			errors.Newf("hosted zone %q serves %q, not %q", zoneID, zone, name),
			"domain_name must be the zone name or a name beneath it",
		)
	}
	return nil
}
