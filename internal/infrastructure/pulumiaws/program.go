package pulumiaws

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/hms-dbmi/dseqr.aws/internal/domain"
)

// Program returns the Pulumi program declaring every resource of graph.
// The graph is declared as one unit; Pulumi orders the operations from the
// dependencies between outputs.
func Program(graph domain.DeploymentGraph) pulumi.RunFunc {
	return func(ctx *pulumi.Context) error {
		topology := graph.Topology
		if err := topology.Validate(); err != nil {
			return err
		}

		n, err := declareNetwork(ctx, topology.Network())
		if err != nil {
			return errors.Wrap(err, "declare network")
		}

		var rules []domain.IngressRule
		switch topology.Strategy {
		case domain.ComputeStrategyFleet:
			rules = topology.Fleet.SecurityGroup.Ingress
		case domain.ComputeStrategySpot:
			rules = topology.Spot.SecurityGroup.Ingress
		}
		compute, err := declareSecurityGroup(ctx, "compute", "Compute instances", n, rules)
		if err != nil {
			return errors.Wrap(err, "declare compute security group")
		}

		fsID, err := declareStorage(ctx, n, compute, graph.Storage)
		if err != nil {
			return errors.Wrap(err, "declare shared storage")
		}
		userData := renderUserData(topology.Machine().UserData, fsID)

		var endpoint pulumi.StringOutput
		switch topology.Strategy {
		case domain.ComputeStrategyFleet:
			var certArn pulumi.StringOutput
			if graph.Identity.Certificate != nil {
				if certArn, err = declareCertificate(ctx, graph.Identity.Certificate); err != nil {
					return errors.Wrap(err, "declare certificate")
				}
			}
			out, err := declareFleet(ctx, n, compute, topology.Fleet, userData, certArn)
			if err != nil {
				return errors.Wrap(err, "declare fleet")
			}
			if rec := graph.Identity.Record; rec != nil {
				if err := declareAliasRecord(ctx, rec, out.dnsName, out.zoneID); err != nil {
					return errors.Wrap(err, "declare dns record")
				}
			}
			endpoint = out.dnsName

		case domain.ComputeStrategySpot:
			address, err := declareSpot(ctx, n, compute, topology.Spot, userData)
			if err != nil {
				return errors.Wrap(err, "declare spot instance")
			}
			if rec := graph.Identity.Record; rec != nil {
				if err := declareAddressRecord(ctx, rec, address); err != nil {
					return errors.Wrap(err, "declare dns record")
				}
			}
			if e := topology.Spot.Expiry; e != nil {
				ctx.Export(domain.OutputExpiresAt, pulumi.String(e.At.UTC().Format("2006-01-02T15:04:05Z")))
			}
			endpoint = address
		}

		ctx.Export(domain.OutputEndpoint, endpoint)
		ctx.Export(domain.OutputFileSystemID, fsID)
		if rec := graph.Identity.Record; rec != nil {
			ctx.Export(domain.OutputURL, pulumi.String(urlScheme(graph)+"://"+rec.Name))
		}
		return nil
	}
}

// renderUserData renders the bootstrap script, substituting the late-bound
// file system id once it is known.
func renderUserData(script domain.BootstrapScript, fsID pulumi.StringOutput) pulumi.StringOutput {
	text := script.Render()
	return fsID.ApplyT(func(id string) string {
		return strings.ReplaceAll(text, domain.PendingFileSystemID, id)
	}).(pulumi.StringOutput)
}

// urlScheme is https when TLS terminates at the load balancer or the
// instance obtains its own certificate at boot.
func urlScheme(graph domain.DeploymentGraph) string {
	if graph.Identity.Certificate != nil {
		return "https"
	}
	if meta, ok := graph.Topology.Machine().UserData.Section(domain.SectionMetadata); ok {
		for _, c := range meta.Commands {
			if c == "GET_CERT=true" {
				return "https"
			}
		}
	}
	return "http"
}
