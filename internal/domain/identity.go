package domain

// EndpointKind distinguishes how a public endpoint is addressed.
type EndpointKind string

const (
	// EndpointAlias is a DNS alias to a load balancer.
	EndpointAlias EndpointKind = "alias"
	// EndpointStaticAddress is a fixed public IP address.
	EndpointStaticAddress EndpointKind = "static-address"
)

// PublicEndpoint is the externally reachable address a topology exposes.
// Value names the resource that carries it.
type PublicEndpoint struct {
	Kind  EndpointKind
	Value string
}

// DNSRecord is an A record published in an existing hosted zone.
type DNSRecord struct {
	ZoneID string
	Name   string
	Target PublicEndpoint
}

// CertificateRequest asks for a DNS-validated certificate.
type CertificateRequest struct {
	DomainName       string
	ValidationZoneID string
}

// NetworkIdentity is the DNS and TLS binding of a deployment. Both fields
// are nil when no domain is configured.
type NetworkIdentity struct {
	Endpoint    PublicEndpoint
	Record      *DNSRecord
	Certificate *CertificateRequest
}

// Bound reports whether a domain is attached.
func (n NetworkIdentity) Bound() bool { return n.Record != nil }

// BindNetworkIdentity attaches the configured domain to the topology's public
// endpoint. Single instances obtain their certificate on the machine itself,
// so only the fleet gets a managed certificate.
func BindNetworkIdentity(topology ComputeTopology, cfg DeploymentConfig) NetworkIdentity {
	id := NetworkIdentity{Endpoint: topology.Endpoint()}
	if !cfg.HasDomain() {
		return id
	}

	id.Record = &DNSRecord{
		ZoneID: cfg.Domain.HostedZoneID,
		Name:   cfg.Domain.ZoneName,
		Target: id.Endpoint,
	}
	if topology.Strategy == ComputeStrategyFleet {
		id.Certificate = &CertificateRequest{
			DomainName:       cfg.Domain.ZoneName,
			ValidationZoneID: cfg.Domain.HostedZoneID,
		}
	}
	return id
}
