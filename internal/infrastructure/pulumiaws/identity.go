package pulumiaws

import (
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/acm"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/route53"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/hms-dbmi/dseqr.aws/internal/domain"
)

// declareCertificate requests a DNS-validated certificate and publishes its
// validation record. The returned ARN resolves only once validation has
// completed, so listeners that use it wait for a usable certificate.
func declareCertificate(ctx *pulumi.Context, req *domain.CertificateRequest) (pulumi.StringOutput, error) {
	cert, err := acm.NewCertificate(ctx, "certificate", &acm.CertificateArgs{
		DomainName:       pulumi.String(req.DomainName),
		ValidationMethod: pulumi.String("DNS"),
		Tags:             nameTag(ctx, "certificate"),
	})
	if err != nil {
		return pulumi.StringOutput{}, err
	}

	opts := cert.DomainValidationOptions
	record, err := route53.NewRecord(ctx, "certificate-validation-record", &route53.RecordArgs{
		ZoneId:         pulumi.String(req.ValidationZoneID),
		Name:           firstValidation(opts, func(o acm.CertificateDomainValidationOption) *string { return o.ResourceRecordName }),
		Type:           firstValidation(opts, func(o acm.CertificateDomainValidationOption) *string { return o.ResourceRecordType }),
		Records:        pulumi.StringArray{firstValidation(opts, func(o acm.CertificateDomainValidationOption) *string { return o.ResourceRecordValue })},
		Ttl:            pulumi.Int(60),
		AllowOverwrite: pulumi.Bool(true),
	})
	if err != nil {
		return pulumi.StringOutput{}, err
	}

	validation, err := acm.NewCertificateValidation(ctx, "certificate-validation", &acm.CertificateValidationArgs{
		CertificateArn:        cert.Arn,
		ValidationRecordFqdns: pulumi.StringArray{record.Fqdn},
	})
	if err != nil {
		return pulumi.StringOutput{}, err
	}
	return validation.CertificateArn, nil
}

func firstValidation(opts acm.CertificateDomainValidationOptionArrayOutput, field func(acm.CertificateDomainValidationOption) *string) pulumi.StringOutput {
	return opts.ApplyT(func(all []acm.CertificateDomainValidationOption) string {
		if len(all) == 0 {
			return ""
		}
		if v := field(all[0]); v != nil {
			return *v
		}
		return ""
	}).(pulumi.StringOutput)
}

// declareAliasRecord points the domain at a load balancer.
func declareAliasRecord(ctx *pulumi.Context, rec *domain.DNSRecord, dnsName, zoneID pulumi.StringInput) error {
	_, err := route53.NewRecord(ctx, "a-record", &route53.RecordArgs{
		ZoneId: pulumi.String(rec.ZoneID),
		Name:   pulumi.String(rec.Name),
		Type:   pulumi.String("A"),
		Aliases: route53.RecordAliasArray{
			&route53.RecordAliasArgs{
				Name:                 dnsName,
				ZoneId:               zoneID,
				EvaluateTargetHealth: pulumi.Bool(true),
			},
		},
	})
	return err
}

// declareAddressRecord points the domain at a static address.
func declareAddressRecord(ctx *pulumi.Context, rec *domain.DNSRecord, address pulumi.StringInput) error {
	_, err := route53.NewRecord(ctx, "a-record", &route53.RecordArgs{
		ZoneId:  pulumi.String(rec.ZoneID),
		Name:    pulumi.String(rec.Name),
		Type:    pulumi.String("A"),
		Ttl:     pulumi.Int(300),
		Records: pulumi.StringArray{address},
	})
	return err
}
