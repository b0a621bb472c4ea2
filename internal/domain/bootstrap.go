package domain

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"text/template"

	"github.com/cockroachdb/errors"
)

// DomainPlaceholder is the literal host name the application template is
// written against. It is replaced by the configured domain.
const DomainPlaceholder = "drugseqr.com"

// NFSMountOptions are the fstab options of the generic NFSv4 fallback entry.
const NFSMountOptions = "nfsvers=4.1,rsize=1048576,wsize=1048576,hard,timeo=600,retrans=2,noresvport,_netdev"

// ScriptSectionTag labels a group of bootstrap commands.
type ScriptSectionTag string

const (
	SectionPackages    ScriptSectionTag = "packages"
	SectionMount       ScriptSectionTag = "mount"
	SectionMetadata    ScriptSectionTag = "metadata"
	SectionApplication ScriptSectionTag = "application"
)

// sectionRank is the required relative order of sections. Mounting must
// complete before anything that configures the application runs.
var sectionRank = map[ScriptSectionTag]int{
	SectionPackages:    0,
	SectionMount:       1,
	SectionMetadata:    2,
	SectionApplication: 3,
}

// ScriptSection is an ordered run of shell commands sharing one tag.
type ScriptSection struct {
	Tag      ScriptSectionTag
	Commands []string
}

// BootstrapScript is the command sequence run on first boot.
type BootstrapScript struct {
	Sections []ScriptSection
}

// Commands flattens the script into its ordered command list.
func (s BootstrapScript) Commands() []string {
	var out []string
	for _, sec := range s.Sections {
		out = append(out, sec.Commands...)
	}
	return out
}

// Render returns the script as user data text.
func (s BootstrapScript) Render() string {
	return "#!/bin/bash\n" + strings.Join(s.Commands(), "\n") + "\n"
}

// Section returns the section with the given tag.
func (s BootstrapScript) Section(tag ScriptSectionTag) (ScriptSection, bool) {
	for _, sec := range s.Sections {
		if sec.Tag == tag {
			return sec, true
		}
	}
	return ScriptSection{}, false
}

// Validate checks that every section tag is known, appears at most once and
// in the required relative order.
func (s BootstrapScript) Validate() error {
	last := -1
	for _, sec := range s.Sections {
		rank, ok := sectionRank[sec.Tag]
		if !ok {
			return errors.Wrapf(ErrScriptInvariant, "unknown section %q", sec.Tag)
		}
		if rank <= last {
			return errors.Wrapf(ErrScriptInvariant, "section %q out of order", sec.Tag)
		}
		last = rank
	}
	return nil
}

// TemplateSource loads the application configuration template.
type TemplateSource interface {
	Load(ctx context.Context, path string) (string, error)
}

var mountTemplate = template.Must(template.New("mount").Parse(
	`file_system_id_1={{ .FileSystemID }}
efs_mount_point_1={{ .MountPoint }}
mkdir -p "${efs_mount_point_1}"
grep -qs " ${efs_mount_point_1} " /etc/fstab || { test -f "/sbin/mount.efs" && echo "${file_system_id_1}:/ ${efs_mount_point_1} efs defaults,_netdev" >> /etc/fstab || echo "${file_system_id_1}.efs.{{ .Region }}.amazonaws.com:/ ${efs_mount_point_1} nfs4 {{ .Options }} 0 0" >> /etc/fstab; }
mount -a -t efs,nfs4 defaults`))

type mountParams struct {
	FileSystemID string
	MountPoint   string
	Region       string
	Options      string
}

// ComposeBootstrapScript builds the first-boot script: package setup, shared
// storage mount, deployment metadata and the application template with the
// domain substituted.
func ComposeBootstrapScript(storage SharedStorageRef, cfg DeploymentConfig, tmpl string) (BootstrapScript, error) {
	mount, err := mountCommands(storage, cfg)
	if err != nil {
		return BootstrapScript{}, err
	}

	app, err := substituteDomain(tmpl, cfg.DomainName())
	if err != nil {
		return BootstrapScript{}, err
	}

	script := BootstrapScript{Sections: []ScriptSection{
		{Tag: SectionPackages, Commands: []string{
			"apt-get -y update",
			"apt-get -y upgrade",
			"apt-get -y install amazon-efs-utils",
			"apt-get -y install nfs-common",
		}},
		{Tag: SectionMount, Commands: mount},
		{Tag: SectionMetadata, Commands: metadataCommands(cfg)},
		{Tag: SectionApplication, Commands: []string{app}},
	}}
	if err := script.Validate(); err != nil {
		return BootstrapScript{}, err
	}
	return script, nil
}

func mountCommands(storage SharedStorageRef, cfg DeploymentConfig) ([]string, error) {
	mountPoint := cfg.MountPoint
	if mountPoint == "" {
		mountPoint = DefaultMountPoint
	}
	var buf bytes.Buffer
	err := mountTemplate.Execute(&buf, mountParams{
		FileSystemID: storage.ID,
		MountPoint:   mountPoint,
		Region:       cfg.Region,
		Options:      NFSMountOptions,
	})
	if err != nil {
		return nil, errors.Wrap(err, "render mount commands")
	}
	return strings.Split(buf.String(), "\n"), nil
}

// metadataCommands exports deployment facts to the application template.
// The fleet terminates TLS at its load balancer, so the on-box certificate
// flow is only requested for single instances.
func metadataCommands(cfg DeploymentConfig) []string {
	getCert := cfg.RequestCertificate && cfg.ComputeStrategy == ComputeStrategySpot
	cmds := []string{
		"EXAMPLE_DATA=" + strconv.FormatBool(cfg.ExampleData),
		"GET_CERT=" + strconv.FormatBool(getCert),
	}
	if cfg.HasDomain() {
		cmds = append(cmds, "HOST_URL="+cfg.DomainName())
	}
	return cmds
}

// substituteDomain replaces every occurrence of [DomainPlaceholder] with
// domain. Without a domain the template is returned unchanged.
func substituteDomain(tmpl, domain string) (string, error) {
	if domain == "" {
		return tmpl, nil
	}
	n := strings.Count(tmpl, DomainPlaceholder)
	out := strings.ReplaceAll(tmpl, DomainPlaceholder, domain)
	// A domain may itself contain the placeholder text (e.g. a subdomain of
	// it); only those occurrences may remain.
	if strings.Count(out, DomainPlaceholder) != n*strings.Count(domain, DomainPlaceholder) {
		return "", errors.Wrapf(ErrScriptInvariant, "placeholder %q remains after substitution", DomainPlaceholder)
	}
	return out, nil
}
