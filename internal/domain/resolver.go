package domain

import (
	"context"

	"github.com/cockroachdb/errors"
)

// DefaultTemplatePath is where the application configuration template is
// read from when no path is configured.
const DefaultTemplatePath = "scripts/configure.sh"

// Resolver runs the full resolution pass from raw configuration to a
// [DeploymentGraph]. Any error aborts before a graph exists.
type Resolver struct {
	Templates    TemplateSource
	TemplatePath string
	Topologies   TopologyFactory
}

// Resolve validates raw, resolves storage, composes the bootstrap script,
// builds the topology, binds the network identity and assembles the graph.
func (r *Resolver) Resolve(ctx context.Context, raw map[string]string) (DeploymentGraph, error) {
	cfg, err := ResolveConfig(raw)
	if err != nil {
		return DeploymentGraph{}, err
	}

	storage := ResolveSharedStorage(cfg)

	path := r.TemplatePath
	if path == "" {
		path = DefaultTemplatePath
	}
	tmpl, err := r.Templates.Load(ctx, path)
	if err != nil {
		return DeploymentGraph{}, errors.Mark(errors.Wrapf(err, "load template %s", path), ErrTemplateLoad)
	}

	script, err := ComposeBootstrapScript(storage, cfg, tmpl)
	if err != nil {
		return DeploymentGraph{}, err
	}

	builder, err := r.topologies().Builder(cfg.ComputeStrategy)
	if err != nil {
		return DeploymentGraph{}, err
	}
	topology, err := builder.Build(cfg, storage, script)
	if err != nil {
		return DeploymentGraph{}, err
	}
	if err := topology.Validate(); err != nil {
		return DeploymentGraph{}, err
	}

	identity := BindNetworkIdentity(topology, cfg)
	return AssembleGraph(topology, identity, storage), nil
}

func (r *Resolver) topologies() TopologyFactory {
	if r.Topologies != nil {
		return r.Topologies
	}
	return DefaultTopologyFactory{}
}
