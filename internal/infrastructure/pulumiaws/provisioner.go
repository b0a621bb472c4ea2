package pulumiaws

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pulumi/pulumi/sdk/v3/go/auto"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optdestroy"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optpreview"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optup"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/hms-dbmi/dseqr.aws/internal/domain"
)

// DefaultProject is the Pulumi project every stack belongs to.
const DefaultProject = "dseqr-aws"

// Stack is the subset of [auto.Stack] the provisioner drives.
type Stack interface {
	SetConfig(ctx context.Context, key string, val auto.ConfigValue) error
	Up(ctx context.Context, opts ...optup.Option) (auto.UpResult, error)
	Preview(ctx context.Context, opts ...optpreview.Option) (auto.PreviewResult, error)
	Destroy(ctx context.Context, opts ...optdestroy.Option) (auto.DestroyResult, error)
}

// StackOpener selects or creates a stack running program.
type StackOpener func(ctx context.Context, stack, project string, program pulumi.RunFunc, env map[string]string) (Stack, error)

// PassphraseSource supplies the secrets-provider passphrase of a stack.
type PassphraseSource interface {
	Passphrase(ctx context.Context, stack string) (string, error)
}

// Provisioner implements [domain.Provisioner] with the Pulumi Automation
// API and an inline program.
type Provisioner struct {
	Project    string
	BackendURL string
	Passphrase PassphraseSource
	// Progress receives the engine's streaming output; nil discards it.
	Progress io.Writer
	Open     StackOpener
	Logger   *slog.Logger
}

func (p *Provisioner) Apply(ctx context.Context, in domain.ApplyInput) (domain.ProvisionResult, error) {
	log := p.logger().With("stack", in.Stack, "action", in.Action)

	env := map[string]string{}
	if p.BackendURL != "" {
		env["PULUMI_BACKEND_URL"] = p.BackendURL
	}
	if p.Passphrase != nil {
		pass, err := p.Passphrase.Passphrase(ctx, in.Stack)
		if err != nil {
			return domain.ProvisionResult{}, errors.Wrap(err, "stack passphrase")
		}
		env["PULUMI_CONFIG_PASSPHRASE"] = pass
	}

	stack, err := p.open()(ctx, in.Stack, p.project(), Program(in.Graph), env)
	if err != nil {
		return domain.ProvisionResult{}, errors.Wrapf(err, "open stack %s", in.Stack)
	}
	if err := stack.SetConfig(ctx, "aws:region", auto.ConfigValue{Value: in.Graph.Region}); err != nil {
		return domain.ProvisionResult{}, errors.Wrap(err, "set aws:region")
	}

	progress := p.progress()
	log.Info("submitting deployment graph", "region", in.Graph.Region, "strategy", in.Graph.Topology.Strategy)

	switch in.Action {
	case domain.ActionUp:
		res, err := stack.Up(ctx, optup.ProgressStreams(progress))
		if err != nil {
			return domain.ProvisionResult{}, errors.Wrap(err, "pulumi up")
		}
		log.Info("update finished", "result", res.Summary.Result)
		return domain.ProvisionResult{Outputs: flattenOutputs(res.Outputs), Summary: res.Summary.Result}, nil

	case domain.ActionPreview:
		res, err := stack.Preview(ctx, optpreview.ProgressStreams(progress))
		if err != nil {
			return domain.ProvisionResult{}, errors.Wrap(err, "pulumi preview")
		}
		summary := summarizeChanges(res.ChangeSummary)
		log.Info("preview finished", "changes", summary)
		return domain.ProvisionResult{Summary: summary}, nil

	case domain.ActionDestroy:
		res, err := stack.Destroy(ctx, optdestroy.ProgressStreams(progress))
		if err != nil {
			return domain.ProvisionResult{}, errors.Wrap(err, "pulumi destroy")
		}
		log.Info("destroy finished", "result", res.Summary.Result)
		return domain.ProvisionResult{Summary: res.Summary.Result}, nil
	}
	return domain.ProvisionResult{}, errors.Wrapf(domain.ErrInvalidArgument, "unknown action %q", in.Action)
}

func (p *Provisioner) project() string {
	if p.Project != "" {
		return p.Project
	}
	return DefaultProject
}

func (p *Provisioner) progress() io.Writer {
	if p.Progress != nil {
		return p.Progress
	}
	return io.Discard
}

func (p *Provisioner) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Provisioner) open() StackOpener {
	if p.Open != nil {
		return p.Open
	}
	return OpenLocalStack
}

// OpenLocalStack upserts a stack backed by a local workspace running the
// inline program.
func OpenLocalStack(ctx context.Context, stack, project string, program pulumi.RunFunc, env map[string]string) (Stack, error) {
	s, err := auto.UpsertStackInlineSource(ctx, stack, project, program, auto.EnvVars(env))
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// flattenOutputs renders stack outputs as strings; secret values are masked.
func flattenOutputs(outputs auto.OutputMap) map[string]string {
	if len(outputs) == 0 {
		return nil
	}
	flat := make(map[string]string, len(outputs))
	for k, v := range outputs {
		if v.Secret {
			flat[k] = "[secret]"
			continue
		}
		flat[k] = fmt.Sprint(v.Value)
	}
	return flat
}

func summarizeChanges[K ~string](changes map[K]int) string {
	if len(changes) == 0 {
		return "no changes"
	}
	parts := make([]string, 0, len(changes))
	for op, n := range changes {
		parts = append(parts, fmt.Sprintf("%s=%d", op, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
