package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"

	"github.com/hms-dbmi/dseqr.aws/internal/application"
	"github.com/hms-dbmi/dseqr.aws/internal/domain"
	"github.com/hms-dbmi/dseqr.aws/internal/infrastructure/awspreflight"
	"github.com/hms-dbmi/dseqr.aws/internal/infrastructure/goworkflows"
	"github.com/hms-dbmi/dseqr.aws/internal/infrastructure/keyring"
	"github.com/hms-dbmi/dseqr.aws/internal/infrastructure/pulumiaws"
	"github.com/hms-dbmi/dseqr.aws/internal/infrastructure/sqlite"
	"github.com/hms-dbmi/dseqr.aws/internal/infrastructure/syncworkflow"
	"github.com/hms-dbmi/dseqr.aws/internal/infrastructure/templatefs"
)

// Workflow engines selectable with --engine.
const (
	EngineSync    = "sync"
	EngineDurable = "durable"
)

// Options are the values of the persistent flags.
type Options struct {
	Stack         string
	ConfigPath    string
	Overrides     []string
	Template      string
	StateDB       string
	Engine        string
	WorkflowDB    string
	BackendURL    string
	Project       string
	SkipPreflight bool
	LogLevel      string
}

func defaultOptions() Options {
	return Options{
		Template: domain.DefaultTemplatePath,
		StateDB:  "dseqr-aws.db",
		Engine:   EngineSync,
		Project:  pulumiaws.DefaultProject,
		LogLevel: "info",
	}
}

// app holds the wired components of one command invocation.
type app struct {
	logger      *slog.Logger
	deployments *application.DeploymentService
	closers     []func() error
}

func (a *app) Close() error {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = errors.CombineErrors(errs, a.closers[i]())
	}
	return errs
}

// wiring replaces infrastructure components. Nil fields select the AWS and
// Pulumi implementations.
type wiring struct {
	Provisioner domain.Provisioner
	Preflight   domain.Preflight
	Passphrase  pulumiaws.PassphraseSource
	Stderr      io.Writer
}

func newApp(ctx context.Context, opts Options, w wiring) (*app, error) {
	logger, err := newLogger(w.Stderr, opts.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{logger: logger}

	db, err := sqlite.Open(opts.StateDB)
	if err != nil {
		return nil, errors.Wrapf(err, "open state db %s", opts.StateDB)
	}
	a.closers = append(a.closers, db.Close)
	records := &sqlite.RecordRepo{DB: db}

	resolver := newResolver(opts)

	provisioner := w.Provisioner
	if provisioner == nil {
		passphrase := w.Passphrase
		if passphrase == nil {
			passphrase = &keyring.Store{}
		}
		provisioner = &pulumiaws.Provisioner{
			Project:    opts.Project,
			BackendURL: opts.BackendURL,
			Passphrase: passphrase,
			Progress:   w.Stderr,
			Logger:     logger,
		}
	}
	preflight := w.Preflight
	if preflight == nil {
		preflight = &awspreflight.Checker{Logger: logger}
	}

	wf := &domain.ProvisionWorkflow{
		Resolver:    resolver,
		Preflight:   preflight,
		Provisioner: provisioner,
		Records:     records,
	}

	engine, err := a.engine(ctx, opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	runner, err := engine.ProvisionRunner(wf)
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "register provisioning workflow")
	}

	a.deployments = &application.DeploymentService{
		Resolver:      resolver,
		Records:       records,
		Orchestration: &application.OrchestrationService{Workflow: runner},
		Logger:        logger,
	}
	return a, nil
}

func (a *app) engine(ctx context.Context, opts Options) (domain.WorkflowEngine, error) {
	switch opts.Engine {
	case EngineSync:
		return &syncworkflow.Engine{}, nil
	case EngineDurable:
		b := goworkflows.NewBackend(opts.WorkflowDB)
		wk := worker.New(b, nil)
		wctx, cancel := context.WithCancel(ctx)
		if err := wk.Start(wctx); err != nil {
			cancel()
			return nil, errors.Wrap(err, "start workflow worker")
		}
		a.closers = append(a.closers, func() error {
			cancel()
			return wk.WaitForCompletion()
		})
		return &goworkflows.Engine{Worker: wk, Client: client.New(b)}, nil
	default:
		return nil, errors.WithHint(
			errors.Wrapf(domain.ErrInvalidArgument, "unknown engine %q", opts.Engine),
			"use --engine sync or --engine durable",
		)
	}
}

// newResolver reads the application template from the local disk.
func newResolver(opts Options) *domain.Resolver {
	dir, file := filepath.Split(opts.Template)
	if dir == "" {
		dir = "."
	}
	return &domain.Resolver{
		Templates:    templatefs.NewOS(dir),
		TemplatePath: file,
	}
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, errors.Wrapf(domain.ErrInvalidArgument, "log level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}
