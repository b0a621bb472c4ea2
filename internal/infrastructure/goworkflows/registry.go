// Package goworkflows implements [domain.WorkflowEngine] using
// cschleiden/go-workflows for durable workflow execution.
package goworkflows

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cschleiden/go-workflows/backend"
	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/registry"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/cschleiden/go-workflows/workflow"
	"github.com/google/uuid"

	"github.com/hms-dbmi/dseqr.aws/internal/domain"
)

// DefaultTimeout bounds how long a caller waits for a provisioning run.
// Stack updates that create a load balancer and certificate routinely take
// tens of minutes.
const DefaultTimeout = 60 * time.Minute

// activityInvoker calls an activity from the workflow context with the
// correct generic types. Created at construction time when concrete
// types are known.
type activityInvoker func(wfCtx workflow.Context, in any) (any, error)

// Engine implements [domain.WorkflowEngine] backed by go-workflows.
type Engine struct {
	Worker  *worker.Worker
	Client  *client.Client
	Timeout time.Duration
}

func (e *Engine) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return DefaultTimeout
}

// NewBackend returns a SQLite backend at path, or an in-memory one when path
// is empty.
func NewBackend(path string) backend.Backend {
	if path == "" {
		return wfsqlite.NewInMemoryBackend()
	}
	return wfsqlite.NewSqliteBackend(path)
}

func (e *Engine) ProvisionRunner(wf *domain.ProvisionWorkflow) (domain.ProvisionRunner, error) {
	invokers := make(map[string]activityInvoker)

	if err := registerActivity(e.Worker, invokers, wf.StartRecord()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.ResolveGraph()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.CheckPreflight()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.ApplyGraph()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.FinishRecord()); err != nil {
		return nil, err
	}

	wfFunc := func(ctx workflow.Context, req domain.ProvisionRequest) (domain.ProvisionResult, error) {
		runner := &durableRunner{wfCtx: ctx, invokers: invokers}
		res, err := wf.Run(runner, req)
		return res, encodeError(err)
	}

	if err := e.Worker.RegisterWorkflow(wfFunc, registry.WithName(wf.Name())); err != nil {
		return nil, errors.Wrapf(err, "register workflow %q", wf.Name())
	}

	return &provisionRunner{
		client:  e.Client,
		wfName:  wf.Name(),
		timeout: e.timeout(),
	}, nil
}

// registerActivity registers a typed activity with go-workflows and
// creates a corresponding typed invoker. Activities are not retried: a
// failed stack update is reported, never resubmitted.
func registerActivity[I, O any](
	w *worker.Worker,
	invokers map[string]activityInvoker,
	activity domain.Activity[I, O],
) error {
	activityFn := func(ctx context.Context, in I) (O, error) {
		out, err := activity.Run(ctx, in)
		return out, encodeError(err)
	}

	if err := w.RegisterActivity(activityFn, registry.WithName(activity.Name())); err != nil {
		return errors.Wrapf(err, "register activity %q", activity.Name())
	}

	opts := workflow.DefaultActivityOptions
	opts.RetryOptions.MaxAttempts = 1

	invokers[activity.Name()] = func(wfCtx workflow.Context, in any) (any, error) {
		result, err := workflow.ExecuteActivity[O](wfCtx, opts, activity.Name(), in).Get(wfCtx)
		return result, decodeError(err)
	}

	return nil
}

type durableRunner struct {
	wfCtx    workflow.Context
	invokers map[string]activityInvoker
}

func (r *durableRunner) ID() string {
	return workflow.WorkflowInstance(r.wfCtx).InstanceID
}

func (r *durableRunner) Context() context.Context {
	return context.Background()
}

func (r *durableRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	invoke, ok := r.invokers[activity.Name()]
	if !ok {
		return nil, errors.Newf("activity %q not registered", activity.Name())
	}
	return invoke(r.wfCtx, in)
}

type provisionRunner struct {
	client  *client.Client
	wfName  string
	timeout time.Duration
}

func (r *provisionRunner) Run(ctx context.Context, req domain.ProvisionRequest) (domain.WorkflowHandle[domain.ProvisionResult], error) {
	instance, err := r.client.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{
		InstanceID: uuid.NewString(),
	}, r.wfName, req)
	if err != nil {
		return nil, errors.Wrap(err, "create workflow instance")
	}

	return &workflowHandle{
		client:   r.client,
		instance: instance,
		timeout:  r.timeout,
	}, nil
}

type workflowHandle struct {
	client   *client.Client
	instance *workflow.Instance
	timeout  time.Duration
}

func (h *workflowHandle) WorkflowID() string {
	return h.instance.InstanceID
}

func (h *workflowHandle) AwaitResult(ctx context.Context) (domain.ProvisionResult, error) {
	res, err := client.GetWorkflowResult[domain.ProvisionResult](ctx, h.client, h.instance, h.timeout)
	return res, decodeError(err)
}
