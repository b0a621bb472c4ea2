package domain

import "context"

// Activity is one step of the provisioning pipeline: writing the pending
// record, resolving the graph, preflight, the stack update, closing the
// record. A step runs at most once per provisioning run; a failed stack
// update is reported, never resubmitted.
type Activity[I any, O any] interface {
	Name() string
	Run(ctx context.Context, in I) (O, error)
}

// DurableRunner executes the steps of one provisioning run on behalf of
// [ProvisionWorkflow.Run].
type DurableRunner interface {
	// ID identifies the run, e.g. "sync-3" or a go-workflows instance id.
	ID() string

	// Context is the caller's context under the sync engine and a
	// background context under the durable one, where steps execute on
	// the worker.
	Context() context.Context

	// Run executes one step. Pipeline code goes through [RunActivity].
	Run(step Activity[any, any], in any) (any, error)
}

// RunActivity executes step on runner with its concrete input and output
// types.
func RunActivity[I any, O any](runner DurableRunner, step Activity[I, O], in I) (O, error) {
	out, err := runner.Run(erasedActivity[I, O]{step}, in)
	if err != nil {
		var zero O
		return zero, err
	}
	return out.(O), nil
}

// WorkflowHandle tracks one provisioning run started by a [ProvisionRunner].
type WorkflowHandle[O any] interface {
	WorkflowID() string
	// AwaitResult blocks until the stack update has finished.
	AwaitResult(ctx context.Context) (O, error)
}

// ProvisionRunner starts provisioning runs.
type ProvisionRunner interface {
	Run(ctx context.Context, req ProvisionRequest) (WorkflowHandle[ProvisionResult], error)
}

// WorkflowEngine binds a [ProvisionWorkflow] to an execution strategy,
// selected on the command line with --engine.
type WorkflowEngine interface {
	ProvisionRunner(wf *ProvisionWorkflow) (ProvisionRunner, error)
}

// NewActivity names fn as a pipeline step. The name is the registration key
// under the durable engine and must not change between releases.
func NewActivity[I, O any](name string, fn func(context.Context, I) (O, error)) Activity[I, O] {
	return namedStep[I, O]{name: name, fn: fn}
}

type namedStep[I, O any] struct {
	name string
	fn   func(context.Context, I) (O, error)
}

func (s namedStep[I, O]) Name() string                             { return s.name }
func (s namedStep[I, O]) Run(ctx context.Context, in I) (O, error) { return s.fn(ctx, in) }

// erasedActivity hides the type parameters of a step from [DurableRunner].
type erasedActivity[I any, O any] struct{ step Activity[I, O] }

func (e erasedActivity[I, O]) Name() string { return e.step.Name() }
func (e erasedActivity[I, O]) Run(ctx context.Context, in any) (any, error) {
	return e.step.Run(ctx, in.(I))
}
