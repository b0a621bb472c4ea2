// Package syncworkflow runs the provisioning pipeline inline in the calling
// goroutine. A crash mid-update leaves the deployment record pending; there
// is nothing to resume.
package syncworkflow

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/hms-dbmi/dseqr.aws/internal/domain"
)

// runs numbers the provisioning runs of this process.
var runs atomic.Int64

// Engine is the default --engine. Run returns only after the stack update
// has finished, so the handle it hands back is already complete.
type Engine struct{}

func (e *Engine) ProvisionRunner(wf *domain.ProvisionWorkflow) (domain.ProvisionRunner, error) {
	return &provisioner{wf: wf}, nil
}

type provisioner struct {
	wf *domain.ProvisionWorkflow
}

func (p *provisioner) Run(ctx context.Context, req domain.ProvisionRequest) (domain.WorkflowHandle[domain.ProvisionResult], error) {
	run := &inlineRun{id: "sync-" + strconv.FormatInt(runs.Add(1), 10), ctx: ctx}
	run.result, run.err = p.wf.Run(run, req)
	return run, nil
}

// inlineRun is both the runner handed to the pipeline and the handle
// returned to the caller. Each step executes directly under the caller's
// context.
type inlineRun struct {
	id     string
	ctx    context.Context
	result domain.ProvisionResult
	err    error
}

func (r *inlineRun) ID() string                { return r.id }
func (r *inlineRun) WorkflowID() string        { return r.id }
func (r *inlineRun) Context() context.Context { return r.ctx }

func (r *inlineRun) Run(step domain.Activity[any, any], in any) (any, error) {
	return step.Run(r.ctx, in)
}

func (r *inlineRun) AwaitResult(context.Context) (domain.ProvisionResult, error) {
	return r.result, r.err
}
