package domain

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ProvisionRequest is the input of one provisioning workflow run.
type ProvisionRequest struct {
	RecordID      RecordID
	Stack         string
	Action        Action
	Raw           map[string]string
	SkipPreflight bool
}

// FinishInput closes a record with the outcome of a run.
type FinishInput struct {
	RecordID RecordID
	Strategy ComputeStrategy
	Outputs  map[string]string
	Error    string
}

// ProvisionWorkflow resolves raw configuration into a graph and submits it
// to the provisioner, recording the run in the deployment history. Each
// step is an activity so a durable engine can checkpoint between them.
type ProvisionWorkflow struct {
	Resolver    *Resolver
	Preflight   Preflight // nil disables preflight checks
	Provisioner Provisioner
	Records     DeploymentRecordRepository
	Now         func() time.Time
}

func (w *ProvisionWorkflow) Name() string { return "provision-deployment" }

func (w *ProvisionWorkflow) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

// StartRecord persists a pending record for the run.
func (w *ProvisionWorkflow) StartRecord() Activity[ProvisionRequest, DeploymentRecord] {
	return NewActivity("start-record", func(ctx context.Context, req ProvisionRequest) (DeploymentRecord, error) {
		rec := DeploymentRecord{
			ID:        req.RecordID,
			Stack:     req.Stack,
			Action:    req.Action,
			State:     RecordStatePending,
			StartedAt: w.now(),
		}
		if err := w.Records.Create(ctx, rec); err != nil {
			return DeploymentRecord{}, errors.Wrapf(err, "create record %s", req.RecordID)
		}
		return rec, nil
	})
}

// ResolveGraph runs the full resolution pass.
func (w *ProvisionWorkflow) ResolveGraph() Activity[map[string]string, DeploymentGraph] {
	return NewActivity("resolve-graph", func(ctx context.Context, raw map[string]string) (DeploymentGraph, error) {
		return w.Resolver.Resolve(ctx, raw)
	})
}

// CheckPreflight verifies referenced cloud resources exist.
func (w *ProvisionWorkflow) CheckPreflight() Activity[DeploymentGraph, struct{}] {
	return NewActivity("preflight", func(ctx context.Context, graph DeploymentGraph) (struct{}, error) {
		if w.Preflight == nil {
			return struct{}{}, nil
		}
		return struct{}{}, w.Preflight.Check(ctx, graph)
	})
}

// ApplyGraph submits the graph to the provisioning engine.
func (w *ProvisionWorkflow) ApplyGraph() Activity[ApplyInput, ProvisionResult] {
	return NewActivity("apply-graph", func(ctx context.Context, in ApplyInput) (ProvisionResult, error) {
		return w.Provisioner.Apply(ctx, in)
	})
}

// FinishRecord marks the record succeeded or failed.
func (w *ProvisionWorkflow) FinishRecord() Activity[FinishInput, DeploymentRecord] {
	return NewActivity("finish-record", func(ctx context.Context, in FinishInput) (DeploymentRecord, error) {
		rec, err := w.Records.Get(ctx, in.RecordID)
		if err != nil {
			return DeploymentRecord{}, errors.Wrapf(err, "load record %s", in.RecordID)
		}
		finished := w.now()
		rec.FinishedAt = &finished
		rec.Outputs = in.Outputs
		if in.Strategy != "" {
			rec.Strategy = in.Strategy
		}
		if in.Error != "" {
			rec.State = RecordStateFailed
			rec.Error = in.Error
		} else {
			rec.State = RecordStateSucceeded
		}
		if err := w.Records.Update(ctx, rec); err != nil {
			return DeploymentRecord{}, errors.Wrapf(err, "update record %s", in.RecordID)
		}
		return rec, nil
	})
}

// Run executes the provisioning pipeline. Preflight is skipped for destroy,
// where the referenced resources may legitimately be gone.
func (w *ProvisionWorkflow) Run(runner DurableRunner, req ProvisionRequest) (ProvisionResult, error) {
	if !req.Action.Valid() {
		return ProvisionResult{}, errors.Wrapf(ErrInvalidArgument, "unknown action %q", req.Action)
	}

	if _, err := RunActivity(runner, w.StartRecord(), req); err != nil {
		return ProvisionResult{}, err
	}

	graph, err := RunActivity(runner, w.ResolveGraph(), req.Raw)
	if err != nil {
		return ProvisionResult{}, w.fail(runner, req.RecordID, "", err)
	}
	strategy := graph.Topology.Strategy

	if !req.SkipPreflight && req.Action != ActionDestroy {
		if _, err := RunActivity(runner, w.CheckPreflight(), graph); err != nil {
			return ProvisionResult{}, w.fail(runner, req.RecordID, strategy, err)
		}
	}

	result, err := RunActivity(runner, w.ApplyGraph(), ApplyInput{
		Stack:  req.Stack,
		Action: req.Action,
		Graph:  graph,
	})
	if err != nil {
		return ProvisionResult{}, w.fail(runner, req.RecordID, strategy, err)
	}

	if _, err := RunActivity(runner, w.FinishRecord(), FinishInput{
		RecordID: req.RecordID,
		Strategy: strategy,
		Outputs:  result.Outputs,
	}); err != nil {
		return ProvisionResult{}, err
	}
	return result, nil
}

// fail closes the record as failed and returns cause, combined with any
// error from recording the failure.
func (w *ProvisionWorkflow) fail(runner DurableRunner, id RecordID, strategy ComputeStrategy, cause error) error {
	_, err := RunActivity(runner, w.FinishRecord(), FinishInput{
		RecordID: id,
		Strategy: strategy,
		Error:    cause.Error(),
	})
	return errors.CombineErrors(cause, err)
}
