package application

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/hms-dbmi/dseqr.aws/internal/domain"
)

// OrchestrationService executes the provisioning pipeline as a workflow.
type OrchestrationService struct {
	Workflow domain.ProvisionRunner
}

// Provision starts the provisioning workflow and waits for it to complete.
func (o *OrchestrationService) Provision(ctx context.Context, req domain.ProvisionRequest) (domain.ProvisionResult, error) {
	handle, err := o.Workflow.Run(ctx, req)
	if err != nil {
		return domain.ProvisionResult{}, errors.Wrap(err, "start provisioning workflow")
	}
	return handle.AwaitResult(ctx)
}
