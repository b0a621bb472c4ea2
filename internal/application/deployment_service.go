// Package application wires the provisioning workflow to its callers.
package application

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/hms-dbmi/dseqr.aws/internal/domain"
)

// ProvisionInput is the caller-provided input for one provisioning run.
type ProvisionInput struct {
	Stack         string
	Raw           map[string]string
	SkipPreflight bool
}

// DeploymentService runs provisioning actions against a stack and reports
// the deployment history.
type DeploymentService struct {
	Resolver      *domain.Resolver
	Records       domain.DeploymentRecordRepository
	Orchestration *OrchestrationService
	Logger        *slog.Logger
	// NewID generates record ids; nil means random UUIDs.
	NewID func() domain.RecordID
}

// Up creates or updates the stack.
func (s *DeploymentService) Up(ctx context.Context, in ProvisionInput) (domain.DeploymentRecord, domain.ProvisionResult, error) {
	return s.provision(ctx, domain.ActionUp, in)
}

// Preview reports the changes an update would make.
func (s *DeploymentService) Preview(ctx context.Context, in ProvisionInput) (domain.DeploymentRecord, domain.ProvisionResult, error) {
	return s.provision(ctx, domain.ActionPreview, in)
}

// Destroy tears the stack down. A retained file system outlives it.
func (s *DeploymentService) Destroy(ctx context.Context, in ProvisionInput) (domain.DeploymentRecord, domain.ProvisionResult, error) {
	return s.provision(ctx, domain.ActionDestroy, in)
}

// Render resolves raw configuration without provisioning anything.
func (s *DeploymentService) Render(ctx context.Context, raw map[string]string) (domain.DeploymentGraph, error) {
	return s.Resolver.Resolve(ctx, raw)
}

// History returns the records of stack, or of every stack when stack is
// empty, most recent first.
func (s *DeploymentService) History(ctx context.Context, stack string) ([]domain.DeploymentRecord, error) {
	if stack == "" {
		return s.Records.List(ctx)
	}
	return s.Records.ListByStack(ctx, stack)
}

func (s *DeploymentService) provision(ctx context.Context, action domain.Action, in ProvisionInput) (domain.DeploymentRecord, domain.ProvisionResult, error) {
	if err := ValidateStackName(in.Stack); err != nil {
		return domain.DeploymentRecord{}, domain.ProvisionResult{}, err
	}

	id := s.newID()
	log := s.logger().With("stack", in.Stack, "action", action, "record", id)
	log.Info("provisioning started")

	result, err := s.Orchestration.Provision(ctx, domain.ProvisionRequest{
		RecordID:      id,
		Stack:         in.Stack,
		Action:        action,
		Raw:           in.Raw,
		SkipPreflight: in.SkipPreflight,
	})

	rec, getErr := s.Records.Get(ctx, id)
	if err != nil {
		log.Error("provisioning failed", "error", err)
		return rec, domain.ProvisionResult{}, err
	}
	if getErr != nil {
		return domain.DeploymentRecord{}, result, errors.Wrapf(getErr, "load record %s", id)
	}
	log.Info("provisioning finished", "state", rec.State, "summary", result.Summary)
	return rec, result, nil
}

func (s *DeploymentService) newID() domain.RecordID {
	if s.NewID != nil {
		return s.NewID()
	}
	return domain.RecordID(uuid.NewString())
}

func (s *DeploymentService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// ValidateStackName checks name is a usable stack name: non-empty and made
// of letters, digits, '-', '_' and '.'.
func ValidateStackName(name string) error {
	if name == "" {
		return errors.WithHint(
			errors.Wrap(domain.ErrInvalidArgument, "stack name is required"),
			"pass --stack",
		)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return errors.Wrapf(domain.ErrInvalidArgument, "stack name %q: invalid character %q", name, r)
		}
	}
	return nil
}
