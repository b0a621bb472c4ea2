package domain

import "context"

// DeploymentRecordRepository persists the history of provisioning runs.
type DeploymentRecordRepository interface {
	Create(ctx context.Context, rec DeploymentRecord) error
	Get(ctx context.Context, id RecordID) (DeploymentRecord, error)
	Update(ctx context.Context, rec DeploymentRecord) error
	// List returns every record, most recent first.
	List(ctx context.Context) ([]DeploymentRecord, error)
	// ListByStack returns the records of one stack, most recent first.
	ListByStack(ctx context.Context, stack string) ([]DeploymentRecord, error)
}
