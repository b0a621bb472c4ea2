package domain

import "time"

// RecordID identifies one provisioning run.
type RecordID string

// RecordState indicates the outcome of a provisioning run.
type RecordState string

const (
	RecordStatePending   RecordState = "pending"
	RecordStateSucceeded RecordState = "succeeded"
	RecordStateFailed    RecordState = "failed"
)

// DeploymentRecord captures one provisioning run against a stack.
type DeploymentRecord struct {
	ID         RecordID
	Stack      string
	Action     Action
	Strategy   ComputeStrategy
	State      RecordState
	Outputs    map[string]string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time // nil while pending
}
