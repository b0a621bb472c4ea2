package domain

import "context"

// Action is what a provisioning run does with a stack.
type Action string

const (
	ActionUp      Action = "up"
	ActionPreview Action = "preview"
	ActionDestroy Action = "destroy"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionUp, ActionPreview, ActionDestroy:
		return true
	}
	return false
}

// Output names exported by every provisioned stack.
const (
	OutputEndpoint     = "endpoint"
	OutputFileSystemID = "fileSystemId"
	OutputURL          = "url"
	OutputExpiresAt    = "expiresAt"
)

// ApplyInput is one submission of a graph to the provisioning engine.
type ApplyInput struct {
	Stack  string
	Action Action
	Graph  DeploymentGraph
}

// ProvisionResult is what the engine reports after a run.
type ProvisionResult struct {
	Outputs map[string]string
	Summary string
}

// Provisioner submits a [DeploymentGraph] to the external provisioning
// engine. The engine owns diffing, ordering and rollback.
type Provisioner interface {
	Apply(ctx context.Context, in ApplyInput) (ProvisionResult, error)
}

// Preflight verifies that the cloud resources a graph refers to but does
// not create actually exist. Failures wrap [ErrPreflight].
type Preflight interface {
	Check(ctx context.Context, graph DeploymentGraph) error
}
