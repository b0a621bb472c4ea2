package application_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hms-dbmi/dseqr.aws/internal/application"
	"github.com/hms-dbmi/dseqr.aws/internal/domain"
	"github.com/hms-dbmi/dseqr.aws/internal/infrastructure/sqlite"
	"github.com/hms-dbmi/dseqr.aws/internal/infrastructure/syncworkflow"
	"github.com/hms-dbmi/dseqr.aws/internal/infrastructure/templatefs"
)

// fakeProvisioner answers every submission with fixed outputs, keyed by
// strategy the way the provisioning program exports them.
type fakeProvisioner struct {
	applied []domain.ApplyInput
	err     error
}

func (p *fakeProvisioner) Apply(_ context.Context, in domain.ApplyInput) (domain.ProvisionResult, error) {
	p.applied = append(p.applied, in)
	if p.err != nil {
		return domain.ProvisionResult{}, p.err
	}
	if in.Action == domain.ActionPreview {
		return domain.ProvisionResult{Summary: "create=12"}, nil
	}
	outputs := map[string]string{domain.OutputFileSystemID: "fs-new"}
	switch in.Graph.Topology.Strategy {
	case domain.ComputeStrategyFleet:
		outputs[domain.OutputEndpoint] = "lb-1.us-east-2.elb.amazonaws.com"
	case domain.ComputeStrategySpot:
		outputs[domain.OutputEndpoint] = "203.0.113.10"
	}
	return domain.ProvisionResult{Outputs: outputs, Summary: "succeeded"}, nil
}

type testHarness struct {
	deployments *application.DeploymentService
	records     *sqlite.RecordRepo
	provisioner *fakeProvisioner
}

func setup(t *testing.T) testHarness {
	t.Helper()
	db := sqlite.OpenTestDB(t)
	records := &sqlite.RecordRepo{DB: db}

	templates, err := templatefs.NewMemory(map[string]string{
		domain.DefaultTemplatePath: "server_name drugseqr.com;\n",
	})
	if err != nil {
		t.Fatal(err)
	}
	resolver := &domain.Resolver{Templates: templates}
	prov := &fakeProvisioner{}

	clock := time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)
	wf := &domain.ProvisionWorkflow{
		Resolver:    resolver,
		Provisioner: prov,
		Records:     records,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	}
	runner, err := (&syncworkflow.Engine{}).ProvisionRunner(wf)
	if err != nil {
		t.Fatal(err)
	}

	n := 0
	return testHarness{
		deployments: &application.DeploymentService{
			Resolver:      resolver,
			Records:       records,
			Orchestration: &application.OrchestrationService{Workflow: runner},
			NewID: func() domain.RecordID {
				n++
				return domain.RecordID(fmt.Sprintf("r%d", n))
			},
		},
		records:     records,
		provisioner: prov,
	}
}

func TestUp_FleetRecordsSuccess(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	rec, res, err := h.deployments.Up(ctx, application.ProvisionInput{
		Stack: "dev",
		Raw:   map[string]string{"ssh_key_name": "k"},
	})
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if rec.ID != "r1" || rec.State != domain.RecordStateSucceeded {
		t.Errorf("record = %+v", rec)
	}
	if rec.Strategy != domain.ComputeStrategyFleet || rec.Action != domain.ActionUp {
		t.Errorf("Strategy/Action = %s/%s", rec.Strategy, rec.Action)
	}
	if rec.Outputs[domain.OutputEndpoint] != "lb-1.us-east-2.elb.amazonaws.com" {
		t.Errorf("record outputs = %v", rec.Outputs)
	}
	if res.Summary != "succeeded" {
		t.Errorf("Summary = %q", res.Summary)
	}

	stored, err := h.records.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.FinishedAt == nil || !stored.FinishedAt.After(stored.StartedAt) {
		t.Errorf("StartedAt/FinishedAt = %v/%v", stored.StartedAt, stored.FinishedAt)
	}
}

func TestUp_ConfigErrorRecordsFailure(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	rec, _, err := h.deployments.Up(ctx, application.ProvisionInput{
		Stack: "dev",
		Raw:   map[string]string{"ssh_key_name": "k", "efs_id": "fs-1"},
	})
	if !errors.Is(err, domain.ErrInconsistentStorageSpec) {
		t.Fatalf("Up = %v, want ErrInconsistentStorageSpec", err)
	}
	if rec.State != domain.RecordStateFailed || !strings.Contains(rec.Error, "efs_sg_id") {
		t.Errorf("record = %+v", rec)
	}
	if len(h.provisioner.applied) != 0 {
		t.Error("provisioner called for invalid configuration")
	}
}

func TestUp_ProvisionerErrorRecordsFailure(t *testing.T) {
	h := setup(t)
	h.provisioner.err = errors.New("stack is locked")

	rec, _, err := h.deployments.Up(context.Background(), application.ProvisionInput{
		Stack: "dev",
		Raw:   map[string]string{"ssh_key_name": "k"},
	})
	if err == nil || !strings.Contains(err.Error(), "stack is locked") {
		t.Fatalf("Up = %v", err)
	}
	if rec.State != domain.RecordStateFailed {
		t.Errorf("State = %q, want failed", rec.State)
	}
}

func TestPreviewAndDestroy(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	raw := map[string]string{"ssh_key_name": "k", "compute_strategy": "spot"}

	_, res, err := h.deployments.Preview(ctx, application.ProvisionInput{Stack: "dev", Raw: raw})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if res.Summary != "create=12" {
		t.Errorf("Summary = %q", res.Summary)
	}

	rec, _, err := h.deployments.Destroy(ctx, application.ProvisionInput{Stack: "dev", Raw: raw})
	if err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if rec.Action != domain.ActionDestroy || rec.Strategy != domain.ComputeStrategySpot {
		t.Errorf("record = %+v", rec)
	}

	var actions []domain.Action
	for _, in := range h.provisioner.applied {
		actions = append(actions, in.Action)
	}
	if len(actions) != 2 || actions[0] != domain.ActionPreview || actions[1] != domain.ActionDestroy {
		t.Errorf("actions = %v", actions)
	}
}

func TestHistory(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	raw := map[string]string{"ssh_key_name": "k"}

	for _, stack := range []string{"dev", "prod", "dev"} {
		if _, _, err := h.deployments.Up(ctx, application.ProvisionInput{Stack: stack, Raw: raw}); err != nil {
			t.Fatalf("Up %s: %v", stack, err)
		}
	}

	dev, err := h.deployments.History(ctx, "dev")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(dev) != 2 || dev[0].ID != "r3" || dev[1].ID != "r1" {
		t.Errorf("dev history = %v", ids(dev))
	}

	all, err := h.deployments.History(ctx, "")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(all) != 3 || all[0].ID != "r3" {
		t.Errorf("history = %v", ids(all))
	}
}

func TestRender_DoesNotProvision(t *testing.T) {
	h := setup(t)

	g, err := h.deployments.Render(context.Background(), map[string]string{
		"ssh_key_name": "k",
		"domain_name":  "example.org",
		"zone_id":      "Z1",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(g.Topology.Machine().UserData.Render(), "server_name example.org;") {
		t.Error("domain not substituted in rendered script")
	}
	if len(h.provisioner.applied) != 0 {
		t.Error("render must not provision")
	}
	all, _ := h.records.List(context.Background())
	if len(all) != 0 {
		t.Errorf("render created %d records", len(all))
	}
}

func TestValidateStackName(t *testing.T) {
	for _, name := range []string{"dev", "team_a.prod-2"} {
		if err := application.ValidateStackName(name); err != nil {
			t.Errorf("ValidateStackName(%q) = %v", name, err)
		}
	}
	for _, name := range []string{"", "has space", "a/b"} {
		if err := application.ValidateStackName(name); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("ValidateStackName(%q) = %v, want ErrInvalidArgument", name, err)
		}
	}
}

func TestUp_InvalidStackName(t *testing.T) {
	h := setup(t)
	_, _, err := h.deployments.Up(context.Background(), application.ProvisionInput{
		Stack: "",
		Raw:   map[string]string{"ssh_key_name": "k"},
	})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("Up = %v, want ErrInvalidArgument", err)
	}
	if len(errors.GetAllHints(err)) == 0 {
		t.Error("expected a hint")
	}
}

func ids(recs []domain.DeploymentRecord) []domain.RecordID {
	out := make([]domain.RecordID, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
