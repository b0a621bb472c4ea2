// Package recordrepotest provides contract tests for
// [domain.DeploymentRecordRepository] implementations.
package recordrepotest

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hms-dbmi/dseqr.aws/internal/domain"
)

// Factory creates a fresh [domain.DeploymentRecordRepository] for each test.
type Factory func(t *testing.T) domain.DeploymentRecordRepository

// Run exercises the [domain.DeploymentRecordRepository] contract.
func Run(t *testing.T, factory Factory) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	pending := func(id domain.RecordID, stack string, started time.Time) domain.DeploymentRecord {
		return domain.DeploymentRecord{
			ID:        id,
			Stack:     stack,
			Action:    domain.ActionUp,
			State:     domain.RecordStatePending,
			StartedAt: started,
		}
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, pending("r1", "dev", now)); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Stack != "dev" {
			t.Errorf("Stack = %q, want %q", got.Stack, "dev")
		}
		if got.State != domain.RecordStatePending {
			t.Errorf("State = %q, want %q", got.State, domain.RecordStatePending)
		}
		if !got.StartedAt.Equal(now) {
			t.Errorf("StartedAt = %v, want %v", got.StartedAt, now)
		}
		if got.FinishedAt != nil {
			t.Errorf("FinishedAt = %v, want nil", got.FinishedAt)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, pending("r1", "dev", now)); err != nil {
			t.Fatalf("first Create: %v", err)
		}
		err := repo.Create(ctx, pending("r1", "dev", now))
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "missing")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		rec := pending("r1", "dev", now)
		_ = repo.Create(ctx, rec)

		finished := now.Add(10 * time.Minute)
		rec.State = domain.RecordStateSucceeded
		rec.Strategy = domain.ComputeStrategySpot
		rec.Outputs = map[string]string{domain.OutputEndpoint: "203.0.113.10"}
		rec.FinishedAt = &finished
		if err := repo.Update(ctx, rec); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, err := repo.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State != domain.RecordStateSucceeded {
			t.Errorf("State = %q, want %q", got.State, domain.RecordStateSucceeded)
		}
		if got.Strategy != domain.ComputeStrategySpot {
			t.Errorf("Strategy = %q, want %q", got.Strategy, domain.ComputeStrategySpot)
		}
		if got.Outputs[domain.OutputEndpoint] != "203.0.113.10" {
			t.Errorf("Outputs = %v", got.Outputs)
		}
		if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
			t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, finished)
		}
	})

	t.Run("UpdateNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.Update(context.Background(), pending("missing", "dev", now))
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Update: got %v, want ErrNotFound", err)
		}
	})

	t.Run("ListMostRecentFirst", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		_ = repo.Create(ctx, pending("r1", "dev", now))
		_ = repo.Create(ctx, pending("r2", "prod", now.Add(time.Hour)))
		_ = repo.Create(ctx, pending("r3", "dev", now.Add(2*time.Hour)))

		got, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("List: got %d, want 3", len(got))
		}
		if got[0].ID != "r3" || got[2].ID != "r1" {
			t.Errorf("List order = %s, %s, %s; want r3, r2, r1", got[0].ID, got[1].ID, got[2].ID)
		}
	})

	t.Run("ListOrdersWithinOneSecond", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		_ = repo.Create(ctx, pending("whole", "dev", now))
		_ = repo.Create(ctx, pending("half", "dev", now.Add(500*time.Millisecond)))
		_ = repo.Create(ctx, pending("tenth", "dev", now.Add(100*time.Millisecond)))
		_ = repo.Create(ctx, pending("nano", "dev", now.Add(time.Nanosecond)))

		got, err := repo.ListByStack(ctx, "dev")
		if err != nil {
			t.Fatalf("ListByStack: %v", err)
		}
		var ids []domain.RecordID
		for _, r := range got {
			ids = append(ids, r.ID)
		}
		want := []domain.RecordID{"half", "tenth", "nano", "whole"}
		if len(ids) != len(want) {
			t.Fatalf("ListByStack = %v, want %v", ids, want)
		}
		for i := range want {
			if ids[i] != want[i] {
				t.Fatalf("ListByStack = %v, want %v", ids, want)
			}
		}
		if !got[0].StartedAt.Equal(now.Add(500 * time.Millisecond)) {
			t.Errorf("StartedAt = %v, want %v", got[0].StartedAt, now.Add(500*time.Millisecond))
		}
	})

	t.Run("ListByStack", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		_ = repo.Create(ctx, pending("r1", "dev", now))
		_ = repo.Create(ctx, pending("r2", "prod", now.Add(time.Hour)))
		_ = repo.Create(ctx, pending("r3", "dev", now.Add(2*time.Hour)))

		got, err := repo.ListByStack(ctx, "dev")
		if err != nil {
			t.Fatalf("ListByStack: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("ListByStack: got %d, want 2", len(got))
		}
		if got[0].ID != "r3" {
			t.Errorf("first record = %s, want r3", got[0].ID)
		}
	})
}
