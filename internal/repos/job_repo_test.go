package repos_test

import (
	"context"
	"testing"
	"time"

	"github.com/globaltrial/registry-pipeline/internal/domain"
	"github.com/globaltrial/registry-pipeline/internal/repos"
	"github.com/globaltrial/registry-pipeline/internal/repos/testutil"
)

func TestJobRepoReleaseReturnsLeasedJobToPendingImmediately(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	ctx := context.Background()

	jobs := repos.NewJobRepo(tx)

	id, err := jobs.Enqueue(ctx, "scrape", "full", []byte(`{}`), 5, time.Time{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	leased, err := jobs.Lease(ctx, []string{"scrape"}, "worker-1", 5*time.Minute)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if leased == nil || leased.ID != id {
		t.Fatalf("expected to lease job %d, got %+v", id, leased)
	}

	if err := jobs.Release(ctx, id); err != nil {
		t.Fatalf("release: %v", err)
	}

	relLeased, err := jobs.Lease(ctx, []string{"scrape"}, "worker-2", 5*time.Minute)
	if err != nil {
		t.Fatalf("re-lease after release: %v", err)
	}
	if relLeased == nil || relLeased.ID != id {
		t.Fatal("expected Release to make the job immediately re-leasable by another worker")
	}
	if relLeased.Status != domain.JobProcessing {
		t.Fatalf("expected re-leased job status to be processing, got %s", relLeased.Status)
	}
}
