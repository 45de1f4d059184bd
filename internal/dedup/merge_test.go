package dedup

import (
	"context"
	"testing"

	"github.com/globaltrial/registry-pipeline/internal/domain"
	"github.com/globaltrial/registry-pipeline/internal/repos"
	"github.com/globaltrial/registry-pipeline/internal/repos/testutil"
)

func TestRunVerifiedMergesAndDeactivatesDuplicate(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	ctx := context.Background()

	trials := repos.NewTrialRepo(tx)
	edges := repos.NewDuplicateRepo(tx)
	merger := NewMerger(testutil.Logger(t), trials, edges)

	primary := &domain.CanonicalTrial{
		TrialKey:      "ctgov:NCT001",
		TitleOfficial: "A Study of Drug X",
		Source:        "ctgov",
		IsActive:      true,
	}
	duplicate := &domain.CanonicalTrial{
		TrialKey:      "euctr:2024-000123",
		TitleOfficial: "A Study of Drug X",
		Source:        "euctr",
		IsActive:      true,
	}
	if err := trials.Upsert(ctx, primary); err != nil {
		t.Fatalf("seed primary: %v", err)
	}
	if err := trials.Upsert(ctx, duplicate); err != nil {
		t.Fatalf("seed duplicate: %v", err)
	}

	edge := repos.NewEdge(primary.TrialKey, duplicate.TrialKey, 0.97, []string{"shared_external_id"}, domain.MatchExact, true)
	if err := edges.Create(ctx, &edge); err != nil {
		t.Fatalf("create edge: %v", err)
	}

	if err := merger.RunVerified(ctx, 10); err != nil {
		t.Fatalf("RunVerified: %v", err)
	}

	mergedDuplicate, err := trials.Get(ctx, duplicate.TrialKey)
	if err != nil {
		t.Fatalf("load duplicate after merge: %v", err)
	}
	if mergedDuplicate.IsActive {
		t.Fatal("expected duplicate to be deactivated after merge")
	}
	if mergedDuplicate.MergedIntoKey == nil || *mergedDuplicate.MergedIntoKey != primary.TrialKey {
		t.Fatalf("expected duplicate.merged_into_key = %q, got %v", primary.TrialKey, mergedDuplicate.MergedIntoKey)
	}

	got, err := trials.Get(ctx, primary.TrialKey)
	if err != nil {
		t.Fatalf("load primary after merge: %v", err)
	}
	if !got.IsActive {
		t.Fatal("expected primary to remain active after absorbing the duplicate")
	}
}

func TestRunVerifiedSkipsAlreadyInactiveTrial(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	ctx := context.Background()

	trials := repos.NewTrialRepo(tx)
	edges := repos.NewDuplicateRepo(tx)
	merger := NewMerger(testutil.Logger(t), trials, edges)

	primary := &domain.CanonicalTrial{TrialKey: "ctgov:NCT002", Source: "ctgov", IsActive: true}
	duplicate := &domain.CanonicalTrial{TrialKey: "euctr:2024-000456", Source: "euctr", IsActive: false}
	if err := trials.Upsert(ctx, primary); err != nil {
		t.Fatalf("seed primary: %v", err)
	}
	if err := trials.Upsert(ctx, duplicate); err != nil {
		t.Fatalf("seed duplicate: %v", err)
	}

	edge := repos.NewEdge(primary.TrialKey, duplicate.TrialKey, 0.97, nil, domain.MatchExact, true)
	if err := edges.Create(ctx, &edge); err != nil {
		t.Fatalf("create edge: %v", err)
	}

	if err := merger.RunVerified(ctx, 10); err != nil {
		t.Fatalf("RunVerified: %v", err)
	}

	still, err := edges.Verified(ctx, 10)
	if err != nil {
		t.Fatalf("load verified edges: %v", err)
	}
	found := false
	for _, e := range still {
		if e.ID == edge.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the edge for an already-inactive duplicate to be left untouched, not merged")
	}
}
