package processedset

import (
	"context"
	"testing"
)

func TestMemoryStoreAddThenContains(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	found, err := s.Contains(ctx, 1, "ctgov:NCT001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected id to be absent before Add")
	}

	if err := s.Add(ctx, 1, []string{"ctgov:NCT001", "ctgov:NCT002"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found, err = s.Contains(ctx, 1, "ctgov:NCT001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected id to be present after Add")
	}
}

func TestMemoryStoreScopesByScrapingJobID(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.Add(ctx, 1, []string{"ctgov:NCT001"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found, err := s.Contains(ctx, 2, "ctgov:NCT001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected id added under job 1 to not be visible under job 2")
	}
}

func TestMemoryStoreAddEmptyIsNoop(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.Add(ctx, 1, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found, err := s.Contains(ctx, 1, "anything")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected no membership after adding an empty slice")
	}
}

func TestMemoryStoreContainsOnUnknownJobIsFalse(t *testing.T) {
	s := NewMemory()
	found, err := s.Contains(context.Background(), 99, "whatever")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected an unknown scraping_job_id to report no membership")
	}
}

func TestMemoryStoreCloseIsNoop(t *testing.T) {
	s := NewMemory()
	if err := s.Close(); err != nil {
		t.Fatalf("expected Close to never error, got %v", err)
	}
}
