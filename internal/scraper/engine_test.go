package scraper

import (
	"context"
	"testing"
	"time"

	"github.com/globaltrial/registry-pipeline/internal/domain"
	"github.com/globaltrial/registry-pipeline/internal/platform/processedset"
	"github.com/globaltrial/registry-pipeline/internal/registries"
	"github.com/globaltrial/registry-pipeline/internal/repos"
	"github.com/globaltrial/registry-pipeline/internal/repos/testutil"
)

// fakeAdapter serves one fixed page of records and, if rangeRecords is
// set, implements registries.DateRangeAdapter for the fallback sweep.
type fakeAdapter struct {
	registry     string
	records      []registries.RawRecord
	rangeRecords []registries.RawRecord
	rangeCalls   int
}

func (a *fakeAdapter) Registry() string { return a.registry }

func (a *fakeAdapter) Enumerate(ctx context.Context, cursor registries.Cursor) ([]registries.RawRecord, registries.Cursor, *int, error) {
	if cursor != nil {
		return nil, nil, nil, nil
	}
	return a.records, nil, nil, nil
}

func (a *fakeAdapter) Fetch(ctx context.Context, nativeID string) (registries.RawRecord, error) {
	return registries.RawRecord{}, nil
}

func (a *fakeAdapter) Normalize(raw registries.RawRecord) (*domain.CanonicalTrial, error) {
	return &domain.CanonicalTrial{
		TrialKey:      a.registry + ":" + raw.NativeID,
		TitleOfficial: "title for " + raw.NativeID,
		Source:        a.registry,
		IsActive:      true,
	}, nil
}

func (a *fakeAdapter) EnumerateRange(ctx context.Context, from, until time.Time) ([]registries.RawRecord, error) {
	a.rangeCalls++
	return a.rangeRecords, nil
}

// malformedAdapter always normalizes to a trial_key missing the
// "<registry>:" prefix convention.
type malformedAdapter struct {
	fakeAdapter
}

func (a *malformedAdapter) Normalize(raw registries.RawRecord) (*domain.CanonicalTrial, error) {
	return &domain.CanonicalTrial{TrialKey: "not-a-valid-key", Source: a.registry, IsActive: true}, nil
}

func newEngine(t *testing.T) (*Engine, *repos.ScrapingJobRepo) {
	t.Helper()
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)

	trials := repos.NewTrialRepo(tx)
	checkpoints := repos.NewCheckpointRepo(tx)
	scrapingJobs := repos.NewScrapingJobRepo(tx)
	engine := New(testutil.Logger(t), trials, checkpoints, scrapingJobs, processedset.NewMemory())
	return engine, scrapingJobs
}

func TestEngineRunUpsertsAndCompletesJob(t *testing.T) {
	engine, scrapingJobs := newEngine(t)
	ctx := context.Background()

	job, err := scrapingJobs.Start(ctx, "ctgov", domain.ScrapeFull, "test")
	if err != nil {
		t.Fatalf("start scraping job: %v", err)
	}

	adapter := &fakeAdapter{
		registry: "ctgov",
		records:  []registries.RawRecord{{NativeID: "NCT001"}, {NativeID: "NCT002"}},
	}

	if err := engine.Run(ctx, adapter, job.ID, time.Time{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := engine.trials.Get(ctx, "ctgov:NCT001")
	if err != nil {
		t.Fatalf("load trial: %v", err)
	}
	if got == nil {
		t.Fatal("expected NCT001 to have been upserted")
	}

	// A negative maxAge makes StaleHeartbeats list every running job.
	running, err := scrapingJobs.StaleHeartbeats(ctx, -time.Minute)
	if err != nil {
		t.Fatalf("list running scraping jobs: %v", err)
	}
	for _, j := range running {
		if j.ID == job.ID {
			t.Fatal("expected Run to complete the scraping job, but it is still running")
		}
	}
}

func TestEngineRunDropsMalformedTrialKeyWithoutMarkingProcessed(t *testing.T) {
	engine, scrapingJobs := newEngine(t)
	ctx := context.Background()

	job, err := scrapingJobs.Start(ctx, "ctgov", domain.ScrapeFull, "test")
	if err != nil {
		t.Fatalf("start scraping job: %v", err)
	}

	adapter := &malformedAdapter{fakeAdapter{
		registry: "ctgov",
		records:  []registries.RawRecord{{NativeID: "NCT001"}},
	}}

	if err := engine.Run(ctx, adapter, job.ID, time.Time{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	already, err := engine.processedIDs.Contains(ctx, job.ID, "NCT001")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if already {
		t.Fatal("expected a malformed-trial_key record to never be added to the processed-id set")
	}
}

func TestEngineRunSkipsAlreadyProcessedRecords(t *testing.T) {
	engine, scrapingJobs := newEngine(t)
	ctx := context.Background()

	job, err := scrapingJobs.Start(ctx, "ctgov", domain.ScrapeFull, "test")
	if err != nil {
		t.Fatalf("start scraping job: %v", err)
	}
	if err := engine.processedIDs.Add(ctx, job.ID, []string{"NCT001"}); err != nil {
		t.Fatalf("preload processed set: %v", err)
	}

	adapter := &fakeAdapter{
		registry: "ctgov",
		records:  []registries.RawRecord{{NativeID: "NCT001"}},
	}

	if err := engine.Run(ctx, adapter, job.ID, time.Time{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := engine.trials.Get(ctx, "ctgov:NCT001")
	if err != nil {
		t.Fatalf("load trial: %v", err)
	}
	if got != nil {
		t.Fatal("expected a record already in the processed-id set to be skipped, not upserted")
	}
}

func TestEngineRunFallbackSweepSkipsAdaptersWithoutDateRangeSupport(t *testing.T) {
	engine, scrapingJobs := newEngine(t)
	ctx := context.Background()

	job, err := scrapingJobs.Start(ctx, "isrctn", domain.ScrapeFull, "test")
	if err != nil {
		t.Fatalf("start scraping job: %v", err)
	}

	adapter := &plainAdapter{registry: "isrctn"}
	if err := engine.Run(ctx, adapter, job.ID, time.Time{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestEngineRunFallbackSweepCallsEnumerateRangeForDateRangeAdapters(t *testing.T) {
	engine, scrapingJobs := newEngine(t)
	ctx := context.Background()

	job, err := scrapingJobs.Start(ctx, "ctgov", domain.ScrapeIncremental, "test")
	if err != nil {
		t.Fatalf("start scraping job: %v", err)
	}

	adapter := &fakeAdapter{registry: "ctgov"}
	sweepFrom := time.Now().UTC().Add(-48 * time.Hour)

	if err := engine.Run(ctx, adapter, job.ID, sweepFrom); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if adapter.rangeCalls == 0 {
		t.Fatal("expected the fallback sweep to call EnumerateRange at least once for a 48h window")
	}
}

// plainAdapter implements only registries.Adapter, with no
// EnumerateRange — the sweep must skip it rather than error.
type plainAdapter struct {
	registry string
}

func (a *plainAdapter) Registry() string { return a.registry }

func (a *plainAdapter) Enumerate(ctx context.Context, cursor registries.Cursor) ([]registries.RawRecord, registries.Cursor, *int, error) {
	return nil, nil, nil, nil
}

func (a *plainAdapter) Fetch(ctx context.Context, nativeID string) (registries.RawRecord, error) {
	return registries.RawRecord{}, nil
}

func (a *plainAdapter) Normalize(raw registries.RawRecord) (*domain.CanonicalTrial, error) {
	return &domain.CanonicalTrial{TrialKey: a.registry + ":" + raw.NativeID, Source: a.registry}, nil
}
