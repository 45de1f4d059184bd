// Package scraper drives one registries.Adapter end-to-end: enumerate,
// normalize, upsert, checkpoint, repeat, per §4.6. It implements
// runtime.Handler so the worker pool can dispatch scrape/incremental
// job types onto it directly.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/globaltrial/registry-pipeline/internal/domain"
	"github.com/globaltrial/registry-pipeline/internal/jobs/runtime"
	"github.com/globaltrial/registry-pipeline/internal/platform/logger"
	"github.com/globaltrial/registry-pipeline/internal/platform/processedset"
	"github.com/globaltrial/registry-pipeline/internal/registries"
	"github.com/globaltrial/registry-pipeline/internal/repos"
)

const (
	checkpointEvery         = 100
	checkpointType          = "enumerate_cursor"
	defaultFanout           = 10
	normalizationFailurePct = 0.05
	sweepWindow             = 30 * 24 * time.Hour
	defaultSweepLookback    = 2 * 365 * 24 * time.Hour
)

// Engine runs one registry's adapter to completion (or exhaustion of
// its cursor), persisting progress as it goes.
type Engine struct {
	log          *logger.Logger
	trials       *repos.TrialRepo
	checkpoints  *repos.CheckpointRepo
	scrapingJobs *repos.ScrapingJobRepo
	processedIDs processedset.Store
	fanout       int64
}

func New(log *logger.Logger, trials *repos.TrialRepo, checkpoints *repos.CheckpointRepo, scrapingJobs *repos.ScrapingJobRepo, processedIDs processedset.Store) *Engine {
	return &Engine{
		log:          log.With("component", "scraper"),
		trials:       trials,
		checkpoints:  checkpoints,
		scrapingJobs: scrapingJobs,
		processedIDs: processedIDs,
		fanout:       defaultFanout,
	}
}

// Run executes adapter from its last checkpoint (if any) to
// exhaustion, recording progress against scrapingJobID as it goes,
// then runs the date-window fallback sweep (§4.6 step 3) starting at
// sweepFrom. A zero sweepFrom defaults to defaultSweepLookback back
// from now. Per §4.6, a manual-import-required bulk adapter is not an
// error: the run completes with zero processed items and an
// info-level note in the error log (and the sweep is skipped, since a
// bulk adapter has nothing to page through).
func (e *Engine) Run(ctx context.Context, adapter registries.Adapter, scrapingJobID uint64, sweepFrom time.Time) error {
	cursor, processed, err := e.resume(ctx, scrapingJobID)
	if err != nil {
		return fmt.Errorf("resume checkpoint: %w", err)
	}

	failed := 0
	var totalEstimate *int

	sem := semaphore.NewWeighted(e.fanout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, next, total, err := adapter.Enumerate(ctx, cursor)
		if err != nil {
			if manualErr, ok := err.(*registries.ErrManualImportRequired); ok {
				_ = e.scrapingJobs.AppendError(ctx, scrapingJobID, manualErr.Error())
				return e.scrapingJobs.Complete(ctx, scrapingJobID)
			}
			_ = e.scrapingJobs.AppendError(ctx, scrapingJobID, err.Error())
			return fmt.Errorf("enumerate %s: %w", adapter.Registry(), err)
		}
		if total != nil {
			totalEstimate = total
		}
		if len(batch) == 0 && len(next) == 0 {
			break
		}

		batchFailed := e.processBatch(ctx, adapter, scrapingJobID, batch, sem)
		failed += batchFailed
		processed += len(batch)

		if len(batch) > 0 && float64(batchFailed)/float64(len(batch)) > normalizationFailurePct {
			_ = e.scrapingJobs.AppendError(ctx, scrapingJobID,
				fmt.Sprintf("normalization failure rate %d/%d exceeds threshold in batch", batchFailed, len(batch)))
		}

		progress, _ := json.Marshal(map[string]any{"processed": processed, "failed": failed, "total_estimate": totalEstimate})
		if err := e.scrapingJobs.UpdateProgress(ctx, scrapingJobID, processed, failed, progress); err != nil {
			e.log.Warn("progress update failed", "scraping_job_id", scrapingJobID, "error", err)
		}

		if processed%checkpointEvery < len(batch) {
			if err := e.checkpoints.Persist(ctx, scrapingJobID, checkpointType, next, processed); err != nil {
				e.log.Warn("checkpoint persist failed", "scraping_job_id", scrapingJobID, "error", err)
			}
		}

		cursor = next
		if len(cursor) == 0 {
			break
		}
	}

	if err := e.checkpoints.Persist(ctx, scrapingJobID, checkpointType, cursor, processed); err != nil {
		e.log.Warn("final checkpoint persist failed", "scraping_job_id", scrapingJobID, "error", err)
	}

	if err := e.fallbackSweep(ctx, adapter, scrapingJobID, sweepFrom, &processed, &failed); err != nil {
		return fmt.Errorf("fallback sweep %s: %w", adapter.Registry(), err)
	}

	return e.scrapingJobs.Complete(ctx, scrapingJobID)
}

// fallbackSweep re-queries adapter in chunked date windows (§4.6 step
// 3) to catch records cursor pagination skipped; records already
// upserted are no-ops. Adapters that don't implement
// registries.DateRangeAdapter are skipped entirely rather than
// treated as an error.
func (e *Engine) fallbackSweep(ctx context.Context, adapter registries.Adapter, scrapingJobID uint64, from time.Time, processed, failed *int) error {
	dra, ok := adapter.(registries.DateRangeAdapter)
	if !ok {
		e.log.Info("adapter has no date-range fallback support, skipping sweep", "registry", adapter.Registry())
		return nil
	}
	if from.IsZero() {
		from = time.Now().UTC().Add(-defaultSweepLookback)
	}
	until := time.Now().UTC()

	sem := semaphore.NewWeighted(e.fanout)
	for start := from; start.Before(until); start = start.Add(sweepWindow) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		end := start.Add(sweepWindow)
		if end.After(until) {
			end = until
		}

		batch, err := dra.EnumerateRange(ctx, start, end)
		if err != nil {
			_ = e.scrapingJobs.AppendError(ctx, scrapingJobID,
				fmt.Sprintf("fallback sweep %s..%s: %v", start.Format("2006-01-02"), end.Format("2006-01-02"), err))
			continue
		}
		if len(batch) == 0 {
			continue
		}

		batchFailed := e.processBatch(ctx, adapter, scrapingJobID, batch, sem)
		*failed += batchFailed
		*processed += len(batch)
	}
	return nil
}

func (e *Engine) resume(ctx context.Context, scrapingJobID uint64) (registries.Cursor, int, error) {
	cp, err := e.checkpoints.Latest(ctx, scrapingJobID, checkpointType)
	if err != nil {
		return nil, 0, err
	}
	if cp == nil {
		return nil, 0, nil
	}
	return registries.Cursor(cp.Data), cp.ItemsProcessed, nil
}

// processBatch normalizes and upserts each record with bounded
// fan-out (default 10 concurrent, per §9's redesign guidance), and
// returns the count that failed normalization or upsert. Records
// already in scrapingJobID's processed-ID set are skipped outright —
// the set exists precisely so resume and the fallback sweep don't
// have to round-trip Postgres per record to discover that.
func (e *Engine) processBatch(ctx context.Context, adapter registries.Adapter, scrapingJobID uint64, batch []registries.RawRecord, sem *semaphore.Weighted) int {
	type result struct {
		failed bool
		id     string
	}
	results := make(chan result, len(batch))

	for _, rec := range batch {
		rec := rec
		if already, err := e.processedIDs.Contains(ctx, scrapingJobID, rec.NativeID); err == nil && already {
			results <- result{failed: false}
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			results <- result{failed: true}
			continue
		}
		go func() {
			defer sem.Release(1)
			failed, id := e.processOne(ctx, adapter, rec)
			results <- result{failed: failed, id: id}
		}()
	}

	failed := 0
	processedIDs := make([]string, 0, len(batch))
	for i := 0; i < len(batch); i++ {
		r := <-results
		if r.failed {
			failed++
		} else if r.id != "" {
			processedIDs = append(processedIDs, r.id)
		}
	}
	if err := e.processedIDs.Add(ctx, scrapingJobID, processedIDs); err != nil {
		e.log.Warn("processed-id set update failed", "scraping_job_id", scrapingJobID, "error", err)
	}
	return failed
}

// processOne normalizes and upserts rec, returning whether it failed
// and the native ID to record as processed. A record whose trial_key
// comes out malformed (§4.6's edge-case policy) is dropped without
// being added to the processed-ID set, so a future run with a
// corrected adapter can retry it.
func (e *Engine) processOne(ctx context.Context, adapter registries.Adapter, rec registries.RawRecord) (failed bool, id string) {
	trial, err := adapter.Normalize(rec)
	if err != nil {
		e.log.Warn("normalize failed", "registry", adapter.Registry(), "native_id", rec.NativeID, "error", err)
		return true, ""
	}
	if isMalformedTrialKey(trial.TrialKey, adapter.Registry()) {
		e.log.Warn("malformed trial_key dropped", "registry", adapter.Registry(), "native_id", rec.NativeID, "trial_key", trial.TrialKey)
		return true, ""
	}
	if err := e.trials.Upsert(ctx, trial); err != nil {
		e.log.Warn("upsert failed", "registry", adapter.Registry(), "trial_key", trial.TrialKey, "error", err)
		return true, ""
	}
	return false, rec.NativeID
}

// isMalformedTrialKey checks the "<registry>:<id>" convention every
// adapter's Normalize produces; a key missing either half can't be
// resolved back to a record and is treated as malformed.
func isMalformedTrialKey(key, registry string) bool {
	prefix := registry + ":"
	if !strings.HasPrefix(key, prefix) {
		return true
	}
	return strings.TrimSpace(strings.TrimPrefix(key, prefix)) == ""
}

// Handler adapts Engine to runtime.Handler so the worker pool can
// dispatch "scrape" job types onto it. The job payload carries the
// registry tag and the scraping_job_id Start already created.
type Handler struct {
	Engine   *Engine
	Adapters map[string]registries.Adapter
	JobType  domain.ScrapingJobType
}

func (h *Handler) Type() string { return string(h.JobType) }

func (h *Handler) Run(jc *runtime.Context) error {
	registryName, ok := jc.PayloadString("registry")
	if !ok {
		return fmt.Errorf("job payload missing registry")
	}
	scrapingJobID, ok := jc.PayloadInt("scraping_job_id")
	if !ok {
		return fmt.Errorf("job payload missing scraping_job_id")
	}
	adapter, ok := h.Adapters[registryName]
	if !ok {
		return fmt.Errorf("no adapter registered for registry %q", registryName)
	}

	var sweepFrom time.Time
	if windowStart, ok := jc.PayloadString("window_start"); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, windowStart); err == nil {
			sweepFrom = parsed
		}
	}

	if err := h.Engine.Run(jc.Ctx, adapter, uint64(scrapingJobID), sweepFrom); err != nil {
		return err
	}
	return jc.Succeed(map[string]any{"registry": registryName, "completed_at": time.Now().UTC()})
}
