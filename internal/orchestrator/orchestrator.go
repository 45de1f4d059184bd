// Package orchestrator bootstraps the worker pool, auto-scales it on
// queue depth, and fires the recurring scrape/dedupe/report jobs
// described in §4.4. Unlike the teacher's stage-pipeline orchestrator
// (which drives a single job's multi-step workflow), this orchestrator
// drives the fleet of workers itself — a different problem that
// happens to share a name.
package orchestrator

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/globaltrial/registry-pipeline/internal/domain"
	"github.com/globaltrial/registry-pipeline/internal/jobs/worker"
	"github.com/globaltrial/registry-pipeline/internal/platform/logger"
	"github.com/globaltrial/registry-pipeline/internal/repos"
)

const (
	autoScaleInterval = 30 * time.Second
	cronCheckInterval = 1 * time.Minute

	scaleUpLoadThreshold   = 50.0
	scaleDownLoadThreshold = 10.0
	scaleDownFraction      = 0.20
)

// ScaleConfig bounds the auto-scaler (§4.4: defaults min=2, max=20).
type ScaleConfig struct {
	Min int
	Max int
}

func (c ScaleConfig) normalized() ScaleConfig {
	if c.Min <= 0 {
		c.Min = 2
	}
	if c.Max <= 0 || c.Max < c.Min {
		c.Max = 20
	}
	return c
}

// Orchestrator owns the worker pool's lifecycle: bootstrap at Min
// size, auto-scale every 30s against pending-job load, and fire
// scheduled jobs once per minute against wall-clock local time.
type Orchestrator struct {
	log            *logger.Logger
	jobs           *repos.JobRepo
	trials         *repos.TrialRepo
	scraping       *repos.ScrapingJobRepo
	metrics        *repos.MetricRepo
	pool           *worker.Pool
	scale          ScaleConfig
	registries     []string
	lastCronMinute time.Time
}

func New(log *logger.Logger, jobs *repos.JobRepo, trials *repos.TrialRepo, scraping *repos.ScrapingJobRepo, metrics *repos.MetricRepo, pool *worker.Pool, scale ScaleConfig, registries []string) *Orchestrator {
	return &Orchestrator{
		log:        log.With("component", "orchestrator"),
		jobs:       jobs,
		trials:     trials,
		scraping:   scraping,
		metrics:    metrics,
		pool:       pool,
		scale:      scale.normalized(),
		registries: registries,
	}
}

// Run bootstraps the pool at its minimum size, then blocks, running
// the auto-scale and cron loops until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	o.pool.SetSize(ctx, o.scale.Min)
	o.log.Info("orchestrator started", "min_workers", o.scale.Min, "max_workers", o.scale.Max)

	scaleTicker := time.NewTicker(autoScaleInterval)
	defer scaleTicker.Stop()
	cronTicker := time.NewTicker(cronCheckInterval)
	defer cronTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.pool.Shutdown()
			return
		case <-scaleTicker.C:
			o.autoScale(ctx)
		case <-cronTicker.C:
			o.checkCron(ctx)
		}
	}
}

// autoScale implements §4.4's load formula: load = pending /
// max(workers, 1). load > 50 grows by ceil(load/50) up to Max; load <
// 10 shrinks by 20% down to Min.
func (o *Orchestrator) autoScale(ctx context.Context) {
	pending, err := o.jobs.PendingCount(ctx, "")
	if err != nil {
		o.log.Warn("pending count failed", "error", err)
		return
	}
	workers := o.pool.Size()
	target := nextPoolSize(int(pending), workers, o.scale)
	if target == workers {
		return
	}
	verb := "scaling up"
	if target < workers {
		verb = "scaling down"
	}
	o.log.Info(verb, "pending", pending, "workers", workers, "target", target)
	o.pool.SetSize(ctx, target)
}

// nextPoolSize is autoScale's decision function, pulled out as a pure
// function of (pending, workers, bounds) so the scaling arithmetic can
// be tested without a running pool or database.
func nextPoolSize(pending, workers int, scale ScaleConfig) int {
	denom := workers
	if denom < 1 {
		denom = 1
	}
	load := float64(pending) / float64(denom)

	switch {
	case load > scaleUpLoadThreshold && workers < scale.Max:
		grow := int(math.Ceil(load / scaleUpLoadThreshold))
		target := workers + grow
		if target > scale.Max {
			target = scale.Max
		}
		return target
	case load < scaleDownLoadThreshold && workers > scale.Min:
		drop := int(math.Ceil(float64(workers) * scaleDownFraction))
		target := workers - drop
		if target < scale.Min {
			target = scale.Min
		}
		return target
	default:
		return workers
	}
}

// checkCron fires the three daily jobs from §4.4 exactly once per
// calendar minute they're due, tracked by lastCronMinute so a slow
// tick (or a missed tick under load) never double-fires within the
// same minute.
func (o *Orchestrator) checkCron(ctx context.Context) {
	now := time.Now().Local()
	minute := now.Truncate(time.Minute)
	if minute.Equal(o.lastCronMinute) {
		return
	}
	o.lastCronMinute = minute

	switch {
	case now.Hour() == 2 && now.Minute() == 0:
		o.enqueueIncrementalScrapes(ctx)
	case now.Hour() == 4 && now.Minute() == 0:
		o.enqueueDedupe(ctx)
	case now.Hour() == 6 && now.Minute() == 0:
		o.generateDailyReport(ctx)
	}
}

// enqueueIncrementalScrapes creates a tracked ScrapingJob row per
// registry (so the handler has somewhere to record heartbeat and
// progress) and enqueues the Job that will drive it, windowed to the
// last 24h per §4.4.
func (o *Orchestrator) enqueueIncrementalScrapes(ctx context.Context) {
	windowStart := time.Now().UTC().Add(-24 * time.Hour)
	for _, registry := range o.registries {
		sj, err := o.scraping.Start(ctx, registry, domain.ScrapeIncremental, "orchestrator-cron")
		if err != nil {
			o.log.Error("start scraping job failed", "registry", registry, "error", err)
			continue
		}
		payload, _ := json.Marshal(map[string]any{
			"registry":        registry,
			"scraping_job_id": sj.ID,
			"window_start":    windowStart,
		})
		if _, err := o.jobs.Enqueue(ctx, "scrape", string(domain.ScrapeIncremental), payload, 5, time.Time{}); err != nil {
			o.log.Error("enqueue incremental scrape failed", "registry", registry, "error", err)
		}
	}
}

func (o *Orchestrator) enqueueDedupe(ctx context.Context) {
	payload, _ := json.Marshal(map[string]any{"batch_size": 5000})
	if _, err := o.jobs.Enqueue(ctx, "dedupe", "deduplicate", payload, 10, time.Time{}); err != nil {
		o.log.Error("enqueue dedupe failed", "error", err)
	}
}

// generateDailyReport computes the day's trial and job-queue counts
// and persists each as a named metric sample, per §4.4's "generate and
// persist daily report" step — there is no separate report table;
// the time-series Metric store (§3, §6) already is the durable record.
func (o *Orchestrator) generateDailyReport(ctx context.Context) {
	counts, err := o.trials.CountsBySource(ctx)
	if err != nil {
		o.log.Error("daily report trial counts failed", "error", err)
		return
	}
	for source, n := range counts {
		labels, _ := json.Marshal(map[string]string{"source": source})
		if err := o.metrics.Record(ctx, "daily_report_trials_by_source", float64(n), labels); err != nil {
			o.log.Warn("daily report metric persist failed", "source", source, "error", err)
		}
	}

	statuses, err := o.jobs.CountByStatus(ctx)
	if err != nil {
		o.log.Error("daily report job counts failed", "error", err)
		return
	}
	for status, n := range statuses {
		labels, _ := json.Marshal(map[string]string{"status": string(status)})
		if err := o.metrics.Record(ctx, "daily_report_jobs_by_status", float64(n), labels); err != nil {
			o.log.Warn("daily report metric persist failed", "status", status, "error", err)
		}
	}

	o.log.Info("daily report generated", "trials_by_source", counts, "jobs_by_status", statuses)
}
