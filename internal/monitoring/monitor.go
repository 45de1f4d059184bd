package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/globaltrial/registry-pipeline/internal/domain"
	"github.com/globaltrial/registry-pipeline/internal/platform/logger"
	"github.com/globaltrial/registry-pipeline/internal/platform/ratelimit"
	"github.com/globaltrial/registry-pipeline/internal/repos"
)

const (
	queueCheckInterval      = 1 * time.Minute
	scrapingCheckInterval   = 2 * time.Minute
	staleLockReapInterval   = 3 * time.Minute
	resourceCheckInterval   = 5 * time.Minute
	staleHeartbeatThreshold = 5 * time.Minute
	jobFailureRateThreshold = 0.10
	jobFailureRateWindow    = 1 * time.Hour
	jobLeaseVisibility      = 5 * time.Minute
)

// Monitor runs the periodic health checks from §4.7: queue depth and
// failure rate, scraping-job progress and stale heartbeats, stale
// job-lock reaping, and resource usage (db table sizes, rate-limit
// budget consumption).
type Monitor struct {
	log        *logger.Logger
	jobs       *repos.JobRepo
	scraping   *repos.ScrapingJobRepo
	metricRepo *repos.MetricRepo
	alerts     *repos.AlertRepo
	limiter    *ratelimit.Registry
	metrics    *Metrics
	db         *gorm.DB
	queues     []string
}

func NewMonitor(log *logger.Logger, jobs *repos.JobRepo, scraping *repos.ScrapingJobRepo, metricRepo *repos.MetricRepo, alerts *repos.AlertRepo, limiter *ratelimit.Registry, metrics *Metrics, db *gorm.DB, queues []string) *Monitor {
	return &Monitor{
		log:        log.With("component", "monitor"),
		jobs:       jobs,
		scraping:   scraping,
		metricRepo: metricRepo,
		alerts:     alerts,
		limiter:    limiter,
		metrics:    metrics,
		db:         db,
		queues:     queues,
	}
}

// Run starts all four periodic checks as independent goroutines and
// blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	go m.loop(ctx, queueCheckInterval, m.checkQueues)
	go m.loop(ctx, scrapingCheckInterval, m.checkScrapingJobs)
	go m.loop(ctx, staleLockReapInterval, m.reapStaleLocks)
	go m.loop(ctx, resourceCheckInterval, m.checkResources)
	<-ctx.Done()
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, check func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check(ctx)
		}
	}
}

// checkQueues samples queue depth by status and emits a critical alert
// when a queue's failure rate over the last hour exceeds 10% (§4.7).
func (m *Monitor) checkQueues(ctx context.Context) {
	counts, err := m.jobs.CountByStatus(ctx)
	if err != nil {
		m.log.Warn("queue depth query failed", "error", err)
		return
	}
	for status, n := range counts {
		m.metrics.SetQueueDepth("all", string(status), n)
	}

	since := time.Now().UTC().Add(-jobFailureRateWindow)
	for _, queue := range m.queues {
		stats, err := m.jobs.QueueStats(ctx, queue, since)
		if err != nil {
			m.log.Warn("queue stats query failed", "queue", queue, "error", err)
			continue
		}
		var total, failed int64
		for status, n := range stats {
			total += n
			if status == domain.JobFailed {
				failed += n
			}
		}
		if total == 0 {
			continue
		}
		rate := float64(failed) / float64(total)
		m.metrics.SetJobFailureRate(queue, rate)
		if rate > jobFailureRateThreshold {
			m.emitAlert(ctx, domain.AlertTypeError, domain.SeverityCritical,
				"elevated job failure rate",
				fmt.Sprintf("queue %q failure rate %.0f%% over the last %s", queue, rate*100, jobFailureRateWindow),
				map[string]any{"queue": queue, "failure_rate": rate})
		}
	}
}

// checkScrapingJobs fails any scraping job whose heartbeat has gone
// stale for more than 5 minutes (§4.7), alerting on it and recording
// the failed job's last progress ratio.
func (m *Monitor) checkScrapingJobs(ctx context.Context) {
	stale, err := m.scraping.StaleHeartbeats(ctx, staleHeartbeatThreshold)
	if err != nil {
		m.log.Warn("stale heartbeat query failed", "error", err)
		return
	}
	for _, job := range stale {
		if err := m.scraping.Fail(ctx, job.ID, "heartbeat stale beyond threshold"); err != nil {
			m.log.Warn("failed to mark stale scraping job failed", "scraping_job_id", job.ID, "error", err)
			continue
		}
		m.emitAlert(ctx, domain.AlertTypeError, domain.SeverityHigh,
			"scraping job heartbeat stale",
			fmt.Sprintf("scraping job %d (%s) has not reported in over %s, marked failed", job.ID, job.Registry, staleHeartbeatThreshold),
			map[string]any{"scraping_job_id": job.ID, "registry": job.Registry})

		if job.TotalItems != nil && *job.TotalItems > 0 {
			m.metrics.SetScrapingProgress(job.Registry, float64(job.ProcessedItems)/float64(*job.TotalItems))
		}
	}
}

// reapStaleLocks releases job leases whose worker never completed or
// failed the job within its visibility timeout (§4.7).
func (m *Monitor) reapStaleLocks(ctx context.Context) {
	released, err := m.jobs.ReleaseStale(ctx, jobLeaseVisibility)
	if err != nil {
		m.log.Warn("stale lock reap failed", "error", err)
		return
	}
	if released > 0 {
		m.log.Info("released stale job leases", "count", released)
	}
}

// checkResources records approximate table sizes and rate-limit
// budget usage per registry (§4.7).
func (m *Monitor) checkResources(ctx context.Context) {
	tables := []string{"clinical_trials", "trial_embeddings", "trial_duplicates", "job_queue", "scraping_jobs"}
	for _, table := range tables {
		var count int64
		if err := m.db.WithContext(ctx).Table(table).Count(&count).Error; err != nil {
			m.log.Warn("table row count failed", "table", table, "error", err)
			continue
		}
		m.metrics.SetTableRows(table, count)
		labels, _ := json.Marshal(map[string]string{"table": table})
		if err := m.metricRepo.Record(ctx, "db_table_rows", float64(count), labels); err != nil {
			m.log.Warn("table row metric persist failed", "table", table, "error", err)
		}
	}

	for _, registry := range []string{"ctgov", "isrctn", "ctis", "euctr", "ictrp", "nominatim"} {
		usage := m.limiter.Usage(registry)
		m.metrics.SetRateLimitUsage(registry, usage)
		if usage > 0.90 {
			m.emitAlert(ctx, domain.AlertTypeWarning, domain.SeverityMedium,
				"rate limit budget nearly exhausted",
				fmt.Sprintf("registry %q at %.0f%% of its rate-limit budget", registry, usage*100),
				map[string]any{"registry": registry, "usage": usage})
		}
	}
}

func (m *Monitor) emitAlert(ctx context.Context, t domain.AlertType, sev domain.AlertSeverity, title, message string, metadata map[string]any) {
	encoded, _ := json.Marshal(metadata)
	alert := &domain.Alert{Type: t, Severity: sev, Title: title, Message: message, Metadata: encoded}
	if err := m.alerts.Emit(ctx, alert); err != nil {
		m.log.Warn("alert emit failed", "title", title, "error", err)
		return
	}
	m.metrics.IncAlert(string(t), string(sev))
}
