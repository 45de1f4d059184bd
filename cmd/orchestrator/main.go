// Command orchestrator is the operational entrypoint: it starts the
// worker pool and cron driver, or fires one-shot operator commands
// against the same job queue a running `start` process drains, per
// §6's CLI surface.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/globaltrial/registry-pipeline/internal/db"
	"github.com/globaltrial/registry-pipeline/internal/dedup"
	"github.com/globaltrial/registry-pipeline/internal/domain"
	"github.com/globaltrial/registry-pipeline/internal/embed"
	"github.com/globaltrial/registry-pipeline/internal/geocode"
	"github.com/globaltrial/registry-pipeline/internal/jobs/runtime"
	"github.com/globaltrial/registry-pipeline/internal/jobs/worker"
	"github.com/globaltrial/registry-pipeline/internal/monitoring"
	"github.com/globaltrial/registry-pipeline/internal/orchestrator"
	"github.com/globaltrial/registry-pipeline/internal/platform/config"
	"github.com/globaltrial/registry-pipeline/internal/platform/envutil"
	"github.com/globaltrial/registry-pipeline/internal/platform/gcp"
	"github.com/globaltrial/registry-pipeline/internal/platform/httpclient"
	"github.com/globaltrial/registry-pipeline/internal/platform/logger"
	"github.com/globaltrial/registry-pipeline/internal/platform/processedset"
	"github.com/globaltrial/registry-pipeline/internal/platform/qdrant"
	"github.com/globaltrial/registry-pipeline/internal/platform/ratelimit"
	"github.com/globaltrial/registry-pipeline/internal/registries"
	"github.com/globaltrial/registry-pipeline/internal/registries/ctgov"
	"github.com/globaltrial/registry-pipeline/internal/registries/ctis"
	"github.com/globaltrial/registry-pipeline/internal/registries/euctr"
	"github.com/globaltrial/registry-pipeline/internal/registries/ictrp"
	"github.com/globaltrial/registry-pipeline/internal/registries/isrctn"
	"github.com/globaltrial/registry-pipeline/internal/repos"
	"github.com/globaltrial/registry-pipeline/internal/scraper"
)

// exit codes per §6.
const (
	exitOK             = 0
	exitOperationalErr = 1
	exitMisconfigured  = 2
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: orchestrator <start|scrape|incremental|dedupe|enrich|status> [flags]")
		os.Exit(exitMisconfigured)
	}

	log, err := logger.New(envutil.String("LOG_MODE", "production"))
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(exitMisconfigured)
	}

	svc, err := db.NewService(log)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(exitMisconfigured)
	}
	defer svc.Close()

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load registry config", "error", err)
		os.Exit(exitMisconfigured)
	}

	app := newApp(log, svc, cfg)

	switch os.Args[1] {
	case "start":
		app.runStart()
	case "scrape":
		app.runScrape(os.Args[2:], domain.ScrapeFull)
	case "incremental":
		app.runScrape(os.Args[2:], domain.ScrapeIncremental)
	case "dedupe":
		app.runDedupe(os.Args[2:])
	case "enrich":
		app.runEnrich()
	case "status":
		app.runStatus()
	default:
		fmt.Printf("unknown subcommand %q\n", os.Args[1])
		os.Exit(exitMisconfigured)
	}
}

// app bundles the dependencies every subcommand needs, built once at
// startup so `start` and the one-shot commands share identical wiring.
type app struct {
	log         *logger.Logger
	db          *db.Service
	cfg         *config.OrchestratorConfig
	jobs        *repos.JobRepo
	trials      *repos.TrialRepo
	scraping    *repos.ScrapingJobRepo
	checkpoints *repos.CheckpointRepo
	duplicates  *repos.DuplicateRepo
	embeddings  *repos.EmbeddingRepo
	geocodes    *repos.GeocodeRepo
	metricRepo  *repos.MetricRepo
	alerts      *repos.AlertRepo
	limiter     *ratelimit.Registry
	metrics     *monitoring.Metrics
	registry    *runtime.Registry
	adapters    map[string]registries.Adapter
	queueNames  []string
}

func newApp(log *logger.Logger, svc *db.Service, cfg *config.OrchestratorConfig) *app {
	gdb := svc.DB()
	limiter := ratelimit.NewRegistry()
	for _, rc := range cfg.Registries {
		limiter.Configure(rc.Name, rc.RequestsPerMinute)
	}

	queueNames := make([]string, 0, len(cfg.Queues))
	for _, q := range cfg.Queues {
		queueNames = append(queueNames, q.Name)
	}
	if len(queueNames) == 0 {
		queueNames = []string{"scrape", "dedupe", "enrich", "geocode"}
	}

	a := &app{
		log:         log,
		db:          svc,
		cfg:         cfg,
		jobs:        repos.NewJobRepo(gdb),
		trials:      repos.NewTrialRepo(gdb),
		scraping:    repos.NewScrapingJobRepo(gdb),
		checkpoints: repos.NewCheckpointRepo(gdb),
		duplicates:  repos.NewDuplicateRepo(gdb),
		embeddings:  repos.NewEmbeddingRepo(gdb),
		geocodes:    repos.NewGeocodeRepo(gdb),
		metricRepo:  repos.NewMetricRepo(gdb),
		alerts:      repos.NewAlertRepo(gdb),
		limiter:     limiter,
		metrics:     monitoring.New(),
		registry:    runtime.NewRegistry(),
		queueNames:  queueNames,
	}
	a.adapters = a.buildAdapters()
	a.registerHandlers()
	return a
}

// buildAdapters constructs one registries.Adapter per configured
// registry, dispatching on strategy: each HTTP registry gets its own
// httpclient.Client over the shared rate-limit registry; the two
// bulk-file registries share a GCS bucket reader.
func (a *app) buildAdapters() map[string]registries.Adapter {
	out := make(map[string]registries.Adapter, len(a.cfg.Registries))
	var bucket gcp.BucketService
	for _, rc := range a.cfg.Registries {
		switch rc.Strategy {
		case "bulk_file":
			if bucket == nil {
				svc, err := gcp.NewBucketService(context.Background(), a.log)
				if err != nil {
					a.log.Warn("bulk-file bucket unavailable, skipping adapter", "registry", rc.Name, "error", err)
					continue
				}
				bucket = svc
			}
			switch rc.Name {
			case "euctr":
				out[rc.Name] = euctr.New(bucket, rc.BulkFilePrefix)
			case "ictrp":
				out[rc.Name] = ictrp.New(bucket, rc.BulkFilePrefix)
			}
		default:
			client := httpclient.New(rc.Name, a.limiter, a.log)
			switch rc.Name {
			case "ctgov":
				out[rc.Name] = ctgov.New(client, rc.BaseURL)
			case "isrctn":
				out[rc.Name] = isrctn.New(client, rc.BaseURL)
			case "ctis":
				out[rc.Name] = ctis.New(client, rc.BaseURL)
			}
		}
	}
	return out
}

// registerHandlers wires every runtime.Handler this process can
// execute. `start` runs all of them; the one-shot subcommands only
// ever enqueue jobs, they never dispatch directly.
func (a *app) registerHandlers() {
	processedIDs, err := processedset.New(a.log)
	if err != nil {
		a.log.Warn("processed-id set unavailable, falling back to in-process set", "error", err)
		processedIDs = processedset.NewMemory()
	}
	engine := scraper.New(a.log, a.trials, a.checkpoints, a.scraping, processedIDs)
	for _, jobType := range []domain.ScrapingJobType{domain.ScrapeFull, domain.ScrapeIncremental, domain.ScrapeCondition} {
		h := &scraper.Handler{Engine: engine, Adapters: a.adapters, JobType: jobType}
		if err := a.registry.Register(h); err != nil {
			a.log.Error("register scraper handler failed", "job_type", jobType, "error", err)
		}
	}

	detector := dedup.NewDetector(a.log, a.trials, a.duplicates, a.metrics)
	merger := dedup.NewMerger(a.log, a.trials, a.duplicates)
	if err := a.registry.Register(dedup.NewHandler(detector, merger)); err != nil {
		a.log.Error("register dedup handler failed", "error", err)
	}

	embedder, err := embed.NewClient(a.log)
	if err != nil {
		a.log.Warn("embeddings client unavailable, enrich job type will fail fast", "error", err)
	} else {
		qdrantCfg, err := qdrant.ResolveConfigFromEnv()
		if err != nil {
			a.log.Warn("qdrant config unavailable, enrich job type will fail fast", "error", err)
		} else if vectors, err := qdrant.NewVectorStore(a.log, qdrantCfg); err != nil {
			a.log.Warn("vector store unavailable, enrich job type will fail fast", "error", err)
		} else {
			if err := a.registry.Register(embed.NewHandler(a.log, embedder, vectors, a.embeddings, a.trials)); err != nil {
				a.log.Error("register enrich handler failed", "error", err)
			}
		}
	}

	geoClient := geocode.New(a.log, a.limiter, a.geocodes, envutil.String("GEOCODE_USER_AGENT", ""))
	if err := a.registry.Register(geocode.NewHandler(geoClient, a.trials)); err != nil {
		a.log.Error("register geocode handler failed", "error", err)
	}
}

func (a *app) runStart() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	scale := orchestrator.ScaleConfig{Min: envutil.Int("WORKER_MIN", 2), Max: envutil.Int("WORKER_MAX", 20)}
	pool := worker.NewPool(a.log, a.jobs, a.registry, a.queueNames)
	registryNames := make([]string, 0, len(a.adapters))
	for name := range a.adapters {
		registryNames = append(registryNames, name)
	}
	orch := orchestrator.New(a.log, a.jobs, a.trials, a.scraping, a.metricRepo, pool, scale, registryNames)

	mon := monitoring.NewMonitor(a.log, a.jobs, a.scraping, a.metricRepo, a.alerts, a.limiter, a.metrics, a.db.DB(), a.queueNames)
	go mon.Run(ctx)

	metricsAddr := envutil.String("METRICS_ADDR", ":9090")
	srv := a.metrics.StartServer(a.log, metricsAddr)
	defer srv.Close()

	a.log.Info("orchestrator starting", "metrics_addr", metricsAddr, "min_workers", scale.Min, "max_workers", scale.Max)
	orch.Run(ctx)
	os.Exit(exitOK)
}

func (a *app) runScrape(args []string, jobType domain.ScrapingJobType) {
	fs := flag.NewFlagSet(string(jobType), flag.ExitOnError)
	since := fs.String("since", "", "ISO-8601 window start for incremental scrapes")
	fs.Parse(args)

	registryArg := ""
	if fs.NArg() > 0 {
		registryArg = fs.Arg(0)
	}

	names := []string{registryArg}
	if registryArg == "" {
		names = names[:0]
		for name := range a.adapters {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		a.log.Error("no registries configured")
		os.Exit(exitMisconfigured)
	}

	ctx := context.Background()

	// windowStart is only meaningful (and only sent) for incremental
	// scrapes; a full scrape's fallback sweep defaults to the engine's
	// full lookback window instead of being bounded to the last day.
	var windowStart time.Time
	if jobType == domain.ScrapeIncremental {
		windowStart = time.Now().UTC().Add(-24 * time.Hour)
		if *since != "" {
			parsed, err := time.Parse("2006-01-02", *since)
			if err != nil {
				a.log.Error("invalid --since value", "value", *since, "error", err)
				os.Exit(exitMisconfigured)
			}
			windowStart = parsed
		}
	}

	for _, name := range names {
		if _, ok := a.adapters[name]; !ok {
			a.log.Error("no adapter registered for registry", "registry", name)
			os.Exit(exitMisconfigured)
		}
		sj, err := a.scraping.Start(ctx, name, jobType, "cli")
		if err != nil {
			a.log.Error("start scraping job failed", "registry", name, "error", err)
			os.Exit(exitOperationalErr)
		}
		payload := map[string]any{
			"registry":        name,
			"scraping_job_id": sj.ID,
		}
		if !windowStart.IsZero() {
			payload["window_start"] = windowStart.Format(time.RFC3339Nano)
		}
		encoded, _ := json.Marshal(payload)
		if _, err := a.jobs.Enqueue(ctx, "scrape", string(jobType), encoded, 5, time.Time{}); err != nil {
			a.log.Error("enqueue scrape job failed", "registry", name, "error", err)
			os.Exit(exitOperationalErr)
		}
		a.log.Info("enqueued scrape job", "registry", name, "type", jobType)
	}
	os.Exit(exitOK)
}

func (a *app) runDedupe(args []string) {
	fs := flag.NewFlagSet("dedupe", flag.ExitOnError)
	batch := fs.Int("batch", 5000, "max trials examined per pass")
	fs.Parse(args)

	payload, _ := json.Marshal(map[string]any{"batch_size": *batch})
	if _, err := a.jobs.Enqueue(context.Background(), "dedupe", "deduplicate", payload, 10, time.Time{}); err != nil {
		a.log.Error("enqueue dedupe job failed", "error", err)
		os.Exit(exitOperationalErr)
	}
	a.log.Info("enqueued dedupe job", "batch_size", *batch)
	os.Exit(exitOK)
}

func (a *app) runEnrich() {
	if _, err := a.jobs.Enqueue(context.Background(), "enrich", "enrich", []byte("{}"), 5, time.Time{}); err != nil {
		a.log.Error("enqueue enrich job failed", "error", err)
		os.Exit(exitOperationalErr)
	}
	a.log.Info("enqueued enrich job")
	os.Exit(exitOK)
}

func (a *app) runStatus() {
	ctx := context.Background()
	byStatus, err := a.jobs.CountByStatus(ctx)
	if err != nil {
		a.log.Error("status job counts failed", "error", err)
		os.Exit(exitOperationalErr)
	}
	trialCounts, err := a.trials.CountsBySource(ctx)
	if err != nil {
		a.log.Error("status trial counts failed", "error", err)
		os.Exit(exitOperationalErr)
	}

	report := map[string]any{
		"jobs_by_status":    byStatus,
		"trials_by_source":  trialCounts,
		"registries_loaded": len(a.adapters),
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	os.Exit(exitOK)
}
