package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/globaltrial/registry-pipeline/internal/domain"
	"github.com/globaltrial/registry-pipeline/internal/jobs/runtime"
	"github.com/globaltrial/registry-pipeline/internal/platform/envutil"
	"github.com/globaltrial/registry-pipeline/internal/platform/logger"
	"github.com/globaltrial/registry-pipeline/internal/repos"
)

/*
Worker polls a fixed set of queues, leases jobs, and dispatches them to
the registered handler. Each worker processes one job at a time; a
handler may itself fan out internally with bounded parallelism
(§4.3), but the worker's own loop is strictly serial so that
Lease -> Dispatch -> Complete|Fail is easy to reason about under
panics and cancellation.
*/
type Worker struct {
	id        string
	log       *logger.Logger
	repo      *repos.JobRepo
	registry  *runtime.Registry
	queues    []string
	visibility time.Duration
}

func New(id string, log *logger.Logger, repo *repos.JobRepo, registry *runtime.Registry, queues []string, visibility time.Duration) *Worker {
	return &Worker{
		id:         id,
		log:        log.With("worker_id", id),
		repo:       repo,
		registry:   registry,
		queues:     queues,
		visibility: visibility,
	}
}

// Run loops until ctx is cancelled. On cancellation it stops leasing
// new jobs and returns. A job already in flight finishes normally
// (Pool waits for in-flight Dispatch calls before returning), but a
// job leased in the same instant shutdown began — after Lease
// returned, before Dispatch started — is released back to pending
// immediately instead of being dispatched with a cancelled context and
// left to recover via Fail's backoff or the visibility timeout (§4.3).
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.repo.Lease(ctx, w.queues, w.id, w.visibility)
		if err != nil {
			w.log.Error("lease failed", "error", err)
			w.sleep(ctx, ticker)
			continue
		}
		if job == nil {
			w.sleep(ctx, ticker)
			continue
		}

		if ctx.Err() != nil {
			if relErr := w.repo.Release(context.Background(), job.ID); relErr != nil {
				w.log.Error("release on shutdown failed", "job_id", job.ID, "error", relErr)
			}
			return
		}

		w.dispatch(ctx, job)
	}
}

func (w *Worker) sleep(ctx context.Context, ticker *time.Ticker) {
	select {
	case <-ctx.Done():
	case <-ticker.C:
	}
}

func (w *Worker) dispatch(ctx context.Context, job *domain.Job) {
	handler, ok := w.registry.Get(job.Type)
	if !ok {
		_ = w.repo.Fail(ctx, job.ID, missingHandlerError{JobType: job.Type})
		return
	}

	jc, err := runtime.NewContext(ctx, job, w.repo)
	if err != nil {
		_ = w.repo.Fail(ctx, job.ID, err)
		return
	}

	w.runWithRecovery(jc, handler)
}

func (w *Worker) runWithRecovery(jc *runtime.Context, handler runtime.Handler) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("handler panicked", "job_id", jc.Job.ID, "job_type", jc.Job.Type, "panic", r)
			_ = jc.Fail(errFromRecover(r))
		}
	}()

	if err := handler.Run(jc); err != nil {
		w.log.Warn("handler returned error", "job_id", jc.Job.ID, "job_type", jc.Job.Type, "error", err)
		_ = jc.Fail(err)
		return
	}
}

type missingHandlerError struct {
	JobType string
}

func (e missingHandlerError) Error() string {
	return fmt.Sprintf("no handler registered for job_type=%s", e.JobType)
}

// panicError wraps a recovered panic value with an intentionally
// generic message so internal details never leak into last_error.
type panicError struct {
	Val any
}

func (e panicError) Error() string {
	return "handler panicked during execution"
}

func errFromRecover(v any) error {
	return panicError{Val: v}
}

// Pool runs a configurable number of Workers concurrently and waits
// for all of them to return on shutdown. Unlike a fixed-size Run, Pool
// also supports resizing at runtime via SetSize, which the orchestrator's
// auto-scale loop (§4.4) uses to grow or shrink the live worker count.
type Pool struct {
	log        *logger.Logger
	repo       *repos.JobRepo
	registry   *runtime.Registry
	queues     []string
	visibility time.Duration

	mu      sync.Mutex
	wg      sync.WaitGroup
	workers map[int]context.CancelFunc
	nextID  int
	closed  bool
}

func NewPool(log *logger.Logger, repo *repos.JobRepo, registry *runtime.Registry, queues []string) *Pool {
	return &Pool{
		log:        log,
		repo:       repo,
		registry:   registry,
		queues:     queues,
		visibility: envutil.Duration("JOB_VISIBILITY_TIMEOUT", 5*time.Minute),
		workers:    make(map[int]context.CancelFunc),
	}
}

// Run starts `concurrency` workers and blocks until ctx is cancelled
// and every worker has returned. This is the fixed-size entrypoint;
// the orchestrator-managed pool uses SetSize/Shutdown instead.
func (p *Pool) Run(ctx context.Context, concurrency int) {
	if concurrency <= 0 {
		concurrency = envutil.Int("WORKER_CONCURRENCY", 4)
	}
	p.SetSize(ctx, concurrency)
	<-ctx.Done()
	p.Shutdown()
}

// Size reports the number of currently running workers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// SetSize grows or shrinks the pool to exactly `target` workers,
// spawning or cancelling individual workers as needed. Workers
// cancelled by a shrink finish their current dispatch before exiting
// (runWithRecovery completes the in-flight handler call first).
func (p *Pool) SetSize(ctx context.Context, target int) {
	if target < 0 {
		target = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for len(p.workers) < target {
		id := p.nextID
		p.nextID++
		wctx, cancel := context.WithCancel(ctx)
		p.workers[id] = cancel
		w := New(fmt.Sprintf("worker-%d", id), p.log, p.repo, p.registry, p.queues, p.visibility)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.Run(wctx)
		}()
	}
	for id, cancel := range p.workers {
		if len(p.workers) <= target {
			break
		}
		cancel()
		delete(p.workers, id)
	}
}

// Shutdown cancels every worker and waits for them all to return.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	for id, cancel := range p.workers {
		cancel()
		delete(p.workers, id)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
