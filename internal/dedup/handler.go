package dedup

import (
	"github.com/globaltrial/registry-pipeline/internal/jobs/runtime"
)

// jobType is the job_type string the orchestrator's cron enqueues
// (internal/orchestrator.enqueueDedupe) and the worker dispatches on.
const jobType = "deduplicate"

// Handler runs one dedup pass per job: detect candidate duplicate
// pairs among recently-ingested trials, then fold every verified edge
// into its primary.
type Handler struct {
	Detector *Detector
	Merger   *Merger
}

func NewHandler(detector *Detector, merger *Merger) *Handler {
	return &Handler{Detector: detector, Merger: merger}
}

func (h *Handler) Type() string { return jobType }

func (h *Handler) Run(jc *runtime.Context) error {
	batchSize, _ := jc.PayloadInt("batch_size")
	if err := h.Detector.Run(jc.Ctx, batchSize); err != nil {
		return err
	}
	if err := h.Merger.RunVerified(jc.Ctx, 0); err != nil {
		return err
	}
	return jc.Succeed(map[string]any{"batch_size": batchSize})
}
