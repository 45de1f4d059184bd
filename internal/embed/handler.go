package embed

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/globaltrial/registry-pipeline/internal/domain"
	"github.com/globaltrial/registry-pipeline/internal/jobs/runtime"
	"github.com/globaltrial/registry-pipeline/internal/platform/logger"
	"github.com/globaltrial/registry-pipeline/internal/platform/vectorstore"
	"github.com/globaltrial/registry-pipeline/internal/repos"
)

const jobType = "enrich"

// trialNamespace must match the matcher package's constant of the same
// name — both name the vectorstore.Store namespace TrialEmbedding rows
// live under. Kept as a literal in each package rather than a shared
// import so neither package depends on the other for a single string.
const trialNamespace = "trials"

const embedBatchSize = 16

// Handler refreshes TrialEmbedding rows (and the backing vector store)
// for every active trial whose derived source text has changed since
// its embedding was last computed, per §3's staleness invariant.
type Handler struct {
	log        *logger.Logger
	embedder   Client
	vectors    vectorstore.Store
	embeddings *repos.EmbeddingRepo
	trials     *repos.TrialRepo
}

func NewHandler(log *logger.Logger, embedder Client, vectors vectorstore.Store, embeddings *repos.EmbeddingRepo, trials *repos.TrialRepo) *Handler {
	return &Handler{log: log.With("component", "enrich_handler"), embedder: embedder, vectors: vectors, embeddings: embeddings, trials: trials}
}

func (h *Handler) Type() string { return jobType }

func (h *Handler) Run(jc *runtime.Context) error {
	active, err := h.trials.AllActive(jc.Ctx)
	if err != nil {
		return fmt.Errorf("load active trials: %w", err)
	}

	byKey := make(map[string]domain.CanonicalTrial, len(active))
	currentHash := make(map[string]string, len(active))
	for _, t := range active {
		byKey[t.TrialKey] = t
		currentHash[t.TrialKey] = sourceTextHash(t)
	}

	stale, err := h.embeddings.Stale(jc.Ctx, currentHash)
	if err != nil {
		return fmt.Errorf("find stale embeddings: %w", err)
	}

	refreshed := 0
	for i := 0; i < len(stale); i += embedBatchSize {
		end := i + embedBatchSize
		if end > len(stale) {
			end = len(stale)
		}
		batchKeys := stale[i:end]
		texts := make([]string, len(batchKeys))
		for j, key := range batchKeys {
			texts[j] = sourceText(byKey[key])
		}

		vecs, err := h.embedder.Embed(jc.Ctx, texts)
		if err != nil {
			h.log.Warn("embed batch failed", "batch_start", i, "error", err)
			continue
		}

		upserts := make([]vectorstore.Vector, 0, len(batchKeys))
		for j, key := range batchKeys {
			trial := byKey[key]
			if err := h.embeddings.Upsert(jc.Ctx, key, vecs[j], currentHash[key]); err != nil {
				h.log.Warn("embedding upsert failed", "trial_key", key, "error", err)
				continue
			}
			upserts = append(upserts, vectorstore.Vector{
				ID:       key,
				Values:   vecs[j],
				Metadata: map[string]any{"source": trial.Source, "title": trial.TitleOfficial},
			})
			refreshed++
		}
		if len(upserts) > 0 {
			if err := h.vectors.Upsert(jc.Ctx, trialNamespace, upserts); err != nil {
				h.log.Warn("vector store upsert failed", "error", err)
			}
		}
	}

	return jc.Succeed(map[string]any{"examined": len(active), "refreshed": refreshed})
}

// sourceText is the text the matcher's ANN leg embeds trials against:
// title, description, and condition list, the same fields the
// keyword-search leg's full-text index covers.
func sourceText(t domain.CanonicalTrial) string {
	parts := []string{t.TitleOfficial, t.Description}
	parts = append(parts, t.Conditions.Data()...)
	return strings.Join(parts, " ")
}

func sourceTextHash(t domain.CanonicalTrial) string {
	sum := sha256.Sum256([]byte(sourceText(t)))
	return hex.EncodeToString(sum[:])
}
