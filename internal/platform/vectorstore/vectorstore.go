// Package vectorstore defines the ANN store contract the matcher uses
// to search TrialEmbedding vectors. The contract is intentionally
// narrow (upsert, query, delete) so any ANN backend can sit behind it;
// internal/platform/qdrant provides the concrete implementation.
package vectorstore

import "context"

// Vector is one embedding to upsert, keyed by the owning trial_key.
type Vector struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// VectorMatch is one ANN search result: a trial_key and its similarity
// score (higher is better, already normalized to the store's native
// distance metric).
type VectorMatch struct {
	ID    string
	Score float64
}

// Store is the ANN backend contract used by the matcher (§4.9) and the
// embedding-refresh handler (§6 `orchestrator enrich`).
type Store interface {
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	QueryMatches(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]VectorMatch, error)
	QueryIDs(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]string, error)
	DeleteIDs(ctx context.Context, namespace string, ids []string) error
}
