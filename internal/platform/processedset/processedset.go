// Package processedset implements the per-ScrapingJob processed-ID
// membership set backing the Checkpoint Store (§2, §4.6 step 2b): a
// fast SADD/SISMEMBER check so the scraper engine's resume and
// fallback-sweep passes don't have to round-trip Postgres per record
// just to find out a record was already ingested.
package processedset

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/globaltrial/registry-pipeline/internal/platform/logger"
)

// Store tracks which native record IDs a ScrapingJob has already
// folded into a CanonicalTrial. A malformed record is never added
// (§4.6's edge-case policy), so future runs retry it.
type Store interface {
	Add(ctx context.Context, scrapingJobID uint64, ids []string) error
	Contains(ctx context.Context, scrapingJobID uint64, id string) (bool, error)
	Close() error
}

// New returns a Redis-backed Store when REDIS_ADDR is set, otherwise
// an in-process Store — a single-worker deployment needs no Redis at
// all.
func New(log *logger.Logger) (Store, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return NewMemory(), nil
	}
	return newRedisStore(log, addr)
}

// NewMemory returns the in-process Store directly, for callers that
// want the no-Redis fallback without consulting REDIS_ADDR (e.g. when
// a configured Redis has already failed to connect).
func NewMemory() Store { return newMemoryStore() }

type redisStore struct {
	log *logger.Logger
	rdb *goredis.Client
}

func newRedisStore(log *logger.Logger, addr string) (Store, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisStore{log: log.With("component", "processed_id_set"), rdb: rdb}, nil
}

func setKey(scrapingJobID uint64) string {
	return fmt.Sprintf("scrape:%d:processed_ids", scrapingJobID)
}

func (s *redisStore) Add(ctx context.Context, scrapingJobID uint64, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return s.rdb.SAdd(ctx, setKey(scrapingJobID), members...).Err()
}

func (s *redisStore) Contains(ctx context.Context, scrapingJobID uint64, id string) (bool, error) {
	return s.rdb.SIsMember(ctx, setKey(scrapingJobID), id).Result()
}

func (s *redisStore) Close() error { return s.rdb.Close() }

// memoryStore backs the no-Redis-configured case with the same
// semantics, scoped to this process's lifetime.
type memoryStore struct {
	mu   sync.Mutex
	sets map[uint64]map[string]struct{}
}

func newMemoryStore() Store {
	return &memoryStore{sets: make(map[uint64]map[string]struct{})}
}

func (s *memoryStore) Add(ctx context.Context, scrapingJobID uint64, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[scrapingJobID]
	if !ok {
		set = make(map[string]struct{}, len(ids))
		s.sets[scrapingJobID] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return nil
}

func (s *memoryStore) Contains(ctx context.Context, scrapingJobID uint64, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[scrapingJobID]
	if !ok {
		return false, nil
	}
	_, found := set[id]
	return found, nil
}

func (s *memoryStore) Close() error { return nil }
