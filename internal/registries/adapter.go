package registries

import (
	"context"
	"time"

	"github.com/globaltrial/registry-pipeline/internal/domain"
)

// Cursor is the opaque resumption token an adapter hands back from
// Enumerate and the scraper engine persists in a Checkpoint. Adapters
// own the encoding; the engine only round-trips it.
type Cursor []byte

// RawRecord is one not-yet-normalized record as received from a
// registry, along with the native identifier the adapter used to
// fetch it (useful for error logs and detail fetches).
type RawRecord struct {
	NativeID string
	Data     []byte
}

// Adapter is the contract every registry integration implements
// (§4.5). Normalize is a pure function: same input always yields the
// same CanonicalTrial, with no network or database access.
type Adapter interface {
	// Registry returns the adapter's source tag, e.g. "ctgov".
	Registry() string

	// Enumerate yields the next batch of raw records starting from
	// cursor (nil means "from the beginning"). A nil nextCursor means
	// enumeration is exhausted.
	Enumerate(ctx context.Context, cursor Cursor) (batch []RawRecord, nextCursor Cursor, totalEstimate *int, err error)

	// Fetch retrieves one record by native registry ID, for adapters
	// whose list endpoint is sparse and needs a detail call.
	Fetch(ctx context.Context, nativeID string) (RawRecord, error)

	// Normalize converts one raw record into a CanonicalTrial.
	Normalize(raw RawRecord) (*domain.CanonicalTrial, error)
}

// DateRangeAdapter is optionally implemented by adapters whose source
// can be queried by an explicit date window. The scraper engine's
// date-window fallback sweep (§4.6 step 3) uses it to catch records
// cursor pagination skipped; an adapter that doesn't implement it is
// simply excluded from the sweep rather than treated as an error,
// since some registries (notably the bulk-file ones) have no
// independent date-range query to fall back to.
type DateRangeAdapter interface {
	EnumerateRange(ctx context.Context, from, until time.Time) ([]RawRecord, error)
}
