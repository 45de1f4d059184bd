package gcp

import (
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/globaltrial/registry-pipeline/internal/platform/envutil"
	"github.com/globaltrial/registry-pipeline/internal/platform/logger"
)

// ObjectAttrs mirrors the subset of GCS object metadata the bulk-file
// registry adapters need.
type ObjectAttrs struct {
	Size        int64
	ContentType string
	Updated     time.Time
	ETag        string
}

// BucketService is the read path for operator-dropped bulk registry
// files (EU CTR and WHO ICTRP ZIP/XML exports, per §4.5). Files are
// uploaded out-of-band by operators; this module only lists and reads.
type BucketService interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	DownloadFile(ctx context.Context, key string) (io.ReadCloser, error)
	OpenRangeReader(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
	GetObjectAttrs(ctx context.Context, key string) (*ObjectAttrs, error)
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	bucketName    string
}

// NewBucketService opens the bulk-file bucket named by
// REGISTRY_BULK_GCS_BUCKET_NAME.
func NewBucketService(ctx context.Context, log *logger.Logger) (BucketService, error) {
	bucketName := envutil.String("REGISTRY_BULK_GCS_BUCKET_NAME", "")
	if bucketName == "" {
		return nil, fmt.Errorf("missing env var REGISTRY_BULK_GCS_BUCKET_NAME")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	serviceLog := log.With("service", "BucketService")
	serviceLog.Info("object storage initialized", "bucket", bucketName)

	return &bucketService{
		log:           serviceLog,
		storageClient: client,
		bucketName:    bucketName,
	}, nil
}

func (bs *bucketService) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := bs.storageClient.Bucket(bs.bucketName).Objects(ctx, &storage.Query{Prefix: prefix})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

// readCloserWithCancel attaches a context cancel func to a reader's
// Close so the download's deadline spans the full read instead of
// firing the instant the function returns.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (bs *bucketService) DownloadFile(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Minute)
	r, err := bs.storageClient.Bucket(bs.bucketName).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open GCS reader for %q: %w", key, err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (bs *bucketService) OpenRangeReader(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Minute)
	r, err := bs.storageClient.Bucket(bs.bucketName).Object(key).NewRangeReader(ctx2, offset, length)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open GCS range reader for %q: %w", key, err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (bs *bucketService) GetObjectAttrs(ctx context.Context, key string) (*ObjectAttrs, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	attrs, err := bs.storageClient.Bucket(bs.bucketName).Object(key).Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch GCS object attrs for %q: %w", key, err)
	}
	return &ObjectAttrs{
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
		ETag:        attrs.Etag,
	}, nil
}
