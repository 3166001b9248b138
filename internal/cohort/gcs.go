package cohort

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yungbote/phenoscope-backend/internal/logger"
)

// gcsBundleReader implements BundleReader over a GCS bucket. When
// STORAGE_EMULATOR_HOST is set the client talks to the emulator without
// authentication, which is how local development and integration tests run.
type gcsBundleReader struct {
	log    *logger.Logger
	client *storage.Client
	bucket string
}

func NewGCSBundleReader(ctx context.Context, baseLog *logger.Logger, bucket string) (BundleReader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("missing cohort bucket name")
	}

	var opts []option.ClientOption
	if host := strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")); host != "" {
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithEndpoint(strings.TrimRight(host, "/")+"/storage/v1/"),
		)
	} else {
		opts = append(opts, option.WithScopes(storage.ScopeReadOnly))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &gcsBundleReader{
		log:    baseLog.With("component", "GCSBundleReader"),
		client: client,
		bucket: bucket,
	}, nil
}

func (r *gcsBundleReader) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := r.client.Bucket(r.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("open gs://%s/%s: %w", r.bucket, key, err)
	}
	return rc, nil
}

func (r *gcsBundleReader) List(ctx context.Context, prefix string) ([]string, error) {
	it := r.client.Bucket(r.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", r.bucket, prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}
