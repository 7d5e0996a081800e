package store

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	_ "gocloud.dev/blob/s3blob"  // S3 driver
	"gocloud.dev/gcerrors"
)

// bucketStore implements ObjectStore over a gocloud blob bucket.
type bucketStore struct {
	bucket  *blob.Bucket
	prefix  string
	uriBase string
}

func newLocalStore(baseDir, prefix string) (*bucketStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("store: create base directory %s: %w", baseDir, err)
	}

	bucket, err := fileblob.OpenBucket(baseDir, &fileblob.Options{
		CreateDir: true,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open local bucket %s: %w", baseDir, err)
	}

	abs, err := filepath.Abs(baseDir)
	if err != nil {
		abs = baseDir
	}

	return &bucketStore{
		bucket:  bucket,
		prefix:  prefix,
		uriBase: "file://" + abs,
	}, nil
}

func newGCSStore(bucketName, prefix string) (*bucketStore, error) {
	ctx := context.Background()

	bucket, err := blob.OpenBucket(ctx, "gs://"+bucketName)
	if err != nil {
		return nil, fmt.Errorf("store: open GCS bucket %s: %w", bucketName, err)
	}

	return &bucketStore{
		bucket:  bucket,
		prefix:  prefix,
		uriBase: "gs://" + bucketName,
	}, nil
}

// newS3Store opens an S3-compatible bucket. Works with AWS S3, Backblaze B2,
// Cloudflare R2, and MinIO.
func newS3Store(bucketName, prefix, endpoint, region string) (*bucketStore, error) {
	ctx := context.Background()

	bucketURL := fmt.Sprintf("s3://%s", bucketName)

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("store: open S3 bucket %s: %w", bucketName, err)
	}

	return &bucketStore{
		bucket:  bucket,
		prefix:  prefix,
		uriBase: "s3://" + bucketName,
	}, nil
}

// newBucketStore wraps an already-open bucket. Used by tests with memblob.
func newBucketStore(bucket *blob.Bucket, prefix, uriBase string) *bucketStore {
	return &bucketStore{bucket: bucket, prefix: prefix, uriBase: uriBase}
}

func (s *bucketStore) fullKey(key string) string {
	return s.prefix + key
}

func (s *bucketStore) Read(ctx context.Context, key string) ([]byte, error) {
	r, err := s.bucket.NewReader(ctx, s.fullKey(key), nil)
	if err != nil {
		return nil, fmt.Errorf("store: open reader for %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", key, err)
	}
	return data, nil
}

func (s *bucketStore) Write(ctx context.Context, key string, data []byte) error {
	w, err := s.bucket.NewWriter(ctx, s.fullKey(key), nil)
	if err != nil {
		return fmt.Errorf("store: create writer for %s: %w", key, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("store: write %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("store: close writer for %s: %w", key, err)
	}
	return nil
}

func (s *bucketStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, s.fullKey(key)); err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

func (s *bucketStore) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.bucket.Exists(ctx, s.fullKey(key))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("store: check %s: %w", key, err)
	}
	return ok, nil
}

func (s *bucketStore) List(ctx context.Context, prefix string) ([]string, error) {
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.fullKey(prefix)})

	var keys []string
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("store: list %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		keys = append(keys, strings.TrimPrefix(obj.Key, s.prefix))
	}
	return keys, nil
}

func (s *bucketStore) URI(key string) string {
	return s.uriBase + "/" + s.fullKey(key)
}

func (s *bucketStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
