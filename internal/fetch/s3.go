package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// BucketOpener opens a bucket by name.
type BucketOpener func(ctx context.Context, bucket string) (*blob.Bucket, error)

// AnonymousS3 returns a BucketOpener for public S3 buckets. Requests are
// unsigned. endpoint may be empty for AWS; set it for S3-compatible stores.
func AnonymousS3(region, endpoint string) BucketOpener {
	return func(ctx context.Context, bucket string) (*blob.Bucket, error) {
		q := url.Values{}
		q.Set("anonymous", "true")
		if region != "" {
			q.Set("region", region)
		}
		if endpoint != "" {
			q.Set("endpoint", endpoint)
			q.Set("use_path_style", "true")
			if strings.HasPrefix(endpoint, "http://") {
				q.Set("disable_https", "true")
			}
		}
		return blob.OpenBucket(ctx, "s3://"+bucket+"?"+q.Encode())
	}
}

// SplitLocator splits "bucket/key/with/slashes" into bucket and key.
func SplitLocator(source string) (bucket, key string, err error) {
	source = strings.TrimPrefix(source, "s3://")
	bucket, key, ok := strings.Cut(source, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("fetch: invalid object locator %q, want bucket/key", source)
	}
	return bucket, key, nil
}

// S3 fetches objects addressed as bucket/key from an object store.
//
// Buckets are opened on first use and kept until Close, so every worker
// shares one client per bucket.
type S3 struct {
	open  BucketOpener
	cache cache

	mu      sync.Mutex
	buckets map[string]*blob.Bucket
}

// NewS3 returns a fetcher opening buckets with open.
func NewS3(open BucketOpener, opts Options) *S3 {
	return &S3{
		open:    open,
		cache:   cache{transport: "s3", opts: opts.withDefaults()},
		buckets: make(map[string]*blob.Bucket),
	}
}

// Fetch implements Fetcher.
func (s *S3) Fetch(ctx context.Context, source string, rng *Range, dest string) (int64, error) {
	open := func(ctx context.Context) (io.ReadCloser, int64, error) {
		bkt, key, err := s.bucket(ctx, source)
		if err != nil {
			return nil, 0, err
		}

		var offset, length int64 = 0, -1
		if rng != nil {
			offset, length = rng.Start, rng.length()
		}
		r, err := bkt.NewRangeReader(ctx, key, offset, length, nil)
		if err != nil {
			return nil, 0, mapBlobError(key, err)
		}
		// Size is the whole object; the range may be clipped at its end.
		expected := r.Size() - offset
		if length >= 0 && length < expected {
			expected = length
		}
		return r, expected, nil
	}
	return s.cache.fetch(ctx, open, source, rng, dest)
}

// Open implements Opener.
func (s *S3) Open(ctx context.Context, source string) (io.ReadCloser, error) {
	bkt, key, err := s.bucket(ctx, source)
	if err != nil {
		return nil, err
	}
	r, err := bkt.NewReader(ctx, key, nil)
	if err != nil {
		return nil, mapBlobError(key, err)
	}
	return r, nil
}

// Size implements Sizer.
func (s *S3) Size(ctx context.Context, source string) (int64, error) {
	bkt, key, err := s.bucket(ctx, source)
	if err != nil {
		return 0, err
	}
	attrs, err := bkt.Attributes(ctx, key)
	if err != nil {
		return 0, mapBlobError(key, err)
	}
	return attrs.Size, nil
}

// Close closes every bucket opened so far.
func (s *S3) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, bkt := range s.buckets {
		if err := bkt.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bucket %s: %w", name, err))
		}
		delete(s.buckets, name)
	}
	return errors.Join(errs...)
}

func (s *S3) bucket(ctx context.Context, source string) (*blob.Bucket, string, error) {
	name, key, err := SplitLocator(source)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if bkt, ok := s.buckets[name]; ok {
		return bkt, key, nil
	}
	bkt, err := s.open(ctx, name)
	if err != nil {
		return nil, "", fmt.Errorf("open bucket %s: %w", name, err)
	}
	s.buckets[name] = bkt
	return bkt, key, nil
}

func mapBlobError(key string, err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return err
}
