package archive

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"vgclog/internal/config"
	"vgclog/internal/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader stores one object. A single call is a single attempt; retries
// belong to the caller.
type Uploader interface {
	Put(ctx context.Context, key string, body io.Reader, size int64) error
}

// S3Uploader puts archive objects into one bucket.
type S3Uploader struct {
	bucket  string
	timeout time.Duration
	client  *s3.Client
}

// NewS3Uploader loads the default AWS credential chain for cfg.Region.
//
// SDK retries are disabled: retry with backoff is done by retrier, and
// the two would otherwise multiply.
func NewS3Uploader(ctx context.Context, cfg config.Archive) (*S3Uploader, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	})

	return &S3Uploader{
		bucket:  cfg.Bucket,
		timeout: cfg.Timeout,
		client:  client,
	}, nil
}

// Put is one PutObject call bounded by the configured timeout.
func (u *S3Uploader) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/gzip"),
	})
	return err
}

// retrier runs an Uploader with exponential backoff.
type retrier struct {
	up       Uploader
	metrics  *metrics.Metrics
	attempts int
	base     time.Duration // first backoff
	max      time.Duration // backoff ceiling
}

func newRetrier(up Uploader, m *metrics.Metrics, attempts int) *retrier {
	if attempts <= 0 {
		attempts = 1
	}
	return &retrier{
		up:       up,
		metrics:  m,
		attempts: attempts,
		base:     200 * time.Millisecond,
		max:      2 * time.Second,
	}
}

// put uploads body under key, rewinding it before every attempt.
// Every failed attempt counts one archive put error. The context stops
// both the attempts and the backoff waits.
func (r *retrier) put(ctx context.Context, key string, body io.ReadSeeker, size int64) error {
	var lastErr error
	backoff := r.base

	for attempt := 1; attempt <= r.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("archive: rewind %s: %w", key, err)
		}

		err := r.up.Put(ctx, key, body, size)
		if err == nil {
			return nil
		}
		lastErr = err
		atomic.AddInt64(&r.metrics.ArchivePutErrors, 1)

		if attempt == r.attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > r.max {
				backoff = r.max
			}
		}
	}

	return fmt.Errorf("archive: put %s after %d attempts: %w", key, r.attempts, lastErr)
}
