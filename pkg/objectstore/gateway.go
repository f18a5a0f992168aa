package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// keyPrefix is the root every archived object and its siblings live under,
// used to scope bucket_usage_bytes()'s ListObjects scan to teltubby's own
// objects rather than anything else a shared bucket might hold.
const keyPrefix = "teltubby/"

// ObjectStore is the gateway the ingestion pipeline and the worker use to
// put, read, and account for archived binaries. Implementations must never
// buffer a whole payload in memory: Put takes a stream and forwards it.
type ObjectStore interface {
	// Put uploads contentType under key with the bucket's default (private)
	// ACL. size is the declared length; pass -1 if unknown.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error

	// Head reports whether key exists and, if so, its size.
	Head(ctx context.Context, key string) (size int64, exists bool, err error)

	// GetStream opens a reader for key; the caller must close it.
	GetStream(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes key. Used only as best-effort cleanup when a dedup
	// register call reveals the just-uploaded object was redundant.
	Delete(ctx context.Context, key string) error

	// ListPrefix lists every key under prefix.
	ListPrefix(ctx context.Context, prefix string) ([]string, error)

	// BucketUsageBytes sums the size of every object under keyPrefix.
	BucketUsageBytes(ctx context.Context) (int64, error)

	// BucketQuotaBytes returns the configured quota; ok is false when
	// unset (unbounded).
	BucketQuotaBytes() (bytes int64, ok bool)

	// UsedRatio returns BucketUsageBytes / BucketQuotaBytes in [0,1]; ok is
	// false when the quota is unknown, matching the quota gate's
	// open-on-unknown rule.
	UsedRatio(ctx context.Context) (ratio float64, ok bool, err error)
}

// IsTransient classifies an error returned by an ObjectStore method as
// retryable: network failures, 5xx responses, and throttling. Anything
// else (4xx other than throttling) is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "InternalError", "SlowDown", "RequestTimeout", "ServiceUnavailable", "Throttling":
			return true
		}
		return resp.StatusCode >= 500 || resp.StatusCode == 429
	}
	var neterr net.Error
	return errors.As(err, &neterr)
}

// Gateway is the minio-go-backed ObjectStore used in production.
type Gateway struct {
	client    *minio.Client
	bucket    string
	quotaSet  bool
	quotaByte int64
}

// Config configures Gateway.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	// QuotaBytes is the soft cap the quota gate (C9) enforces. Zero means
	// unbounded.
	QuotaBytes int64
}

// NewGateway dials the S3-compatible endpoint and ensures the configured
// bucket exists.
func NewGateway(ctx context.Context, cfg Config) (*Gateway, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Gateway{
		client:    client,
		bucket:    cfg.Bucket,
		quotaSet:  cfg.QuotaBytes > 0,
		quotaByte: cfg.QuotaBytes,
	}, nil
}

// Put implements ObjectStore. The bucket's default ACL (private) is never
// overridden: this gateway never calls a policy-setting API.
func (g *Gateway) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := g.client.PutObject(ctx, g.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Head implements ObjectStore.
func (g *Gateway) Head(ctx context.Context, key string) (int64, bool, error) {
	info, err := g.client.StatObject(ctx, g.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("head %s: %w", key, err)
	}
	return info.Size, true, nil
}

// GetStream implements ObjectStore.
func (g *Gateway) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := g.client.GetObject(ctx, g.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return obj, nil
}

// Delete implements ObjectStore.
func (g *Gateway) Delete(ctx context.Context, key string) error {
	if err := g.client.RemoveObject(ctx, g.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// ListPrefix implements ObjectStore.
func (g *Gateway) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for info := range g.client.ListObjects(ctx, g.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, info.Err)
		}
		keys = append(keys, info.Key)
	}
	return keys, nil
}

// BucketUsageBytes implements ObjectStore by streaming ListObjects under
// keyPrefix and summing sizes; the backend is not assumed to expose a
// quota/usage API of its own.
func (g *Gateway) BucketUsageBytes(ctx context.Context) (int64, error) {
	var total int64
	for info := range g.client.ListObjects(ctx, g.bucket, minio.ListObjectsOptions{Prefix: keyPrefix, Recursive: true}) {
		if info.Err != nil {
			return 0, fmt.Errorf("list %s: %w", keyPrefix, info.Err)
		}
		total += info.Size
	}
	return total, nil
}

// BucketQuotaBytes implements ObjectStore.
func (g *Gateway) BucketQuotaBytes() (int64, bool) {
	return g.quotaByte, g.quotaSet
}

// UsedRatio implements ObjectStore.
func (g *Gateway) UsedRatio(ctx context.Context) (float64, bool, error) {
	if !g.quotaSet {
		return 0, false, nil
	}
	used, err := g.BucketUsageBytes(ctx)
	if err != nil {
		return 0, false, err
	}
	ratio := float64(used) / float64(g.quotaByte)
	return ratio, true, nil
}

// KeyForPrefix joins a resolved layout prefix and filename into a full
// object key, trimming any accidental double slash.
func KeyForPrefix(prefix, filename string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + strings.TrimPrefix(filename, "/")
}
