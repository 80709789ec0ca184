package minio

import (
	"context"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/turtacn/LexNER/internal/config"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/pkg/errors"
)

// ObjectAPI is the subset of *minio.Client the exporter relies on.
type ObjectAPI interface {
	ListBuckets(ctx context.Context) ([]minio.BucketInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
}

// Client wraps a MinIO connection bound to a single bucket.
type Client struct {
	api           ObjectAPI
	bucket        string
	region        string
	presignExpiry time.Duration
	logger        logging.Logger

	mu     sync.RWMutex
	closed bool
}

// NewClient connects to the endpoint in cfg and makes sure the bucket
// exists.
func NewClient(ctx context.Context, cfg config.MinIOConfig, log logging.Logger) (*Client, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	api, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create minio client")
	}

	c := NewClientWithAPI(api, cfg, log)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	c.logger.Info("MinIO client connected",
		logging.String("endpoint", cfg.Endpoint),
		logging.String("bucket", c.bucket),
		logging.Bool("ssl", cfg.UseSSL))
	return c, nil
}

// NewClientWithAPI wraps an existing API implementation without touching
// the network.
func NewClientWithAPI(api ObjectAPI, cfg config.MinIOConfig, log logging.Logger) *Client {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if cfg.Bucket == "" {
		cfg.Bucket = config.DefaultMinIOBucket
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = time.Hour
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &Client{
		api:           api,
		bucket:        cfg.Bucket,
		region:        cfg.Region,
		presignExpiry: cfg.PresignExpiry,
		logger:        log,
	}
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string { return c.bucket }

// EnsureBucket creates the bucket when it is missing.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.api.BucketExists(ctx, c.bucket)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to check bucket")
	}
	if exists {
		return nil
	}
	if err := c.api.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: c.region}); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create bucket "+c.bucket)
	}
	c.logger.Info("Bucket created", logging.String("bucket", c.bucket))
	return nil
}

// HealthCheck verifies the bucket is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.isClosed() {
		return errors.New(errors.ErrCodeServiceUnavailable, "minio client closed")
	}
	exists, err := c.api.BucketExists(ctx, c.bucket)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "minio unreachable")
	}
	if !exists {
		return errors.New(errors.ErrCodeServiceUnavailable, "bucket "+c.bucket+" missing")
	}
	return nil
}

// PresignedGetURL returns a time-limited download URL for key. A zero expiry
// uses the configured default.
func (c *Client) PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = c.presignExpiry
	}
	u, err := c.api.PresignedGetObject(ctx, c.bucket, key, expiry, nil)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to presign object")
	}
	return u.String(), nil
}

// Close marks the client closed. The underlying HTTP transport needs no
// teardown.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
