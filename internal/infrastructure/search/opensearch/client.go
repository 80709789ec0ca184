package opensearch

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/turtacn/LexNER/internal/config"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/pkg/errors"
)

var (
	ErrInvalidConfig    = errors.New(errors.ErrCodeValidation, "invalid opensearch configuration")
	ErrConnectionFailed = errors.New(errors.ErrCodeSearchError, "opensearch connection failed")
)

// ClientConfig holds the configuration for the OpenSearch client.
type ClientConfig struct {
	Addresses           []string
	Username            string
	Password            string
	InsecureSkipVerify  bool
	Index               string
	BulkBatchSize       int
	MaxRetries          int
	RetryBackoff        time.Duration
	MaxIdleConnsPerHost int
}

// ClientConfigFrom maps the service configuration onto ClientConfig.
func ClientConfigFrom(cfg config.OpenSearchConfig) ClientConfig {
	return ClientConfig{
		Addresses:          cfg.Addresses,
		Username:           cfg.User,
		Password:           cfg.Password,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Index:              cfg.Index,
		BulkBatchSize:      cfg.BulkBatchSize,
	}
}

// Client wraps the OpenSearch client bound to the entity index.
type Client struct {
	client  *opensearch.Client
	config  ClientConfig
	logger  logging.Logger
	healthy atomic.Bool
}

// NewClient creates a client and verifies the cluster answers a ping.
func NewClient(ctx context.Context, cfg ClientConfig, logger logging.Logger) (*Client, error) {
	c, err := newClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		return nil, ErrConnectionFailed.WithCause(err)
	}
	return c, nil
}

func newClient(cfg ClientConfig, logger logging.Logger) (*Client, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Index == "" {
		cfg.Index = config.DefaultOpenSearchIndex
	}
	if cfg.BulkBatchSize <= 0 {
		cfg.BulkBatchSize = 500
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.MaxIdleConnsPerHost == 0 {
		cfg.MaxIdleConnsPerHost = 10
	}

	transport := &http.Transport{MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	backoff := cfg.RetryBackoff
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses:     cfg.Addresses,
		Username:      cfg.Username,
		Password:      cfg.Password,
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  func(int) time.Duration { return backoff },
		Transport:     transport,
		RetryOnStatus: []int{502, 503, 504, 429},
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSearchError, "failed to create opensearch client")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Client{client: client, config: cfg, logger: logger}, nil
}

// Ping checks the connection to OpenSearch.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.client.Ping(c.client.Ping.WithContext(ctx))
	if err != nil {
		c.healthy.Store(false)
		c.logger.Warn("opensearch ping failed", logging.Err(err))
		return errors.Wrap(err, errors.ErrCodeSearchError, "opensearch ping failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		c.healthy.Store(false)
		c.logger.Warn("opensearch ping returned error status", logging.Int("status", resp.StatusCode))
		return errors.New(errors.ErrCodeSearchError, "opensearch ping returned error status")
	}
	c.healthy.Store(true)
	return nil
}

// IsHealthy reports the outcome of the last ping.
func (c *Client) IsHealthy() bool { return c.healthy.Load() }

// Index returns the entity index name.
func (c *Client) Index() string { return c.config.Index }

// Close is a no-op kept for symmetry with the other backends.
func (c *Client) Close() error {
	c.logger.Info("opensearch client closed")
	return nil
}

// ValidateConfig validates the client configuration.
func ValidateConfig(cfg ClientConfig) error {
	if len(cfg.Addresses) == 0 {
		return ErrInvalidConfig
	}
	if cfg.MaxRetries < 0 {
		return errors.New(errors.ErrCodeValidation, "MaxRetries must be >= 0")
	}
	return nil
}

// handleErrorResponse turns a non-2xx response into an AppError carrying the
// cluster's error type and reason when present.
func handleErrorResponse(resp *opensearchapi.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var errResp struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Reason != "" {
		return errors.Newf(errors.ErrCodeSearchError, "opensearch error: %s - %s", errResp.Error.Type, errResp.Error.Reason)
	}
	return errors.Newf(errors.ErrCodeSearchError, "opensearch error status: %d", resp.StatusCode)
}
