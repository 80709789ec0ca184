package common

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
)

// HTTPBackendConfig configures an HTTP model-serving backend.
type HTTPBackendConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// httpBackend implements ModelBackend against a JSON inference endpoint:
//
//	POST {base}/v1/models/{model}:predict   body: PredictRequest
//	GET  {base}/healthz
type httpBackend struct {
	cfg    HTTPBackendConfig
	client *http.Client
	logger logging.Logger
	closed atomic.Bool
}

// NewHTTPBackend creates a ModelBackend talking to cfg.BaseURL.
func NewHTTPBackend(cfg HTTPBackendConfig, logger logging.Logger) (ModelBackend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL cannot be empty", ErrInvalidInput)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &httpBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

func (b *httpBackend) Predict(ctx context.Context, req *PredictRequest) (*PredictResponse, error) {
	if b.closed.Load() {
		return nil, ErrBackendClosed
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal predict request: %w", err)
	}
	url := fmt.Sprintf("%s/v1/models/%s:predict", b.cfg.BaseURL, req.ModelName)

	var lastErr error
	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.cfg.RetryDelay * time.Duration(attempt)):
			}
		}
		resp, err := b.doPredict(ctx, url, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errors.Is(err, ErrServingUnavailable) {
			break
		}
		b.logger.Warn("predict attempt failed",
			logging.String("model", req.ModelName),
			logging.Int("attempt", attempt+1),
			logging.Err(err))
	}
	return nil, lastErr
}

func (b *httpBackend) doPredict(ctx context.Context, url string, body []byte) (*PredictResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrInferenceTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrServingUnavailable, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read predict response: %w", err)
	}
	if httpResp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrServingUnavailable, httpResp.StatusCode, truncate(data, 200))
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("predict failed: status %d: %s", httpResp.StatusCode, truncate(data, 200))
	}

	var out PredictResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode predict response: %w", err)
	}
	return &out, nil
}

func (b *httpBackend) Healthy(ctx context.Context) error {
	if b.closed.Load() {
		return ErrBackendClosed
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServingUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrServingUnavailable, resp.StatusCode)
	}
	return nil
}

func (b *httpBackend) Close() error {
	b.closed.Store(true)
	b.client.CloseIdleConnections()
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
