package common

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T, h http.HandlerFunc, retries int) ModelBackend {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	b, err := NewHTTPBackend(HTTPBackendConfig{
		BaseURL:    srv.URL + "/",
		Timeout:    2 * time.Second,
		MaxRetries: retries,
		RetryDelay: time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return b
}

func TestNewHTTPBackend_RequiresBaseURL(t *testing.T) {
	_, err := NewHTTPBackend(HTTPBackendConfig{}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestHTTPBackend_Predict(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/models/legal-ner:predict", r.URL.Path)

		var req PredictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "legal-ner", req.ModelName)
		assert.JSONEq(t, `{"text":"Ankara"}`, string(req.InputData))

		_ = json.NewEncoder(w).Encode(PredictResponse{
			ModelName: "legal-ner",
			Outputs:   map[string]json.RawMessage{"label_ids": json.RawMessage(`[1,2]`)},
		})
	}, 0)

	resp, err := b.Predict(context.Background(), &PredictRequest{
		ModelName: "legal-ner",
		InputData: json.RawMessage(`{"text":"Ankara"}`),
	})
	require.NoError(t, err)

	var ids []int
	require.NoError(t, resp.Output("label_ids", &ids))
	assert.Equal(t, []int{1, 2}, ids)
	assert.Error(t, resp.Output("offsets", &ids))
}

func TestHTTPBackend_Predict_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"model_name":"m","outputs":{}}`))
	}, 2)

	_, err := b.Predict(context.Background(), &PredictRequest{ModelName: "m", InputData: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPBackend_Predict_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}, 3)

	_, err := b.Predict(context.Background(), &PredictRequest{ModelName: "m", InputData: json.RawMessage(`{}`)})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrServingUnavailable))
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPBackend_Predict_InvalidRequest(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {}, 0)
	_, err := b.Predict(context.Background(), &PredictRequest{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestHTTPBackend_HealthyAndClose(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}, 0)

	assert.NoError(t, b.Healthy(context.Background()))
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Healthy(context.Background()), ErrBackendClosed)
	_, err := b.Predict(context.Background(), &PredictRequest{ModelName: "m", InputData: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrBackendClosed)
}

func TestDecodeFloat64Matrix(t *testing.T) {
	m, err := DecodeFloat64Matrix([]byte(`[[1,2],[3.5,4]]`))
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2}, {3.5, 4}}, m)

	_, err = DecodeFloat64Matrix(nil)
	assert.Error(t, err)

	_, err = DecodeFloat64Matrix([]byte(`[[1,"x"]]`))
	assert.Error(t, err)
}

func TestParseBackendType(t *testing.T) {
	bt, err := ParseBackendType("onnx")
	require.NoError(t, err)
	assert.Equal(t, BackendONNX, bt)

	_, err = ParseBackendType("triton-grpc")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
