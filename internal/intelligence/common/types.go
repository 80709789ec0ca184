package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// ModelBackend interface
// ---------------------------------------------------------------------------

// ModelBackend invokes a model hosted by a serving runtime (TorchServe,
// Triton HTTP, a custom inference server).
type ModelBackend interface {
	Predict(ctx context.Context, req *PredictRequest) (*PredictResponse, error)
	Healthy(ctx context.Context) error
	Close() error
}

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrServingUnavailable = errors.New("serving unavailable")
	ErrInferenceTimeout   = errors.New("inference timeout")
	ErrBackendClosed      = errors.New("backend closed")
)

// ---------------------------------------------------------------------------
// Predict types
// ---------------------------------------------------------------------------

// PredictRequest carries the input payload for one inference call.
// InputData is an opaque JSON document understood by the model handler.
type PredictRequest struct {
	ModelName    string            `json:"model_name"`
	ModelVersion string            `json:"model_version,omitempty"`
	InputName    string            `json:"input_name,omitempty"`
	InputData    json.RawMessage   `json:"input_data"`
	OutputNames  []string          `json:"output_names,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Validate checks that the request names a model and carries input.
func (r *PredictRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidInput)
	}
	if r.ModelName == "" {
		return fmt.Errorf("%w: model_name is required", ErrInvalidInput)
	}
	if len(r.InputData) == 0 {
		return fmt.Errorf("%w: input_data is required", ErrInvalidInput)
	}
	return nil
}

// PredictResponse carries the named raw outputs of an inference call.
type PredictResponse struct {
	ModelName       string                     `json:"model_name"`
	ModelVersion    string                     `json:"model_version"`
	Outputs         map[string]json.RawMessage `json:"outputs"`
	InferenceTimeMs int64                      `json:"inference_time_ms"`
	Metadata        map[string]string          `json:"metadata,omitempty"`
}

// Output decodes the named output into v.
func (r *PredictResponse) Output(name string, v interface{}) error {
	raw, ok := r.Outputs[name]
	if !ok {
		return fmt.Errorf("output %q missing from response", name)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode output %q: %w", name, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// DecodeFloat64Matrix decodes a generic value (usually from JSON) into a
// [][]float64 matrix.
func DecodeFloat64Matrix(input interface{}) ([][]float64, error) {
	if input == nil {
		return nil, fmt.Errorf("input is nil")
	}
	if mat, ok := input.([][]float64); ok {
		return mat, nil
	}
	if b, ok := input.([]byte); ok {
		var raw interface{}
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, fmt.Errorf("unmarshal json: %w", err)
		}
		return DecodeFloat64Matrix(raw)
	}
	if b, ok := input.(json.RawMessage); ok {
		return DecodeFloat64Matrix([]byte(b))
	}

	slice, ok := input.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected []interface{}, got %T", input)
	}

	result := make([][]float64, len(slice))
	for i, rowRaw := range slice {
		rowSlice, ok := rowRaw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("row %d is not []interface{}, got %T", i, rowRaw)
		}
		row := make([]float64, len(rowSlice))
		for j, valRaw := range rowSlice {
			f, err := toFloat64(valRaw)
			if err != nil {
				return nil, fmt.Errorf("row %d col %d: %w", i, j, err)
			}
			row[j] = f
		}
		result[i] = row
	}
	return result, nil
}

func toFloat64(v interface{}) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case json.Number:
		return val.Float64()
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
}

// BackendType identifies how the tagging model is reached.
type BackendType string

const (
	BackendServing BackendType = "serving"
	BackendONNX    BackendType = "onnx"
	BackendSidecar BackendType = "sidecar"
)

// ParseBackendType validates a configured backend name.
func ParseBackendType(s string) (BackendType, error) {
	switch bt := BackendType(s); bt {
	case BackendServing, BackendONNX, BackendSidecar:
		return bt, nil
	default:
		return "", fmt.Errorf("%w: unknown backend type %q", ErrInvalidInput, s)
	}
}
