package legal_ner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/internal/intelligence/common"
	"github.com/turtacn/LexNER/pkg/errors"
)

// Output names understood by BackendTagger.
const (
	OutputPredictions = "predictions"
	OutputEmissions   = "emissions"
	OutputOffsets     = "offset_mapping"
	OutputScores      = "scores"
)

// BackendTaggerConfig configures a tagger that delegates inference to a
// model-serving runtime.
type BackendTaggerConfig struct {
	ModelName    string
	ModelVersion string
	MaxLength    int
	Timeout      time.Duration
	Labels       LabelMap
	// Transitions decode "emissions" outputs.  Nil selects BIO-legal
	// transitions derived from Labels.
	Transitions *Transitions
}

// BackendTagger calls a common.ModelBackend.  The served model receives
// {"text", "max_length"} and answers either with decoded "predictions" or raw
// "emissions", always alongside "offset_mapping".
type BackendTagger struct {
	backend common.ModelBackend
	cfg     BackendTaggerConfig
	logger  logging.Logger
}

type backendInput struct {
	Text      string `json:"text"`
	MaxLength int    `json:"max_length"`
}

// NewBackendTagger wraps backend.
func NewBackendTagger(backend common.ModelBackend, cfg BackendTaggerConfig, logger logging.Logger) (*BackendTagger, error) {
	if backend == nil {
		return nil, errors.New(errors.ErrCodeNERModelNotAvailable, "backend is required")
	}
	if cfg.ModelName == "" {
		return nil, errors.InvalidParam("model name is required")
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = DefaultLabelMap()
	}
	if cfg.Transitions == nil {
		cfg.Transitions = BuildBIOTransitions(cfg.Labels)
	} else if err := cfg.Transitions.validate(cfg.Labels.Size()); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &BackendTagger{backend: backend, cfg: cfg, logger: logger}, nil
}

// Labels implements Tagger.
func (t *BackendTagger) Labels() LabelMap { return t.cfg.Labels }

// Tag implements Tagger.
func (t *BackendTagger) Tag(ctx context.Context, text string) (*TagOutput, error) {
	payload, err := json.Marshal(backendInput{Text: text, MaxLength: t.cfg.MaxLength})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "encode tagger input")
	}
	req := &common.PredictRequest{
		ModelName:    t.cfg.ModelName,
		ModelVersion: t.cfg.ModelVersion,
		InputName:    "text",
		InputData:    payload,
		OutputNames:  []string{OutputPredictions, OutputEmissions, OutputOffsets, OutputScores},
		Metadata:     map[string]string{"task": "ner", "text_runes": fmt.Sprintf("%d", len([]rune(text)))},
	}

	ctx2, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	resp, err := t.backend.Predict(ctx2, req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNERTaggerFailed, "model backend predict")
	}
	return t.decode(resp)
}

func (t *BackendTagger) decode(resp *common.PredictResponse) (*TagOutput, error) {
	var offsets [][2]int
	if err := resp.Output(OutputOffsets, &offsets); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNERTaggerFailed, "decode offsets")
	}

	out := &TagOutput{Offsets: offsets}
	if _, ok := resp.Outputs[OutputPredictions]; ok {
		if err := resp.Output(OutputPredictions, &out.LabelIDs); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeNERTaggerFailed, "decode predictions")
		}
		if _, ok := resp.Outputs[OutputScores]; ok {
			if err := resp.Output(OutputScores, &out.Scores); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeNERTaggerFailed, "decode scores")
			}
		}
	} else {
		emissions, err := common.DecodeFloat64Matrix(resp.Outputs[OutputEmissions])
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeNERTaggerFailed, "decode emissions")
		}
		out.LabelIDs, out.Scores = decodeEmissions(emissions, t.cfg.Transitions)
	}

	if len(out.LabelIDs) != len(out.Offsets) {
		t.logger.Warn("tagger output length mismatch",
			logging.Int("labels", len(out.LabelIDs)),
			logging.Int("offsets", len(out.Offsets)))
	}
	return out, nil
}

// decodeEmissions runs Viterbi and attaches per-token probabilities.
func decodeEmissions(emissions [][]float64, trans *Transitions) ([]int, []float64) {
	path := ViterbiDecode(emissions, trans)
	return path, pathScores(emissions, path)
}
