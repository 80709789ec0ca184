package app

import (
	"context"
	"fmt"
	"time"

	"github.com/turtacn/LexNER/internal/config"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/internal/intelligence/common"
	"github.com/turtacn/LexNER/internal/intelligence/legal_ner"
)

const (
	servingMaxRetries = 2
	servingRetryDelay = 200 * time.Millisecond
)

// NewTagger returns a LazyTagger for the backend named in cfg. The model is
// not contacted until the first Tag call, so a missing model surfaces as a
// failed analysis rather than a failed start.
func NewTagger(cfg config.NERConfig, logger logging.Logger) (*legal_ner.LazyTagger, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	var load legal_ner.LoadFunc
	switch cfg.Backend {
	case "serving":
		load = func(ctx context.Context) (legal_ner.Tagger, error) {
			return newServingTagger(cfg, logger)
		}
	case "sidecar":
		load = func(ctx context.Context) (legal_ner.Tagger, error) {
			labels, err := loadLabels(cfg)
			if err != nil {
				return nil, err
			}
			t, err := legal_ner.NewHTTPTagger(legal_ner.HTTPTaggerConfig{
				BaseURL:   cfg.SidecarURL,
				Timeout:   cfg.Timeout,
				MaxLength: cfg.MaxLength,
				Labels:    labels,
			})
			if err != nil {
				return nil, err
			}
			return t, nil
		}
	case "onnx":
		load = func(ctx context.Context) (legal_ner.Tagger, error) {
			t, err := legal_ner.NewONNXTagger(onnxConfig(cfg))
			if err != nil {
				return nil, err
			}
			return t, nil
		}
	default:
		return nil, fmt.Errorf("unknown tagger backend %q", cfg.Backend)
	}

	return legal_ner.NewLazyTagger(func(ctx context.Context) (legal_ner.Tagger, error) {
		start := time.Now()
		t, err := load(ctx)
		if err != nil {
			logger.Error("failed to load tagger",
				logging.String("backend", cfg.Backend),
				logging.String("model", cfg.ModelName),
				logging.Err(err))
			return nil, err
		}
		logger.Info("tagger loaded",
			logging.String("backend", cfg.Backend),
			logging.String("model", cfg.ModelName),
			logging.Duration("elapsed", time.Since(start)))
		return t, nil
	}), nil
}

func newServingTagger(cfg config.NERConfig, logger logging.Logger) (legal_ner.Tagger, error) {
	labels, err := loadLabels(cfg)
	if err != nil {
		return nil, err
	}
	var transitions *legal_ner.Transitions
	if cfg.TransitionsPath != "" {
		if transitions, err = legal_ner.LoadTransitions(cfg.TransitionsPath, labels); err != nil {
			return nil, err
		}
	}
	backend, err := common.NewHTTPBackend(common.HTTPBackendConfig{
		BaseURL:    cfg.ServingURL,
		Timeout:    cfg.Timeout,
		MaxRetries: servingMaxRetries,
		RetryDelay: servingRetryDelay,
	}, logger)
	if err != nil {
		return nil, err
	}
	t, err := legal_ner.NewBackendTagger(backend, legal_ner.BackendTaggerConfig{
		ModelName:    cfg.ModelName,
		ModelVersion: cfg.ModelVersion,
		MaxLength:    cfg.MaxLength,
		Timeout:      cfg.Timeout,
		Labels:       labels,
		Transitions:  transitions,
	}, logger)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return t, nil
}

func loadLabels(cfg config.NERConfig) (legal_ner.LabelMap, error) {
	if cfg.LabelsPath == "" {
		return legal_ner.DefaultLabelMap(), nil
	}
	return legal_ner.LoadLabelMap(cfg.LabelsPath)
}

func onnxConfig(cfg config.NERConfig) legal_ner.ONNXConfig {
	oc := legal_ner.ONNXConfigFromDir(cfg.ModelDir)
	if cfg.LabelsPath != "" {
		oc.LabelsPath = cfg.LabelsPath
	}
	if cfg.TransitionsPath != "" {
		oc.TransitionsPath = cfg.TransitionsPath
	}
	oc.SharedLibraryPath = cfg.OnnxLibrary
	oc.MaxLength = cfg.MaxLength
	return oc
}
