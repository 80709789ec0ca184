package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexNER/internal/config"
	"github.com/turtacn/LexNER/internal/intelligence/legal_ner"
)

func TestNewTagger_UnknownBackend(t *testing.T) {
	_, err := NewTagger(config.NERConfig{Backend: "tensorflow"}, nil)
	assert.Error(t, err)
}

func TestNewTagger_LoadsLazily(t *testing.T) {
	for _, backend := range []string{"serving", "sidecar", "onnx"} {
		t.Run(backend, func(t *testing.T) {
			tagger, err := NewTagger(config.NERConfig{
				Backend:    backend,
				ServingURL: "http://127.0.0.1:1",
				SidecarURL: "http://127.0.0.1:1",
				ModelDir:   t.TempDir(),
				MaxLength:  128,
				Timeout:    time.Second,
			}, nil)
			require.NoError(t, err)
			assert.False(t, tagger.Ready())
		})
	}
}

func TestNewTagger_MissingLabelsFileFailsOnFirstUse(t *testing.T) {
	tagger, err := NewTagger(config.NERConfig{
		Backend:    "sidecar",
		SidecarURL: "http://127.0.0.1:1",
		LabelsPath: filepath.Join(t.TempDir(), "labels.json"),
		MaxLength:  128,
	}, nil)
	require.NoError(t, err)

	_, err = tagger.Tag(context.Background(), "Ahmet Yılmaz")
	assert.Error(t, err)
	assert.False(t, tagger.Ready())
}

func TestOnnxConfig(t *testing.T) {
	oc := onnxConfig(config.NERConfig{
		ModelDir:    "/models/legal",
		LabelsPath:  "/etc/lexner/labels.json",
		OnnxLibrary: "/usr/lib/libonnxruntime.so",
		MaxLength:   256,
	})
	def := legal_ner.ONNXConfigFromDir("/models/legal")
	assert.Equal(t, def.ModelPath, oc.ModelPath)
	assert.Equal(t, def.TokenizerPath, oc.TokenizerPath)
	assert.Equal(t, def.TransitionsPath, oc.TransitionsPath)
	assert.Equal(t, "/etc/lexner/labels.json", oc.LabelsPath)
	assert.Equal(t, "/usr/lib/libonnxruntime.so", oc.SharedLibraryPath)
	assert.Equal(t, 256, oc.MaxLength)
}

func TestLoadLabels_Default(t *testing.T) {
	labels, err := loadLabels(config.NERConfig{})
	require.NoError(t, err)
	assert.Equal(t, legal_ner.DefaultLabelMap(), labels)
}
