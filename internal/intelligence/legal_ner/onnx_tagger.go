package legal_ner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/turtacn/LexNER/pkg/errors"
)

// ONNXConfig locates an exported token-classification model bundle.
type ONNXConfig struct {
	ModelPath         string
	TokenizerPath     string
	LabelsPath        string
	TransitionsPath   string
	SharedLibraryPath string
	MaxLength         int
}

// ONNXConfigFromDir fills the conventional bundle layout under dir.
func ONNXConfigFromDir(dir string) ONNXConfig {
	return ONNXConfig{
		ModelPath:       filepath.Join(dir, "model.onnx"),
		TokenizerPath:   filepath.Join(dir, "tokenizer.json"),
		LabelsPath:      filepath.Join(dir, "extended_label_mappings.json"),
		TransitionsPath: filepath.Join(dir, "crf_transitions.json"),
		MaxLength:       DefaultMaxLength,
	}
}

// ONNXTagger runs the model in-process through onnxruntime.  Session
// buffers are shared, so Tag serializes on a mutex.
type ONNXTagger struct {
	tokenizer *UnigramTokenizer
	labels    LabelMap
	trans     *Transitions
	seqLen    int

	mu            sync.Mutex
	session       *ort.AdvancedSession
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

// NewONNXTagger loads the tokenizer, labels, optional CRF transitions and
// the ONNX session.
func NewONNXTagger(cfg ONNXConfig) (*ONNXTagger, error) {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNERModelNotAvailable, "model file missing").WithDetail(cfg.ModelPath)
	}

	labels, err := LoadLabelMap(cfg.LabelsPath)
	if err != nil {
		return nil, err
	}
	tok, err := LoadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, err
	}
	trans := BuildBIOTransitions(labels)
	if cfg.TransitionsPath != "" {
		if _, statErr := os.Stat(cfg.TransitionsPath); statErr == nil {
			if trans, err = LoadTransitions(cfg.TransitionsPath, labels); err != nil {
				return nil, err
			}
		}
	}

	if err := initRuntime(cfg.SharedLibraryPath, filepath.Dir(cfg.ModelPath)); err != nil {
		return nil, err
	}

	shape := ort.NewShape(1, int64(cfg.MaxLength))
	inputIDs, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNERModelNotAvailable, "allocate input_ids tensor")
	}
	mask, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		inputIDs.Destroy()
		return nil, errors.Wrap(err, errors.ErrCodeNERModelNotAvailable, "allocate attention_mask tensor")
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.MaxLength), int64(labels.Size())))
	if err != nil {
		inputIDs.Destroy()
		mask.Destroy()
		return nil, errors.Wrap(err, errors.ErrCodeNERModelNotAvailable, "allocate logits tensor")
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		[]ort.Value{inputIDs, mask},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		inputIDs.Destroy()
		mask.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, errors.ErrCodeNERModelNotAvailable, "create onnx session")
	}

	return &ONNXTagger{
		tokenizer:     tok,
		labels:        labels,
		trans:         trans,
		seqLen:        cfg.MaxLength,
		session:       session,
		inputIDs:      inputIDs,
		attentionMask: mask,
		output:        output,
	}, nil
}

var runtimeOnce struct {
	sync.Mutex
	done bool
}

func initRuntime(libPath, bundleDir string) error {
	runtimeOnce.Lock()
	defer runtimeOnce.Unlock()
	if runtimeOnce.done || ort.IsInitialized() {
		runtimeOnce.done = true
		return nil
	}
	if libPath == "" {
		libPath = resolveSharedLibraryPath(bundleDir)
	}
	if libPath == "" {
		return errors.New(errors.ErrCodeNERModelNotAvailable,
			"onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH")
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, errors.ErrCodeNERModelNotAvailable, "initialize onnxruntime")
	}
	runtimeOnce.done = true
	return nil
}

func resolveSharedLibraryPath(bundleDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}
	names := []string{"libonnxruntime.so", "libonnxruntime.dylib", "onnxruntime.dll"}
	dirs := []string{bundleDir, filepath.Join(bundleDir, "lib"), "/usr/local/lib", "/usr/lib", "/opt/homebrew/lib"}
	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}

// Labels implements Tagger.
func (t *ONNXTagger) Labels() LabelMap { return t.labels }

// Tag implements Tagger.
func (t *ONNXTagger) Tag(ctx context.Context, text string) (*TagOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTimeout, "tag cancelled")
	}
	enc := t.tokenizer.Encode(text, t.seqLen)
	numLabels := t.labels.Size()

	t.mu.Lock()
	if t.session == nil {
		t.mu.Unlock()
		return nil, errors.ModelNotAvailable().WithDetail("onnx session closed")
	}
	ids := t.inputIDs.GetData()
	mask := t.attentionMask.GetData()
	for i := range ids {
		ids[i] = t.tokenizer.PadID()
		mask[i] = 0
	}
	copy(ids, enc.IDs)
	copy(mask, enc.Mask)

	if err := t.session.Run(); err != nil {
		t.mu.Unlock()
		return nil, errors.Wrap(err, errors.ErrCodeNERTaggerFailed, "onnx run")
	}
	raw := t.output.GetData()
	emissions := make([][]float64, len(enc.IDs))
	for i := range emissions {
		row := make([]float64, numLabels)
		for j := range row {
			row[j] = float64(raw[i*numLabels+j])
		}
		emissions[i] = row
	}
	t.mu.Unlock()

	labelIDs, scores := decodeEmissions(emissions, t.trans)
	return &TagOutput{LabelIDs: labelIDs, Offsets: enc.Offsets, Scores: scores}, nil
}

// Close destroys the session and its tensors.
func (t *ONNXTagger) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return nil
	}
	err := t.session.Destroy()
	t.inputIDs.Destroy()
	t.attentionMask.Destroy()
	t.output.Destroy()
	t.session = nil
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "destroy onnx session")
	}
	return nil
}
