package legal_ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/turtacn/LexNER/pkg/errors"
)

// HTTPTaggerConfig points at a tagging sidecar.
type HTTPTaggerConfig struct {
	BaseURL   string
	Timeout   time.Duration
	MaxLength int
	Labels    LabelMap
}

// HTTPTagger calls a model sidecar's POST /tag endpoint.  It is safe for
// concurrent use.
type HTTPTagger struct {
	url    string
	http   *http.Client
	maxLen int
	labels LabelMap
}

type tagRequest struct {
	Text      string `json:"text"`
	MaxLength int    `json:"max_length"`
}

type tagResponse struct {
	LabelIDs []int     `json:"label_ids"`
	Offsets  [][2]int  `json:"offsets"`
	Scores   []float64 `json:"scores,omitempty"`
}

// NewHTTPTagger creates a tagger for the sidecar at cfg.BaseURL
// (e.g. "http://ner-model:8001").
func NewHTTPTagger(cfg HTTPTaggerConfig) (*HTTPTagger, error) {
	if cfg.BaseURL == "" {
		return nil, errors.InvalidParam("tagger base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = DefaultLabelMap()
	}
	return &HTTPTagger{
		url:    strings.TrimSuffix(cfg.BaseURL, "/") + "/tag",
		http:   &http.Client{Timeout: cfg.Timeout},
		maxLen: cfg.MaxLength,
		labels: cfg.Labels,
	}, nil
}

// Labels implements Tagger.
func (t *HTTPTagger) Labels() LabelMap { return t.labels }

// Tag implements Tagger.
func (t *HTTPTagger) Tag(ctx context.Context, text string) (*TagOutput, error) {
	body, err := json.Marshal(tagRequest{Text: text, MaxLength: t.maxLen})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "encode tag request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNERTaggerFailed, "build tag request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNERModelNotAvailable, "tagger sidecar unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		code := errors.ErrCodeNERTaggerFailed
		if resp.StatusCode == http.StatusServiceUnavailable {
			code = errors.ErrCodeNERModelNotAvailable
		}
		return nil, errors.New(code, fmt.Sprintf("tagger sidecar returned %d", resp.StatusCode)).
			WithDetail(strings.TrimSpace(string(msg)))
	}

	var tr tagResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNERTaggerFailed, "decode tag response")
	}
	return &TagOutput{LabelIDs: tr.LabelIDs, Offsets: tr.Offsets, Scores: tr.Scores}, nil
}
