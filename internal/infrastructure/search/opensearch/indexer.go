package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/turtacn/LexNER/internal/domain/analysis"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/internal/intelligence/legal_ner"
	"github.com/turtacn/LexNER/pkg/errors"
)

// EntityDocument is one recognised entity as stored in the search index.
type EntityDocument struct {
	AnalysisID string    `json:"analysis_id"`
	Text       string    `json:"text"`
	Stem       string    `json:"stem"`
	Type       string    `json:"type"`
	Source     string    `json:"source"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	Confidence *float64  `json:"confidence,omitempty"`
	Origin     string    `json:"origin"`
	CreatedAt  time.Time `json:"created_at"`
}

// BulkResult summarises one IndexAnalysis call.
type BulkResult struct {
	Indexed int
	Failed  int
	Errors  []string
}

// LexiconSource supplies the lexicon used to derive entity stems.
type LexiconSource interface {
	Lexicon() *legal_ner.Lexicon
}

// entityMapping uses the built-in turkish analyzer so that inflected forms
// match their stems at query time.
var entityMapping = map[string]interface{}{
	"settings": map[string]interface{}{
		"number_of_shards":   1,
		"number_of_replicas": 0,
	},
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"analysis_id": map[string]interface{}{"type": "keyword"},
			"text": map[string]interface{}{
				"type":     "text",
				"analyzer": "turkish",
				"fields": map[string]interface{}{
					"keyword": map[string]interface{}{"type": "keyword", "ignore_above": 256},
				},
			},
			"stem": map[string]interface{}{
				"type":     "text",
				"analyzer": "turkish",
				"fields": map[string]interface{}{
					"keyword": map[string]interface{}{"type": "keyword", "ignore_above": 256},
				},
			},
			"type":       map[string]interface{}{"type": "keyword"},
			"source":     map[string]interface{}{"type": "keyword"},
			"start":      map[string]interface{}{"type": "integer"},
			"end":        map[string]interface{}{"type": "integer"},
			"confidence": map[string]interface{}{"type": "float"},
			"origin":     map[string]interface{}{"type": "keyword"},
			"created_at": map[string]interface{}{"type": "date"},
		},
	},
}

// Indexer writes analysis entities into the entity index.
type Indexer struct {
	client  *Client
	lexicon LexiconSource
	logger  logging.Logger
}

// NewIndexer creates an Indexer. lexicon may be nil, in which case the
// built-in lexicon is used for stems.
func NewIndexer(client *Client, lexicon LexiconSource, logger logging.Logger) *Indexer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Indexer{client: client, lexicon: lexicon, logger: logger}
}

// EnsureIndex creates the entity index with its mapping when it is missing.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	index := i.client.Index()
	existsResp, err := opensearchapi.IndicesExistsRequest{Index: []string{index}}.Do(ctx, i.client.client)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSearchError, "failed to check index existence")
	}
	existsResp.Body.Close()
	if existsResp.StatusCode == 200 {
		return nil
	}

	body, err := json.Marshal(entityMapping)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal index mapping")
	}
	resp, err := opensearchapi.IndicesCreateRequest{
		Index: index,
		Body:  bytes.NewReader(body),
	}.Do(ctx, i.client.client)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSearchError, "failed to create index")
	}
	defer resp.Body.Close()
	if resp.IsError() {
		// A concurrent creator may have won the race.
		if resp.StatusCode == 400 {
			appErr := handleErrorResponse(resp)
			if strings.Contains(appErr.Error(), "resource_already_exists_exception") {
				return nil
			}
			return appErr
		}
		return handleErrorResponse(resp)
	}
	i.logger.Info("entity index created", logging.String("index", index))
	return nil
}

// Documents converts the entities of a into index documents.
func (i *Indexer) Documents(a *analysis.Analysis) []EntityDocument {
	lex := legal_ner.DefaultLexicon()
	if i.lexicon != nil {
		if l := i.lexicon.Lexicon(); l != nil {
			lex = l
		}
	}
	src := []rune(a.Text)
	stems := a.Entities
	if len(src) > 0 {
		stems = legal_ner.TrimApostropheSuffixes(a.Entities, src, lex)
	}

	docs := make([]EntityDocument, 0, len(a.Entities))
	for n, e := range a.Entities {
		stem := e.Text
		if n < len(stems) {
			stem = stems[n].Text
		}
		docs = append(docs, EntityDocument{
			AnalysisID: a.ID.String(),
			Text:       e.Text,
			Stem:       stem,
			Type:       string(e.Type),
			Source:     string(e.Source),
			Start:      e.Start,
			End:        e.End,
			Confidence: e.Confidence,
			Origin:     string(a.Origin),
			CreatedAt:  a.CreatedAt,
		})
	}
	return docs
}

// IndexAnalysis bulk-indexes every entity of a. Document IDs are derived
// from the analysis ID and entity position, so re-indexing is idempotent.
func (i *Indexer) IndexAnalysis(ctx context.Context, a *analysis.Analysis) (*BulkResult, error) {
	docs := i.Documents(a)
	result := &BulkResult{}
	if len(docs) == 0 {
		return result, nil
	}

	batch := i.client.config.BulkBatchSize
	for start := 0; start < len(docs); start += batch {
		end := start + batch
		if end > len(docs) {
			end = len(docs)
		}
		if err := i.bulk(ctx, a.ID.String(), start, docs[start:end], result); err != nil {
			return result, err
		}
	}

	if result.Failed > 0 {
		i.logger.Warn("entity bulk index partially failed",
			logging.String("analysis_id", a.ID.String()),
			logging.Int("indexed", result.Indexed),
			logging.Int("failed", result.Failed))
	} else {
		i.logger.Debug("entities indexed",
			logging.String("analysis_id", a.ID.String()),
			logging.Int("count", result.Indexed))
	}
	return result, nil
}

func (i *Indexer) bulk(ctx context.Context, analysisID string, offset int, docs []EntityDocument, result *BulkResult) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for n, doc := range docs {
		meta := map[string]interface{}{
			"index": map[string]interface{}{
				"_index": i.client.Index(),
				"_id":    fmt.Sprintf("%s-%d", analysisID, offset+n),
			},
		}
		if err := enc.Encode(meta); err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode bulk metadata")
		}
		if err := enc.Encode(doc); err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode entity document")
		}
	}

	resp, err := opensearchapi.BulkRequest{
		Index: i.client.Index(),
		Body:  &buf,
	}.Do(ctx, i.client.client)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSearchError, "bulk request failed")
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return handleErrorResponse(resp)
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bulkResp); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode bulk response")
	}
	if !bulkResp.Errors {
		result.Indexed += len(docs)
		return nil
	}
	for _, item := range bulkResp.Items {
		for _, op := range item {
			if op.Error != nil || op.Status >= 300 {
				result.Failed++
				if op.Error != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", op.ID, op.Error.Reason))
				}
				continue
			}
			result.Indexed++
		}
	}
	return nil
}

// DeleteAnalysis removes every entity document of one analysis and returns
// how many were deleted.
func (i *Indexer) DeleteAnalysis(ctx context.Context, analysisID string) (int64, error) {
	body, err := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"analysis_id": analysisID},
		},
	})
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal delete query")
	}
	resp, err := opensearchapi.DeleteByQueryRequest{
		Index: []string{i.client.Index()},
		Body:  bytes.NewReader(body),
	}.Do(ctx, i.client.client)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeSearchError, "delete by query failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode == 404 {
		return 0, nil
	}
	if resp.IsError() {
		return 0, handleErrorResponse(resp)
	}
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode delete response")
	}
	return out.Deleted, nil
}
