package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/pkg/errors"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// EntityQuery selects entity documents. Text is matched against both the
// surface form and the stem; the remaining fields are exact filters.
type EntityQuery struct {
	Text       string
	Type       string
	Origin     string
	AnalysisID string
	From       int
	Size       int
}

// EntityHit is one matched entity document.
type EntityHit struct {
	ID         string              `json:"id"`
	Score      float64             `json:"score"`
	Document   EntityDocument      `json:"document"`
	Highlights map[string][]string `json:"highlights,omitempty"`
}

// EntitySearchResult is a page of hits plus per-type counts over the whole
// match set.
type EntitySearchResult struct {
	Total      int64            `json:"total"`
	Hits       []EntityHit      `json:"hits"`
	TypeCounts map[string]int64 `json:"type_counts,omitempty"`
	TookMs     int64            `json:"took_ms"`
}

// Searcher runs entity queries against the index.
type Searcher struct {
	client  *Client
	logger  logging.Logger
	timeout time.Duration
}

// NewSearcher creates a Searcher.
func NewSearcher(client *Client, logger logging.Logger) *Searcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Searcher{client: client, logger: logger, timeout: 10 * time.Second}
}

// SearchEntities executes q and returns one page of hits.
func (s *Searcher) SearchEntities(ctx context.Context, q EntityQuery) (*EntitySearchResult, error) {
	if q.From < 0 {
		q.From = 0
	}
	if q.Size <= 0 {
		q.Size = DefaultPageSize
	}
	if q.Size > MaxPageSize {
		q.Size = MaxPageSize
	}

	body, err := json.Marshal(buildEntityQueryDSL(q))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal query DSL")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := opensearchapi.SearchRequest{
		Index: []string{s.client.Index()},
		Body:  bytes.NewReader(body),
	}.Do(ctx, s.client.client)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.New(errors.ErrCodeTimeout, "search request timed out")
		}
		return nil, errors.Wrap(err, errors.ErrCodeSearchError, "search request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode == 404 {
		// Index not created yet: nothing has been indexed.
		return &EntitySearchResult{Hits: []EntityHit{}}, nil
	}
	if resp.IsError() {
		return nil, handleErrorResponse(resp)
	}

	result, err := parseEntitySearchResponse(resp.Body)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("entity search executed",
		logging.String("text", q.Text),
		logging.String("type", q.Type),
		logging.Int64("took_ms", time.Since(start).Milliseconds()),
		logging.Int64("hits", result.Total))
	return result, nil
}

func buildEntityQueryDSL(q EntityQuery) map[string]interface{} {
	boolQuery := map[string]interface{}{}

	if text := strings.TrimSpace(q.Text); text != "" {
		boolQuery["should"] = []interface{}{
			map[string]interface{}{"term": map[string]interface{}{
				"text.keyword": map[string]interface{}{"value": text, "boost": 3.0},
			}},
			map[string]interface{}{"match": map[string]interface{}{
				"text": map[string]interface{}{"query": text, "fuzziness": "AUTO", "boost": 2.0},
			}},
			map[string]interface{}{"match": map[string]interface{}{
				"stem": map[string]interface{}{"query": text},
			}},
		}
		boolQuery["minimum_should_match"] = 1
	}

	var filters []interface{}
	addTerm := func(field, value string) {
		if value != "" {
			filters = append(filters, map[string]interface{}{"term": map[string]interface{}{field: value}})
		}
	}
	addTerm("type", q.Type)
	addTerm("origin", q.Origin)
	addTerm("analysis_id", q.AnalysisID)
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}

	query := map[string]interface{}{"match_all": map[string]interface{}{}}
	if len(boolQuery) > 0 {
		query = map[string]interface{}{"bool": boolQuery}
	}

	return map[string]interface{}{
		"query":            query,
		"from":             q.From,
		"size":             q.Size,
		"track_total_hits": true,
		"sort": []interface{}{
			map[string]interface{}{"_score": map[string]interface{}{"order": "desc"}},
			map[string]interface{}{"created_at": map[string]interface{}{"order": "desc"}},
		},
		"highlight": map[string]interface{}{
			"pre_tags":  []string{"<em>"},
			"post_tags": []string{"</em>"},
			"fields":    map[string]interface{}{"text": map[string]interface{}{}},
		},
		"aggs": map[string]interface{}{
			"by_type": map[string]interface{}{
				"terms": map[string]interface{}{"field": "type", "size": 20},
			},
		},
	}
}

func parseEntitySearchResponse(body io.Reader) (*EntitySearchResult, error) {
	var raw struct {
		Took int64 `json:"took"`
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID        string              `json:"_id"`
				Score     *float64            `json:"_score"`
				Source    EntityDocument      `json:"_source"`
				Highlight map[string][]string `json:"highlight"`
			} `json:"hits"`
		} `json:"hits"`
		Aggregations struct {
			ByType struct {
				Buckets []struct {
					Key      string `json:"key"`
					DocCount int64  `json:"doc_count"`
				} `json:"buckets"`
			} `json:"by_type"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode search response")
	}

	result := &EntitySearchResult{
		Total:  raw.Hits.Total.Value,
		Hits:   make([]EntityHit, 0, len(raw.Hits.Hits)),
		TookMs: raw.Took,
	}
	for _, h := range raw.Hits.Hits {
		hit := EntityHit{ID: h.ID, Document: h.Source, Highlights: h.Highlight}
		if h.Score != nil {
			hit.Score = *h.Score
		}
		result.Hits = append(result.Hits, hit)
	}
	if len(raw.Aggregations.ByType.Buckets) > 0 {
		result.TypeCounts = make(map[string]int64, len(raw.Aggregations.ByType.Buckets))
		for _, b := range raw.Aggregations.ByType.Buckets {
			result.TypeCounts[b.Key] = b.DocCount
		}
	}
	return result, nil
}
