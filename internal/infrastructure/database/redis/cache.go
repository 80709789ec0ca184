package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/LexNER/internal/domain/analysis"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/internal/intelligence/legal_ner"
	"github.com/turtacn/LexNER/pkg/errors"
)

var ErrSerializationFailed = errors.New(errors.ErrCodeSerialization, "serialization failed")

const scanBatch = 100

// AnalyzeFunc produces a result on a cache miss.
type AnalyzeFunc func(ctx context.Context) *legal_ner.Result

// ResultCache stores successful analysis results keyed by a hash of the
// input text and its variant options.
type ResultCache struct {
	client *Client
	logger logging.Logger
	prefix string
	ttl    time.Duration
	group  singleflight.Group
}

// CacheOption configures a ResultCache.
type CacheOption func(*ResultCache)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) CacheOption {
	return func(c *ResultCache) { c.prefix = prefix }
}

// WithTTL sets the entry lifetime. Zero keeps entries forever.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *ResultCache) { c.ttl = ttl }
}

// NewResultCache builds a cache over client.
func NewResultCache(client *Client, log logging.Logger, opts ...CacheOption) *ResultCache {
	if log == nil {
		log = logging.NewNopLogger()
	}
	c := &ResultCache{
		client: client,
		logger: log,
		prefix: "lexner:ner:",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the cache key for text analyzed with or without the spaced
// variant.
func (c *ResultCache) Key(text string, spaced bool) string {
	return c.prefix + analysis.HashText(text, spaced)
}

// jitterTTL spreads expiry by ±10% so entries written together do not all
// expire together.
func (c *ResultCache) jitterTTL() time.Duration {
	if c.ttl == 0 {
		return 0
	}
	jitter := float64(c.ttl) * 0.1 * (rand.Float64()*2 - 1)
	return c.ttl + time.Duration(jitter)
}

// Get looks up key. A miss returns (nil, false, nil).
func (c *ResultCache) Get(ctx context.Context, key string) (*legal_ner.Result, bool, error) {
	data, err := c.client.Raw().Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to get from cache")
	}
	var res legal_ner.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false, ErrSerializationFailed.WithCause(err)
	}
	return &res, true, nil
}

// Set stores res under key. Failed results are not cached.
func (c *ResultCache) Set(ctx context.Context, key string, res *legal_ner.Result) error {
	if res == nil || !res.Success {
		return nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return ErrSerializationFailed.WithCause(err)
	}
	if err := c.client.Raw().Set(ctx, key, data, c.jitterTTL()).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to set cache")
	}
	return nil
}

// GetOrAnalyze returns the cached result for key, or runs fn once per key
// across concurrent callers and caches its successful output. Cache errors
// are logged and fall through to fn. fn runs detached from the caller's
// cancellation; a caller whose ctx ends stops waiting and gets a timeout
// error while fn completes for the others.
func (c *ResultCache) GetOrAnalyze(ctx context.Context, key string, fn AnalyzeFunc) (*legal_ner.Result, bool, error) {
	res, hit, err := c.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Cache read failed, analyzing directly", logging.String("key", key), logging.Err(err))
	}
	if hit {
		return res, true, nil
	}

	// The shared call outlives any single caller: one caller cancelling must
	// not fail the others waiting on the same key.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		r := fn(shared)
		if setErr := c.Set(shared, key, r); setErr != nil {
			c.logger.Warn("Failed to cache analysis result", logging.String("key", key), logging.Err(setErr))
		}
		return r, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, errors.Wrap(ctx.Err(), errors.ErrCodeTimeout, "analysis abandoned by caller")
	case r := <-ch:
		if r.Err != nil {
			return nil, false, r.Err
		}
		return r.Val.(*legal_ner.Result), false, nil
	}
}

// Invalidate removes every entry under the prefix and returns how many keys
// were deleted. Called when the lexicon changes.
func (c *ResultCache) Invalidate(ctx context.Context) (int64, error) {
	var deleted int64
	var cursor uint64
	match := c.prefix + "*"
	rdb := c.client.Raw()
	for {
		keys, next, err := rdb.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "failed to scan cache keys")
		}
		if len(keys) > 0 {
			n, err := rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "failed to delete cache keys")
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.logger.Info("Result cache invalidated", logging.Int64("deleted", deleted))
	return deleted, nil
}
