package redis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/internal/intelligence/legal_ner"
	"github.com/turtacn/LexNER/pkg/errors"
)

type CacheTestSuite struct {
	suite.Suite
	mr    *miniredis.Miniredis
	cache *ResultCache
}

func (s *CacheTestSuite) SetupTest() {
	mr, client := newTestClient(s.T())
	s.mr = mr
	s.cache = NewResultCache(client, logging.NewNopLogger(), WithPrefix("test:"), WithTTL(time.Hour))
}

func sampleResult() *legal_ner.Result {
	return &legal_ner.Result{
		Success: true,
		Entities: []legal_ner.Entity{
			{Text: "Ankara", Type: legal_ner.TypeLocation, Start: 0, End: 6, Source: legal_ner.SourceModel},
		},
		EntityCount: 1,
		Summary:     map[legal_ner.EntityType]int{legal_ner.TypeLocation: 1},
	}
}

func (s *CacheTestSuite) TestKey_DependsOnVariant() {
	a := s.cache.Key("Ankara'da", false)
	b := s.cache.Key("Ankara'da", true)
	s.NotEqual(a, b)
	s.True(len(a) > len("test:"))
	s.Equal("test:", a[:5])
}

func (s *CacheTestSuite) TestGet_Miss() {
	res, hit, err := s.cache.Get(context.Background(), "test:absent")
	s.NoError(err)
	s.False(hit)
	s.Nil(res)
}

func (s *CacheTestSuite) TestSetThenGet() {
	ctx := context.Background()
	key := s.cache.Key("Ankara", false)
	s.Require().NoError(s.cache.Set(ctx, key, sampleResult()))

	res, hit, err := s.cache.Get(ctx, key)
	s.Require().NoError(err)
	s.True(hit)
	s.Equal(sampleResult().Entities, res.Entities)
	s.Equal(1, res.Summary[legal_ner.TypeLocation])

	ttl := s.mr.TTL(key)
	s.InDelta(float64(time.Hour), float64(ttl), float64(7*time.Minute))
}

func (s *CacheTestSuite) TestSet_SkipsFailures() {
	msg := legal_ner.ErrModelNotAvailable
	key := s.cache.Key("x", false)
	s.NoError(s.cache.Set(context.Background(), key, &legal_ner.Result{Error: &msg}))
	s.False(s.mr.Exists(key))
}

func (s *CacheTestSuite) TestGet_CorruptEntry() {
	s.Require().NoError(s.mr.Set("test:bad", "{not json"))
	_, hit, err := s.cache.Get(context.Background(), "test:bad")
	s.Error(err)
	s.False(hit)
}

func (s *CacheTestSuite) TestGetOrAnalyze_MissThenHit() {
	ctx := context.Background()
	key := s.cache.Key("Ankara", false)
	var calls int32
	fn := func(context.Context) *legal_ner.Result {
		atomic.AddInt32(&calls, 1)
		return sampleResult()
	}

	res, hit, err := s.cache.GetOrAnalyze(ctx, key, fn)
	s.Require().NoError(err)
	s.False(hit)
	s.Equal(1, res.EntityCount)

	res, hit, err = s.cache.GetOrAnalyze(ctx, key, fn)
	s.Require().NoError(err)
	s.True(hit)
	s.Equal(1, res.EntityCount)
	s.Equal(int32(1), atomic.LoadInt32(&calls))
}

func (s *CacheTestSuite) TestGetOrAnalyze_CoalescesConcurrentMisses() {
	ctx := context.Background()
	key := s.cache.Key("İstanbul", false)
	var calls int32
	release := make(chan struct{})
	fn := func(context.Context) *legal_ner.Result {
		atomic.AddInt32(&calls, 1)
		<-release
		return sampleResult()
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _, err := s.cache.GetOrAnalyze(ctx, key, fn)
			assert.NoError(s.T(), err)
			assert.True(s.T(), res.Success)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	s.LessOrEqual(atomic.LoadInt32(&calls), int32(8))
	s.GreaterOrEqual(atomic.LoadInt32(&calls), int32(1))
}

func (s *CacheTestSuite) TestGetOrAnalyze_CancelledCallerDoesNotFailOthers() {
	key := s.cache.Key("Yargıtay", false)
	started := make(chan struct{})
	release := make(chan struct{})
	var (
		fnCtxErr atomic.Value
		once     sync.Once
	)
	fn := func(ctx context.Context) *legal_ner.Result {
		once.Do(func() { close(started) })
		<-release
		fnCtxErr.Store(fmt.Sprint(ctx.Err()))
		return sampleResult()
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := s.cache.GetOrAnalyze(firstCtx, key, fn)
		firstErr <- err
	}()
	<-started

	second := make(chan *legal_ner.Result, 1)
	go func() {
		res, _, err := s.cache.GetOrAnalyze(context.Background(), key, fn)
		assert.NoError(s.T(), err)
		second <- res
	}()

	cancel()
	err := <-firstErr
	s.True(errors.IsCode(err, errors.ErrCodeTimeout))

	close(release)
	res := <-second
	s.Require().NotNil(res)
	s.True(res.Success)
	s.Equal("<nil>", fnCtxErr.Load())

	cached, hit, err := s.cache.Get(context.Background(), key)
	s.NoError(err)
	s.True(hit)
	s.Equal(1, cached.EntityCount)
}

func (s *CacheTestSuite) TestGetOrAnalyze_RedisDown() {
	s.mr.Close()
	res, hit, err := s.cache.GetOrAnalyze(context.Background(), "test:k", func(context.Context) *legal_ner.Result {
		return sampleResult()
	})
	s.NoError(err)
	s.False(hit)
	s.True(res.Success)
}

func (s *CacheTestSuite) TestInvalidate() {
	ctx := context.Background()
	for _, text := range []string{"a", "b", "c"} {
		s.Require().NoError(s.cache.Set(ctx, s.cache.Key(text, false), sampleResult()))
	}
	s.Require().NoError(s.mr.Set("other:key", "keep"))

	n, err := s.cache.Invalidate(ctx)
	s.Require().NoError(err)
	s.Equal(int64(3), n)
	s.True(s.mr.Exists("other:key"))
	s.Len(s.mr.Keys(), 1)
}

func TestCacheTestSuite(t *testing.T) {
	suite.Run(t, new(CacheTestSuite))
}

func TestResultCache_ZeroTTL(t *testing.T) {
	mr, client := newTestClient(t)
	c := NewResultCache(client, nil, WithTTL(0))
	key := c.Key("x", false)
	require.NoError(t, c.Set(context.Background(), key, sampleResult()))
	assert.Equal(t, time.Duration(0), mr.TTL(key))
}
