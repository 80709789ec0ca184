package kafka

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexNER/internal/config"
	"github.com/turtacn/LexNER/pkg/types/common"
)

type mockKafkaReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
	closed    bool
}

func newMockReader(msgs ...kafka.Message) *mockKafkaReader {
	ch := make(chan kafka.Message, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	return &mockKafkaReader{msgs: ch}
}

func (m *mockKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-m.msgs:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (m *mockKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.committed = append(m.committed, msg.Offset)
	}
	return nil
}

func (m *mockKafkaReader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockKafkaReader) commitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.committed)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*common.ProducerMessage
}

func (p *recordingPublisher) Publish(_ context.Context, msg *common.ProducerMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) published() []*common.ProducerMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*common.ProducerMessage(nil), p.msgs...)
}

func testConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers: []string{"localhost:9092"},
		GroupID: "test-group",
		Topics:  []string{"requests"},
		RetryConfig: RetryConfig{
			MaxRetries:      2,
			RetryBackoff:    time.Millisecond,
			DeadLetterTopic: "requests.dlq",
		},
	}
}

func TestValidateConsumerConfig(t *testing.T) {
	assert.NoError(t, ValidateConsumerConfig(testConsumerConfig()))

	cfg := testConsumerConfig()
	cfg.Brokers = nil
	assert.Error(t, ValidateConsumerConfig(cfg))

	cfg = testConsumerConfig()
	cfg.GroupID = ""
	assert.Error(t, ValidateConsumerConfig(cfg))

	cfg = testConsumerConfig()
	cfg.AutoOffsetReset = "middle"
	assert.Error(t, ValidateConsumerConfig(cfg))
}

func TestConsumerConfigFrom(t *testing.T) {
	cc := ConsumerConfigFrom(config.KafkaConfig{
		Brokers:      []string{"k:9092"},
		GroupID:      "g",
		RequestTopic: "req",
		DLQTopic:     "req.dlq",
	}, config.WorkerConfig{Concurrency: 3, MaxRetries: 4, RetryBackoff: time.Second})
	assert.Equal(t, []string{"req"}, cc.Topics)
	assert.Equal(t, 3, cc.Concurrency)
	assert.Equal(t, 4, cc.RetryConfig.MaxRetries)
	assert.Equal(t, "req.dlq", cc.RetryConfig.DeadLetterTopic)
}

func TestConsumer_HandlesAndCommits(t *testing.T) {
	reader := newMockReader(
		kafka.Message{Topic: "requests", Offset: 1, Value: []byte("a")},
		kafka.Message{Topic: "requests", Offset: 2, Value: []byte("b")},
	)
	c := NewConsumerWithReader(reader, testConsumerConfig(), nil, nil)

	var handled int32
	c.Subscribe("requests", func(_ context.Context, msg *common.Message) error {
		atomic.AddInt32(&handled, 1)
		return nil
	})
	var observed int32
	c.SetObserver(func(topic string, success bool, _ time.Duration) {
		assert.Equal(t, "requests", topic)
		assert.True(t, success)
		atomic.AddInt32(&observed, 1)
	})

	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)

	assert.Eventually(t, func() bool { return reader.commitCount() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, int32(2), atomic.LoadInt32(&handled))
	assert.Equal(t, int32(2), atomic.LoadInt32(&observed))
	assert.Equal(t, int64(2), c.Stats().Processed)
	assert.True(t, reader.closed)
}

func TestConsumer_RetriesThenDeadLetters(t *testing.T) {
	reader := newMockReader(kafka.Message{
		Topic:   "requests",
		Offset:  7,
		Key:     []byte("req-7"),
		Value:   []byte("bad"),
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(EventAnalyzeRequested)}},
	})
	dlq := &recordingPublisher{}
	c := NewConsumerWithReader(reader, testConsumerConfig(), dlq, nil)

	var calls int32
	c.Subscribe("requests", func(context.Context, *common.Message) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("tagger exploded")
	})

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return reader.commitCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	msgs := dlq.published()
	require.Len(t, msgs, 1)
	assert.Equal(t, "requests.dlq", msgs[0].Topic)
	assert.Equal(t, "req-7", string(msgs[0].Key))
	assert.Equal(t, "requests", msgs[0].Headers[HeaderOriginalTopic])
	assert.Equal(t, "tagger exploded", msgs[0].Headers[HeaderErrorMessage])
	assert.Equal(t, "3", msgs[0].Headers[HeaderAttempts])
	assert.Equal(t, EventAnalyzeRequested, msgs[0].Headers["event_type"])

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(2), stats.Retried)
	assert.Equal(t, int64(1), stats.DeadLettered)
}

func TestConsumer_RecoversOnRetry(t *testing.T) {
	reader := newMockReader(kafka.Message{Topic: "requests", Offset: 1, Value: []byte("x")})
	dlq := &recordingPublisher{}
	c := NewConsumerWithReader(reader, testConsumerConfig(), dlq, nil)

	var calls int32
	c.Subscribe("requests", func(context.Context, *common.Message) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return reader.commitCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())

	assert.Empty(t, dlq.published())
	assert.Equal(t, int64(1), c.Stats().Processed)
}

func TestConsumer_UnknownTopicIsCommitted(t *testing.T) {
	reader := newMockReader(kafka.Message{Topic: "other", Offset: 3, Value: []byte("x")})
	c := NewConsumerWithReader(reader, testConsumerConfig(), nil, nil)

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return reader.commitCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
}
