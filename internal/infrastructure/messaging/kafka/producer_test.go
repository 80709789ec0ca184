package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexNER/internal/config"
	pkgerrors "github.com/turtacn/LexNER/pkg/errors"
	"github.com/turtacn/LexNER/pkg/types/common"
)

type mockKafkaWriter struct {
	mu        sync.Mutex
	written   []kafka.Message
	writeErr  error
	closeCall int
}

func (m *mockKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.written = append(m.written, msgs...)
	return nil
}

func (m *mockKafkaWriter) Close() error {
	m.closeCall++
	return nil
}

func (m *mockKafkaWriter) messages() []kafka.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kafka.Message(nil), m.written...)
}

func newTestProducer(w WriterInterface) *Producer {
	return NewProducerWithWriter(w, ProducerConfig{Brokers: []string{"localhost:9092"}}, nil)
}

func TestValidateProducerConfig(t *testing.T) {
	assert.NoError(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b:9092"}}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b:9092"}, MaxRetries: -1}))
}

func TestProducerConfigFrom(t *testing.T) {
	pc := ProducerConfigFrom(config.KafkaConfig{
		Brokers:         []string{"k1:9092", "k2:9092"},
		ProducerRetries: 5,
		TimeoutMS:       2500,
	})
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, pc.Brokers)
	assert.Equal(t, 5, pc.MaxRetries)
	assert.Equal(t, "all", pc.Acks)
	assert.Equal(t, int64(2500), pc.WriteTimeout.Milliseconds())
}

func TestPublish_Success(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)

	err := p.Publish(context.Background(), &common.ProducerMessage{
		Topic:   "ner.analyze.request",
		Key:     []byte("req-1"),
		Value:   []byte(`{"text":"x"}`),
		Headers: map[string]string{"event_type": EventAnalyzeRequested},
	})
	require.NoError(t, err)

	msgs := w.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ner.analyze.request", msgs[0].Topic)
	assert.Equal(t, "req-1", string(msgs[0].Key))
	require.Len(t, msgs[0].Headers, 1)
	assert.Equal(t, "event_type", msgs[0].Headers[0].Key)
	assert.False(t, msgs[0].Time.IsZero())
	assert.Equal(t, int64(1), p.Stats().MessagesSent)
}

func TestPublish_Validation(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{})
	ctx := context.Background()

	err := p.Publish(ctx, &common.ProducerMessage{Value: []byte("x")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeValidation))

	err = p.Publish(ctx, &common.ProducerMessage{Topic: "t"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeValidation))

	err = p.Publish(ctx, &common.ProducerMessage{Topic: "t", Value: make([]byte, (1<<20)+1)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeValidation))
}

func TestPublish_WriterError(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{writeErr: errors.New("broker down")})
	err := p.Publish(context.Background(), &common.ProducerMessage{Topic: "t", Value: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, int64(1), p.Stats().MessagesFailed)
}

func TestPublishJSON(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)
	req := AnalyzeRequest{RequestID: "r1", Text: "Ankara'da"}
	require.NoError(t, p.PublishJSON(context.Background(), "t", "r1", req, nil))

	msgs := w.messages()
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"request_id":"r1","text":"Ankara'da"}`, string(msgs[0].Value))
}

func TestProducer_Close(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, w.closeCall)

	err := p.Publish(context.Background(), &common.ProducerMessage{Topic: "t", Value: []byte("x")})
	assert.ErrorIs(t, err, ErrProducerClosed)
}
