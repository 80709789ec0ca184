package analysis

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexNER/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/LexNER/pkg/errors"
	"github.com/turtacn/LexNER/pkg/types/common"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*common.ProducerMessage
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg *common.ProducerMessage) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) completed(t *testing.T) []kafka.AnalyzeCompleted {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]kafka.AnalyzeCompleted, 0, len(p.msgs))
	for _, m := range p.msgs {
		env, err := kafka.MessageToEventEnvelope(&common.Message{Value: m.Value})
		require.NoError(t, err)
		require.Equal(t, kafka.EventAnalyzeCompleted, env.EventType)
		var ev kafka.AnalyzeCompleted
		require.NoError(t, env.DecodePayload(&ev))
		out = append(out, ev)
	}
	return out
}

type fakeLock struct {
	held     bool
	unlocked bool
}

func (l *fakeLock) TryLock(context.Context) (bool, error) { return !l.held, nil }

func (l *fakeLock) Unlock(context.Context) error {
	l.unlocked = true
	return nil
}

func requestMessage(t *testing.T, req kafka.AnalyzeRequest) *common.Message {
	t.Helper()
	env, err := kafka.NewEventEnvelope(kafka.EventAnalyzeRequested, "test", req)
	require.NoError(t, err)
	pm, err := env.ToMessage("ner.analyze.request", req.RequestID)
	require.NoError(t, err)
	return &common.Message{Topic: pm.Topic, Key: pm.Key, Value: pm.Value, Headers: pm.Headers}
}

func TestWorker_PublishesCompletion(t *testing.T) {
	pub := &recordingPublisher{}
	lock := &fakeLock{}
	var lockName string
	svc := newTestService(t, Dependencies{Pipeline: &fakePipeline{}})
	w := NewWorker(svc, pub, "ner.analyze.completed", func(name string) Locker {
		lockName = name
		return lock
	}, nil)

	err := w.HandleMessage(context.Background(), requestMessage(t, kafka.AnalyzeRequest{RequestID: "r-1", Text: "Ahmet"}))
	require.NoError(t, err)

	assert.Equal(t, "analyze:r-1", lockName)
	assert.True(t, lock.unlocked)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "ner.analyze.completed", pub.msgs[0].Topic)
	assert.Equal(t, []byte("r-1"), pub.msgs[0].Key)

	events := pub.completed(t)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "r-1", ev.RequestID)
	assert.True(t, ev.Success)
	assert.Equal(t, 1, ev.EntityCount)
	assert.Equal(t, map[string]int{"PERSON": 1}, ev.Summary)
	assert.NotEmpty(t, ev.AnalysisID)
}

func TestWorker_SkipsWhenLockHeld(t *testing.T) {
	pub := &recordingPublisher{}
	p := &fakePipeline{}
	svc := newTestService(t, Dependencies{Pipeline: p})
	w := NewWorker(svc, pub, "done", func(string) Locker { return &fakeLock{held: true} }, nil)

	require.NoError(t, w.HandleMessage(context.Background(), requestMessage(t, kafka.AnalyzeRequest{RequestID: "r-2", Text: "x"})))
	assert.Zero(t, p.Calls())
	assert.Empty(t, pub.msgs)
}

func TestWorker_InvalidInputIsAnsweredNotRetried(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newTestService(t, Dependencies{Pipeline: &fakePipeline{}})
	w := NewWorker(svc, pub, "done", nil, nil)

	require.NoError(t, w.HandleMessage(context.Background(), requestMessage(t, kafka.AnalyzeRequest{RequestID: "r-3", Text: "a\xffb"})))
	events := pub.completed(t)
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
	assert.Contains(t, events[0].Error, "UTF-8")
}

func TestWorker_StorageErrorIsRetried(t *testing.T) {
	repo := new(MockRepository)
	repo.On("Save", mock.Anything, mock.Anything).Return(errors.New(errors.ErrCodeDatabaseError, "down"))
	svc := newTestService(t, Dependencies{Pipeline: &fakePipeline{}, Repo: repo})
	w := NewWorker(svc, &recordingPublisher{}, "done", nil, nil)

	err := w.HandleMessage(context.Background(), requestMessage(t, kafka.AnalyzeRequest{RequestID: "r-4", Text: "x"}))
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatabaseError))
}

func TestWorker_MalformedMessagesAreDropped(t *testing.T) {
	pub := &recordingPublisher{}
	p := &fakePipeline{}
	w := NewWorker(newTestService(t, Dependencies{Pipeline: p}), pub, "done", nil, nil)

	assert.NoError(t, w.HandleMessage(context.Background(), &common.Message{Value: []byte("{not json")}))
	assert.NoError(t, w.HandleMessage(context.Background(), &common.Message{}))

	env := kafka.EventEnvelope{EventID: "e"}
	raw, _ := json.Marshal(env)
	assert.NoError(t, w.HandleMessage(context.Background(), &common.Message{Value: raw}))
	assert.Zero(t, p.Calls())
	assert.Empty(t, pub.msgs)
}

func TestWorker_RequestIDFallsBackToEventID(t *testing.T) {
	pub := &recordingPublisher{}
	w := NewWorker(newTestService(t, Dependencies{Pipeline: &fakePipeline{}}), pub, "done", nil, nil)

	env, err := kafka.NewEventEnvelope(kafka.EventAnalyzeRequested, "test", kafka.AnalyzeRequest{Text: "x"})
	require.NoError(t, err)
	pm, err := env.ToMessage("in", "")
	require.NoError(t, err)

	require.NoError(t, w.HandleMessage(context.Background(), &common.Message{Value: pm.Value}))
	events := pub.completed(t)
	require.Len(t, events, 1)
	assert.Equal(t, env.EventID, events[0].RequestID)
}

func TestSubmitter(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewSubmitter(pub, "ner.analyze.request")
	spaced := true

	id, err := s.Submit(context.Background(), "Ankara", &spaced)
	require.NoError(t, err)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, []byte(id), pub.msgs[0].Key)

	env, err := kafka.MessageToEventEnvelope(&common.Message{Value: pub.msgs[0].Value})
	require.NoError(t, err)
	var req kafka.AnalyzeRequest
	require.NoError(t, env.DecodePayload(&req))
	assert.Equal(t, id, req.RequestID)
	assert.Equal(t, "Ankara", req.Text)
	require.NotNil(t, req.SpacedVariant)
	assert.True(t, *req.SpacedVariant)

	_, err = s.Submit(context.Background(), "", nil)
	assert.True(t, errors.IsValidation(err))
}
