package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"

	domain "github.com/turtacn/LexNER/internal/domain/analysis"
	"github.com/turtacn/LexNER/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/pkg/errors"
	"github.com/turtacn/LexNER/pkg/types/common"
)

const eventSource = "lexner"

// Locker is a distributed lock held while one request is processed.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// LockFactory returns a lock for name.
type LockFactory func(name string) Locker

// Worker consumes analyze requests and publishes completion events.
type Worker struct {
	svc            Service
	publisher      kafka.Publisher
	locks          LockFactory
	completedTopic string
	logger         logging.Logger
}

// NewWorker creates a Worker. locks may be nil, in which case duplicate
// deliveries are processed again.
func NewWorker(svc Service, publisher kafka.Publisher, completedTopic string, locks LockFactory, logger logging.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Worker{
		svc:            svc,
		publisher:      publisher,
		locks:          locks,
		completedTopic: completedTopic,
		logger:         logger,
	}
}

// HandleMessage implements common.MessageHandler. Malformed messages and
// invalid input are answered with a failed completion event and not retried;
// storage and publishing errors are returned so the consumer retries them.
func (w *Worker) HandleMessage(ctx context.Context, msg *common.Message) error {
	env, err := kafka.MessageToEventEnvelope(msg)
	if err != nil {
		w.logger.Warn("dropping malformed analyze request", logging.Int64("offset", msg.Offset), logging.Err(err))
		return nil
	}
	var req kafka.AnalyzeRequest
	if err := env.DecodePayload(&req); err != nil {
		w.logger.Warn("dropping analyze request without payload", logging.String("event_id", env.EventID), logging.Err(err))
		return nil
	}
	if req.RequestID == "" {
		req.RequestID = env.EventID
	}
	log := w.logger.With(logging.String("request_id", req.RequestID))

	if w.locks != nil {
		lock := w.locks("analyze:" + req.RequestID)
		ok, err := lock.TryLock(ctx)
		if err != nil {
			return err
		}
		if !ok {
			log.Info("analyze request already in progress elsewhere, skipping")
			return nil
		}
		defer func() {
			if err := lock.Unlock(context.Background()); err != nil {
				log.Warn("failed to release request lock", logging.Err(err))
			}
		}()
	}

	out, err := w.svc.Analyze(ctx, &AnalyzeInput{
		Text:          req.Text,
		SpacedVariant: req.SpacedVariant,
		Origin:        domain.OriginWorker,
		SourceName:    req.RequestID,
	})
	if err != nil {
		if errors.IsValidation(err) {
			log.Warn("rejecting invalid analyze request", logging.Err(err))
			return w.publish(ctx, req.RequestID, &kafka.AnalyzeCompleted{
				RequestID:   req.RequestID,
				Error:       err.Error(),
				CompletedAt: time.Now().UTC(),
			})
		}
		return err
	}
	return w.publish(ctx, req.RequestID, completedEvent(req.RequestID, out))
}

func completedEvent(requestID string, out *AnalyzeOutput) *kafka.AnalyzeCompleted {
	a := out.Analysis
	ev := &kafka.AnalyzeCompleted{
		RequestID:   requestID,
		AnalysisID:  a.ID.String(),
		Success:     a.Success,
		Entities:    a.Entities,
		EntityCount: a.EntityCount,
		Error:       a.Error,
		DurationMs:  a.DurationMs,
		ObjectKey:   a.ObjectKey,
		CompletedAt: time.Now().UTC(),
	}
	if len(a.Summary) > 0 {
		ev.Summary = make(map[string]int, len(a.Summary))
		for t, n := range a.Summary {
			ev.Summary[string(t)] = n
		}
	}
	return ev
}

func (w *Worker) publish(ctx context.Context, key string, ev *kafka.AnalyzeCompleted) error {
	if w.publisher == nil {
		return nil
	}
	env, err := kafka.NewEventEnvelope(kafka.EventAnalyzeCompleted, eventSource, ev)
	if err != nil {
		return err
	}
	msg, err := env.ToMessage(w.completedTopic, key)
	if err != nil {
		return err
	}
	return w.publisher.Publish(ctx, msg)
}

// Submitter enqueues analyze requests for the worker.
type Submitter struct {
	publisher kafka.Publisher
	topic     string
}

// NewSubmitter creates a Submitter publishing to topic.
func NewSubmitter(publisher kafka.Publisher, topic string) *Submitter {
	return &Submitter{publisher: publisher, topic: topic}
}

// Submit publishes an analyze request and returns its request ID.
func (s *Submitter) Submit(ctx context.Context, text string, spaced *bool) (string, error) {
	if text == "" {
		return "", errors.New(errors.ErrCodeNERInputInvalid, "text is empty")
	}
	req := kafka.AnalyzeRequest{RequestID: uuid.NewString(), Text: text, SpacedVariant: spaced}
	env, err := kafka.NewEventEnvelope(kafka.EventAnalyzeRequested, eventSource, req)
	if err != nil {
		return "", err
	}
	msg, err := env.ToMessage(s.topic, req.RequestID)
	if err != nil {
		return "", err
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		return "", err
	}
	return req.RequestID, nil
}
