package kafka

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/LexNER/internal/config"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/pkg/errors"
	"github.com/turtacn/LexNER/pkg/types/common"
)

var ErrAlreadyRunning = errors.New(errors.ErrCodeConflict, "consumer already running")

// Header names added to dead-lettered messages.
const (
	HeaderOriginalTopic = "original_topic"
	HeaderErrorMessage  = "error_message"
	HeaderAttempts      = "attempts"
)

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	DeadLetterTopic string
}

// ConsumerConfig holds configuration for the Consumer.
type ConsumerConfig struct {
	Brokers         []string
	GroupID         string
	Topics          []string
	AutoOffsetReset string // "earliest" | "latest"
	Concurrency     int
	SessionTimeout  time.Duration
	MaxWait         time.Duration
	RetryConfig     RetryConfig
}

// ConsumerConfigFrom derives consumer settings for the request topic.
func ConsumerConfigFrom(cfg config.KafkaConfig, worker config.WorkerConfig) ConsumerConfig {
	return ConsumerConfig{
		Brokers:         cfg.Brokers,
		GroupID:         cfg.GroupID,
		Topics:          []string{cfg.RequestTopic},
		AutoOffsetReset: cfg.AutoOffsetReset,
		Concurrency:     worker.Concurrency,
		RetryConfig: RetryConfig{
			MaxRetries:      worker.MaxRetries,
			RetryBackoff:    worker.RetryBackoff,
			DeadLetterTopic: cfg.DLQTopic,
		},
	}
}

// ValidateConsumerConfig validates configuration.
func ValidateConsumerConfig(cfg ConsumerConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.New(errors.ErrCodeValidation, "brokers required")
	}
	if cfg.GroupID == "" {
		return errors.New(errors.ErrCodeValidation, "group id required")
	}
	if len(cfg.Topics) == 0 {
		return errors.New(errors.ErrCodeValidation, "at least one topic required")
	}
	if cfg.AutoOffsetReset != "" && cfg.AutoOffsetReset != "earliest" && cfg.AutoOffsetReset != "latest" {
		return errors.New(errors.ErrCodeValidation, "invalid auto offset reset")
	}
	if cfg.RetryConfig.MaxRetries < 0 {
		return errors.New(errors.ErrCodeValidation, "max retries must be >= 0")
	}
	return nil
}

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is the part of Producer used for dead-lettering.
type Publisher interface {
	Publish(ctx context.Context, msg *common.ProducerMessage) error
}

// Observer is told the outcome of every handled message.
type Observer func(topic string, success bool, duration time.Duration)

// ConsumerStats is a snapshot of consumer counters.
type ConsumerStats struct {
	Consumed     int64
	Processed    int64
	Failed       int64
	Retried      int64
	DeadLettered int64
}

// Consumer fetches messages from a consumer group, dispatches them to the
// handler registered for their topic and commits after handling. Handler
// failures are retried with exponential backoff and then dead-lettered.
type Consumer struct {
	reader     ReaderInterface
	config     ConsumerConfig
	logger     logging.Logger
	deadLetter Publisher
	observer   Observer

	handlers map[string]common.MessageHandler
	mu       sync.RWMutex

	running   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	consumed, processed, failed, retried, deadLettered atomic.Int64
}

// NewConsumer creates a consumer group reader. deadLetter may be nil.
func NewConsumer(cfg ConsumerConfig, deadLetter Publisher, logger logging.Logger) (*Consumer, error) {
	if err := ValidateConsumerConfig(cfg); err != nil {
		return nil, err
	}
	readerCfg := kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    cfg.Topics,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		MaxWait:        orDuration(cfg.MaxWait, time.Second),
		SessionTimeout: orDuration(cfg.SessionTimeout, 30*time.Second),
		StartOffset:    kafka.FirstOffset,
		Dialer:         &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true},
	}
	if cfg.AutoOffsetReset == "latest" {
		readerCfg.StartOffset = kafka.LastOffset
	}
	return NewConsumerWithReader(kafka.NewReader(readerCfg), cfg, deadLetter, logger), nil
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(r ReaderInterface, cfg ConsumerConfig, deadLetter Publisher, logger logging.Logger) *Consumer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.RetryConfig.RetryBackoff == 0 {
		cfg.RetryConfig.RetryBackoff = time.Second
	}
	if cfg.RetryConfig.MaxRetryBackoff == 0 {
		cfg.RetryConfig.MaxRetryBackoff = 30 * time.Second
	}
	return &Consumer{
		reader:     r,
		config:     cfg,
		logger:     logger,
		deadLetter: deadLetter,
		handlers:   make(map[string]common.MessageHandler),
	}
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// SetObserver installs a callback invoked after each handled message.
func (c *Consumer) SetObserver(o Observer) { c.observer = o }

// Subscribe registers the handler for topic.
func (c *Consumer) Subscribe(topic string, handler common.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	c.logger.Info("Subscribed to topic", logging.String("topic", topic))
}

// Start launches the fetch loop and the handler goroutines.
func (c *Consumer) Start(ctx context.Context) error {
	if c.running.Swap(true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	jobs := make(chan kafka.Message)
	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.work(ctx, jobs)
	}
	c.wg.Add(1)
	go c.fetchLoop(ctx, jobs)

	c.logger.Info("Kafka consumer started",
		logging.String("group", c.config.GroupID),
		logging.Strings("topics", c.config.Topics),
		logging.Int("concurrency", c.config.Concurrency))
	return nil
}

func (c *Consumer) fetchLoop(ctx context.Context, jobs chan<- kafka.Message) {
	defer c.wg.Done()
	defer close(jobs)
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("Kafka fetch failed", logging.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		c.consumed.Add(1)
		select {
		case jobs <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) work(ctx context.Context, jobs <-chan kafka.Message) {
	defer c.wg.Done()
	for m := range jobs {
		c.handle(ctx, m)
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	msg := &common.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Timestamp: m.Time,
		Headers:   make(map[string]string, len(m.Headers)),
	}
	for _, h := range m.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}

	c.mu.RLock()
	handler, ok := c.handlers[m.Topic]
	c.mu.RUnlock()

	if !ok {
		c.logger.Warn("No handler for topic", logging.String("topic", m.Topic))
	} else {
		start := time.Now()
		err := c.process(ctx, msg, handler)
		if ctx.Err() != nil {
			// Shutting down; leave the offset uncommitted so the message is redelivered.
			return
		}
		if err == nil {
			c.processed.Add(1)
		} else {
			c.failed.Add(1)
		}
		if c.observer != nil {
			c.observer(m.Topic, err == nil, time.Since(start))
		}
	}
	if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.logger.Error("Kafka commit failed", logging.Int64("offset", m.Offset), logging.Err(err))
	}
}

// process runs handler with retries. It returns the last handler error
// after the message has been dead-lettered (or dropped when no dead letter
// topic is configured).
func (c *Consumer) process(ctx context.Context, msg *common.Message, handler common.MessageHandler) error {
	err := handler(ctx, msg)
	if err == nil {
		return nil
	}

	rc := c.config.RetryConfig
	backoff := rc.RetryBackoff
	attempts := 1
	for i := 0; i < rc.MaxRetries; i++ {
		c.retried.Add(1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		attempts++
		if err = handler(ctx, msg); err == nil {
			return nil
		}
		backoff *= 2
		if backoff > rc.MaxRetryBackoff {
			backoff = rc.MaxRetryBackoff
		}
	}

	c.logger.Error("Message processing failed after retries",
		logging.String("topic", msg.Topic),
		logging.Int64("offset", msg.Offset),
		logging.Int("attempts", attempts),
		logging.Err(err))

	if c.deadLetter == nil || rc.DeadLetterTopic == "" {
		return err
	}
	headers := make(map[string]string, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderOriginalTopic] = msg.Topic
	headers[HeaderErrorMessage] = err.Error()
	headers[HeaderAttempts] = strconv.Itoa(attempts)
	dl := &common.ProducerMessage{
		Topic:   rc.DeadLetterTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
	if dlErr := c.deadLetter.Publish(ctx, dl); dlErr != nil {
		c.logger.Error("Failed to publish to dead letter topic", logging.Err(dlErr))
		return err
	}
	c.deadLettered.Add(1)
	return err
}

// Stats returns a snapshot of the consumer counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Consumed:     c.consumed.Load(),
		Processed:    c.processed.Load(),
		Failed:       c.failed.Load(),
		Retried:      c.retried.Load(),
		DeadLettered: c.deadLettered.Load(),
	}
}

// Close stops the loops, waits for in-flight handlers and closes the reader.
// Subsequent calls are no-ops.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.running.Load() && c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
		err = c.reader.Close()
		c.logger.Info("Kafka consumer closed", logging.Int64("consumed", c.consumed.Load()))
	})
	return err
}
