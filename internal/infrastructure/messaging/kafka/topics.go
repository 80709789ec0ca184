package kafka

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/turtacn/LexNER/internal/config"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/internal/intelligence/legal_ner"
	"github.com/turtacn/LexNER/pkg/errors"
	"github.com/turtacn/LexNER/pkg/types/common"
)

// Event types carried in EventEnvelope.EventType.
const (
	EventAnalyzeRequested = "ner.analyze.requested"
	EventAnalyzeCompleted = "ner.analyze.completed"
)

// SchemaVersion of the envelope payloads.
const SchemaVersion = "v1"

// EventEnvelope standardizes event messages.
type EventEnvelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion string            `json:"schema_version"`
	TraceID       string            `json:"trace_id,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// AnalyzeRequest asks a worker to analyze Text. A nil SpacedVariant uses
// the worker's configured default.
type AnalyzeRequest struct {
	RequestID     string `json:"request_id"`
	Text          string `json:"text"`
	SpacedVariant *bool  `json:"spaced_variant,omitempty"`
}

// AnalyzeCompleted reports the outcome of an AnalyzeRequest.
type AnalyzeCompleted struct {
	RequestID   string             `json:"request_id"`
	AnalysisID  string             `json:"analysis_id,omitempty"`
	Success     bool               `json:"success"`
	Entities    []legal_ner.Entity `json:"entities"`
	EntityCount int                `json:"entity_count"`
	Summary     map[string]int     `json:"summary,omitempty"`
	Error       string             `json:"error,omitempty"`
	DurationMs  int64              `json:"duration_ms"`
	ObjectKey   string             `json:"object_key,omitempty"`
	CompletedAt time.Time          `json:"completed_at"`
}

// NewEventEnvelope wraps payload with a fresh event ID.
func NewEventEnvelope(eventType, source string, payload interface{}) (*EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal payload")
	}
	return &EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		Payload:       data,
	}, nil
}

// DecodePayload unmarshals the payload into target.
func (e *EventEnvelope) DecodePayload(target interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return errors.New(errors.ErrCodeValidation, "empty event payload")
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal payload")
	}
	return nil
}

// ToMessage serializes the envelope for topic, keyed by key.
func (e *EventEnvelope) ToMessage(topic, key string) (*common.ProducerMessage, error) {
	val, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal envelope")
	}
	headers := map[string]string{
		"event_type":     e.EventType,
		"source_service": e.Source,
		"schema_version": e.SchemaVersion,
	}
	if e.TraceID != "" {
		headers["trace_id"] = e.TraceID
	}
	return &common.ProducerMessage{
		Topic:     topic,
		Key:       []byte(key),
		Value:     val,
		Headers:   headers,
		Timestamp: e.Timestamp,
	}, nil
}

// MessageToEventEnvelope parses a consumed message.
func MessageToEventEnvelope(msg *common.Message) (*EventEnvelope, error) {
	if len(msg.Value) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "empty message value")
	}
	var env EventEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal envelope")
	}
	return &env, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Topic management
// ─────────────────────────────────────────────────────────────────────────────

// ConnInterface abstracts kafka.Conn for testing.
type ConnInterface interface {
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// TopicManager creates the service topics on the cluster controller.
type TopicManager struct {
	conn   ConnInterface
	logger logging.Logger
}

// NewTopicManager dials the first broker and then the controller, since
// topic creation must go through the controller.
func NewTopicManager(brokers []string, logger logging.Logger) (*TopicManager, error) {
	if len(brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "brokers required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to dial kafka")
	}
	defer conn.Close()
	controller, err := conn.Controller()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to find kafka controller")
	}
	cconn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to dial kafka controller")
	}
	return &TopicManager{conn: cconn, logger: logger}, nil
}

// CreateTopic creates cfg unless it already exists.
func (m *TopicManager) CreateTopic(ctx context.Context, cfg common.TopicConfig) error {
	if cfg.Name == "" {
		return errors.New(errors.ErrCodeValidation, "topic name required")
	}
	if cfg.NumPartitions <= 0 || cfg.ReplicationFactor <= 0 {
		return errors.New(errors.ErrCodeValidation, "partitions and replication factor must be > 0")
	}
	if exists, _ := m.TopicExists(ctx, cfg.Name); exists {
		return nil
	}
	kCfg := kafka.TopicConfig{
		Topic:             cfg.Name,
		NumPartitions:     cfg.NumPartitions,
		ReplicationFactor: cfg.ReplicationFactor,
	}
	if cfg.RetentionMs > 0 {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{
			ConfigName:  "retention.ms",
			ConfigValue: strconv.FormatInt(cfg.RetentionMs, 10),
		})
	}
	if err := m.conn.CreateTopics(kCfg); err != nil {
		if errors.Is(err, kafka.TopicAlreadyExists) {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create topic "+cfg.Name)
	}
	m.logger.Info("Topic created", logging.String("topic", cfg.Name))
	return nil
}

// TopicExists reports whether name has at least one partition.
func (m *TopicManager) TopicExists(_ context.Context, name string) (bool, error) {
	partitions, err := m.conn.ReadPartitions(name)
	if err != nil {
		return false, nil
	}
	return len(partitions) > 0, nil
}

// EnsureTopics creates every topic in topics.
func (m *TopicManager) EnsureTopics(ctx context.Context, topics []common.TopicConfig) error {
	for _, topic := range topics {
		if err := m.CreateTopic(ctx, topic); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the controller connection.
func (m *TopicManager) Close() error {
	return m.conn.Close()
}

// ServiceTopics lists the request, completion and dead letter topics.
func ServiceTopics(cfg config.KafkaConfig) []common.TopicConfig {
	const day = int64(24 * time.Hour / time.Millisecond)
	return []common.TopicConfig{
		{Name: cfg.RequestTopic, NumPartitions: 6, ReplicationFactor: 1, RetentionMs: 7 * day},
		{Name: cfg.CompletedTopic, NumPartitions: 6, ReplicationFactor: 1, RetentionMs: 7 * day},
		{Name: cfg.DLQTopic, NumPartitions: 1, ReplicationFactor: 1, RetentionMs: 30 * day},
	}
}
