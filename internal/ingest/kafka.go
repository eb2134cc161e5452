package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/good-yellow-bee/blazealert/internal/logging"
	"github.com/good-yellow-bee/blazealert/internal/metrics"
)

// commitTimeout bounds an offset commit made after the consumer is cancelled.
const commitTimeout = 5 * time.Second

// messageNamespace derives event ids for messages that carry none, so a
// redelivered offset maps to the same event.
var messageNamespace = uuid.MustParse("5f2d7c1a-8e43-4b9d-b6a0-2c7e9f14d385")

// KafkaConfig configures the error event consumer.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
}

// Validate validates the consumer configuration.
func (c *KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("topic is required")
	}
	if c.GroupID == "" {
		return errors.New("group id is required")
	}
	return nil
}

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads JSON error events from a topic and records them.
// Offsets are committed after each message is handled; malformed messages
// are logged and committed so they do not block the partition. A fetched
// message is always evaluated and committed, even when ctx is cancelled
// mid-message.
type KafkaConsumer struct {
	reader   MessageReader
	recorder Recorder
	logger   zerolog.Logger
}

// NewKafkaConsumer creates a consumer group reader for cfg.
func NewKafkaConsumer(cfg KafkaConfig, recorder Recorder) (*KafkaConsumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10e6
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Second
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0, // synchronous commits
	})

	return NewKafkaConsumerWithReader(reader, recorder), nil
}

// NewKafkaConsumerWithReader creates a consumer over an existing reader.
func NewKafkaConsumerWithReader(reader MessageReader, recorder Recorder) *KafkaConsumer {
	return &KafkaConsumer{
		reader:   reader,
		recorder: recorder,
		logger:   logging.WithComponent("kafka"),
	}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	c.logger.Info().Msg("kafka consumer started")
	defer c.logger.Info().Msg("kafka consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		result := c.handle(context.WithoutCancel(ctx), msg)
		metrics.KafkaMessagesTotal.WithLabelValues(result).Inc()

		if err := c.commit(ctx, msg); err != nil {
			if ctx.Err() != nil {
				c.logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("commit failed during shutdown")
				return nil
			}
			return fmt.Errorf("commit message: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// commit commits msg, falling back to a short detached deadline once ctx
// is done.
func (c *KafkaConsumer) commit(ctx context.Context, msg kafka.Message) error {
	if ctx.Err() == nil {
		return c.reader.CommitMessages(ctx, msg)
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	return c.reader.CommitMessages(cctx, msg)
}

// messageEventID returns a stable event id for a message without one.
func messageEventID(msg kafka.Message) string {
	key := fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	return uuid.NewSHA1(messageNamespace, []byte(key)).String()
}

// handle records one message and returns its metric result label. ctx is
// detached from shutdown by Run.
func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message) string {
	log := c.logger.With().
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Logger()

	var p Payload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		log.Warn().Err(err).Msg("skipping malformed message")
		return "malformed"
	}
	ev, err := p.ToEvent()
	if err != nil {
		log.Warn().Err(err).Msg("skipping invalid event")
		return "malformed"
	}
	if ev.ID == "" {
		ev.ID = messageEventID(msg)
	}

	res, err := c.recorder.Record(ctx, ev, SourceKafka)
	if err != nil {
		log.Error().Err(err).Str("event_id", res.EventID).Msg("failed to record event")
		return "failed"
	}
	if res.Outcome != nil && res.Outcome.Retryable() {
		log.Warn().Str("event_id", res.EventID).Msg("event evaluation hit a store failure")
	}
	return "ok"
}

// Close closes the underlying reader.
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
