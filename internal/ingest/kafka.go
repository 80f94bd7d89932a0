// Package ingest consumes transcript fragments pushed through Kafka.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"live-subtitles-service/internal/observability/logging"
	"live-subtitles-service/internal/observability/metrics"
	"live-subtitles-service/internal/service/session"
	"live-subtitles-service/internal/transcript"
)

// TransportKafka labels fragments received over Kafka in metrics.
const TransportKafka = "kafka"

// Sink receives raw fragments for a channel. *session.Registry implements it.
type Sink interface {
	Deliver(channel string, raw []byte) error
}

// messageReader is the subset of *kafka.Reader used by the consumer.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Config holds Kafka consumer configuration.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string

	// MaxFragmentBytes drops messages larger than this. Zero disables the limit.
	MaxFragmentBytes int

	Metrics *metrics.Metrics
}

// Consumer reads fragments from a topic and delivers each to the session of
// the channel named by the message key.
type Consumer struct {
	reader           messageReader
	sink             Sink
	topic            string
	maxFragmentBytes int
	retryDelay       time.Duration
	metrics          *metrics.Metrics
	log              zerolog.Logger
}

// NewConsumer creates a consumer group reader for cfg.Topic.
func NewConsumer(cfg Config, sink Sink) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        100 * time.Millisecond,
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second,
	})
	return newConsumer(reader, cfg, sink)
}

func newConsumer(reader messageReader, cfg Config, sink Sink) *Consumer {
	m := cfg.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Consumer{
		reader:           reader,
		sink:             sink,
		topic:            cfg.Topic,
		maxFragmentBytes: cfg.MaxFragmentBytes,
		retryDelay:       time.Second,
		metrics:          m,
		log:              logging.WithComponent("ingest.Consumer"),
	}
}

// Run consumes until ctx is done. Read errors are logged and retried.
func (c *Consumer) Run(ctx context.Context) {
	c.log.Info().Str("topic", c.topic).Msg("Consuming transcript fragments")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error().Err(err).Str("topic", c.topic).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryDelay):
			}
			continue
		}
		c.handle(msg)
	}
}

func (c *Consumer) handle(msg kafka.Message) {
	c.metrics.RecordFragmentReceived(TransportKafka, len(msg.Value))

	channel := string(msg.Key)
	logger := c.log.With().
		Str("channel", channel).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Logger()

	if channel == "" {
		c.metrics.RecordFragmentDropped(metrics.DropReasonNoChannel)
		logger.Warn().Msg("Dropping fragment without channel key")
		return
	}
	if c.maxFragmentBytes > 0 && len(msg.Value) > c.maxFragmentBytes {
		c.metrics.RecordFragmentDropped(metrics.DropReasonOversize)
		logger.Warn().
			Int("bytes", len(msg.Value)).
			Int("maxBytes", c.maxFragmentBytes).
			Msg("Dropping oversized fragment")
		return
	}

	err := c.sink.Deliver(channel, msg.Value)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound):
		logger.Debug().Msg("Fragment for channel without open session dropped")
	case errors.Is(err, transcript.ErrMalformed):
		// counted by the assembler
	default:
		logger.Warn().Err(err).Msg("Fragment delivery failed")
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
