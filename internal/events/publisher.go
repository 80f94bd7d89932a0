// Package events provides subtitle event publishing.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"live-subtitles-service/internal/models"
	"live-subtitles-service/internal/observability/metrics"
	"live-subtitles-service/internal/schema"
	"live-subtitles-service/internal/service/subtitle"
)

// messageWriter is the subset of *kafka.Writer used by the publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes subtitle events to separate Kafka topics for partial
// and final subtitles.
type Publisher struct {
	writerPartial messageWriter
	writerFinal   messageWriter
	principal     string
	topicPartial  string
	topicFinal    string
	enabled       bool
	validator     *schema.Validator
	metrics       *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
	Enabled      bool
	Metrics      *metrics.Metrics
}

// New creates a new Kafka event publisher with separate topics for partial and final subtitles.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	// Handle nil config case
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled:   false,
			validator: schema.New(),
			metrics:   m,
		}
	}
	if cfg.Metrics != nil {
		m = cfg.Metrics
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:    cfg.Principal,
			topicPartial: cfg.TopicPartial,
			topicFinal:   cfg.TopicFinal,
			enabled:      false,
			validator:    schema.New(),
			metrics:      m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p := &Publisher{
		principal:    cfg.Principal,
		topicPartial: cfg.TopicPartial,
		topicFinal:   cfg.TopicFinal,
		enabled:      true,
		validator:    schema.New(),
		metrics:      m,
	}
	p.writerPartial = p.newWriter(cfg.Brokers, cfg.TopicPartial, transport)
	p.writerFinal = p.newWriter(cfg.Brokers, cfg.TopicFinal, transport)

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

// newWriter creates an asynchronous writer: WriteMessages only enqueues, so
// publishing from the fragment path never waits on the broker. Delivery
// failures surface through Completion.
func (p *Publisher) newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Transport:    transport,
		Completion: func(messages []kafka.Message, err error) {
			if err == nil {
				return
			}
			for _, msg := range messages {
				p.metrics.RecordKafkaPublish(topic, headerValue(msg, "eventType"), err, 0)
			}
			log.Error().
				Err(err).
				Str("topic", topic).
				Int("messages", len(messages)).
				Msg("Failed to deliver to Kafka")
		},
	}
}

// PublishUpdate publishes a subtitle update, routed to the final topic when
// the subtitle is final and to the partial topic otherwise.
func (p *Publisher) PublishUpdate(ctx context.Context, event models.SubtitleUpdate) error {
	if event.IsFinal {
		return p.publish(ctx, p.writerFinal, p.topicFinal, "final", event.Channel, event)
	}
	return p.publish(ctx, p.writerPartial, p.topicPartial, "partial", event.Channel, event)
}

// PublishCleared publishes a subtitle reset to the final topic.
func (p *Publisher) PublishCleared(ctx context.Context, event models.SubtitleCleared) error {
	return p.publish(ctx, p.writerFinal, p.topicFinal, "cleared", event.Channel, event)
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	if err := p.validator.Validate(event); err != nil {
		log.Error().Err(err).Str("topic", topic).Str("key", key).Msg("Refusing to publish invalid event")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Listener returns a subtitle.Listener that publishes every change of the
// given session. Its shape matches session.ListenerFactory.
func (p *Publisher) Listener(channel, sessionId string) subtitle.Listener {
	return &sessionListener{
		publisher: p,
		channel:   channel,
		sessionId: sessionId,
	}
}

type sessionListener struct {
	publisher *Publisher
	channel   string
	sessionId string
}

func (l *sessionListener) OnSubtitle(s subtitle.Snapshot) {
	_ = l.publisher.PublishUpdate(context.Background(), UpdateEvent(l.channel, l.sessionId, s))
}

func (l *sessionListener) OnCleared() {
	_ = l.publisher.PublishCleared(context.Background(), ClearedEvent(l.channel, l.sessionId, time.Now()))
}

// UpdateEvent builds the update event for a subtitle snapshot.
func UpdateEvent(channel, sessionId string, s subtitle.Snapshot) models.SubtitleUpdate {
	return models.SubtitleUpdate{
		EventType:  models.EventSubtitleUpdated,
		Channel:    channel,
		SessionID:  sessionId,
		Timestamp:  s.UpdatedAt.UnixMilli(),
		UID:        s.UID,
		Seqnum:     s.Seqnum,
		Lang:       s.Lang,
		Text:       s.Text,
		IsFinal:    s.IsFinal,
		Confidence: s.Confidence,
	}
}

// ClearedEvent builds the reset event of a session.
func ClearedEvent(channel, sessionId string, at time.Time) models.SubtitleCleared {
	return models.SubtitleCleared{
		EventType: models.EventSubtitleCleared,
		Channel:   channel,
		SessionID: sessionId,
		Timestamp: at.UnixMilli(),
	}
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Close closes both Kafka writers, flushing pending messages.
func (p *Publisher) Close() error {
	var err error
	if p.writerPartial != nil {
		if e := p.writerPartial.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing partial writer")
			err = e
		}
	}
	if p.writerFinal != nil {
		if e := p.writerFinal.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing final writer")
			err = e
		}
	}
	return err
}
