package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/kikitori/internal/metrics"
	"github.com/foxseedlab/kikitori/internal/publisher"
	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
)

type KafkaConfig struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
}

// KafkaPublisher writes partial and final transcript events to separate
// topics. Without brokers it only logs the events.
type KafkaPublisher struct {
	writerPartial *kafka.Writer
	writerFinal   *kafka.Writer
	topicPartial  string
	topicFinal    string
	enabled       bool
	metrics       metrics.Recorder
}

func NewKafkaPublisher(cfg KafkaConfig, rec metrics.Recorder) *KafkaPublisher {
	p := &KafkaPublisher{
		topicPartial: cfg.TopicPartial,
		topicFinal:   cfg.TopicFinal,
		metrics:      rec,
	}
	if len(cfg.Brokers) == 0 {
		slog.Info("kafka disabled; transcript events are only logged")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   dialTimeout,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}
	p.writerPartial = newWriter(cfg.Brokers, cfg.TopicPartial, transport)
	p.writerFinal = newWriter(cfg.Brokers, cfg.TopicFinal, transport)
	p.enabled = true
	slog.Info("kafka publisher initialized", "brokers", cfg.Brokers, "topic_partial", cfg.TopicPartial, "topic_final", cfg.TopicFinal)
	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: writeTimeout,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

func (p *KafkaPublisher) PublishPartial(ctx context.Context, key string, event publisher.TranscriptEvent) error {
	return p.publish(ctx, p.writerPartial, p.topicPartial, key, event)
}

func (p *KafkaPublisher) PublishFinal(ctx context.Context, key string, event publisher.TranscriptEvent) error {
	return p.publish(ctx, p.writerFinal, p.topicFinal, key, event)
}

func (p *KafkaPublisher) publish(ctx context.Context, writer *kafka.Writer, topic, key string, event publisher.TranscriptEvent) error {
	start := time.Now()
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	slog.Debug("publishing transcript event", "topic", topic, "key", key, "sequence", event.Sequence)

	if !p.enabled || writer == nil {
		return nil
	}
	err = writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(event.EventType)},
			{Key: "requestId", Value: []byte(event.RequestID)},
		},
	})
	p.metrics.RecordPublish(topic, err != nil, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	var errs []error
	for _, w := range []*kafka.Writer{p.writerPartial, p.writerFinal} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown is called by the DI container.
func (p *KafkaPublisher) Shutdown() error {
	return p.Close()
}
