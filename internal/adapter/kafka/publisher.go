// Package kafka publishes persisted events as a change feed.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/event-harvest-service/internal/domain"
	"github.com/couchcryptid/event-harvest-service/internal/observability"
)

// Publisher produces one message per newly persisted event, keyed by URL so
// that all versions of an event land on the same partition.
type Publisher struct {
	writer  *kafkago.Writer
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPublisher creates a Kafka producer for topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger, metrics *observability.Metrics) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w, logger: logger, metrics: metrics}
}

// Publish serializes and writes records in a single WriteMessages call.
func (p *Publisher) Publish(ctx context.Context, records []domain.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(records))
	for i := range records {
		msg, err := serializeToMessage(records[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.metrics.EventsPublished.WithLabelValues("error").Add(float64(len(msgs)))
		return fmt.Errorf("publish %d events: %w", len(msgs), err)
	}
	p.metrics.EventsPublished.WithLabelValues("ok").Add(float64(len(msgs)))
	p.logger.DebugContext(ctx, "events published", "count", len(msgs), "topic", p.writer.Topic)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals an EventRecord into a Kafka message.
func serializeToMessage(record domain.EventRecord) (kafkago.Message, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize event %s: %w", record.URL, err)
	}
	return kafkago.Message{
		Key:   []byte(record.URL),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "category", Value: []byte(record.Category)},
			{Key: "harvested_at", Value: []byte(record.HarvestedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
