package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/floodloop/risk-stream/internal/config"
	"github.com/floodloop/risk-stream/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher produces alert events and risk snapshots to their Kafka topics.
// It implements hub.Publisher.
type Publisher struct {
	alerts    *kafkago.Writer
	snapshots *kafkago.Writer
	logger    *slog.Logger
}

// NewPublisher creates Kafka producers for the alert and snapshot topics.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	newWriter := func(topic string) *kafkago.Writer {
		return &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.KafkaBrokers...),
			Topic:        topic,
			Balancer:     &kafkago.LeastBytes{},
			RequiredAcks: kafkago.RequireAll,
		}
	}
	return &Publisher{
		alerts:    newWriter(cfg.KafkaAlertTopic),
		snapshots: newWriter(cfg.KafkaSnapshotTopic),
		logger:    logger,
	}
}

// PublishAlertEvents serializes and publishes fired alert events in a single
// WriteMessages call.
func (p *Publisher) PublishAlertEvents(ctx context.Context, events []domain.AlertEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := serializeAlertEvent(events[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return p.alerts.WriteMessages(ctx, msgs...)
}

// PublishSnapshot publishes one scored poll result, keyed by coordinate so a
// compacted topic retains the latest snapshot per location.
func (p *Publisher) PublishSnapshot(ctx context.Context, snap domain.RiskSnapshot) error {
	msg, err := serializeSnapshot(snap)
	if err != nil {
		return err
	}
	return p.snapshots.WriteMessages(ctx, msg)
}

func (p *Publisher) Close() error {
	if err := p.alerts.Close(); err != nil {
		return err
	}
	return p.snapshots.Close()
}

// serializeAlertEvent marshals an AlertEvent into a Kafka message keyed by
// its definition, so events for one definition stay ordered.
func serializeAlertEvent(event domain.AlertEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.DefinitionID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "city_id", Value: []byte(event.CityID)},
			{Key: "level", Value: []byte(event.Level.String())},
			{Key: "fired_at", Value: []byte(event.FiredAt.Format(time.RFC3339))},
		},
	}, nil
}

func serializeSnapshot(snap domain.RiskSnapshot) (kafkago.Message, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize risk snapshot: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(snap.Coordinate.Key()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "level", Value: []byte(snap.Score.Level.String())},
			{Key: "at", Value: []byte(snap.At.Format(time.RFC3339))},
		},
	}, nil
}
