package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/elys-network/ilpredictor/internal/types"
	"github.com/segmentio/kafka-go"
)

var ErrNoBrokers = errors.New("kafka brokers are required")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON, keyed by series so a series stays on one partition.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink creates a sink writing to topic on the given brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Gzip,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 100 * time.Millisecond,
	}
	return &KafkaSink{writer: writer}, nil
}

func (s *KafkaSink) Emit(ctx context.Context, event types.PredictionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal prediction event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.Series),
		Value: payload,
		Time:  event.EmittedAt,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish prediction event %s: %w", event.ID, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
