package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the slice of kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes JSON integration records to one topic, keyed so that
// records of one conversation land on one partition.
type KafkaPublisher struct {
	w   MessageWriter
	log zerolog.Logger
}

func NewKafkaWriter(brokers, topic string) *kafka.Writer {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
}

func NewKafkaPublisher(w MessageWriter, log zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{w: w, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	p.log.Debug().Str("key", key).Int("bytes", len(value)).Msg("record published")
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }
