package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type stubWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *stubWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &stubWriter{}
	p := NewKafkaPublisher(w, zerolog.Nop())

	require.NoError(t, p.Publish(context.Background(), "conv-1", map[string]any{"type": "message.created", "seq": 7}))
	require.Len(t, w.msgs, 1)
	require.Equal(t, "conv-1", string(w.msgs[0].Key))

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	require.Equal(t, "message.created", got["type"])
	require.EqualValues(t, 7, got["seq"])

	require.NoError(t, p.Close())
	require.True(t, w.closed)
}

func TestKafkaPublisher_Errors(t *testing.T) {
	broker := errors.New("leader not available")
	p := NewKafkaPublisher(&stubWriter{err: broker}, zerolog.Nop())
	require.ErrorIs(t, p.Publish(context.Background(), "k", map[string]int{"a": 1}), broker)

	err := NewKafkaPublisher(&stubWriter{}, zerolog.Nop()).Publish(context.Background(), "k", make(chan int))
	require.ErrorContains(t, err, "encode record")
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter(" broker-1:9092, ,broker-2:9092", "messages.created")
	require.Equal(t, "messages.created", w.Topic)
	require.Contains(t, w.Addr.String(), "broker-1:9092")
	require.Contains(t, w.Addr.String(), "broker-2:9092")
	require.IsType(t, &kafka.Hash{}, w.Balancer)
}
