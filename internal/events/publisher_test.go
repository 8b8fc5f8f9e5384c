package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (s *stubWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	s.messages = append(s.messages, msgs...)
	return s.err
}

func (s *stubWriter) Close() error {
	s.closed = true
	return nil
}

func TestKafkaPublisherWritesKeyedJSON(t *testing.T) {
	writer := &stubWriter{}
	pub := &KafkaPublisher{writer: writer}

	event := VerdictEvent{
		RequestID:  "req-1",
		SubjectID:  "anonymous",
		Status:     "adult",
		Age:        "25",
		LatencyMs:  1200,
		OccurredAt: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.Publish(context.Background(), event))

	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, []byte("req-1"), msg.Key)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, []byte("adult"), msg.Headers[0].Value)

	var decoded VerdictEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event, decoded)

	require.NoError(t, pub.Close())
	assert.True(t, writer.closed)
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	boom := errors.New("leader not available")
	pub := &KafkaPublisher{writer: &stubWriter{err: boom}}

	err := pub.Publish(context.Background(), VerdictEvent{RequestID: "req-2"})
	assert.ErrorIs(t, err, boom)
}
