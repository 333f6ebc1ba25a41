package consumer

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/fittrack/internal/events"
	"example.com/fittrack/internal/logger"
)

// frame applies the producer's wire format to payload.
func frame(schemaID int, payload []byte) []byte {
	buf := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(buf[1:5], uint32(schemaID))
	copy(buf[5:], payload)
	return buf
}

func profileRecord(offset int64, userID string) kafka.Message {
	return kafka.Message{
		Topic:  events.TypeProfileUpdated,
		Offset: offset,
		Time:   time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC),
		Value:  frame(42, []byte(`{"user_id":"`+userID+`"}`)),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(events.TypeProfileUpdated)},
			{Key: "user_id", Value: []byte(userID)},
			{Key: "schema_subject", Value: []byte("profile_events-value")},
		},
	}
}

func TestProcessorCommitsOnSuccess(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{profileRecord(10, "user-1")}}
	handler := &stubHandler{}
	processed := processedCounter.WithLabelValues(events.TypeProfileUpdated, events.TypeProfileUpdated)
	beforeProcessed := testutil.ToFloat64(processed)

	err := NewProcessor(reader, handler, WithLogger(logger.Nop())).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.InDelta(t, beforeProcessed+1, testutil.ToFloat64(processed), 0.0001)
	require.InDelta(t, float64(profileRecord(10, "user-1").Time.Unix()), testutil.ToFloat64(lastMessageGauge.WithLabelValues(events.TypeProfileUpdated)), 0.0001)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, []int64{10}, reader.committed)
	require.Equal(t, events.TypeProfileUpdated, handler.last.EventType)
	require.Equal(t, "user-1", handler.last.UserID)
	require.Equal(t, "profile_events-value", handler.last.SchemaSubject)
	require.Equal(t, 42, handler.last.SchemaID)
	require.JSONEq(t, `{"user_id":"user-1"}`, string(handler.last.Payload))
}

func TestProcessorRetriesHandlerBeforeCommitting(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{profileRecord(20, "user-2")}}
	handler := &stubHandler{failures: 2, err: errors.New("store down")}

	err := NewProcessor(reader, handler, WithRetry(3, time.Millisecond)).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 3, handler.calls)
	require.Equal(t, []int64{20}, reader.committed)
}

func TestProcessorDropsMessageAfterRetries(t *testing.T) {
	reader := &stubReader{messages: []kafka.Message{profileRecord(30, "user-3"), profileRecord(31, "user-4")}}
	handler := &stubHandler{failures: 2, err: errors.New("boom")}
	dropped := droppedCounter.WithLabelValues(events.TypeProfileUpdated, events.TypeProfileUpdated)
	handlerErrors := handlerErrorCounter.WithLabelValues(events.TypeProfileUpdated, events.TypeProfileUpdated)
	processed := processedCounter.WithLabelValues(events.TypeProfileUpdated, events.TypeProfileUpdated)
	beforeDropped := testutil.ToFloat64(dropped)
	beforeErrors := testutil.ToFloat64(handlerErrors)
	beforeProcessed := testutil.ToFloat64(processed)

	err := NewProcessor(reader, handler, WithRetry(2, time.Millisecond)).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.InDelta(t, beforeDropped+1, testutil.ToFloat64(dropped), 0.0001)
	require.InDelta(t, beforeErrors+2, testutil.ToFloat64(handlerErrors), 0.0001)
	require.InDelta(t, beforeProcessed+1, testutil.ToFloat64(processed), 0.0001, "only the second message counts as processed")
	require.Equal(t, 3, handler.calls, "two attempts for the first message, one for the second")
	require.Equal(t, []int64{30, 31}, reader.committed)
	require.Equal(t, "user-4", handler.last.UserID)
}

func TestProcessorLeavesMessageUncommittedOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &stubReader{messages: []kafka.Message{profileRecord(40, "user-5")}}
	handler := HandlerFunc(func(context.Context, Message) error {
		cancel()
		return errors.New("interrupted")
	})

	err := NewProcessor(reader, handler, WithRetry(5, time.Hour)).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, reader.committed)
}

func TestProcessorCommitsMalformedMessages(t *testing.T) {
	reader := &stubReader{
		messages: []kafka.Message{
			{Topic: "profile_events", Offset: 1, Value: []byte{0, 1}},
			{Topic: "profile_events", Offset: 2, Value: frame(1, []byte(`{}`))},
			{Topic: "profile_events", Offset: 3, Value: append([]byte{1}, frame(1, nil)[1:]...)},
		},
	}
	handler := &stubHandler{}
	beforeDecode := testutil.ToFloat64(decodeErrorCounter.WithLabelValues("profile_events"))

	err := NewProcessor(reader, handler).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, handler.calls)
	require.InDelta(t, beforeDecode+3, testutil.ToFloat64(decodeErrorCounter.WithLabelValues("profile_events")), 0.0001)
	require.Equal(t, []int64{1, 2, 3}, reader.committed, "short frames, bad magic bytes and missing event_type headers are committed")
}

func TestChainStopsAtFirstError(t *testing.T) {
	first := &stubHandler{failures: 1, err: errors.New("boom")}
	second := &stubHandler{}

	err := Chain(first, second).Handle(context.Background(), Message{EventType: events.TypeProfileUpdated})
	require.EqualError(t, err, "boom")
	require.Equal(t, 1, first.calls)
	require.Zero(t, second.calls)
}

type stubReader struct {
	messages  []kafka.Message
	index     int
	committed []int64
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.index >= len(r.messages) {
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, msg := range msgs {
		r.committed = append(r.committed, msg.Offset)
	}
	return nil
}

func (r *stubReader) Close() error { return nil }

// stubHandler fails its first `failures` calls with err.
type stubHandler struct {
	calls    int
	failures int
	err      error
	last     Message
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	if h.calls <= h.failures {
		return h.err
	}
	return nil
}
