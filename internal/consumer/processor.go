// Package consumer reads upstream profile events from Kafka and reacts to them.
package consumer

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/fittrack/internal/logger"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages from Kafka.
type Handler interface {
	Handle(context.Context, Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(context.Context, Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Chain runs handlers in order and stops at the first error.
func Chain(handlers ...Handler) Handler {
	return HandlerFunc(func(ctx context.Context, msg Message) error {
		for _, h := range handlers {
			if err := h.Handle(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	})
}

// Message is the decoded representation of a schema-framed Kafka record.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	EventType     string
	UserID        string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(log *logger.Logger) Option {
	return func(p *Processor) {
		p.log = log.With("component", "consumer")
	}
}

// WithRetry sets how many times a failing handler is attempted per message and
// the delay before the first retry. The delay doubles on each retry.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(p *Processor) {
		p.attempts = max(1, attempts)
		p.backoff = backoff
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a Handler.
//
// Kafka commits are offsets, so committing a later message acknowledges every
// earlier one on the partition. A failing handler is therefore retried in place;
// once retries are exhausted the message is counted as dropped and committed.
// Malformed records are committed immediately.
type Processor struct {
	reader   Reader
	handler  Handler
	log      *logger.Logger
	attempts int
	backoff  time.Duration
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:   reader,
		handler:  handler,
		log:      logger.Nop(),
		attempts: 3,
		backoff:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes messages until ctx is cancelled. A message whose handling is
// interrupted by cancellation stays uncommitted.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		record, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.log.Warn("fetch failed", "error", err)
			continue
		}

		msg, err := decodeMessage(record)
		if err != nil {
			p.log.Warn("dropping malformed message", "topic", record.Topic, "partition", record.Partition, "offset", record.Offset, "error", err)
			recordDecodeError(record.Topic)
			p.commit(ctx, record)
			continue
		}

		if err := p.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Error("dropping message after retries",
				"event_type", msg.EventType, "user_id", msg.UserID, "offset", msg.Offset, "attempts", p.attempts, "error", err)
			recordDropped(msg)
			p.commit(ctx, record)
			continue
		}

		if p.commit(ctx, record) {
			recordProcessed(msg)
		}
	}
}

func (p *Processor) handle(ctx context.Context, msg Message) error {
	delay := p.backoff
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err = p.handler.Handle(ctx, msg); err == nil {
			return nil
		}
		recordHandlerError(msg)
		if attempt == p.attempts {
			break
		}
		p.log.Warn("handler failed, retrying", "event_type", msg.EventType, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func (p *Processor) commit(ctx context.Context, record kafka.Message) bool {
	if err := p.reader.CommitMessages(ctx, record); err != nil {
		p.log.Error("commit failed", "topic", record.Topic, "offset", record.Offset, "error", err)
		return false
	}
	return true
}

// decodeMessage unwraps Confluent framing: magic byte 0, a big-endian schema ID, then JSON.
func decodeMessage(record kafka.Message) (Message, error) {
	if len(record.Value) < 5 {
		return Message{}, fmt.Errorf("frame too short: %d bytes", len(record.Value))
	}
	if magic := record.Value[0]; magic != 0 {
		return Message{}, fmt.Errorf("unexpected magic byte %d", magic)
	}

	headers := make(map[string]string, len(record.Headers))
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event_type"] == "" {
		return Message{}, errors.New("missing event_type header")
	}

	return Message{
		Topic:         record.Topic,
		Partition:     record.Partition,
		Offset:        record.Offset,
		Timestamp:     record.Time,
		EventType:     headers["event_type"],
		UserID:        headers["user_id"],
		SchemaSubject: headers["schema_subject"],
		SchemaID:      int(binary.BigEndian.Uint32(record.Value[1:5])),
		Payload:       json.RawMessage(bytes.Clone(record.Value[5:])),
	}, nil
}
