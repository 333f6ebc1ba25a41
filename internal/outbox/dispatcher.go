// Package outbox records domain events transactionally and relays them to Kafka.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"example.com/fittrack/internal/logger"
)

// claimLease is how long a claimed row stays invisible to other relays. Rows
// claimed by a relay that died mid-batch are picked up again afterwards.
const claimLease = 5 * time.Minute

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Message represents a row fetched from outbox. Field order matches the claim query.
type Message struct {
	EventID       int64
	UserID        string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
	ReplayCount   int // times the event came back from the DLQ
}

// failure is a message that could not be delivered and the stage it failed in.
type failure struct {
	msg    Message
	stage  string
	reason string
}

// delivery splits a batch into what reached Kafka and what goes to the DLQ.
type delivery struct {
	published []Message
	failed    []failure
}

// Dispatcher drains the outbox table and delivers events to Kafka using Schema Registry metadata.
// A bad event or an unavailable topic only dead-letters the affected rows.
type Dispatcher struct {
	pool         *pgxpool.Pool
	producer     messageWriter
	registry     schemaRegistrar
	dlq          *DLQWriter
	log          *logger.Logger
	pollInterval time.Duration
	batchSize    int
	schemas      schemaCache
	now          func() time.Time
	done         chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, pollInterval time.Duration, batchSize int, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		pool:         pool,
		producer:     producer,
		registry:     registry,
		dlq:          NewDLQWriter(pool),
		log:          log.With("component", "outbox_dispatcher"),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		schemas:      schemaCache{ids: make(map[string]int)},
		now:          func() time.Time { return time.Now().UTC() },
		done:         make(chan struct{}),
	}
}

// Start polls until ctx is cancelled. Run it in its own goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	defer close(d.done)

	for {
		// A full batch usually means more rows are waiting; drain before sleeping.
		for {
			n, err := d.processBatch(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				d.log.Error("outbox batch failed", "error", err)
			}
			if err != nil || n < d.batchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start returns.
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) processBatch(ctx context.Context) (int, error) {
	messages, err := d.claim(ctx)
	if err != nil || len(messages) == 0 {
		return 0, err
	}
	start := time.Now()
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	result := d.deliver(ctx, messages)
	deliveredCounter.Add(float64(len(result.published)))

	settled := make([]int64, 0, len(messages))
	for _, msg := range result.published {
		settled = append(settled, msg.EventID)
	}
	for _, f := range result.failed {
		failedCounter.WithLabelValues(f.stage).Inc()
		d.log.Warn("outbox event dead-lettered",
			"event_id", f.msg.EventID, "event_type", f.msg.EventType, "stage", f.stage, "reason", f.reason)
		if err := d.dlq.Write(ctx, f.msg, f.reason); err != nil {
			// Left claimed; the lease expiry brings it back.
			d.log.Error("dlq write failed", "event_id", f.msg.EventID, "error", err)
			continue
		}
		dlqCounter.WithLabelValues(f.msg.Topic).Inc()
		settled = append(settled, f.msg.EventID)
	}

	if err := d.markPublished(ctx, settled); err != nil {
		return len(messages), fmt.Errorf("mark published: %w", err)
	}
	return len(messages), nil
}

func (d *Dispatcher) claim(ctx context.Context) (_ []Message, err error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx,
		`SELECT event_id, user_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, replay_count
         FROM outbox
         WHERE published_at IS NULL
           AND (claimed_at IS NULL OR claimed_at < NOW() - make_interval(secs => $2))
         ORDER BY event_id
         LIMIT $1
         FOR UPDATE SKIP LOCKED`,
		d.batchSize, claimLease.Seconds())
	if err != nil {
		return nil, err
	}
	messages, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Message])
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, tx.Rollback(ctx)
	}

	ids := make([]int64, len(messages))
	for i, msg := range messages {
		ids[i] = msg.EventID
	}
	if _, err = tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return messages, nil
}

// deliver encodes every message and writes one batch per topic, preserving
// first-seen topic order.
func (d *Dispatcher) deliver(ctx context.Context, messages []Message) delivery {
	var (
		result  delivery
		topics  []string
		pending = make(map[string][]Message)
		records = make(map[string][]kafka.Message)
	)
	for _, msg := range messages {
		record, err := d.encode(ctx, msg)
		if err != nil {
			result.failed = append(result.failed, failure{msg: msg, stage: "encode", reason: err.Error()})
			continue
		}
		if _, seen := pending[msg.Topic]; !seen {
			topics = append(topics, msg.Topic)
		}
		pending[msg.Topic] = append(pending[msg.Topic], msg)
		records[msg.Topic] = append(records[msg.Topic], record)
	}

	for _, topic := range topics {
		if err := d.producer.WriteMessages(ctx, topic, records[topic]...); err != nil {
			reason := fmt.Sprintf("write %s: %v", topic, err)
			for _, msg := range pending[topic] {
				result.failed = append(result.failed, failure{msg: msg, stage: "produce", reason: reason})
			}
			continue
		}
		result.published = append(result.published, pending[topic]...)
	}
	return result
}

func (d *Dispatcher) encode(ctx context.Context, msg Message) (kafka.Message, error) {
	route, ok := RouteFor(msg.EventType)
	if !ok {
		return kafka.Message{}, fmt.Errorf("no schema metadata for event_type=%s", msg.EventType)
	}
	schemaID, err := d.schemas.resolve(ctx, d.registry, msg.SchemaSubject, route.Schema)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("resolve schema %s: %w", msg.SchemaSubject, err)
	}

	return kafka.Message{
		Key:   []byte(msg.PartitionKey),
		Value: encodeWireFormat(schemaID, msg.Payload),
		Time:  d.now(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.EventType)},
			{Key: "user_id", Value: []byte(msg.UserID)},
			{Key: "schema_subject", Value: []byte(msg.SchemaSubject)},
		},
	}, nil
}

func (d *Dispatcher) markPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := d.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids)
	return err
}

// schemaCache remembers registry IDs per subject for the life of the process.
// Failed lookups are not cached.
type schemaCache struct {
	mu  sync.RWMutex
	ids map[string]int
}

func (c *schemaCache) resolve(ctx context.Context, registry schemaRegistrar, subject, schema string) (int, error) {
	c.mu.RLock()
	id, ok := c.ids[subject]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, err := registry.EnsureSchema(ctx, subject, schema)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.ids[subject] = id
	c.mu.Unlock()
	return id, nil
}

// encodeWireFormat applies Confluent framing: magic byte 0, big-endian schema ID, payload.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
