package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/fittrack/internal/logger"
)

// KafkaProducer keeps one writer per topic, created on first use.
// Messages are keyed by user ID, so hash balancing keeps a user's events ordered.
type KafkaProducer struct {
	brokers []string
	log     *logger.Logger

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	closed  bool
}

// NewKafkaProducer creates a KafkaProducer.
func NewKafkaProducer(brokers []string, log *logger.Logger) *KafkaProducer {
	return &KafkaProducer{
		brokers: brokers,
		log:     log.With("component", "kafka_producer"),
		writers: make(map[string]*kafka.Writer),
	}
}

// WriteMessages writes msgs to topic.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	writer, err := p.writer(topic)
	if err != nil {
		return err
	}
	return writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) writer(topic string) (*kafka.Writer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("producer closed, dropping write to %s", topic)
	}
	if w, ok := p.writers[topic]; ok {
		return w, nil
	}

	topicLog := p.log.With("topic", topic)
	w := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		BatchTimeout: 50 * time.Millisecond,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			topicLog.Warn(fmt.Sprintf(msg, args...))
		}),
	}
	p.writers[topic] = w
	return w, nil
}

// Close flushes and releases every writer. Later writes fail.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	var errs []error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s writer: %w", topic, err))
		}
	}
	clear(p.writers)
	return errors.Join(errs...)
}
