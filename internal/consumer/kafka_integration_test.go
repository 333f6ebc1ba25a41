//go:build integration

package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/fittrack/internal/domain"
	"example.com/fittrack/internal/events"
	"example.com/fittrack/internal/logger"
)

func TestKafkaProfileUpdateTriggersStalenessCheck(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkaContainer.Run(ctx, "confluentinc/confluent-local:7.5.0",
		kafkaContainer.WithClusterID("plan-engine"),
		testcontainers.WithEnv(map[string]string{"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true"}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	broker := brokers[0]
	topic := events.TypeProfileUpdated

	conn, err := kafka.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{broker},
		GroupID:     "plan-engine-integration",
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	checker := &syncChecker{calls: make(chan checkCall, 4)}
	proc := NewProcessor(reader, NewStalenessHandler(checker, logger.Nop()))

	consumerCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = proc.Run(consumerCtx) }()

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	garbage := kafka.Message{Value: []byte("not framed")}
	payload, err := json.Marshal(events.ProfileUpdated{UserID: "user-42", UpdatedAt: time.Now().UTC()})
	require.NoError(t, err)
	valid := kafka.Message{
		Key:   []byte("user-42"),
		Value: frame(7, payload),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(events.TypeProfileUpdated)},
			{Key: "user_id", Value: []byte("user-42")},
		},
	}
	require.NoError(t, writer.WriteMessages(ctx, garbage, valid))

	select {
	case call := <-checker.calls:
		require.Equal(t, "user-42", call.userID)
		require.Equal(t, []domain.PlanKind{domain.PlanKindDiet, domain.PlanKindWorkout}, call.kinds)
	case <-time.After(60 * time.Second):
		t.Fatal("staleness check not triggered")
	}
}

type syncChecker struct {
	calls chan checkCall
}

func (c *syncChecker) NotifyIfStale(_ context.Context, userID string, kinds ...domain.PlanKind) ([]domain.PlanKind, error) {
	c.calls <- checkCall{userID: userID, kinds: kinds}
	return nil, nil
}
