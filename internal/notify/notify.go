// Package notify publishes plan-refresh signals so dependent views recompute.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"example.com/fittrack/internal/domain"
	"example.com/fittrack/internal/logger"
)

// RedisPublisher fans plan changes out over a Redis pub/sub channel.
type RedisPublisher struct {
	rdb     redis.UniversalClient
	channel string
	log     *logger.Logger
}

// NewRedisPublisher constructs a RedisPublisher. channel defaults to "plan-refresh".
func NewRedisPublisher(rdb redis.UniversalClient, channel string, log *logger.Logger) *RedisPublisher {
	if channel == "" {
		channel = "plan-refresh"
	}
	return &RedisPublisher{rdb: rdb, channel: channel, log: log.With("component", "refresh_publisher")}
}

// PlanChanged publishes change as JSON.
func (p *RedisPublisher) PlanChanged(ctx context.Context, change domain.PlanChange) error {
	raw, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode plan change: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish plan change: %w", err)
	}
	p.log.Debug("plan refresh published", "user_id", change.UserID, "reason", change.Reason)
	return nil
}

// Subscribe forwards plan changes from the channel to onChange until ctx is done.
func (p *RedisPublisher) Subscribe(ctx context.Context, onChange func(domain.PlanChange)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var change domain.PlanChange
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					p.log.Warn("drop malformed plan change", "error", err)
					continue
				}
				onChange(change)
			}
		}
	}()
	return nil
}

// Hub fans plan changes out to in-process subscribers. A subscriber that falls
// behind loses changes rather than blocking publishers.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan domain.PlanChange
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan domain.PlanChange)}
}

func (h *Hub) PlanChanged(_ context.Context, change domain.PlanChange) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- change:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of changes that is closed once ctx is done.
func (h *Hub) Subscribe(ctx context.Context) <-chan domain.PlanChange {
	ch := make(chan domain.PlanChange, 16)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		close(ch)
	}()
	return ch
}

// Recorder keeps plan changes in memory. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	changes []domain.PlanChange
}

func (r *Recorder) PlanChanged(_ context.Context, change domain.PlanChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
	return nil
}

// Changes returns a copy of the recorded changes.
func (r *Recorder) Changes() []domain.PlanChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.PlanChange(nil), r.changes...)
}
