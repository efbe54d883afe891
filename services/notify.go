package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// Event is a lifecycle notification emitted by the core. Delivery is
// fire-and-forget: failures are logged and never block or fail the
// originating operation.
type Event struct {
	Type      string                 `json:"type"` // created, assigned, escalated, decided, expired
	RequestID string                 `json:"request_id"`
	ClientID  string                 `json:"client_id,omitempty"`
	ExpertID  string                 `json:"expert_id,omitempty"`
	At        time.Time              `json:"at"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// NotificationSink receives lifecycle events. Implementations should respect
// context cancellation and must not assume delivery guarantees.
type NotificationSink interface {
	Notify(ctx context.Context, event Event) error

	// Name returns the sink type for logging
	Name() string
}

// LogSink writes events to the process log. Default sink when nothing else is
// configured.
type LogSink struct{}

func (LogSink) Notify(ctx context.Context, event Event) error {
	log.Printf("Event %s: request=%s expert=%s", event.Type, event.RequestID, event.ExpertID)
	return nil
}

func (LogSink) Name() string { return "log" }

// RedisSink publishes events as JSON to a Redis pub/sub channel so dashboards
// and notification gateways can subscribe.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink creates a sink publishing to the given channel.
func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Notify(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, payload).Err()
}

func (s *RedisSink) Name() string { return "redis" }

// notify dispatches an event to the sink without letting a delivery failure
// leak into the caller.
func notify(ctx context.Context, sink NotificationSink, event Event) {
	if sink == nil {
		return
	}
	if err := sink.Notify(ctx, event); err != nil {
		log.Printf("Notification via %s failed for request %s: %v", sink.Name(), event.RequestID, err)
	}
}
