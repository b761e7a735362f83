// Package events carries availability-update notifications between the
// engine and API processes over a Redis channel.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AvailabilityUpdate is published after every cache refresh.
type AvailabilityUpdate struct {
	Location       string    `json:"location"`
	SubLocation    string    `json:"sub_location,omitempty"`
	Date           string    `json:"date"`
	SlotCount      int       `json:"slot_count"`
	AvailableCount int       `json:"available_count"`
	CheckedAt      time.Time `json:"checked_at"`
}

// Bus publishes and subscribes availability updates.
type Bus struct {
	client  *redis.Client
	channel string
}

// NewBus wraps a Redis client for the given channel.
func NewBus(client *redis.Client, channel string) *Bus {
	if channel == "" {
		channel = "availability:updates"
	}
	return &Bus{client: client, channel: channel}
}

// Publish fans the update out to all subscribers. Best-effort: callers
// treat failures as log-worthy, not fatal.
func (b *Bus) Publish(ctx context.Context, ev AvailabilityUpdate) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal availability update: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish availability update: %w", err)
	}
	return nil
}

// Subscribe returns a channel of updates and a stop function. Malformed
// messages are dropped. The channel closes when the context ends or
// stop is called.
func (b *Bus) Subscribe(ctx context.Context) (<-chan AvailabilityUpdate, func()) {
	sub := b.client.Subscribe(ctx, b.channel)
	out := make(chan AvailabilityUpdate)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var ev AvailabilityUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, func() { _ = sub.Close() }
}
