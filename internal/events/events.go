package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"intervue/internal/config"
	"intervue/internal/redis"
)

// Type names a session lifecycle notification.
type Type string

const (
	SessionCreated Type = "session.created"
	SessionJoined  Type = "session.joined"
	SessionEnded   Type = "session.ended"
)

// Event is published after a lifecycle transition commits.
type Event struct {
	Type          Type      `json:"type"`
	SessionID     string    `json:"session_id"`
	CallID        string    `json:"call_id"`
	HostID        int64     `json:"host_id"`
	ParticipantID int64     `json:"participant_id,omitempty"`
	At            time.Time `json:"at"`
}

// Publisher delivers lifecycle events to other services.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// New builds the publisher selected by cfg.Events.Driver.
// The redis driver needs a connected client.
func New(cfg *config.Config, client *redis.Client) (Publisher, error) {
	switch strings.ToLower(cfg.Events.Driver) {
	case "", "none":
		return Nop{}, nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("events driver redis requires a redis client")
		}
		return NewRedisPublisher(client, cfg.Events.Channel), nil
	case "amqp":
		return NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange)
	default:
		return nil, fmt.Errorf("unsupported events driver: %s", cfg.Events.Driver)
	}
}

func encode(ev Event) ([]byte, error) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", ev.Type, err)
	}
	return body, nil
}
