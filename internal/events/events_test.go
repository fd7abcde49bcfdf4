package events

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"intervue/internal/config"
)

type capturedMessage struct {
	channel string
	payload []byte
}

type fakeChannel struct {
	sent []capturedMessage
	err  error
}

func (f *fakeChannel) Publish(_ context.Context, channel string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, capturedMessage{channel: channel, payload: payload})
	return nil
}

func TestRedisPublisherEncodesEvent(t *testing.T) {
	fake := &fakeChannel{}
	pub := NewRedisPublisher(fake, "sessions:events")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := pub.Publish(context.Background(), Event{
		Type:          SessionJoined,
		SessionID:     "s-1",
		CallID:        "session_1_abc",
		HostID:        1,
		ParticipantID: 2,
		At:            at,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fake.sent) != 1 || fake.sent[0].channel != "sessions:events" {
		t.Fatalf("unexpected messages %+v", fake.sent)
	}
	var got Event
	if err := json.Unmarshal(fake.sent[0].payload, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.Type != SessionJoined || got.ParticipantID != 2 || !got.At.Equal(at) {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestRedisPublisherStampsTimeAndPropagatesErrors(t *testing.T) {
	fake := &fakeChannel{}
	pub := NewRedisPublisher(fake, "c")
	if err := pub.Publish(context.Background(), Event{Type: SessionCreated, SessionID: "s"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	var got Event
	_ = json.Unmarshal(fake.sent[0].payload, &got)
	if got.At.IsZero() {
		t.Fatalf("expected publish time to be stamped")
	}

	fake.err = errors.New("redis down")
	if err := pub.Publish(context.Background(), Event{Type: SessionEnded}); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestNewSelectsDriver(t *testing.T) {
	cfg := &config.Config{}
	pub, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new nop: %v", err)
	}
	if _, ok := pub.(Nop); !ok {
		t.Fatalf("expected Nop publisher, got %T", pub)
	}
	cfg.Events.Driver = "redis"
	if _, err := New(cfg, nil); err == nil {
		t.Fatalf("expected redis driver without client to fail")
	}
	cfg.Events.Driver = "kafka"
	if _, err := New(cfg, nil); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestAMQPPublisher(t *testing.T) {
	url := os.Getenv("TEST_AMQP_URL")
	if url == "" {
		t.Skip("set TEST_AMQP_URL to run amqp publisher tests")
	}
	pub, err := NewAMQPPublisher(url, "intervue.test")
	if err != nil {
		t.Fatalf("new amqp publisher: %v", err)
	}
	defer pub.Close()
	if err := pub.Publish(context.Background(), Event{Type: SessionCreated, SessionID: "s-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}
