package events

import "context"

type channelPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisPublisher sends events over redis pub/sub.
type RedisPublisher struct {
	client  channelPublisher
	channel string
}

func NewRedisPublisher(client channelPublisher, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := encode(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, body)
}

// Close is a no-op; the shared redis client is closed by its owner.
func (p *RedisPublisher) Close() error { return nil }
