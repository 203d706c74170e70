package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrBridgeNotReady means this instance is not subscribed to the channel.
	ErrBridgeNotReady = errors.New("realtime bridge not subscribed")
	// ErrNoListeners means Redis accepted a publish that no instance received.
	ErrNoListeners = errors.New("realtime bridge publish reached no listeners")
)

// RedisBridge relays envelopes through a Redis pub/sub channel so every
// instance delivers to its own connections. Relay refuses to publish until
// Listen holds a confirmed subscription, so the hub keeps delivering locally
// while this instance could not hear its own relays.
type RedisBridge struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
	ready   atomic.Bool
}

// NewRedisBridge builds a bridge on channel.
func NewRedisBridge(client *redis.Client, channel string, logger *zap.Logger) *RedisBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{client: client, channel: channel, logger: logger}
}

// Ready reports whether Listen holds a confirmed subscription.
func (b *RedisBridge) Ready() bool { return b.ready.Load() }

// Relay publishes env to the channel. An error means no instance, this one
// included, is known to have received it.
func (b *RedisBridge) Relay(ctx context.Context, env Envelope) error {
	if !b.ready.Load() {
		return ErrBridgeNotReady
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	receivers, err := b.client.Publish(ctx, b.channel, data).Result()
	if err != nil {
		return fmt.Errorf("publish %s: %w", b.channel, err)
	}
	if receivers == 0 {
		return ErrNoListeners
	}
	return nil
}

// Listen hands every received envelope to deliver until ctx is done.
func (b *RedisBridge) Listen(ctx context.Context, deliver func(Envelope)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.ready.Store(true)
	defer b.ready.Store(false)
	b.logger.Info("realtime bridge listening", zap.String("channel", b.channel))

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("subscription to %s closed", b.channel)
			}
			env, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("discarding malformed envelope", zap.Error(err))
				continue
			}
			deliver(env)
		}
	}
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	if env.Event.Type == "" {
		return Envelope{}, fmt.Errorf("envelope without event type")
	}
	return env, nil
}
