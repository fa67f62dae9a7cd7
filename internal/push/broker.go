package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultChannel is the Redis channel used when none is configured.
const DefaultChannel = "linkin:push"

// LocalPusher delivers to sessions held by this process. *Hub implements it.
type LocalPusher interface {
	PushToUser(ctx context.Context, userID int64, event string, payload any) error
}

// envelope is one push on the wire. The payload is encoded as JSON before
// packing because that is what the client finally receives. Relaying it as
// raw bytes means no instance needs to know the payload's Go type.
type envelope struct {
	UserID  int64  `msgpack:"u"`
	Event   string `msgpack:"e"`
	Payload []byte `msgpack:"p"`
}

// Broker fans pushes out across instances.
//
//	PushToUser → PUBLISH channel ─┬→ instance A: subscriber → local Hub
//	                              └→ instance B: subscriber → local Hub
//
// Every instance publishes and every instance subscribes, including the one
// that published, so local delivery also goes through Redis. Redis pub/sub
// is fire-and-forget, which matches the delivery guarantee.
type Broker struct {
	client  redis.UniversalClient
	channel string
	local   LocalPusher
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewBroker(client redis.UniversalClient, channel string, local LocalPusher, logger *slog.Logger) *Broker {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Broker{
		client:  client,
		channel: channel,
		local:   local,
		logger:  logger,
	}
}

// PushToUser publishes the event. It returns once Redis has accepted the
// message; delivery to sessions happens on the subscriber side.
func (b *Broker) PushToUser(ctx context.Context, userID int64, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("push/broker: encoding %s payload: %w", event, err)
	}
	packed, err := msgpack.Marshal(envelope{UserID: userID, Event: event, Payload: data})
	if err != nil {
		return fmt.Errorf("push/broker: packing %s: %w", event, err)
	}
	if err := b.client.Publish(ctx, b.channel, packed).Err(); err != nil {
		return fmt.Errorf("push/broker: publishing %s to user %d: %w", event, userID, err)
	}
	return nil
}

// Start subscribes and begins relaying to the local pusher. It returns after
// Redis has confirmed the subscription, so pushes published afterwards are
// not missed.
//
// ctx only bounds the subscription handshake. The relay keeps running after
// ctx is done, until Close.
func (b *Broker) Start(ctx context.Context) error {
	relayCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := b.client.Subscribe(relayCtx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		_ = sub.Close()
		return fmt.Errorf("push/broker: subscribing to %s: %w", b.channel, err)
	}

	b.cancel = cancel
	b.done = make(chan struct{})
	go b.relay(relayCtx, sub)

	b.logger.Info("push broker subscribed", slog.String("channel", b.channel))
	return nil
}

func (b *Broker) relay(ctx context.Context, sub *redis.PubSub) {
	defer close(b.done)
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
			var env envelope
			if err := msgpack.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("dropping malformed push envelope", slog.String("error", err.Error()))
				continue
			}
			if err := b.local.PushToUser(ctx, env.UserID, env.Event, json.RawMessage(env.Payload)); err != nil {
				b.logger.Warn("local push failed",
					slog.Int64("userID", env.UserID),
					slog.String("event", env.Event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Close stops the relay and waits for it to exit. The Redis client itself
// belongs to the caller.
func (b *Broker) Close() {
	b.once.Do(func() {
		if b.cancel == nil {
			return
		}
		b.cancel()
		<-b.done
	})
}
