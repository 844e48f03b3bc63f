package transport

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
	redisclient "github.com/openclaw/remote-signer-go/internal/redis"
)

type redisSub struct {
	handler Handler
}

// RedisRelay carries envelopes over Redis pub/sub, one channel per public
// key. It lets several signer clients share a private relay.
type RedisRelay struct {
	redis  *redisclient.Client
	url    string
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	subs    map[string]map[*redisSub]bool // pubkey -> handlers
	readers map[string]context.CancelFunc // pubkey -> pubsub goroutine
	closed  bool
}

func NewRedisRelay(client *redisclient.Client, url string) *RedisRelay {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisRelay{
		redis:   client,
		url:     url,
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[string]map[*redisSub]bool),
		readers: make(map[string]context.CancelFunc),
	}
}

func (r *RedisRelay) URL() string { return r.url }

func (r *RedisRelay) Connected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.closed
}

func (r *RedisRelay) Publish(ctx context.Context, recipient string, envelope []byte) error {
	channel := redisclient.EnvelopeChannel(recipient)
	if err := r.redis.Publish(ctx, channel, envelope).Err(); err != nil {
		return apperrors.Transport("redis publish", err)
	}
	return nil
}

func (r *RedisRelay) Subscribe(own string, handler Handler) func() {
	sub := &redisSub{handler: handler}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return func() {}
	}
	if r.subs[own] == nil {
		r.subs[own] = make(map[*redisSub]bool)
		ctx, cancel := context.WithCancel(r.ctx)
		r.readers[own] = cancel
		go r.subscribeToRedis(ctx, own)
	}
	r.subs[own][sub] = true
	count := len(r.subs[own])
	r.mu.Unlock()

	log.Debug().
		Str("pubkey", own).
		Int("handlerCount", count).
		Msg("redis relay subscribed")

	var once sync.Once
	return func() {
		once.Do(func() { r.unsubscribe(own, sub) })
	}
}

func (r *RedisRelay) unsubscribe(own string, sub *redisSub) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.subs[own]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(r.subs, own)
		if cancel, ok := r.readers[own]; ok {
			cancel()
			delete(r.readers, own)
		}
	}
}

func (r *RedisRelay) subscribeToRedis(ctx context.Context, own string) {
	channel := redisclient.EnvelopeChannel(own)
	pubsub := r.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.broadcast(own, []byte(msg.Payload))
		}
	}
}

func (r *RedisRelay) broadcast(own string, envelope []byte) {
	r.mu.RLock()
	handlers := make([]Handler, 0, len(r.subs[own]))
	for sub := range r.subs[own] {
		handlers = append(handlers, sub.handler)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h(envelope)
	}
}

func (r *RedisRelay) Close() {
	r.cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.subs = make(map[string]map[*redisSub]bool)
	r.readers = make(map[string]context.CancelFunc)
}
