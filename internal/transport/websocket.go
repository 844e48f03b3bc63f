package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/remote-signer-go/internal/config"
	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
	"github.com/openclaw/remote-signer-go/internal/nostr"
)

// subscriptionLookback widens REQ filters to catch responses published while
// the connection was being (re)established.
const subscriptionLookback = 10 * time.Second

type wsSub struct {
	own     string
	handler Handler
}

// WebsocketRelay speaks the Nostr relay protocol (REQ, EVENT, CLOSE) over one
// websocket connection and redials it while Run is active.
type WebsocketRelay struct {
	url    string
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	subs map[string]wsSub

	writeMu   sync.Mutex
	connected atomic.Bool
}

func NewWebsocketRelay(url string) *WebsocketRelay {
	return &WebsocketRelay{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: config.RelayDialTimeout},
		subs:   make(map[string]wsSub),
	}
}

func (r *WebsocketRelay) URL() string { return r.url }

func (r *WebsocketRelay) Connected() bool { return r.connected.Load() }

// Run keeps the connection open until ctx is done.
func (r *WebsocketRelay) Run(ctx context.Context) {
	for {
		if err := r.session(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("relay", r.url).Msg("relay connection lost")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(config.RelayRedialInterval):
		}
	}
}

func (r *WebsocketRelay) session(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, config.RelayDialTimeout)
	conn, _, err := r.dialer.DialContext(dialCtx, r.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	subs := make(map[string]wsSub, len(r.subs))
	for id, s := range r.subs {
		subs[id] = s
	}
	r.mu.Unlock()

	r.connected.Store(true)
	log.Info().Str("relay", r.url).Int("subscriptions", len(subs)).Msg("relay connected")

	defer func() {
		r.connected.Store(false)
		r.mu.Lock()
		if r.conn == conn {
			r.conn = nil
		}
		r.mu.Unlock()
		conn.Close()
	}()

	for id, s := range subs {
		if err := r.sendReq(conn, id, s.own); err != nil {
			return err
		}
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	return r.readLoop(conn)
}

func (r *WebsocketRelay) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg []json.RawMessage
		if err := json.Unmarshal(data, &msg); err != nil || len(msg) < 2 {
			continue
		}
		var typ string
		if err := json.Unmarshal(msg[0], &typ); err != nil {
			continue
		}

		switch typ {
		case "EVENT":
			if len(msg) < 3 {
				continue
			}
			var subID string
			if err := json.Unmarshal(msg[1], &subID); err != nil {
				continue
			}
			r.mu.Lock()
			s, ok := r.subs[subID]
			r.mu.Unlock()
			if ok {
				s.handler(msg[2])
			}
		case "OK":
			var ok bool
			if len(msg) >= 3 && json.Unmarshal(msg[2], &ok) == nil && !ok {
				log.Warn().Str("relay", r.url).RawJSON("reply", data).Msg("relay rejected event")
			}
		case "NOTICE", "CLOSED":
			log.Debug().Str("relay", r.url).RawJSON("reply", data).Msg("relay message")
		}
	}
}

func (r *WebsocketRelay) write(conn *websocket.Conn, v any) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(config.RelayWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func (r *WebsocketRelay) sendReq(conn *websocket.Conn, subID, own string) error {
	filter := map[string]any{
		"kinds": []int{nostr.KindNostrConnect},
		"#p":    []string{own},
		"since": time.Now().Add(-subscriptionLookback).Unix(),
	}
	return r.write(conn, []any{"REQ", subID, filter})
}

func (r *WebsocketRelay) current() *websocket.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

func (r *WebsocketRelay) Publish(ctx context.Context, recipient string, envelope []byte) error {
	conn := r.current()
	if conn == nil || !r.connected.Load() {
		return apperrors.Transport(r.url+" not connected", nil)
	}
	if err := ctx.Err(); err != nil {
		return apperrors.Transport("publish cancelled", err)
	}
	if err := r.write(conn, []any{"EVENT", json.RawMessage(envelope)}); err != nil {
		return apperrors.Transport("write to "+r.url, err)
	}
	return nil
}

func (r *WebsocketRelay) Subscribe(own string, handler Handler) func() {
	subID := "nip46-" + uuid.NewString()[:8]

	r.mu.Lock()
	r.subs[subID] = wsSub{own: own, handler: handler}
	conn := r.conn
	r.mu.Unlock()

	if conn != nil {
		if err := r.sendReq(conn, subID, own); err != nil {
			log.Debug().Err(err).Str("relay", r.url).Msg("subscribe deferred to reconnect")
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, subID)
			conn := r.conn
			r.mu.Unlock()

			if conn != nil {
				_ = r.write(conn, []any{"CLOSE", subID})
			}
		})
	}
}
