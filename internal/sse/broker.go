// Package sse fans session and signer changes out to connected
// event-stream clients.
package sse

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	HeartbeatInterval = 30 * time.Second

	clientBuffer = 32
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	Events chan Event
	Done   chan struct{}
}

type Broker struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	closed  bool
}

func NewBroker() *Broker {
	return &Broker{clients: make(map[*Client]bool)}
}

func (b *Broker) Subscribe() *Client {
	client := &Client{
		Events: make(chan Event, clientBuffer),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		close(client.Done)
		b.mu.Unlock()
		return client
	}
	b.clients[client] = true
	count := len(b.clients)
	b.mu.Unlock()

	log.Info().Int("clientCount", count).Msg("sse client subscribed")
	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		close(client.Done)
		log.Info().Int("clientCount", len(b.clients)).Msg("sse client unsubscribed")
	}
}

// Publish delivers event to every client. A client whose buffer is full
// misses the event rather than stalling the publisher.
func (b *Broker) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().Str("type", event.Type).Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) PublishJSON(eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	b.Publish(Event{Type: eventType, Data: raw})
	return nil
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for client := range b.clients {
		close(client.Done)
	}
	b.clients = make(map[*Client]bool)
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
