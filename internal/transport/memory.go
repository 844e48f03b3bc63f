package transport

import (
	"context"
	"sync"

	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
)

// MemoryRelay is an in-process relay. Every participant sharing one
// MemoryRelay sees every envelope published to its key. Delivery is
// asynchronous.
type MemoryRelay struct {
	mu        sync.Mutex
	connected bool
	drop      bool
	nextID    int
	subs      map[string]map[int]Handler
	published []Published
}

// Published records one accepted envelope.
type Published struct {
	Recipient string
	Envelope  []byte
}

func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{
		connected: true,
		subs:      make(map[string]map[int]Handler),
	}
}

func (m *MemoryRelay) URL() string { return "memory://" }

func (m *MemoryRelay) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MemoryRelay) SetConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// SetDrop makes the relay accept envelopes without delivering them.
func (m *MemoryRelay) SetDrop(v bool) {
	m.mu.Lock()
	m.drop = v
	m.mu.Unlock()
}

func (m *MemoryRelay) Publish(ctx context.Context, recipient string, envelope []byte) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Transport("publish cancelled", err)
	}

	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return apperrors.Transport("memory relay disconnected", nil)
	}
	env := append([]byte(nil), envelope...)
	m.published = append(m.published, Published{Recipient: recipient, Envelope: env})
	var handlers []Handler
	if !m.drop {
		for _, h := range m.subs[recipient] {
			handlers = append(handlers, h)
		}
	}
	m.mu.Unlock()

	for _, h := range handlers {
		go h(append([]byte(nil), env...))
	}
	return nil
}

func (m *MemoryRelay) Subscribe(own string, handler Handler) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.subs[own] == nil {
		m.subs[own] = make(map[int]Handler)
	}
	m.subs[own][id] = handler
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[own], id)
		if len(m.subs[own]) == 0 {
			delete(m.subs, own)
		}
	}
}

// Deliver injects an envelope to subscribers of recipient without recording
// it as published.
func (m *MemoryRelay) Deliver(recipient string, envelope []byte) {
	m.mu.Lock()
	var handlers []Handler
	for _, h := range m.subs[recipient] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(append([]byte(nil), envelope...))
	}
}

// Published returns every envelope accepted so far.
func (m *MemoryRelay) Published() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Published(nil), m.published...)
}

// PublishedTo counts envelopes accepted for recipient.
func (m *MemoryRelay) PublishedTo(recipient string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.published {
		if p.Recipient == recipient {
			n++
		}
	}
	return n
}

func (m *MemoryRelay) Subscribers(own string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[own])
}
