package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
)

type poolSub struct {
	own     string
	handler Handler
	unsubs  []func()
}

// Pool multiplexes a set of relays behind the Transport interface.
type Pool struct {
	mu     sync.Mutex
	relays []Relay
	subs   map[*poolSub]struct{}
}

func NewPool(relays ...Relay) *Pool {
	p := &Pool{subs: make(map[*poolSub]struct{})}
	for _, r := range relays {
		p.Add(r)
	}
	return p
}

// Add attaches a relay and replays every live subscription onto it.
func (p *Pool) Add(r Relay) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.relays = append(p.relays, r)
	for s := range p.subs {
		s.unsubs = append(s.unsubs, r.Subscribe(s.own, s.handler))
	}
}

// Start runs every relay that manages its own connection until ctx is done.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range p.relays {
		if runner, ok := r.(Runner); ok {
			go runner.Run(ctx)
		}
	}
}

func (p *Pool) Relays() []Relay {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Relay(nil), p.relays...)
}

func (p *Pool) Publish(ctx context.Context, recipient string, envelope []byte) error {
	var connected []Relay
	for _, r := range p.Relays() {
		if r.Connected() {
			connected = append(connected, r)
		}
	}
	if len(connected) == 0 {
		return apperrors.Transport("no relay connected", nil)
	}

	errs := make([]error, len(connected))
	var wg sync.WaitGroup
	for i, r := range connected {
		wg.Add(1)
		go func(i int, r Relay) {
			defer wg.Done()
			if err := r.Publish(ctx, recipient, envelope); err != nil {
				log.Debug().Err(err).Str("relay", r.URL()).Msg("relay publish failed")
				errs[i] = err
			}
		}(i, r)
	}
	wg.Wait()

	for _, err := range errs {
		if err == nil {
			return nil
		}
	}
	return apperrors.Transport("all relays rejected envelope", errors.Join(errs...))
}

func (p *Pool) Subscribe(own string, handler Handler) func() {
	s := &poolSub{own: own, handler: handler}

	p.mu.Lock()
	for _, r := range p.relays {
		s.unsubs = append(s.unsubs, r.Subscribe(own, handler))
	}
	p.subs[s] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, s)
			unsubs := s.unsubs
			p.mu.Unlock()

			for _, u := range unsubs {
				u()
			}
		})
	}
}
