package service

import (
	"sync"
	"time"

	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
	"github.com/openclaw/remote-signer-go/internal/model"
)

type outcome struct {
	resp *model.Response
	err  error
}

type pendingRequest struct {
	correlationID string
	sessionID     string
	method        string
	params        []string
	createdAt     time.Time
	state         model.RequestState
	timer         *time.Timer
	done          chan outcome
}

// pendingTable tracks outstanding requests by correlation id. Whoever removes
// an entry owns its resolution, so each request settles exactly once.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingRequest
	closed  bool
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingRequest)}
}

// add registers p and arms its timeout. onTimeout runs if nothing settles the
// request first.
func (t *pendingTable) add(p *pendingRequest, timeout time.Duration, onTimeout func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return apperrors.Cancelled("signing service destroyed")
	}
	p.state = model.RequestStateCreated
	p.done = make(chan outcome, 1)
	p.timer = time.AfterFunc(timeout, onTimeout)
	t.entries[p.correlationID] = p
	return nil
}

func (t *pendingTable) markSent(id string) {
	t.mu.Lock()
	if p, ok := t.entries[id]; ok && p.state == model.RequestStateCreated {
		p.state = model.RequestStateSent
	}
	t.mu.Unlock()
}

func (t *pendingTable) get(id string) (*pendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[id]
	return p, ok
}

// take removes the entry and stops its timer. It returns nil when another
// path already settled it.
func (t *pendingTable) take(id string) *pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[id]
	if !ok {
		return nil
	}
	delete(t.entries, id)
	p.timer.Stop()
	return p
}

// takeFor is take restricted to requests sent on sessionID. A response that
// arrives on another session's key leaves the entry in place.
func (t *pendingTable) takeFor(id, sessionID string) *pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[id]
	if !ok || p.sessionID != sessionID {
		return nil
	}
	delete(t.entries, id)
	p.timer.Stop()
	return p
}

// settle delivers the outcome to a request already removed by take.
func settle(p *pendingRequest, state model.RequestState, out outcome) {
	p.state = state
	p.done <- out
}

// takeSession removes every entry belonging to sessionID.
func (t *pendingTable) takeSession(sessionID string) []*pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*pendingRequest
	for id, p := range t.entries {
		if p.sessionID == sessionID {
			delete(t.entries, id)
			p.timer.Stop()
			out = append(out, p)
		}
	}
	return out
}

// close removes every entry and refuses new ones.
func (t *pendingTable) close() []*pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	out := make([]*pendingRequest, 0, len(t.entries))
	for id, p := range t.entries {
		delete(t.entries, id)
		p.timer.Stop()
		out = append(out, p)
	}
	return out
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
