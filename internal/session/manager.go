// Package session owns the authoritative table of remote signer sessions.
// All mutations go through one lock; readers only ever see deep copies.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
	"github.com/openclaw/remote-signer-go/internal/model"
	"github.com/openclaw/remote-signer-go/internal/storage"
)

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Status                *model.SessionStatus
	RemoteSignerPublicKey *string
	UserPublicKey         *string
	LastError             *string
	ClearError            bool
	LastSeenAt            *time.Time
	Relays                []string
	Secret                *string
}

// Listener receives every committed snapshot in commit order.
type Listener func(model.SessionSnapshot)

type Options struct {
	// PersistDebounce batches saves. Zero saves synchronously on every commit.
	PersistDebounce time.Duration
	RecencyWindow   time.Duration
	Now             func() time.Time
}

type Manager struct {
	store storage.Store
	opts  Options

	hydrateMu sync.Mutex
	hydrated  bool

	mu        sync.Mutex
	sessions  []model.SessionRecord
	activeID  *string
	lastStamp time.Time

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int

	notifyMu sync.Mutex
	queue    []model.SessionSnapshot
	draining bool

	persistMu sync.Mutex
	saveMu    sync.Mutex
	timer     *time.Timer
	pending   *pendingSave
	closed    bool

	seq          uint64 // guarded by mu
	scheduledSeq uint64 // guarded by persistMu
	savedSeq     uint64 // guarded by saveMu
}

type pendingSave struct {
	snap model.SessionSnapshot
	seq  uint64
}

func NewManager(store storage.Store, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:     store,
		opts:      opts,
		listeners: make(map[int]Listener),
	}
}

// Hydrate loads the stored snapshot once. Later calls return the current
// snapshot without touching storage. Storage faults leave the table empty.
func (m *Manager) Hydrate(ctx context.Context) model.SessionSnapshot {
	m.hydrateMu.Lock()
	defer m.hydrateMu.Unlock()

	if m.hydrated {
		return m.Snapshot()
	}

	loaded, err := m.store.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("session snapshot load failed, starting empty")
		loaded = nil
	}

	m.mu.Lock()
	if loaded != nil {
		known := make(map[string]bool, len(m.sessions))
		for _, rec := range m.sessions {
			known[rec.ID] = true
		}
		var merged []model.SessionRecord
		for _, rec := range loaded.Sessions {
			if !validRecord(rec) {
				log.Warn().Str("sessionId", rec.ID).Msg("dropping malformed session record")
				continue
			}
			if known[rec.ID] {
				continue
			}
			merged = append(merged, rec.Clone())
			if rec.UpdatedAt.After(m.lastStamp) {
				m.lastStamp = rec.UpdatedAt
			}
		}
		m.sessions = append(merged, m.sessions...)
	}
	m.hydrated = true
	snap, _ := m.commitLocked()
	m.mu.Unlock()

	log.Info().Int("sessions", len(snap.Sessions)).Msg("sessions hydrated")
	m.drain()
	return snap
}

func validRecord(rec model.SessionRecord) bool {
	return rec.ID != "" && rec.Status.Valid() &&
		rec.LocalKeyMaterial.SecretKey != "" && rec.LocalKeyMaterial.PublicKey != ""
}

// OnChange registers l and returns a function that removes it.
func (m *Manager) OnChange(l Listener) func() {
	m.listenersMu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = l
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

func (m *Manager) Snapshot() model.SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) Get(id string) (model.SessionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexLocked(id); i >= 0 {
		return m.sessions[i].Clone(), true
	}
	return model.SessionRecord{}, false
}

// ActiveSessionID returns the adopted session id, if any.
func (m *Manager) ActiveSessionID() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeID == nil {
		return "", false
	}
	return *m.activeID, true
}

func (m *Manager) Create(params model.CreateSessionParams) (model.SessionRecord, error) {
	m.mu.Lock()
	now := m.stampLocked()
	rec := model.SessionRecord{
		ID:                    uuid.NewString(),
		Status:                model.SessionStatusPending,
		RemoteSignerPublicKey: params.RemoteSignerPublicKey,
		LocalKeyMaterial:      params.LocalKeyMaterial,
		CreatedAt:             now,
		UpdatedAt:             now,
		Relays:                params.Relays,
		Secret:                params.Secret,
		Name:                  params.Name,
	}
	rec = rec.Clone()
	m.sessions = append(m.sessions, rec)
	snap, seq := m.commitLocked()
	m.mu.Unlock()

	m.afterCommit(snap, seq)
	return rec.Clone(), nil
}

// Mutate applies patch to the session and bumps its updatedAt.
func (m *Manager) Mutate(id string, patch Patch) (model.SessionRecord, error) {
	m.mu.Lock()
	i := m.indexLocked(id)
	if i < 0 {
		m.mu.Unlock()
		return model.SessionRecord{}, apperrors.NotFound("Session")
	}

	rec := m.sessions[i].Clone()
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.RemoteSignerPublicKey != nil {
		v := *patch.RemoteSignerPublicKey
		rec.RemoteSignerPublicKey = &v
	}
	if patch.UserPublicKey != nil {
		v := *patch.UserPublicKey
		rec.UserPublicKey = &v
	}
	if patch.ClearError {
		rec.LastError = nil
	}
	if patch.LastError != nil {
		v := *patch.LastError
		rec.LastError = &v
	}
	if patch.LastSeenAt != nil {
		v := *patch.LastSeenAt
		rec.LastSeenAt = &v
	}
	if patch.Relays != nil {
		rec.Relays = append([]string(nil), patch.Relays...)
	}
	if patch.Secret != nil {
		rec.Secret = *patch.Secret
	}
	rec.UpdatedAt = m.stampLocked()
	m.sessions[i] = rec

	snap, seq := m.commitLocked()
	m.mu.Unlock()

	m.afterCommit(snap, seq)
	return rec.Clone(), nil
}

func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	i := m.indexLocked(id)
	if i < 0 {
		m.mu.Unlock()
		return apperrors.NotFound("Session")
	}
	m.sessions = append(m.sessions[:i:i], m.sessions[i+1:]...)
	snap, seq := m.commitLocked()
	m.mu.Unlock()

	m.afterCommit(snap, seq)
	return nil
}

// ReconnectCandidates lists sessions the reconnection loop may dial. A
// session with lastError set is only included when owned reports it as a
// session whose failure the loop itself is tracking.
func (m *Manager) ReconnectCandidates(now time.Time, owned func(id string) bool) []model.SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.SessionRecord
	for _, rec := range m.sessions {
		adopted := m.activeID != nil && *m.activeID == rec.ID
		if Eligible(rec, now, adopted, m.opts.RecencyWindow, owned) {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Eligible implements the reconnection policy for one record.
func Eligible(rec model.SessionRecord, now time.Time, adopted bool, window time.Duration, owned func(id string) bool) bool {
	if rec.Status != model.SessionStatusActive || rec.RemoteSignerPublicKey == nil {
		return false
	}
	if rec.LastError != nil && (owned == nil || !owned(rec.ID)) {
		return false
	}
	if adopted {
		return true
	}
	return rec.LastSeenAt != nil && now.Sub(*rec.LastSeenAt) <= window
}

// Flush writes any debounced snapshot immediately and waits for a save
// already in flight.
func (m *Manager) Flush(ctx context.Context) {
	m.persistMu.Lock()
	if m.timer != nil {
		m.timer.Stop()
	}
	p := m.pending
	m.pending = nil
	m.saveMu.Lock()
	m.persistMu.Unlock()
	defer m.saveMu.Unlock()

	if p != nil {
		m.saveLocked(ctx, p.snap, p.seq)
	}
}

// Close flushes pending writes and stops further persistence. Mutations
// still apply in memory afterwards.
func (m *Manager) Close(ctx context.Context) {
	m.Flush(ctx)
	m.persistMu.Lock()
	m.closed = true
	m.persistMu.Unlock()
}

func (m *Manager) indexLocked(id string) int {
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// stampLocked returns a timestamp strictly after every one handed out before,
// so the most recently mutated record always has the largest updatedAt.
func (m *Manager) stampLocked() time.Time {
	now := m.opts.Now().Round(0).UTC()
	if !now.After(m.lastStamp) {
		now = m.lastStamp.Add(time.Microsecond)
	}
	m.lastStamp = now
	return now
}

func (m *Manager) snapshotLocked() model.SessionSnapshot {
	snap := model.SessionSnapshot{
		Sessions:        m.sessions,
		ActiveSessionID: m.activeID,
	}
	return snap.Clone()
}

// commitLocked recomputes adoption and queues the resulting snapshot for
// listeners. Queueing under m.mu keeps delivery in commit order; the returned
// sequence number orders persistence, which happens after m.mu is released.
func (m *Manager) commitLocked() (model.SessionSnapshot, uint64) {
	m.activeID = AdoptionCandidate(m.sessions)
	m.seq++
	snap := m.snapshotLocked()

	m.notifyMu.Lock()
	m.queue = append(m.queue, snap.Clone())
	m.notifyMu.Unlock()
	return snap, m.seq
}

func (m *Manager) afterCommit(snap model.SessionSnapshot, seq uint64) {
	m.schedulePersist(snap, seq)
	m.drain()
}

// drain delivers queued snapshots. Only one goroutine drains at a time; a
// listener that mutates re-entrantly only enqueues and the outer drain
// delivers its snapshot next.
func (m *Manager) drain() {
	m.notifyMu.Lock()
	if m.draining {
		m.notifyMu.Unlock()
		return
	}
	m.draining = true
	for len(m.queue) > 0 {
		snap := m.queue[0]
		m.queue = m.queue[1:]
		m.notifyMu.Unlock()

		m.deliver(snap)

		m.notifyMu.Lock()
	}
	m.draining = false
	m.notifyMu.Unlock()
}

func (m *Manager) deliver(snap model.SessionSnapshot) {
	m.listenersMu.Lock()
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	ls := make([]Listener, 0, len(ids))
	for _, id := range ids {
		ls = append(ls, m.listeners[id])
	}
	m.listenersMu.Unlock()

	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("session listener panicked")
				}
			}()
			l(snap.Clone())
		}()
	}
}

// schedulePersist ignores a snapshot older than one already scheduled, so a
// commit that loses the race to persistMu cannot overwrite a newer one.
func (m *Manager) schedulePersist(snap model.SessionSnapshot, seq uint64) {
	m.persistMu.Lock()
	if m.closed || seq <= m.scheduledSeq {
		m.persistMu.Unlock()
		return
	}
	m.scheduledSeq = seq
	if m.opts.PersistDebounce <= 0 {
		m.saveMu.Lock()
		m.persistMu.Unlock()
		defer m.saveMu.Unlock()
		m.saveLocked(context.Background(), snap, seq)
		return
	}

	m.pending = &pendingSave{snap: snap, seq: seq}
	if m.timer == nil {
		m.timer = time.AfterFunc(m.opts.PersistDebounce, m.flushPending)
	} else {
		m.timer.Reset(m.opts.PersistDebounce)
	}
	m.persistMu.Unlock()
}

func (m *Manager) flushPending() {
	m.persistMu.Lock()
	p := m.pending
	m.pending = nil
	if p == nil {
		m.persistMu.Unlock()
		return
	}
	m.saveMu.Lock()
	m.persistMu.Unlock()
	defer m.saveMu.Unlock()

	m.saveLocked(context.Background(), p.snap, p.seq)
}

// saveLocked writes snap unless a newer one was already written. Callers hold
// saveMu; lock order is persistMu then saveMu.
func (m *Manager) saveLocked(ctx context.Context, snap model.SessionSnapshot, seq uint64) {
	if seq <= m.savedSeq {
		return
	}
	m.savedSeq = seq

	if err := m.store.Save(ctx, snap); err != nil {
		log.Warn().Err(err).Msg("session snapshot save failed")
	}
}

// AdoptionCandidate picks the active, error-free record with a known user key
// and the latest updatedAt. Ties go to the later createdAt, then the larger id.
func AdoptionCandidate(sessions []model.SessionRecord) *string {
	var best *model.SessionRecord
	for i := range sessions {
		rec := &sessions[i]
		if !rec.Adoptable() {
			continue
		}
		if best == nil || later(rec, best) {
			best = rec
		}
	}
	if best == nil {
		return nil
	}
	id := best.ID
	return &id
}

func later(a, b *model.SessionRecord) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
