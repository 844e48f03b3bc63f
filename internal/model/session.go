package model

import (
	"time"
)

// KeyMaterial is the ephemeral client key pair generated when a session is
// created. Both halves are hex encoded; PublicKey is the 32-byte x-only form.
type KeyMaterial struct {
	SecretKey string `json:"secretKey"`
	PublicKey string `json:"publicKey"`
}

type SessionRecord struct {
	ID                    string        `json:"id"`
	Status                SessionStatus `json:"status"`
	RemoteSignerPublicKey *string       `json:"remoteSignerPublicKey"`
	UserPublicKey         *string       `json:"userPublicKey"`
	LocalKeyMaterial      KeyMaterial   `json:"localKeyMaterial"`
	LastError             *string       `json:"lastError"`
	LastSeenAt            *time.Time    `json:"lastSeenAt"`
	CreatedAt             time.Time     `json:"createdAt"`
	UpdatedAt             time.Time     `json:"updatedAt"`

	Relays []string `json:"relays,omitempty"`
	Secret string   `json:"secret,omitempty"`
	Name   string   `json:"name,omitempty"`
}

// Clone returns a deep copy so callers can never alias manager state.
func (r SessionRecord) Clone() SessionRecord {
	out := r
	out.RemoteSignerPublicKey = cloneString(r.RemoteSignerPublicKey)
	out.UserPublicKey = cloneString(r.UserPublicKey)
	out.LastError = cloneString(r.LastError)
	if r.LastSeenAt != nil {
		t := *r.LastSeenAt
		out.LastSeenAt = &t
	}
	if r.Relays != nil {
		out.Relays = append([]string(nil), r.Relays...)
	}
	return out
}

// Adoptable reports whether the record may back the application's signer.
func (r SessionRecord) Adoptable() bool {
	return r.Status == SessionStatusActive && r.UserPublicKey != nil && r.LastError == nil
}

type CreateSessionParams struct {
	RemoteSignerPublicKey *string
	LocalKeyMaterial      KeyMaterial
	Relays                []string
	Secret                string
	Name                  string
}

type SessionSnapshot struct {
	Sessions        []SessionRecord `json:"sessions"`
	ActiveSessionID *string         `json:"activeSessionId"`
}

func (s SessionSnapshot) Clone() SessionSnapshot {
	out := SessionSnapshot{
		Sessions:        make([]SessionRecord, len(s.Sessions)),
		ActiveSessionID: cloneString(s.ActiveSessionID),
	}
	for i, rec := range s.Sessions {
		out.Sessions[i] = rec.Clone()
	}
	return out
}

// Find returns the record with the given id.
func (s SessionSnapshot) Find(id string) (SessionRecord, bool) {
	for _, rec := range s.Sessions {
		if rec.ID == id {
			return rec, true
		}
	}
	return SessionRecord{}, false
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
