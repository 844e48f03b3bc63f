// Package storage persists session snapshots. Stores report faults as
// STORAGE_FAULT errors; callers log and absorb them.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/openclaw/remote-signer-go/internal/model"
)

// ErrCapacity marks a save rejected because the backend is full.
var ErrCapacity = errors.New("storage capacity exceeded")

type Store interface {
	// Load returns nil, nil when nothing usable is stored.
	Load(ctx context.Context) (*model.SessionSnapshot, error)
	Save(ctx context.Context, snap model.SessionSnapshot) error
}

func encodeSnapshot(snap model.SessionSnapshot) ([]byte, error) {
	if snap.Sessions == nil {
		snap.Sessions = []model.SessionRecord{}
	}
	return json.Marshal(snap)
}

// decodeSnapshot treats a payload without a sessions list as absent.
func decodeSnapshot(data []byte) (*model.SessionSnapshot, error) {
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, err
	}
	raw, ok := shape["sessions"]
	if !ok {
		return nil, nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, nil
	}

	var snap model.SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
