package storage

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	apperrors "github.com/openclaw/remote-signer-go/internal/errors"
	"github.com/openclaw/remote-signer-go/internal/model"
	"github.com/openclaw/remote-signer-go/internal/util"
)

const (
	snapshotBucket = "nip46"
	snapshotKey    = "sessions"
)

type BoltOptions struct {
	// EncryptionKey is a 64-char hex AES-256 key. Empty stores plaintext.
	EncryptionKey string
	// MaxBytes caps the stored payload size. Zero means unlimited.
	MaxBytes int64
}

// BoltStore keeps the snapshot under one key in a local bbolt file.
type BoltStore struct {
	db   *bolt.DB
	opts BoltOptions
}

func OpenBolt(path string, opts BoltOptions) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(snapshotBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BoltStore{db: db, opts: opts}, nil
}

func (s *BoltStore) Load(ctx context.Context) (*model.SessionSnapshot, error) {
	var data []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(snapshotBucket)).Get([]byte(snapshotKey)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return nil, apperrors.StorageFault("bolt read", err)
	}
	if data == nil {
		return nil, nil
	}

	if s.opts.EncryptionKey != "" {
		plain, err := util.Open(s.opts.EncryptionKey, data)
		if err != nil {
			return nil, apperrors.StorageFault("decrypt snapshot", err)
		}
		data = plain
	}

	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, apperrors.StorageFault("decode snapshot", err)
	}
	return snap, nil
}

func (s *BoltStore) Save(ctx context.Context, snap model.SessionSnapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return apperrors.StorageFault("encode snapshot", err)
	}
	if s.opts.EncryptionKey != "" {
		data, err = util.Seal(s.opts.EncryptionKey, data)
		if err != nil {
			return apperrors.StorageFault("encrypt snapshot", err)
		}
	}

	if s.opts.MaxBytes > 0 && int64(len(data)) > s.opts.MaxBytes {
		return apperrors.StorageFault("bolt write",
			fmt.Errorf("%w: payload %d bytes exceeds quota %d", ErrCapacity, len(data), s.opts.MaxBytes))
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(snapshotBucket)).Put([]byte(snapshotKey), data)
	})
	if errors.Is(err, syscall.ENOSPC) {
		return apperrors.StorageFault("bolt write", fmt.Errorf("%w: %v", ErrCapacity, err))
	}
	if err != nil {
		return apperrors.StorageFault("bolt write", err)
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
