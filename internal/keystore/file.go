// Package keystore is the file-backed key-management collaborator used on the initial device.
// Each identity owns one Ed25519 key kept in an encrypted zstore collection.
package keystore

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/zarlcorp/core/pkg/zfilesystem"
	"github.com/zarlcorp/core/pkg/zstore"

	"github.com/and161185/keyhandoff/internal/errs"
)

const collectionName = "keys"

type keyRecord struct {
	Username  string    `json:"username"`
	PublicKey string    `json:"public_key"`
	Seed      []byte    `json:"seed"`
	CreatedAt time.Time `json:"created_at"`
}

// FileStore keeps one encrypted record per identity under dir.
// The store is unlocked with the passphrase on first use; Close erases the keys.
type FileStore struct {
	dir        string
	passphrase []byte

	mu    sync.Mutex
	store *zstore.Store
	keys  *zstore.Collection[keyRecord]
}

// NewFileStore returns a store rooted at dir. The passphrase protects private keys.
func NewFileStore(dir string, passphrase []byte) *FileStore {
	return &FileStore{dir: dir, passphrase: append([]byte(nil), passphrase...)}
}

// Close locks the store and erases derived keys from memory.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store, s.keys = nil, nil
	return err
}

func recordID(username string) string {
	h := sha256.Sum256([]byte(username))
	return hex.EncodeToString(h[:])
}

// collection unlocks the store once. Callers hold s.mu.
func (s *FileStore) collection() (*zstore.Collection[keyRecord], error) {
	if s.keys != nil {
		return s.keys, nil
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("keystore: create %s: %w", s.dir, err)
	}
	st, err := zstore.Open(zfilesystem.NewOSFileSystem(s.dir), s.passphrase)
	if errors.Is(err, zstore.ErrWrongPassword) {
		return nil, fmt.Errorf("%w: wrong passphrase", errs.ErrSigning)
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: open: %w", err)
	}
	col, err := zstore.NewCollection[keyRecord](st, collectionName)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("keystore: open: %w", err)
	}
	s.store, s.keys = st, col
	return col, nil
}

func (s *FileStore) load(username string) (keyRecord, error) {
	col, err := s.collection()
	if err != nil {
		return keyRecord{}, err
	}
	rec, err := col.Get(recordID(username))
	if errors.Is(err, zstore.ErrNotFound) {
		return keyRecord{}, fmt.Errorf("%w: not provisioned for %q", errs.ErrKeyUnavailable, username)
	}
	if err != nil {
		return keyRecord{}, fmt.Errorf("%w: %w", errs.ErrSigning, err)
	}
	if rec.Username != username || rec.PublicKey == "" {
		return keyRecord{}, fmt.Errorf("%w: key record does not match %q", errs.ErrKeyUnavailable, username)
	}
	return rec, nil
}

// Provision creates a key for username, or returns the existing association key.
func (s *FileStore) Provision(ctx context.Context, username string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if username == "" {
		return "", errors.New("keystore: empty username")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, err := s.load(username); err == nil {
		return rec.PublicKey, nil
	} else if !errors.Is(err, errs.ErrKeyUnavailable) {
		return "", err
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return "", err
	}
	rec := keyRecord{
		Username:  username,
		PublicKey: base64.StdEncoding.EncodeToString(pub),
		Seed:      priv.Seed(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.keys.Put(recordID(username), rec); err != nil {
		return "", fmt.Errorf("keystore: save: %w", err)
	}
	return rec.PublicKey, nil
}

// AssociationKey returns the base64 public key for username.
func (s *FileStore) AssociationKey(ctx context.Context, username string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.load(username)
	if err != nil {
		return "", err
	}
	return rec.PublicKey, nil
}

// Sign returns the base64 Ed25519 signature of message under username's key.
func (s *FileStore) Sign(ctx context.Context, username, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	rec, err := s.load(username)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	if len(rec.Seed) != ed25519.SeedSize {
		return "", fmt.Errorf("%w: bad seed size %d", errs.ErrSigning, len(rec.Seed))
	}
	sig := ed25519.Sign(ed25519.NewKeyFromSeed(rec.Seed), []byte(message))
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Remove deletes username's key. Removing a missing key is not an error.
func (s *FileStore) Remove(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col, err := s.collection()
	if err != nil {
		return err
	}
	err = col.Delete(recordID(username))
	if errors.Is(err, zstore.ErrNotFound) {
		return nil
	}
	return err
}
