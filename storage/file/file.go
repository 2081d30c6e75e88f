// Package file provides a storage.Storage that keeps one JSON file per key in
// a directory. When a passphrase is configured the stored data is sealed with
// ChaCha20-Poly1305 under a key derived from the passphrase with Argon2id, so
// the session key in a persisted record is not readable from disk.
package file

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pedrouid/walletconnect-v1-prototype/codec"
	"github.com/pedrouid/walletconnect-v1-prototype/storage"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	saltBytes = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// ErrWrongPassphrase is returned when a sealed item cannot be opened.
var ErrWrongPassphrase = errors.New("file storage: wrong passphrase or corrupted item")

// Option configures a Storage.
type Option func(*Storage)

// WithPassphrase seals every item with a key derived from passphrase.
func WithPassphrase(passphrase string) Option {
	return func(s *Storage) { s.passphrase = passphrase }
}

// WithFileMode sets the permission bits of written files. Default 0o600.
func WithFileMode(mode os.FileMode) Option {
	return func(s *Storage) { s.mode = mode }
}

// Storage implements storage.Storage on the local filesystem.
type Storage struct {
	dir        string
	passphrase string
	mode       os.FileMode

	mu sync.Mutex
}

type fileItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Salt      []byte     `json:"salt,omitempty"`
	Nonce     []byte     `json:"nonce,omitempty"`
}

// New creates the directory if needed and returns a store rooted at dir.
func New(dir string, opts ...Option) (*Storage, error) {
	s := &Storage{dir: dir, mode: 0o600}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("file storage: create dir: %w", err)
	}
	return s, nil
}

func (s *Storage) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+".json")
}

// Get implements storage.Storage.
func (s *Storage) Get(ctx context.Context, key string) (*storage.Item, error) {
	if key == "" {
		return nil, storage.ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file storage: read %s: %w", key, err)
	}
	var fi fileItem
	if err := json.Unmarshal(b, &fi); err != nil {
		return nil, fmt.Errorf("file storage: decode %s: %w", key, err)
	}

	item := &storage.Item{CreatedAt: fi.CreatedAt, ExpiresAt: fi.ExpiresAt}
	if item.IsExpired() {
		_ = os.Remove(s.path(key))
		return nil, nil
	}
	if fi.Salt != nil {
		if s.passphrase == "" {
			return nil, ErrWrongPassphrase
		}
		data, err := open(s.passphrase, fi.Salt, fi.Nonce, fi.Data)
		if err != nil {
			return nil, err
		}
		item.Data = data
	} else {
		item.Data = fi.Data
	}
	return item, nil
}

// Set implements storage.Storage.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	if key == "" {
		return storage.ErrEmptyKey
	}
	item := storage.NewItem(data, storage.ApplyOptions(opts...))
	fi := fileItem{Data: item.Data, CreatedAt: item.CreatedAt, ExpiresAt: item.ExpiresAt}
	if s.passphrase != "" {
		salt, nonce, sealed, err := seal(s.passphrase, item.Data)
		if err != nil {
			return err
		}
		fi.Data, fi.Salt, fi.Nonce = sealed, salt, nonce
	}

	b, err := json.Marshal(fi)
	if err != nil {
		return fmt.Errorf("file storage: encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, s.mode); err != nil {
		return fmt.Errorf("file storage: write %s: %w", key, err)
	}
	return os.Rename(tmp, path)
}

// Remove implements storage.Storage.
func (s *Storage) Remove(ctx context.Context, key string) error {
	if key == "" {
		return storage.ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("file storage: remove %s: %w", key, err)
	}
	return nil
}

// Close is a no-op.
func (s *Storage) Close() error { return nil }

func deriveKEK(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}

func seal(passphrase string, plaintext []byte) (salt, nonce, ciphertext []byte, err error) {
	salt = make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, nil, err
	}
	kek := deriveKEK(passphrase, salt)
	defer codec.Wipe(kek)

	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return nil, nil, nil, err
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, nil, err
	}
	return salt, nonce, aead.Seal(nil, nonce, plaintext, nil), nil
}

func open(passphrase string, salt, nonce, ciphertext []byte) ([]byte, error) {
	if len(salt) != saltBytes || len(nonce) != chacha20poly1305.NonceSize {
		return nil, ErrWrongPassphrase
	}
	kek := deriveKEK(passphrase, salt)
	defer codec.Wipe(kek)

	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plaintext, nil
}

var _ storage.Storage = (*Storage)(nil)
