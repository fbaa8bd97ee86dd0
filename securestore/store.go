// Package securestore implements the encrypted key-value store at the heart
// of the secure session layer. Values are sealed with AES-256-GCM before
// they reach the durable medium; a separate session-only class of entries is
// held in process memory, bound to the session inactivity timeout, and never
// persisted.
package securestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/vueni/strongbox/audit"
	"github.com/vueni/strongbox/clock"
	"github.com/vueni/strongbox/storage"
)

const (
	// DefaultNamespace prefixes every durable key this store writes, so
	// ClearAll can never touch unrelated storage.
	DefaultNamespace = "vueni_secure"

	// DefaultSessionTimeout bounds the lifetime of session-only entries.
	DefaultSessionTimeout = 30 * time.Minute
)

// ErrInvalidKey is returned when a caller passes an empty storage key.
var ErrInvalidKey = errors.New("storage key must be a non-empty string")

// ErrClosed is returned from operations on a closed store.
var ErrClosed = errors.New("store is closed")

// SetOptions controls how a value is stored.
type SetOptions struct {
	// Sensitive marks the entry for audit purposes.
	Sensitive bool
	// SessionOnly keeps the entry in process memory, evicted after the
	// session timeout. Session-only entries never reach the durable medium.
	SessionOnly bool
}

type sessionEntry struct {
	data      json.RawMessage
	timestamp time.Time
	sensitive bool
}

// Store encrypts values into a durable medium and serves them back. All
// methods are safe for concurrent use; background sweeps and foreground
// calls may interleave freely.
type Store struct {
	medium    storage.Medium
	key       *memguard.Enclave
	emitter   *audit.Emitter
	clk       clock.Clock
	namespace string
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	session map[string]sessionEntry
	closed  bool
}

// Option configures a Store.
type Option func(*Store)

// WithNamespace overrides the durable key namespace.
func WithNamespace(ns string) Option {
	return func(s *Store) {
		s.namespace = ns
	}
}

// WithSessionTimeout overrides the session-only entry lifetime.
func WithSessionTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

// WithClock overrides the clock used for session-only expiry.
func WithClock(clk clock.Clock) Option {
	return func(s *Store) {
		s.clk = clk
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger.With("component", "securestore")
	}
}

// New creates a Store over the given durable medium. The encryption key
// enclave must come from keyring.ValidatedEncryptionKey; the store opens it
// briefly per cryptographic operation and never retains the raw key.
func New(medium storage.Medium, key *memguard.Enclave, emitter *audit.Emitter, opts ...Option) *Store {
	s := &Store{
		medium:    medium,
		key:       key,
		emitter:   emitter,
		clk:       clock.System(),
		namespace: DefaultNamespace,
		timeout:   DefaultSessionTimeout,
		session:   make(map[string]sessionEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "securestore")
	}
	return s
}

// Close drops all session-only entries and rejects further operations. It
// does not touch the durable medium.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.session = make(map[string]sessionEntry)
}

// SetItem stores value under key. Session-only values stay in memory;
// everything else is serialized, sealed, and written to the durable medium.
// A write to either storage class removes the key from the other, so the
// most recent write always wins. A SET audit event is emitted either way.
func (s *Store) SetItem(key string, value any, opts SetOptions) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("serializing value for %q: %w", key, err)
	}

	if opts.SessionOnly {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		s.session[key] = sessionEntry{
			data:      data,
			timestamp: s.clk.Now(),
			sensitive: opts.Sensitive,
		}
		s.mu.Unlock()
		// The most recent write wins across storage classes: drop any
		// durable entry so eviction cannot uncover a stale value later.
		if err := s.medium.Remove(s.namespaced(key)); err != nil {
			return fmt.Errorf("removing durable %q: %w", key, err)
		}
		s.emitter.Audit(audit.ActionSet, key)
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	// Same rule the other way: a durable write replaces a session-only
	// entry under the same key, which would otherwise shadow it on reads.
	delete(s.session, key)
	s.mu.Unlock()

	storageKey := s.namespaced(key)
	env, err := s.seal(data, storageKey)
	if err != nil {
		return fmt.Errorf("sealing %q: %w", key, err)
	}
	encoded, err := storage.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	if err := s.medium.Set(storageKey, encoded); err != nil {
		return fmt.Errorf("writing %q: %w", key, err)
	}

	s.emitter.Audit(audit.ActionSet, key)
	return nil
}

// GetItem loads the value stored under key into out. The in-memory session
// map is consulted first: a live entry is returned from memory, and an
// expired one is evicted and reported absent without falling through to the
// durable medium. Decryption failures are recorded as security events and
// surface as absent, never as an error.
func (s *Store) GetItem(key string, out any) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, ErrInvalidKey
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrClosed
	}
	if entry, ok := s.session[key]; ok {
		if s.clk.Now().After(entry.timestamp.Add(s.timeout)) {
			delete(s.session, key)
			s.mu.Unlock()
			s.emitter.Security(audit.EventSessionExpired, key, nil)
			return false, nil
		}
		s.mu.Unlock()
		if err := json.Unmarshal(entry.data, out); err != nil {
			return false, fmt.Errorf("decoding session entry %q: %w", key, err)
		}
		s.logger.Debug("get", "key", key, "source", "session")
		s.emitter.Audit(audit.ActionGet, key)
		return true, nil
	}
	s.mu.Unlock()

	storageKey := s.namespaced(key)
	encoded, found, err := s.medium.Get(storageKey)
	if err != nil {
		return false, fmt.Errorf("reading %q: %w", key, err)
	}
	if !found {
		return false, nil
	}

	env, err := storage.DecodeEnvelope(encoded)
	if err != nil {
		s.retrievalError(key, err)
		return false, nil
	}
	data, err := s.open(env, storageKey)
	if err != nil {
		s.retrievalError(key, err)
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.retrievalError(key, err)
		return false, nil
	}

	s.logger.Debug("get", "key", key, "source", "durable")
	s.emitter.Audit(audit.ActionGet, key)
	return true, nil
}

// RemoveItem deletes the entry under key from both storage classes.
func (s *Store) RemoveItem(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	delete(s.session, key)
	s.mu.Unlock()

	if err := s.medium.Remove(s.namespaced(key)); err != nil {
		return fmt.Errorf("removing %q: %w", key, err)
	}
	s.emitter.Audit(audit.ActionRemove, key)
	return nil
}

// ClearAll removes every durable entry under this store's namespace and
// drops all session-only entries. Keys outside the namespace are untouched.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.session = make(map[string]sessionEntry)
	s.mu.Unlock()

	keys, err := s.medium.Keys()
	if err != nil {
		return fmt.Errorf("enumerating storage: %w", err)
	}
	prefix := s.namespace + "_"
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if err := s.medium.Remove(k); err != nil {
			return fmt.Errorf("removing %q: %w", k, err)
		}
	}

	s.emitter.Audit(audit.ActionClear, "*")
	return nil
}

// EvictExpired sweeps the session-only map, dropping every entry past its
// timeout. The session manager calls this from its periodic cleanup; entries
// read in between are also evicted lazily by GetItem.
func (s *Store) EvictExpired() {
	now := s.clk.Now()
	var expired []string

	s.mu.Lock()
	for k, entry := range s.session {
		if now.After(entry.timestamp.Add(s.timeout)) {
			delete(s.session, k)
			expired = append(expired, k)
		}
	}
	s.mu.Unlock()

	for _, k := range expired {
		s.emitter.Security(audit.EventSessionExpired, k, nil)
	}
}

func (s *Store) namespaced(key string) string {
	return s.namespace + "_" + key
}

// seal encrypts data with the enclave key, binding the ciphertext to its
// storage key through the AAD.
func (s *Store) seal(data []byte, storageKey string) (*storage.Envelope, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()
	return storage.SealRecord(buf.Bytes(), data, []byte(storageKey))
}

func (s *Store) open(env *storage.Envelope, storageKey string) ([]byte, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()
	return storage.OpenRecord(buf.Bytes(), env, []byte(storageKey))
}

func (s *Store) retrievalError(key string, err error) {
	s.logger.Warn("retrieval failed", "key", key, "error", err)
	s.emitter.Security(audit.EventRetrievalError, key, map[string]any{
		"reason": err.Error(),
	})
}
