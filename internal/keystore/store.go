package keystore

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrKeyExists is returned by ImportKey when the caller-supplied key string
// is already present.
var ErrKeyExists = errors.New("keystore: key already exists")

// ErrKeyNotFound is returned by mutation methods when the key is absent.
var ErrKeyNotFound = errors.New("keystore: key not found")

// ErrInsufficientCredits is returned by Charge when the balance check loses
// a race with a concurrent deduction.
var ErrInsufficientCredits = errors.New("keystore: insufficient credits")

// KeyPrefix is prepended to every generated key string.
const KeyPrefix = "tm_live_"

// KeyStore is the single authoritative registry of ApiKeyRecords. All
// mutation goes through its methods; the map and every record are
// protected by one reader-writer mutex, per the single-writer-lock
// discipline: concurrent evaluators targeting the same key never observe a
// partially updated record.
type KeyStore struct {
	mu      sync.RWMutex
	records map[string]*ApiKeyRecord
	order   []string // insertion order, preserved across save/load round trips
	aliases map[string]string

	persistence *persistence
	logger      zerolog.Logger
}

// New constructs an in-memory KeyStore with no persistence backing.
// Callers that want durability pass a path to NewFile instead.
func New(logger zerolog.Logger) *KeyStore {
	return &KeyStore{
		records: make(map[string]*ApiKeyRecord),
		aliases: make(map[string]string),
		logger:  logger,
	}
}

// NewFile constructs a KeyStore backed by a single JSON file, loading any
// existing state and starting a debounced background flush. Close must be
// called to stop the flush loop and persist one final snapshot.
func NewFile(path string, flushInterval time.Duration, logger zerolog.Logger) (*KeyStore, error) {
	s := New(logger)
	p, err := newPersistence(path, flushInterval, logger)
	if err != nil {
		return nil, err
	}
	s.persistence = p

	if err := p.load(s); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("keystore: failed to load state, starting empty")
	}

	p.start(s)
	return s, nil
}

// Close stops the background flush loop (if any) and writes one final
// snapshot, per the resource-lifecycle requirement that destroy flushes a
// last persistence before returning.
func (s *KeyStore) Close() error {
	if s.persistence == nil {
		return nil
	}
	return s.persistence.stop(s)
}

// Save forces an immediate synchronous flush to disk. A no-op for an
// in-memory store.
func (s *KeyStore) Save() error {
	if s.persistence == nil {
		return nil
	}
	return s.persistence.saveNow(s)
}

func generateKey() (string, error) {
	buf := make([]byte, 20) // 160 bits, comfortably over the 128-bit floor
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}

// CreateKey generates a fresh key string, installs the record, and
// schedules persistence.
func (s *KeyStore) CreateKey(name string, credits int64, opts Options) (*ApiKeyRecord, error) {
	key, err := generateKey()
	if err != nil {
		return nil, err
	}
	return s.installRecord(key, name, credits, opts)
}

// ImportKey installs a record under a caller-provided key string. Fails if
// the key is already present.
func (s *KeyStore) ImportKey(key, name string, credits int64, opts Options) (*ApiKeyRecord, error) {
	s.mu.Lock()
	if _, exists := s.records[key]; exists {
		s.mu.Unlock()
		return nil, ErrKeyExists
	}
	s.mu.Unlock()
	return s.installRecord(key, name, credits, opts)
}

func (s *KeyStore) installRecord(key, name string, credits int64, opts Options) (*ApiKeyRecord, error) {
	record := newRecord(key, name, credits, opts, time.Now().UTC())

	s.mu.Lock()
	if _, exists := s.records[key]; exists {
		s.mu.Unlock()
		return nil, ErrKeyExists
	}
	s.records[key] = record
	s.order = append(s.order, key)
	s.mu.Unlock()

	s.markDirty()
	return record, nil
}

// RegisterAlias resolves lookups of alias to key, for scoped tokens that
// reference a key indirectly.
func (s *KeyStore) RegisterAlias(alias, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases[alias] = key
}

func (s *KeyStore) resolve(key string) string {
	if canonical, ok := s.aliases[key]; ok {
		return canonical
	}
	return key
}

// lookup returns the raw record regardless of active/suspended/expired
// status, for callers (Gate) that need to distinguish deny reasons.
func (s *KeyStore) lookup(key string) *ApiKeyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[s.resolve(key)]
}

// GetKey returns a usable record: present, active, not suspended, not
// expired. Any other state returns nil, leaving the Gate to call IsExpired
// or inspect Lookup for a more specific deny reason. Updates LastUsedAt.
func (s *KeyStore) GetKey(key string) *ApiKeyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.records[s.resolve(key)]
	if record == nil {
		return nil
	}
	if !record.Active || record.Suspended {
		return nil
	}
	if record.ExpiresAt != nil && record.ExpiresAt.Before(time.Now().UTC()) {
		return nil
	}

	now := time.Now().UTC()
	record.LastUsedAt = &now
	return record
}

// Lookup returns the raw record for diagnostic purposes (e.g. distinguishing
// "never existed" from "revoked" in an error message), without the
// usability filtering GetKey applies.
func (s *KeyStore) Lookup(key string) *ApiKeyRecord {
	return s.lookup(key)
}

// IsExpired reports whether key exists and has passed its expiry, as
// distinct from never having existed at all.
func (s *KeyStore) IsExpired(key string) bool {
	record := s.lookup(key)
	if record == nil {
		return false
	}
	return record.ExpiresAt != nil && record.ExpiresAt.Before(time.Now().UTC())
}

// IsRevoked reports whether key exists and has been revoked.
func (s *KeyStore) IsRevoked(key string) bool {
	record := s.lookup(key)
	return record != nil && !record.Active
}

// IsSuspended reports whether key exists and is currently suspended.
func (s *KeyStore) IsSuspended(key string) bool {
	record := s.lookup(key)
	return record != nil && record.Suspended
}

// HasCredits reports whether key currently holds at least n credits.
func (s *KeyStore) HasCredits(key string, n int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record := s.records[s.resolve(key)]
	return record != nil && record.Credits >= n
}

// GetBalance returns a key's current credit balance, and false if the key
// is unknown. Used by collaborators (e.g. reservation.Manager) that need
// the raw balance without the full record.
func (s *KeyStore) GetBalance(key string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record := s.records[s.resolve(key)]
	if record == nil {
		return 0, false
	}
	return record.Credits, true
}

// Charge atomically checks-and-deducts n credits, then bumps TotalSpent and
// TotalCalls. It re-validates the balance under the write lock so two
// concurrent evaluators can never both succeed against a balance that only
// covers one of them.
func (s *KeyStore) Charge(key string, n int64) (remaining int64, err error) {
	n = clampCredits(n)
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.records[s.resolve(key)]
	if record == nil {
		return 0, ErrKeyNotFound
	}
	if record.Credits < n {
		return record.Credits, ErrInsufficientCredits
	}

	record.Credits -= n
	record.TotalSpent += n
	record.TotalCalls++
	s.markDirty()
	return record.Credits, nil
}

// Refund adds credits back and undoes the counter effects of a prior
// Charge, floored at zero per spec.md §4.2.
func (s *KeyStore) Refund(key string, n int64) (remaining int64, err error) {
	n = clampCredits(n)
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.records[s.resolve(key)]
	if record == nil {
		return 0, ErrKeyNotFound
	}

	record.Credits = clampCredits(record.Credits + n)
	record.TotalSpent -= n
	if record.TotalSpent < 0 {
		record.TotalSpent = 0
	}
	record.TotalCalls--
	if record.TotalCalls < 0 {
		record.TotalCalls = 0
	}
	s.markDirty()
	return record.Credits, nil
}

// AddCredits increases a key's balance (top-up), independent of any
// charge/refund bookkeeping.
func (s *KeyStore) AddCredits(key string, n int64) (remaining int64, err error) {
	n = clampCredits(n)
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.records[s.resolve(key)]
	if record == nil {
		return 0, ErrKeyNotFound
	}
	record.Credits = clampCredits(record.Credits + n)
	s.markDirty()
	return record.Credits, nil
}

// DeductCredits decreases a key's balance without touching TotalSpent/
// TotalCalls, for callers outside the evaluate path (e.g. reservation
// settlement, which maintains its own accounting).
func (s *KeyStore) DeductCredits(key string, n int64) (remaining int64, err error) {
	n = clampCredits(n)
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.records[s.resolve(key)]
	if record == nil {
		return 0, ErrKeyNotFound
	}
	if record.Credits < n {
		return record.Credits, ErrInsufficientCredits
	}
	record.Credits -= n
	s.markDirty()
	return record.Credits, nil
}

// RevokeKey marks a key inactive. Revocation is soft: the record is
// retained for audit.
func (s *KeyStore) RevokeKey(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.records[s.resolve(key)]
	if record == nil {
		return ErrKeyNotFound
	}
	record.Active = false
	s.markDirty()
	return nil
}

// SetSuspended flips the reversible block flag.
func (s *KeyStore) SetSuspended(key string, suspended bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.records[s.resolve(key)]
	if record == nil {
		return ErrKeyNotFound
	}
	record.Suspended = suspended
	s.markDirty()
	return nil
}

// WithRecord runs fn while holding the store's writer lock and gives it
// direct access to the record pointer, the mechanism by which QuotaTracker
// and the Gate's evaluate sequence mutate counters that live inside the
// record under the same lock scope as the credit deduction (spec.md §5's
// atomicity contract). fn's mutations are persisted if it returns nil.
func (s *KeyStore) WithRecord(key string, fn func(*ApiKeyRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.records[s.resolve(key)]
	if record == nil {
		return ErrKeyNotFound
	}
	if err := fn(record); err != nil {
		return err
	}
	s.markDirty()
	return nil
}

// Snapshot returns a shallow copy of every record, for admin listing and
// persistence. Callers must not mutate the returned records.
func (s *KeyStore) Snapshot() []*ApiKeyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ApiKeyRecord, 0, len(s.order))
	for _, key := range s.order {
		if record, ok := s.records[key]; ok {
			cp := *record
			out = append(out, &cp)
		}
	}
	return out
}

func (s *KeyStore) markDirty() {
	if s.persistence != nil {
		s.persistence.markDirty()
	}
}
