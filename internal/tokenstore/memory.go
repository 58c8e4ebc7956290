package tokenstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/veilgate/veilgate/internal/secure"
)

// MemoryStore is an in-process Store. It keeps records encrypted like the
// durable backends so behavior stays identical; only durability differs.
// Intended for tests and single-process dev setups.
type MemoryStore struct {
	cfg Config

	mu      sync.RWMutex
	records map[string]memoryRecord // key: sessionID + "\x00" + tokenID
}

type memoryRecord struct {
	sessionID   string
	category    string
	originalEnc string
	createdAt   time.Time
	expiresAt   time.Time
}

// NewMemory creates an empty in-memory token store.
func NewMemory(cfg Config) (*MemoryStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &MemoryStore{cfg: cfg, records: make(map[string]memoryRecord)}, nil
}

func memKey(sessionID, tokenID string) string {
	return sessionID + "\x00" + tokenID
}

func (s *MemoryStore) Put(ctx context.Context, sessionID, category, original string) (string, bool, error) {
	tokenID := s.cfg.tokenID(sessionID, category, original)

	enc, err := secure.EncryptValue(original, s.cfg.Secret)
	if err != nil {
		return "", false, fmt.Errorf("encrypt original: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := memKey(sessionID, tokenID)
	// Expired leftovers waiting for the sweeper do not count as live; a new
	// tokenize must produce a mapping its own reconcile can read back.
	if rec, exists := s.records[key]; exists && now.Before(rec.expiresAt) {
		return tokenID, false, nil
	}
	s.records[key] = memoryRecord{
		sessionID:   sessionID,
		category:    category,
		originalEnc: enc,
		createdAt:   now,
		expiresAt:   now.Add(s.cfg.TTL),
	}
	return tokenID, true, nil
}

func (s *MemoryStore) Get(ctx context.Context, sessionID, tokenID string) (string, string, error) {
	s.mu.RLock()
	rec, ok := s.records[memKey(sessionID, tokenID)]
	s.mu.RUnlock()

	if !ok {
		return "", "", ErrNotFound
	}
	if time.Now().UTC().After(rec.expiresAt) {
		return "", "", ErrExpired
	}
	original, err := secure.DecryptValue(rec.originalEnc, s.cfg.Secret)
	if err != nil {
		return "", "", err
	}
	return original, rec.category, nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, rec := range s.records {
		if rec.sessionID == sessionID {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Sweep(ctx context.Context) (int64, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, rec := range s.records {
		if now.After(rec.expiresAt) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }
