// Package tokenstore persists the encrypted, TTL-bound mapping from opaque
// token ids to original values, scoped per session. Token ids are
// deterministic per (session, category, normalized value), so concurrent
// duplicate creates converge on the same id and the first writer wins.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/veilgate/veilgate/internal/secure"
)

var (
	// ErrNotFound means the mapping never existed in this session.
	ErrNotFound = errors.New("token mapping not found")
	// ErrExpired means the mapping existed but aged out of its TTL.
	ErrExpired = errors.New("token mapping expired")
)

// Store is the token mapping backend. Implementations must be safe for
// concurrent use across sessions.
type Store interface {
	// Put creates or reuses the mapping for a value. It returns the
	// deterministic token id and whether a new record was created.
	Put(ctx context.Context, sessionID, category, original string) (tokenID string, created bool, err error)

	// Get returns the decrypted original value and the category it was stored
	// under, or ErrExpired / ErrNotFound. Callers that parsed a category out of
	// untrusted text must check it against the stored one; the token id alone
	// does not prove the claimed category.
	Get(ctx context.Context, sessionID, tokenID string) (original, category string, err error)

	// DeleteSession removes every mapping for a session and returns the count.
	DeleteSession(ctx context.Context, sessionID string) (int64, error)

	// Sweep garbage-collects expired mappings and returns the count removed.
	Sweep(ctx context.Context) (int64, error)

	Close() error
}

// Config holds backend-independent token store settings.
type Config struct {
	Secret string
	TTL    time.Duration
}

func (c Config) validate() error {
	if c.Secret == "" {
		return fmt.Errorf("token store secret must not be empty")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("token store ttl must be positive")
	}
	return nil
}

// tokenID derives the deterministic id for a value within a session.
func (c Config) tokenID(sessionID, category, original string) string {
	return secure.TokenID(c.Secret, sessionID, category, secure.NormalizeValue(original))
}

// RunSweeper runs Sweep on an interval until ctx is cancelled. Errors are
// reported through report and do not stop the loop.
func RunSweeper(ctx context.Context, store Store, interval time.Duration, report func(removed int64, err error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Sweep(ctx)
			if report != nil {
				report(removed, err)
			}
		}
	}
}
