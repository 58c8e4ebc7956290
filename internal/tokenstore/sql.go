package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/veilgate/veilgate/internal/secure"
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS token_mappings (
	session_id   TEXT NOT NULL,
	token_id     TEXT NOT NULL,
	category     TEXT NOT NULL,
	original_enc TEXT NOT NULL,
	created_at   BIGINT NOT NULL,
	expires_at   BIGINT NOT NULL,
	PRIMARY KEY (session_id, token_id)
);
CREATE INDEX IF NOT EXISTS idx_token_mappings_expiry ON token_mappings (expires_at);
`

// SQLStore is a Store backed by a relational database through sqlx. The
// embedded sqlite driver is the default; Postgres is supported for shared
// deployments. All SQL is written with ? bindvars and rebound per driver.
type SQLStore struct {
	db  *sqlx.DB
	cfg Config
}

// OpenSQLite opens (creating if needed) an embedded sqlite token store.
func OpenSQLite(path string, cfg Config) (*SQLStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create token store directory: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return newSQLStore(db, cfg)
}

// OpenPostgres opens a Postgres-backed token store.
func OpenPostgres(dsn string, cfg Config) (*SQLStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return newSQLStore(db, cfg)
}

func newSQLStore(db *sqlx.DB, cfg Config) (*SQLStore, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("token store ping: %w", err)
	}
	if _, err := db.Exec(sqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("token store schema: %w", err)
	}
	return &SQLStore{db: db, cfg: cfg}, nil
}

type tokenRow struct {
	SessionID   string `db:"session_id"`
	TokenID     string `db:"token_id"`
	Category    string `db:"category"`
	OriginalEnc string `db:"original_enc"`
	CreatedAt   int64  `db:"created_at"`
	ExpiresAt   int64  `db:"expires_at"`
}

// Put creates or reuses the mapping for a value. The upsert is idempotent:
// a live duplicate is left alone so concurrent creates converge without an
// error, while an expired leftover waiting for the sweeper is overwritten so
// the new placeholder is immediately readable.
func (s *SQLStore) Put(ctx context.Context, sessionID, category, original string) (string, bool, error) {
	tokenID := s.cfg.tokenID(sessionID, category, original)

	enc, err := secure.EncryptValue(original, s.cfg.Secret)
	if err != nil {
		return "", false, fmt.Errorf("encrypt original: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO token_mappings (session_id, token_id, category, original_enc, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, token_id) DO UPDATE SET
			category = excluded.category,
			original_enc = excluded.original_enc,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
		WHERE token_mappings.expires_at < ?`),
		sessionID, tokenID, category, enc, now.Unix(), now.Add(s.cfg.TTL).Unix(), now.Unix())
	if err != nil {
		return "", false, fmt.Errorf("insert token mapping: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("insert token mapping: %w", err)
	}
	return tokenID, affected > 0, nil
}

// Get returns the decrypted original and stored category for a token id.
// Expired mappings are reported as ErrExpired and left for the sweeper.
func (s *SQLStore) Get(ctx context.Context, sessionID, tokenID string) (string, string, error) {
	var row tokenRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT session_id, token_id, category, original_enc, created_at, expires_at
		FROM token_mappings WHERE session_id = ? AND token_id = ?`),
		sessionID, tokenID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("lookup token mapping: %w", err)
	}

	if time.Now().UTC().Unix() > row.ExpiresAt {
		return "", "", ErrExpired
	}

	original, err := secure.DecryptValue(row.OriginalEnc, s.cfg.Secret)
	if err != nil {
		return "", "", fmt.Errorf("decrypt original: %w", err)
	}
	return original, row.Category, nil
}

// DeleteSession removes every mapping for a session.
func (s *SQLStore) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM token_mappings WHERE session_id = ?`), sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete session tokens: %w", err)
	}
	return res.RowsAffected()
}

// Sweep removes mappings past their expiry.
func (s *SQLStore) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM token_mappings WHERE expires_at < ?`), time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("sweep token mappings: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
