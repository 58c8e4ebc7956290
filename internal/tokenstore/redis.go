package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/veilgate/veilgate/internal/secure"
)

// expiredGrace is how long past its TTL a record stays in Redis so that Get
// can still answer ErrExpired instead of ErrNotFound. After the grace window
// Redis drops the key and the distinction is lost, which matches the sweeper
// behavior of the SQL backend.
const expiredGrace = 24 * time.Hour

// RedisStore is a Store backed by Redis. Record expiry is carried inside the
// value; the Redis key TTL is only the garbage collector.
type RedisStore struct {
	client *redis.Client
	cfg    Config
	prefix string
}

type redisRecord struct {
	Category    string `json:"category"`
	OriginalEnc string `json:"original_enc"`
	CreatedAt   int64  `json:"created_at"`
	ExpiresAt   int64  `json:"expires_at"`
}

// OpenRedis connects to Redis using a URL (redis://...) and verifies the
// connection before returning.
func OpenRedis(url string, cfg Config) (*RedisStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{client: client, cfg: cfg, prefix: "veilgate:tok"}, nil
}

func (s *RedisStore) key(sessionID, tokenID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, sessionID, tokenID)
}

// Put creates or reuses the mapping for a value. SetNX gives first-writer-wins
// semantics; the deterministic token id makes all writers agree on the key.
func (s *RedisStore) Put(ctx context.Context, sessionID, category, original string) (string, bool, error) {
	tokenID := s.cfg.tokenID(sessionID, category, original)

	enc, err := secure.EncryptValue(original, s.cfg.Secret)
	if err != nil {
		return "", false, fmt.Errorf("encrypt original: %w", err)
	}

	now := time.Now().UTC()
	payload, err := json.Marshal(redisRecord{
		Category:    category,
		OriginalEnc: enc,
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(s.cfg.TTL).Unix(),
	})
	if err != nil {
		return "", false, fmt.Errorf("marshal token record: %w", err)
	}

	key := s.key(sessionID, tokenID)
	created, err := s.client.SetNX(ctx, key, payload, s.cfg.TTL+expiredGrace).Result()
	if err != nil {
		return "", false, fmt.Errorf("store token mapping: %w", err)
	}
	if created {
		return tokenID, true, nil
	}

	// SetNX lost to an existing key. If that record is only an expired
	// leftover inside the grace window, overwrite it; a new tokenize must
	// produce a mapping its own reconcile can read back.
	raw, err := s.client.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return "", false, fmt.Errorf("inspect token mapping: %w", err)
	}
	var existing redisRecord
	if err == nil && json.Unmarshal([]byte(raw), &existing) == nil && now.Unix() <= existing.ExpiresAt {
		return tokenID, false, nil
	}
	if err := s.client.Set(ctx, key, payload, s.cfg.TTL+expiredGrace).Err(); err != nil {
		return "", false, fmt.Errorf("refresh token mapping: %w", err)
	}
	return tokenID, true, nil
}

// Get returns the decrypted original and stored category for a token id.
func (s *RedisStore) Get(ctx context.Context, sessionID, tokenID string) (string, string, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID, tokenID)).Result()
	if err == redis.Nil {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("lookup token mapping: %w", err)
	}

	var rec redisRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return "", "", fmt.Errorf("unmarshal token record: %w", err)
	}

	if time.Now().UTC().Unix() > rec.ExpiresAt {
		return "", "", ErrExpired
	}

	original, err := secure.DecryptValue(rec.OriginalEnc, s.cfg.Secret)
	if err != nil {
		return "", "", fmt.Errorf("decrypt original: %w", err)
	}
	return original, rec.Category, nil
}

// DeleteSession removes every mapping for a session using SCAN + DEL.
func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	pattern := fmt.Sprintf("%s:%s:*", s.prefix, sessionID)
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan session tokens: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	removed, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("delete session tokens: %w", err)
	}
	return removed, nil
}

// Sweep is a no-op for Redis; key TTLs garbage-collect on their own.
func (s *RedisStore) Sweep(ctx context.Context) (int64, error) {
	return 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
