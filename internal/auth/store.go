package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const redisCacheTTL = 5 * time.Minute
const redisKeyPrefix = "pgw:token:"

// TokenStore looks up stored tokens by hash. A nil record with a nil error
// means the token is unknown.
type TokenStore interface {
	Lookup(ctx context.Context, tokenHash string) (*TokenRecord, error)
}

// CachedTokenStore implements TokenStore with PostgreSQL + Redis cache.
type CachedTokenStore struct {
	db    *pgxpool.Pool
	redis redis.Cmdable
}

// NewCachedTokenStore creates a store. rdb may be nil to skip caching.
func NewCachedTokenStore(db *pgxpool.Pool, rdb redis.Cmdable) *CachedTokenStore {
	return &CachedTokenStore{db: db, redis: rdb}
}

func (s *CachedTokenStore) Lookup(ctx context.Context, tokenHash string) (*TokenRecord, error) {
	if s.redis != nil {
		cached, err := s.redis.Get(ctx, redisKeyPrefix+tokenHash).Bytes()
		if err == nil {
			var rec TokenRecord
			if err := json.Unmarshal(cached, &rec); err == nil && time.Now().Before(rec.ExpiresAt) {
				return &rec, nil
			}
		}
	}

	rec, err := s.lookupDB(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	if s.redis != nil {
		data, err := json.Marshal(rec)
		if err == nil {
			ttl := min(redisCacheTTL, time.Until(rec.ExpiresAt))
			s.redis.Set(ctx, redisKeyPrefix+tokenHash, data, ttl)
		}
	}
	return rec, nil
}

func (s *CachedTokenStore) lookupDB(ctx context.Context, tokenHash string) (*TokenRecord, error) {
	var rec TokenRecord
	err := s.db.QueryRow(ctx, `
		SELECT id, name, token_prefix, expires_at
		FROM api_tokens
		WHERE token_hash = $1
		  AND revoked_at IS NULL
		  AND expires_at > NOW()
	`, tokenHash).Scan(&rec.ID, &rec.Name, &rec.Prefix, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query api_tokens: %w", err)
	}

	// Update last_used_at asynchronously (fire-and-forget)
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.db.Exec(bgCtx, `UPDATE api_tokens SET last_used_at = NOW() WHERE id = $1`, rec.ID)
	}()

	return &rec, nil
}

// Querier is the subset of pgx used to insert tokens; satisfied by *pgx.Conn and *pgxpool.Pool.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InsertToken stores the hash of token and returns the new row id.
func InsertToken(ctx context.Context, q Querier, token, name string, expiresAt time.Time) (string, error) {
	var id string
	err := q.QueryRow(ctx, `
		INSERT INTO api_tokens (token_hash, token_prefix, name, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, HashKey(token), TokenPrefix(token), name, expiresAt).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert api_tokens: %w", err)
	}
	return id, nil
}
