package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// OneTimeRecord is the persisted side of a confirmation or reset token.
type OneTimeRecord struct {
	UserID    string `json:"user_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// OneTimeStore persists single-consumption tokens (email confirmation,
// password reset). Consuming deletes the record atomically, so a consumed
// or expired token can never be consumed again.
type OneTimeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewOneTimeStore creates a store under the given key prefix; confirmation
// and reset tokens use distinct prefixes so they can never be swapped.
func NewOneTimeStore(redisClient redis.UniversalClient, prefix string) *OneTimeStore {
	return &OneTimeStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *OneTimeStore) key(token string) string {
	return s.prefix + ":" + token
}

// Generate creates and persists a new token for userID with the given
// lifetime.
func (s *OneTimeStore) Generate(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	record := OneTimeRecord{
		UserID:    userID,
		ExpiresAt: s.now().Add(ttl).Unix(),
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return "", err
	}

	if err := s.redis.Set(ctx, s.key(token), encoded, ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return token, nil
}

// Consume validates and atomically removes the token record. Fails with
// ErrTokenNotFound when the record is absent, expired, or was consumed
// before.
func (s *OneTimeStore) Consume(ctx context.Context, token string) (*OneTimeRecord, error) {
	data, err := s.redis.GetDel(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var record OneTimeRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, ErrTokenNotFound
	}
	if s.now().Unix() > record.ExpiresAt {
		return nil, ErrTokenNotFound
	}
	return &record, nil
}
