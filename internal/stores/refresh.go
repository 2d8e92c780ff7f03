// Package stores holds the Redis-backed persisted token stores: rotating
// refresh tokens and single-use confirmation/reset tokens. Record expiry is
// carried both in the Redis TTL and in the record itself, checked lazily on
// read.
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

var (
	// ErrTokenNotFound covers tokens that are unknown, expired, or already
	// consumed. The three cases are indistinguishable on purpose.
	ErrTokenNotFound = errors.New("token record not found")
	// ErrStoreUnavailable indicates the token backend is unreachable.
	ErrStoreUnavailable = errors.New("token backend unavailable")
)

// RefreshRecord is the persisted side of an opaque refresh token.
type RefreshRecord struct {
	UserID    string `json:"user_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// RefreshStore persists opaque refresh tokens. Tokens are uuid values with
// the record stored under the token itself; consuming a token deletes the
// record atomically, so each token rotates exactly once.
type RefreshStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRefreshStore(redisClient redis.UniversalClient, prefix string) *RefreshStore {
	if prefix == "" {
		prefix = "agt"
	}
	return &RefreshStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *RefreshStore) key(token string) string {
	return s.prefix + ":rt:" + token
}

// Issue creates and persists a new refresh token for userID.
func (s *RefreshStore) Issue(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	record := RefreshRecord{
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

// Get validates a refresh token without consuming it. Fails with
// ErrTokenNotFound when the record is absent or expired.
func (s *RefreshStore) Get(ctx context.Context, token string) (*RefreshRecord, error) {
	data, err := s.redis.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return s.decode(data)
}

// Consume atomically removes the token record and returns it. A second
// Consume of the same token fails with ErrTokenNotFound — this is the
// rotation guarantee.
func (s *RefreshStore) Consume(ctx context.Context, token string) (*RefreshRecord, error) {
	data, err := s.redis.GetDel(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return s.decode(data)
}

// Revoke deletes the token record. Revoking an unknown token is not an
// error.
func (s *RefreshStore) Revoke(ctx context.Context, token string) error {
	if err := s.redis.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RefreshStore) decode(data []byte) (*RefreshRecord, error) {
	var record RefreshRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, ErrTokenNotFound
	}
	if s.now().Unix() > record.ExpiresAt {
		return nil, ErrTokenNotFound
	}
	return &record, nil
}
