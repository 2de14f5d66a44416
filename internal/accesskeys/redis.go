package accesskeys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"semaphore/devicehub/internal/apperr"
	"semaphore/devicehub/internal/model"
	"semaphore/devicehub/internal/store"
)

// RedisStore keeps keys in redis with a TTL and consumes them with GETDEL,
// which makes redemption atomic without a transaction.
type RedisStore struct {
	client *redis.Client
}

var _ store.AccessKeys = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

type keyRecord struct {
	ID        string `json:"id"`
	ClientID  string `json:"client_id"`
	Operation string `json:"operation"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *RedisStore) CreateAccessKey(ctx context.Context, key model.AccessKey) error {
	ttl := key.ExpiresAt.Sub(key.CreatedAt)
	if ttl <= 0 {
		return fmt.Errorf("%w: access key already expired", apperr.ErrValidation)
	}
	data, err := json.Marshal(keyRecord{
		ID:        key.ID,
		ClientID:  key.ClientID,
		Operation: key.Operation,
		CreatedAt: key.CreatedAt.UnixMilli(),
		ExpiresAt: key.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, accessKeyKey(key.ClientID, key.Operation, key.KeyHash), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}
	return nil
}

// ConsumeAccessKey looks the key up under its client and operation, so a
// mismatched attempt never burns a valid key.
func (s *RedisStore) ConsumeAccessKey(ctx context.Context, clientID, keyHash, operation string, at time.Time) (model.AccessKey, error) {
	value, err := s.client.GetDel(ctx, accessKeyKey(clientID, operation, keyHash)).Result()
	if errors.Is(err, redis.Nil) {
		return model.AccessKey{}, apperr.ErrInvalidOrExpiredKey
	}
	if err != nil {
		return model.AccessKey{}, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}

	var record keyRecord
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return model.AccessKey{}, err
	}
	expiresAt := time.UnixMilli(record.ExpiresAt).UTC()
	if !at.Before(expiresAt) {
		return model.AccessKey{}, apperr.ErrInvalidOrExpiredKey
	}
	return model.AccessKey{
		ID:        record.ID,
		ClientID:  record.ClientID,
		KeyHash:   keyHash,
		Operation: record.Operation,
		CreatedAt: time.UnixMilli(record.CreatedAt).UTC(),
		ExpiresAt: expiresAt,
		Used:      true,
		UsedAt:    &at,
	}, nil
}

func accessKeyKey(clientID, operation, keyHash string) string {
	return fmt.Sprintf("access_key:%s:%s:%s", clientID, operation, keyHash)
}
