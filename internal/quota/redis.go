package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/questforge/trade-engine/internal/model"
)

// RedisStore implements Store on a Redis hash of JSON records. Records
// carry no TTL: the day-boundary reset is logical, handled by the Limiter.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a Redis-backed quota store.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func quotaKey(actor model.ActorID) string {
	return fmt.Sprintf("trade:quota:%s", actor)
}

func (s *RedisStore) Load(ctx context.Context, actor model.ActorID) (Record, bool, error) {
	data, err := s.rdb.Get(ctx, quotaKey(actor)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load quota %s: %w", actor, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode quota %s: %w", actor, err)
	}
	return rec, true, nil
}

func (s *RedisStore) Save(ctx context.Context, actor model.ActorID, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, quotaKey(actor), data, 0).Err(); err != nil {
		return fmt.Errorf("save quota %s: %w", actor, err)
	}
	return nil
}
