package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces draft keys in Redis.
const DefaultKeyPrefix = "pitchside:draft"

// RedisStore keeps sessions in Redis so several bot processes can share
// running drafts. Each session is a JSON string; a set indexes them.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a RedisStore. An empty prefix uses DefaultKeyPrefix.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (r *RedisStore) key(contextID string) string {
	return r.prefix + ":" + contextID
}

func (r *RedisStore) index() string {
	return r.prefix + ":index"
}

func (r *RedisStore) Create(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("draft: encode %s: %w", s.ContextID, err)
	}
	ok, err := r.rdb.SetNX(ctx, r.key(s.ContextID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("draft: create %s: %w", s.ContextID, err)
	}
	if !ok {
		return ErrSessionExists
	}
	if err := r.rdb.SAdd(ctx, r.index(), s.ContextID).Err(); err != nil {
		return fmt.Errorf("draft: index %s: %w", s.ContextID, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, contextID string) (*Session, error) {
	return r.get(ctx, r.rdb, contextID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisStore) get(ctx context.Context, c getter, contextID string) (*Session, error) {
	data, err := c.Get(ctx, r.key(contextID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("draft: get %s: %w", contextID, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("draft: decode %s: %w", contextID, err)
	}
	return &s, nil
}

// Update writes s under WATCH so a concurrent writer aborts the transaction.
func (r *RedisStore) Update(ctx context.Context, s *Session) error {
	key := r.key(s.ContextID)
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := r.get(ctx, tx, s.ContextID)
		if err != nil {
			return err
		}
		if cur.Version != s.Version {
			return ErrStaleSession
		}
		next := s.Clone()
		next.Version++
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("draft: encode %s: %w", s.ContextID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrStaleSession
	}
	if err != nil {
		return err
	}
	s.Version++
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, contextID string, version int64) error {
	key := r.key(contextID)
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := r.get(ctx, tx, contextID)
		if err != nil {
			return err
		}
		if cur.Version != version {
			return ErrStaleSession
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, r.index(), contextID)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrStaleSession
	}
	return err
}

func (r *RedisStore) List(ctx context.Context) ([]*Session, error) {
	ids, err := r.rdb.SMembers(ctx, r.index()).Result()
	if err != nil {
		return nil, fmt.Errorf("draft: list: %w", err)
	}
	sort.Strings(ids)
	var out []*Session
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			r.rdb.SRem(ctx, r.index(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
