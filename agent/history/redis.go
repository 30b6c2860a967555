// Package history keeps the recent chat turns of each customer across runs.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
)

var ErrEmptyCustomer = errors.New("customer id is empty")

const (
	DefaultLimit = 10
	DefaultTTL   = 24 * time.Hour
)

// RedisStore keeps a capped list of turns per customer. Writes trim the list
// to the limit and refresh its TTL, so idle customers are evicted.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	limit     int
	ttl       time.Duration
}

var _ contractx.HistoryStore = (*RedisStore)(nil)

type Option func(*RedisStore)

func WithLimit(n int) Option {
	return func(s *RedisStore) {
		if n > 0 {
			s.limit = n
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *RedisStore) { s.ttl = ttl }
}

func WithKeyPrefix(prefix string) Option {
	return func(s *RedisStore) {
		if p := strings.TrimSpace(prefix); p != "" {
			s.keyPrefix = p
		}
	}
}

func NewRedisStore(client redis.UniversalClient, opts ...Option) *RedisStore {
	s := &RedisStore{
		client:    client,
		keyPrefix: "retail:",
		limit:     DefaultLimit,
		ttl:       DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(customerID string) (string, error) {
	id := strings.TrimSpace(customerID)
	if id == "" {
		return "", ErrEmptyCustomer
	}
	return s.keyPrefix + "history:" + id, nil
}

// Recent returns the stored turns, oldest first.
func (s *RedisStore) Recent(ctx context.Context, customerID string) ([]contractx.Turn, error) {
	key, err := s.key(customerID)
	if err != nil {
		return nil, err
	}

	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history of %s: %w", customerID, err)
	}

	turns := make([]contractx.Turn, 0, len(raw))
	for _, item := range raw {
		var t contractx.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("decode history turn of %s: %w", customerID, err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (s *RedisStore) Append(ctx context.Context, customerID string, turns ...contractx.Turn) error {
	key, err := s.key(customerID)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	values := make([]any, 0, len(turns))
	for _, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode history turn: %w", err)
		}
		values = append(values, data)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, int64(-s.limit), -1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history of %s: %w", customerID, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, customerID string) error {
	key, err := s.key(customerID)
	if err != nil {
		return err
	}
	return s.client.Del(ctx, key).Err()
}
