package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/freibot/backend/internal/model/chat"
)

const (
	DefaultKeyPrefix       = "freibot:session:"
	defaultUpdateRetries   = 8
	defaultRetryBackoffCap = 50 * time.Millisecond
)

// RedisStore keeps each history as a JSON array under one key. Writes refresh
// the key's TTL, so Redis expires idle sessions on its own.
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	ttl        time.Duration
	maxRetries int
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the key namespace.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRedisTTL sets the idle expiry. Zero keeps keys forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithMaxRetries bounds optimistic-transaction retries in Update.
func WithMaxRetries(n int) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:     client,
		prefix:     DefaultKeyPrefix,
		maxRetries: defaultUpdateRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRedisStoreFromURL parses url (redis://...) and pings the server.
func NewRedisStoreFromURL(ctx context.Context, url string, opts ...RedisOption) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStore(client, opts...), nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// Get returns the stored history, or an empty one for unknown sessions.
func (s *RedisStore) Get(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}
	return readHistory(ctx, s.client, s.key(sessionID))
}

// Append adds messages to the end of the history.
func (s *RedisStore) Append(ctx context.Context, sessionID string, messages ...chat.Message) error {
	return s.Update(ctx, sessionID, func(history []chat.Message) []chat.Message {
		return append(history, messages...)
	})
}

// Replace overwrites the history.
func (s *RedisStore) Replace(ctx context.Context, sessionID string, messages []chat.Message) error {
	if sessionID == "" {
		return ErrSessionIDRequired
	}
	payload, err := json.Marshal(nonNil(messages))
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sessionID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set history: %w", err)
	}
	return nil
}

// Update reads, transforms and writes the history inside WATCH/MULTI. If
// another client changed the key in between, the transaction is retried.
func (s *RedisStore) Update(ctx context.Context, sessionID string, fn UpdateFunc) error {
	if sessionID == "" {
		return ErrSessionIDRequired
	}
	key := s.key(sessionID)

	txf := func(tx *redis.Tx) error {
		current, err := readHistory(ctx, tx, key)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(nonNil(fn(current)))
		if err != nil {
			return fmt.Errorf("encode history: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("redis update history: %w", err)
		}
		backoff := min(time.Duration(attempt+1)*5*time.Millisecond, defaultRetryBackoffCap)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return ErrConflict
}

// Delete removes the session key.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionIDRequired
	}
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete history: %w", err)
	}
	return nil
}

// Len counts session keys under the prefix.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	count := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan sessions: %w", err)
	}
	return count, nil
}

// getter is satisfied by both clients and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readHistory(ctx context.Context, client getter, key string) ([]chat.Message, error) {
	raw, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []chat.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get history: %w", err)
	}
	var history []chat.Message
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return nonNil(history), nil
}

func nonNil(history []chat.Message) []chat.Message {
	if history == nil {
		return []chat.Message{}
	}
	return history
}
