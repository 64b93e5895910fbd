package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/session"
)

// RedisStore implements session storage using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ session.Store = (*RedisStore)(nil)

// RedisConfig holds Redis configuration for sessions.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// DefaultRedisConfig returns the local development settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "medrag:session:",
		TTL:    24 * time.Hour,
	}
}

// NewRedisStore creates a new Redis-based session store.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	def := DefaultRedisConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
	}
}

// Save persists a session to Redis and refreshes its TTL.
func (s *RedisStore) Save(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return medragerr.New(medragerr.CodeSessionStoreFailure, "session cannot be nil")
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		return medragerr.Wrap(err, medragerr.CodeSessionStoreFailure, "marshal session")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(sess.ID), raw, s.ttl)
	pipe.SAdd(ctx, s.setKey(), sess.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return medragerr.Wrap(err, medragerr.CodeSessionStoreFailure, "save session", medragerr.Field("session_id", sess.ID))
	}
	return nil
}

// Load loads a session from Redis.
func (s *RedisStore) Load(ctx context.Context, id string) (*session.Session, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, session.NotFound(id)
		}
		return nil, medragerr.Wrap(err, medragerr.CodeSessionStoreFailure, "load session", medragerr.Field("session_id", id))
	}

	var sess session.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, medragerr.Wrap(err, medragerr.CodeSessionStoreFailure, "decode session", medragerr.Field("session_id", id))
	}
	return &sess, nil
}

// Delete removes a session from Redis.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(id))
	pipe.SRem(ctx, s.setKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return medragerr.Wrap(err, medragerr.CodeSessionStoreFailure, "delete session", medragerr.Field("session_id", id))
	}
	return nil
}

// List returns the ids of sessions that have not expired. Expired ids are
// pruned from the index as a side effect.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.setKey()).Result()
	if err != nil {
		return nil, medragerr.Wrap(err, medragerr.CodeSessionStoreFailure, "list sessions")
	}

	live := make([]string, 0, len(ids))
	for _, id := range ids {
		ok, err := s.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			live = append(live, id)
			continue
		}
		s.client.SRem(ctx, s.setKey(), id)
	}
	return live, nil
}

// Exists checks if a session exists.
func (s *RedisStore) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return false, medragerr.Wrap(err, medragerr.CodeSessionStoreFailure, "check session", medragerr.Field("session_id", id))
	}
	return n > 0, nil
}

// Ping checks if Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) sessionKey(id string) string {
	return s.prefix + id
}

func (s *RedisStore) setKey() string {
	return s.prefix + "set"
}
