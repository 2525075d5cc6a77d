package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/agentrun/core"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "agentrun"

// Config describes the Redis connection used by NewFromConfig.
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// Store is a core.StorageAdapter keeping one JSON document per session plus
// a sorted index by update time and per-user / per-owner index sets.
//
// Redis creates keys on first write, so Create only checks connectivity.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// New wraps an existing client. An empty prefix selects DefaultPrefix.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// NewFromConfig dials Redis and verifies the connection.
func NewFromConfig(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return New(client, cfg.Prefix), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) sessionKey(id string) string  { return s.prefix + ":session:" + id }
func (s *Store) indexKey() string             { return s.prefix + ":sessions" }
func (s *Store) userKey(userID string) string { return s.prefix + ":user:" + userID }
func (s *Store) ownerKey(owner string) string { return s.prefix + ":owner:" + owner }

// Create verifies that the server is reachable.
func (s *Store) Create(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Read returns the stored session or (nil, nil).
func (s *Store) Read(ctx context.Context, sessionID string) (*core.Session, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var sess core.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// Upsert writes the session document and refreshes its index entries.
func (s *Store) Upsert(ctx context.Context, session *core.Session) (*core.Session, error) {
	if session == nil || session.ID == "" {
		return nil, errors.New("session with id is required")
	}

	previous, err := s.Read(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	stored := session.Clone()
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(stored.ID), raw, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(stored.Updated.UnixNano()), Member: stored.ID})

		if previous != nil && previous.UserID != "" && previous.UserID != stored.UserID {
			pipe.SRem(ctx, s.userKey(previous.UserID), stored.ID)
		}
		if previous != nil && previous.OwnerID != "" && previous.OwnerID != stored.OwnerID {
			pipe.SRem(ctx, s.ownerKey(previous.OwnerID), stored.ID)
		}
		if stored.UserID != "" {
			pipe.SAdd(ctx, s.userKey(stored.UserID), stored.ID)
		}
		if stored.OwnerID != "" {
			pipe.SAdd(ctx, s.ownerKey(stored.OwnerID), stored.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert session: %w", err)
	}

	return stored, nil
}

// Delete removes the session document and its index entries.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	previous, err := s.Read(ctx, sessionID)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(sessionID))
		pipe.ZRem(ctx, s.indexKey(), sessionID)
		if previous != nil && previous.UserID != "" {
			pipe.SRem(ctx, s.userKey(previous.UserID), sessionID)
		}
		if previous != nil && previous.OwnerID != "" {
			pipe.SRem(ctx, s.ownerKey(previous.OwnerID), sessionID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListIDs returns session ids, most recently updated first.
func (s *Store) ListIDs(ctx context.Context, userID, ownerID string) ([]string, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	filters := make([]map[string]struct{}, 0, 2)
	for _, key := range filterKeys(s, userID, ownerID) {
		members, err := s.client.SMembers(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		set := make(map[string]struct{}, len(members))
		for _, m := range members {
			set[m] = struct{}{}
		}
		filters = append(filters, set)
	}

	out := ids[:0]
	for _, id := range ids {
		keep := true
		for _, f := range filters {
			if _, ok := f[id]; !ok {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, id)
		}
	}
	return out, nil
}

func filterKeys(s *Store, userID, ownerID string) []string {
	var keys []string
	if userID != "" {
		keys = append(keys, s.userKey(userID))
	}
	if ownerID != "" {
		keys = append(keys, s.ownerKey(ownerID))
	}
	return keys
}

var _ core.StorageAdapter = (*Store)(nil)
