package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces session keys.
const DefaultRedisPrefix = "sb:session:"

// errCorrupt marks a snapshot that no longer decodes.
var errCorrupt = errors.New("session: corrupt snapshot")

// RedisStore keeps JSON session snapshots in Redis so that several gateway
// replicas can share dialogues. Keys carry a TTL of twice the idle timeout
// so that abandoned sessions disappear even when no sweeper runs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	idle   time.Duration
	lang   string
	now    func() time.Time
}

// RedisOpts holds parameters for creating a RedisStore.
type RedisOpts struct {
	Client      redis.UniversalClient
	Prefix      string           // defaults to DefaultRedisPrefix
	IdleTimeout time.Duration    // defaults to DefaultIdleTimeout
	Lang        string           // language of fresh sessions, defaults to DefaultLang
	Clock       func() time.Time // defaults to time.Now
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(opts RedisOpts) (*RedisStore, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("session: redis store: client is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	lang := opts.Lang
	if lang == "" {
		lang = DefaultLang
	}
	return &RedisStore{client: opts.Client, prefix: prefix, idle: idle, lang: lang, now: clock}, nil
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

// IsExpired reports whether s is past the idle threshold now.
func (r *RedisStore) IsExpired(s Session) bool {
	return IsExpired(s, r.now(), r.idle)
}

// GetOrCreate implements Store.
func (r *RedisStore) GetOrCreate(ctx context.Context, id, phone string) (Session, error) {
	if id == "" {
		return Session{}, fmt.Errorf("session: id is required")
	}
	now := r.now()
	s, err := r.load(ctx, r.key(id))
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, errCorrupt):
		s = r.fresh(id, phone, now)
	case err != nil:
		return Session{}, err
	case IsExpired(s, now, r.idle):
		s = r.fresh(id, phone, now)
	}
	s.LastActivity = now
	if err := r.Put(ctx, s); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (r *RedisStore) fresh(id, phone string, now time.Time) Session {
	s := New(id, phone, now)
	s.Lang = r.lang
	return s
}

// Put implements Store.
func (r *RedisStore) Put(ctx context.Context, s Session) error {
	if s.ID == "" {
		return fmt.Errorf("session: id is required")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", s.ID, err)
	}
	if err := r.client.Set(ctx, r.key(s.ID), data, 2*r.idle).Err(); err != nil {
		return fmt.Errorf("session: put %s: %w", s.ID, err)
	}
	return nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("session: delete %s: %w", id, err)
	}
	return nil
}

// Sweep implements Store. Corrupt snapshots are removed along with expired
// ones.
func (r *RedisStore) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	removed := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		s, err := r.load(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil && !errors.Is(err, errCorrupt) {
			return removed, err
		}
		if err == nil && !IsExpired(s, now, r.idle) {
			continue
		}
		n, err := r.client.Del(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("session: sweep %s: %w", key, err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("session: sweep scan: %w", err)
	}
	return removed, nil
}

// Len implements Store.
func (r *RedisStore) Len(ctx context.Context) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("session: len: %w", err)
	}
	return n, nil
}

func (r *RedisStore) load(ctx context.Context, key string) (Session, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("session: get %s: %w", key, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("%w: %s: %v", errCorrupt, key, err)
	}
	return s, nil
}
