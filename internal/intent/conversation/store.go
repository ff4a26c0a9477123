package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockExpired is returned when a session lock was lost before release.
var ErrLockExpired = errors.New("SESSION_LOCK_EXPIRED")

// Store persists session state. Load returns (nil, nil) for unknown sessions.
type Store interface {
	Load(ctx context.Context, sessionID string) (*State, error)
	Save(ctx context.Context, state *State) error
	Delete(ctx context.Context, sessionID string) error
}

// Locker is implemented by stores shared between processes. The Manager holds
// the store lock for as long as it holds its in-process session lock.
type Locker interface {
	Lock(ctx context.Context, sessionID string) (unlock func(context.Context) error, err error)
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*State)}
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return s.clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[state.SessionID] = state.clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// Len is the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// RedisStore keeps each session as one JSON value under keyPrefix+sessionID.
type RedisStore struct {
	client    redis.Cmdable
	keyPrefix string
	ttl       time.Duration

	lockTTL   time.Duration
	lockRetry time.Duration
}

const defaultLockRetry = 10 * time.Millisecond

// releaseLock deletes the lock only while it still holds our token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisStore builds a store on any go-redis client. A zero ttl keeps keys
// until they are deleted.
func NewRedisStore(client redis.Cmdable, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "intent:conv:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// WithLock makes the store a Locker: every session access takes a Redis lock
// that expires after ttl if its holder dies. Zero disables locking.
func (r *RedisStore) WithLock(ttl time.Duration) *RedisStore {
	r.lockTTL = ttl
	if r.lockRetry == 0 {
		r.lockRetry = defaultLockRetry
	}
	return r
}

func (r *RedisStore) key(sessionID string) string {
	return r.keyPrefix + sessionID
}

func (r *RedisStore) lockKey(sessionID string) string {
	return r.keyPrefix + "lock:" + sessionID
}

// Lock waits until the session lock is free or ctx is done.
func (r *RedisStore) Lock(ctx context.Context, sessionID string) (func(context.Context) error, error) {
	if r.lockTTL <= 0 {
		return func(context.Context) error { return nil }, nil
	}

	key := r.lockKey(sessionID)
	token := uuid.NewString()
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(r.lockRetry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return func(ctx context.Context) error {
		n, err := releaseLock.Run(ctx, r.client, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("redis unlock %s: %w", key, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrLockExpired, key)
		}
		return nil
	}, nil
}

func (r *RedisStore) Load(ctx context.Context, sessionID string) (*State, error) {
	raw, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", sessionID, err)
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &state, nil
}

func (r *RedisStore) Save(ctx context.Context, state *State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", state.SessionID, err)
	}
	if err := r.client.Set(ctx, r.key(state.SessionID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", state.SessionID, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", sessionID, err)
	}
	return nil
}
