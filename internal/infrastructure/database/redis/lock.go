package redis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/pkg/errors"
)

var (
	ErrLockNotAcquired = errors.New(errors.ErrCodeConflict, "failed to acquire lock")
	ErrLockNotHeld     = errors.New(errors.ErrCodeConflict, "lock not held by this owner")
)

const lockKeyPrefix = "lexner:lock:"

var mutexUnlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var mutexExtendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

type lockConfig struct {
	ttl              time.Duration
	retryDelay       time.Duration
	retryCount       int
	watchdogInterval time.Duration
}

// LockOption configures a Mutex.
type LockOption func(*lockConfig)

func WithLockTTL(ttl time.Duration) LockOption {
	return func(c *lockConfig) { c.ttl = ttl }
}

func WithRetry(count int, delay time.Duration) LockOption {
	return func(c *lockConfig) {
		c.retryCount = count
		c.retryDelay = delay
	}
}

// WithWatchdog keeps extending a held lock every interval until Unlock.
func WithWatchdog(interval time.Duration) LockOption {
	return func(c *lockConfig) { c.watchdogInterval = interval }
}

// Mutex is a single-owner lock stored under one key. The stored value is a
// random token so only the holder can release or extend it.
type Mutex struct {
	client *Client
	key    string
	value  string
	config lockConfig
	logger logging.Logger

	mu           sync.Mutex
	watchdogStop context.CancelFunc
	watchdogDone chan struct{}
}

// NewMutex creates an unlocked mutex named name.
func NewMutex(client *Client, name string, log logging.Logger, opts ...LockOption) *Mutex {
	if log == nil {
		log = logging.NewNopLogger()
	}
	cfg := lockConfig{
		ttl:        30 * time.Second,
		retryDelay: 100 * time.Millisecond,
		retryCount: 1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Mutex{
		client: client,
		key:    lockKeyPrefix + name,
		value:  uuid.NewString(),
		config: cfg,
		logger: log,
	}
}

// Key returns the Redis key backing the mutex.
func (m *Mutex) Key() string { return m.key }

// TryLock makes a single attempt.
func (m *Mutex) TryLock(ctx context.Context) (bool, error) {
	ok, err := m.client.Raw().SetNX(ctx, m.key, m.value, m.config.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to set lock")
	}
	if ok {
		m.startWatchdog()
	}
	return ok, nil
}

// Lock retries TryLock up to the configured count.
func (m *Mutex) Lock(ctx context.Context) error {
	for i := 0; i < m.config.retryCount; i++ {
		ok, err := m.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if i == m.config.retryCount-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.config.retryDelay):
		}
	}
	return ErrLockNotAcquired
}

// Unlock releases the lock when this mutex still holds it.
func (m *Mutex) Unlock(ctx context.Context) error {
	m.stopWatchdog()
	res, err := mutexUnlockScript.Run(ctx, m.client.Raw(), []string{m.key}, m.value).Int64()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to release lock")
	}
	if res == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend resets the lock TTL. It reports false when the lock was lost.
func (m *Mutex) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	res, err := mutexExtendScript.Run(ctx, m.client.Raw(), []string{m.key}, m.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to extend lock")
	}
	return res == 1, nil
}

// TTL returns the remaining lifetime of the lock key.
func (m *Mutex) TTL(ctx context.Context) (time.Duration, error) {
	return m.client.Raw().PTTL(ctx, m.key).Result()
}

func (m *Mutex) startWatchdog() {
	if m.config.watchdogInterval <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	m.watchdogStop = cancel
	m.watchdogDone = make(chan struct{})
	go m.runWatchdog(ctx, m.watchdogDone)
}

func (m *Mutex) stopWatchdog() {
	m.mu.Lock()
	stop, done := m.watchdogStop, m.watchdogDone
	m.watchdogStop, m.watchdogDone = nil, nil
	m.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
}

func (m *Mutex) runWatchdog(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.config.watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := m.Extend(ctx, m.config.ttl)
			if err != nil {
				if ctx.Err() == nil {
					m.logger.Error("Watchdog failed to extend lock", logging.String("key", m.key), logging.Err(err))
				}
				return
			}
			if !ok {
				m.logger.Warn("Watchdog lost lock", logging.String("key", m.key))
				return
			}
		}
	}
}
