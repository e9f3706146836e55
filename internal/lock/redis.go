// Package lock предоставляет распределённую блокировку фоновых задач на Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired возвращается, если блокировка уже удерживается другим экземпляром.
var ErrNotAcquired = errors.New("lock is held by another instance")

// Снимает ключ, только если он принадлежит нам.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker выдаёт блокировки с ограниченным временем жизни.
type Locker struct {
	client *redis.Client
	prefix string
}

// NewLocker создаёт Locker поверх клиента Redis.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client, prefix: "dreamsaver:lock:"}
}

// NewClient подключается к Redis по URL вида redis://host:port/db.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Lock — удерживаемая блокировка.
type Lock struct {
	locker *Locker
	key    string
	token  string
}

// Acquire пытается взять блокировку name на ttl.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	key := l.prefix + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lock{locker: l, key: key, token: token}, nil
}

// Release снимает блокировку. Истёкшая или перехваченная блокировка не трогается.
func (lk *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, lk.locker.client, []string{lk.key}, lk.token).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
