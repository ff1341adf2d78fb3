package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired indica que outra requisição já detém a trava.
var ErrNotAcquired = errors.New("lock: recurso em uso")

const keyPrefix = "mdfe:lock:"

// Só remove a chave se ela ainda pertence a quem adquiriu.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// client é o subconjunto do redis usado pela trava.
type client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

// RedisLocker implementa trava distribuída simples com SET NX + TTL.
type RedisLocker struct {
	client client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire tenta obter a trava por ttl. A função devolvida libera a trava e pode
// ser chamada mais de uma vez.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context), error) {
	token := uuid.NewString()
	fullKey := keyPrefix + key

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	released := false
	return func(ctx context.Context) {
		if released {
			return
		}
		released = true
		_ = releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err()
	}, nil
}
