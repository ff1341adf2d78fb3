package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis guarda chave -> token e executa o script de liberação em Go.
type fakeRedis struct {
	redis.Scripter
	keys     map[string]string
	ttls     map[string]time.Duration
	setErr   error
	releases int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	f.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) EvalSha(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.releases++
	if f.keys[keys[0]] == args[0].(string) {
		delete(f.keys, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestAcquire(t *testing.T) {
	fake := newFakeRedis()
	l := &RedisLocker{client: fake}
	ctx := context.Background()

	release, err := l.Acquire(ctx, "doc-1", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.ttls["mdfe:lock:doc-1"] != time.Minute {
		t.Fatalf("ttl = %v", fake.ttls)
	}

	if _, err := l.Acquire(ctx, "doc-1", time.Minute); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
	if _, err := l.Acquire(ctx, "doc-2", time.Minute); err != nil {
		t.Fatalf("chaves diferentes não concorrem: %v", err)
	}

	release(ctx)
	release(ctx)
	if fake.releases != 1 {
		t.Fatalf("liberação repetida executou o script %d vezes", fake.releases)
	}
	if _, ok := fake.keys["mdfe:lock:doc-1"]; ok {
		t.Fatalf("trava não liberada")
	}
}

func TestReleaseNaoRemoveTravaDeOutro(t *testing.T) {
	fake := newFakeRedis()
	l := &RedisLocker{client: fake}
	ctx := context.Background()

	releaseA, err := l.Acquire(ctx, "doc-1", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// expirou e outra requisição assumiu
	delete(fake.keys, "mdfe:lock:doc-1")
	releaseB, err := l.Acquire(ctx, "doc-1", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tokenB := fake.keys["mdfe:lock:doc-1"]

	releaseA(ctx)
	if fake.keys["mdfe:lock:doc-1"] != tokenB {
		t.Fatalf("liberação antiga removeu a trava atual")
	}
	releaseB(ctx)
	if _, ok := fake.keys["mdfe:lock:doc-1"]; ok {
		t.Fatalf("trava atual não liberada")
	}
}

func TestAcquireErroDoRedis(t *testing.T) {
	fake := newFakeRedis()
	fake.setErr = errors.New("connection refused")
	l := &RedisLocker{client: fake}

	_, err := l.Acquire(context.Background(), "doc-1", time.Second)
	if err == nil || errors.Is(err, ErrNotAcquired) {
		t.Fatalf("erro do redis deve ser devolvido como está: %v", err)
	}
}
