package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, func() *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	return mr, func() *redis.Client {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		return rdb
	}
}

func TestRedis(t *testing.T) {
	_, newClient := newTestRedis(t)

	writer := NewRedis(newClient(), "test")
	defer writer.Close()
	watcher := NewRedis(newClient(), "test")
	defer watcher.Close()

	exerciseMedium(t, writer, watcher)
}

func TestRedis_KeyLayout(t *testing.T) {
	mr, newClient := newTestRedis(t)

	r := NewRedis(newClient(), "billing")
	defer r.Close()

	require.NoError(t, r.Put(context.Background(), "jwt-auth-token", []byte("v")))

	got, err := mr.Get("billing:kv:jwt-auth-token")
	require.NoError(t, err)
	require.Equal(t, "v", got)
}

func TestRedis_PrefixesAreIsolated(t *testing.T) {
	_, newClient := newTestRedis(t)

	a := NewRedis(newClient(), "a")
	defer a.Close()
	b := NewRedis(newClient(), "b")
	defer b.Close()

	ctx := context.Background()
	events, err := b.Watch(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, a.Put(ctx, "k", []byte("v")))

	_, err = b.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
	noEvent(t, events, 100*time.Millisecond)
}
