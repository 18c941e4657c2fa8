package lockmgr

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/replkv/lib/client"
	"github.com/ValentinKolb/replkv/lib/conn"
	"github.com/ValentinKolb/replkv/lib/conn/memconn"
	"github.com/ValentinKolb/replkv/lib/deactivation"
	"github.com/ValentinKolb/replkv/lib/endpoint"
	"github.com/ValentinKolb/replkv/lib/pool"
	"github.com/ValentinKolb/replkv/lib/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const host = endpoint.MemScheme + "locks"

func newTestPool(t *testing.T) (*pool.Manager, *memconn.Server) {
	t.Helper()
	return newTestPoolWithConfig(t, pool.Config{})
}

func newTestPoolWithConfig(t *testing.T, cfg pool.Config) (*pool.Manager, *memconn.Server) {
	t.Helper()
	n := memconn.NewNetwork()
	srv := n.AddServer(host, conn.RoleMaster)

	cfg.Masters = []endpoint.Endpoint{{Host: host}}
	st := stats.New()
	m, err := pool.New(cfg, pool.WithDialer(n), pool.WithStats(st), pool.WithRegistry(deactivation.New(0, st)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, srv
}

func TestAcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	m, srv := newTestPool(t)
	locks := NewLockManager(m)

	lock, err := locks.AcquireLock(ctx, "res", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "res", lock.Key)
	assert.False(t, lock.Expired())
	assert.WithinDuration(t, time.Now().Add(time.Minute), lock.Expiry, time.Second)

	v, ok := srv.Get(0, "res")
	require.True(t, ok)
	assert.Equal(t, lock.Value, string(v))

	require.NoError(t, lock.Release(ctx))
	_, ok = srv.Get(0, "res")
	assert.False(t, ok)

	// releasing twice is fine
	require.NoError(t, locks.ReleaseLock(ctx, lock))
}

func TestMutualExclusion(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m, _ := newTestPool(t)
	locks := NewLockManager(m)

	type result struct {
		lock *Lock
		err  error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			lock, err := locks.AcquireLock(ctx, "res", 0)
			results <- result{lock, err}
		}()
	}

	first := <-results
	require.NoError(t, first.err)
	assert.WithinDuration(t, time.Now().Add(NoExpiry), first.lock.Expiry, time.Minute)

	select {
	case r := <-results:
		t.Fatalf("second acquire succeeded while the lock was held: %v", r.err)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, first.lock.Release(ctx))

	select {
	case second := <-results:
		require.NoError(t, second.err)
		require.NoError(t, second.lock.Release(ctx))
	case <-time.After(2 * time.Second):
		t.Fatal("second acquire did not succeed after release")
	}
}

func TestWaitersDoNotHoldClients(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m, _ := newTestPoolWithConfig(t, pool.Config{MaxWritePoolSize: 2, PoolTimeout: 5 * time.Second})
	locks := NewLockManager(m)

	held, err := locks.AcquireLock(ctx, "res", 0)
	require.NoError(t, err)

	const waiters = 4
	results := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			lock, err := locks.AcquireLock(ctx, "res", 0)
			if err == nil {
				err = lock.Release(ctx)
			}
			results <- err
		}()
	}

	// the pool stays usable while more waiters than slots are spinning
	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Exec(ctx, func(c *client.Client) error {
			return c.Ping(ctx)
		}))
	}

	require.NoError(t, held.Release(ctx))
	for i := 0; i < waiters; i++ {
		select {
		case err := <-results:
			require.NoError(t, err)
		case <-ctx.Done():
			t.Fatal("waiters did not get the lock in time")
		}
	}
}

func TestStaleLockIsTakenOver(t *testing.T) {
	ctx := context.Background()
	m, srv := newTestPool(t)
	locks := NewLockManager(m)

	abandoned, err := locks.AcquireLock(ctx, "res", 50*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	lock, err := locks.AcquireLock(ctx, "res", 2*time.Second)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.True(t, abandoned.Expired())
	assert.NotEqual(t, abandoned.Value, lock.Value)

	v, ok := srv.Get(0, "res")
	require.True(t, ok)
	assert.Equal(t, lock.Value, string(v))
}

func TestAcquireTimesOut(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestPool(t)
	locks := NewLockManager(m)

	held, err := locks.AcquireLock(ctx, "res", 0)
	require.NoError(t, err)
	defer held.Release(ctx)

	_, err = locks.AcquireLock(ctx, "res", 50*time.Millisecond)
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestUnparsableValueIsNotTakenOver(t *testing.T) {
	ctx := context.Background()
	m, srv := newTestPool(t)
	srv.Set(0, "res", []byte("not a timestamp"))

	_, err := NewLockManager(m).AcquireLock(ctx, "res", 50*time.Millisecond)
	require.ErrorIs(t, err, ErrLockTimeout)

	v, _ := srv.Get(0, "res")
	assert.Equal(t, "not a timestamp", string(v))
}

func TestAcquireOnClient(t *testing.T) {
	m, srv := newTestPool(t)
	ctx := context.Background()

	c, err := m.GetClient(ctx)
	require.NoError(t, err)
	defer c.Release()

	lock, err := AcquireOn(ctx, c, "res", time.Second)
	require.NoError(t, err)
	_, ok := srv.Get(0, "res")
	require.True(t, ok)

	// the client can be used for other commands while the lock is held
	require.NoError(t, c.Ping(ctx))

	require.NoError(t, lock.Release(ctx))
	_, ok = srv.Get(0, "res")
	assert.False(t, ok)
}

func TestAcquireHonorsContext(t *testing.T) {
	m, _ := newTestPool(t)
	locks := NewLockManager(m)

	held, err := locks.AcquireLock(context.Background(), "res", 0)
	require.NoError(t, err)
	defer held.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = locks.AcquireLock(ctx, "res", 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExpiryEncoding(t *testing.T) {
	expiry := time.UnixMilli(1700000000123)

	tests := []struct {
		name  string
		value string
		want  time.Time
		ok    bool
	}{
		{"Encoded", encodeExpiry(expiry), expiry, true},
		{"PlusOne", "1700000000124", expiry, true},
		{"Garbage", "abc", time.Time{}, false},
		{"Empty", "", time.Time{}, false},
		{"Zero", "0", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := decodeExpiry([]byte(tt.value))
			assert.Equal(t, tt.ok, ok)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
		})
	}
}
