package cache

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/dealquery/internal/compiler"
	"github.com/canonica-labs/dealquery/internal/executor"
)

// countingAdapter returns a fixed result and counts calls. When gate is
// non-nil every call blocks until it is closed.
type countingAdapter struct {
	calls atomic.Int32
	gate  chan struct{}
}

func (a *countingAdapter) Name() string              { return "fake" }
func (a *countingAdapter) Dialect() compiler.Dialect { return compiler.SQLite }
func (a *countingAdapter) Ping(context.Context) error { return nil }
func (a *countingAdapter) Close() error               { return nil }

func (a *countingAdapter) Query(ctx context.Context, stmt *compiler.Statement) (*executor.Result, error) {
	a.calls.Add(1)
	if a.gate != nil {
		<-a.gate
	}
	return sampleResult(), nil
}

func sampleResult() *executor.Result {
	return &executor.Result{
		Columns: []string{"transactionId", "companyName"},
		Rows: []executor.Row{
			{{Key: "transactionId", Value: int64(102)}, {Key: "companyName", Value: "Initech"}},
		},
	}
}

func stmt(sql string, args ...interface{}) *compiler.Statement {
	return &compiler.Statement{SQL: sql, Args: args, Dialect: "sqlite"}
}

func TestKeyDependsOnTextAndArgs(t *testing.T) {
	k1, err := Key(stmt("SELECT 1 WHERE a = ?", int64(1)))
	require.NoError(t, err)
	k2, err := Key(stmt("SELECT 1 WHERE a = ?", int64(1)))
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := Key(stmt("SELECT 1 WHERE a = ?", "1"))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	k4, err := Key(stmt("SELECT 2 WHERE a = ?", int64(1)))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4)
}

func TestMemoryExpiry(t *testing.T) {
	m, err := NewMemory(8)
	require.NoError(t, err)
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "k", sampleResult(), time.Minute))
	res, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"transactionId", "companyName"}, res.Columns)

	now = now.Add(2 * time.Minute)
	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	m, err := NewMemory(2)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "a", sampleResult(), 0))
	require.NoError(t, m.Set(ctx, "b", sampleResult(), 0))
	_, _, _ = m.Get(ctx, "a")
	require.NoError(t, m.Set(ctx, "c", sampleResult(), 0))

	_, ok, _ := m.Get(ctx, "b")
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "a")
	assert.True(t, ok)
}

func TestEncodeKeepsColumnOrder(t *testing.T) {
	b, err := encode(sampleResult())
	require.NoError(t, err)
	res, err := decode(b)
	require.NoError(t, err)

	out, err := json.Marshal(res.Rows[0])
	require.NoError(t, err)
	assert.Equal(t, `{"transactionId":102,"companyName":"Initech"}`, string(out))

	_, err = decode([]byte(`{"columns":["a"],"rows":[[1,2]]}`))
	assert.Error(t, err)
}

func TestGroupServesFromCache(t *testing.T) {
	m, err := NewMemory(8)
	require.NoError(t, err)
	a := &countingAdapter{}
	g := NewGroup(a, m, time.Minute)

	var hits, misses int
	g.OnLookup = func(hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	}

	s := stmt("SELECT tr.transactionid FROM ciqTransaction tr WHERE tr.announcedyear = ?", int64(2022))
	for i := 0; i < 3; i++ {
		res, err := g.Query(context.Background(), s)
		require.NoError(t, err)
		assert.Len(t, res.Rows, 1)
	}
	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, 2, hits)
	assert.Equal(t, 1, misses)
	assert.Equal(t, "fake", g.Name())

	_, hit, err := g.QueryCached(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, hit)
	_, hit, err = g.QueryCached(context.Background(), stmt("SELECT 2"))
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestGroupCollapsesConcurrentCalls(t *testing.T) {
	a := &countingAdapter{gate: make(chan struct{})}
	g := NewGroup(a, nil, 0)
	s := stmt("SELECT COUNT(*) FROM ciqTransaction tr")

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Query(context.Background(), s)
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return a.calls.Load() == 1 }, time.Second, time.Millisecond)
	// Give the remaining callers time to join the in-flight call.
	time.Sleep(20 * time.Millisecond)
	close(a.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), a.calls.Load())
}

// blockingAdapter runs until its context ends or release is closed, and
// reports the context error it observed.
type blockingAdapter struct {
	countingAdapter
	release  chan struct{}
	observed chan error
}

func newBlockingAdapter() *blockingAdapter {
	return &blockingAdapter{release: make(chan struct{}), observed: make(chan error, 1)}
}

func (a *blockingAdapter) Query(ctx context.Context, stmt *compiler.Statement) (*executor.Result, error) {
	a.calls.Add(1)
	select {
	case <-ctx.Done():
		a.observed <- ctx.Err()
		return nil, ctx.Err()
	case <-a.release:
		a.observed <- nil
		return sampleResult(), nil
	}
}

func TestGroupCallerCancellation(t *testing.T) {
	a := &countingAdapter{gate: make(chan struct{})}
	defer close(a.gate)
	g := NewGroup(a, nil, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := g.Query(ctx, stmt("SELECT 1"))
	assert.Error(t, err)
}

func TestGroupPassesCallerDeadlineToDataStore(t *testing.T) {
	a := newBlockingAdapter()
	defer close(a.release)
	g := NewGroup(a, nil, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.Query(ctx, stmt("SELECT 1"))
	require.Error(t, err)

	select {
	case got := <-a.observed:
		// Either the deadline or the departing caller ends the call.
		assert.Error(t, got)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("data-store call still running after the caller's deadline")
	}
}

func TestGroupCancelsWhenLastCallerLeaves(t *testing.T) {
	a := newBlockingAdapter()
	defer close(a.release)
	g := NewGroup(a, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Query(ctx, stmt("SELECT 1"))
		done <- err
	}()
	require.Eventually(t, func() bool { return a.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.Error(t, <-done)

	select {
	case got := <-a.observed:
		assert.ErrorIs(t, got, context.Canceled)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("data-store call not cancelled after its only caller left")
	}
}

func TestGroupKeepsCallForRemainingCaller(t *testing.T) {
	a := newBlockingAdapter()
	g := NewGroup(a, nil, 0)
	s := stmt("SELECT 1")
	key, err := Key(s)
	require.NoError(t, err)

	leaving, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := g.Query(leaving, s)
		first <- err
	}()
	require.Eventually(t, func() bool { return a.calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := g.Query(context.Background(), s)
		second <- err
	}()
	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.waiters[key] == 2
	}, time.Second, time.Millisecond)

	cancel()
	require.Error(t, <-first)
	close(a.release)
	assert.NoError(t, <-second)
	assert.NoError(t, <-a.observed)
	assert.Equal(t, int32(1), a.calls.Load())
}

func TestNewBackends(t *testing.T) {
	c, err := New(Config{Backend: "none"})
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = New(Config{Backend: "memory", Size: 4})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)

	_, err = New(Config{Backend: "memcached"})
	assert.Error(t, err)
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("DEALQ_TEST_REDIS")
	if addr == "" {
		t.Skip("DEALQ_TEST_REDIS not set")
	}
	r := NewRedis(RedisConfig{Addr: addr})
	defer r.Close()
	ctx := context.Background()
	require.NoError(t, r.Ping(ctx))

	key := "test-" + time.Now().Format(time.RFC3339Nano)
	_, ok, err := r.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Set(ctx, key, sampleResult(), time.Minute))
	res, ok, err := r.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	v, _ := res.Rows[0].Get("companyName")
	assert.Equal(t, "Initech", v)
}
