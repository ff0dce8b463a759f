package asyncdata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T, opts ...StoreOption) *Store[string] {
	t.Helper()
	return NewStore[string](append([]StoreOption{WithLogger(zaptest.NewLogger(t))}, opts...)...)
}

func TestUseRunsProducerAndCaches(t *testing.T) {
	store := newTestStore(t)
	var calls atomic.Int32
	producer := func(context.Context) (string, error) {
		calls.Add(1)
		return "value", nil
	}

	first, err := store.Use(context.Background(), "k", producer)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, first.Status)
	assert.Equal(t, "value", first.Data)
	assert.NoError(t, first.Err)

	second, err := store.Use(context.Background(), "k", producer)
	require.NoError(t, err)
	assert.Equal(t, "value", second.Data)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUseDeduplicatesConcurrentCalls(t *testing.T) {
	store := newTestStore(t)
	release := make(chan struct{})
	var calls atomic.Int32
	producer := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const callers = 8
	results := make([]Result[string], callers)
	var started sync.WaitGroup
	var done sync.WaitGroup
	for idx := 0; idx < callers; idx++ {
		started.Add(1)
		done.Add(1)
		go func(idx int) {
			defer done.Done()
			started.Done()
			result, err := store.Use(context.Background(), "k", producer)
			assert.NoError(t, err)
			results[idx] = result
		}(idx)
	}
	started.Wait()
	require.Eventually(t, func() bool {
		snapshot, ok := store.Peek("k")
		return ok && snapshot.Status == StatusPending
	}, time.Second, time.Millisecond)
	close(release)
	done.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, result := range results {
		assert.Equal(t, StatusSuccess, result.Status)
		assert.Equal(t, "shared", result.Data)
	}
}

func TestUseKeepsKeysIndependent(t *testing.T) {
	store := newTestStore(t)
	var calls atomic.Int32
	producerFor := func(value string) Producer[string] {
		return func(context.Context) (string, error) {
			calls.Add(1)
			return value, nil
		}
	}

	a, err := store.Use(context.Background(), "a", producerFor("A"))
	require.NoError(t, err)
	b, err := store.Use(context.Background(), "b", producerFor("B"))
	require.NoError(t, err)

	assert.Equal(t, "A", a.Data)
	assert.Equal(t, "B", b.Data)
	assert.Equal(t, int32(2), calls.Load())
}

func TestUseReportsProducerError(t *testing.T) {
	store := newTestStore(t)
	backendErr := errors.New("backend down")

	result, err := store.Use(context.Background(), "k", func(context.Context) (string, error) {
		return "partial", backendErr
	})
	require.NoError(t, err)
	assert.Equal(t, StatusError, result.Status)
	assert.ErrorIs(t, result.Err, backendErr)
	assert.Empty(t, result.Data)
}

func TestUseRecoversProducerPanic(t *testing.T) {
	store := newTestStore(t)

	result, err := store.Use(context.Background(), "k", func(context.Context) (string, error) {
		panic("boom")
	})
	require.NoError(t, err)
	assert.Equal(t, StatusError, result.Status)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "boom")
}

func TestRefreshReinvokesProducer(t *testing.T) {
	store := newTestStore(t)
	var calls atomic.Int32
	producer := func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "v1", nil
		}
		return "v2", nil
	}

	result, err := store.Use(context.Background(), "k", producer)
	require.NoError(t, err)
	assert.Equal(t, "v1", result.Data)

	require.NoError(t, result.Refresh(context.Background()))

	snapshot, ok := store.Peek("k")
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, snapshot.Status)
	assert.Equal(t, "v2", snapshot.Data)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRefreshClearsErrorOnRecovery(t *testing.T) {
	store := newTestStore(t)
	var fail atomic.Bool
	fail.Store(true)
	producer := func(context.Context) (string, error) {
		if fail.Load() {
			return "", errors.New("flaky")
		}
		return "ok", nil
	}

	result, err := store.Use(context.Background(), "k", producer)
	require.NoError(t, err)
	require.Equal(t, StatusError, result.Status)

	fail.Store(false)
	require.NoError(t, store.Refresh(context.Background(), "k"))

	snapshot, _ := store.Peek("k")
	assert.Equal(t, StatusSuccess, snapshot.Status)
	assert.NoError(t, snapshot.Err)
	assert.Equal(t, "ok", snapshot.Data)
}

func TestRefreshUnknownKey(t *testing.T) {
	store := newTestStore(t)
	require.ErrorIs(t, store.Refresh(context.Background(), "missing"), ErrUnknownKey)

	store.Watch("watched-only")
	require.ErrorIs(t, store.Refresh(context.Background(), "watched-only"), ErrNoProducer)
}

func TestRefreshDeferJoinsPendingRun(t *testing.T) {
	store := newTestStore(t, WithDedupe(DedupeDefer))
	release := make(chan struct{})
	var calls atomic.Int32
	producer := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "done", nil
	}

	_, err := store.Use(context.Background(), "k", producer, Lazy())
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, store.Refresh(cancelled, "k"), context.Canceled)

	snapshot, _ := store.Peek("k")
	assert.Equal(t, StatusPending, snapshot.Status)

	close(release)
	require.Eventually(t, func() bool {
		snapshot, _ := store.Peek("k")
		return snapshot.Status == StatusSuccess
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRefreshCancelSupersedesPendingRun(t *testing.T) {
	store := newTestStore(t, WithDedupe(DedupeCancel))
	var calls atomic.Int32
	firstCancelled := make(chan struct{})
	producer := func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			close(firstCancelled)
			return "stale", ctx.Err()
		}
		return "fresh", nil
	}

	waiter := make(chan Result[string], 1)
	go func() {
		result, _ := store.Use(context.Background(), "k", producer)
		waiter <- result
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, store.Refresh(context.Background(), "k"))
	<-firstCancelled

	result := <-waiter
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "fresh", result.Data)
	assert.Equal(t, int32(2), calls.Load())
}

func TestImmediateFalseStaysIdle(t *testing.T) {
	store := newTestStore(t)
	var calls atomic.Int32
	producer := func(context.Context) (string, error) {
		calls.Add(1)
		return "value", nil
	}

	result, err := store.Use(context.Background(), "k", producer, Immediate(false))
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, result.Status)
	assert.Equal(t, int32(0), calls.Load())

	require.NoError(t, result.Refresh(context.Background()))
	snapshot, _ := store.Peek("k")
	assert.Equal(t, "value", snapshot.Data)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLazyReturnsPending(t *testing.T) {
	store := newTestStore(t)
	release := make(chan struct{})

	result, err := store.Use(context.Background(), "k", func(context.Context) (string, error) {
		<-release
		return "late", nil
	}, Lazy())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, result.Status)
	assert.Empty(t, result.Data)

	close(release)
	require.Eventually(t, func() bool {
		snapshot, _ := store.Peek("k")
		return snapshot.Status == StatusSuccess && snapshot.Data == "late"
	}, time.Second, time.Millisecond)
}

func TestUseReturnsContextErrorWhileRunContinues(t *testing.T) {
	store := newTestStore(t)
	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		assert.Eventually(t, func() bool {
			snapshot, ok := store.Peek("k")
			return ok && snapshot.Status == StatusPending
		}, time.Second, time.Millisecond)
		cancel()
	}()

	result, err := store.Use(ctx, "k", func(runCtx context.Context) (string, error) {
		<-release
		return "value", runCtx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusPending, result.Status)

	close(release)
	require.Eventually(t, func() bool {
		snapshot, _ := store.Peek("k")
		return snapshot.Status == StatusSuccess
	}, time.Second, time.Millisecond)
}

func TestWatchObservesTransitions(t *testing.T) {
	store := newTestStore(t)
	updates, stop := store.Watch("k")
	defer stop()

	initial := <-updates
	assert.Equal(t, StatusIdle, initial.Status)

	_, err := store.Use(context.Background(), "k", func(context.Context) (string, error) {
		return "value", nil
	})
	require.NoError(t, err)

	latest := <-updates
	assert.Equal(t, StatusSuccess, latest.Status)
	assert.Equal(t, "value", latest.Data)
}

func TestClearDropsSlotAndClosesWatchers(t *testing.T) {
	store := newTestStore(t)
	var calls atomic.Int32
	producer := func(context.Context) (string, error) {
		calls.Add(1)
		return "value", nil
	}

	_, err := store.Use(context.Background(), "k", producer)
	require.NoError(t, err)
	updates, stop := store.Watch("k")
	<-updates

	store.Clear("k")
	_, open := <-updates
	assert.False(t, open)
	stop()

	_, ok := store.Peek("k")
	assert.False(t, ok)

	_, err = store.Use(context.Background(), "k", producer)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestParseDedupePolicy(t *testing.T) {
	policy, err := ParseDedupePolicy("Cancel")
	require.NoError(t, err)
	assert.Equal(t, DedupeCancel, policy)
	assert.Equal(t, "cancel", policy.String())

	policy, err = ParseDedupePolicy("")
	require.NoError(t, err)
	assert.Equal(t, DedupeDefer, policy)

	_, err = ParseDedupePolicy("replace")
	require.Error(t, err)
}
