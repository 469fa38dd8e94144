package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoaib-customfit/cf-go-client-sdk/internal/clock"
)

func testConfig(name, dir string) Config {
	cfg := DefaultConfig(name, dir)
	cfg.JitterFraction = 0
	return cfg
}

func succeedProcessor(t *testing.T) ProcessorFunc[string] {
	return func(ctx context.Context, data string) (bool, error) { return true, nil }
}

func TestEnqueue_DedupByUniqueKey(t *testing.T) {
	clk := clock.NewReal()
	q, err := New(testConfig("dedup", ""), clk, nil, nil, succeedProcessor(t))
	require.NoError(t, err)

	id1, err := q.Enqueue("first", 0, "shared")
	require.NoError(t, err)
	id2, err := q.Enqueue("second", 0, "shared")
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 1, q.PendingCount(), "the second enqueue with the same unique_key must replace the first")
}

func TestEnqueue_PriorityThenFIFOOrdering(t *testing.T) {
	clk := clock.NewReal()
	var mu sync.Mutex
	var order []string
	processor := func(ctx context.Context, data string) (bool, error) {
		mu.Lock()
		order = append(order, data)
		mu.Unlock()
		return true, nil
	}
	q, err := New(testConfig("priority", ""), clk, nil, nil, processor)
	require.NoError(t, err)

	_, err = q.Enqueue("low-first", 0, "")
	require.NoError(t, err)
	_, err = q.Enqueue("low-second", 0, "")
	require.NoError(t, err)
	_, err = q.Enqueue("high", 10, "")
	require.NoError(t, err)

	q.Flush(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 3)
	assert.Equal(t, "high", order[0], "higher priority must be processed first")
	assert.Equal(t, "low-first", order[1])
	assert.Equal(t, "low-second", order[2], "equal priority falls back to FIFO by creation order")
}

func TestMaxRetriesZero_DropsImmediatelyWithoutRetrying(t *testing.T) {
	clk := clock.NewReal()
	var attempts int32
	processor := func(ctx context.Context, data string) (bool, error) {
		atomic.AddInt32(&attempts, 1)
		return false, errors.New("always fails")
	}
	cfg := testConfig("maxretries0", "")
	cfg.MaxRetries = 0
	q, err := New(cfg, clk, nil, nil, processor)
	require.NoError(t, err)

	_, err = q.Enqueue("payload", 0, "")
	require.NoError(t, err)

	q.Flush(context.Background())

	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "max_retries=0 must drop after the single attempt, never retry")
	assert.Equal(t, 0, q.PendingCount())
}

func TestRetry_SucceedsOnSecondAttempt(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	var attempts int32
	processor := func(ctx context.Context, data string) (bool, error) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return false, errors.New("transient")
		}
		return true, nil
	}
	cfg := testConfig("retry", "")
	cfg.InitialDelay = 10 * time.Millisecond
	cfg.MaxRetries = 3
	q, err := New(cfg, clk, nil, nil, processor)
	require.NoError(t, err)

	_, err = q.Enqueue("payload", 0, "")
	require.NoError(t, err)

	done := make(chan int)
	go func() { done <- q.Flush(context.Background()) }()

	// processOnce calls clk.Sleep after the first failed attempt; advance the
	// fake clock from a real goroutine so the retry's backoff wait resolves.
	time.Sleep(20 * time.Millisecond)
	clk.Advance(time.Hour)

	successes := <-done
	assert.Equal(t, 1, successes)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
	assert.Equal(t, 0, q.PendingCount())
}

// TestRetry_ReinsertsAtTailOfPriorityBand covers spec.md §4.2's retry
// ordering requirement: a retried operation goes to the tail of its
// priority band, behind everything already waiting at the same priority,
// not back to the head by virtue of its original (oldest) CreatedAt.
func TestRetry_ReinsertsAtTailOfPriorityBand(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	var mu sync.Mutex
	var order []string
	failFirst := true
	processor := func(ctx context.Context, data string) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		if data == "retried" && failFirst {
			failFirst = false
			return false, errors.New("transient")
		}
		order = append(order, data)
		return true, nil
	}
	cfg := testConfig("retrytail", "")
	cfg.InitialDelay = 10 * time.Millisecond
	cfg.MaxRetries = 3
	q, err := New(cfg, clk, nil, nil, processor)
	require.NoError(t, err)

	// "retried" is enqueued (and so would pop) first; "already-waiting" is
	// enqueued after it at a later fake timestamp. Both clock advances
	// happen before Flush starts, so the later restamp applied to
	// "retried" on retry is deterministically after "already-waiting"'s
	// CreatedAt, not tied to it.
	_, err = q.Enqueue("retried", 0, "")
	require.NoError(t, err)
	clk.Advance(time.Millisecond)
	_, err = q.Enqueue("already-waiting", 0, "")
	require.NoError(t, err)
	clk.Advance(time.Millisecond)

	done := make(chan int)
	go func() { done <- q.Flush(context.Background()) }()

	// processOnce calls clk.Sleep after the first failed attempt; advance the
	// fake clock from a real goroutine so the retry's backoff wait resolves.
	time.Sleep(20 * time.Millisecond)
	clk.Advance(time.Hour)

	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, "already-waiting", order[0], "an op already waiting at the same priority must be processed ahead of a retried op re-inserted at the tail")
	assert.Equal(t, "retried", order[1])
}

func TestPersistence_SurvivesReload(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewReal()

	blocking := make(chan struct{})
	processor := func(ctx context.Context, data string) (bool, error) {
		<-blocking // never completes, so the item stays persisted on disk
		return true, nil
	}
	q1, err := New(testConfig("persisted", dir), clk, nil, nil, processor)
	require.NoError(t, err)

	id, err := q1.Enqueue("keep-me", 5, "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.FileExists(t, filepath.Join(dir, "persisted.queue.json"))

	q2, err := New(testConfig("persisted", dir), clk, nil, nil, processor)
	require.NoError(t, err)
	assert.Equal(t, 1, q2.PendingCount(), "a fresh Queue pointed at the same dir should load the persisted operation")
}

func TestClear_EmptiesQueueAndRewritesFile(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewReal()
	q, err := New(testConfig("clear", dir), clk, nil, nil, succeedProcessor(t))
	require.NoError(t, err)

	_, err = q.Enqueue("a", 0, "")
	require.NoError(t, err)
	q.Clear()

	assert.Equal(t, 0, q.PendingCount())

	q2, err := New(testConfig("clear", dir), clk, nil, nil, succeedProcessor(t))
	require.NoError(t, err)
	assert.Equal(t, 0, q2.PendingCount())
}

func TestRemove_DeletesByID(t *testing.T) {
	clk := clock.NewReal()
	q, err := New(testConfig("remove", ""), clk, nil, nil, succeedProcessor(t))
	require.NoError(t, err)

	id, err := q.Enqueue("a", 0, "")
	require.NoError(t, err)

	assert.True(t, q.Remove(id))
	assert.False(t, q.Remove(id), "removing twice should report not-found the second time")
	assert.Equal(t, 0, q.PendingCount())
}

func TestPause_StopsBackgroundLoopButFlushIgnoresIt(t *testing.T) {
	clk := clock.NewReal()
	var attempts int32
	processor := func(ctx context.Context, data string) (bool, error) {
		atomic.AddInt32(&attempts, 1)
		return true, nil
	}
	q, err := New(testConfig("pause", ""), clk, nil, nil, processor)
	require.NoError(t, err)
	q.Pause()
	q.Start()
	defer q.Shutdown(context.Background())

	_, err = q.Enqueue("a", 0, "")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&attempts), "a paused loop must not pop new work")

	q.Flush(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "Flush must drain regardless of Pause")
}

func TestPanicInProcessorIsRecoveredAsFailure(t *testing.T) {
	clk := clock.NewReal()
	cfg := testConfig("panic", "")
	cfg.MaxRetries = 0
	processor := func(ctx context.Context, data string) (bool, error) {
		panic("boom")
	}
	q, err := New(cfg, clk, nil, nil, processor)
	require.NoError(t, err)

	_, err = q.Enqueue("a", 0, "")
	require.NoError(t, err)

	assert.NotPanics(t, func() { q.Flush(context.Background()) })
	assert.Equal(t, 0, q.PendingCount())
}
