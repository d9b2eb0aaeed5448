package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestPoolRunsSubmittedTasks(t *testing.T) {
	pool := NewPool(2, 8, time.Minute, testLogger())
	defer pool.Shutdown()

	var mu sync.Mutex
	done := make(chan struct{}, 4)
	var ran []string
	for _, id := range []string{"a", "b", "c", "d"} {
		id := id
		require.NoError(t, pool.Submit(Task{ID: id, Kind: "test", Run: func(context.Context) error {
			mu.Lock()
			ran = append(ran, id)
			mu.Unlock()
			done <- struct{}{}
			return nil
		}}))
	}

	for i := 0; i < 4; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("task did not run")
		}
	}
	mu.Lock()
	assert.Len(t, ran, 4)
	mu.Unlock()
}

func TestPoolQueueFull(t *testing.T) {
	pool := NewPool(1, 1, time.Minute, testLogger())
	defer pool.Shutdown()

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(Task{ID: "running", Run: func(context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	<-started

	// One slot in the queue, then full.
	require.NoError(t, pool.Submit(Task{ID: "queued", Run: func(context.Context) error { return nil }}))
	err := pool.Submit(Task{ID: "rejected", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(block)
}

func TestPoolCancel(t *testing.T) {
	pool := NewPool(1, 1, time.Minute, testLogger())
	defer pool.Shutdown()

	started := make(chan struct{})
	canceled := make(chan struct{})
	require.NoError(t, pool.Submit(Task{ID: "job1", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	}}))

	<-started
	assert.True(t, pool.Cancel("job1"))
	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not reach the task")
	}
	assert.False(t, pool.Cancel("unknown"))
}

func TestPoolTimeout(t *testing.T) {
	pool := NewPool(1, 1, 50*time.Millisecond, testLogger())
	defer pool.Shutdown()

	timedOut := make(chan struct{})
	require.NoError(t, pool.Submit(Task{ID: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		close(timedOut)
		return ctx.Err()
	}}))

	select {
	case <-timedOut:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout did not fire")
	}
}

func TestPoolShutdownStopsIntake(t *testing.T) {
	pool := NewPool(1, 1, time.Minute, testLogger())
	pool.Shutdown()
	assert.Error(t, pool.Submit(Task{ID: "late", Run: func(context.Context) error { return nil }}))
}

func TestPoolRecoversFromPanic(t *testing.T) {
	pool := NewPool(1, 2, time.Minute, testLogger())
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(Task{ID: "panics", Run: func(context.Context) error {
		panic("boom")
	}}))

	done := make(chan struct{})
	require.NoError(t, pool.Submit(Task{ID: "after", Run: func(context.Context) error {
		close(done)
		return nil
	}}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
}
