package shadow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRunsTaskAsynchronously(t *testing.T) {
	e := NewExecutor(4)
	var wg sync.WaitGroup
	wg.Add(1)
	ran := false

	ok := e.Submit(context.Background(), func(ctx context.Context) {
		ran = true
		wg.Done()
	})
	require.True(t, ok)
	wg.Wait()
	assert.True(t, ran)
}

func TestSubmitDropsBeyondMaxInFlightAndCountsDrops(t *testing.T) {
	e := NewExecutor(1)
	release := make(chan struct{})
	started := make(chan struct{})

	ok := e.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-release
	})
	require.True(t, ok)
	<-started

	dropped := e.Submit(context.Background(), func(ctx context.Context) {})
	assert.False(t, dropped)

	close(release)
	e.AwaitPending(time.Second)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.Submitted)
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestNewExecutorZeroUsesDefaultMaxInFlight(t *testing.T) {
	e := NewExecutor(0)
	assert.Equal(t, DefaultMaxInFlight, e.maxInFlight)
}

func TestAwaitPendingReturnsZeroWhenAllComplete(t *testing.T) {
	e := NewExecutor(4)
	e.Submit(context.Background(), func(ctx context.Context) {})
	remaining := e.AwaitPending(time.Second)
	assert.Equal(t, 0, remaining)
}

func TestAwaitPendingReportsStillRunningOnTimeout(t *testing.T) {
	e := NewExecutor(4)
	release := make(chan struct{})
	started := make(chan struct{})
	e.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started

	remaining := e.AwaitPending(10 * time.Millisecond)
	assert.Equal(t, 1, remaining)
	close(release)
	e.AwaitPending(time.Second)
}

func TestSubmitRecoversFromPanicInTask(t *testing.T) {
	e := NewExecutor(4)
	ok := e.Submit(context.Background(), func(ctx context.Context) {
		panic("boom")
	})
	require.True(t, ok)
	remaining := e.AwaitPending(time.Second)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, int64(1), e.Stats().Completed)
}

func TestPendingCountTracksInFlightTasks(t *testing.T) {
	e := NewExecutor(4)
	release := make(chan struct{})
	started := make(chan struct{})
	e.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started
	assert.Equal(t, 1, e.PendingCount())
	close(release)
	e.AwaitPending(time.Second)
	assert.Equal(t, 0, e.PendingCount())
}
