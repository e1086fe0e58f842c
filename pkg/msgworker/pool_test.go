package msgworker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/businesswalrus/pup.ai/responder/domain"
)

func job(channelID, userID string, run func(ctx context.Context) error) Job {
	return Job{
		Request: domain.GenerateRequest{ChannelID: channelID, UserID: userID, Text: "hi"},
		Run:     run,
	}
}

func startedPool(t *testing.T, workers, queueSize int) *Pool {
	t.Helper()
	pool := NewPool(workers, queueSize)
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)
	return pool
}

func TestPool_DispatchDoesNotBlockOnSlowJobs(t *testing.T) {
	pool := startedPool(t, 2, 10)

	start := time.Now()
	accepted := pool.TryDispatch(job("C1", "U1", func(ctx context.Context) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}))

	assert.True(t, accepted)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestPool_SameConversationRunsInArrivalOrder(t *testing.T) {
	pool := NewPool(4, 100)
	pool.Start(context.Background())

	var mu sync.Mutex
	var order []int
	for i := 1; i <= 5; i++ {
		seq := i
		require.True(t, pool.TryDispatch(job("C1", "U1", func(ctx context.Context) error {
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			order = append(order, seq)
			mu.Unlock()
			return nil
		})))
	}
	pool.Stop()

	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
}

func TestPool_DifferentConversationsRunInParallel(t *testing.T) {
	pool := NewPool(8, 10)
	pool.Start(context.Background())

	// Find two conversations on different shards so the jobs cannot
	// serialize behind each other.
	first := domain.ConversationKey{ChannelID: "C1", UserID: "U1"}
	var second domain.ConversationKey
	for i := 0; ; i++ {
		second = domain.ConversationKey{ChannelID: fmt.Sprintf("C%d", i), UserID: "U2"}
		if pool.shardFor(second) != pool.shardFor(first) {
			break
		}
	}

	firstRunning := make(chan struct{})
	release := make(chan struct{})
	var secondDone sync.WaitGroup
	secondDone.Add(1)

	require.True(t, pool.TryDispatch(Job{
		Request: domain.GenerateRequest{ChannelID: first.ChannelID, UserID: first.UserID, Text: "hi"},
		Run: func(ctx context.Context) error {
			close(firstRunning)
			<-release
			return nil
		},
	}))
	<-firstRunning

	require.True(t, pool.TryDispatch(Job{
		Request: domain.GenerateRequest{ChannelID: second.ChannelID, UserID: second.UserID, Text: "hi"},
		Run: func(ctx context.Context) error {
			secondDone.Done()
			return nil
		},
	}))

	// The second conversation's reply completes while the first is still
	// blocked in flight.
	waitDone := make(chan struct{})
	go func() {
		secondDone.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(time.Second):
		t.Fatal("job on an independent shard did not run in parallel")
	}

	close(release)
	pool.Stop()
}

func TestPool_FullShardRejectsAndCountsDrop(t *testing.T) {
	pool := NewPool(1, 1)
	pool.Start(context.Background())
	defer pool.Stop()

	blocked := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	require.True(t, pool.TryDispatch(job("C1", "U1", func(ctx context.Context) error {
		close(blocked)
		<-release
		return nil
	})))
	<-blocked

	// One job fits in the queue behind the running one; the next must be
	// rejected.
	require.True(t, pool.TryDispatch(job("C1", "U1", func(ctx context.Context) error { return nil })))
	assert.False(t, pool.TryDispatch(job("C1", "U1", func(ctx context.Context) error { return nil })))

	stats := pool.Stats()
	assert.Equal(t, int64(2), stats.Dispatched)
	assert.Equal(t, int64(1), stats.Dropped)
}

func TestPool_StopDrainsQueuedJobs(t *testing.T) {
	pool := NewPool(2, 50)
	pool.Start(context.Background())

	var completed sync.WaitGroup
	for i := 0; i < 20; i++ {
		completed.Add(1)
		require.True(t, pool.TryDispatch(job("C1", fmt.Sprintf("U%d", i), func(ctx context.Context) error {
			defer completed.Done()
			time.Sleep(time.Millisecond)
			return nil
		})))
	}

	pool.Stop()
	completed.Wait()

	stats := pool.Stats()
	assert.Equal(t, int64(20), stats.Completed)
	assert.Zero(t, stats.Queued)
}

func TestPool_RejectsDispatchAfterStop(t *testing.T) {
	pool := NewPool(2, 10)
	pool.Start(context.Background())
	pool.Stop()

	assert.False(t, pool.TryDispatch(job("C1", "U1", func(ctx context.Context) error { return nil })))
	assert.Equal(t, int64(1), pool.Stats().Dropped)
}

func TestPool_ShardIsStablePerConversation(t *testing.T) {
	pool := NewPool(7, 10)
	key := domain.ConversationKey{ChannelID: "C1", UserID: "U1"}

	shard := pool.shardFor(key)
	for i := 0; i < 50; i++ {
		assert.Equal(t, shard, pool.shardFor(key))
	}
	assert.GreaterOrEqual(t, shard, 0)
	assert.Less(t, shard, 7)
}

func TestPool_CountsFailuresAndSurvivesPanics(t *testing.T) {
	pool := NewPool(1, 10)
	pool.Start(context.Background())

	require.True(t, pool.TryDispatch(job("C1", "U1", func(ctx context.Context) error {
		panic("boom")
	})))
	require.True(t, pool.TryDispatch(job("C1", "U1", func(ctx context.Context) error {
		return fmt.Errorf("upstream exploded")
	})))
	var ran bool
	require.True(t, pool.TryDispatch(job("C1", "U1", func(ctx context.Context) error {
		ran = true
		return nil
	})))

	pool.Stop()

	assert.True(t, ran, "worker must keep serving its shard after a panic")
	stats := pool.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Completed)
}
