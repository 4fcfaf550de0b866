package queue

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/chatfire/internal/message"
)

func item(i int) message.WorkItem {
	return message.WorkItem{UserID: strconv.Itoa(i), Kind: message.KindText, RoomID: "1"}
}

func TestQueueFIFO(t *testing.T) {
	q := New(10)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(ctx, item(i)))
	}
	assert.Equal(t, 5, q.Len())
	for i := 0; i < 5; i++ {
		got, ok := q.Pop(ctx, time.Second)
		require.True(t, ok)
		assert.Equal(t, strconv.Itoa(i), got.UserID)
	}
}

func TestQueueDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Cap())
	assert.Equal(t, 3, New(3).Cap())
}

func TestPopTimesOut(t *testing.T) {
	q := New(1)
	start := time.Now()
	_, ok := q.Pop(context.Background(), 20*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestPushBlocksWhenFull(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, item(1)))

	pushed := make(chan error, 1)
	go func() { pushed <- q.Push(ctx, item(2)) }()

	select {
	case <-pushed:
		t.Fatal("push should block while the queue is full")
	case <-time.After(30 * time.Millisecond):
	}

	_, ok := q.Pop(ctx, time.Second)
	require.True(t, ok)
	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("push did not resume after a pop freed capacity")
	}
}

func TestPushHonorsContext(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Push(context.Background(), item(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Push(ctx, item(2))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseRejectsPushAndDrains(t *testing.T) {
	q := New(4)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, item(1)))
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Push(ctx, item(2)), ErrClosed)

	got, ok := q.Pop(ctx, time.Second)
	require.True(t, ok)
	assert.Equal(t, "1", got.UserID)

	start := time.Now()
	_, ok = q.Pop(ctx, time.Second)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "closed and drained queue should not wait for the timeout")
}

func TestConcurrentConsumersSeeEveryItemOnce(t *testing.T) {
	const total = 2000
	q := New(16)
	ctx := context.Background()

	go func() {
		for i := 0; i < total; i++ {
			_ = q.Push(ctx, item(i))
		}
	}()

	var mu sync.Mutex
	seen := make(map[string]int, total)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				it, ok := q.Pop(ctx, 100*time.Millisecond)
				if !ok {
					return
				}
				mu.Lock()
				seen[it.UserID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %s delivered %d times", id, n)
	}
}
