package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/duet/internal/domain"
)

func TestQueue_FIFOPairing(t *testing.T) {
	q := New(domain.KindChat, NewMemoryStore(nil))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "alice", ""))
	require.NoError(t, q.Enqueue(ctx, "bob", ""))
	require.NoError(t, q.Enqueue(ctx, "carol", ""))

	a, b, ok, err := q.DequeuePair(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.ParticipantID("alice"), a.Participant)
	assert.Equal(t, domain.ParticipantID("bob"), b.Participant)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueue_DequeueNeedsTwo(t *testing.T) {
	q := New(domain.KindChat, NewMemoryStore(nil))
	ctx := context.Background()

	_, _, ok, err := q.DequeuePair(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "empty queue must be a miss, not an error")

	require.NoError(t, q.Enqueue(ctx, "alice", ""))
	_, _, ok, err = q.DequeuePair(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	n, _ := q.Len(ctx)
	assert.Equal(t, 1, n, "a miss must not consume the lone entry")
}

func TestQueue_EnqueueReplacesPriorEntry(t *testing.T) {
	q := New(domain.KindChat, NewMemoryStore(nil))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "alice", ""))
	require.NoError(t, q.Enqueue(ctx, "bob", ""))
	require.NoError(t, q.Enqueue(ctx, "alice", "")) // re-search pushes alice behind bob

	n, _ := q.Len(ctx)
	assert.Equal(t, 2, n)

	a, b, ok, err := q.DequeuePair(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.ParticipantID("bob"), a.Participant)
	assert.Equal(t, domain.ParticipantID("alice"), b.Participant)
}

func TestQueue_RemoveIsIdempotent(t *testing.T) {
	q := New(domain.KindChat, NewMemoryStore(nil))
	ctx := context.Background()

	require.NoError(t, q.Remove(ctx, "ghost"))

	require.NoError(t, q.Enqueue(ctx, "alice", ""))
	require.NoError(t, q.Remove(ctx, "alice"))
	require.NoError(t, q.Remove(ctx, "alice"))

	n, _ := q.Len(ctx)
	assert.Equal(t, 0, n)
}

func TestQueue_DistinctClassPredicate(t *testing.T) {
	q := New(domain.KindChat, NewMemoryStore(DistinctClass))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "a1", "red"))
	require.NoError(t, q.Enqueue(ctx, "a2", "red"))

	_, _, ok, err := q.DequeuePair(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "same class must not pair")

	require.NoError(t, q.Enqueue(ctx, "b1", "blue"))

	a, b, ok, err := q.DequeuePair(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.ParticipantID("a1"), a.Participant, "earliest compatible entry wins")
	assert.Equal(t, domain.ParticipantID("b1"), b.Participant)
}

func TestQueue_NoDuplicateEntriesUnderInterleaving(t *testing.T) {
	store := NewMemoryStore(nil)
	q := New(domain.KindChat, store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p := domain.ParticipantID(fmt.Sprintf("p%d", n%5))
			for k := 0; k < 50; k++ {
				_ = q.Enqueue(ctx, p, "")
				if k%3 == 0 {
					_ = q.Remove(ctx, p)
				}
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[domain.ParticipantID]int)
	for _, e := range store.entries {
		seen[e.Participant]++
	}
	for p, n := range seen {
		assert.Equal(t, 1, n, "participant %s has %d entries", p, n)
	}
}

func TestQueue_ConcurrentDequeueNeverDoubleMatches(t *testing.T) {
	q := New(domain.KindChat, NewMemoryStore(nil))
	ctx := context.Background()

	const total = 40
	for i := 0; i < total; i++ {
		require.NoError(t, q.Enqueue(ctx, domain.ParticipantID(fmt.Sprintf("p%02d", i)), ""))
	}

	var mu sync.Mutex
	matched := make(map[domain.ParticipantID]int)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				a, b, ok, err := q.DequeuePair(ctx)
				require.NoError(t, err)
				if !ok {
					return
				}
				mu.Lock()
				matched[a.Participant]++
				matched[b.Participant]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, matched, total)
	for p, n := range matched {
		assert.Equal(t, 1, n, "participant %s matched %d times", p, n)
	}
}
