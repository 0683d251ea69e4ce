package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ClosedRejectsEverything(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	req := mustCreate(t, s, "a", "hello")
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Ping(ctx), ErrStoreClosed)
	assert.ErrorIs(t, s.CreateRequest(ctx, &Request{Prompt: "x"}), ErrStoreClosed)

	_, err := s.GetRequest(ctx, req.RequestID)
	assert.ErrorIs(t, err, ErrStoreClosed)

	_, err = s.InsertResponse(ctx, req.RequestID, UserResponse{Text: "x"}, false)
	assert.ErrorIs(t, err, ErrStoreClosed)

	_, err = s.OldestPending(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	req := mustCreate(t, s, "a", "hello")

	got, err := s.GetRequest(ctx, req.RequestID)
	require.NoError(t, err)
	got.Prompt = "mutated by caller"

	again, err := s.GetRequest(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "hello", again.Prompt, "callers must not reach the stored row")
}

func TestMemoryStore_ConcurrentBindingHasOneWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	req := mustCreate(t, s, "a", "race me")

	const writers = 16
	var wg sync.WaitGroup
	wins := make(chan string, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := fmt.Sprintf("writer-%d", i)
			if _, err := s.InsertResponse(ctx, req.RequestID, UserResponse{Text: text}, false); err == nil {
				wins <- text
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1, "exactly one writer may bind")

	got, err := s.GetResponse(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], got.Response.Text)
}

func TestMemoryStore_RequestIDCollision(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateRequest(ctx, &Request{RequestID: "req_fixed", Prompt: "one"}))

	err := s.CreateRequest(ctx, &Request{RequestID: "req_fixed", Prompt: "two"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyExists, "request collisions are faults, not lost races")
}
