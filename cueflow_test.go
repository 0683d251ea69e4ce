package cueflow

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/cueflow/coordinator"
	"github.com/BaSui01/cueflow/store"
)

func TestNew_Defaults(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	assert.GreaterOrEqual(t, len(s.AgentID), 8)
	assert.NotNil(t, s.Store)
	assert.NotNil(t, s.Coordinator)
	assert.NoError(t, s.Store.Ping(context.Background()))
}

func TestNew_WithAgentID(t *testing.T) {
	s, err := New(WithMemory(), WithAgentID("voltaren"))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "voltaren", s.AgentID)
}

func TestNew_WithSQLite(t *testing.T) {
	s, err := New(WithSQLite(filepath.Join(t.TempDir(), "cueflow.db")))
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.Store.Ping(context.Background()))
}

func TestSession_AskTimesOut(t *testing.T) {
	s, err := New(WithMemory(), WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer s.Close()

	result, err := s.Ask(context.Background(), "anyone there?", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, coordinator.OutcomeTimedOut, result.Outcome)
}

func TestSession_AskAnswered(t *testing.T) {
	s, err := New(WithMemory(), WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	defer s.Close()

	go func() {
		for {
			req, err := s.Store.OldestPending(context.Background())
			if err == nil {
				s.Store.InsertResponse(context.Background(), req.RequestID,
					store.UserResponse{Text: "go ahead"}, false)
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	result, err := s.Ask(context.Background(), "may I proceed?", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, coordinator.OutcomeAnswered, result.Outcome)
	assert.Equal(t, "go ahead", result.Response.Response.Text)
}

func TestSession_CloseKeepsCallerOwnedStoreOpen(t *testing.T) {
	mem := store.NewMemoryStore()
	defer mem.Close()

	s, err := New(WithStore(mem))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.NoError(t, mem.Ping(context.Background()), "a caller-provided store outlives the session")
}
