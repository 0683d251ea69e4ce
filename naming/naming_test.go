package naming

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/cueflow/store"
)

func TestGenerate_Shape(t *testing.T) {
	for i := 0; i < 200; i++ {
		id := Generate()
		assert.GreaterOrEqual(t, len(id), 8)
		assert.LessOrEqual(t, len(id), 12)
		for _, r := range id {
			assert.True(t, r >= 'a' && r <= 'z', "identity %q must be lowercase letters only", id)
		}
	}
}

func TestGenerate_Varies(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		seen[Generate()] = true
	}
	assert.Greater(t, len(seen), 1, "the generator must not be constant")
}

func TestRecall_FindsNewestMatch(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateRequest(ctx, &store.Request{
		AgentID: "tavilron",
		Prompt:  "refactor the auth module",
	}))

	agentID, found, err := Recall(ctx, s, "auth module")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "tavilron", agentID)
}

func TestRecall_MissGeneratesFresh(t *testing.T) {
	s := store.NewMemoryStore()

	agentID, found, err := Recall(context.Background(), s, "nothing like this")
	require.NoError(t, err)
	assert.False(t, found)
	assert.GreaterOrEqual(t, len(agentID), 8)
}

func TestRecall_StoreFailure(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.Close())

	_, _, err := Recall(context.Background(), s, "hints")
	assert.ErrorIs(t, err, store.ErrStoreClosed)
}
