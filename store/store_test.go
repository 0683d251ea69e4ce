package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// The conformance suite runs every Store implementation through the
// same behavior checks, since the coordinator and console must be able
// to rendezvous through any of them interchangeably.

type backendCase struct {
	name string
	open func(t *testing.T) Store
}

func allBackends() []backendCase {
	return []backendCase{
		{
			name: "memory",
			open: func(t *testing.T) Store {
				return NewMemoryStore()
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) Store {
				s, err := OpenSQL(SQLConfig{
					Driver: "sqlite",
					DSN:    filepath.Join(t.TempDir(), "cueflow.db"),
				}, zaptest.NewLogger(t))
				require.NoError(t, err)
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
		{
			name: "redis",
			open: func(t *testing.T) Store {
				mr := miniredis.RunT(t)
				s, err := NewRedisStore(RedisConfig{Addr: mr.Addr()}, zaptest.NewLogger(t))
				require.NoError(t, err)
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, b := range allBackends() {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t))
		})
	}
}

func mustCreate(t *testing.T, s Store, agentID, prompt string) *Request {
	t.Helper()
	req := &Request{AgentID: agentID, Prompt: prompt}
	require.NoError(t, s.CreateRequest(context.Background(), req))
	return req
}

func TestCreateRequest_FillsDefaults(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		req := &Request{AgentID: "tavilron", Prompt: "pick a color"}
		require.NoError(t, s.CreateRequest(ctx, req))

		assert.NotZero(t, req.ID)
		assert.NotEmpty(t, req.RequestID)
		assert.Equal(t, StatusPending, req.Status)
		assert.False(t, req.CreatedAt.IsZero())

		got, err := s.GetRequest(ctx, req.RequestID)
		require.NoError(t, err)
		assert.Equal(t, "tavilron", got.AgentID)
		assert.Equal(t, "pick a color", got.Prompt)
		assert.Equal(t, StatusPending, got.Status)
	})
}

func TestCreateRequest_RejectsEmptyPrompt(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		err := s.CreateRequest(context.Background(), &Request{AgentID: "a"})
		assert.ErrorIs(t, err, ErrInvalidInput)

		err = s.CreateRequest(context.Background(), nil)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestCreateRequest_PreservesPayload(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		doc := `{"type":"choice","options":[{"char":"a","label":"Apply"}]}`

		req := &Request{AgentID: "a", Prompt: "choose", Payload: doc}
		require.NoError(t, s.CreateRequest(ctx, req))

		got, err := s.GetRequest(ctx, req.RequestID)
		require.NoError(t, err)
		assert.Equal(t, doc, got.Payload, "payload document must be carried byte-for-byte")
	})
}

func TestGetRequest_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := s.GetRequest(context.Background(), "req_missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGetResponse_NotFoundWhileUnbound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		req := mustCreate(t, s, "a", "anything")

		_, err := s.GetResponse(ctx, req.RequestID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestInsertResponse_BindsOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		req := mustCreate(t, s, "a", "anything")

		rsp, err := s.InsertResponse(ctx, req.RequestID, UserResponse{Text: "first"}, false)
		require.NoError(t, err)
		assert.NotZero(t, rsp.ID)
		assert.False(t, rsp.Cancelled)

		_, err = s.InsertResponse(ctx, req.RequestID, UserResponse{Text: "second"}, false)
		assert.ErrorIs(t, err, ErrAlreadyExists)

		got, err := s.GetResponse(ctx, req.RequestID)
		require.NoError(t, err)
		assert.Equal(t, "first", got.Response.Text, "the losing write must not disturb the winner")
	})
}

func TestInsertResponse_CancelledBinding(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		req := mustCreate(t, s, "a", "anything")

		_, err := s.InsertResponse(ctx, req.RequestID, UserResponse{}, true)
		require.NoError(t, err)

		got, err := s.GetResponse(ctx, req.RequestID)
		require.NoError(t, err)
		assert.True(t, got.Cancelled)
		assert.True(t, got.Response.Empty())
	})
}

func TestInsertResponse_RejectsEmptyRequestID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := s.InsertResponse(context.Background(), "", UserResponse{Text: "x"}, false)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestMarkStatus_Transitions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		req := mustCreate(t, s, "a", "anything")

		require.NoError(t, s.MarkStatus(ctx, req.RequestID, StatusCompleted))

		got, err := s.GetRequest(ctx, req.RequestID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)

		// Idempotent re-mark.
		require.NoError(t, s.MarkStatus(ctx, req.RequestID, StatusCompleted))

		// The other terminal state must not flip it, and must not fail.
		require.NoError(t, s.MarkStatus(ctx, req.RequestID, StatusCancelled))
		got, err = s.GetRequest(ctx, req.RequestID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
	})
}

func TestMarkStatus_Validation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		err := s.MarkStatus(ctx, "", StatusCompleted)
		assert.ErrorIs(t, err, ErrInvalidInput)

		err = s.MarkStatus(ctx, "req_x", Status("WEIRD"))
		assert.ErrorIs(t, err, ErrInvalidInput)

		err = s.MarkStatus(ctx, "req_missing", StatusCompleted)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestOldestPending_OrderAndSkip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first := mustCreate(t, s, "a", "first question")
		time.Sleep(5 * time.Millisecond)
		second := mustCreate(t, s, "a", "second question")

		got, err := s.OldestPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, first.RequestID, got.RequestID)

		require.NoError(t, s.MarkStatus(ctx, first.RequestID, StatusCompleted))

		got, err = s.OldestPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, second.RequestID, got.RequestID)

		require.NoError(t, s.MarkStatus(ctx, second.RequestID, StatusCancelled))

		_, err = s.OldestPending(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSearchRequests_FiltersAndOrders(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		mustCreate(t, s, "", "refactor the auth module") // no agent id, never returned
		old := mustCreate(t, s, "tavilron", "refactor the auth module")
		time.Sleep(5 * time.Millisecond)
		recent := mustCreate(t, s, "tavilron", "refactor the billing module")
		time.Sleep(5 * time.Millisecond)
		mustCreate(t, s, "belomar", "write release notes")

		got, err := s.SearchRequests(ctx, "refactor", 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, recent.RequestID, got[0].RequestID, "newest first")
		assert.Equal(t, old.RequestID, got[1].RequestID)

		got, err = s.SearchRequests(ctx, "refactor", 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, recent.RequestID, got[0].RequestID)

		got, err = s.SearchRequests(ctx, "", 10)
		require.NoError(t, err)
		assert.Len(t, got, 3, "empty hints match every request that has an agent id")

		got, err = s.SearchRequests(ctx, "no such prompt", 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestAttachFiles_OrderPreserved(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		req := mustCreate(t, s, "a", "anything")
		rsp, err := s.InsertResponse(ctx, req.RequestID, UserResponse{Text: "see attached"}, false)
		require.NoError(t, err)

		refs := []FileRef{
			{SHA256: "aaa1", Path: "files/aaa1.png", MimeType: "image/png", SizeBytes: 10},
			{SHA256: "bbb2", Path: "files/bbb2.txt", MimeType: "text/plain", SizeBytes: 20},
			{SHA256: "ccc3", Path: "files/ccc3.pdf", MimeType: "application/pdf", SizeBytes: 30},
		}
		require.NoError(t, s.AttachFiles(ctx, rsp.ID, refs))

		got, err := s.FilesForResponse(ctx, rsp.ID)
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i := range refs {
			assert.Equal(t, refs[i].SHA256, got[i].SHA256)
			assert.Equal(t, refs[i].Path, got[i].Path)
			assert.Equal(t, refs[i].MimeType, got[i].MimeType)
			assert.Equal(t, refs[i].SizeBytes, got[i].SizeBytes)
		}
	})
}

func TestAttachFiles_Validation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		err := s.AttachFiles(context.Background(), 0, []FileRef{{SHA256: "x", Path: "y"}})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestFilesForResponse_NoneAttached(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		got, err := s.FilesForResponse(context.Background(), 12345)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestPing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		assert.NoError(t, s.Ping(context.Background()))
	})
}

func TestUserResponse_Empty(t *testing.T) {
	assert.True(t, UserResponse{}.Empty())
	assert.True(t, UserResponse{Text: "   \n\t "}.Empty())
	assert.False(t, UserResponse{Text: "go ahead"}.Empty())
}

func TestParseUserResponse_Degrades(t *testing.T) {
	assert.Equal(t, UserResponse{Text: "hi"}, ParseUserResponse(`{"text":"hi"}`))
	assert.Equal(t, UserResponse{}, ParseUserResponse("not json"))
	assert.Equal(t, UserResponse{}, ParseUserResponse(""))
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestFileRef_IsImage(t *testing.T) {
	assert.True(t, FileRef{MimeType: "image/png"}.IsImage())
	assert.True(t, FileRef{MimeType: "IMAGE/JPEG"}.IsImage())
	assert.False(t, FileRef{MimeType: "application/pdf"}.IsImage())
	assert.False(t, FileRef{}.IsImage())
}

func TestNewRequestID_Format(t *testing.T) {
	id := NewRequestID()
	assert.Len(t, id, len("req_")+12)
	assert.Contains(t, id, "req_")
	assert.NotEqual(t, id, NewRequestID())
}
