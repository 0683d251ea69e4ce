package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/cueflow/store"
)

func newTestCoordinator(s store.Store) *Coordinator {
	return New(s, Config{PollInterval: 5 * time.Millisecond}, zap.NewNop())
}

// respondToOldest waits for a pending request to appear, then binds a
// response to it the way the console would.
func respondToOldest(t *testing.T, s store.Store, content store.UserResponse, cancelled bool) {
	t.Helper()
	go func() {
		ctx := context.Background()
		for i := 0; i < 1000; i++ {
			req, err := s.OldestPending(ctx)
			if errors.Is(err, store.ErrNotFound) {
				time.Sleep(2 * time.Millisecond)
				continue
			}
			if err != nil {
				return
			}
			if _, err := s.InsertResponse(ctx, req.RequestID, content, cancelled); err != nil {
				return
			}
			status := store.StatusCompleted
			if cancelled {
				status = store.StatusCancelled
			}
			_ = s.MarkStatus(ctx, req.RequestID, status)
			return
		}
	}()
}

func TestSubmitAndWait_Answered(t *testing.T) {
	s := store.NewMemoryStore()
	c := newTestCoordinator(s)

	respondToOldest(t, s, store.UserResponse{Text: "ship it"}, false)

	res, err := c.SubmitAndWait(context.Background(), "tavilron", "Continue?", "", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAnswered, res.Outcome)
	require.NotNil(t, res.Response)
	assert.Equal(t, "ship it", res.Response.Response.Text)

	req, err := s.GetRequest(context.Background(), res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, req.Status)
}

func TestSubmitAndWait_Declined(t *testing.T) {
	s := store.NewMemoryStore()
	c := newTestCoordinator(s)

	respondToOldest(t, s, store.UserResponse{}, true)

	res, err := c.SubmitAndWait(context.Background(), "tavilron", "Continue?", "", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeclined, res.Outcome)

	req, err := s.GetRequest(context.Background(), res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCancelled, req.Status)
}

func TestSubmitAndWait_EmptyResume(t *testing.T) {
	s := store.NewMemoryStore()
	c := newTestCoordinator(s)

	respondToOldest(t, s, store.UserResponse{Text: "   "}, false)

	res, err := c.SubmitAndWait(context.Background(), "tavilron", "Continue?", "", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmptyResume, res.Outcome)
}

func TestSubmitAndWait_Timeout(t *testing.T) {
	s := store.NewMemoryStore()
	c := newTestCoordinator(s)

	res, err := c.SubmitAndWait(context.Background(), "tavilron", "Continue?", "", 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, res.Outcome)

	// The synthetic binding must be durable so a late console answer
	// cannot sneak in.
	rsp, err := s.GetResponse(context.Background(), res.RequestID)
	require.NoError(t, err)
	assert.True(t, rsp.Cancelled)
	assert.True(t, rsp.Response.Empty())

	req, err := s.GetRequest(context.Background(), res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCancelled, req.Status)

	_, err = s.InsertResponse(context.Background(), res.RequestID, store.UserResponse{Text: "too late"}, false)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestSubmitAndWait_Aborted(t *testing.T) {
	s := store.NewMemoryStore()
	c := newTestCoordinator(s)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res, err := c.SubmitAndWait(ctx, "tavilron", "Continue?", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, res.Outcome)

	rsp, err := s.GetResponse(context.Background(), res.RequestID)
	require.NoError(t, err)
	assert.True(t, rsp.Cancelled)
}

// blockingStore parks every GetResponse until the caller's context is
// cancelled, the way a slow SQL or redis query would when cancellation
// lands mid-flight.
type blockingStore struct {
	*store.MemoryStore
}

func (s *blockingStore) GetResponse(ctx context.Context, requestID string) (*store.Response, error) {
	if rsp, err := s.MemoryStore.GetResponse(ctx, requestID); err == nil {
		return rsp, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSubmitAndWait_AbortedDuringQuery(t *testing.T) {
	s := &blockingStore{MemoryStore: store.NewMemoryStore()}
	c := newTestCoordinator(s)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res, err := c.SubmitAndWait(ctx, "tavilron", "Continue?", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, res.Outcome)

	// The abort still binds a synthetic cancellation even though the
	// cancellation surfaced through the query error, not the select.
	rsp, err := s.MemoryStore.GetResponse(context.Background(), res.RequestID)
	require.NoError(t, err)
	assert.True(t, rsp.Cancelled)

	req, err := s.GetRequest(context.Background(), res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCancelled, req.Status)
}

// racingStore forces the synthetic insert to lose: a genuine answer lands
// just before every InsertResponse from the coordinator.
type racingStore struct {
	*store.MemoryStore
}

func (s *racingStore) InsertResponse(ctx context.Context, requestID string, content store.UserResponse, cancelled bool) (*store.Response, error) {
	if cancelled {
		_, _ = s.MemoryStore.InsertResponse(ctx, requestID, store.UserResponse{Text: "answered at the wire"}, false)
	}
	return s.MemoryStore.InsertResponse(ctx, requestID, content, cancelled)
}

func TestSubmitAndWait_SyntheticLosesRace(t *testing.T) {
	s := &racingStore{MemoryStore: store.NewMemoryStore()}
	c := newTestCoordinator(s)

	res, err := c.SubmitAndWait(context.Background(), "tavilron", "Continue?", "", 20*time.Millisecond)
	require.NoError(t, err)

	// The genuine response won the binding; the timeout must surface it
	// rather than report a timeout.
	assert.Equal(t, OutcomeAnswered, res.Outcome)
	require.NotNil(t, res.Response)
	assert.Equal(t, "answered at the wire", res.Response.Response.Text)
}

func TestPause_WaitsIndefinitely(t *testing.T) {
	s := store.NewMemoryStore()
	c := newTestCoordinator(s)

	type pauseResult struct {
		res *Result
		err error
	}
	done := make(chan pauseResult, 1)
	go func() {
		res, err := c.Pause(context.Background(), "tavilron", "")
		done <- pauseResult{res, err}
	}()

	// Nothing responds; the pause must still be waiting well past any
	// default timeout scale used elsewhere.
	select {
	case <-done:
		t.Fatal("pause resolved without a response")
	case <-time.After(50 * time.Millisecond):
	}

	req, err := s.OldestPending(context.Background())
	require.NoError(t, err)
	_, err = s.InsertResponse(context.Background(), req.RequestID, store.UserResponse{}, false)
	require.NoError(t, err)

	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, OutcomeEmptyResume, got.res.Outcome)
}

func TestOutcomeInstructions_Distinct(t *testing.T) {
	outcomes := []Outcome{
		OutcomeAnswered,
		OutcomeDeclined,
		OutcomeEmptyResume,
		OutcomeTimedOut,
		OutcomeAborted,
	}
	seen := make(map[string]Outcome)
	for _, o := range outcomes {
		text := o.Instruction()
		require.NotEmpty(t, text, "outcome %s", o)
		prev, dup := seen[text]
		require.False(t, dup, "outcomes %s and %s share an instruction", prev, o)
		seen[text] = o
	}
	assert.Contains(t, OutcomeTimedOut.Instruction(), "MUST NOT continue")
}
