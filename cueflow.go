// Package cueflow provides a top-level convenience entry point for
// embedding the rendezvous coordinator with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/cueflow"
//
//	s, err := cueflow.New(cueflow.WithSQLite("cueflow.db"))
//	s, err := cueflow.New(cueflow.WithMemory())
//	s, err := cueflow.New(cueflow.WithStore(myStore), cueflow.WithLogger(logger))
//
// The resulting Session bundles the store and the coordinator; call
// [Session.Ask] to publish a question and block until a human answers,
// or use Session.Coordinator directly for the full surface.
package cueflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/cueflow/coordinator"
	"github.com/BaSui01/cueflow/naming"
	"github.com/BaSui01/cueflow/store"
)

// Session bundles a store with the coordinator bound to it.
type Session struct {
	// Store is the durable rendezvous store.
	Store store.Store

	// Coordinator is the agent-side wait loop.
	Coordinator *coordinator.Coordinator

	// AgentID identifies this session in the console.
	AgentID string

	ownsStore bool
}

type options struct {
	store        store.Store
	ownsStore    bool
	logger       *zap.Logger
	agentID      string
	pollInterval time.Duration
	storeErr     error
}

// Option configures the session created by [New].
type Option func(*options)

// WithStore uses a pre-built store. The caller keeps ownership; Close
// will not close it.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithSQLite opens (or creates) a SQLite-backed store at path.
func WithSQLite(path string) Option {
	return func(o *options) {
		s, err := store.OpenSQL(store.SQLConfig{Driver: "sqlite", DSN: path}, o.logger)
		if err != nil {
			o.storeErr = err
			return
		}
		o.store = s
		o.ownsStore = true
	}
}

// WithMemory uses an in-process store. Answers must then come from the
// same process, e.g. a consumer.Consumer running alongside.
func WithMemory() Option {
	return func(o *options) {
		o.store = store.NewMemoryStore()
		o.ownsStore = true
	}
}

// WithLogger sets a custom zap logger. Place it before the store
// option so the store picks it up too.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithAgentID fixes the session identity instead of generating one.
func WithAgentID(agentID string) Option {
	return func(o *options) { o.agentID = agentID }
}

// WithPollInterval overrides how often the coordinator re-checks for a
// response.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// New creates a [Session]. Without a store option an in-process memory
// store is used.
func New(opts ...Option) (*Session, error) {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	if o.storeErr != nil {
		return nil, fmt.Errorf("failed to open store: %w", o.storeErr)
	}
	if o.store == nil {
		o.store = store.NewMemoryStore()
		o.ownsStore = true
	}
	if o.agentID == "" {
		o.agentID = naming.Generate()
	}

	coord := coordinator.New(o.store, coordinator.Config{
		PollInterval: o.pollInterval,
	}, o.logger)

	return &Session{
		Store:       o.store,
		Coordinator: coord,
		AgentID:     o.agentID,
		ownsStore:   o.ownsStore,
	}, nil
}

// Ask publishes a question and blocks until a human answers, declines,
// or the timeout passes.
func (s *Session) Ask(ctx context.Context, prompt string, timeout time.Duration) (*coordinator.Result, error) {
	return s.Coordinator.SubmitAndWait(ctx, s.AgentID, prompt, "", timeout)
}

// Pause publishes an acknowledge-only confirmation and blocks until the
// human clicks through.
func (s *Session) Pause(ctx context.Context, prompt string) (*coordinator.Result, error) {
	return s.Coordinator.Pause(ctx, s.AgentID, prompt)
}

// Close releases the store when the session owns it.
func (s *Session) Close() error {
	if !s.ownsStore {
		return nil
	}
	return s.Store.Close()
}
