// Package consumer implements the console half of the rendezvous
// protocol: poll the store for the oldest pending request, put it in
// front of the operator, and bind their answer.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/cueflow/files"
	"github.com/BaSui01/cueflow/internal/metrics"
	"github.com/BaSui01/cueflow/payload"
	"github.com/BaSui01/cueflow/store"
)

// Input is what the operator produced for one request.
type Input struct {
	Text     string
	Files    []string
	Declined bool
}

// Prompter presents a request to the operator and collects their input.
// rendered is the operator-facing text (prompt plus payload rendering).
type Prompter interface {
	Prompt(ctx context.Context, req *store.Request, rendered string) (Input, error)
}

// Config tunes a Consumer.
type Config struct {
	// PollInterval between pending-request lookups while idle. Zero
	// means one second.
	PollInterval time.Duration

	// Debug appends the raw payload document to the rendering.
	Debug bool

	// Metrics is optional.
	Metrics *metrics.Collector
}

// Consumer runs the console loop. Several consoles may poll the same
// store; the response uniqueness constraint decides which answer binds.
type Consumer struct {
	store    store.Store
	files    *files.Dir
	prompter Prompter
	limiter  *rate.Limiter
	debug    bool
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// New creates a Consumer. files may be nil when attachments are not
// supported by the prompter.
func New(s store.Store, dir *files.Dir, prompter Prompter, cfg Config, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Consumer{
		store:    s,
		files:    dir,
		prompter: prompter,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		debug:    cfg.Debug,
		metrics:  cfg.Metrics,
		logger:   logger.With(zap.String("component", "consumer")),
	}
}

// Run polls for pending requests until ctx is cancelled. Handling errors
// are logged and the loop continues; only a dead store or a cancelled ctx
// stops it.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := c.store.OldestPending(ctx)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			if errors.Is(err, store.ErrStoreClosed) || ctx.Err() != nil {
				return err
			}
			c.logger.Warn("failed to poll pending requests", zap.Error(err))
			continue
		}

		if err := c.HandleRequest(ctx, req); err != nil {
			c.logger.Error("failed to handle request",
				zap.String("request_id", req.RequestID), zap.Error(err))
		}
	}
}

// HandleRequest presents one request and binds the operator's answer. An
// answer that arrives after someone else already bound one is dropped
// silently; empty input with no attachments counts as a decline.
func (c *Consumer) HandleRequest(ctx context.Context, req *store.Request) error {
	input, err := c.prompter.Prompt(ctx, req, c.render(req))
	if err != nil {
		return fmt.Errorf("failed to collect operator input: %w", err)
	}

	content := store.UserResponse{Text: strings.TrimSpace(input.Text)}
	cancelled := input.Declined || (content.Empty() && len(input.Files) == 0)

	rsp, err := c.store.InsertResponse(ctx, req.RequestID, content, cancelled)
	if errors.Is(err, store.ErrAlreadyExists) {
		// Someone else (another console, or the requester's timeout)
		// bound a response first; the input has nowhere to go.
		c.logger.Info("request already answered, dropping input",
			zap.String("request_id", req.RequestID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to bind response: %w", err)
	}

	if !cancelled && len(input.Files) > 0 {
		if err := c.attach(ctx, rsp.ID, input.Files); err != nil {
			c.logger.Warn("failed to attach files",
				zap.String("request_id", req.RequestID), zap.Error(err))
		}
	}

	status := store.StatusCompleted
	kind := "answered"
	if cancelled {
		status = store.StatusCancelled
		kind = "declined"
	}
	if err := c.store.MarkStatus(ctx, req.RequestID, status); err != nil {
		c.logger.Warn("failed to mark request status",
			zap.String("request_id", req.RequestID), zap.Error(err))
	}
	if c.metrics != nil {
		c.metrics.ResponseWritten(kind)
	}

	c.logger.Info("response bound",
		zap.String("request_id", req.RequestID),
		zap.String("kind", kind),
		zap.Int("files", len(input.Files)),
	)
	return nil
}

// render produces the operator-facing text for a request.
func (c *Consumer) render(req *store.Request) string {
	text := strings.TrimSpace(req.Prompt)
	if strings.TrimSpace(req.Payload) == "" {
		return text
	}
	rendered := payload.Render(req.Payload, c.debug)
	if text == "" {
		return rendered
	}
	return text + "\n\n" + rendered
}

// attach ingests the operator's files and records them on the response in
// input order. Files that fail to ingest are skipped, not fatal.
func (c *Consumer) attach(ctx context.Context, responseID uint, paths []string) error {
	if c.files == nil {
		return fmt.Errorf("attachments not configured")
	}

	refs := make([]store.FileRef, 0, len(paths))
	for _, path := range paths {
		ref, err := c.files.Ingest(path)
		if err != nil {
			c.logger.Warn("failed to ingest attachment",
				zap.String("path", path), zap.Error(err))
			continue
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return nil
	}
	return c.store.AttachFiles(ctx, responseID, refs)
}
