// Package coordinator implements the agent-side half of the rendezvous
// protocol: publish a request, poll for its response, and degrade timeouts
// and cancellations into a bound response so every wait terminates with
// exactly one outcome.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/cueflow/internal/metrics"
	"github.com/BaSui01/cueflow/payload"
	"github.com/BaSui01/cueflow/store"
)

// DefaultPollInterval is how often a waiting session re-reads the store.
const DefaultPollInterval = 500 * time.Millisecond

// Outcome classifies how a wait terminated. Every outcome is distinct and
// carries its own operator-facing instruction; see Instruction.
type Outcome string

const (
	// OutcomeAnswered: the operator provided text and/or files.
	OutcomeAnswered Outcome = "answered"

	// OutcomeDeclined: the operator explicitly declined (cancelled=true
	// written by the console).
	OutcomeDeclined Outcome = "declined"

	// OutcomeEmptyResume: the operator resumed with no text and no
	// files. Distinct from a decline and from a textual answer.
	OutcomeEmptyResume Outcome = "empty_resume"

	// OutcomeTimedOut: the wait deadline elapsed and the coordinator
	// bound a synthetic cancellation.
	OutcomeTimedOut Outcome = "timed_out"

	// OutcomeAborted: the caller's own execution was cancelled while
	// waiting; same synthetic binding, different instruction.
	OutcomeAborted Outcome = "aborted"
)

// Instruction returns the caller-visible guidance for a terminal outcome.
// Each outcome maps to a different next step: proceed, suspend, or stop.
func (o Outcome) Instruction() string {
	switch o {
	case OutcomeAnswered:
		return "The user wants to continue and provided instructions."
	case OutcomeDeclined:
		return "The user did not continue. Call pause(agent_id) to suspend and wait for resume."
	case OutcomeEmptyResume:
		return "The user resumed without new instructions. Call pause(agent_id) to suspend and wait for resume."
	case OutcomeTimedOut:
		return "Timed out waiting for the user response. You MUST NOT continue or produce further output. Immediately call pause(agent_id) and stop until resumed."
	case OutcomeAborted:
		return "The call was cancelled. Call pause(agent_id) to suspend and wait for resume."
	default:
		return ""
	}
}

// Result is the resolved end of a wait. Response and Files are set only
// for genuine (operator-authored) outcomes.
type Result struct {
	Outcome   Outcome
	RequestID string
	Response  *store.Response
	Files     []store.FileRef
}

// Config tunes a Coordinator.
type Config struct {
	// PollInterval between response lookups. Zero means
	// DefaultPollInterval.
	PollInterval time.Duration

	// Metrics is optional.
	Metrics *metrics.Collector

	// Tracer is optional; the global tracer provider is used when nil.
	Tracer trace.Tracer
}

// Coordinator issues requests and waits for their responses. Many
// sessions may wait concurrently; each wait is an independent polling
// loop with no shared state beyond the store.
type Coordinator struct {
	store        store.Store
	pollInterval time.Duration
	metrics      *metrics.Collector
	tracer       trace.Tracer
	logger       *zap.Logger
}

// New creates a Coordinator on top of a store.
func New(s store.Store, cfg Config, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("cueflow/coordinator")
	}
	return &Coordinator{
		store:        s,
		pollInterval: interval,
		metrics:      cfg.Metrics,
		tracer:       tracer,
		logger:       logger.With(zap.String("component", "coordinator")),
	}
}

// SubmitAndWait publishes a request and blocks until a response is bound,
// the timeout elapses, or ctx is cancelled. A zero timeout waits
// indefinitely (the pause path).
//
// Timeout and abort both run the synthetic-response path: insert an empty
// cancelled response, and if that insert loses the race to a genuine
// answer, return the genuine answer instead. This is what guarantees
// exactly one binding per request even when the operator answers at the
// same instant the wait gives up.
func (c *Coordinator) SubmitAndWait(ctx context.Context, agentID, prompt, payloadDoc string, timeout time.Duration) (*Result, error) {
	req := &store.Request{
		AgentID: agentID,
		Prompt:  prompt,
		Payload: payloadDoc,
	}
	if err := c.store.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	ctx, span := c.tracer.Start(ctx, "coordinator.submit_and_wait",
		trace.WithAttributes(
			attribute.String("request.id", req.RequestID),
			attribute.String("agent.id", agentID),
		))
	defer span.End()

	c.logger.Info("request created",
		zap.String("request_id", req.RequestID),
		zap.String("agent_id", agentID),
		zap.Duration("timeout", timeout),
	)
	if c.metrics != nil {
		c.metrics.RequestCreated()
	}

	start := time.Now()
	result, err := c.wait(ctx, req.RequestID, timeout)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	if c.metrics != nil {
		c.metrics.WaitResolved(string(result.Outcome), time.Since(start))
	}
	c.logger.Info("request resolved",
		zap.String("request_id", req.RequestID),
		zap.String("outcome", string(result.Outcome)),
		zap.Duration("waited", time.Since(start)),
	)
	return result, nil
}

// Pause publishes the indefinite-wait variant: a single-action confirm
// payload and no deadline.
func (c *Coordinator) Pause(ctx context.Context, agentID, prompt string) (*Result, error) {
	if prompt == "" {
		prompt = "Waiting for your confirmation. Click Continue when you are ready."
	}
	return c.SubmitAndWait(ctx, agentID, prompt, payload.PauseDocument, 0)
}

// wait polls for the response on a fixed interval until one appears, the
// deadline passes, or ctx is cancelled.
func (c *Coordinator) wait(ctx context.Context, requestID string, timeout time.Duration) (*Result, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		rsp, err := c.store.GetResponse(ctx, requestID)
		if err == nil {
			return c.resolveGenuine(ctx, requestID, rsp)
		}
		if !errors.Is(err, store.ErrNotFound) {
			// Cancellation can surface through the query itself when the
			// backend honors ctx. That is still an abort, not a store
			// failure, and must leave the request bound.
			if ctx.Err() != nil {
				return c.synthesize(context.WithoutCancel(ctx), requestID, OutcomeAborted)
			}
			return nil, fmt.Errorf("failed to poll response: %w", err)
		}

		select {
		case <-ctx.Done():
			return c.synthesize(context.WithoutCancel(ctx), requestID, OutcomeAborted)
		case <-deadline:
			return c.synthesize(ctx, requestID, OutcomeTimedOut)
		case <-ticker.C:
		}
	}
}

// synthesize terminates a wait without operator input: bind an empty
// cancelled response, or lose the race and surface the genuine one.
func (c *Coordinator) synthesize(ctx context.Context, requestID string, outcome Outcome) (*Result, error) {
	_, err := c.store.InsertResponse(ctx, requestID, store.UserResponse{}, true)
	if errors.Is(err, store.ErrAlreadyExists) {
		// The operator answered in the window between the last poll and
		// the synthetic insert. Their response is the binding one.
		if c.metrics != nil {
			c.metrics.BindingRaceLost()
		}
		c.logger.Debug("synthetic response lost the binding race",
			zap.String("request_id", requestID))
		rsp, err := c.store.GetResponse(ctx, requestID)
		if err != nil {
			return nil, fmt.Errorf("failed to re-read winning response: %w", err)
		}
		return c.resolveGenuine(ctx, requestID, rsp)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to bind synthetic response: %w", err)
	}

	if err := c.store.MarkStatus(ctx, requestID, store.StatusCancelled); err != nil {
		c.logger.Warn("failed to mark request cancelled",
			zap.String("request_id", requestID), zap.Error(err))
	}
	return &Result{Outcome: outcome, RequestID: requestID}, nil
}

// resolveGenuine classifies an operator-authored response and settles the
// request status. The status field is informational; the bound response
// row is what the outcome is derived from.
func (c *Coordinator) resolveGenuine(ctx context.Context, requestID string, rsp *store.Response) (*Result, error) {
	if rsp.Cancelled {
		if err := c.store.MarkStatus(ctx, requestID, store.StatusCancelled); err != nil {
			c.logger.Warn("failed to mark request cancelled",
				zap.String("request_id", requestID), zap.Error(err))
		}
		return &Result{Outcome: OutcomeDeclined, RequestID: requestID, Response: rsp}, nil
	}

	files, err := c.store.FilesForResponse(ctx, rsp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load response files: %w", err)
	}

	if err := c.store.MarkStatus(ctx, requestID, store.StatusCompleted); err != nil {
		c.logger.Warn("failed to mark request completed",
			zap.String("request_id", requestID), zap.Error(err))
	}

	if rsp.Response.Empty() && len(files) == 0 {
		return &Result{Outcome: OutcomeEmptyResume, RequestID: requestID, Response: rsp}, nil
	}
	return &Result{Outcome: OutcomeAnswered, RequestID: requestID, Response: rsp, Files: files}, nil
}
