package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/cueflow/coordinator"
	"github.com/BaSui01/cueflow/naming"
	"github.com/BaSui01/cueflow/store"
)

// ProtocolReminder is appended to every resolved wait so the calling
// agent keeps checking in instead of finishing on its own.
const ProtocolReminder = "Protocol reminder: before ending your turn, always call cue(agent_id, ...) to ask whether there is anything else, and call pause(agent_id) when told to wait."

// ToolsConfig tunes the registered tools.
type ToolsConfig struct {
	// DefaultTimeout applies when a cue call does not pass
	// timeout_seconds. Zero means one hour.
	DefaultTimeout time.Duration
}

// Toolset binds the rendezvous operations to MCP tool handlers.
type Toolset struct {
	coord          *coordinator.Coordinator
	store          store.Store
	opener         coordinator.FileOpener
	defaultTimeout time.Duration
	logger         *zap.Logger
}

// NewToolset creates the tool bindings. opener may be nil when inline
// image resolution is not available.
func NewToolset(coord *coordinator.Coordinator, s store.Store, opener coordinator.FileOpener, cfg ToolsConfig, logger *zap.Logger) *Toolset {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = time.Hour
	}
	return &Toolset{
		coord:          coord,
		store:          s,
		opener:         opener,
		defaultTimeout: timeout,
		logger:         logger.With(zap.String("component", "tools")),
	}
}

// Register adds all tools to the server.
func (t *Toolset) Register(srv *Server) error {
	tools := []struct {
		def     *ToolDefinition
		handler ToolHandler
	}{
		{joinDefinition(), t.handleJoin},
		{recallDefinition(), t.handleRecall},
		{cueDefinition(), t.handleCue},
		{pauseDefinition(), t.handlePause},
	}
	for _, tool := range tools {
		if err := srv.RegisterTool(tool.def, tool.handler); err != nil {
			return fmt.Errorf("failed to register %s: %w", tool.def.Name, err)
		}
	}
	return nil
}

func joinDefinition() *ToolDefinition {
	return &ToolDefinition{
		Name:        "join",
		Description: "Obtain an agent identity for this session. Call once at the start, then pass the returned agent_id to cue and pause.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func recallDefinition() *ToolDefinition {
	return &ToolDefinition{
		Name:        "recall",
		Description: "Recover the agent identity used in an earlier session by searching past prompts. Falls back to a fresh identity when nothing matches.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"hints": map[string]any{
					"type":        "string",
					"description": "Text that appeared in an earlier prompt of this conversation",
				},
			},
			"required": []string{"hints"},
		},
	}
}

func cueDefinition() *ToolDefinition {
	return &ToolDefinition{
		Name:        "cue",
		Description: "Ask the user for input and wait for their answer. Blocks until the user responds or the timeout elapses.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"agent_id": map[string]any{
					"type":        "string",
					"description": "Identity obtained from join or recall",
				},
				"prompt": map[string]any{
					"type":        "string",
					"description": "Question or status to show the user",
				},
				"payload": map[string]any{
					"description": "Optional structured document: a choice, confirm or form object, or its JSON string",
				},
				"timeout_seconds": map[string]any{
					"type":        "number",
					"description": "How long to wait before giving up",
				},
			},
			"required": []string{"agent_id", "prompt"},
		},
	}
}

func pauseDefinition() *ToolDefinition {
	return &ToolDefinition{
		Name:        "pause",
		Description: "Suspend and wait indefinitely until the user resumes the conversation.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"agent_id": map[string]any{
					"type":        "string",
					"description": "Identity obtained from join or recall",
				},
				"prompt": map[string]any{
					"type":        "string",
					"description": "Optional text to show while paused",
				},
			},
			"required": []string{"agent_id"},
		},
	}
}

func (t *Toolset) handleJoin(ctx context.Context, args map[string]any) (any, error) {
	agentID := naming.Generate()
	t.logger.Info("agent joined", zap.String("agent_id", agentID))
	return textResult(fmt.Sprintf("Your agent_id is %q. Use it on every cue and pause call.\n\n%s", agentID, ProtocolReminder)), nil
}

func (t *Toolset) handleRecall(ctx context.Context, args map[string]any) (any, error) {
	hints, _ := args["hints"].(string)
	if strings.TrimSpace(hints) == "" {
		return errorResult("recall requires hints"), nil
	}

	agentID, found, err := naming.Recall(ctx, t.store, hints)
	if err != nil {
		return errorResult(fmt.Sprintf("recall failed: %v", err)), nil
	}

	if found {
		t.logger.Info("agent recalled", zap.String("agent_id", agentID))
		return textResult(fmt.Sprintf("Recovered agent_id %q from an earlier session.\n\n%s", agentID, ProtocolReminder)), nil
	}
	t.logger.Info("recall missed, generated fresh identity", zap.String("agent_id", agentID))
	return textResult(fmt.Sprintf("No earlier session matched; your fresh agent_id is %q.\n\n%s", agentID, ProtocolReminder)), nil
}

func (t *Toolset) handleCue(ctx context.Context, args map[string]any) (any, error) {
	agentID, _ := args["agent_id"].(string)
	prompt, _ := args["prompt"].(string)
	if agentID == "" || strings.TrimSpace(prompt) == "" {
		return errorResult("cue requires agent_id and prompt"), nil
	}

	payloadDoc, err := payloadArgument(args["payload"])
	if err != nil {
		return errorResult(fmt.Sprintf("invalid payload: %v", err)), nil
	}

	timeout := t.defaultTimeout
	if secs, ok := args["timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}

	res, err := t.coord.SubmitAndWait(ctx, agentID, prompt, payloadDoc, timeout)
	if err != nil {
		return errorResult(fmt.Sprintf("cue failed: %v", err)), nil
	}
	return t.resultPayload(res), nil
}

func (t *Toolset) handlePause(ctx context.Context, args map[string]any) (any, error) {
	agentID, _ := args["agent_id"].(string)
	if agentID == "" {
		return errorResult("pause requires agent_id"), nil
	}
	prompt, _ := args["prompt"].(string)

	res, err := t.coord.Pause(ctx, agentID, prompt)
	if err != nil {
		return errorResult(fmt.Sprintf("pause failed: %v", err)), nil
	}
	return t.resultPayload(res), nil
}

// payloadArgument normalizes the payload argument: absent means none, a
// string is taken verbatim, an object is re-encoded.
func payloadArgument(raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// resultPayload converts a resolved wait into MCP tool-call content.
func (t *Toolset) resultPayload(res *coordinator.Result) map[string]any {
	contents := coordinator.Contents(res, t.opener)

	blocks := make([]map[string]any, 0, len(contents)+1)
	for _, c := range contents {
		switch c.Type {
		case coordinator.ContentImage:
			blocks = append(blocks, map[string]any{
				"type":     "image",
				"data":     c.Data,
				"mimeType": c.MimeType,
			})
		default:
			blocks = append(blocks, map[string]any{
				"type": "text",
				"text": c.Text,
			})
		}
	}
	blocks = append(blocks, map[string]any{
		"type": "text",
		"text": ProtocolReminder,
	})
	return map[string]any{"content": blocks}
}

func textResult(text string) map[string]any {
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	}
}

// errorResult reports a tool-level failure as content rather than a
// JSON-RPC error, so the calling agent sees the message and can retry.
func errorResult(text string) map[string]any {
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
		"isError": true,
	}
}
