package mcp

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ToolHandler executes one tool call.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// Server is a tools-only MCP server: a registry of tool handlers behind
// the JSON-RPC 2.0 dispatch loop.
type Server struct {
	info ServerInfo

	tools        map[string]*ToolDefinition
	toolOrder    []string
	toolHandlers map[string]ToolHandler
	toolsMu      sync.RWMutex

	logger *zap.Logger
}

// NewServer creates an MCP server.
func NewServer(name, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		info: ServerInfo{
			Name:            name,
			Version:         version,
			ProtocolVersion: MCPVersion,
			Capabilities: ServerCapabilities{
				Tools:   true,
				Logging: true,
			},
		},
		tools:        make(map[string]*ToolDefinition),
		toolHandlers: make(map[string]ToolHandler),
		logger:       logger.With(zap.String("component", "mcp_server")),
	}
}

// GetServerInfo returns the handshake identity.
func (s *Server) GetServerInfo() ServerInfo {
	return s.info
}

// RegisterTool adds a tool and its handler.
func (s *Server) RegisterTool(tool *ToolDefinition, handler ToolHandler) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}
	if handler == nil {
		return fmt.Errorf("tool handler is required")
	}

	s.toolsMu.Lock()
	defer s.toolsMu.Unlock()

	if _, exists := s.tools[tool.Name]; !exists {
		s.toolOrder = append(s.toolOrder, tool.Name)
	}
	s.tools[tool.Name] = tool
	s.toolHandlers[tool.Name] = handler

	s.logger.Info("tool registered", zap.String("name", tool.Name))
	return nil
}

// ListTools returns the registered tools in registration order.
func (s *Server) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	s.toolsMu.RLock()
	defer s.toolsMu.RUnlock()

	result := make([]ToolDefinition, 0, len(s.toolOrder))
	for _, name := range s.toolOrder {
		result = append(result, *s.tools[name])
	}
	return result, nil
}

// CallTool runs a tool handler. No timeout is imposed here: the wait
// tools block for as long as their own deadline (or the operator) allows.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	s.toolsMu.RLock()
	handler, ok := s.toolHandlers[name]
	s.toolsMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}

	s.logger.Debug("calling tool", zap.String("name", name))

	result, err := handler(ctx, args)
	if err != nil {
		s.logger.Error("tool call failed",
			zap.String("name", name),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Debug("tool call succeeded", zap.String("name", name))
	return result, nil
}

// HandleMessage dispatches an incoming JSON-RPC 2.0 request and returns
// the response. Notifications (messages without an ID) return a nil
// response.
func (s *Server) HandleMessage(ctx context.Context, msg *MCPMessage) (*MCPMessage, error) {
	if msg == nil {
		return NewMCPError(nil, ErrorCodeInvalidRequest, "empty message", nil), nil
	}

	s.logger.Debug("handling message",
		zap.String("method", msg.Method),
		zap.Any("id", msg.ID),
	)

	if msg.ID == nil {
		s.handleNotification(msg)
		return nil, nil
	}

	result, mcpErr := s.dispatch(ctx, msg.Method, msg.Params)
	if mcpErr != nil {
		return &MCPMessage{
			JSONRPC: "2.0",
			ID:      msg.ID,
			Error:   mcpErr,
		}, nil
	}
	return NewMCPResponse(msg.ID, result), nil
}

func (s *Server) handleNotification(msg *MCPMessage) {
	switch msg.Method {
	case "notifications/initialized":
		s.logger.Info("client initialized notification received")
	default:
		s.logger.Debug("unhandled notification", zap.String("method", msg.Method))
	}
}

func (s *Server) dispatch(ctx context.Context, method string, params map[string]any) (any, *MCPError) {
	switch method {
	case "initialize":
		return s.handleInitialize(params)
	case "tools/list":
		return s.handleToolsList(ctx)
	case "tools/call":
		return s.handleToolsCall(ctx, params)
	case "ping":
		return map[string]any{}, nil
	default:
		return nil, &MCPError{
			Code:    ErrorCodeMethodNotFound,
			Message: fmt.Sprintf("method not found: %s", method),
		}
	}
}

func (s *Server) handleInitialize(_ map[string]any) (any, *MCPError) {
	return map[string]any{
		"protocolVersion": MCPVersion,
		"capabilities":    s.info.Capabilities,
		"serverInfo": map[string]any{
			"name":    s.info.Name,
			"version": s.info.Version,
		},
	}, nil
}

func (s *Server) handleToolsList(ctx context.Context) (any, *MCPError) {
	tools, err := s.ListTools(ctx)
	if err != nil {
		return nil, &MCPError{Code: ErrorCodeInternalError, Message: err.Error()}
	}
	return map[string]any{"tools": tools}, nil
}

func (s *Server) handleToolsCall(ctx context.Context, params map[string]any) (any, *MCPError) {
	name, _ := params["name"].(string)
	if name == "" {
		return nil, &MCPError{Code: ErrorCodeInvalidParams, Message: "missing required parameter: name"}
	}

	args, _ := params["arguments"].(map[string]any)

	result, err := s.CallTool(ctx, name, args)
	if err != nil {
		return nil, &MCPError{Code: ErrorCodeInternalError, Message: err.Error()}
	}
	return result, nil
}

// Serve runs the message loop over the given transport until ctx is
// cancelled or the transport fails.
func (s *Server) Serve(ctx context.Context, transport Transport) error {
	if transport == nil {
		return fmt.Errorf("transport cannot be nil")
	}

	s.logger.Info("MCP server starting",
		zap.String("name", s.info.Name),
		zap.String("version", s.info.Version),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("MCP server stopping: context cancelled")
			return ctx.Err()
		default:
		}

		msg, err := transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("MCP server stopping: context cancelled")
				return ctx.Err()
			}
			s.logger.Error("transport receive error", zap.Error(err))
			resp := NewMCPError(nil, ErrorCodeParseError, "failed to receive message", nil)
			if sendErr := transport.Send(ctx, resp); sendErr != nil {
				s.logger.Error("failed to send error response", zap.Error(sendErr))
			}
			continue
		}

		if msg.JSONRPC != "" && msg.JSONRPC != "2.0" {
			resp := NewMCPError(msg.ID, ErrorCodeInvalidRequest, "unsupported JSON-RPC version", nil)
			if sendErr := transport.Send(ctx, resp); sendErr != nil {
				s.logger.Error("failed to send error response", zap.Error(sendErr))
			}
			continue
		}

		resp, handleErr := s.HandleMessage(ctx, msg)
		if handleErr != nil {
			s.logger.Error("HandleMessage returned unexpected error", zap.Error(handleErr))
			continue
		}
		if resp == nil {
			continue
		}

		if sendErr := transport.Send(ctx, resp); sendErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("failed to send response", zap.Error(sendErr))
		}
	}
}
