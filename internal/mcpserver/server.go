// Package mcpserver is the stdio MCP tool server the backend CLI calls back
// into for mascot control.
package mcpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

const maxLineBytes = 16 << 20

const instructions = "Tools for controlling the desktop mascot. Use set_emotion to show feelings, move_to to walk across the screen, and capture_screenshot to look at the user's screen."

// Server answers JSON-RPC 2.0 requests, one per line.
type Server struct {
	name     string
	version  string
	registry *Registry
	logger   *log.Logger

	writeMu sync.Mutex
}

// NewServer builds a server over registry.
func NewServer(name, version string, registry *Registry, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Server{name: name, version: version, registry: registry, logger: logger}
}

// Serve reads requests from in until EOF or ctx is done and writes responses
// to out. Notifications get no response.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read request: %w", err)
					}
				default:
				}
				return nil
			}
			resp := s.Handle(ctx, line)
			if resp == nil {
				continue
			}
			if err := s.write(out, resp); err != nil {
				return err
			}
		}
	}
}

// Handle processes one raw line and returns the encoded response, or nil for
// notifications and blank lines.
func (s *Server) Handle(ctx context.Context, line []byte) []byte {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.Warn("mcp: unparseable request", "error", err)
		return encode(response{JSONRPC: "2.0", ID: json.RawMessage("null"), Error: &rpcError{Code: codeParseError, Message: "parse error"}})
	}
	if req.JSONRPC != "2.0" || strings.TrimSpace(req.Method) == "" {
		if req.isNotification() {
			return nil
		}
		return encode(response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeInvalidRequest, Message: "invalid request"}})
	}

	result, rpcErr := s.dispatch(ctx, req)
	if req.isNotification() {
		return nil
	}
	resp := response{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		if result == nil {
			result = struct{}{}
		}
		resp.Result = result
	}
	return encode(resp)
}

func (s *Server) dispatch(ctx context.Context, req request) (any, *rpcError) {
	switch req.Method {
	case "initialize":
		var params initializeParams
		if len(req.Params) > 0 {
			_ = json.Unmarshal(req.Params, &params)
		}
		version := strings.TrimSpace(params.ProtocolVersion)
		if version == "" {
			version = ProtocolVersion
		}
		s.logger.Info("mcp: initialize", "protocol_version", version)
		return initializeResult{
			ProtocolVersion: version,
			Capabilities:    serverCapabilities{Tools: map[string]any{}},
			ServerInfo:      serverInfo{Name: s.name, Version: s.version},
			Instructions:    instructions,
		}, nil
	case "notifications/initialized", "notifications/cancelled":
		return nil, nil
	case "ping":
		return struct{}{}, nil
	case "tools/list":
		return toolsListResult{Tools: s.registry.Definitions()}, nil
	case "tools/call":
		var params toolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil || strings.TrimSpace(params.Name) == "" {
			return nil, &rpcError{Code: codeInvalidParams, Message: "tools/call requires a tool name"}
		}
		s.logger.Info("mcp: tool call", "tool", params.Name)
		result, err := s.registry.Call(ctx, params.Name, params.Arguments)
		if err != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
		}
		return result, nil
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
}

func (s *Server) write(out io.Writer, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	payload = append(payload, '\n')
	if _, err := out.Write(payload); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

func encode(resp response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(response{
			JSONRPC: "2.0",
			ID:      resp.ID,
			Error:   &rpcError{Code: codeInternalError, Message: err.Error()},
		})
	}
	return data
}
