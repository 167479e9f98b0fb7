package harness

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies one supported assistant CLI backend.
type Kind string

const (
	// KindClaude is the stream-json CLI backend.
	KindClaude Kind = "claude"
	// KindCodex is the exec/JSON CLI backend.
	KindCodex Kind = "codex"
)

// Kinds lists supported backends in deterministic order.
func Kinds() []Kind {
	return []Kind{KindClaude, KindCodex}
}

// ParseKind validates a backend name.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindClaude:
		return KindClaude, nil
	case KindCodex:
		return KindCodex, nil
	default:
		return "", fmt.Errorf("Invalid backend mode: %s. Use 'claude' or 'codex'.", value) //nolint:staticcheck // user-facing message
	}
}

// Invocation is everything a driver needs to build one turn's argument vector.
type Invocation struct {
	// Executable is this program's own path, registered as the MCP tool server.
	Executable      string
	MCPConfigPath   string
	SkipPermissions bool
	AllowedTools    []string
	SystemPrompt    string
	ResumeID        string
	Model           string
	ReasoningEffort string
	WorkDir         string
	ImagePaths      []string
	Prompt          string
}

// Image is one attachment already re-encoded for transport.
type Image struct {
	MediaType string
	Data      []byte
}

// ToolResult is a correlated reply to a pending tool invocation.
type ToolResult struct {
	ToolUseID string
	Content   string
	IsError   bool
	// Structured is an optional machine-readable payload sent alongside Content.
	Structured any
	// FollowUp, when non-empty, is sent as a user text message after the result
	// so the backend continues its turn.
	FollowUp string
}

// Parser decodes one output line. Implementations may keep per-turn state.
type Parser interface {
	Parse(line []byte) ([]Event, error)
}

// Driver adapts one backend CLI to the normalized turn model.
type Driver interface {
	Kind() Kind
	// Interactive reports whether the child keeps reading stdin for the whole turn.
	Interactive() bool
	Args(inv Invocation) []string
	NewParser() Parser
	// EncodeUserMessage returns the newline-free initial message for interactive drivers.
	EncodeUserMessage(text string, images []Image) ([]byte, error)
	// EncodeToolResult returns one or more newline-free lines to write to stdin.
	EncodeToolResult(result ToolResult) ([][]byte, error)
}

// ErrNotInteractiveDriver is returned by encoders of drivers that never read stdin.
var ErrNotInteractiveDriver = errors.New("backend does not accept input on stdin")

// RawArguments returns v as JSON, or an empty object when v is empty.
func RawArguments(v json.RawMessage) json.RawMessage {
	if len(strings.TrimSpace(string(v))) == 0 {
		return json.RawMessage(`{}`)
	}
	return v
}
