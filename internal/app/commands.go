package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/clawd-mascot/mascot/internal/harness"
)

// ErrUnknownCommand is returned by Handle for unsupported command names.
var ErrUnknownCommand = errors.New("unknown command")

type sendMessageParams struct {
	Message string   `json:"message"`
	Images  []string `json:"images"`
}

type pathParams struct {
	Path string `json:"path"`
}

type modeParams struct {
	Mode string `json:"mode"`
}

type planExitParams struct {
	ToolUseID string `json:"tool_use_id"`
	Approved  bool   `json:"approved"`
	Feedback  string `json:"feedback"`
}

type questionParams struct {
	ToolUseID string            `json:"tool_use_id"`
	Answers   map[string]string `json:"answers"`
}

type toolResultParams struct {
	ToolUseID  string          `json:"tool_use_id"`
	Content    string          `json:"content"`
	IsError    bool            `json:"is_error"`
	Structured json.RawMessage `json:"structured,omitempty"`
}

// SendResult is the send_agent_message result.
type SendResult struct {
	TurnID string `json:"turn_id"`
}

// Handle runs one named frontend command with JSON params.
func (a *App) Handle(ctx context.Context, command string, params json.RawMessage) (any, error) {
	switch strings.TrimSpace(command) {
	case "send_agent_message":
		var p sendMessageParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		turnID, err := a.SendMessage(ctx, p.Message, p.Images)
		if err != nil {
			return nil, err
		}
		return SendResult{TurnID: turnID}, nil
	case "stop_agent", "stop_sidecar":
		return nil, a.Stop(ctx)
	case "clear_agent_session":
		a.ClearSession()
		return nil, nil
	case "clear_all_sessions":
		a.ClearAllSessions()
		return nil, nil
	case "clear_claude_session":
		a.ClearBackendSession(harness.KindClaude)
		return nil, nil
	case "clear_codex_session":
		a.ClearBackendSession(harness.KindCodex)
		return nil, nil
	case "get_session_id":
		return optional(a.SessionID(harness.KindClaude)), nil
	case "get_codex_session_id":
		return optional(a.SessionID(harness.KindCodex)), nil
	case "get_backend_mode":
		return string(a.Backend()), nil
	case "set_backend_mode":
		var p modeParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return nil, a.SetBackend(p.Mode)
	case "set_sidecar_cwd", "set_working_directory":
		var p pathParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return nil, a.SetWorkingDirectory(p.Path)
	case "get_sidecar_cwd", "get_working_directory":
		return optional(a.WorkingDirectory()), nil
	case "get_actual_cwd":
		return a.ActualWorkingDirectory(), nil
	case "get_recent_cwds":
		return a.RecentDirectories(), nil
	case "is_dev_mode":
		return a.Modes().Dev, nil
	case "is_supiki_mode":
		return a.Modes().Persona, nil
	case "get_agent_state":
		return string(a.Phase()), nil
	case "check_claude_cli":
		return a.checkVersion(ctx, harness.KindClaude)
	case "check_codex_cli":
		return a.checkVersion(ctx, harness.KindCodex)
	case "respond_to_plan_exit":
		var p planExitParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return nil, a.RespondPlanExit(p.ToolUseID, p.Approved, p.Feedback)
	case "answer_agent_question":
		var p questionParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return nil, a.RespondQuestion(p.ToolUseID, p.Answers)
	case "send_tool_result":
		var p toolResultParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		result := harness.ToolResult{ToolUseID: p.ToolUseID, Content: p.Content, IsError: p.IsError}
		if len(p.Structured) > 0 && string(p.Structured) != "null" {
			result.Structured = p.Structured
		}
		return nil, a.SendToolResult(result)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

func (a *App) checkVersion(ctx context.Context, kind harness.Kind) (any, error) {
	availability, err := a.CheckCLI(ctx, string(kind))
	if err != nil {
		return nil, err
	}
	if !availability.Available {
		return nil, errors.New(availability.Message)
	}
	return availability.Version, nil
}

func decode(params json.RawMessage, target any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, target); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// optional maps "" to a JSON null.
func optional(value string) any {
	if value == "" {
		return nil
	}
	return value
}
