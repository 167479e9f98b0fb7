package router

import "encoding/json"

// SessionInfo is the agent-session payload.
type SessionInfo struct {
	Backend   string `json:"backend"`
	SessionID string `json:"session_id"`
}

// ToolUse is the agent-tool-use payload, emitted for every tool invocation.
type ToolUse struct {
	ID    string          `json:"id"`
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

// PlanExitRequest asks the user to approve or reject a plan.
type PlanExitRequest struct {
	ToolUseID string `json:"tool_use_id"`
	Plan      string `json:"plan"`
}

// QuestionOption is one selectable answer.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Question is one multiple-choice prompt from the backend.
type Question struct {
	Question    string           `json:"question"`
	Header      string           `json:"header,omitempty"`
	Options     []QuestionOption `json:"options"`
	MultiSelect bool             `json:"multiSelect"`
}

// QuestionRequest is the agent-ask-question payload.
type QuestionRequest struct {
	ToolUseID string     `json:"tool_use_id"`
	Questions []Question `json:"questions"`
}

// SubagentStart announces a nested task.
type SubagentStart struct {
	ID           string `json:"id"`
	Description  string `json:"description,omitempty"`
	SubagentType string `json:"subagent_type,omitempty"`
}

// SubagentEnd closes a nested task at the turn boundary.
type SubagentEnd struct {
	ID string `json:"id"`
}

// Result is the agent-result payload.
type Result struct {
	Success   bool   `json:"success"`
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

// ErrorInfo is the agent-error payload.
type ErrorInfo struct {
	Error string `json:"error"`
}

type planInput struct {
	Plan string `json:"plan"`
}

type questionsInput struct {
	Questions []Question `json:"questions"`
}

type subagentInput struct {
	Description  string `json:"description"`
	SubagentType string `json:"subagent_type"`
}
