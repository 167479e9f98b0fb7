package claude

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/clawd-mascot/mascot/internal/harness"
)

// Driver runs the claude CLI in bidirectional stream-json mode.
type Driver struct{}

// New constructs a claude driver.
func New() *Driver {
	return &Driver{}
}

// Kind implements harness.Driver.
func (d *Driver) Kind() harness.Kind {
	return harness.KindClaude
}

// Interactive implements harness.Driver. The initial message and every reply go over stdin.
func (d *Driver) Interactive() bool {
	return true
}

// Args builds the argument vector. The prompt travels over stdin, not argv.
func (d *Driver) Args(inv harness.Invocation) []string {
	b := NewCommandBuilder().
		Print().
		WithStreamingInput().
		WithStreamingOutput().
		WithMCPConfig(inv.MCPConfigPath)
	if inv.SkipPermissions {
		b.WithSkipPermissions()
	} else {
		b.WithAllowedTools(inv.AllowedTools...)
	}
	return b.
		WithSystemPrompt(inv.SystemPrompt).
		WithResume(inv.ResumeID).
		WithModel(inv.Model).
		Args()
}

// NewParser implements harness.Driver.
func (d *Driver) NewParser() harness.Parser {
	return Parser{}
}

type userEnvelope struct {
	Type          string      `json:"type"`
	Message       userMessage `json:"message"`
	ToolUseResult any         `json:"tool_use_result,omitempty"`
}

type userMessage struct {
	Role    string         `json:"role"`
	Content []messageBlock `json:"content"`
}

type messageBlock struct {
	Type      string       `json:"type"`
	Text      string       `json:"text,omitempty"`
	Source    *imageSource `json:"source,omitempty"`
	ToolUseID string       `json:"tool_use_id,omitempty"`
	Content   *string      `json:"content,omitempty"`
	IsError   bool         `json:"is_error,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// EncodeUserMessage builds the initial user message: one text block, then one block per image.
func (d *Driver) EncodeUserMessage(text string, images []harness.Image) ([]byte, error) {
	blocks := make([]messageBlock, 0, len(images)+1)
	if strings.TrimSpace(text) != "" {
		blocks = append(blocks, messageBlock{Type: "text", Text: text})
	}
	for i, img := range images {
		if len(img.Data) == 0 {
			return nil, fmt.Errorf("image %d is empty", i)
		}
		blocks = append(blocks, messageBlock{
			Type: "image",
			Source: &imageSource{
				Type:      "base64",
				MediaType: img.MediaType,
				Data:      base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}
	if len(blocks) == 0 {
		return nil, errors.New("message has neither text nor images")
	}
	return json.Marshal(userEnvelope{Type: "user", Message: userMessage{Role: "user", Content: blocks}})
}

// EncodeToolResult builds the tool_result line and, when FollowUp is set, a user text line after it.
func (d *Driver) EncodeToolResult(result harness.ToolResult) ([][]byte, error) {
	if strings.TrimSpace(result.ToolUseID) == "" {
		return nil, errors.New("tool_use_id is required")
	}
	content := result.Content
	first, err := json.Marshal(userEnvelope{
		Type: "user",
		Message: userMessage{Role: "user", Content: []messageBlock{{
			Type:      "tool_result",
			ToolUseID: result.ToolUseID,
			Content:   &content,
			IsError:   result.IsError,
		}}},
		ToolUseResult: result.Structured,
	})
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}

	lines := [][]byte{first}
	if strings.TrimSpace(result.FollowUp) != "" {
		followUp, err := d.EncodeUserMessage(result.FollowUp, nil)
		if err != nil {
			return nil, err
		}
		lines = append(lines, followUp)
	}
	return lines, nil
}
