package claude

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/clawd-mascot/mascot/internal/harness"
)

type streamLine struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	Message   json.RawMessage `json:"message"`
	Result    string          `json:"result"`
	IsError   bool            `json:"is_error"`
}

type assistantMessage struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Parser decodes claude stream-json lines. It is stateless.
type Parser struct{}

// Parse decodes one line into zero or more events.
func (Parser) Parse(line []byte) ([]harness.Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, harness.ErrSkipLine
	}

	var decoded streamLine
	if err := json.Unmarshal(line, &decoded); err != nil {
		return nil, fmt.Errorf("claude: invalid JSON: %w", err)
	}

	switch decoded.Type {
	case "system":
		if decoded.SessionID == "" {
			return nil, nil
		}
		return []harness.Event{harness.SessionAnnounced{SessionID: decoded.SessionID}}, nil
	case "assistant":
		return parseAssistant(decoded.Message)
	case "user":
		// Echoed tool results and replayed user turns carry nothing for the frontend.
		return nil, nil
	case "result":
		return []harness.Event{parseResult(decoded)}, nil
	case "":
		return nil, fmt.Errorf("claude: missing type field")
	default:
		return nil, fmt.Errorf("claude: %w %q", harness.ErrUnknownEvent, decoded.Type)
	}
}

func parseAssistant(raw json.RawMessage) ([]harness.Event, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var message assistantMessage
	if err := json.Unmarshal(raw, &message); err != nil {
		return nil, fmt.Errorf("claude: invalid assistant message: %w", err)
	}

	events := make([]harness.Event, 0, len(message.Content))
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				events = append(events, harness.TextDelta{Text: block.Text})
			}
		case "tool_use":
			events = append(events, harness.ToolInvoked{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: harness.RawArguments(block.Input),
			})
		}
	}
	return events, nil
}

func parseResult(decoded streamLine) harness.Event {
	if decoded.Subtype == "success" && !decoded.IsError {
		return harness.TurnSucceeded{Text: decoded.Result, SessionID: decoded.SessionID}
	}
	reason := decoded.Result
	if reason == "" {
		reason = decoded.Subtype
	}
	if reason == "" {
		reason = "turn failed"
	}
	return harness.TurnFailed{Reason: reason, SessionID: decoded.SessionID}
}
