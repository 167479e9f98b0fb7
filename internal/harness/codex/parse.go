package codex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clawd-mascot/mascot/internal/harness"
)

type streamLine struct {
	Type     string          `json:"type"`
	ThreadID string          `json:"thread_id"`
	Item     *item           `json:"item"`
	Error    json.RawMessage `json:"error"`
	Message  string          `json:"message"`
}

type item struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	ItemType  string          `json:"item_type"`
	Text      string          `json:"text"`
	Content   json.RawMessage `json:"content"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Server    string          `json:"server"`
	Tool      string          `json:"tool"`
	Command   string          `json:"command"`
}

func (it item) kind() string {
	if it.Type != "" {
		return it.Type
	}
	return it.ItemType
}

// Parser decodes codex exec --json lines for one turn. It accumulates
// assistant text for the final result and must not be reused across turns.
type Parser struct {
	text      strings.Builder
	seenTools map[string]struct{}
	// itemText is the text already emitted per message item id.
	itemText map[string]string
}

// NewParser returns a fresh per-turn parser.
func NewParser() *Parser {
	return &Parser{seenTools: map[string]struct{}{}, itemText: map[string]string{}}
}

// Parse decodes one line into zero or more events.
func (p *Parser) Parse(line []byte) ([]harness.Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, harness.ErrSkipLine
	}

	var decoded streamLine
	if err := json.Unmarshal(line, &decoded); err != nil {
		return nil, fmt.Errorf("codex: invalid JSON: %w", err)
	}

	switch decoded.Type {
	case "thread.started":
		if decoded.ThreadID == "" {
			return nil, nil
		}
		return []harness.Event{harness.SessionAnnounced{SessionID: decoded.ThreadID}}, nil
	case "turn.started":
		return nil, nil
	case "turn.completed":
		return []harness.Event{harness.TurnSucceeded{Text: p.text.String()}}, nil
	case "turn.failed":
		return []harness.Event{harness.TurnFailed{Reason: errorText(decoded.Error, "turn failed")}}, nil
	case "error":
		message := decoded.Message
		if message == "" {
			message = errorText(decoded.Error, "unknown error")
		}
		return []harness.Event{harness.FatalError{Message: message}}, nil
	case "item.started", "item.updated":
		return p.itemEvents(decoded.Item, false), nil
	case "item.completed":
		return p.itemEvents(decoded.Item, true), nil
	case "":
		return nil, fmt.Errorf("codex: missing type field")
	default:
		return nil, fmt.Errorf("codex: %w %q", harness.ErrUnknownEvent, decoded.Type)
	}
}

func (p *Parser) itemEvents(it *item, completed bool) []harness.Event {
	if it == nil {
		return nil
	}
	switch it.kind() {
	case "agent_message", "message":
		return p.textEvents(it.ID, it.messageText(), completed)
	case "tool_call":
		return p.toolEvent(it.ID, it.Name, normalizeArguments(it.Arguments))
	case "mcp_tool_call":
		return p.toolEvent(it.ID, "mcp__"+it.Server+"__"+it.Tool, normalizeArguments(it.Arguments))
	case "command_execution":
		args, _ := json.Marshal(map[string]string{"command": it.Command})
		return p.toolEvent(it.ID, "command_execution", args)
	default:
		// reasoning, tool_result, file_change and friends carry nothing for the frontend.
		return nil
	}
}

// textEvents emits each message item once. Codex may repeat an item's text on
// completion; only a suffix extending what was already emitted for that id is
// new. Items without an id fall back to comparing against the accumulated text.
func (p *Parser) textEvents(id, text string, completed bool) []harness.Event {
	if text == "" {
		return nil
	}
	if id == "" {
		if completed && strings.Contains(p.text.String(), text) {
			return nil
		}
		return p.emitText(text)
	}
	prev, seen := p.itemText[id]
	if !seen {
		p.itemText[id] = text
		return p.emitText(text)
	}
	if len(text) <= len(prev) || !strings.HasPrefix(text, prev) {
		return nil
	}
	p.itemText[id] = text
	return p.emitText(text[len(prev):])
}

func (p *Parser) emitText(text string) []harness.Event {
	p.text.WriteString(text)
	return []harness.Event{harness.TextDelta{Text: text}}
}

// toolEvent reports each tool call once even though codex announces it on start and completion.
func (p *Parser) toolEvent(id, name string, args json.RawMessage) []harness.Event {
	if id != "" {
		if _, seen := p.seenTools[id]; seen {
			return nil
		}
		p.seenTools[id] = struct{}{}
	}
	return []harness.Event{harness.ToolInvoked{ID: id, Name: name, Arguments: harness.RawArguments(args)}}
}

func (it item) messageText() string {
	if it.Text != "" {
		return it.Text
	}
	if len(it.Content) == 0 {
		return ""
	}
	var plain string
	if err := json.Unmarshal(it.Content, &plain); err == nil {
		return plain
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(it.Content, &blocks); err != nil {
		return ""
	}
	var b strings.Builder
	for _, block := range blocks {
		switch block.Type {
		case "text", "input_text", "output_text":
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// normalizeArguments unwraps arguments sent as a JSON-encoded string.
func normalizeArguments(raw json.RawMessage) json.RawMessage {
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return raw
	}
	if json.Valid([]byte(encoded)) {
		return json.RawMessage(encoded)
	}
	wrapped, err := json.Marshal(map[string]string{"input": encoded})
	if err != nil {
		return raw
	}
	return wrapped
}

// errorText accepts either a bare string or an object with a message field.
func errorText(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 || string(raw) == "null" {
		return fallback
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil && plain != "" {
		return plain
	}
	var structured struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &structured); err == nil && structured.Message != "" {
		return structured.Message
	}
	return fallback
}
