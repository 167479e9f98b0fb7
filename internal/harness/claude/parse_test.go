package claude

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawd-mascot/mascot/internal/harness"
)

func TestParseResultSuccess(t *testing.T) {
	events, err := Parser{}.Parse([]byte(`{"type":"result","subtype":"success","result":"done","session_id":"abc"}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, harness.TurnSucceeded{Text: "done", SessionID: "abc"}, events[0])
}

func TestParseResultFailure(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{name: "subtype only", line: `{"type":"result","subtype":"error_max_turns","session_id":"s"}`, want: "error_max_turns"},
		{name: "is_error with text", line: `{"type":"result","subtype":"success","is_error":true,"result":"API Error: overloaded"}`, want: "API Error: overloaded"},
		{name: "bare", line: `{"type":"result"}`, want: "turn failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := Parser{}.Parse([]byte(tt.line))
			require.NoError(t, err)
			require.Len(t, events, 1)
			failed, ok := events[0].(harness.TurnFailed)
			require.True(t, ok, "event = %#v", events[0])
			assert.Equal(t, tt.want, failed.Reason)
		})
	}
}

func TestParseAssistantTextAndTools(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[
		{"type":"text","text":"hi"},
		{"type":"thinking","thinking":"hmm"},
		{"type":"tool_use","id":"toolu_1","name":"mcp__mascot__set_emotion","input":{"emotion":"happy"}},
		{"type":"tool_use","id":"toolu_2","name":"ExitPlanMode"}
	]}}`
	events, err := Parser{}.Parse([]byte(line))
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, harness.TextDelta{Text: "hi"}, events[0])
	tool := events[1].(harness.ToolInvoked)
	assert.Equal(t, "toolu_1", tool.ID)
	assert.Equal(t, "mcp__mascot__set_emotion", tool.Name)
	assert.JSONEq(t, `{"emotion":"happy"}`, string(tool.Arguments))
	assert.Equal(t, json.RawMessage(`{}`), events[2].(harness.ToolInvoked).Arguments)
}

func TestParseSystemAnnouncesSession(t *testing.T) {
	events, err := Parser{}.Parse([]byte(`{"type":"system","subtype":"init","session_id":"s-42"}`))
	require.NoError(t, err)
	assert.Equal(t, []harness.Event{harness.SessionAnnounced{SessionID: "s-42"}}, events)

	events, err = Parser{}.Parse([]byte(`{"type":"system","subtype":"compact_boundary"}`))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseUserLinesAreIgnored(t *testing.T) {
	events, err := Parser{}.Parse([]byte(`{"type":"user","message":{"role":"user","content":"plain string"}}`))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseRejections(t *testing.T) {
	_, err := Parser{}.Parse([]byte(`{"type":"nonsense"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, harness.ErrUnknownEvent))

	_, err = Parser{}.Parse([]byte(`   `))
	assert.ErrorIs(t, err, harness.ErrSkipLine)

	_, err = Parser{}.Parse([]byte(`{not json`))
	require.Error(t, err)

	_, err = Parser{}.Parse([]byte(`{"subtype":"success"}`))
	require.Error(t, err)
}
