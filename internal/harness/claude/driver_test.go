package claude

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawd-mascot/mascot/internal/harness"
)

func TestArgsAllowListPolicy(t *testing.T) {
	args := New().Args(harness.Invocation{
		MCPConfigPath: "/tmp/mascot-mcp.json",
		AllowedTools:  []string{"mcp__mascot__set_emotion", "mcp__mascot__move_to"},
		SystemPrompt:  "You are Clawd.",
		ResumeID:      "sess-1",
		Prompt:        "ignored on argv",
	})

	assert.Equal(t, []string{
		"-p",
		"--input-format", "stream-json",
		"--output-format", "stream-json", "--verbose",
		"--mcp-config", "/tmp/mascot-mcp.json",
		"--allowedTools", "mcp__mascot__set_emotion", "mcp__mascot__move_to",
		"--system-prompt", "You are Clawd.",
		"--resume", "sess-1",
	}, args)
}

func TestArgsSkipPermissionsExcludesAllowList(t *testing.T) {
	args := New().Args(harness.Invocation{
		SkipPermissions: true,
		AllowedTools:    []string{"mcp__mascot__set_emotion"},
		Model:           "sonnet",
	})

	assert.Contains(t, args, "--dangerously-skip-permissions")
	assert.NotContains(t, args, "--allowedTools")
	assert.NotContains(t, args, "--resume")
	assertAdjacent(t, args, "--model", "sonnet")
}

func TestArgsPermutationsKeepPairsAdjacent(t *testing.T) {
	for _, skip := range []bool{false, true} {
		for _, resume := range []string{"", "abc"} {
			for _, prompt := range []string{"", "be nice"} {
				args := New().Args(harness.Invocation{
					SkipPermissions: skip,
					AllowedTools:    []string{"t1"},
					ResumeID:        resume,
					SystemPrompt:    prompt,
					MCPConfigPath:   "/cfg.json",
				})
				assertAdjacent(t, args, "--output-format", "stream-json")
				assertAdjacent(t, args, "--input-format", "stream-json")
				assertAdjacent(t, args, "--mcp-config", "/cfg.json")
				if resume != "" {
					assertAdjacent(t, args, "--resume", resume)
				}
				if prompt != "" {
					assertAdjacent(t, args, "--system-prompt", prompt)
				}
				if skip {
					assert.Contains(t, args, "--dangerously-skip-permissions")
				} else {
					assertAdjacent(t, args, "--allowedTools", "t1")
				}
			}
		}
	}
}

func TestBuilderPositionalPrompt(t *testing.T) {
	args := NewCommandBuilder().Print().WithStreamingOutput().WithPrompt("hello").Args()
	assert.Equal(t, "hello", args[len(args)-1])
}

func TestEncodeUserMessageWithImage(t *testing.T) {
	line, err := New().EncodeUserMessage("look", []harness.Image{{MediaType: "image/jpeg", Data: []byte{0xff, 0xd8}}})
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type":"user",
		"message":{"role":"user","content":[
			{"type":"text","text":"look"},
			{"type":"image","source":{"type":"base64","media_type":"image/jpeg","data":"/9g="}}
		]}
	}`, string(line))
}

func TestEncodeUserMessageRejectsEmpty(t *testing.T) {
	_, err := New().EncodeUserMessage("  ", nil)
	require.Error(t, err)
}

func TestEncodeToolResultWithFollowUp(t *testing.T) {
	lines, err := New().EncodeToolResult(harness.ToolResult{
		ToolUseID:  "toolu_1",
		Content:    "User rejected the plan: too risky",
		IsError:    true,
		Structured: map[string]any{"approved": false},
		FollowUp:   "too risky",
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)

	assert.JSONEq(t, `{
		"type":"user",
		"message":{"role":"user","content":[
			{"type":"tool_result","tool_use_id":"toolu_1","content":"User rejected the plan: too risky","is_error":true}
		]},
		"tool_use_result":{"approved":false}
	}`, string(lines[0]))

	var followUp map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &followUp))
	assert.Equal(t, "user", followUp["type"])
}

func TestEncodeToolResultKeepsEmptyContent(t *testing.T) {
	lines, err := New().EncodeToolResult(harness.ToolResult{ToolUseID: "toolu_2"})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, string(lines[0]), `"content":""`)
	assert.NotContains(t, string(lines[0]), "tool_use_result")
}

func TestEncodeToolResultRequiresID(t *testing.T) {
	_, err := New().EncodeToolResult(harness.ToolResult{Content: "x"})
	require.Error(t, err)
}

func assertAdjacent(t *testing.T, args []string, flag, value string) {
	t.Helper()
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			assert.Equal(t, value, args[i+1], "value after %s", flag)
			return
		}
	}
	t.Fatalf("flag %s not found in %v", flag, args)
}
