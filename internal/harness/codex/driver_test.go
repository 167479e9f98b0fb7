package codex

import (
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawd-mascot/mascot/internal/harness"
)

func TestArgsNewThread(t *testing.T) {
	args := New().Args(harness.Invocation{
		Executable:      "/opt/mascot/mascot",
		SystemPrompt:    "Say \"hi\"\nthen stop",
		Model:           "gpt-5.2",
		ReasoningEffort: "high",
		WorkDir:         "/home/me/project",
		ImagePaths:      []string{"/tmp/a.jpg", "/tmp/b.jpg"},
		Prompt:          "what is on screen?",
	})

	assert.Equal(t, []string{
		"exec",
		"--json",
		"--full-auto",
		"--skip-git-repo-check",
		"--config", `model="gpt-5.2"`,
		"--config", `model_reasoning_effort="high"`,
		"--config", `mcp_servers.mascot.command="/opt/mascot/mascot"`,
		"--config", `mcp_servers.mascot.args=["mcp"]`,
		"--config", `developer_instructions="Say \"hi\"\nthen stop"`,
		"--cd", "/home/me/project",
		"--image", "/tmp/a.jpg",
		"--image", "/tmp/b.jpg",
		"what is on screen?",
	}, args)
}

func TestArgsResumeSkipsDeveloperInstructions(t *testing.T) {
	args := New().Args(harness.Invocation{
		ResumeID:     "thread-9",
		SystemPrompt: "ignored",
		Prompt:       "continue",
	})

	require.GreaterOrEqual(t, len(args), 3)
	assert.Equal(t, []string{"exec", "resume", "thread-9"}, args[:3])
	for _, arg := range args {
		assert.NotContains(t, arg, "developer_instructions")
	}
	assert.Equal(t, "continue", args[len(args)-1])
}

func TestArgsConfigValuesAreValidTOML(t *testing.T) {
	prompt := "line one\nC:\\Users\\me \"quoted\"\ttab"
	args := New().Args(harness.Invocation{SystemPrompt: prompt, Prompt: "p"})

	var found string
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			found = args[i+1]
		}
	}
	require.NotEmpty(t, found)

	var decoded struct {
		DeveloperInstructions string `toml:"developer_instructions"`
	}
	_, err := toml.Decode(found, &decoded)
	require.NoError(t, err)
	assert.Equal(t, prompt, decoded.DeveloperInstructions)
}

func TestEncodersRejectInput(t *testing.T) {
	d := New()
	assert.False(t, d.Interactive())

	_, err := d.EncodeUserMessage("hi", nil)
	assert.ErrorIs(t, err, harness.ErrNotInteractiveDriver)
	_, err = d.EncodeToolResult(harness.ToolResult{ToolUseID: "x"})
	assert.ErrorIs(t, err, harness.ErrNotInteractiveDriver)
}
