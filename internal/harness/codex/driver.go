package codex

import (
	"github.com/clawd-mascot/mascot/internal/harness"
)

// Driver runs "codex exec" once per turn. The prompt goes on argv and stdin is unused.
type Driver struct{}

// New constructs a codex driver.
func New() *Driver {
	return &Driver{}
}

// Kind implements harness.Driver.
func (d *Driver) Kind() harness.Kind {
	return harness.KindCodex
}

// Interactive implements harness.Driver.
func (d *Driver) Interactive() bool {
	return false
}

// Args builds the argument vector. Developer instructions are only sent when
// starting a new thread; a resumed thread keeps the ones it was created with.
func (d *Driver) Args(inv harness.Invocation) []string {
	b := NewCommandBuilder().
		WithResume(inv.ResumeID).
		WithJSON().
		WithFullAuto().
		WithSkipGitRepoCheck().
		WithConfig("model", inv.Model).
		WithConfig("model_reasoning_effort", inv.ReasoningEffort)
	if inv.Executable != "" {
		b.WithConfig("mcp_servers.mascot.command", inv.Executable).
			WithConfigStrings("mcp_servers.mascot.args", "mcp")
	}
	if inv.ResumeID == "" {
		b.WithDeveloperInstructions(inv.SystemPrompt)
	}
	return b.
		WithWorkDir(inv.WorkDir).
		WithImages(inv.ImagePaths...).
		WithPrompt(inv.Prompt).
		Args()
}

// NewParser implements harness.Driver.
func (d *Driver) NewParser() harness.Parser {
	return NewParser()
}

// EncodeUserMessage implements harness.Driver.
func (d *Driver) EncodeUserMessage(string, []harness.Image) ([]byte, error) {
	return nil, harness.ErrNotInteractiveDriver
}

// EncodeToolResult implements harness.Driver.
func (d *Driver) EncodeToolResult(harness.ToolResult) ([][]byte, error) {
	return nil, harness.ErrNotInteractiveDriver
}
