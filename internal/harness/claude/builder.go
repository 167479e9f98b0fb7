package claude

// CommandBuilder accumulates claude CLI arguments in call order.
// Options with empty values append nothing.
type CommandBuilder struct {
	args []string
}

// NewCommandBuilder starts an empty argument list.
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{}
}

// Print selects non-interactive print mode.
func (b *CommandBuilder) Print() *CommandBuilder {
	b.args = append(b.args, "-p")
	return b
}

// WithStreamingInput reads user messages as stream-json from stdin.
func (b *CommandBuilder) WithStreamingInput() *CommandBuilder {
	b.args = append(b.args, "--input-format", "stream-json")
	return b
}

// WithStreamingOutput emits stream-json events. The CLI requires --verbose with it.
func (b *CommandBuilder) WithStreamingOutput() *CommandBuilder {
	b.args = append(b.args, "--output-format", "stream-json", "--verbose")
	return b
}

// WithMCPConfig points the CLI at an MCP server config file.
func (b *CommandBuilder) WithMCPConfig(path string) *CommandBuilder {
	if path != "" {
		b.args = append(b.args, "--mcp-config", path)
	}
	return b
}

// WithSkipPermissions disables permission prompts. Do not combine with WithAllowedTools.
func (b *CommandBuilder) WithSkipPermissions() *CommandBuilder {
	b.args = append(b.args, "--dangerously-skip-permissions")
	return b
}

// WithAllowedTools appends the allow-list as one variadic flag.
func (b *CommandBuilder) WithAllowedTools(tools ...string) *CommandBuilder {
	if len(tools) == 0 {
		return b
	}
	b.args = append(b.args, "--allowedTools")
	b.args = append(b.args, tools...)
	return b
}

// WithSystemPrompt replaces the default system prompt.
func (b *CommandBuilder) WithSystemPrompt(prompt string) *CommandBuilder {
	if prompt != "" {
		b.args = append(b.args, "--system-prompt", prompt)
	}
	return b
}

// WithResume continues an existing session.
func (b *CommandBuilder) WithResume(sessionID string) *CommandBuilder {
	if sessionID != "" {
		b.args = append(b.args, "--resume", sessionID)
	}
	return b
}

// WithModel selects a model alias or name.
func (b *CommandBuilder) WithModel(model string) *CommandBuilder {
	if model != "" {
		b.args = append(b.args, "--model", model)
	}
	return b
}

// WithPrompt appends a positional prompt. Only used in non-streaming input mode.
func (b *CommandBuilder) WithPrompt(prompt string) *CommandBuilder {
	if prompt != "" {
		b.args = append(b.args, prompt)
	}
	return b
}

// Args returns a copy of the accumulated arguments.
func (b *CommandBuilder) Args() []string {
	return append([]string(nil), b.args...)
}
