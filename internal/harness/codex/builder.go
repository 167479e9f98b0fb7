package codex

import "strings"

// CommandBuilder accumulates codex CLI arguments in call order, starting with "exec".
// Options with empty values append nothing.
type CommandBuilder struct {
	args []string
}

// NewCommandBuilder starts an "exec" argument list.
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{args: []string{"exec"}}
}

// WithResume continues an existing thread. It must directly follow exec.
func (b *CommandBuilder) WithResume(threadID string) *CommandBuilder {
	if threadID != "" {
		b.args = append(b.args, "resume", threadID)
	}
	return b
}

// WithJSON emits JSON-lines events on stdout.
func (b *CommandBuilder) WithJSON() *CommandBuilder {
	b.args = append(b.args, "--json")
	return b
}

// WithFullAuto runs without approval prompts inside the workspace sandbox.
func (b *CommandBuilder) WithFullAuto() *CommandBuilder {
	b.args = append(b.args, "--full-auto")
	return b
}

// WithSkipGitRepoCheck allows running outside a git checkout.
func (b *CommandBuilder) WithSkipGitRepoCheck() *CommandBuilder {
	b.args = append(b.args, "--skip-git-repo-check")
	return b
}

// WithConfig appends key="value" with value escaped as a quoted scalar.
func (b *CommandBuilder) WithConfig(key, value string) *CommandBuilder {
	if value != "" {
		b.args = append(b.args, "--config", key+"="+Quote(value))
	}
	return b
}

// WithConfigStrings appends key=["a","b"].
func (b *CommandBuilder) WithConfigStrings(key string, values ...string) *CommandBuilder {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, Quote(value))
	}
	b.args = append(b.args, "--config", key+"=["+strings.Join(quoted, ",")+"]")
	return b
}

// WithDeveloperInstructions sets the system-level instructions for a new thread.
func (b *CommandBuilder) WithDeveloperInstructions(prompt string) *CommandBuilder {
	return b.WithConfig("developer_instructions", prompt)
}

// WithWorkDir sets the agent's working root.
func (b *CommandBuilder) WithWorkDir(dir string) *CommandBuilder {
	if dir != "" {
		b.args = append(b.args, "--cd", dir)
	}
	return b
}

// WithImages attaches image files, one flag per path.
func (b *CommandBuilder) WithImages(paths ...string) *CommandBuilder {
	for _, path := range paths {
		if path != "" {
			b.args = append(b.args, "--image", path)
		}
	}
	return b
}

// WithPrompt appends the positional prompt. It must come last.
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
