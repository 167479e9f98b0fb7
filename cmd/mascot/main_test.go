package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawd-mascot/mascot/internal/config"
	"github.com/clawd-mascot/mascot/internal/harness"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(&bytes.Buffer{}, log.Options{})
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Log.Dir = t.TempDir()
	return cfg
}

func execute(t *testing.T, cfg *config.Config, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(cfg, testLogger())
	var stdout bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestRootCommandVersionFlag(t *testing.T) {
	originalVersion := Version
	defer func() {
		Version = originalVersion
	}()
	Version = "v0.1.0-test"

	out, err := execute(t, testConfig(t), "", "--version")
	require.NoError(t, err)
	assert.Equal(t, "v0.1.0-test", strings.TrimSpace(out))
}

func TestRootCommandHelpListsExpectedSubcommands(t *testing.T) {
	out, err := execute(t, testConfig(t), "", "--help")
	require.NoError(t, err)

	for _, name := range []string{"serve", "mcp", "chat", "check", "session", "bugreport", "--dev"} {
		assert.Contains(t, out, name)
	}
	assert.NotContains(t, out, "--mcp")
}

func TestHiddenMCPFlagServesTools(t *testing.T) {
	requests := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	}, "\n") + "\n"

	out, err := execute(t, testConfig(t), requests, "--mcp")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var list struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &list))
	names := make([]string, 0, len(list.Result.Tools))
	for _, tool := range list.Result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"set_emotion", "move_to", "capture_screenshot"}, names)
}

func TestServeStdioAnswersCommands(t *testing.T) {
	cfg := testConfig(t)
	out, err := execute(t, cfg, `{"id":1,"command":"get_backend_mode"}`+"\n", "serve")
	require.NoError(t, err)

	var resp struct {
		Type   string `json:"type"`
		OK     bool   `json:"ok"`
		Result string `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &resp))
	assert.Equal(t, "response", resp.Type)
	assert.True(t, resp.OK)
	assert.Equal(t, "claude", resp.Result)
}

func TestServeRequiresATransport(t *testing.T) {
	_, err := execute(t, testConfig(t), "", "serve", "--no-stdio")
	require.ErrorContains(t, err, "nothing to serve")
}

func TestSessionShowAndClear(t *testing.T) {
	cfg := testConfig(t)
	sessionFile := filepath.Join(cfg.Paths.DataDir, "session.txt")
	require.NoError(t, os.WriteFile(sessionFile, []byte("sess-abc"), 0o600))

	out, err := execute(t, cfg, "", "session", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "sess-abc")
	assert.Contains(t, out, "codex")

	out, err = execute(t, cfg, "", "session", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "session history cleared")
	assert.NoFileExists(t, sessionFile)
}

func TestRenderAvailability(t *testing.T) {
	out := renderAvailability([]harness.Availability{
		{Kind: harness.KindClaude, Available: true, Version: "2.0.14", Path: "/usr/bin/claude"},
		{Kind: harness.KindCodex, Message: "Codex CLI not found."},
	}, harness.KindClaude)

	assert.Contains(t, out, "claude*")
	assert.Contains(t, out, "2.0.14")
	assert.Contains(t, out, "Codex CLI not found.")
}

func TestResolveCommandName(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "subcommand", args: []string{"serve"}, want: "serve"},
		{name: "flags then command", args: []string{"--dev", "chat"}, want: "chat"},
		{name: "hidden mcp flag", args: []string{"--mcp"}, want: "mcp"},
		{name: "no command defaults to root", args: []string{"--help"}, want: "root"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, resolveCommandName(tc.args))
		})
	}
}
