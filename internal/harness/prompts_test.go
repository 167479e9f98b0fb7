package harness

import (
	"strings"
	"testing"
)

func TestSystemPromptSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dev     bool
		persona bool
		want    string
	}{
		{name: "normal", want: "friendly mascot"},
		{name: "dev", dev: true, want: "coding capabilities"},
		{name: "persona", persona: true, want: "Supiki"},
		{name: "persona wins", dev: true, persona: true, want: "Supiki"},
	}
	for _, tt := range tests {
		got := SystemPrompt(tt.dev, tt.persona)
		if !strings.Contains(got, tt.want) {
			t.Fatalf("%s: prompt = %q, want substring %q", tt.name, got, tt.want)
		}
		if got != strings.TrimSpace(got) {
			t.Fatalf("%s: prompt has surrounding whitespace", tt.name)
		}
	}
}
