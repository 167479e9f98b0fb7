package harness

import (
	_ "embed"
	"strings"
)

var (
	//go:embed prompts/normal.txt
	normalPrompt string
	//go:embed prompts/dev.txt
	devPrompt string
	//go:embed prompts/persona.txt
	personaPrompt string
)

// SystemPrompt picks the mascot instructions. Persona mode wins over developer mode.
func SystemPrompt(devMode, personaMode bool) string {
	switch {
	case personaMode:
		return strings.TrimSpace(personaPrompt)
	case devMode:
		return strings.TrimSpace(devPrompt)
	default:
		return strings.TrimSpace(normalPrompt)
	}
}
