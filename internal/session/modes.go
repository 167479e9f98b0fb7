package session

import (
	"path/filepath"
	"strings"
)

// Modes are the two startup feature flags. They never change after startup.
type Modes struct {
	Dev     bool `json:"dev"`
	Persona bool `json:"persona"`
}

// ModeSources are the inputs mode detection looks at.
type ModeSources struct {
	Executable string
	DevFlag    bool
	Getenv     func(string) string
}

// DetectModes checks the executable name, then the CLI flag, then the environment.
// The first source that enables a flag decides it.
func DetectModes(src ModeSources) Modes {
	getenv := src.Getenv
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	name := strings.ToLower(filepath.Base(src.Executable))

	return Modes{
		Dev: firstMatch(
			strings.Contains(name, "_dev") || strings.Contains(name, "-dev"),
			src.DevFlag,
			getenv("CLAWD_DEV_MODE") == "1",
		),
		Persona: firstMatch(
			strings.Contains(name, "supiki"),
			strings.EqualFold(getenv("VITE_MASCOT_TYPE"), "supiki"),
			getenv("CLAWD_SUPIKI_MODE") == "1",
		),
	}
}

// Env returns the variables that convey the modes to a child process.
func (m Modes) Env() []string {
	env := make([]string, 0, 2)
	if m.Dev {
		env = append(env, "CLAWD_DEV_MODE=1")
	}
	if m.Persona {
		env = append(env, "CLAWD_SUPIKI_MODE=1")
	}
	return env
}

func firstMatch(sources ...bool) bool {
	for _, matched := range sources {
		if matched {
			return true
		}
	}
	return false
}
