package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/clawd-mascot/mascot/internal/tracing"
)

// ErrExecutableNotFound is matched by every NotFoundError.
var ErrExecutableNotFound = errors.New("executable not found")

// NotFoundError is the user-actionable environment error for a missing CLI.
type NotFoundError struct {
	Kind    Kind
	Binary  string
	Message string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

// Is lets errors.Is match ErrExecutableNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrExecutableNotFound
}

// Availability is the outcome of probing one backend CLI.
type Availability struct {
	Kind      Kind   `json:"backend"`
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Locator resolves backend executables. Bundled candidates win over PATH.
type Locator struct {
	ResourceDir   string
	ExecutableDir string
	WorkingDir    string

	lookPath func(file string) (string, error)
	isFile   func(path string) bool
}

// NewLocator builds a Locator rooted at the running executable and working directory.
func NewLocator(resourceDir string) Locator {
	locator := Locator{ResourceDir: strings.TrimSpace(resourceDir)}
	if exe, err := os.Executable(); err == nil {
		locator.ExecutableDir = filepath.Dir(exe)
	}
	if wd, err := os.Getwd(); err == nil {
		locator.WorkingDir = wd
	}
	return locator
}

// Resolve returns the first existing bundled candidate, then falls back to binary on PATH.
func (l Locator) Resolve(kind Kind, binary string, bundled []string) (string, error) {
	isFile := l.isFile
	if isFile == nil {
		isFile = regularFile
	}
	for _, candidate := range l.candidates(bundled) {
		if isFile(candidate) {
			return candidate, nil
		}
	}

	lookPath := l.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	binary = strings.TrimSpace(binary)
	if binary != "" {
		if path, err := lookPath(binary); err == nil {
			return path, nil
		}
	}
	return "", notFound(kind, binary)
}

func (l Locator) candidates(bundled []string) []string {
	out := make([]string, 0, len(bundled)*4)
	for _, name := range bundled {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if l.ResourceDir != "" {
			out = append(out, filepath.Join(l.ResourceDir, name))
		}
		if l.ExecutableDir != "" {
			out = append(out, filepath.Join(l.ExecutableDir, name))
		}
		if l.WorkingDir != "" {
			out = append(out,
				filepath.Join(l.WorkingDir, "..", name),
				filepath.Join(l.WorkingDir, name),
			)
		}
	}
	return out
}

// Probe runs "<path> --version" and reports the trimmed version string.
func Probe(ctx context.Context, kind Kind, path string) Availability {
	result, err := tracing.RunCommand(ctx, path, []string{"--version"}, "")
	if err != nil {
		message := strings.TrimSpace(result.Stderr)
		if message == "" {
			message = err.Error()
		}
		return Availability{Kind: kind, Path: path, Message: fmt.Sprintf("%s CLI error: %s", displayName(kind), message)}
	}
	return Availability{Kind: kind, Available: true, Path: path, Version: result.StdoutText()}
}

// Check resolves and probes one backend, folding resolution failures into the result.
func (l Locator) Check(ctx context.Context, kind Kind, binary string, bundled []string) Availability {
	path, err := l.Resolve(kind, binary, bundled)
	if err != nil {
		return Availability{Kind: kind, Message: err.Error()}
	}
	return Probe(ctx, kind, path)
}

func notFound(kind Kind, binary string) error {
	var message string
	switch kind {
	case KindClaude:
		message = "Claude CLI not found. Please install it from https://claude.ai/download"
	case KindCodex:
		message = "Codex CLI not found. Place the bundled codex executable next to the application or install codex on PATH"
	default:
		message = fmt.Sprintf("%s not found on PATH", binary)
	}
	return &NotFoundError{Kind: kind, Binary: binary, Message: message}
}

func displayName(kind Kind) string {
	switch kind {
	case KindClaude:
		return "Claude"
	case KindCodex:
		return "Codex"
	default:
		return string(kind)
	}
}

func regularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
