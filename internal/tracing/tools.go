package tracing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxOutputEventBytes = 1024

// Result is the captured outcome of one helper command.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   string
	Duration time.Duration
}

// StdoutText returns stdout trimmed of surrounding whitespace.
func (r Result) StdoutText() string {
	return strings.TrimSpace(string(r.Stdout))
}

// RunCommand runs a short-lived helper command (a version probe, a screenshot
// grabber) inside a command.exec span. Stdout is returned raw since some helpers
// emit binary data.
func RunCommand(
	ctx context.Context,
	command string,
	args []string,
	cwd string,
) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	command = strings.TrimSpace(command)
	if command == "" {
		return Result{}, errors.New("command must not be empty")
	}

	_, span := otel.Tracer("mascot/tracing").Start(
		ctx,
		"command.exec",
		trace.WithAttributes(
			attribute.String("command", command),
			attribute.String("args_redacted", strings.Join(redactArgs(args), " ")),
			attribute.String("cwd", strings.TrimSpace(cwd)),
		),
	)

	started := time.Now()
	defer func() {
		span.SetAttributes(attribute.Int64("duration_ms", time.Since(started).Milliseconds()))
		span.End()
	}()

	// #nosec G204 -- command comes from configuration or a resolved CLI path.
	cmd := exec.CommandContext(ctx, command, args...)
	if dir := strings.TrimSpace(cwd); dir != "" {
		cmd.Dir = dir
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		ExitCode: resolveExitCode(ctx, cmd, err),
		Stdout:   stdout.Bytes(),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(started),
	}

	span.SetAttributes(
		attribute.Int("exit_code", result.ExitCode),
		attribute.Int("stdout_bytes", len(result.Stdout)),
	)
	if result.Stderr != "" {
		span.AddEvent(
			"command.stderr",
			trace.WithAttributes(attribute.String("output", truncateOutput(result.Stderr, maxOutputEventBytes))),
		)
	}

	if err != nil {
		err = WrapExecutionError(command, args, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	span.SetStatus(codes.Ok, "command completed")
	return result, nil
}

func resolveExitCode(ctx context.Context, cmd *exec.Cmd, runErr error) int {
	if runErr == nil {
		return 0
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return -1
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd != nil && cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

func truncateOutput(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	const marker = "...[truncated]"
	if limit <= len(marker) {
		return value[:limit]
	}
	return value[:limit-len(marker)] + marker
}

func redactArgs(args []string) []string {
	redacted := make([]string, 0, len(args))
	maskNext := false

	for _, arg := range args {
		if maskNext {
			redacted = append(redacted, "<redacted>")
			maskNext = false
			continue
		}

		trimmed := strings.TrimSpace(arg)
		if key, _, ok := strings.Cut(trimmed, "="); ok && isSensitiveToken(strings.ToLower(key)) {
			redacted = append(redacted, key+"=<redacted>")
			continue
		}

		if isSensitiveToken(strings.ToLower(trimmed)) {
			maskNext = true
		}
		redacted = append(redacted, trimmed)
	}

	return redacted
}

func isSensitiveToken(value string) bool {
	for _, candidate := range []string{"token", "password", "secret", "api-key", "apikey", "auth", "bearer"} {
		if strings.Contains(value, candidate) {
			return true
		}
	}
	return false
}

// FormatCommand returns a deterministic command preview for traces and logs.
func FormatCommand(command string, args []string) string {
	parts := append([]string{strings.TrimSpace(command)}, args...)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return strings.Join(out, " ")
}

// WrapExecutionError annotates execution failures with command identity.
func WrapExecutionError(command string, args []string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("run %s: %w", FormatCommand(command, args), err)
}
