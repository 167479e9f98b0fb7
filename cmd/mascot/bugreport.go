package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/clawd-mascot/mascot/internal/config"
	"github.com/clawd-mascot/mascot/internal/harness"
)

const (
	bugreportLogLimit = 3
)

var (
	bugreportNowFn = func() time.Time {
		return time.Now().UTC()
	}
	bugreportGetwdFn      = os.Getwd
	bugreportConfigPathFn = config.UserConfigPath
	bugreportCheckFn      = func(ctx context.Context, cfg *config.Config, kind harness.Kind) harness.Availability {
		locator := harness.NewLocator(cfg.Paths.ResourceDir)
		if kind == harness.KindCodex {
			return locator.Check(ctx, kind, cfg.Codex.Binary, cfg.Codex.BundledNames)
		}
		return locator.Check(ctx, kind, cfg.Claude.Binary, cfg.Claude.BundledNames)
	}
)

var sensitiveConfigTokens = []string{"token", "secret", "password", "api_key", "apikey", "auth", "credential", "endpoint"}

func newBugreportCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "bugreport",
		Short: "Collect a diagnostic bundle for debugging",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if logger != nil {
				logger.With("command", "bugreport").Info("collecting diagnostic bundle")
			}
			return runBugReport(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
}

func runBugReport(ctx context.Context, cfg *config.Config, out io.Writer) error {
	cwd, err := bugreportGetwdFn()
	if err != nil {
		return fmt.Errorf("resolve current directory: %w", err)
	}
	cwd = filepath.Clean(cwd)

	timestamp := bugreportNowFn().Format("20060102-150405")
	bundlePath := filepath.Join(cwd, fmt.Sprintf(".mascot-bugreport-%s.tar.gz", timestamp))

	stagingDir, err := os.MkdirTemp("", "mascot-bugreport-*")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(stagingDir)
	}()

	report, err := collectBugreportArtifacts(ctx, cfg, stagingDir)
	if err != nil {
		return err
	}
	if err := writeBugreportREADME(stagingDir, report); err != nil {
		return err
	}
	if err := archiveBugreport(stagingDir, bundlePath); err != nil {
		return err
	}

	if out == nil {
		out = os.Stdout
	}
	if _, err := fmt.Fprintf(out, "Bug report written to: %s. Share for debugging.\n", bundlePath); err != nil {
		return fmt.Errorf("write bugreport output: %w", err)
	}
	return nil
}

type bugreportSummary struct {
	Timestamp string
	Version   string
	LogFiles  []string
	TurnID    string
	TraceID   string
	Warnings  []string
}

func collectBugreportArtifacts(ctx context.Context, cfg *config.Config, stagingDir string) (bugreportSummary, error) {
	summary := bugreportSummary{
		Timestamp: bugreportNowFn().Format(time.RFC3339),
		Version:   Version,
		Warnings:  make([]string, 0),
	}

	logFiles, warnings := copyRecentLogs(cfg.LogDir(), stagingDir, bugreportLogLimit)
	summary.LogFiles = logFiles
	summary.Warnings = append(summary.Warnings, warnings...)

	turnID, traceID := extractLastCorrelation(logFiles)
	summary.TurnID = turnID
	summary.TraceID = traceID
	if turnID == "" && traceID == "" {
		summary.Warnings = append(summary.Warnings, "no turn_id/trace_id found in copied logs")
	}

	if err := writeStagedFile(stagingDir, "last-turn.txt", fmt.Sprintf("turn_id: %s\ntrace_id: %s\n", turnID, traceID)); err != nil {
		return bugreportSummary{}, err
	}
	version := fmt.Sprintf("mascot version: %s\ngo: %s\nplatform: %s/%s\n", strings.TrimSpace(summary.Version), runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if err := writeStagedFile(stagingDir, "version.txt", version); err != nil {
		return bugreportSummary{}, err
	}
	if err := copyRedactedConfig(bugreportConfigPathFn(), stagingDir, &summary); err != nil {
		return bugreportSummary{}, err
	}
	if err := writeSessionHistory(cfg.DataDir(), stagingDir); err != nil {
		return bugreportSummary{}, err
	}
	if err := writeCLIState(ctx, cfg, stagingDir); err != nil {
		return bugreportSummary{}, err
	}
	return summary, nil
}

func copyRecentLogs(logsDir string, stagingDir string, limit int) ([]string, []string) {
	files, err := newestFiles(logsDir, limit)
	if err != nil {
		return nil, []string{fmt.Sprintf("unable to read logs directory: %v", err)}
	}

	destDir := filepath.Join(stagingDir, "logs")
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return nil, []string{fmt.Sprintf("unable to create logs staging directory: %v", err)}
	}

	warnings := make([]string, 0)
	copiedPaths := make([]string, 0, len(files))
	for _, file := range files {
		// #nosec G304 -- source path comes from the configured log directory listing.
		data, readErr := os.ReadFile(file.path)
		if readErr != nil {
			warnings = append(warnings, fmt.Sprintf("unable to read log %s: %v", file.path, readErr))
			continue
		}
		dstPath := filepath.Join(destDir, filepath.Base(file.path))
		if writeErr := os.WriteFile(dstPath, data, 0o600); writeErr != nil {
			warnings = append(warnings, fmt.Sprintf("unable to stage log %s: %v", file.path, writeErr))
			continue
		}
		copiedPaths = append(copiedPaths, file.path)
	}
	return copiedPaths, warnings
}

// extractLastCorrelation returns the newest turn_id and trace_id found in the
// JSON log records, searching newest file first.
func extractLastCorrelation(logPaths []string) (string, string) {
	for _, logPath := range logPaths {
		// #nosec G304 -- log paths are selected from the configured log directory.
		data, err := os.ReadFile(logPath)
		if err != nil {
			continue
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			line := strings.TrimSpace(lines[i])
			if line == "" {
				continue
			}
			record := map[string]any{}
			if err := json.Unmarshal([]byte(line), &record); err != nil {
				continue
			}
			turnID := asString(record["turn_id"])
			traceID := asString(record["trace_id"])
			if turnID == "" && traceID == "" {
				continue
			}
			return turnID, traceID
		}
	}
	return "", ""
}

func writeStagedFile(stagingDir, name, content string) error {
	if err := os.WriteFile(filepath.Join(stagingDir, name), []byte(content), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func copyRedactedConfig(configPath, stagingDir string, summary *bugreportSummary) error {
	// #nosec G304 -- config path is the per-user config location.
	configData, err := os.ReadFile(configPath)
	if err != nil {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("unable to read config: %v", err))
		configData = []byte("# config unavailable\n")
	}
	return writeStagedFile(stagingDir, "config.toml", redactSensitiveConfig(string(configData)))
}

// redactSensitiveConfig masks the value of every TOML key that names a secret.
func redactSensitiveConfig(configText string) string {
	lines := strings.Split(configText, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if !isSensitiveKey(strings.ToLower(strings.TrimSpace(parts[0]))) {
			continue
		}
		lines[i] = parts[0] + `= "***REDACTED***"`
	}
	return strings.Join(lines, "\n")
}

func isSensitiveKey(key string) bool {
	for _, token := range sensitiveConfigTokens {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

func writeSessionHistory(dataDir, stagingDir string) error {
	builder := strings.Builder{}
	for _, name := range []string{"session.txt", "codex_session.txt"} {
		// #nosec G304 -- session files live in the application data directory.
		data, err := os.ReadFile(filepath.Join(dataDir, name))
		value := strings.TrimSpace(string(data))
		if err != nil {
			value = "(none)"
		}
		builder.WriteString(fmt.Sprintf("%s: %s\n", name, value))
	}
	return writeStagedFile(stagingDir, "sessions.txt", builder.String())
}

func writeCLIState(ctx context.Context, cfg *config.Config, stagingDir string) error {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("active backend: %s\n", cfg.Backend))
	for _, kind := range harness.Kinds() {
		availability := bugreportCheckFn(ctx, cfg, kind)
		if availability.Available {
			builder.WriteString(fmt.Sprintf("%s: %s (%s)\n", kind, availability.Version, availability.Path))
			continue
		}
		builder.WriteString(fmt.Sprintf("%s: unavailable: %s\n", kind, availability.Message))
	}
	return writeStagedFile(stagingDir, "cli.txt", builder.String())
}

func writeBugreportREADME(stagingDir string, summary bugreportSummary) error {
	builder := strings.Builder{}
	builder.WriteString("Mascot Bug Report\n")
	builder.WriteString("=================\n\n")
	builder.WriteString(fmt.Sprintf("Generated: %s\n", summary.Timestamp))
	builder.WriteString(fmt.Sprintf("Version: %s\n", summary.Version))
	builder.WriteString(fmt.Sprintf("turn_id: %s\n", summary.TurnID))
	builder.WriteString(fmt.Sprintf("trace_id: %s\n\n", summary.TraceID))
	builder.WriteString("Included artifacts:\n")
	builder.WriteString("- logs/ (up to last 3 log files)\n")
	builder.WriteString("- config.toml (redacted)\n")
	builder.WriteString("- version.txt\n")
	builder.WriteString("- last-turn.txt\n")
	builder.WriteString("- sessions.txt\n")
	builder.WriteString("- cli.txt\n\n")
	builder.WriteString("Usage:\n")
	builder.WriteString("- Share this archive with maintainers for debugging.\n")
	builder.WriteString("- Use turn_id/trace_id to correlate logs with traces.\n")
	if len(summary.Warnings) > 0 {
		builder.WriteString("\nWarnings:\n")
		for _, warning := range summary.Warnings {
			builder.WriteString("- " + warning + "\n")
		}
	}
	return writeStagedFile(stagingDir, "README.txt", builder.String())
}

func archiveBugreport(stagingDir, destination string) (err error) {
	// #nosec G304 -- destination is generated in the current working directory.
	archiveFile, err := os.OpenFile(destination, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", destination, err)
	}
	gzipWriter := gzip.NewWriter(archiveFile)
	tarWriter := tar.NewWriter(gzipWriter)
	defer func() {
		for _, closer := range []io.Closer{tarWriter, gzipWriter, archiveFile} {
			if closeErr := closer.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("finalize archive: %w", closeErr)
			}
		}
	}()

	walkErr := filepath.WalkDir(stagingDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("read file info for %s: %w", path, err)
		}
		relPath, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return fmt.Errorf("compute archive path for %s: %w", path, err)
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("create tar header for %s: %w", path, err)
		}
		header.Name = filepath.ToSlash(relPath)
		if err := tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("write tar header for %s: %w", path, err)
		}

		// #nosec G304 -- walk paths originate from the staging directory.
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s for archive: %w", path, err)
		}
		defer file.Close()
		if _, err := io.Copy(tarWriter, file); err != nil {
			return fmt.Errorf("copy %s into archive: %w", path, err)
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("archive bugreport: %w", walkErr)
	}
	return nil
}

type datedFile struct {
	path    string
	modTime time.Time
}

func newestFiles(dir string, limit int) ([]datedFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]datedFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, datedFile{path: filepath.Join(dir, entry.Name()), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

func asString(value any) string {
	if typed, ok := value.(string); ok {
		return strings.TrimSpace(typed)
	}
	return ""
}
