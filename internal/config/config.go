package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
)

// AppID names the per-application config and data directories.
const AppID = "claude-mascot"

const (
	defaultBackend            = "claude"
	defaultClaudeBinary       = "claude"
	defaultCodexBinary        = "codex"
	defaultCodexModel         = "gpt-5.2"
	defaultReasoningEffort    = "high"
	defaultScreenshotMaxDim   = 2560
	defaultImageMaxDim        = 1568
	defaultJPEGQuality        = 80
	defaultLogLevel           = "info"
	defaultServiceName        = "mascot"
	defaultNotificationBuffer = 256
	defaultWebsocketAddr      = "127.0.0.1:7878"
	defaultStopGrace          = 3 * time.Second
	defaultProbeTimeout       = 10 * time.Second
)

// DefaultBundledCodexNames lists executable names checked before PATH for the codex backend.
var DefaultBundledCodexNames = []string{"codex-x86_64-pc-windows-msvc.exe", "codex"}

// DefaultAllowedTools is the Claude tool allow-list used outside developer mode.
var DefaultAllowedTools = []string{
	"mcp__mascot__set_emotion",
	"mcp__mascot__move_to",
	"mcp__mascot__capture_screenshot",
}

// Config stores runtime settings loaded from TOML files.
type Config struct {
	Backend    string
	Claude     ClaudeConfig
	Codex      CodexConfig
	Paths      PathsConfig
	Screenshot ScreenshotConfig
	Images     ImagesConfig
	Log        LogConfig
	Telemetry  TelemetryConfig
	Server     ServerConfig

	StopGrace    time.Duration
	ProbeTimeout time.Duration
}

// ClaudeConfig configures the stream-json backend.
type ClaudeConfig struct {
	Binary       string
	BundledNames []string
	AllowedTools []string
	Model        string
}

// CodexConfig configures the exec/JSON backend.
type CodexConfig struct {
	Binary          string
	BundledNames    []string
	Model           string
	ReasoningEffort string
}

// PathsConfig stores filesystem locations.
type PathsConfig struct {
	ResourceDir    string
	DefaultWorkdir string
	DataDir        string
}

// ScreenshotConfig drives the MCP capture_screenshot tool.
type ScreenshotConfig struct {
	Command      []string
	MaxDimension int
	JPEGQuality  int
}

// ImagesConfig bounds images attached to a prompt.
type ImagesConfig struct {
	MaxDimension int
	JPEGQuality  int
}

// LogConfig configures the runtime logger.
type LogConfig struct {
	Level string
	Dir   string
}

// TelemetryConfig configures span export.
type TelemetryConfig struct {
	Endpoint    string
	ServiceName string
}

// ServerConfig configures the frontend bridge.
type ServerConfig struct {
	WebsocketAddr      string
	NotificationBuffer int
}

type fileConfig struct {
	Backend      *string           `toml:"backend"`
	StopGrace    *string           `toml:"stop_grace"`
	ProbeTimeout *string           `toml:"probe_timeout"`
	Claude       *claudeFileConfig `toml:"claude"`
	Codex        *codexFileConfig  `toml:"codex"`
	Paths        *pathsFileConfig  `toml:"paths"`
	Screenshot   *imageFileConfig  `toml:"screenshot"`
	Images       *imageFileConfig  `toml:"images"`
	Log          *logFileConfig    `toml:"log"`
	Telemetry    *telemetryFile    `toml:"telemetry"`
	Server       *serverFileConfig `toml:"server"`
}

type claudeFileConfig struct {
	Binary       *string   `toml:"binary"`
	BundledNames *[]string `toml:"bundled_names"`
	AllowedTools *[]string `toml:"allowed_tools"`
	Model        *string   `toml:"model"`
}

type codexFileConfig struct {
	Binary          *string   `toml:"binary"`
	BundledNames    *[]string `toml:"bundled_names"`
	Model           *string   `toml:"model"`
	ReasoningEffort *string   `toml:"reasoning_effort"`
}

type pathsFileConfig struct {
	ResourceDir    *string `toml:"resource_dir"`
	DefaultWorkdir *string `toml:"default_workdir"`
	DataDir        *string `toml:"data_dir"`
}

type imageFileConfig struct {
	Command      *[]string `toml:"command"`
	MaxDimension *int      `toml:"max_dimension"`
	JPEGQuality  *int      `toml:"jpeg_quality"`
}

type logFileConfig struct {
	Level *string `toml:"level"`
	Dir   *string `toml:"dir"`
}

type telemetryFile struct {
	Endpoint    *string `toml:"endpoint"`
	ServiceName *string `toml:"service_name"`
}

type serverFileConfig struct {
	WebsocketAddr      *string `toml:"websocket_addr"`
	NotificationBuffer *int    `toml:"notification_buffer"`
}

// Load reads the user config, then a project-local .mascot/config.toml, then $MASCOT_CONFIG.
func Load(ctx context.Context) (*Config, error) {
	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		UserConfigPath(),
		filepath.Join(workingDir, ".mascot", "config.toml"),
	}
	if explicit := strings.TrimSpace(os.Getenv("MASCOT_CONFIG")); explicit != "" {
		paths = append(paths, explicit)
	}
	return LoadFrom(ctx, paths...)
}

// UserConfigPath is the per-user config file.
func UserConfigPath() string {
	return filepath.Join(xdg.ConfigHome, AppID, "config.toml")
}

// LoadFrom overlays each existing file in order onto the defaults. Missing files are skipped.
func LoadFrom(ctx context.Context, paths ...string) (*Config, error) {
	cfg := defaults()
	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	_ = ctx
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := defaults()
	return &cfg
}

// DataDir returns the per-application local data directory.
func (c *Config) DataDir() string {
	if c != nil && strings.TrimSpace(c.Paths.DataDir) != "" {
		return c.Paths.DataDir
	}
	return filepath.Join(xdg.DataHome, AppID)
}

// LogDir returns the directory runtime logs are written to.
func (c *Config) LogDir() string {
	if c != nil && strings.TrimSpace(c.Log.Dir) != "" {
		return c.Log.Dir
	}
	return filepath.Join(c.DataDir(), "logs")
}

func defaults() Config {
	return Config{
		Backend: defaultBackend,
		Claude: ClaudeConfig{
			Binary:       defaultClaudeBinary,
			AllowedTools: append([]string(nil), DefaultAllowedTools...),
		},
		Codex: CodexConfig{
			Binary:          defaultCodexBinary,
			BundledNames:    append([]string(nil), DefaultBundledCodexNames...),
			Model:           defaultCodexModel,
			ReasoningEffort: defaultReasoningEffort,
		},
		Screenshot: ScreenshotConfig{
			MaxDimension: defaultScreenshotMaxDim,
			JPEGQuality:  defaultJPEGQuality,
		},
		Images: ImagesConfig{
			MaxDimension: defaultImageMaxDim,
			JPEGQuality:  defaultJPEGQuality,
		},
		Log:       LogConfig{Level: defaultLogLevel},
		Telemetry: TelemetryConfig{ServiceName: defaultServiceName},
		Server:    ServerConfig{WebsocketAddr: defaultWebsocketAddr, NotificationBuffer: defaultNotificationBuffer},

		StopGrace:    defaultStopGrace,
		ProbeTimeout: defaultProbeTimeout,
	}
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	meta, err := toml.DecodeFile(path, &decoded)
	if err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("decode config file %q: unsupported key %q", path, undecoded[0].String())
	}

	applyScalarOverrides(cfg, decoded)
	applyBackendOverrides(cfg, decoded)
	if err := applyImageOverrides(cfg, decoded, path); err != nil {
		return err
	}
	return applyDurationOverrides(cfg, decoded, path)
}

func applyScalarOverrides(cfg *Config, decoded fileConfig) {
	if decoded.Backend != nil {
		cfg.Backend = normalizeKey(*decoded.Backend)
	}
	if decoded.Paths != nil {
		setString(&cfg.Paths.ResourceDir, decoded.Paths.ResourceDir)
		setString(&cfg.Paths.DefaultWorkdir, decoded.Paths.DefaultWorkdir)
		setString(&cfg.Paths.DataDir, decoded.Paths.DataDir)
	}
	if decoded.Log != nil {
		if decoded.Log.Level != nil {
			cfg.Log.Level = normalizeKey(*decoded.Log.Level)
		}
		setString(&cfg.Log.Dir, decoded.Log.Dir)
	}
	if decoded.Telemetry != nil {
		setString(&cfg.Telemetry.Endpoint, decoded.Telemetry.Endpoint)
		setString(&cfg.Telemetry.ServiceName, decoded.Telemetry.ServiceName)
	}
	if decoded.Server != nil {
		setString(&cfg.Server.WebsocketAddr, decoded.Server.WebsocketAddr)
		if decoded.Server.NotificationBuffer != nil {
			cfg.Server.NotificationBuffer = *decoded.Server.NotificationBuffer
		}
	}
}

func applyBackendOverrides(cfg *Config, decoded fileConfig) {
	if claude := decoded.Claude; claude != nil {
		setString(&cfg.Claude.Binary, claude.Binary)
		setString(&cfg.Claude.Model, claude.Model)
		setList(&cfg.Claude.BundledNames, claude.BundledNames)
		setList(&cfg.Claude.AllowedTools, claude.AllowedTools)
	}
	if codex := decoded.Codex; codex != nil {
		setString(&cfg.Codex.Binary, codex.Binary)
		setString(&cfg.Codex.Model, codex.Model)
		setString(&cfg.Codex.ReasoningEffort, codex.ReasoningEffort)
		setList(&cfg.Codex.BundledNames, codex.BundledNames)
	}
}

func applyImageOverrides(cfg *Config, decoded fileConfig, path string) error {
	if shot := decoded.Screenshot; shot != nil {
		setList(&cfg.Screenshot.Command, shot.Command)
		if err := setPositive(&cfg.Screenshot.MaxDimension, shot.MaxDimension, "screenshot.max_dimension", path); err != nil {
			return err
		}
		if err := setPositive(&cfg.Screenshot.JPEGQuality, shot.JPEGQuality, "screenshot.jpeg_quality", path); err != nil {
			return err
		}
	}
	if images := decoded.Images; images != nil {
		if err := setPositive(&cfg.Images.MaxDimension, images.MaxDimension, "images.max_dimension", path); err != nil {
			return err
		}
		if err := setPositive(&cfg.Images.JPEGQuality, images.JPEGQuality, "images.jpeg_quality", path); err != nil {
			return err
		}
	}
	return nil
}

func applyDurationOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.StopGrace != nil {
		value, err := parseDuration(*decoded.StopGrace, "stop_grace", path)
		if err != nil {
			return err
		}
		cfg.StopGrace = value
	}
	if decoded.ProbeTimeout != nil {
		value, err := parseDuration(*decoded.ProbeTimeout, "probe_timeout", path)
		if err != nil {
			return err
		}
		cfg.ProbeTimeout = value
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case "claude", "codex":
	default:
		return fmt.Errorf("invalid backend %q: use 'claude' or 'codex'", c.Backend)
	}
	if c.Server.NotificationBuffer <= 0 {
		return fmt.Errorf("server.notification_buffer must be > 0, got %d", c.Server.NotificationBuffer)
	}
	if c.Screenshot.JPEGQuality > 100 || c.Images.JPEGQuality > 100 {
		return errors.New("jpeg_quality must be between 1 and 100")
	}
	return nil
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("parse %s in %q: must be > 0", key, path)
	}
	return parsed, nil
}

func setString(dst *string, value *string) {
	if value != nil {
		*dst = strings.TrimSpace(*value)
	}
}

func setList(dst *[]string, value *[]string) {
	if value == nil {
		return
	}
	out := make([]string, 0, len(*value))
	for _, item := range *value {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	*dst = out
}

func setPositive(dst *int, value *int, key, path string) error {
	if value == nil {
		return nil
	}
	if *value <= 0 {
		return fmt.Errorf("parse %s in %q: must be > 0", key, path)
	}
	*dst = *value
	return nil
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
