package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/clawd-mascot/mascot/internal/app"
	"github.com/clawd-mascot/mascot/internal/config"
	"github.com/clawd-mascot/mascot/internal/logging"
	"github.com/clawd-mascot/mascot/internal/session"
	"github.com/clawd-mascot/mascot/internal/telemetry"
)

// Version is set at build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(ctx, cfg.LogDir(),
		logging.WithLevel(cfg.Log.Level),
		logging.WithComponent(resolveCommandName(args)),
	)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", closeErr)
		}
	}()

	telemetry.ServiceVersion = Version
	shutdown, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Logger:      logger.Logger,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer shutdown()

	cmd := newRootCommand(cfg, logger.Logger)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	dev bool
	mcp bool
}

func newRootCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "mascot",
		Short:         "Desktop mascot backend for the claude and codex CLIs",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.mcp {
				return runMCP(cmd.Context(), cfg, logger, cmd.InOrStdin(), cmd.OutOrStdout())
			}
			return cmd.Help()
		},
	}

	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.PersistentFlags().BoolVar(&opts.dev, "dev", false, "enable developer mode (skips permission prompts)")
	root.Flags().BoolVar(&opts.mcp, "mcp", false, "serve the MCP tool server on stdio")
	_ = root.Flags().MarkHidden("mcp")

	root.AddCommand(
		newServeCommand(cfg, logger, opts),
		newMCPCommand(cfg, logger),
		newChatCommand(cfg, logger, opts),
		newCheckCommand(cfg, logger, opts),
		newSessionCommand(cfg, logger, opts),
		newBugreportCommand(cfg, logger),
	)

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if logger == nil {
			return errors.New("logger is required")
		}
		if cfg == nil {
			return errors.New("config is required")
		}
		logger.With("command", cmd.Name()).Debug("command invocation")
		return nil
	}
	return root
}

// newApp builds the backend with modes detected from the executable name,
// the --dev flag and the environment.
func newApp(cfg *config.Config, logger *log.Logger, opts *rootOptions) (*app.App, error) {
	executable, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	modes := session.DetectModes(session.ModeSources{
		Executable: executable,
		DevFlag:    opts.dev,
		Getenv:     os.Getenv,
	})
	return app.New(app.Options{
		Config:     *cfg,
		Modes:      modes,
		Logger:     logger,
		Executable: executable,
		Persist:    true,
	})
}

// resolveCommandName returns the first non-flag argument, or "root".
func resolveCommandName(args []string) string {
	for _, arg := range args {
		if arg == "--mcp" {
			return "mcp"
		}
		if strings.HasPrefix(arg, "-") {
			continue
		}
		return arg
	}
	return "root"
}
