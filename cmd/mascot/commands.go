package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clawd-mascot/mascot/internal/app"
	"github.com/clawd-mascot/mascot/internal/bridge"
	"github.com/clawd-mascot/mascot/internal/config"
	"github.com/clawd-mascot/mascot/internal/console"
	"github.com/clawd-mascot/mascot/internal/harness"
	"github.com/clawd-mascot/mascot/internal/imaging"
	"github.com/clawd-mascot/mascot/internal/mcpserver"
)

const closeTimeout = 10 * time.Second

func closeApp(a *app.App, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		logger.Warn("close app", "error", err)
	}
}

func newServeCommand(cfg *config.Config, logger *log.Logger, opts *rootOptions) *cobra.Command {
	var wsAddr string
	var noStdio bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve commands and events to a frontend over stdio and, optionally, a websocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			wsAddr = strings.TrimSpace(wsAddr)
			if noStdio && wsAddr == "" {
				return fmt.Errorf("nothing to serve: pass --ws or drop --no-stdio")
			}
			a, err := newApp(cfg, logger, opts)
			if err != nil {
				return err
			}
			defer closeApp(a, logger)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			group, ctx := errgroup.WithContext(ctx)
			if !noStdio {
				stdio := bridge.NewStdio(a, a.Events(), logger.With("component", "bridge"))
				group.Go(func() error {
					// The frontend closing stdin ends the whole process.
					defer cancel()
					err := stdio.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				})
			}
			if wsAddr != "" {
				ws := bridge.NewWebSocket(a, a.Events(), logger.With("component", "bridge"))
				group.Go(func() error {
					return ws.ListenAndServe(ctx, wsAddr)
				})
			}
			return group.Wait()
		},
	}
	cmd.Flags().StringVar(&wsAddr, "ws", "", "also serve a websocket bridge on this address")
	cmd.Flags().Lookup("ws").NoOptDefVal = cfg.Server.WebsocketAddr
	cmd.Flags().BoolVar(&noStdio, "no-stdio", false, "do not serve on stdin/stdout")
	return cmd
}

func newMCPCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the mascot MCP tools on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMCP(cmd.Context(), cfg, logger, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runMCP(ctx context.Context, cfg *config.Config, logger *log.Logger, in io.Reader, out io.Writer) error {
	command := cfg.Screenshot.Command
	if len(command) == 0 {
		command = mcpserver.DefaultScreenshotCommand()
	}
	registry := mcpserver.NewRegistry()
	mcpserver.RegisterMascotTools(registry, mcpserver.CommandCapturer{
		Command: command,
		Options: imaging.Options{MaxDimension: cfg.Screenshot.MaxDimension, Quality: cfg.Screenshot.JPEGQuality},
	})
	server := mcpserver.NewServer("mascot", Version, registry, logger.With("component", "mcp"))
	logger.Info("mcp server started", "tools", len(registry.Definitions()))
	err := server.Serve(ctx, in, out)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func newChatCommand(cfg *config.Config, logger *log.Logger, opts *rootOptions) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent in this terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cfg, logger, opts)
			if err != nil {
				return err
			}
			defer closeApp(a, logger)

			consoleOpts := console.Options{In: cmd.InOrStdin(), Out: cmd.OutOrStdout(), Logger: logger.With("component", "console")}
			if plain {
				styles := console.PlainStyles()
				consoleOpts.Styles = &styles
			}
			err = console.New(a, consoleOpts).Run(cmd.Context())
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "disable colors and borders")
	return cmd
}

func newCheckCommand(cfg *config.Config, logger *log.Logger, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "check [claude|codex]",
		Short:     "Check that the backend CLIs are installed",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(harness.KindClaude), string(harness.KindCodex)},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg, logger, opts)
			if err != nil {
				return err
			}
			defer closeApp(a, logger)

			kinds := harness.Kinds()
			if len(args) == 1 {
				kind, err := harness.ParseKind(args[0])
				if err != nil {
					return err
				}
				kinds = []harness.Kind{kind}
			}

			results := make([]harness.Availability, 0, len(kinds))
			for _, kind := range kinds {
				availability, err := a.CheckCLI(cmd.Context(), string(kind))
				if err != nil {
					return err
				}
				results = append(results, availability)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderAvailability(results, a.Backend()))
			if err != nil {
				return err
			}
			for _, result := range results {
				if !result.Available {
					return fmt.Errorf("%s CLI unavailable", result.Kind)
				}
			}
			return nil
		},
	}
}

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true)
)

func renderAvailability(results []harness.Availability, active harness.Kind) string {
	lines := make([]string, 0, len(results))
	for _, result := range results {
		name := string(result.Kind)
		if result.Kind == active {
			name += "*"
		}
		name = headerStyle.Width(8).Render(name)
		if result.Available {
			lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
				name, okStyle.Render("✓ "), result.Version, mutedStyle.Render("  "+result.Path)))
			continue
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, name, failStyle.Render("✗ "), result.Message))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func newSessionCommand(cfg *config.Config, logger *log.Logger, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or clear the persisted session history",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the last session id written for each backend",
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := newApp(cfg, logger, opts)
				if err != nil {
					return err
				}
				defer closeApp(a, logger)
				for _, kind := range harness.Kinds() {
					id, path, err := a.PersistedSession(kind)
					if err != nil {
						return err
					}
					if id == "" {
						id = mutedStyle.Render("(none)")
					}
					if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%-7s %s  %s\n", kind, id, mutedStyle.Render(path)); err != nil {
						return err
					}
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete the persisted session history files",
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := newApp(cfg, logger, opts)
				if err != nil {
					return err
				}
				defer closeApp(a, logger)
				if err := a.RemovePersistedSessions(); err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "session history cleared")
				return err
			},
		},
	)
	return cmd
}
