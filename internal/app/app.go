// Package app wires the session store, router and supervisor into the
// command surface the frontends call.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/clawd-mascot/mascot/internal/config"
	"github.com/clawd-mascot/mascot/internal/events"
	"github.com/clawd-mascot/mascot/internal/harness"
	"github.com/clawd-mascot/mascot/internal/router"
	"github.com/clawd-mascot/mascot/internal/session"
	"github.com/clawd-mascot/mascot/internal/state"
	"github.com/clawd-mascot/mascot/internal/supervisor"
)

// Checker probes backend availability.
type Checker interface {
	Check(ctx context.Context, kind harness.Kind, binary string, bundled []string) harness.Availability
}

// Options configures New.
type Options struct {
	Config     config.Config
	Modes      session.Modes
	Logger     *log.Logger
	Executable string
	// Persist disables session history files when false.
	Persist bool

	// Overrides for tests.
	Resolver supervisor.Resolver
	Checker  Checker
	Command  supervisor.CommandFactory
	TempDir  string
}

// App is the backend of one mascot instance.
type App struct {
	cfg        config.Config
	store      *session.Store
	router     *router.Router
	supervisor *supervisor.Supervisor
	bus        *events.InMemoryBus
	checker    Checker
	logger     *log.Logger
}

// New builds an App. The backend named in the config becomes active.
func New(opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	backend, err := harness.ParseKind(opts.Config.Backend)
	if err != nil {
		return nil, err
	}

	dataDir := ""
	if opts.Persist {
		dataDir = opts.Config.DataDir()
	}
	bus := events.New(
		events.WithBufferSize(opts.Config.Server.NotificationBuffer),
		events.WithLogger(logger.With("component", "events")),
	)
	store := session.NewStore(backend, opts.Modes, dataDir, logger.With("component", "session"))
	rtr := router.New(store, bus, logger.With("component", "router"))

	locator := harness.NewLocator(opts.Config.Paths.ResourceDir)
	resolver := opts.Resolver
	if resolver == nil {
		resolver = locator
	}
	checker := opts.Checker
	if checker == nil {
		checker = locator
	}

	sup, err := supervisor.New(supervisor.Options{
		Config:     opts.Config,
		Store:      store,
		Router:     rtr,
		Publisher:  bus,
		Resolver:   resolver,
		Logger:     logger.With("component", "supervisor"),
		Command:    opts.Command,
		Executable: opts.Executable,
		TempDir:    opts.TempDir,
	})
	if err != nil {
		bus.Close()
		return nil, err
	}

	logger.Info("app ready", "backend", backend, "dev", opts.Modes.Dev, "persona", opts.Modes.Persona, "data_dir", dataDir)
	return &App{
		cfg:        opts.Config,
		store:      store,
		router:     rtr,
		supervisor: sup,
		bus:        bus,
		checker:    checker,
		logger:     logger,
	}, nil
}

// Events exposes the notification bus for frontends.
func (a *App) Events() events.Bus {
	return a.bus
}

// SendMessage starts a turn on the active backend and returns its id.
func (a *App) SendMessage(ctx context.Context, prompt string, images []string) (string, error) {
	return a.supervisor.Start(ctx, supervisor.TurnRequest{Prompt: prompt, Images: images})
}

// Stop cancels the running turn, if any.
func (a *App) Stop(ctx context.Context) error {
	return a.supervisor.Cancel(ctx)
}

// WaitIdle blocks until the running turn, if any, is released.
func (a *App) WaitIdle(ctx context.Context) error {
	return a.supervisor.Wait(ctx)
}

// Phase reports the turn phase.
func (a *App) Phase() state.Phase {
	return a.supervisor.Phase()
}

// Backend returns the active backend name.
func (a *App) Backend() harness.Kind {
	return a.store.Backend()
}

// SetBackend validates and switches the backend for subsequent turns.
func (a *App) SetBackend(name string) error {
	kind, err := harness.ParseKind(name)
	if err != nil {
		return err
	}
	a.store.SetBackend(kind)
	a.logger.Info("backend switched", "backend", kind)
	return nil
}

// SessionID returns the in-memory session id of kind.
func (a *App) SessionID(kind harness.Kind) string {
	return a.store.SessionID(kind)
}

// ClearSession forgets the active backend's session.
func (a *App) ClearSession() {
	a.ClearBackendSession(a.store.Backend())
}

// ClearBackendSession forgets one backend's session.
func (a *App) ClearBackendSession(kind harness.Kind) {
	a.store.ClearSession(kind)
	a.logger.Info("session cleared", "backend", kind)
}

// ClearAllSessions forgets every backend's session.
func (a *App) ClearAllSessions() {
	a.store.ClearSessions()
	a.logger.Info("all sessions cleared")
}

// PersistedSession returns the last session id written to disk for kind
// together with the history file path.
func (a *App) PersistedSession(kind harness.Kind) (id, path string, err error) {
	id, err = a.store.LastPersisted(kind)
	return id, a.store.SessionPath(kind), err
}

// RemovePersistedSessions deletes every backend's history file.
func (a *App) RemovePersistedSessions() error {
	var errs []error
	for _, kind := range harness.Kinds() {
		errs = append(errs, a.store.RemovePersisted(kind))
	}
	return errors.Join(errs...)
}

// SetWorkingDirectory sets the override and starts fresh conversations.
func (a *App) SetWorkingDirectory(path string) error {
	if err := a.store.SetWorkingDirectory(path); err != nil {
		return err
	}
	a.logger.Info("working directory set; sessions cleared", "path", path)
	return nil
}

// WorkingDirectory returns the override, or "" when unset.
func (a *App) WorkingDirectory() string {
	return a.store.WorkingDirectory()
}

// ActualWorkingDirectory returns the override, else the configured default,
// else the process working directory.
func (a *App) ActualWorkingDirectory() string {
	if dir := a.store.WorkingDirectory(); dir != "" {
		return dir
	}
	if dir := strings.TrimSpace(a.cfg.Paths.DefaultWorkdir); dir != "" {
		return dir
	}
	if dir, err := os.Getwd(); err == nil {
		return dir
	}
	return "."
}

// RecentDirectories returns most-recent-first working directories.
func (a *App) RecentDirectories() []string {
	return a.store.RecentDirectories()
}

// Modes returns the startup feature flags.
func (a *App) Modes() session.Modes {
	return a.store.Modes()
}

// CheckCLI probes one backend, or the active one when name is empty.
func (a *App) CheckCLI(ctx context.Context, name string) (harness.Availability, error) {
	kind := a.store.Backend()
	if strings.TrimSpace(name) != "" {
		parsed, err := harness.ParseKind(name)
		if err != nil {
			return harness.Availability{}, err
		}
		kind = parsed
	}

	timeout := a.cfg.ProbeTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var availability harness.Availability
	switch kind {
	case harness.KindCodex:
		availability = a.checker.Check(ctx, kind, a.cfg.Codex.Binary, a.cfg.Codex.BundledNames)
	default:
		availability = a.checker.Check(ctx, kind, a.cfg.Claude.Binary, a.cfg.Claude.BundledNames)
	}
	a.logger.Info("cli probe", "backend", kind, "available", availability.Available, "version", availability.Version)
	return availability, nil
}

// RespondPlanExit answers a pending plan-exit request.
func (a *App) RespondPlanExit(toolUseID string, approved bool, feedback string) error {
	return a.router.RespondToPlanExit(toolUseID, approved, feedback)
}

// RespondQuestion answers a pending question.
func (a *App) RespondQuestion(toolUseID string, answers map[string]string) error {
	return a.router.RespondToQuestion(toolUseID, answers)
}

// SendToolResult writes a caller-built tool result to the running turn.
func (a *App) SendToolResult(result harness.ToolResult) error {
	return a.router.SendToolResult(result)
}

// Close cancels any running turn and closes the bus.
func (a *App) Close(ctx context.Context) error {
	err := a.supervisor.Shutdown(ctx)
	a.bus.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown supervisor: %w", err)
	}
	return nil
}
