// Package supervisor owns the backend child process for one turn: spawn,
// initial message, stream readers, exit handling and cancellation.
package supervisor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/clawd-mascot/mascot/internal/config"
	"github.com/clawd-mascot/mascot/internal/events"
	"github.com/clawd-mascot/mascot/internal/harness"
	"github.com/clawd-mascot/mascot/internal/harness/claude"
	"github.com/clawd-mascot/mascot/internal/harness/codex"
	"github.com/clawd-mascot/mascot/internal/imaging"
	"github.com/clawd-mascot/mascot/internal/procattr"
	"github.com/clawd-mascot/mascot/internal/router"
	"github.com/clawd-mascot/mascot/internal/session"
	"github.com/clawd-mascot/mascot/internal/state"
)

const (
	mcpConfigName    = "mascot-mcp.json"
	codexImagePrefix = "mascot-codex-image"
	maxLoggedLine    = 512
)

var (
	// ErrTurnInProgress is returned by Start while another turn is active.
	ErrTurnInProgress = errors.New("a turn is already in progress")
	// ErrEmptyPrompt is returned by Start when there is nothing to send.
	ErrEmptyPrompt = errors.New("prompt must not be empty")
)

// Resolver locates backend executables.
type Resolver interface {
	Resolve(kind harness.Kind, binary string, bundled []string) (string, error)
}

// CommandFactory builds the child command. It exists so tests can swap the
// executable; the supervisor sets Dir, Env, pipes and process attributes.
type CommandFactory func(name string, args ...string) *exec.Cmd

// TurnRequest is one prompt with optional image attachments given as data
// URLs or bare base64.
type TurnRequest struct {
	Prompt string
	Images []string
}

// PhaseChange is the agent-state payload.
type PhaseChange struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// Options wires a Supervisor.
type Options struct {
	Config    config.Config
	Store     *session.Store
	Router    *router.Router
	Publisher events.Publisher
	Resolver  Resolver
	Drivers   map[harness.Kind]harness.Driver
	Logger    *log.Logger
	Tracer    trace.Tracer
	Command   CommandFactory
	// Executable is this program's path, registered as the MCP tool server.
	Executable string
	// TempDir receives the MCP config and codex image files.
	TempDir string
}

type turn struct {
	id        string
	kind      harness.Kind
	cmd       *exec.Cmd
	done      chan struct{}
	cancelled atomic.Bool
	temps     *imaging.TempFiles
	logger    *log.Logger
	span      trace.Span
	ctx       context.Context
}

// Supervisor runs at most one backend child at a time.
type Supervisor struct {
	cfg        config.Config
	store      *session.Store
	router     *router.Router
	publisher  events.Publisher
	resolver   Resolver
	drivers    map[harness.Kind]harness.Driver
	logger     *log.Logger
	tracer     trace.Tracer
	command    CommandFactory
	machine    *state.Machine
	executable string
	tempDir    string

	mu      sync.Mutex
	current *turn
}

// New validates opts and builds a Supervisor.
func New(opts Options) (*Supervisor, error) {
	if opts.Store == nil {
		return nil, errors.New("supervisor: session store is required")
	}
	if opts.Router == nil {
		return nil, errors.New("supervisor: router is required")
	}

	s := &Supervisor{
		cfg:        opts.Config,
		store:      opts.Store,
		router:     opts.Router,
		publisher:  opts.Publisher,
		resolver:   opts.Resolver,
		drivers:    opts.Drivers,
		logger:     opts.Logger,
		tracer:     opts.Tracer,
		command:    opts.Command,
		executable: strings.TrimSpace(opts.Executable),
		tempDir:    strings.TrimSpace(opts.TempDir),
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("mascot/supervisor")
	}
	if s.command == nil {
		s.command = exec.Command
	}
	if s.resolver == nil {
		s.resolver = harness.NewLocator(opts.Config.Paths.ResourceDir)
	}
	if s.drivers == nil {
		s.drivers = map[harness.Kind]harness.Driver{
			harness.KindClaude: claude.New(),
			harness.KindCodex:  codex.New(),
		}
	}
	if s.executable == "" {
		if exe, err := os.Executable(); err == nil {
			s.executable = exe
		}
	}
	if s.tempDir == "" {
		s.tempDir = os.TempDir()
	}
	s.machine = state.NewMachine(
		state.WithTracer(otel.Tracer("mascot/state")),
		state.WithObserver(s.publishPhase),
	)
	return s, nil
}

// Phase reports the current turn phase.
func (s *Supervisor) Phase() state.Phase {
	phase, _ := s.machine.Phase()
	return phase
}

// Start spawns the backend for one turn and returns its id once the initial
// message is written. Results arrive asynchronously through the router.
func (s *Supervisor) Start(ctx context.Context, req TurnRequest) (string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" && len(req.Images) == 0 {
		return "", ErrEmptyPrompt
	}

	turnID := uuid.NewString()
	if err := s.machine.Begin(ctx, turnID); err != nil {
		if errors.Is(err, state.ErrBusy) {
			return "", fmt.Errorf("%w: %v", ErrTurnInProgress, err)
		}
		return "", err
	}

	snapshot := s.store.Snapshot()
	turnCtx, span := s.tracer.Start(context.WithoutCancel(ctx), "agent.turn", trace.WithAttributes(
		attribute.String("turn_id", turnID),
		attribute.String("backend", string(snapshot.Backend)),
		attribute.Bool("resume", snapshot.SessionID != ""),
		attribute.Int("images", len(req.Images)),
	))
	t := &turn{
		id:     turnID,
		kind:   snapshot.Backend,
		done:   make(chan struct{}),
		temps:  imaging.NewTempFiles(s.tempDir, codexImagePrefix),
		logger: s.logger.With("turn_id", turnID, "backend", string(snapshot.Backend)),
		span:   span,
		ctx:    turnCtx,
	}

	if err := s.spawn(t, snapshot, prompt, req.Images); err != nil {
		t.temps.Remove(t.logger)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		s.router.Fail(turnID, err)
		if failErr := s.machine.Fail(turnCtx, turnID, err.Error()); failErr != nil {
			t.logger.Error("release failed turn", "error", failErr)
		}
		return "", err
	}
	return turnID, nil
}

func (s *Supervisor) spawn(t *turn, snapshot session.Snapshot, prompt string, images []string) error {
	driver, ok := s.drivers[snapshot.Backend]
	if !ok {
		return fmt.Errorf("no driver for backend %q", snapshot.Backend)
	}

	binary, bundled := s.binaryFor(snapshot.Backend)
	path, err := s.resolver.Resolve(snapshot.Backend, binary, bundled)
	if err != nil {
		return err
	}

	inv := harness.Invocation{
		Executable:   s.executable,
		AllowedTools: s.cfg.Claude.AllowedTools,
		SystemPrompt: harness.SystemPrompt(snapshot.Modes.Dev, snapshot.Modes.Persona),
		ResumeID:     snapshot.SessionID,
		WorkDir:      snapshot.WorkDir,
		Prompt:       prompt,
	}
	inv.SkipPermissions = snapshot.Modes.Dev
	switch snapshot.Backend {
	case harness.KindClaude:
		inv.Model = s.cfg.Claude.Model
	case harness.KindCodex:
		inv.Model = s.cfg.Codex.Model
		inv.ReasoningEffort = s.cfg.Codex.ReasoningEffort
	}

	attachments := s.prepareImages(t, images)
	var initial []byte
	if driver.Interactive() {
		if s.executable != "" {
			configPath, err := writeMCPConfig(s.tempDir, s.executable)
			if err != nil {
				return err
			}
			inv.MCPConfigPath = configPath
		}
		initial, err = driver.EncodeUserMessage(prompt, attachments)
		if err != nil {
			return fmt.Errorf("encode initial message: %w", err)
		}
	} else {
		for _, attachment := range attachments {
			imagePath, err := t.temps.Write(attachment.Data)
			if err != nil {
				t.logger.Warn("skipping image attachment", "error", err)
				continue
			}
			inv.ImagePaths = append(inv.ImagePaths, imagePath)
		}
	}

	args := driver.Args(inv)
	cmd := s.command(path, args...)
	cmd.Dir = snapshot.WorkDir
	if cmd.Dir == "" {
		cmd.Dir = s.cfg.Paths.DefaultWorkdir
	}
	env := cmd.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = append(env, snapshot.Modes.Env()...)
	procattr.Set(cmd)

	var stdin io.WriteCloser
	if driver.Interactive() {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("attach stdin: %w", err)
		}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attach stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("attach stderr: %w", err)
	}

	t.logger.Info("spawning backend", "path", path, "dir", cmd.Dir, "resume", snapshot.SessionID != "", "args", len(args))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", snapshot.Backend, err)
	}
	t.cmd = cmd
	t.span.SetAttributes(attribute.Int("pid", cmd.Process.Pid))

	if err := s.machine.Transition(t.ctx, t.id, state.PhaseStreaming, "process started"); err != nil {
		t.logger.Error("enter streaming phase", "error", err)
	}
	s.router.BeginTurn(t.id, driver, stdin)

	s.mu.Lock()
	s.current = t
	s.mu.Unlock()

	go s.run(t, driver, stdout, stderr)

	if initial != nil {
		if err := s.router.Send(initial); err != nil {
			t.logger.Error("write initial message", "error", err)
			_ = procattr.Kill(cmd.Process)
		}
	}
	return nil
}

func (s *Supervisor) binaryFor(kind harness.Kind) (string, []string) {
	switch kind {
	case harness.KindCodex:
		return s.cfg.Codex.Binary, s.cfg.Codex.BundledNames
	default:
		return s.cfg.Claude.Binary, s.cfg.Claude.BundledNames
	}
}

func (s *Supervisor) prepareImages(t *turn, images []string) []harness.Image {
	out := make([]harness.Image, 0, len(images))
	opts := imaging.Options{MaxDimension: s.cfg.Images.MaxDimension, Quality: s.cfg.Images.JPEGQuality}
	for i, value := range images {
		data, err := imaging.PrepareDataURL(value, opts)
		if err != nil {
			t.logger.Warn("skipping image attachment", "index", i, "error", err)
			continue
		}
		out = append(out, harness.Image{MediaType: imaging.MediaTypeJPEG, Data: data})
	}
	return out
}

// run drives the readers, waits for exit and releases the turn.
func (s *Supervisor) run(t *turn, driver harness.Driver, stdout, stderr io.Reader) {
	defer close(t.done)
	defer t.span.End()

	var group errgroup.Group
	group.Go(func() error {
		return s.readStdout(t, driver.NewParser(), stdout)
	})
	group.Go(func() error {
		return s.readStderr(t, stderr)
	})
	readErr := group.Wait()
	if readErr != nil {
		t.logger.Error("stream read failed", "error", readErr)
		_ = procattr.Kill(t.cmd.Process)
	}

	if err := s.machine.Transition(t.ctx, t.id, state.PhaseDraining, "output closed"); err != nil {
		t.logger.Error("enter draining phase", "error", err)
	}
	waitErr := t.cmd.Wait()
	cancelled := t.cancelled.Load()
	s.router.EndTurn(waitErr, cancelled)
	t.temps.Remove(t.logger)

	s.mu.Lock()
	if s.current == t {
		s.current = nil
	}
	s.mu.Unlock()

	exitCode := t.cmd.ProcessState.ExitCode()
	t.span.SetAttributes(attribute.Int("exit_code", exitCode), attribute.Bool("cancelled", cancelled))
	var reason string
	switch {
	case cancelled:
		reason = "turn cancelled"
	case readErr != nil:
		reason = readErr.Error()
	case waitErr != nil:
		reason = router.ExitMessage(waitErr)
	}
	if reason != "" {
		t.span.SetStatus(codes.Error, reason)
		t.logger.Warn("turn ended with failure", "reason", reason, "exit_code", exitCode)
		if err := s.machine.Fail(t.ctx, t.id, reason); err != nil {
			t.logger.Error("release failed turn", "error", err)
		}
		return
	}
	t.span.SetStatus(codes.Ok, "turn completed")
	t.logger.Info("turn completed", "exit_code", exitCode)
	if err := s.machine.Transition(t.ctx, t.id, state.PhaseIdle, "process exited"); err != nil {
		t.logger.Error("release turn", "error", err)
	}
}

func (s *Supervisor) readStdout(t *turn, parser harness.Parser, stdout io.Reader) error {
	reader := bufio.NewReader(stdout)
	lines := 0
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			lines++
			s.handleLine(t, parser, line)
		}
		if err != nil {
			t.span.SetAttributes(attribute.Int("stdout_lines", lines))
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read stdout: %w", err)
		}
	}
}

func (s *Supervisor) handleLine(t *turn, parser harness.Parser, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	parsed, err := parser.Parse(line)
	switch {
	case err == nil:
	case errors.Is(err, harness.ErrSkipLine):
		return
	case errors.Is(err, harness.ErrUnknownEvent):
		t.logger.Debug("ignoring backend event", "error", err)
		return
	default:
		t.logger.Warn("discarding unparseable line", "error", err, "line", truncate(line))
		return
	}
	for _, ev := range parsed {
		if harness.IsTerminal(ev) {
			t.span.AddEvent("turn.terminal")
		}
		s.router.Dispatch(ev)
	}
}

func (s *Supervisor) readStderr(t *turn, stderr io.Reader) error {
	logger := t.logger.With("component", "child-stderr")
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		logger.Debug(scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		// Keep draining so the child never blocks on a full stderr pipe.
		logger.Warn("stderr reader stopped", "error", err)
		_, _ = io.Copy(io.Discard, stderr)
	}
	return nil
}

// Cancel stops the running turn: the process group gets SIGTERM and stdin
// is closed, which also releases a write stuck on a full pipe. SIGKILL
// follows after the configured grace period. It returns once
// both readers have finished. Cancel with no running turn is a no-op.
func (s *Supervisor) Cancel(ctx context.Context) error {
	s.mu.Lock()
	t := s.current
	s.mu.Unlock()
	if t == nil {
		return nil
	}

	t.cancelled.Store(true)
	t.logger.Info("cancelling turn")
	if err := procattr.Terminate(t.cmd.Process); err != nil {
		t.logger.Debug("terminate process group", "error", err)
	}
	s.router.Detach()

	grace := s.cfg.StopGrace
	if grace <= 0 {
		grace = 3 * time.Second
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-t.done:
		return nil
	case <-timer.C:
		t.logger.Warn("backend ignored SIGTERM; killing process group", "grace", grace)
		_ = procattr.Kill(t.cmd.Process)
	case <-ctx.Done():
		_ = procattr.Kill(t.cmd.Process)
		return ctx.Err()
	}

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the running turn, if any, has been released.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	t := s.current
	s.mu.Unlock()
	if t == nil {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels any running turn.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	return s.Cancel(ctx)
}

func (s *Supervisor) publishPhase(record state.TransitionRecord) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(events.Notification{
		Name:      events.NameState,
		TurnID:    record.TurnID,
		Timestamp: record.Timestamp,
		Payload:   PhaseChange{From: string(record.From), To: string(record.To), Reason: record.Reason},
	})
}

type mcpConfig struct {
	MCPServers map[string]mcpServer `json:"mcpServers"`
}

type mcpServer struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// writeMCPConfig registers exe as the "mascot" MCP server for the claude CLI.
func writeMCPConfig(dir, exe string) (string, error) {
	data, err := json.MarshalIndent(mcpConfig{MCPServers: map[string]mcpServer{
		"mascot": {Command: exe, Args: []string{"mcp"}},
	}}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode MCP config: %w", err)
	}
	path := filepath.Join(dir, mcpConfigName)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write MCP config: %w", err)
	}
	return path, nil
}

func truncate(line []byte) string {
	if len(line) <= maxLoggedLine {
		return string(line)
	}
	return string(line[:maxLoggedLine]) + "...[truncated]"
}
