// Package console is a line-oriented chat frontend for terminals.
package console

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"golang.org/x/term"

	"github.com/clawd-mascot/mascot/internal/events"
	"github.com/clawd-mascot/mascot/internal/router"
	"github.com/clawd-mascot/mascot/internal/supervisor"
)

const (
	defaultWidth = 80
	stopTimeout  = 10 * time.Second
)

// Agent is the part of the app the console drives.
type Agent interface {
	SendMessage(ctx context.Context, prompt string, images []string) (string, error)
	Stop(ctx context.Context) error
	RespondPlanExit(toolUseID string, approved bool, feedback string) error
	RespondQuestion(toolUseID string, answers map[string]string) error
	Handle(ctx context.Context, command string, params json.RawMessage) (any, error)
	Events() events.Bus
}

// Options configures a Console.
type Options struct {
	In     io.Reader
	Out    io.Writer
	Styles *Styles
	// Width is the markdown wrap width; zero probes the terminal.
	Width  int
	Logger *log.Logger
}

// Console reads prompts and answers from one input and renders turns.
type Console struct {
	agent  Agent
	in     io.Reader
	out    io.Writer
	styles Styles
	width  int
	logger *log.Logger

	reader *bufio.Reader
	lines  chan lineResult
	once   sync.Once
}

type lineResult struct {
	line string
	err  error
}

// New builds a console over agent.
func New(agent Agent, opts Options) *Console {
	c := &Console{
		agent:  agent,
		in:     opts.In,
		out:    opts.Out,
		width:  opts.Width,
		logger: opts.Logger,
	}
	if c.in == nil {
		c.in = os.Stdin
	}
	if c.out == nil {
		c.out = os.Stdout
	}
	if c.logger == nil {
		c.logger = log.New(io.Discard)
	}
	if opts.Styles != nil {
		c.styles = *opts.Styles
	} else {
		c.styles = DefaultStyles()
	}
	if c.width <= 0 {
		c.width = TerminalWidth(c.out)
	}
	c.reader = bufio.NewReader(c.in)
	return c
}

// TerminalWidth returns the width of w when it is a terminal, else 80.
func TerminalWidth(w io.Writer) int {
	file, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(file.Fd())) {
		return defaultWidth
	}
	width, _, err := term.GetSize(int(file.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}

// Run chats until input ends, /quit, or ctx is done. A cancelled context
// stops the running turn first.
func (c *Console) Run(ctx context.Context) error {
	notifications := make(chan events.Notification, events.DefaultBufferSize)
	done := make(chan struct{})
	unsubscribe := c.agent.Events().SubscribeAll(func(notification events.Notification) {
		select {
		case notifications <- notification:
		case <-done:
		}
	})
	defer unsubscribe()
	defer close(done)

	c.println(c.styles.Accent.Render(iconMascot+" mascot") + c.styles.Muted.Render("  /help for commands, /quit to leave"))
	for {
		c.print(c.styles.Accent.Render("you "+iconPrompt) + " ")
		line, err := c.nextLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.println("")
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := c.slash(ctx, line)
			if err != nil {
				c.println(c.styles.Error.Render(iconFailed + " " + err.Error()))
			}
			if quit {
				return nil
			}
			continue
		}

		turnID, err := c.agent.SendMessage(ctx, line, nil)
		if err != nil {
			c.println(c.styles.Error.Render(iconFailed + " " + err.Error()))
			continue
		}
		if err := c.awaitTurn(ctx, turnID, notifications); err != nil {
			return err
		}
	}
}

// nextLine reads on a single goroutine so prompts and answers never race
// for the same input.
func (c *Console) nextLine(ctx context.Context) (string, error) {
	c.once.Do(func() {
		c.lines = make(chan lineResult, 1)
		go func() {
			for {
				line, err := readLine(c.reader)
				c.lines <- lineResult{line: line, err: err}
				if err != nil {
					close(c.lines)
					return
				}
			}
		}()
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case result, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return result.line, result.err
	}
}

func (c *Console) nextMultiline(ctx context.Context) (string, error) {
	var lines []string
	for {
		line, err := c.nextLine(ctx)
		if errors.Is(err, io.EOF) || (err == nil && strings.TrimSpace(line) == "") {
			return strings.Join(lines, "\n"), nil
		}
		if err != nil {
			return "", err
		}
		lines = append(lines, line)
	}
}

func (c *Console) awaitTurn(ctx context.Context, turnID string, notifications <-chan events.Notification) error {
	streamed := false
	for {
		select {
		case <-ctx.Done():
			c.stop()
			return ctx.Err()
		case notification := <-notifications:
			if notification.TurnID != "" && notification.TurnID != turnID {
				continue
			}
			done, err := c.render(ctx, notification, &streamed)
			if err != nil {
				c.stop()
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (c *Console) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := c.agent.Stop(ctx); err != nil {
		c.logger.Warn("console: stop turn", "error", err)
	}
}

// render prints one notification and reports whether the turn is over.
func (c *Console) render(ctx context.Context, notification events.Notification, streamed *bool) (bool, error) {
	switch payload := notification.Payload.(type) {
	case string:
		if notification.Name == events.NameStream {
			if !*streamed {
				c.print(c.styles.Accent.Render(iconMascot) + " ")
			}
			*streamed = true
			c.print(payload)
		}
	case router.ToolUse:
		c.breakStream(streamed)
		c.println(c.styles.Muted.Render(iconTool + " " + payload.Tool))
	case json.RawMessage:
		c.breakStream(streamed)
		c.renderMascotAction(notification.Name, payload)
	case router.SubagentStart:
		c.breakStream(streamed)
		label := payload.Description
		if label == "" {
			label = payload.ID
		}
		c.println(c.styles.Info.Render(iconAgent + " subagent: " + label))
	case router.SubagentEnd:
		c.println(c.styles.Muted.Render(iconAgent + " subagent finished: " + payload.ID))
	case router.PlanExitRequest:
		c.breakStream(streamed)
		decision, err := c.askPlan(ctx, payload)
		if err != nil {
			return false, err
		}
		if err := c.agent.RespondPlanExit(payload.ToolUseID, decision.Approved, decision.Feedback); err != nil {
			c.println(c.styles.Error.Render(iconFailed + " " + err.Error()))
		}
	case router.QuestionRequest:
		c.breakStream(streamed)
		answers, err := c.askQuestions(ctx, payload)
		if err != nil {
			return false, err
		}
		if err := c.agent.RespondQuestion(payload.ToolUseID, answers); err != nil {
			c.println(c.styles.Error.Render(iconFailed + " " + err.Error()))
		}
	case router.Result:
		if !*streamed && strings.TrimSpace(payload.Text) != "" {
			c.println(c.renderMarkdown(payload.Text))
		}
		c.breakStream(streamed)
		c.println(c.styles.Success.Render(iconDone + " done"))
	case router.ErrorInfo:
		c.breakStream(streamed)
		c.println(c.styles.Error.Render(iconFailed + " " + payload.Error))
	case supervisor.PhaseChange:
		return payload.To == "idle", nil
	}
	return false, nil
}

func (c *Console) breakStream(streamed *bool) {
	if *streamed {
		c.println("")
		*streamed = false
	}
}

func (c *Console) renderMascotAction(name string, args json.RawMessage) {
	var fields struct {
		Emotion string `json:"emotion"`
		Target  string `json:"target"`
	}
	_ = json.Unmarshal(args, &fields)
	switch name {
	case events.NameEmotion:
		c.println(c.styles.Muted.Render(iconMascot + " mascot feels " + fields.Emotion))
	case events.NameMove:
		c.println(c.styles.Muted.Render(iconMascot + " mascot walks to " + fields.Target))
	}
}

func (c *Console) slash(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	command, arg := fields[0], strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
	switch command {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		c.println(c.styles.Panel.Render(strings.Join([]string{
			"/clear           forget the conversation",
			"/backend [name]  show or switch backend (claude, codex)",
			"/cwd [path]      show or set the working directory",
			"/recent          list recent working directories",
			"/quit            leave",
		}, "\n")))
		return false, nil
	case "/clear":
		_, err := c.agent.Handle(ctx, "clear_agent_session", nil)
		if err == nil {
			c.println(c.styles.Muted.Render("session cleared"))
		}
		return false, err
	case "/backend":
		if arg == "" {
			return false, c.show(ctx, "get_backend_mode")
		}
		params, _ := json.Marshal(map[string]string{"mode": arg})
		if _, err := c.agent.Handle(ctx, "set_backend_mode", params); err != nil {
			return false, err
		}
		return false, c.show(ctx, "get_backend_mode")
	case "/cwd":
		if arg == "" {
			return false, c.show(ctx, "get_actual_cwd")
		}
		params, _ := json.Marshal(map[string]string{"path": arg})
		if _, err := c.agent.Handle(ctx, "set_sidecar_cwd", params); err != nil {
			return false, err
		}
		return false, c.show(ctx, "get_actual_cwd")
	case "/recent":
		return false, c.show(ctx, "get_recent_cwds")
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", command)
	}
}

func (c *Console) show(ctx context.Context, command string) error {
	result, err := c.agent.Handle(ctx, command, nil)
	if err != nil {
		return err
	}
	switch value := result.(type) {
	case []string:
		for _, item := range value {
			c.println(c.styles.Info.Render(item))
		}
	default:
		c.println(c.styles.Info.Render(fmt.Sprint(value)))
	}
	return nil
}

func (c *Console) renderMarkdown(markdown string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(max(40, c.width)),
	)
	if err != nil {
		return markdown
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimRight(rendered, "\n")
}

func (c *Console) print(text string) {
	_, _ = io.WriteString(c.out, text)
}

func (c *Console) println(text string) {
	c.print(text + "\n")
}
