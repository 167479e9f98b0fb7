package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/clawd-mascot/mascot/internal/events"
	"github.com/clawd-mascot/mascot/internal/harness"
	"github.com/clawd-mascot/mascot/internal/telemetry/invariants"
)

// Tool names with interactive or subagent semantics. Matching is exact.
const (
	ToolExitPlanMode    = "ExitPlanMode"
	ToolAskUserQuestion = "AskUserQuestion"
	ToolTask            = "Task"
	ToolAgent           = "Agent"
)

var (
	// ErrNoOpenTurn is returned when a reply is injected with no retained stdin.
	ErrNoOpenTurn = errors.New("no turn is currently open")
	// ErrNotInteractive is returned when the running backend does not read stdin.
	ErrNotInteractive = errors.New("the active backend does not accept replies")
	// ErrUnknownExchange is returned when a reply does not match a pending exchange.
	ErrUnknownExchange = errors.New("no pending exchange with that id")
)

type action int

const (
	actionNone action = iota
	actionEmotion
	actionMove
	actionScreenshot
)

// substring rules, evaluated in order after the exact-match rules.
var toolRules = []struct {
	pattern string
	action  action
}{
	{pattern: "set_emotion", action: actionEmotion},
	{pattern: "move_to", action: actionMove},
	{pattern: "capture_screenshot", action: actionScreenshot},
}

// SessionStore is the slice of the session store the router writes to.
type SessionStore interface {
	SetSessionID(kind harness.Kind, id string)
}

type exchangeKind int

const (
	exchangePlanExit exchangeKind = iota + 1
	exchangeQuestion
)

type sessionUpdate struct {
	kind harness.Kind
	id   string
}

type exchange struct {
	kind      exchangeKind
	questions []Question
	raw       json.RawMessage
}

// Router turns normalized backend events into outward notifications and
// owns the single retained stdin slot used for reply injection.
type Router struct {
	store     SessionStore
	publisher events.Publisher
	logger    *log.Logger
	now       func() time.Time

	// writeMu orders stdin writes; mu is never held across one.
	writeMu sync.Mutex

	mu          sync.Mutex
	turnID      string
	driver      harness.Driver
	stdin       io.WriteCloser
	pending     map[string]exchange
	subagents   []string
	sawTerminal bool
	sawFailure  bool
}

// New builds a Router. A nil logger discards logs.
func New(store SessionStore, publisher events.Publisher, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Router{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		pending:   make(map[string]exchange),
	}
}

// BeginTurn resets per-turn state. stdin may be nil for drivers that do not
// read input after spawn. Any stale handle from a previous turn is closed.
func (r *Router) BeginTurn(turnID string, driver harness.Driver, stdin io.WriteCloser) {
	r.mu.Lock()
	stale := r.stdin
	r.turnID = turnID
	r.driver = driver
	r.stdin = stdin
	r.pending = make(map[string]exchange)
	r.subagents = nil
	r.sawTerminal = false
	r.sawFailure = false
	r.mu.Unlock()

	if stale != nil && stale != stdin {
		_ = stale.Close()
	}
}

// Dispatch routes one event. Notifications are published in call order.
func (r *Router) Dispatch(ev harness.Event) {
	var out []events.Notification
	var sessions []sessionUpdate
	var closeStdin io.WriteCloser

	r.mu.Lock()
	switch ev := ev.(type) {
	case harness.SessionAnnounced:
		out = append(out, r.sessionLocked(ev.SessionID, &sessions)...)
	case harness.TextDelta:
		if ev.Text != "" {
			out = append(out, r.notification(events.NameStream, ev.Text))
		}
	case harness.ToolInvoked:
		out = append(out, r.toolLocked(ev)...)
	case harness.TurnSucceeded:
		out = append(out, r.flushSubagentsLocked()...)
		out = append(out, r.sessionLocked(ev.SessionID, &sessions)...)
		out = append(out, r.notification(events.NameResult, Result{Success: true, Text: ev.Text, SessionID: ev.SessionID}))
		r.sawTerminal = true
		closeStdin = r.detachLocked()
	case harness.TurnFailed:
		out = append(out, r.flushSubagentsLocked()...)
		out = append(out, r.sessionLocked(ev.SessionID, &sessions)...)
		out = append(out, r.notification(events.NameError, ErrorInfo{Error: ev.Reason}))
		r.sawTerminal = true
		r.sawFailure = true
		closeStdin = r.detachLocked()
	case harness.FatalError:
		out = append(out, r.flushSubagentsLocked()...)
		out = append(out, r.notification(events.NameError, ErrorInfo{Error: ev.Message}))
		r.sawFailure = true
	}
	r.mu.Unlock()

	r.saveSessions(sessions)
	r.publish(out)
	if closeStdin != nil {
		_ = closeStdin.Close()
	}
}

// EndTurn closes out the turn after the child has exited. exitErr is the
// error from waiting on the child.
func (r *Router) EndTurn(exitErr error, cancelled bool) {
	r.mu.Lock()
	out := r.flushSubagentsLocked()
	switch {
	case cancelled:
		if !r.sawTerminal && !r.sawFailure {
			out = append(out, r.notification(events.NameError, ErrorInfo{Error: "turn cancelled"}))
		}
	case exitErr != nil:
		if !r.sawFailure {
			out = append(out, r.notification(events.NameError, ErrorInfo{Error: ExitMessage(exitErr)}))
		}
	case !invariants.CheckTerminalEventSeen(context.Background(), "router.EndTurn", r.turnID, r.sawTerminal || r.sawFailure):
		out = append(out, r.notification(events.NameError, ErrorInfo{Error: "process exited before completing the turn"}))
	}
	stdin := r.detachLocked()
	r.pending = make(map[string]exchange)
	r.turnID = ""
	r.driver = nil
	r.mu.Unlock()

	r.publish(out)
	if stdin != nil {
		_ = stdin.Close()
	}
}

// Detach drops the retained stdin handle and closes it. Used to cancel an
// interactive child, which exits once its input ends.
func (r *Router) Detach() {
	r.mu.Lock()
	stdin := r.detachLocked()
	r.mu.Unlock()
	if stdin != nil {
		_ = stdin.Close()
	}
}

// Fail publishes a turn-level error outside the event stream, for example a
// spawn failure.
func (r *Router) Fail(turnID string, err error) {
	if err == nil {
		return
	}
	r.publish([]events.Notification{{
		Name:      events.NameError,
		TurnID:    turnID,
		Timestamp: r.now().UTC(),
		Payload:   ErrorInfo{Error: err.Error()},
	}})
}

// HasOpenTurn reports whether a stdin handle is retained.
func (r *Router) HasOpenTurn() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stdin != nil
}

// PendingExchanges lists ids of unanswered interactive tool calls.
func (r *Router) PendingExchanges() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	return ids
}

// sessionLocked queues the id for the store; saveSessions writes it once
// the router lock is released.
func (r *Router) sessionLocked(id string, updates *[]sessionUpdate) []events.Notification {
	id = strings.TrimSpace(id)
	if id == "" || r.driver == nil {
		return nil
	}
	kind := r.driver.Kind()
	*updates = append(*updates, sessionUpdate{kind: kind, id: id})
	return []events.Notification{r.notification(events.NameSession, SessionInfo{Backend: string(kind), SessionID: id})}
}

func (r *Router) saveSessions(updates []sessionUpdate) {
	if r.store == nil {
		return
	}
	for _, update := range updates {
		r.store.SetSessionID(update.kind, update.id)
	}
}

func (r *Router) toolLocked(ev harness.ToolInvoked) []events.Notification {
	args := harness.RawArguments(ev.Arguments)
	var out []events.Notification

	switch ev.Name {
	case ToolExitPlanMode:
		var input planInput
		if err := json.Unmarshal(args, &input); err != nil {
			r.logger.Warn("router: undecodable plan input", "tool_use_id", ev.ID, "error", err)
		}
		r.pending[ev.ID] = exchange{kind: exchangePlanExit, raw: args}
		out = append(out, r.notification(events.NameExitPlanMode, PlanExitRequest{ToolUseID: ev.ID, Plan: input.Plan}))
	case ToolAskUserQuestion:
		var input questionsInput
		if err := json.Unmarshal(args, &input); err != nil {
			r.logger.Warn("router: undecodable question input", "tool_use_id", ev.ID, "error", err)
		}
		questions := normalizeQuestions(input.Questions)
		r.pending[ev.ID] = exchange{kind: exchangeQuestion, questions: questions, raw: args}
		out = append(out, r.notification(events.NameAskQuestion, QuestionRequest{ToolUseID: ev.ID, Questions: questions}))
	case ToolTask, ToolAgent:
		var input subagentInput
		_ = json.Unmarshal(args, &input)
		if !r.hasSubagentLocked(ev.ID) {
			r.subagents = append(r.subagents, ev.ID)
		}
		out = append(out, r.notification(events.NameSubagentStart, SubagentStart{
			ID:           ev.ID,
			Description:  input.Description,
			SubagentType: input.SubagentType,
		}))
	default:
		switch matchTool(ev.Name) {
		case actionEmotion:
			out = append(out, r.notification(events.NameEmotion, args))
		case actionMove:
			out = append(out, r.notification(events.NameMove, args))
		case actionScreenshot:
			r.logger.Debug("router: screenshot requested", "tool_use_id", ev.ID)
		}
	}

	return append(out, r.notification(events.NameToolUse, ToolUse{ID: ev.ID, Tool: ev.Name, Input: args}))
}

func matchTool(name string) action {
	for _, rule := range toolRules {
		if strings.Contains(name, rule.pattern) {
			return rule.action
		}
	}
	return actionNone
}

func (r *Router) hasSubagentLocked(id string) bool {
	for _, existing := range r.subagents {
		if existing == id {
			return true
		}
	}
	return false
}

func (r *Router) flushSubagentsLocked() []events.Notification {
	if len(r.subagents) == 0 {
		return nil
	}
	out := make([]events.Notification, 0, len(r.subagents))
	for _, id := range r.subagents {
		out = append(out, r.notification(events.NameSubagentEnd, SubagentEnd{ID: id}))
	}
	r.subagents = nil
	return out
}

func (r *Router) detachLocked() io.WriteCloser {
	stdin := r.stdin
	r.stdin = nil
	return stdin
}

func (r *Router) notification(name string, payload any) events.Notification {
	return events.Notification{
		Name:      name,
		TurnID:    r.turnID,
		Timestamp: r.now().UTC(),
		Payload:   payload,
	}
}

func (r *Router) publish(out []events.Notification) {
	if r.publisher == nil {
		return
	}
	for _, notification := range out {
		r.publisher.Publish(notification)
	}
}

// ExitMessage renders a child exit error as the user-facing status text.
func ExitMessage(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return fmt.Sprintf("process exited with status %d", code)
		}
		return fmt.Sprintf("process exited with status %s", exitErr.String())
	}
	return fmt.Sprintf("process exited with status %s", err.Error())
}

func normalizeQuestions(questions []Question) []Question {
	out := make([]Question, 0, len(questions))
	for _, question := range questions {
		question.Question = strings.TrimSpace(question.Question)
		question.Header = strings.TrimSpace(question.Header)
		if question.Question == "" {
			continue
		}
		options := make([]QuestionOption, 0, len(question.Options))
		for _, option := range question.Options {
			option.Label = strings.TrimSpace(option.Label)
			if option.Label == "" {
				continue
			}
			options = append(options, option)
		}
		question.Options = options
		out = append(out, question)
	}
	return out
}
