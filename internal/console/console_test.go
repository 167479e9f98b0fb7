package console

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/clawd-mascot/mascot/internal/events"
	"github.com/clawd-mascot/mascot/internal/router"
	"github.com/clawd-mascot/mascot/internal/supervisor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeAgent struct {
	bus *events.InMemoryBus

	mu        sync.Mutex
	prompts   []string
	plans     []PlanDecision
	answers   []map[string]string
	commands  []string
	stops     int
	script    func(turnID string)
	onPlan    func(turnID string)
	onAnswers func(turnID string)
	sendErr   error
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{bus: events.New()}
}

func (f *fakeAgent) publish(turnID, name string, payload any) {
	f.bus.Publish(events.Notification{Name: name, TurnID: turnID, Payload: payload})
}

func (f *fakeAgent) finish(turnID string, result router.Result) {
	f.publish(turnID, events.NameResult, result)
	f.publish(turnID, events.NameState, supervisor.PhaseChange{From: "draining", To: "idle"})
}

func (f *fakeAgent) SendMessage(_ context.Context, prompt string, _ []string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	turnID := "turn-" + string(rune('0'+len(f.prompts)))
	script, err := f.script, f.sendErr
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	if script != nil {
		script(turnID)
	}
	return turnID, nil
}

func (f *fakeAgent) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeAgent) RespondPlanExit(_ string, approved bool, feedback string) error {
	f.mu.Lock()
	f.plans = append(f.plans, PlanDecision{Approved: approved, Feedback: feedback})
	next := f.onPlan
	f.mu.Unlock()
	if next != nil {
		next("turn-1")
	}
	return nil
}

func (f *fakeAgent) RespondQuestion(_ string, answers map[string]string) error {
	f.mu.Lock()
	f.answers = append(f.answers, answers)
	next := f.onAnswers
	f.mu.Unlock()
	if next != nil {
		next("turn-1")
	}
	return nil
}

func (f *fakeAgent) Handle(_ context.Context, command string, params json.RawMessage) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command+" "+string(params))
	switch command {
	case "get_backend_mode":
		return "codex", nil
	case "get_recent_cwds":
		return []string{"/a", "/b"}, nil
	case "set_sidecar_cwd":
		return nil, errors.New("Directory does not exist: /nope")
	}
	return nil, nil
}

func (f *fakeAgent) Events() events.Bus {
	return f.bus
}

func runConsole(t *testing.T, agent *fakeAgent, input string) string {
	t.Helper()
	defer agent.bus.Close()
	styles := PlainStyles()
	out := &bytes.Buffer{}
	c := New(agent, Options{In: strings.NewReader(input), Out: out, Styles: &styles, Width: 80})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))
	return out.String()
}

func TestConsoleStreamsTurnToCompletion(t *testing.T) {
	agent := newFakeAgent()
	agent.script = func(turnID string) {
		agent.publish("other-turn", events.NameStream, "ignored")
		agent.publish(turnID, events.NameStream, "Hello ")
		agent.publish(turnID, events.NameStream, "there")
		agent.publish(turnID, events.NameEmotion, json.RawMessage(`{"emotion":"happy"}`))
		agent.publish(turnID, events.NameToolUse, router.ToolUse{ID: "t1", Tool: "mcp__mascot__set_emotion"})
		agent.finish(turnID, router.Result{Success: true, Text: "Hello there"})
	}

	out := runConsole(t, agent, "hi mascot\n/quit\n")

	assert.Equal(t, []string{"hi mascot"}, agent.prompts)
	assert.Contains(t, out, "Hello there\n")
	assert.Contains(t, out, "mascot feels happy")
	assert.Contains(t, out, iconTool+" mcp__mascot__set_emotion")
	assert.Contains(t, out, iconDone+" done")
	assert.NotContains(t, out, "ignored")
}

func TestConsoleRendersErrorsAndKeepsGoing(t *testing.T) {
	agent := newFakeAgent()
	agent.script = func(turnID string) {
		agent.publish(turnID, events.NameError, router.ErrorInfo{Error: "process exited with status 3"})
		agent.publish(turnID, events.NameState, supervisor.PhaseChange{From: "failed", To: "idle"})
	}

	out := runConsole(t, agent, "first\nsecond\n")

	assert.Equal(t, []string{"first", "second"}, agent.prompts)
	assert.Equal(t, 2, strings.Count(out, iconFailed+" process exited with status 3"))
}

func TestConsoleReportsSendFailure(t *testing.T) {
	agent := newFakeAgent()
	agent.sendErr = errors.New("a turn is already in progress")

	out := runConsole(t, agent, "hello\n")
	assert.Contains(t, out, iconFailed+" a turn is already in progress")
}

func TestConsolePlanRejectionCollectsFeedback(t *testing.T) {
	agent := newFakeAgent()
	agent.script = func(turnID string) {
		agent.publish(turnID, events.NameExitPlanMode, router.PlanExitRequest{ToolUseID: "p1", Plan: "# Plan\n\n1. Refactor"})
	}
	agent.onPlan = func(turnID string) {
		agent.finish(turnID, router.Result{Success: true, Text: "revised"})
	}

	out := runConsole(t, agent, "plan it\nr\nsmaller steps\nplease\n\n")

	require.Len(t, agent.plans, 1)
	assert.Equal(t, PlanDecision{Feedback: "smaller steps\nplease"}, agent.plans[0])
	assert.Contains(t, out, "Refactor")
	assert.Contains(t, out, "revised")
}

func TestConsolePlanApproval(t *testing.T) {
	agent := newFakeAgent()
	agent.script = func(turnID string) {
		agent.publish(turnID, events.NameExitPlanMode, router.PlanExitRequest{ToolUseID: "p1", Plan: "do it"})
	}
	agent.onPlan = func(turnID string) {
		agent.finish(turnID, router.Result{Success: true})
	}

	runConsole(t, agent, "go\na\n")

	require.Len(t, agent.plans, 1)
	assert.True(t, agent.plans[0].Approved)
}

func TestConsoleAnswersQuestions(t *testing.T) {
	agent := newFakeAgent()
	agent.script = func(turnID string) {
		agent.publish(turnID, events.NameAskQuestion, router.QuestionRequest{
			ToolUseID: "q1",
			Questions: []router.Question{
				{Question: "Which color?", Header: "Color", Options: []router.QuestionOption{{Label: "Red"}, {Label: "Blue", Description: "calm"}}},
				{Question: "Which sides?", MultiSelect: true, Options: []router.QuestionOption{{Label: "Left"}, {Label: "Right"}}},
			},
		})
	}
	agent.onAnswers = func(turnID string) {
		agent.finish(turnID, router.Result{Success: true})
	}

	out := runConsole(t, agent, "ask me\n\n2\n1, right\n")

	require.Len(t, agent.answers, 1)
	assert.Equal(t, map[string]string{"Which color?": "Blue", "Which sides?": "Left, Right"}, agent.answers[0])
	assert.Contains(t, out, "an answer is required")
	assert.Contains(t, out, "[Color]")
}

func TestConsoleSlashCommands(t *testing.T) {
	agent := newFakeAgent()

	out := runConsole(t, agent, "/backend\n/backend codex\n/recent\n/cwd /nope\n/clear\n/bogus\n/help\n")

	assert.Empty(t, agent.prompts)
	assert.Contains(t, agent.commands, `set_backend_mode {"mode":"codex"}`)
	assert.Contains(t, agent.commands, "clear_agent_session ")
	assert.Contains(t, out, "codex")
	assert.Contains(t, out, "/a\n/b\n")
	assert.Contains(t, out, "Directory does not exist: /nope")
	assert.Contains(t, out, "session cleared")
	assert.Contains(t, out, "unknown command /bogus")
	assert.Contains(t, out, "/backend [name]")
}

func TestConsoleCancelStopsTurn(t *testing.T) {
	agent := newFakeAgent()
	defer agent.bus.Close()
	started := make(chan struct{})
	agent.script = func(string) { close(started) }

	styles := PlainStyles()
	c := New(agent, Options{In: strings.NewReader("hang\n"), Out: &bytes.Buffer{}, Styles: &styles, Width: 80})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	<-started
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, agent.stops)
}

func TestResolveAnswer(t *testing.T) {
	question := router.Question{Options: []router.QuestionOption{{Label: "Yes"}, {Label: "No"}}}
	assert.Equal(t, "No", resolveAnswer(question, "2"))
	assert.Equal(t, "Yes", resolveAnswer(question, "yes"))
	assert.Equal(t, "maybe later", resolveAnswer(question, "maybe later"))
	assert.Equal(t, "7", resolveAnswer(question, "7"))
	assert.Equal(t, "", resolveAnswer(question, "   "))
}
