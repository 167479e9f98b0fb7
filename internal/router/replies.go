package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/clawd-mascot/mascot/internal/harness"
	"github.com/clawd-mascot/mascot/internal/telemetry/invariants"
)

const (
	planApprovedText     = "User has approved your plan. You can now start coding."
	planApprovedFollowUp = "Proceed with the plan."
	planRejectedFallback = "Please revise the plan."
)

// RespondToPlanExit answers a pending plan-exit request.
func (r *Router) RespondToPlanExit(toolUseID string, approved bool, feedback string) error {
	toolUseID = strings.TrimSpace(toolUseID)
	feedback = strings.TrimSpace(feedback)

	result := harness.ToolResult{ToolUseID: toolUseID}
	if approved {
		result.Content = planApprovedText
		result.FollowUp = planApprovedFollowUp
	} else {
		if feedback == "" {
			feedback = planRejectedFallback
		}
		result.Content = "User rejected the plan: " + feedback
		result.IsError = true
		result.FollowUp = feedback
	}
	return r.reply(toolUseID, exchangePlanExit, func(exchange) (harness.ToolResult, error) {
		return result, nil
	})
}

// RespondToQuestion answers a pending question keyed by question text.
func (r *Router) RespondToQuestion(toolUseID string, answers map[string]string) error {
	toolUseID = strings.TrimSpace(toolUseID)
	if len(answers) == 0 {
		return errors.New("at least one answer is required")
	}
	return r.reply(toolUseID, exchangeQuestion, func(pending exchange) (harness.ToolResult, error) {
		if err := ValidateAnswers(pending.questions, answers); err != nil {
			return harness.ToolResult{}, err
		}
		return harness.ToolResult{
			ToolUseID: toolUseID,
			Content:   FormatAnswers(pending.questions, answers),
			Structured: map[string]any{
				"questions": pending.questions,
				"answers":   answers,
			},
		}, nil
	})
}

// SendToolResult writes a caller-built result for any tool invocation of
// the open turn. A matching pending exchange is resolved.
func (r *Router) SendToolResult(result harness.ToolResult) error {
	result.ToolUseID = strings.TrimSpace(result.ToolUseID)
	if result.ToolUseID == "" {
		return errors.New("tool use id is required")
	}
	return r.reply(result.ToolUseID, 0, func(exchange) (harness.ToolResult, error) {
		return result, nil
	})
}

// Send writes one raw line, newline-terminated, to the retained stdin.
// The router lock is not held during the write, so a child that stops
// reading never blocks Detach or Dispatch.
func (r *Router) Send(line []byte) error {
	r.mu.Lock()
	stdin := r.stdin
	r.mu.Unlock()
	if stdin == nil {
		return ErrNoOpenTurn
	}
	payload := make([]byte, 0, len(line)+1)
	payload = append(payload, line...)
	payload = append(payload, '\n')
	if err := r.write(stdin, payload); err != nil {
		return fmt.Errorf("write to backend: %w", err)
	}
	return nil
}

// reply resolves an exchange and writes its encoded lines to stdin.
// kind 0 accepts any id. The exchange is reserved before the write and
// restored if the write fails on the same turn.
func (r *Router) reply(toolUseID string, kind exchangeKind, build func(exchange) (harness.ToolResult, error)) error {
	if toolUseID == "" {
		return errors.New("tool use id is required")
	}

	r.mu.Lock()
	if r.stdin == nil {
		interactive := r.driver == nil || r.driver.Interactive()
		r.mu.Unlock()
		if !interactive {
			return ErrNotInteractive
		}
		return ErrNoOpenTurn
	}
	pending, ok := r.pending[toolUseID]
	if kind != 0 && !invariants.CheckReplyCorrelated(context.Background(), "router.reply", r.turnID, toolUseID, ok && pending.kind == kind) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownExchange, toolUseID)
	}
	result, err := build(pending)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	lines, err := r.driver.EncodeToolResult(result)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("encode tool result: %w", err)
	}
	stdin := r.stdin
	delete(r.pending, toolUseID)
	r.mu.Unlock()

	var payload []byte
	for _, line := range lines {
		payload = append(payload, line...)
		payload = append(payload, '\n')
	}
	if err := r.write(stdin, payload); err != nil {
		if ok {
			r.mu.Lock()
			if r.stdin == stdin {
				r.pending[toolUseID] = pending
			}
			r.mu.Unlock()
		}
		return fmt.Errorf("write reply to backend: %w", err)
	}
	return nil
}

// write serializes whole payloads on stdin. Closing stdin from Detach
// unblocks a stuck write.
func (r *Router) write(stdin io.Writer, payload []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_, err := stdin.Write(payload)
	return err
}

// ValidateAnswers checks that every answer targets a known question.
func ValidateAnswers(questions []Question, answers map[string]string) error {
	known := make(map[string]struct{}, len(questions))
	for _, question := range questions {
		known[question.Question] = struct{}{}
	}
	for question, answer := range answers {
		if _, ok := known[question]; !ok {
			return fmt.Errorf("answer for unknown question %q", question)
		}
		if strings.TrimSpace(answer) == "" {
			return fmt.Errorf("answer for %q is empty", question)
		}
	}
	return nil
}

// FormatAnswers renders answers in question order.
func FormatAnswers(questions []Question, answers map[string]string) string {
	parts := make([]string, 0, len(answers))
	for _, question := range questions {
		answer, ok := answers[question.Question]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%q=%q", question.Question, strings.TrimSpace(answer)))
	}
	return "User has answered your questions: " + strings.Join(parts, ", ") + ". You can now continue with the user's answers in mind."
}
