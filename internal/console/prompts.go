package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/clawd-mascot/mascot/internal/router"
)

// PlanDecision is the user's answer to a plan-exit request.
type PlanDecision struct {
	Approved bool
	Feedback string
}

func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// askPlan renders a plan and reads approve or reject. Anything but "r" approves.
func (c *Console) askPlan(ctx context.Context, request router.PlanExitRequest) (PlanDecision, error) {
	c.println(c.styles.Planning.Render(iconWaiting + " The agent wants to leave plan mode"))
	if strings.TrimSpace(request.Plan) != "" {
		c.println(c.renderMarkdown(request.Plan))
	}
	c.print("Choose: [a]pprove, [r]eject " + iconPrompt + " ")
	choice, err := c.nextLine(ctx)
	if err != nil {
		return PlanDecision{}, err
	}
	if strings.ToLower(strings.TrimSpace(choice)) != "r" {
		return PlanDecision{Approved: true}, nil
	}
	c.println("feedback (blank line to finish):")
	feedback, err := c.nextMultiline(ctx)
	if err != nil {
		return PlanDecision{}, err
	}
	return PlanDecision{Feedback: strings.TrimSpace(feedback)}, nil
}

// askQuestions reads one answer per question. Options are picked by number or
// label; multi-select questions take a comma separated list. Other text is
// passed through as a free-form answer.
func (c *Console) askQuestions(ctx context.Context, request router.QuestionRequest) (map[string]string, error) {
	answers := make(map[string]string, len(request.Questions))
	for _, question := range request.Questions {
		c.renderQuestion(question)
		for {
			c.print(iconPrompt + " ")
			line, err := c.nextLine(ctx)
			if err != nil {
				return nil, err
			}
			answer := resolveAnswer(question, line)
			if answer == "" {
				c.println(c.styles.Error.Render("an answer is required"))
				continue
			}
			answers[question.Question] = answer
			break
		}
	}
	return answers, nil
}

func (c *Console) renderQuestion(question router.Question) {
	if header := strings.TrimSpace(question.Header); header != "" {
		c.println(c.styles.Planning.Render("[" + header + "]"))
	}
	c.println(question.Question)
	for idx, option := range question.Options {
		line := fmt.Sprintf("%d) %s", idx+1, option.Label)
		if option.Description != "" {
			line += c.styles.Muted.Render(" - " + option.Description)
		}
		c.println(line)
	}
	if question.MultiSelect {
		c.println(c.styles.Muted.Render("Enter option numbers or labels separated by commas, or free text"))
	} else {
		c.println(c.styles.Muted.Render("Enter an option number or label, or free text"))
	}
}

func resolveAnswer(question router.Question, line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	parts := []string{line}
	if question.MultiSelect {
		parts = strings.Split(line, ",")
	}
	labels := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		label, ok := matchOption(question.Options, part)
		if !ok {
			// Free text answers the whole question verbatim.
			return line
		}
		labels = append(labels, label)
	}
	return strings.Join(labels, ", ")
}

func matchOption(options []router.QuestionOption, value string) (string, bool) {
	if index, err := strconv.Atoi(value); err == nil {
		if index >= 1 && index <= len(options) {
			return options[index-1].Label, true
		}
		return "", false
	}
	for _, option := range options {
		if strings.EqualFold(option.Label, value) {
			return option.Label, true
		}
	}
	return "", false
}
