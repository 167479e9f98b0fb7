package invariants

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// InvariantTransitionLegal requires turn phase changes to follow the turn state machine.
	InvariantTransitionLegal = "turn_transition_legal"
	// InvariantReplyCorrelated requires every user reply to name a pending tool invocation.
	InvariantReplyCorrelated = "reply_correlated"
	// InvariantTerminalEventSeen requires a cleanly exiting backend to report a result first.
	InvariantTerminalEventSeen = "terminal_event_seen"
)

const (
	// SeverityWarn is used for non-fatal invariant violations.
	SeverityWarn = "warn"
	// SeverityError is used for fatal invariant violations.
	SeverityError = "error"
)

var invariantChecksEnabled atomic.Bool

func init() {
	invariantChecksEnabled.Store(true)
}

// ViolationDetails captures invariant violation context for telemetry events.
type ViolationDetails struct {
	WhatInvariant string
	WhereDetected string
	WhyViolated   string
	StackTrace    string
	Additional    map[string]string
}

// SetEnabled globally enables or disables invariant checks.
func SetEnabled(enabled bool) {
	invariantChecksEnabled.Store(enabled)
}

// Enabled reports whether invariant checks are currently enabled.
func Enabled() bool {
	return invariantChecksEnabled.Load()
}

// InvariantViolation emits an invariant.violation telemetry event on the active span.
// If the context has no active span, a short synthetic span is created for observability.
func InvariantViolation(
	ctx context.Context,
	invariantName string,
	severity string,
	details ViolationDetails,
) {
	if !Enabled() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	invariantName = strings.TrimSpace(invariantName)
	if invariantName == "" {
		invariantName = "unknown_invariant"
	}
	severity = normalizeSeverity(severity)

	attrs := []attribute.KeyValue{
		attribute.String("invariant_name", invariantName),
		attribute.String("severity", severity),
		attribute.String("what_invariant", strings.TrimSpace(details.WhatInvariant)),
		attribute.String("where_detected", strings.TrimSpace(details.WhereDetected)),
		attribute.String("why_violated", strings.TrimSpace(details.WhyViolated)),
	}
	if stack := strings.TrimSpace(details.StackTrace); stack != "" {
		attrs = append(attrs, attribute.String("stack_trace", stack))
	}

	if len(details.Additional) > 0 {
		keys := make([]string, 0, len(details.Additional))
		for key := range details.Additional {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value := strings.TrimSpace(details.Additional[key])
			if value == "" {
				continue
			}
			attrs = append(attrs, attribute.String("context."+key, value))
		}
	}

	span := trace.SpanFromContext(ctx)
	if span != nil && span.SpanContext().IsValid() {
		span.AddEvent("invariant.violation", trace.WithAttributes(attrs...))
		return
	}

	tracedCtx, temporarySpan := otel.Tracer("mascot/invariants").Start(ctx, "invariant.violation")
	defer temporarySpan.End()
	temporarySpan.AddEvent("invariant.violation", trace.WithAttributes(attrs...))
	_ = tracedCtx
}

// CheckTransitionLegal validates the turn_transition_legal invariant.
func CheckTransitionLegal(ctx context.Context, whereDetected, turnID, fromPhase, toPhase string, legal bool) bool {
	if legal {
		return true
	}
	InvariantViolation(ctx, InvariantTransitionLegal, SeverityError, ViolationDetails{
		WhatInvariant: "turn phase transition is legal",
		WhereDetected: whereDetected,
		WhyViolated:   fmt.Sprintf("illegal transition for turn=%s from=%s to=%s", turnID, fromPhase, toPhase),
		Additional: map[string]string{
			"turn_id":    strings.TrimSpace(turnID),
			"from_phase": strings.TrimSpace(fromPhase),
			"to_phase":   strings.TrimSpace(toPhase),
		},
	})
	return false
}

// CheckReplyCorrelated validates the reply_correlated invariant.
func CheckReplyCorrelated(ctx context.Context, whereDetected, turnID, toolUseID string, pending bool) bool {
	if pending {
		return true
	}
	InvariantViolation(ctx, InvariantReplyCorrelated, SeverityWarn, ViolationDetails{
		WhatInvariant: "reply answers a pending tool invocation",
		WhereDetected: whereDetected,
		WhyViolated:   fmt.Sprintf("no pending exchange %q of the expected kind", toolUseID),
		Additional: map[string]string{
			"turn_id":     strings.TrimSpace(turnID),
			"tool_use_id": strings.TrimSpace(toolUseID),
		},
	})
	return false
}

// CheckTerminalEventSeen validates the terminal_event_seen invariant.
func CheckTerminalEventSeen(ctx context.Context, whereDetected, turnID string, seen bool) bool {
	if seen {
		return true
	}
	InvariantViolation(ctx, InvariantTerminalEventSeen, SeverityWarn, ViolationDetails{
		WhatInvariant: "backend reports a terminal event before a clean exit",
		WhereDetected: whereDetected,
		WhyViolated:   "process exited with status 0 without a result",
		Additional: map[string]string{
			"turn_id": strings.TrimSpace(turnID),
		},
	})
	return false
}

func normalizeSeverity(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case SeverityWarn:
		return SeverityWarn
	case SeverityError:
		return SeverityError
	default:
		return SeverityError
	}
}
