package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/clawd-mascot/mascot/internal/telemetry/invariants"
)

// Phase is one step of the turn lifecycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSpawning  Phase = "spawning"
	PhaseStreaming Phase = "streaming"
	PhaseDraining  Phase = "draining"
	PhaseFailed    Phase = "failed"
)

const maxHistory = 64

var allowedTransitions = map[Phase]map[Phase]struct{}{
	PhaseIdle: {
		PhaseSpawning: {},
	},
	PhaseSpawning: {
		PhaseStreaming: {},
		PhaseFailed:    {},
	},
	PhaseStreaming: {
		PhaseDraining: {},
		PhaseFailed:   {},
	},
	PhaseDraining: {
		PhaseIdle:   {},
		PhaseFailed: {},
	},
	PhaseFailed: {
		PhaseIdle: {},
	},
}

// ErrBusy is returned by Begin when a turn is already in flight.
var ErrBusy = errors.New("a turn is already in progress")

// Option configures Machine construction.
type Option func(*Machine)

// WithTracer configures the tracer used for transition spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(machine *Machine) {
		if tracer == nil {
			return
		}
		machine.tracer = tracer
	}
}

// WithObserver registers a callback invoked after every accepted transition.
// It runs outside the machine lock.
func WithObserver(observer func(TransitionRecord)) Option {
	return func(machine *Machine) {
		machine.observer = observer
	}
}

// TransitionRecord stores transition metadata for local history.
type TransitionRecord struct {
	TurnID    string    `json:"turn_id"`
	From      Phase     `json:"from"`
	To        Phase     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IllegalTransitionError is returned for a disallowed transition.
type IllegalTransitionError struct {
	TurnID string
	From   Phase
	To     Phase
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot transition turn %q from %q to %q: illegal transition for turn lifecycle", e.TurnID, e.From, e.To)
}

// Is enables errors.Is checks for illegal transition failures.
func (e *IllegalTransitionError) Is(target error) bool {
	_, ok := target.(*IllegalTransitionError)
	return ok
}

// Machine tracks the single in-flight turn: Idle → Spawning → Streaming →
// Draining → Idle, with Failed reachable from every active phase.
type Machine struct {
	mu       sync.Mutex
	phase    Phase
	turnID   string
	history  []TransitionRecord
	tracer   trace.Tracer
	now      func() time.Time
	observer func(TransitionRecord)
}

// NewMachine builds an idle machine.
func NewMachine(options ...Option) *Machine {
	machine := &Machine{
		phase:  PhaseIdle,
		tracer: otel.Tracer("mascot/state"),
		now:    time.Now,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(machine)
	}
	return machine
}

// Phase returns the current phase and the turn that owns it.
func (m *Machine) Phase() (Phase, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase, m.turnID
}

// Begin atomically claims the machine for turnID by moving Idle → Spawning.
func (m *Machine) Begin(ctx context.Context, turnID string) error {
	turnID = strings.TrimSpace(turnID)
	if turnID == "" {
		return errors.New("turn id must not be empty")
	}
	return m.apply(ctx, turnID, PhaseSpawning, "turn requested", true)
}

// Transition validates and records one transition for the owning turn.
func (m *Machine) Transition(ctx context.Context, turnID string, to Phase, reason string) error {
	return m.apply(ctx, turnID, to, reason, false)
}

func (m *Machine) apply(ctx context.Context, turnID string, to Phase, reason string, claim bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	reason = strings.TrimSpace(reason)

	spanCtx, span := m.tracer.Start(ctx, "turn.transition")
	defer func() {
		span.SetAttributes(attribute.Int64("duration_ms", time.Since(started).Milliseconds()))
		span.End()
	}()

	m.mu.Lock()
	from := m.phase
	span.SetAttributes(
		attribute.String("turn_id", turnID),
		attribute.String("from_state", string(from)),
		attribute.String("to_state", string(to)),
		attribute.String("reason", reason),
	)

	var err error
	switch {
	case claim && from != PhaseIdle:
		err = fmt.Errorf("%w (turn %s)", ErrBusy, m.turnID)
	case !claim && turnID != m.turnID:
		err = &IllegalTransitionError{TurnID: turnID, From: from, To: to}
	case !isAllowed(from, to):
		err = &IllegalTransitionError{TurnID: turnID, From: from, To: to}
		invariants.CheckTransitionLegal(spanCtx, "state.Machine.apply", turnID, string(from), string(to), false)
	}
	if err != nil {
		m.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	record := TransitionRecord{
		TurnID:    turnID,
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: m.now().UTC(),
	}
	m.phase = to
	m.turnID = turnID
	if to == PhaseIdle {
		m.turnID = ""
	}
	m.history = append(m.history, record)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
	observer := m.observer
	m.mu.Unlock()

	span.SetStatus(codes.Ok, "turn transition recorded")
	if observer != nil {
		observer(record)
	}
	return nil
}

// Fail moves the owning turn to Failed and then back to Idle.
func (m *Machine) Fail(ctx context.Context, turnID, reason string) error {
	if err := m.Transition(ctx, turnID, PhaseFailed, reason); err != nil {
		return err
	}
	return m.Transition(ctx, turnID, PhaseIdle, "turn released")
}

// History returns recent transition records, oldest first.
func (m *Machine) History() []TransitionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TransitionRecord, len(m.history))
	copy(out, m.history)
	return out
}

func isAllowed(from, to Phase) bool {
	nextStates, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = nextStates[to]
	return ok
}
