package harness

import (
	"encoding/json"
	"errors"
)

var (
	// ErrSkipLine marks input that carries no event, such as a blank line.
	ErrSkipLine = errors.New("line carries no event")
	// ErrUnknownEvent marks a well-formed line whose tag is outside the backend vocabulary.
	ErrUnknownEvent = errors.New("unknown event type")
)

// Event is the normalized vocabulary both backends are decoded into.
type Event interface {
	isEvent()
}

// SessionAnnounced carries the backend-issued session or thread identifier.
type SessionAnnounced struct {
	SessionID string
}

// TextDelta is assistant text to stream verbatim.
type TextDelta struct {
	Text string
}

// ToolInvoked is one tool call made by the backend.
type ToolInvoked struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// TurnSucceeded ends a turn normally.
type TurnSucceeded struct {
	Text      string
	SessionID string
}

// TurnFailed ends a turn with a backend-reported reason.
type TurnFailed struct {
	Reason    string
	SessionID string
}

// FatalError is an unrecoverable backend error.
type FatalError struct {
	Message string
}

func (SessionAnnounced) isEvent() {}
func (TextDelta) isEvent()        {}
func (ToolInvoked) isEvent()      {}
func (TurnSucceeded) isEvent()    {}
func (TurnFailed) isEvent()       {}
func (FatalError) isEvent()       {}

// IsTerminal reports whether ev ends the turn on the backend side.
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case TurnSucceeded, TurnFailed:
		return true
	default:
		return false
	}
}
