// Package bridge exposes the command surface and notification stream to a
// frontend process over stdio JSON lines or a websocket.
package bridge

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/clawd-mascot/mascot/internal/events"
)

// Frame types.
const (
	FrameResponse = "response"
	FrameEvent    = "event"
)

// CommandHandler runs one named command.
type CommandHandler interface {
	Handle(ctx context.Context, command string, params json.RawMessage) (any, error)
}

// Request is one frontend command.
type Request struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request with the same id.
type Response struct {
	Type   string          `json:"type"`
	ID     json.RawMessage `json:"id,omitempty"`
	OK     bool            `json:"ok"`
	Result any             `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Event carries one notification to the frontend.
type Event struct {
	Type string `json:"type"`
	events.Notification
}

func eventFrame(notification events.Notification) Event {
	return Event{Type: FrameEvent, Notification: notification}
}

// dispatch decodes and runs one request line.
func dispatch(ctx context.Context, handler CommandHandler, line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Response{Type: FrameResponse, Error: "invalid request: " + err.Error()}
	}
	return run(ctx, handler, req)
}

func run(ctx context.Context, handler CommandHandler, req Request) Response {
	resp := Response{Type: FrameResponse, ID: req.ID}
	if strings.TrimSpace(req.Command) == "" {
		resp.Error = "missing command"
		return resp
	}
	result, err := handler.Handle(ctx, req.Command, req.Params)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.OK = true
	resp.Result = result
	return resp
}
