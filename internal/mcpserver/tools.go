package mcpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	defaultEmotionDuration   = 5000
	defaultScreenshotSubject = "general view"
)

// SetEmotionInput is the set_emotion argument object.
type SetEmotionInput struct {
	Emotion    string `json:"emotion" jsonschema:"required,description=The emotion to display: neutral happy sad excited thinking surprised love"`
	DurationMS *int   `json:"duration_ms,omitempty" jsonschema:"description=Duration in milliseconds (default: 5000)"`
}

// MoveToInput is the move_to argument object.
type MoveToInput struct {
	Target string `json:"target" jsonschema:"required,description=Target position: left right center or an x-coordinate number"`
}

// CaptureScreenshotInput is the capture_screenshot argument object.
type CaptureScreenshotInput struct {
	Description string `json:"description,omitempty" jsonschema:"description=Optional description of what to look for in the screenshot"`
}

// RegisterMascotTools adds set_emotion, move_to and capture_screenshot.
// The frontend reacts to the tool_use events in the backend's output
// stream, so set_emotion and move_to only confirm.
func RegisterMascotTools(registry *Registry, capturer Capturer) {
	AddTool(registry, "set_emotion",
		"Set the mascot's emotional expression. Available emotions: neutral, happy, sad, excited, thinking, surprised, love",
		func(_ context.Context, in SetEmotionInput) (ToolResult, error) {
			emotion := strings.TrimSpace(in.Emotion)
			if emotion == "" {
				return ToolResult{}, errors.New("emotion is required")
			}
			duration := defaultEmotionDuration
			if in.DurationMS != nil {
				duration = *in.DurationMS
			}
			text := fmt.Sprintf("Emotion set to '%s' for %dms. The mascot is now expressing this emotion.", emotion, duration)
			return ToolResult{Content: []Content{TextContent(text)}}, nil
		})

	AddTool(registry, "move_to",
		"Move the mascot to a screen position. Target can be: 'left', 'right', 'center', or a specific x-coordinate",
		func(_ context.Context, in MoveToInput) (ToolResult, error) {
			target := strings.TrimSpace(in.Target)
			if target == "" {
				return ToolResult{}, errors.New("target is required")
			}
			text := fmt.Sprintf("Moving mascot to: %s. The mascot is now walking to this position.", target)
			return ToolResult{Content: []Content{TextContent(text)}}, nil
		})

	AddTool(registry, "capture_screenshot",
		"Capture a screenshot of all monitors to see what the user is looking at",
		func(ctx context.Context, in CaptureScreenshotInput) (ToolResult, error) {
			if capturer == nil {
				return ToolResult{}, errors.New("screenshots are not available")
			}
			subject := strings.TrimSpace(in.Description)
			if subject == "" {
				subject = defaultScreenshotSubject
			}
			shot, err := capturer.Capture(ctx)
			if err != nil {
				return ToolResult{}, fmt.Errorf("Failed to capture screenshot: %w", err) //nolint:staticcheck // user-facing message
			}
			text := fmt.Sprintf("Screenshot captured from %d monitor(s) (looking for: %s). Here is what I can see on your screen:", shot.Monitors, subject)
			return ToolResult{Content: []Content{
				TextContent(text),
				{Type: "image", Data: base64.StdEncoding.EncodeToString(shot.Data), MimeType: shot.MediaType},
			}}, nil
		})
}
