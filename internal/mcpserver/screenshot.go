package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/clawd-mascot/mascot/internal/imaging"
	"github.com/clawd-mascot/mascot/internal/tracing"
)

// Screenshot is one captured, re-encoded image.
type Screenshot struct {
	Data      []byte
	MediaType string
	Monitors  int
}

// Capturer takes a screenshot.
type Capturer interface {
	Capture(ctx context.Context) (Screenshot, error)
}

// CommandCapturer runs an external command that writes one image covering
// every monitor to stdout.
type CommandCapturer struct {
	Command []string
	Options imaging.Options

	run func(ctx context.Context, command string, args []string, cwd string) (tracing.Result, error)
}

// DefaultScreenshotCommand returns a platform capture command, or nil.
func DefaultScreenshotCommand() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"screencapture", "-x", "-t", "png", "/dev/stdout"}
	case "linux":
		return []string{"import", "-window", "root", "png:-"}
	default:
		return nil
	}
}

// Capture implements Capturer.
func (c CommandCapturer) Capture(ctx context.Context) (Screenshot, error) {
	if len(c.Command) == 0 {
		return Screenshot{}, errors.New("no screenshot command configured (set screenshot.command)")
	}
	run := c.run
	if run == nil {
		run = tracing.RunCommand
	}
	result, err := run(ctx, c.Command[0], c.Command[1:], "")
	if err != nil {
		return Screenshot{}, err
	}
	data, err := imaging.Reencode(result.Stdout, c.Options)
	if err != nil {
		return Screenshot{}, fmt.Errorf("encode screenshot: %w", err)
	}
	return Screenshot{Data: data, MediaType: imaging.MediaTypeJPEG, Monitors: 1}, nil
}
