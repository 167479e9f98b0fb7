package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/clawd-mascot/mascot/internal/events"
)

const maxRequestBytes = 32 << 20

// Stdio serves commands read as JSON lines and writes response and event
// frames as JSON lines.
type Stdio struct {
	handler CommandHandler
	bus     events.Bus
	logger  *log.Logger

	writeMu sync.Mutex
}

// NewStdio builds a stdio bridge. bus may be nil when no events are forwarded.
func NewStdio(handler CommandHandler, bus events.Bus, logger *log.Logger) *Stdio {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Stdio{handler: handler, bus: bus, logger: logger}
}

// Serve runs until in reaches EOF or ctx is done. Commands run concurrently
// so a slow stop never blocks a reply; Serve waits for them before returning.
func (s *Stdio) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	if s.bus != nil {
		unsubscribe := s.bus.SubscribeAll(func(notification events.Notification) {
			if err := s.write(out, eventFrame(notification)); err != nil {
				s.logger.Warn("bridge: write event", "event", notification.Name, "error", err)
			}
		})
		defer unsubscribe()
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestBytes)
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	var requests errgroup.Group
	for {
		select {
		case <-ctx.Done():
			_ = requests.Wait()
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := requests.Wait(); err != nil {
					return err
				}
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read command: %w", err)
					}
				default:
				}
				return nil
			}
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			requests.Go(func() error {
				resp := dispatch(ctx, s.handler, line)
				if !resp.OK {
					s.logger.Debug("bridge: command failed", "error", resp.Error)
				}
				return s.write(out, resp)
			})
		}
	}
}

func (s *Stdio) write(out io.Writer, frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
