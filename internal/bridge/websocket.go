package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/clawd-mascot/mascot/internal/events"
)

const (
	writeWait       = 10 * time.Second
	shutdownTimeout = 2 * time.Second
	maxMessageBytes = 32 << 20
)

// WebSocket serves the bridge at /ws and a liveness probe at /healthz.
type WebSocket struct {
	handler  CommandHandler
	bus      events.Bus
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
}

// NewWebSocket builds a websocket bridge.
func NewWebSocket(handler CommandHandler, bus events.Bus, logger *log.Logger) *WebSocket {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &WebSocket{
		handler: handler,
		bus:     bus,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     loopbackOrigin,
		},
	}
}

// Handler returns the HTTP routes.
func (w *WebSocket) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "text/plain")
		_, _ = rw.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/ws", w.serveConn)
	return mux
}

// ListenAndServe listens on addr until ctx is done.
func (w *WebSocket) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return w.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is done.
func (w *WebSocket) Serve(ctx context.Context, listener net.Listener) error {
	w.mu.Lock()
	w.listener = listener
	w.mu.Unlock()

	server := &http.Server{
		Handler:           w.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		w.logger.Info("bridge listening", "addr", listener.Addr().String())
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			_ = server.Close()
		}
		<-errCh
		return nil
	}
}

// Addr reports the bound address once Serve has started.
func (w *WebSocket) Addr() net.Addr {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.listener == nil {
		return nil
	}
	return w.listener.Addr()
}

func (w *WebSocket) serveConn(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warn("bridge: upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageBytes)

	logger := w.logger.With("remote", r.RemoteAddr)
	logger.Info("bridge client connected")
	defer logger.Info("bridge client disconnected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	send := func(frame any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(frame)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if w.bus != nil {
		notifications := make(chan events.Notification, events.DefaultBufferSize)
		// The handler waits for the writer; the bus queue absorbs a slow
		// client and sheds only droppable notifications.
		unsubscribe := w.bus.SubscribeAll(func(notification events.Notification) {
			select {
			case notifications <- notification:
			case <-groupCtx.Done():
			}
		})
		defer unsubscribe()

		group.Go(func() error {
			for {
				select {
				case <-groupCtx.Done():
					return nil
				case notification := <-notifications:
					if err := send(eventFrame(notification)); err != nil {
						return fmt.Errorf("write event: %w", err)
					}
				}
			}
		})
	}

	group.Go(func() error {
		defer cancel()
		var requests sync.WaitGroup
		defer requests.Wait()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				if errors.Is(err, net.ErrClosed) || groupCtx.Err() != nil {
					return nil
				}
				return fmt.Errorf("read command: %w", err)
			}
			requests.Add(1)
			go func() {
				defer requests.Done()
				resp := dispatch(ctx, w.handler, message)
				if err := send(resp); err != nil {
					logger.Debug("bridge: write response", "error", err)
				}
			}()
		}
	})

	// An expired read deadline unblocks ReadMessage once the context ends.
	go func() {
		<-groupCtx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	if err := group.Wait(); err != nil {
		logger.Debug("bridge connection ended", "error", err)
	}
}

// loopbackOrigin admits non-browser clients and pages served from this host
// or a loopback address.
func loopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	switch host {
	case "127.0.0.1", "localhost", "::1":
		return true
	}
	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	return host == requestHost
}
