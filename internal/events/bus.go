package events

import (
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultBufferSize is the default per-subscriber channel capacity.
const DefaultBufferSize = 256

// Outward notification names consumed by frontends.
const (
	NameSession       = "agent-session"
	NameStream        = "agent-stream"
	NameEmotion       = "agent-emotion"
	NameMove          = "clawd-move"
	NameToolUse       = "agent-tool-use"
	NameExitPlanMode  = "agent-exit-plan-mode"
	NameAskQuestion   = "agent-ask-question"
	NameSubagentStart = "agent-subagent-start"
	NameSubagentEnd   = "agent-subagent-end"
	NameResult        = "agent-result"
	NameError         = "agent-error"
	NameState         = "agent-state"
)

// Notification is one outward event delivered through the bus.
type Notification struct {
	Name      string    `json:"event"`
	TurnID    string    `json:"turn_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Handler consumes a published notification.
type Handler func(Notification)

// Logger captures warning logs for dropped notifications.
type Logger interface {
	Printf(format string, args ...any)
}

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(notification Notification)
}

// Bus defines subscription and publish behavior.
type Bus interface {
	Publisher
	Subscribe(name string, handler Handler) (unsubscribe func())
	SubscribeAll(handler Handler) (unsubscribe func())
}

// Option customizes bus construction.
type Option func(*InMemoryBus)

// WithBufferSize configures how many undelivered notifications a subscriber
// holds before droppable ones are discarded.
func WithBufferSize(size int) Option {
	return func(bus *InMemoryBus) {
		if size > 0 {
			bus.bufferSize = size
		}
	}
}

// WithLogger configures the sink used for dropped-notification warnings.
func WithLogger(logger Logger) Option {
	return func(bus *InMemoryBus) {
		if logger != nil {
			bus.logger = logger
		}
	}
}

// InMemoryBus is a thread-safe in-process pub/sub bus. Each subscriber sees
// notifications in publish order and Publish never blocks, since the
// publisher is the child's stdout reader. Once a subscriber holds bufferSize
// undelivered notifications, further Droppable ones are discarded; terminal
// and interactive notifications are always queued.
type InMemoryBus struct {
	mu             sync.RWMutex
	bufferSize     int
	logger         Logger
	typedSubs      map[string][]*subscriber
	wildcardSubs   []*subscriber
	nextSubscriber uint64
	closed         bool
	wg             sync.WaitGroup
}

// Droppable reports whether a lagging subscriber may lose the notification.
// Only stream deltas and the generic tool-use echo qualify.
func Droppable(name string) bool {
	switch name {
	case NameStream, NameToolUse:
		return true
	default:
		return false
	}
}

type subscriber struct {
	id   uint64
	wake chan struct{}

	mu     sync.Mutex
	queue  []Notification
	closed bool
}

// push queues n and reports false when it was dropped.
func (s *subscriber) push(n Notification, limit int) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return true
	}
	if len(s.queue) >= limit && Droppable(n.Name) {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, n)
	s.mu.Unlock()
	s.signal()
	return true
}

// next blocks for the next notification; ok is false once the subscriber is
// closed and drained.
func (s *subscriber) next() (Notification, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			n := s.queue[0]
			s.queue[0] = Notification{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return n, true
		}
		if s.closed {
			s.mu.Unlock()
			return Notification{}, false
		}
		s.mu.Unlock()
		<-s.wake
	}
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

// New creates an in-memory bus with optional configuration.
func New(options ...Option) *InMemoryBus {
	bus := &InMemoryBus{
		bufferSize: DefaultBufferSize,
		logger:     log.Default(),
		typedSubs:  make(map[string][]*subscriber),
	}
	for _, option := range options {
		option(bus)
	}
	return bus
}

// Subscribe registers a handler for one notification name.
func (b *InMemoryBus) Subscribe(name string, handler Handler) func() {
	name = strings.TrimSpace(name)
	if name == "" || handler == nil {
		return func() {}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	sub := b.newSubscriberLocked()
	b.typedSubs[name] = append(b.typedSubs[name], sub)
	b.startConsumer(sub, handler)

	return func() { b.remove(name, sub) }
}

// SubscribeAll registers a handler that receives every notification.
func (b *InMemoryBus) SubscribeAll(handler Handler) func() {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	sub := b.newSubscriberLocked()
	b.wildcardSubs = append(b.wildcardSubs, sub)
	b.startConsumer(sub, handler)

	return func() { b.remove("", sub) }
}

// Publish delivers a notification to typed and wildcard subscribers.
func (b *InMemoryBus) Publish(notification Notification) {
	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.typedSubs[strings.TrimSpace(notification.Name)] {
		b.deliver(sub, notification)
	}
	for _, sub := range b.wildcardSubs {
		b.deliver(sub, notification)
	}
}

// Close stops every consumer after it drains its buffer, and waits for them.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, subs := range b.typedSubs {
		for _, sub := range subs {
			sub.close()
		}
	}
	for _, sub := range b.wildcardSubs {
		sub.close()
	}
	b.typedSubs = map[string][]*subscriber{}
	b.wildcardSubs = nil
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *InMemoryBus) remove(name string, target *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if name == "" {
		b.wildcardSubs = without(b.wildcardSubs, target)
	} else {
		b.typedSubs[name] = without(b.typedSubs[name], target)
	}
	target.close()
}

func without(subs []*subscriber, target *subscriber) []*subscriber {
	out := subs[:0]
	for _, sub := range subs {
		if sub != target {
			out = append(out, sub)
		}
	}
	return out
}

func (b *InMemoryBus) deliver(sub *subscriber, notification Notification) {
	if sub.push(notification, b.bufferSize) {
		return
	}
	b.logger.Printf(
		"events: dropping notification for lagging subscriber=%d name=%s turn_id=%s",
		sub.id,
		notification.Name,
		notification.TurnID,
	)
}

func (b *InMemoryBus) newSubscriberLocked() *subscriber {
	b.nextSubscriber++
	return &subscriber{
		id:   b.nextSubscriber,
		wake: make(chan struct{}, 1),
	}
}

func (b *InMemoryBus) startConsumer(sub *subscriber, handler Handler) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			notification, ok := sub.next()
			if !ok {
				return
			}
			handler(notification)
		}
	}()
}
