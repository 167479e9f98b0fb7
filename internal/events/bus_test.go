package events

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishDeliversToNamedSubscribers(t *testing.T) {
	bus := New(WithLogger(&captureLogger{}))
	defer bus.Close()

	streams := make(chan Notification, 1)
	emotions := make(chan Notification, 1)

	bus.Subscribe(NameStream, func(n Notification) { streams <- n })
	bus.Subscribe(NameEmotion, func(n Notification) { emotions <- n })

	bus.Publish(Notification{Name: NameStream, TurnID: "t-1", Payload: "hi"})

	got := waitFor(t, streams)
	if got.Payload != "hi" || got.TurnID != "t-1" {
		t.Fatalf("notification = %#v", got)
	}

	select {
	case n := <-emotions:
		t.Fatalf("unexpected emotion notification delivered: %#v", n)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeAllPreservesPublishOrder(t *testing.T) {
	bus := New(WithLogger(&captureLogger{}))
	defer bus.Close()

	all := make(chan Notification, 10)
	bus.SubscribeAll(func(n Notification) { all <- n })

	names := []string{NameSession, NameStream, NameToolUse, NameResult}
	for _, name := range names {
		bus.Publish(Notification{Name: name})
	}
	for _, want := range names {
		if got := waitFor(t, all); got.Name != want {
			t.Fatalf("name = %q, want %q", got.Name, want)
		}
	}
}

func TestPublishDropsWhenSubscriberBufferIsFull(t *testing.T) {
	logger := &captureLogger{}
	bus := New(WithBufferSize(1), WithLogger(logger))

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	bus.SubscribeAll(func(Notification) {
		once.Do(func() { close(started) })
		<-release
	})

	bus.Publish(Notification{Name: NameStream, TurnID: "first"})
	<-started
	bus.Publish(Notification{Name: NameStream, TurnID: "buffered"})

	done := make(chan struct{})
	go func() {
		bus.Publish(Notification{Name: NameStream, TurnID: "dropped"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	if !logger.contains("turn_id=dropped") {
		t.Fatalf("expected drop warning, got %v", logger.messages())
	}
	close(release)
	bus.Close()
}

func TestLaggingSubscriberKeepsTerminalAndInteractiveNotifications(t *testing.T) {
	logger := &captureLogger{}
	bus := New(WithBufferSize(4), WithLogger(logger))

	release := make(chan struct{})
	started := make(chan struct{})
	got := make(chan Notification, 32)
	var once sync.Once
	bus.SubscribeAll(func(n Notification) {
		once.Do(func() {
			close(started)
			<-release
		})
		got <- n
	})

	bus.Publish(Notification{Name: NameStream, TurnID: "first"})
	<-started
	for i := 0; i < 10; i++ {
		bus.Publish(Notification{Name: NameStream, TurnID: fmt.Sprintf("delta-%d", i)})
	}
	kept := []string{NameExitPlanMode, NameAskQuestion, NameResult, NameError, NameState}
	for _, name := range kept {
		bus.Publish(Notification{Name: name})
	}
	close(release)
	bus.Close()
	close(got)

	var names []string
	streams := 0
	for n := range got {
		if n.Name == NameStream {
			streams++
			continue
		}
		names = append(names, n.Name)
	}
	if strings.Join(names, ",") != strings.Join(kept, ",") {
		t.Fatalf("non-droppable notifications = %v, want %v", names, kept)
	}
	if streams != 5 {
		t.Fatalf("stream deltas delivered = %d, want first plus 4 buffered", streams)
	}
	if !logger.contains("turn_id=delta-9") {
		t.Fatalf("expected drop warning for overflowing deltas, got %v", logger.messages())
	}
}

func TestDroppable(t *testing.T) {
	for name, want := range map[string]bool{
		NameStream:       true,
		NameToolUse:      true,
		NameResult:       false,
		NameError:        false,
		NameExitPlanMode: false,
		NameAskQuestion:  false,
		NameState:        false,
		NameSession:      false,
	} {
		if got := Droppable(name); got != want {
			t.Fatalf("Droppable(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestPublishPopulatesTimestamp(t *testing.T) {
	bus := New(WithLogger(&captureLogger{}))
	defer bus.Close()

	got := make(chan Notification, 1)
	bus.SubscribeAll(func(n Notification) { got <- n })

	before := time.Now().UTC()
	bus.Publish(Notification{Name: NameState})
	n := waitFor(t, got)
	if n.Timestamp.Before(before) {
		t.Fatalf("timestamp %s is before publish %s", n.Timestamp, before)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(WithLogger(&captureLogger{}))
	defer bus.Close()

	var count atomic.Int64
	unsubscribe := bus.SubscribeAll(func(Notification) { count.Add(1) })
	bus.Publish(Notification{Name: NameStream})
	waitForCount(t, &count, 1, 2*time.Second)

	unsubscribe()
	unsubscribe()
	bus.Publish(Notification{Name: NameStream})
	time.Sleep(50 * time.Millisecond)
	if count.Load() != 1 {
		t.Fatalf("count = %d after unsubscribe, want 1", count.Load())
	}
}

func TestCloseIgnoresLaterCalls(t *testing.T) {
	bus := New(WithLogger(&captureLogger{}))
	bus.Close()
	bus.Close()

	bus.Publish(Notification{Name: NameStream})
	unsubscribe := bus.Subscribe(NameStream, func(Notification) {})
	unsubscribe()
}

func TestBusSupportsConcurrentPublishAndSubscribe(t *testing.T) {
	bus := New(WithBufferSize(5000), WithLogger(&captureLogger{}))
	defer bus.Close()

	var received atomic.Int64
	bus.SubscribeAll(func(Notification) { received.Add(1) })

	const publishers = 10
	const perPublisher = 100

	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				bus.Publish(Notification{Name: NameStream, Payload: fmt.Sprintf("%d-%d", i, j)})
			}
		}(i)
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Subscribe(NameStream, func(Notification) {})
		}()
	}

	wg.Wait()
	waitForCount(t, &received, publishers*perPublisher, 2*time.Second)
}

func waitFor(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return Notification{}
	}
}

func waitForCount(t *testing.T, got *atomic.Int64, want int64, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got.Load() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("count = %d, want %d", got.Load(), want)
}

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureLogger) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func (c *captureLogger) contains(fragment string) bool {
	for _, line := range c.messages() {
		if strings.Contains(line, fragment) {
			return true
		}
	}
	return false
}

func (c *captureLogger) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}
