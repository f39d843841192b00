package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ledgerscope/ledgerscope/pkg/protocol"
	"github.com/ledgerscope/ledgerscope/pkg/transport"
)

type tokenFunc func() (string, error)

func (f tokenFunc) Token() (string, error) { return f() }

func staticToken(tok string) tokenFunc {
	return func() (string, error) { return tok, nil }
}

type recordingHandler struct {
	mu     sync.Mutex
	frames []string
}

func (h *recordingHandler) Dispatch(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, string(data))
}

func (h *recordingHandler) Frames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.frames))
	copy(out, h.frames)
	return out
}

// fakeLink scripts connection outcomes and lets tests drop the
// connection or inject frames.
type fakeLink struct {
	mu       sync.Mutex
	scripted []error
	attempts int
	sent     []any
	state    transport.State
	states   chan transport.State
	messages chan []byte
}

func newFakeLink(scripted ...error) *fakeLink {
	return &fakeLink{
		scripted: scripted,
		states:   make(chan transport.State, 16),
		messages: make(chan []byte, 64),
	}
}

// Connect publishes the same state transitions the real transport does:
// Connecting, then Disconnected on a failed dial or Connected on
// success. Failed dials leave those notifications queued unconsumed,
// exactly as in production.
func (l *fakeLink) Connect(ctx context.Context, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	l.publishLocked(transport.Connecting)
	if len(l.scripted) > 0 {
		err := l.scripted[0]
		l.scripted = l.scripted[1:]
		if err != nil {
			l.state = transport.Disconnected
			l.publishLocked(transport.Disconnected)
			return err
		}
	}
	l.state = transport.Connected
	l.publishLocked(transport.Connected)
	return nil
}

// publishLocked mirrors the transport's best-effort notification.
// Callers hold l.mu.
func (l *fakeLink) publishLocked(s transport.State) {
	select {
	case l.states <- s:
	default:
	}
}

func (l *fakeLink) Send(v any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != transport.Connected {
		return nil
	}
	l.sent = append(l.sent, v)
	return nil
}

func (l *fakeLink) Messages() <-chan []byte              { return l.messages }
func (l *fakeLink) StateChanges() <-chan transport.State { return l.states }

func (l *fakeLink) State() transport.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *fakeLink) Disconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = transport.Disconnected
}

// Drop simulates the server closing the connection.
func (l *fakeLink) Drop() {
	l.mu.Lock()
	l.state = transport.Disconnected
	l.mu.Unlock()
	l.states <- transport.Disconnected
}

func (l *fakeLink) Attempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}

func (l *fakeLink) Sent() []any {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]any, len(l.sent))
	copy(out, l.sent)
	return out
}

func testConfig() Config {
	return Config{
		InitialBackoff:   time.Second,
		MaxBackoff:       8 * time.Second,
		StableResetAfter: 30 * time.Second,
	}
}

// waitFor polls cond on real time; the mock clock never advances here.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(time.Millisecond)
	}
}

// settle gives the run loop real time to reach its next suspension
// point before the mock clock moves.
func settle() { time.Sleep(20 * time.Millisecond) }

func TestBackoffDoublesAndCaps(t *testing.T) {
	link := newFakeLink(
		errors.New("refused"), errors.New("refused"), errors.New("refused"),
		errors.New("refused"), errors.New("refused"), errors.New("refused"),
	)
	mock := clock.NewMock()
	s := New(link, staticToken("tok"), &recordingHandler{}, testConfig())
	s.clk = mock

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool { return link.Attempts() == 1 }, "first attempt never happened")

	// Retry delays are 1s, 2s, 4s, 8s, then capped at 8s.
	for i, delay := range []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second,
	} {
		settle()
		mock.Add(delay - time.Millisecond)
		settle()
		if got := link.Attempts(); got != i+1 {
			t.Fatalf("attempt %d fired before its %s backoff elapsed (attempts=%d)", i+2, delay, got)
		}
		mock.Add(time.Millisecond)
		want := i + 2
		waitFor(t, func() bool { return link.Attempts() == want },
			fmt.Sprintf("attempt %d never happened", want))
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestResubscribesAllTopicsOnEveryConnect(t *testing.T) {
	link := newFakeLink()
	mock := clock.NewMock()
	s := New(link, staticToken("tok"), &recordingHandler{}, testConfig())
	s.clk = mock

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	topics := protocol.Topics()
	waitFor(t, func() bool { return len(link.Sent()) == len(topics) }, "initial subscriptions never sent")
	for i, raw := range link.Sent() {
		dir, ok := raw.(protocol.SubscribeDirective)
		if !ok {
			t.Fatalf("sent %T, expected SubscribeDirective", raw)
		}
		if dir.Type != "subscribe" || dir.Event != topics[i] {
			t.Errorf("directive %d: %+v, expected subscribe %s", i, dir, topics[i])
		}
	}

	link.Drop()
	settle()
	mock.Add(time.Second)
	waitFor(t, func() bool { return len(link.Sent()) == 2*len(topics) }, "topics not re-subscribed after reconnect")

	// Exactly once per connect, not more.
	settle()
	if got := len(link.Sent()); got != 2*len(topics) {
		t.Errorf("expected %d directives total, got %d", 2*len(topics), got)
	}
}

func TestStableConnectionResetsBackoff(t *testing.T) {
	link := newFakeLink(errors.New("refused"), errors.New("refused"))
	mock := clock.NewMock()
	s := New(link, staticToken("tok"), &recordingHandler{}, testConfig())
	s.clk = mock

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// Two failures walk the delay up to 4s, then the third attempt
	// connects.
	waitFor(t, func() bool { return link.Attempts() == 1 }, "first attempt never happened")
	settle()
	mock.Add(time.Second)
	waitFor(t, func() bool { return link.Attempts() == 2 }, "second attempt never happened")
	settle()
	mock.Add(2 * time.Second)
	waitFor(t, func() bool { return link.Attempts() == 3 }, "third attempt never happened")
	waitFor(t, func() bool { return link.State() == transport.Connected }, "never connected")

	// Stay up past the stability threshold, then drop: the next retry
	// should come after the initial backoff, not the escalated one.
	settle()
	mock.Add(30 * time.Second)
	link.Drop()
	settle()
	mock.Add(time.Second - time.Millisecond)
	settle()
	if got := link.Attempts(); got != 3 {
		t.Fatalf("reconnect fired before the reset initial backoff (attempts=%d)", got)
	}
	mock.Add(time.Millisecond)
	waitFor(t, func() bool { return link.Attempts() == 4 }, "reconnect after stable drop never happened")
}

func TestDispatchesFramesInArrivalOrder(t *testing.T) {
	link := newFakeLink()
	handler := &recordingHandler{}
	s := New(link, staticToken("tok"), handler, testConfig())
	s.clk = clock.NewMock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, func() bool { return link.State() == transport.Connected }, "never connected")
	link.messages <- []byte(`{"n":1}`)
	link.messages <- []byte(`{"n":2}`)
	link.messages <- []byte(`{"n":3}`)

	waitFor(t, func() bool { return len(handler.Frames()) == 3 }, "frames never dispatched")
	frames := handler.Frames()
	for i, want := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		if frames[i] != want {
			t.Errorf("frame %d: got %s, expected %s", i, frames[i], want)
		}
	}
}

func TestDrainsDeliveredFramesOnDisconnect(t *testing.T) {
	link := newFakeLink()
	handler := &recordingHandler{}
	s := New(link, staticToken("tok"), handler, testConfig())
	s.clk = clock.NewMock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, func() bool { return link.State() == transport.Connected }, "never connected")
	link.messages <- []byte(`{"n":1}`)
	link.messages <- []byte(`{"n":2}`)
	link.Drop()

	waitFor(t, func() bool { return len(handler.Frames()) == 2 }, "frames read before the drop were lost")
}

func TestRunRefusesWithoutToken(t *testing.T) {
	link := newFakeLink()
	s := New(link, staticToken(""), &recordingHandler{}, testConfig())

	if err := s.Run(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	if got := link.Attempts(); got != 0 {
		t.Errorf("expected no connection attempts without a token, got %d", got)
	}
}

func TestCancelDuringBackoffStopsRetrying(t *testing.T) {
	link := newFakeLink(errors.New("refused"), errors.New("refused"))
	mock := clock.NewMock()
	s := New(link, staticToken("tok"), &recordingHandler{}, testConfig())
	s.clk = mock

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool { return link.Attempts() == 1 }, "first attempt never happened")
	settle()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mock.Add(time.Minute)
	settle()
	if got := link.Attempts(); got != 1 {
		t.Errorf("retry fired after cancel, attempts=%d", got)
	}
}

func TestStaleDialNotificationsDoNotDropLiveConnection(t *testing.T) {
	link := newFakeLink(errors.New("refused"))
	mock := clock.NewMock()
	handler := &recordingHandler{}
	s := New(link, staticToken("tok"), handler, testConfig())
	s.clk = mock

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// First dial fails and leaves its Connecting/Disconnected
	// notifications queued; the retry connects.
	waitFor(t, func() bool { return link.Attempts() == 1 }, "first attempt never happened")
	settle()
	mock.Add(time.Second)
	waitFor(t, func() bool { return link.State() == transport.Connected }, "retry never connected")
	topics := len(protocol.Topics())
	waitFor(t, func() bool { return len(link.Sent()) == topics }, "subscriptions never sent")

	// The queued notifications from the failed dial must not be read as
	// a drop of the live connection: no reconnect, no re-subscribe, and
	// dispatch keeps flowing.
	settle()
	mock.Add(time.Minute)
	settle()
	if got := link.Attempts(); got != 2 {
		t.Fatalf("reconnected despite the connection staying up (attempts=%d)", got)
	}
	if got := len(link.Sent()); got != topics {
		t.Fatalf("expected %d subscribe directives on the live connection, got %d", topics, got)
	}

	link.messages <- []byte(`{"n":1}`)
	waitFor(t, func() bool { return len(handler.Frames()) == 1 }, "dispatch stalled on a live connection")

	// A genuine drop is still honored.
	link.Drop()
	settle()
	mock.Add(time.Minute)
	waitFor(t, func() bool { return link.Attempts() == 3 }, "genuine drop was not reconnected")
}
