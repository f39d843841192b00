// Package transport owns the single push connection to the ledger
// service. It dials, reads frames, and reports connection state; it
// never retries. Reconnection is the syncer's job, and any transport
// error just lands the connection back in Disconnected for the syncer
// to observe.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ledgerscope/ledgerscope/pkg/log"
)

// PushPath is the push channel endpoint on the ledger service. The path
// is an external contract.
const PushPath = "/api/sync/ws"

// writeTimeout bounds each outbound write so a stalled peer fails the
// connection instead of wedging the sender.
const writeTimeout = 10 * time.Second

// ErrNoToken is returned by Connect when no session token is available.
// Connections must not be attempted unauthenticated.
var ErrNoToken = errors.New("no session token")

// State is the connection state. Owned exclusively by the transport;
// everyone else only reads it.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// Conn is the single logical push connection for an authenticated
// session.
type Conn struct {
	serverURL string

	mu    sync.Mutex
	ws    *websocket.Conn
	done  chan struct{}
	state State

	// wmu serializes writers; gorilla allows one concurrent writer per
	// connection. Held without c.mu so a stalled peer cannot block
	// State() or teardown.
	wmu sync.Mutex

	messages chan []byte
	states   chan State
	logger   *log.Logger
}

// New builds a transport for the given service origin (http or https).
// The push URL mirrors the origin's transport security: http dials ws,
// https dials wss.
func New(serverURL string) *Conn {
	return &Conn{
		serverURL: serverURL,
		messages:  make(chan []byte, 64),
		states:    make(chan State, 16),
		logger:    log.ForComponent("transport"),
	}
}

// Connect dials the push channel with the given token. It is a no-op
// when already connecting or connected, and refuses (ErrNoToken) when
// the token is empty.
func (c *Conn) Connect(ctx context.Context, token string) error {
	if token == "" {
		return ErrNoToken
	}

	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(Connecting)
	c.mu.Unlock()

	wsURL, err := c.buildURL(token)
	if err != nil {
		c.transition(Disconnected)
		return err
	}

	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: 15 * time.Second,
	}
	ws, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		c.transition(Disconnected)
		return fmt.Errorf("dialing push channel: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.ws = ws
	c.done = done
	c.setStateLocked(Connected)
	c.mu.Unlock()

	go c.readLoop(ws, done)
	return nil
}

// buildURL derives the ws(s) target from the configured origin plus the
// token as a query parameter.
func (c *Conn) buildURL(token string) (string, error) {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = PushPath
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Send serializes and transmits a message. This is not a queued-delivery
// channel: while not Connected the message is silently dropped and Send
// returns nil. A write failure tears the connection down.
func (c *Conn) Send(v any) error {
	c.mu.Lock()
	ws := c.ws
	state := c.state
	c.mu.Unlock()
	if state != Connected {
		c.logger.Debugf("send dropped while %s", state)
		return nil
	}

	c.wmu.Lock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := ws.WriteJSON(v)
	c.wmu.Unlock()

	if err != nil {
		c.dropConn(ws, err)
		return fmt.Errorf("writing to push channel: %w", err)
	}
	return nil
}

// Messages returns the inbound frame channel. It stays open across
// reconnects; a single consumer reads it for the session's lifetime.
func (c *Conn) Messages() <-chan []byte {
	return c.messages
}

// StateChanges returns the state transition channel. Notifications are
// best effort; use State for the authoritative current value.
func (c *Conn) StateChanges() <-chan State {
	return c.states
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Disconnect closes the connection if one is up.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		c.dropConn(ws, nil)
	}
}

// readLoop delivers inbound frames until the connection dies or is
// superseded.
func (c *Conn) readLoop(ws *websocket.Conn, done chan struct{}) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.dropConn(ws, err)
			return
		}
		select {
		case c.messages <- data:
		case <-done:
			return
		}
	}
}

// dropConn tears down ws if it is still the active connection and
// transitions to Disconnected.
func (c *Conn) dropConn(ws *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.ws != ws {
		// A newer connection replaced this one; nothing to do.
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.ws = nil
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.setStateLocked(Disconnected)
	c.mu.Unlock()

	_ = ws.Close()
	if cause != nil {
		c.logger.Debugf("connection dropped: %v", cause)
	}
}

// transition sets the state and notifies observers.
func (c *Conn) transition(s State) {
	c.mu.Lock()
	c.setStateLocked(s)
	c.mu.Unlock()
}

// setStateLocked updates state and publishes the transition. Callers
// hold c.mu.
func (c *Conn) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	select {
	case c.states <- s:
	default:
		// Observer lagging; State() remains authoritative.
	}
}
