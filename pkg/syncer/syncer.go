// Package syncer keeps the push channel alive for the life of a
// session. It owns the reconnection policy (exponential backoff, reset
// after sustained uptime), the subscription registry (every topic is
// re-subscribed on every connect, since the server keeps no
// subscription state across connections), and the single dispatch loop
// that feeds inbound frames to the dispatcher in arrival order.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ledgerscope/ledgerscope/pkg/log"
	"github.com/ledgerscope/ledgerscope/pkg/protocol"
	"github.com/ledgerscope/ledgerscope/pkg/transport"
)

// ErrNoToken means no session token is stored, so no connection may be
// attempted.
var ErrNoToken = errors.New("no session token stored")

// Link is the slice of the transport the syncer drives. *transport.Conn
// satisfies it.
type Link interface {
	Connect(ctx context.Context, token string) error
	Send(v any) error
	Messages() <-chan []byte
	StateChanges() <-chan transport.State
	State() transport.State
	Disconnect()
}

// TokenSource reads the session token. *storage.Store satisfies it.
type TokenSource interface {
	Token() (string, error)
}

// Handler consumes decoded frames. *dispatch.Dispatcher satisfies it.
type Handler interface {
	Dispatch(data []byte)
}

// Config is the reconnection policy's timing knobs.
type Config struct {
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	StableResetAfter time.Duration
}

// Syncer runs the connect/subscribe/dispatch loop.
type Syncer struct {
	link    Link
	tokens  TokenSource
	handler Handler
	cfg     Config

	clk    clock.Clock
	logger *log.Logger
}

func New(link Link, tokens TokenSource, handler Handler, cfg Config) *Syncer {
	return &Syncer{
		link:    link,
		tokens:  tokens,
		handler: handler,
		cfg:     cfg,
		clk:     clock.New(),
		logger:  log.ForComponent("syncer"),
	}
}

// Run drives the session until ctx is cancelled. It returns ErrNoToken
// when no token is available at connect time, and ctx.Err() on
// cancellation. Any other connection failure is retried with backoff,
// never surfaced.
func (s *Syncer) Run(ctx context.Context) error {
	defer s.link.Disconnect()

	delay := s.cfg.InitialBackoff
	for {
		token, err := s.tokens.Token()
		if err != nil {
			return fmt.Errorf("reading session token: %w", err)
		}
		if token == "" {
			return ErrNoToken
		}

		if err := s.link.Connect(ctx, token); err != nil {
			s.logger.Warnf("Connect failed: %v (retrying in %s)", err, delay)
			if !s.wait(ctx, delay) {
				return ctx.Err()
			}
			delay = s.nextDelay(delay)
			continue
		}

		connectedAt := s.clk.Now()
		s.logger.Infof("Connected, subscribing to %d topics", len(protocol.Topics()))
		s.subscribeAll()

		s.pump(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A connection that held long enough earns a fresh backoff.
		if s.clk.Now().Sub(connectedAt) >= s.cfg.StableResetAfter {
			delay = s.cfg.InitialBackoff
		}
		s.logger.Warnf("Connection lost, reconnecting in %s", delay)
		if !s.wait(ctx, delay) {
			return ctx.Err()
		}
		delay = s.nextDelay(delay)
	}
}

// subscribeAll re-issues one subscribe directive per topic. Send drops
// silently if the connection died between connect and here; the
// resulting disconnect restarts the loop and re-subscribes anyway.
func (s *Syncer) subscribeAll() {
	for _, topic := range protocol.Topics() {
		if err := s.link.Send(protocol.Subscribe(topic)); err != nil {
			s.logger.Warnf("Subscribing to %s: %v", topic, err)
			return
		}
		s.logger.Debugf("subscribed to %s", topic)
	}
}

// pump dispatches inbound frames until the connection drops or ctx is
// cancelled. On disconnect it drains frames already delivered, so
// nothing read while connected is lost or deferred to the next session.
//
// State notifications are advisory: failed dials queue Connecting and
// Disconnected transitions that nobody consumed, so a Disconnected read
// here is confirmed against the authoritative State() before it is
// treated as a drop of the live connection.
func (s *Syncer) pump(ctx context.Context) {
	states := s.link.StateChanges()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-s.link.Messages():
			s.handler.Dispatch(data)
		case state := <-states:
			if state != transport.Disconnected {
				continue
			}
			if s.link.State() != transport.Disconnected {
				// Stale notification from an earlier dial attempt.
				continue
			}
			for {
				select {
				case data := <-s.link.Messages():
					s.handler.Dispatch(data)
				default:
					return
				}
			}
		}
	}
}

// wait sleeps for d on the syncer's clock. Returns false when ctx ended
// first.
func (s *Syncer) wait(ctx context.Context, d time.Duration) bool {
	timer := s.clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Syncer) nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > s.cfg.MaxBackoff {
		d = s.cfg.MaxBackoff
	}
	return d
}
