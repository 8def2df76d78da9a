// Package live manages the single push-delivery connection for an
// authenticated session: one websocket, room membership per conversation,
// and automatic reconnection with room rejoin.
//
// Room membership is not preserved server-side across a reconnect, so after
// every successful redial all previously joined rooms are rejoined before
// event delivery resumes. Join and leave calls issued while the connection
// is down are absorbed into the desired-membership set and replayed the same
// way; the underlying transport silently drops frames written before the
// handshake completes, so writing early is never an option.
package live

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"

	"github.com/TernFolbaek/anthra-sync/pkg/bus"
	"github.com/TernFolbaek/anthra-sync/pkg/logger"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrChannelStopped is returned for operations on a stopped channel.
var ErrChannelStopped = errors.New("live channel stopped")

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("live channel already started")

// Config holds the push endpoint address and reconnect policy bounds.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// Channel owns the websocket connection. Exactly one Channel exists per
// session; conversation controllers borrow it for room join/leave and must
// never call Stop.
type Channel struct {
	cfg    Config
	tokens oauth2.TokenSource
	events *bus.EventBus
	dialer *websocket.Dialer

	state   atomic.Int32
	stopped atomic.Bool
	started atomic.Bool
	done    chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	joined map[string]struct{}
}

// NewChannel creates a channel that publishes inbound events to eb.
func NewChannel(cfg Config, ts oauth2.TokenSource, eb *bus.EventBus) *Channel {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = 500 * time.Millisecond
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	return &Channel{
		cfg:    cfg,
		tokens: ts,
		events: eb,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		done:   make(chan struct{}),
		joined: make(map[string]struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Start dials the push endpoint once. On failure the channel stays
// disconnected and the error is returned; the caller decides whether to call
// Start again. After a successful Start, transport-level drops are handled
// internally by the reconnect loop.
func (c *Channel) Start(ctx context.Context) error {
	if c.stopped.Load() {
		return ErrChannelStopped
	}
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	c.state.Store(int32(StateConnecting))
	conn, err := c.dial(ctx)
	if err != nil {
		c.started.Store(false)
		c.state.Store(int32(StateDisconnected))
		return fmt.Errorf("connecting push channel: %w", err)
	}

	c.install(conn)
	logger.InfoCF("live", "connected", map[string]any{"url": c.cfg.URL})
	return nil
}

// Stop tears the channel down permanently. Idempotent.
func (c *Channel) Stop(ctx context.Context) error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}
	c.state.Store(int32(StateDisconnected))
	logger.InfoC("live", "stopped")
	return nil
}

// JoinRoom adds room to the desired membership. When connected the join
// frame is written immediately; otherwise it is replayed on the next
// (re)entry to the connected state.
func (c *Channel) JoinRoom(room string) error {
	if c.stopped.Load() {
		return ErrChannelStopped
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.joined[room] = struct{}{}
	if c.State() != StateConnected || c.conn == nil {
		logger.DebugCF("live", "join queued", map[string]any{"room": room})
		return nil
	}
	return c.writeLocked(frame{Type: frameJoin, Room: room})
}

// LeaveRoom removes room from the desired membership and, when connected,
// writes the leave frame. Leaving a room that was only queued simply drops
// the queued join.
func (c *Channel) LeaveRoom(room string) error {
	if c.stopped.Load() {
		return ErrChannelStopped
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.joined[room]; !ok {
		return nil
	}
	delete(c.joined, room)
	if c.State() != StateConnected || c.conn == nil {
		return nil
	}
	return c.writeLocked(frame{Type: frameLeave, Room: room})
}

// Rooms returns the desired membership set, for diagnostics.
func (c *Channel) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.joined))
	for r := range c.joined {
		out = append(out, r)
	}
	return out
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("resolving credential: %w", err)
		}
		tok.SetAuthHeader(&http.Request{Header: header})
	}

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	return conn, err
}

// install registers a fresh connection, replays the membership set and starts
// the read pump. Rejoin happens before the pump delivers anything, so no
// event can be observed for a room the server no longer has us in.
func (c *Channel) install(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.state.Store(int32(StateConnected))
	for room := range c.joined {
		if err := c.writeLocked(frame{Type: frameJoin, Room: room}); err != nil {
			logger.WarnCF("live", "rejoin write failed", map[string]any{
				"room":  room,
				"error": err.Error(),
			})
		}
	}
	c.mu.Unlock()

	go c.readPump(conn)
}

func (c *Channel) writeLocked(f frame) error {
	if c.conn == nil {
		return nil
	}
	return c.conn.WriteJSON(f)
}

func (c *Channel) readPump(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if c.stopped.Load() {
				return
			}
			logger.WarnCF("live", "connection lost", map[string]any{"error": err.Error()})
			c.reconnect(conn)
			return
		}
		c.deliver(f)
	}
}

func (c *Channel) deliver(f frame) {
	var ev bus.Event
	switch f.Type {
	case frameMessageCreated:
		if f.Message == nil {
			return
		}
		ev = bus.Event{Kind: bus.EventMessageCreated, Room: f.Room, Message: f.Message}
	case frameMessageUpdated:
		if f.Patch == nil {
			return
		}
		ev = bus.Event{
			Kind: bus.EventMessageUpdated,
			Room: f.Room,
			Patch: &bus.PatchEvent{
				MessageID: f.ID,
				Patch:     *f.Patch,
			},
		}
	default:
		logger.DebugCF("live", "ignoring frame", map[string]any{"type": f.Type})
		return
	}

	if err := c.events.Publish(context.Background(), ev); err != nil {
		logger.WarnCF("live", "event dropped", map[string]any{"error": err.Error()})
	}
}

// reconnect redials with exponential backoff until it succeeds or the
// channel is stopped. Runs on the goroutine of the read pump that observed
// the drop; only one pump exists per connection, so only one reconnect loop
// can be active.
func (c *Channel) reconnect(dead *websocket.Conn) {
	c.mu.Lock()
	if c.conn != dead {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state.Store(int32(StateReconnecting))
	c.mu.Unlock()
	dead.Close()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.ReconnectInitial
	policy.MaxInterval = c.cfg.ReconnectMax
	policy.MaxElapsedTime = 0

	for {
		wait := policy.NextBackOff()
		select {
		case <-c.done:
			return
		case <-time.After(wait):
		}

		conn, err := c.dial(context.Background())
		if err != nil {
			logger.WarnCF("live", "reconnect failed", map[string]any{
				"error":      err.Error(),
				"next_retry": wait.String(),
			})
			continue
		}

		if c.stopped.Load() {
			conn.Close()
			return
		}

		c.install(conn)
		logger.InfoCF("live", "reconnected", map[string]any{"rooms": len(c.Rooms())})
		return
	}
}
