// internal/realtime/conn.go

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Maximum message size allowed from the server
	maxMessageSize = 512 * 1024 // 512KB

	// Outbound frame buffer
	sendBufferSize = 256
)

// Options configures the transport session.
type Options struct {
	URL        string
	Credential string

	HandshakeTimeout time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration

	ReconnectWait    time.Duration
	ReconnectMaxWait time.Duration
	ReconnectFactor  float64 // 1.0 keeps the retry delay fixed

	Logger *logrus.Entry
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.ReconnectMaxWait < opts.ReconnectWait {
		opts.ReconnectMaxWait = opts.ReconnectWait
	}
	if opts.ReconnectFactor < 1.0 {
		opts.ReconnectFactor = 1.0
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return opts
}

// wsSession wraps one underlying websocket link. A Conn goes through one
// session per connection attempt; reconnects replace the session.
type wsSession struct {
	ws   *websocket.Conn
	stop chan struct{}
	once sync.Once
}

func (s *wsSession) close() {
	s.once.Do(func() {
		close(s.stop)
		s.ws.Close()
	})
}

// Conn owns the single authenticated transport session: handshake, heartbeat,
// reconnect with backoff, and the ordered inbound frame stream.
//
// OnFrame, OnStateChange and OnFatal must be wired before Connect; they are
// invoked from the connection's own goroutines and must not block.
type Conn struct {
	opts     Options
	log      *logrus.Entry
	clientID string

	onFrame func(Frame)
	onState []func(ConnectionState)
	onFatal func(error)

	send chan Frame
	done chan struct{}

	closeOnce sync.Once

	mu    sync.Mutex
	state ConnectionState
	sess  *wsSession
}

func NewConn(opts Options) *Conn {
	opts = opts.withDefaults()
	clientID := uuid.NewString()
	return &Conn{
		opts:     opts,
		log:      opts.Logger.WithField("client_id", clientID),
		clientID: clientID,
		send:     make(chan Frame, sendBufferSize),
		done:     make(chan struct{}),
		state:    StateDisconnected,
	}
}

// OnFrame registers the single inbound dispatch point. Frames are delivered
// in server-send order; long-running work must be deferred by the handler.
func (c *Conn) OnFrame(fn func(Frame)) {
	c.onFrame = fn
}

// OnStateChange registers an observer of the connected signal.
func (c *Conn) OnStateChange(fn func(ConnectionState)) {
	c.onState = append(c.onState, fn)
}

// OnFatal registers the forced-logout hook for fatal session errors.
func (c *Conn) OnFatal(fn func(error)) {
	c.onFatal = fn
}

func (c *Conn) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials and authenticates. Calling it while already connecting or
// connected is a no-op. An authentication rejection is fatal: the forced
// logout hook fires and the error is returned without retry. A transient
// dial failure leaves the Conn Disconnected and is returned to the caller.
func (c *Conn) Connect(ctx context.Context) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.notify(StateConnecting)

	ws, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		if errors.Is(err, ErrAuthRejected) {
			c.fatal(err)
		}
		return err
	}

	c.startSession(ws)
	return nil
}

// Close tears down the transport and transitions to Disconnected. Safe to
// call from unload-style hooks and safe to call repeatedly.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		sess := c.sess
		c.sess = nil
		c.state = StateDisconnected
		c.mu.Unlock()

		if sess != nil {
			// WriteControl is safe alongside a concurrent write pump;
			// WriteMessage is not.
			sess.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.opts.WriteWait))
			sess.close()
		}

		connectionUp.Set(0)
		c.notify(StateDisconnected)
		c.log.Info("connection closed")
	})
}

// Publish enqueues a fire-and-forget frame to topic. Rejected synchronously
// while the session is not connected; outgoing sends are never queued across
// a known-down link. Frames accepted just before a drop is detected may
// still be flushed by the next session's writer.
func (c *Conn) Publish(topic string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		publishesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("realtime: encode publish: %w", err)
	}
	if err := c.enqueue(Frame{
		Type:      FramePublish,
		Topic:     topic,
		ID:        uuid.NewString(),
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		publishesTotal.WithLabelValues("rejected").Inc()
		return err
	}
	publishesTotal.WithLabelValues("ok").Inc()
	return nil
}

// Subscribe issues the wire-level subscribe for topic.
func (c *Conn) Subscribe(topic string) error {
	return c.enqueue(Frame{Type: FrameSubscribe, Topic: topic, Timestamp: time.Now().UTC()})
}

// Unsubscribe issues the wire-level unsubscribe for topic.
func (c *Conn) Unsubscribe(topic string) error {
	return c.enqueue(Frame{Type: FrameUnsubscribe, Topic: topic, Timestamp: time.Now().UTC()})
}

func (c *Conn) enqueue(f Frame) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	select {
	case c.send <- f:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return fmt.Errorf("realtime: send buffer full")
	}
}

// dial establishes the websocket link and performs the auth handshake.
func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("realtime: dial %s: %w", c.opts.URL, err)
	}

	authData, _ := json.Marshal(AuthPayload{Token: c.opts.Credential})
	ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	if err := ws.WriteJSON(Frame{
		Type:      FrameAuth,
		ID:        c.clientID,
		Data:      authData,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		ws.Close()
		return nil, fmt.Errorf("realtime: send auth: %w", err)
	}

	ws.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	var reply Frame
	if err := ws.ReadJSON(&reply); err != nil {
		ws.Close()
		return nil, fmt.Errorf("realtime: read auth reply: %w", err)
	}

	switch reply.Type {
	case FrameAuthOK:
		ws.SetReadDeadline(time.Time{})
		return ws, nil
	case FrameAuthError:
		ws.Close()
		var p AuthErrorPayload
		json.Unmarshal(reply.Data, &p)
		if p.Reason == "" {
			p.Reason = "credential rejected"
		}
		return nil, fmt.Errorf("%w: %s", ErrAuthRejected, p.Reason)
	default:
		ws.Close()
		return nil, fmt.Errorf("realtime: unexpected handshake frame %q", reply.Type)
	}
}

func (c *Conn) startSession(ws *websocket.Conn) {
	sess := &wsSession{ws: ws, stop: make(chan struct{})}

	c.mu.Lock()
	select {
	case <-c.done:
		// Closed while dialing.
		c.mu.Unlock()
		sess.close()
		return
	default:
	}
	c.sess = sess
	c.state = StateConnected
	c.mu.Unlock()

	connectionUp.Set(1)
	c.log.Info("connected")
	c.notify(StateConnected)

	go c.readPump(sess)
	go c.writePump(sess)
}

func (c *Conn) readPump(s *wsSession) {
	s.ws.SetReadLimit(maxMessageSize)
	s.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	s.ws.SetPongHandler(func(string) error {
		s.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			// A missed heartbeat surfaces here as a deadline error and is
			// handled like any other transport drop.
			c.handleDrop(s, err)
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			framesMalformedTotal.Inc()
			c.log.WithError(err).Warn("dropping malformed frame")
			continue
		}

		framesReceivedTotal.WithLabelValues(f.Type).Inc()
		if c.onFrame != nil {
			c.onFrame(f)
		}
	}
}

func (c *Conn) writePump(s *wsSession) {
	pingPeriod := c.opts.PongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f := <-c.send:
			s.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := s.ws.WriteJSON(f); err != nil {
				c.handleDrop(s, err)
				return
			}

		case <-ticker.C:
			s.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.handleDrop(s, err)
				return
			}

		case <-s.stop:
			return

		case <-c.done:
			return
		}
	}
}

// handleDrop reacts to a transport loss: the session is torn down and a
// background reconnect loop takes over. The subscription registry is not
// touched; intents survive until the next connected signal.
func (c *Conn) handleDrop(s *wsSession, err error) {
	s.close()

	c.mu.Lock()
	if c.sess != s {
		// Stale session; a newer link already replaced it.
		c.mu.Unlock()
		return
	}
	c.sess = nil

	select {
	case <-c.done:
		c.state = StateDisconnected
		c.mu.Unlock()
		return
	default:
	}

	c.state = StateReconnecting
	c.mu.Unlock()

	connectionUp.Set(0)
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.WithError(err).Warn("transport dropped, reconnecting")
	}
	c.notify(StateReconnecting)

	go c.reconnectLoop()
}

func (c *Conn) reconnectLoop() {
	wait := c.opts.ReconnectWait

	for {
		select {
		case <-c.done:
			return
		case <-time.After(wait):
		}

		ws, err := c.dial(context.Background())
		if err == nil {
			reconnectsTotal.Inc()
			c.startSession(ws)
			return
		}

		if errors.Is(err, ErrAuthRejected) {
			// The credential went bad mid-session. Retrying would loop
			// against an invalid token forever.
			c.setState(StateDisconnected)
			c.fatal(err)
			return
		}

		c.log.WithError(err).WithField("next_wait", wait).Warn("reconnect failed")
		wait = nextWait(wait, c.opts.ReconnectFactor, c.opts.ReconnectMaxWait)
	}
}

func nextWait(wait time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(wait) * factor)
	if next > max {
		next = max
	}
	if next < wait && factor >= 1.0 {
		// Overflow guard.
		next = max
	}
	return next
}

func (c *Conn) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.notify(s)
}

func (c *Conn) notify(s ConnectionState) {
	for _, fn := range c.onState {
		fn(s)
	}
}

func (c *Conn) fatal(err error) {
	c.log.WithError(err).Error("fatal session error")
	if c.onFatal != nil {
		c.onFatal(err)
	}
}
