// ABOUTME: Supervised WebSocket connection manager for the OpenClaw Gateway.
// ABOUTME: Owns dial, handshake, read loop, heartbeats, and automatic reconnection.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ddrayne/openclaw-client/internal/protocol"
)

// Default timing policy. Everything here can be overridden per ConnConfig;
// the values match the gateway's documented expectations.
const (
	defaultDialTimeout      = 10 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultStartTimeout     = 5 * time.Second
	defaultReconnectDelay   = 5 * time.Second
	defaultPingInterval     = 30 * time.Second

	// eventQueueSize bounds the decoupling buffer between the read loop and
	// event dispatch. Dispatch order is preserved; a full queue blocks reads
	// rather than dropping or reordering events.
	eventQueueSize = 64
)

// ConnConfig holds the immutable connection settings for one Conn instance.
// Changing any of these requires constructing a new Conn.
type ConnConfig struct {
	Host   string
	Port   int
	Token  string
	UseTLS bool

	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	StartTimeout     time.Duration
	ReconnectDelay   time.Duration
	PingInterval     time.Duration
}

func (c *ConnConfig) withDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = defaultStartTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
}

func (c *ConnConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// url builds the dial URL. The token rides along as a query parameter in
// addition to the headers; older gateways only check one of the two.
func (c *ConnConfig) url() string {
	scheme := "ws"
	if c.UseTLS {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: c.addr(), Path: "/"}
	if c.Token != "" {
		q := u.Query()
		q.Set("token", c.Token)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// queuedEvent is one inbound event waiting for dispatch.
type queuedEvent struct {
	name    string
	payload json.RawMessage
}

// Conn owns the physical WebSocket connection and its entire lifecycle as a
// supervised background loop: connect, handshake, read, reconnect after a
// delay, forever until Stop. All other components reach the wire only
// through Conn.
type Conn struct {
	cfg    ConnConfig
	logger *slog.Logger

	pending *pendingTable
	events  *dispatcher

	mu            sync.Mutex
	state         State
	ws            *websocket.Conn
	connected     chan struct{} // closed while Connected, re-armed per cycle
	everConnected bool
	fatalErr      error
	snapshot      json.RawMessage
	loopCancel    context.CancelFunc
	loopDone      chan struct{}

	// onConnect and onDisconnect are invoked on transitions into and out of
	// Connected; onDisconnect runs after pending requests have been failed.
	// Both are set before Start and never replaced.
	onConnect    func(snapshot json.RawMessage)
	onDisconnect func(error)

	writeMu sync.Mutex
}

// NewConn creates a connection manager. It does not touch the network until
// Start is called.
func NewConn(cfg ConnConfig, logger *slog.Logger) *Conn {
	cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		cfg:       cfg,
		logger:    logger,
		pending:   newPendingTable(logger),
		events:    newDispatcher(logger),
		state:     StateDisconnected,
		connected: make(chan struct{}),
	}
}

// Start launches the supervision loop if it is not already running and waits
// for the first Connected transition. An authentication or protocol failure
// on a first-ever handshake stops the loop and is returned here; a plain
// unreachable gateway returns a ConnectionError while the loop keeps
// retrying in the background. Start may be called again after a fatal stop
// or after Stop; either begins a fresh lifecycle.
func (c *Conn) Start(ctx context.Context) error {
	c.mu.Lock()
	if !c.loopRunningLocked() {
		runCtx, cancel := context.WithCancel(context.Background())
		c.fatalErr = nil
		c.loopCancel = cancel
		loopDone := make(chan struct{})
		c.loopDone = loopDone
		// Stop while Connected leaves the previous lifecycle's connected
		// signal closed; re-arm it before the new loop can reach
		// markConnected.
		select {
		case <-c.connected:
			c.connected = make(chan struct{})
		default:
		}
		c.state = StateConnecting
		go c.run(runCtx, loopDone)
	}
	connected := c.connected
	done := c.loopDone
	c.mu.Unlock()

	timer := time.NewTimer(c.cfg.StartTimeout)
	defer timer.Stop()

	select {
	case <-connected:
		return nil
	case <-done:
		if err := c.FatalError(); err != nil {
			return err
		}
		return &ConnectionError{Reason: "connection loop stopped"}
	case <-timer.C:
		if err := c.FatalError(); err != nil {
			return err
		}
		return &ConnectionError{
			Reason: fmt.Sprintf("connection timeout - gateway at %s may not be reachable", c.cfg.addr()),
		}
	case <-ctx.Done():
		return &ConnectionError{Reason: "connect cancelled", Err: ctx.Err()}
	}
}

// Stop terminates the supervision loop, closes the socket, and fails any
// in-flight requests. The Conn does not reconnect afterward.
func (c *Conn) Stop() {
	c.mu.Lock()
	c.state = StateClosed
	cancel := c.loopCancel
	ws := c.ws
	done := c.loopDone
	c.mu.Unlock()

	c.logger.Info("disconnecting from gateway")
	if cancel != nil {
		cancel()
	}
	if ws != nil {
		_ = ws.Close()
	}
	if done != nil {
		<-done
	}
}

// Reconnect drops the current socket, if any. The supervision loop treats
// this like any other disconnect and re-establishes after the usual delay.
func (c *Conn) Reconnect() {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		c.logger.Info("manual reconnect requested")
		_ = ws.Close()
	}
}

// Send issues a request and waits for its response, bounded by timeout.
// It fails immediately with a ConnectionError unless currently Connected;
// requests are never queued across reconnects.
func (c *Conn) Send(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state != StateConnected || c.ws == nil {
		state := c.state
		c.mu.Unlock()
		return nil, &ConnectionError{Reason: "not connected to gateway (state: " + state.String() + ")"}
	}
	ws := c.ws
	c.mu.Unlock()

	return c.request(ctx, ws, method, params, timeout)
}

// Subscribe registers an event handler. Subscriptions survive reconnects.
func (c *Conn) Subscribe(event string, handler EventHandler) {
	c.events.subscribe(event, handler)
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the connection is currently usable.
func (c *Conn) Connected() bool {
	return c.State() == StateConnected
}

// AwaitConnected returns a channel that is closed while the connection is
// usable. After a disconnect a fresh channel is armed for the next cycle.
func (c *Conn) AwaitConnected() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// FatalError returns the authentication or protocol error that stopped the
// supervision loop, if any.
func (c *Conn) FatalError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatalErr
}

// Snapshot returns the payload of the most recent successful handshake.
func (c *Conn) Snapshot() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// run is the supervision loop. It owns every state transition and never
// reconnects on a fatal first-handshake failure or after Stop.
func (c *Conn) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	queue := make(chan queuedEvent, eventQueueSize)
	var dispatchDone sync.WaitGroup
	dispatchDone.Add(1)
	go func() {
		defer dispatchDone.Done()
		for ev := range queue {
			c.events.dispatch(ev.name, ev.payload)
		}
	}()
	defer func() {
		close(queue)
		dispatchDone.Wait()
	}()

	for {
		if ctx.Err() != nil {
			c.setState(StateClosed)
			return
		}

		c.setState(StateConnecting)
		c.logger.Info("connecting to gateway", "addr", c.cfg.addr())

		ws, err := c.dial(ctx)
		if err != nil {
			if c.bailOnFatal(err) {
				return
			}
			c.logger.Warn("connection failed, will retry", "error", err)
			if !c.sleep(ctx, c.cfg.ReconnectDelay) {
				c.setState(StateClosed)
				return
			}
			continue
		}

		c.attach(ws)
		readErr := make(chan error, 1)
		go func() {
			readErr <- c.readLoop(ws, queue)
		}()

		c.setState(StateHandshaking)
		snapshot, err := c.handshake(ctx, ws)
		if err != nil {
			_ = ws.Close()
			<-readErr
			c.detach(err)
			if c.bailOnFatal(err) {
				return
			}
			if ctx.Err() != nil {
				c.setState(StateClosed)
				return
			}
			c.logger.Warn("handshake failed, will retry", "error", err)
			c.setState(StateReconnecting)
			if !c.sleep(ctx, c.cfg.ReconnectDelay) {
				c.setState(StateClosed)
				return
			}
			continue
		}

		c.markConnected(snapshot)

		pingStop := make(chan struct{})
		go c.pingLoop(ws, pingStop)

		err = <-readErr
		close(pingStop)
		c.detach(err)

		if ctx.Err() != nil {
			c.setState(StateClosed)
			return
		}
		c.setState(StateReconnecting)
		c.logger.Info("reconnecting to gateway",
			"delay", c.cfg.ReconnectDelay,
		)
		if !c.sleep(ctx, c.cfg.ReconnectDelay) {
			c.setState(StateClosed)
			return
		}
	}
}

// bailOnFatal records err and stops the loop when it is an authentication or
// protocol failure on a connection that has never succeeded. Once a
// connection has been established at least once, the same errors are treated
// as transient and retried: credentials may become valid again, and the
// caller can Stop the client if they keep recurring.
func (c *Conn) bailOnFatal(err error) bool {
	var authErr *AuthenticationError
	var protoErr *ProtocolError
	if !errors.As(err, &authErr) && !errors.As(err, &protoErr) {
		return false
	}

	c.mu.Lock()
	ever := c.everConnected
	if !ever {
		c.fatalErr = err
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if ever {
		return false
	}
	c.logger.Error("gateway connection stopped", "error", err)
	return true
}

// dial establishes the transport-level connection. HTTP 401/403 on the
// upgrade is an authentication rejection, everything else a ConnectionError.
func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
		header.Set("X-OpenClaw-Token", c.cfg.Token)
	}

	ws, resp, err := dialer.DialContext(ctx, c.cfg.url(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &AuthenticationError{
				Detail: fmt.Sprintf("gateway rejected connection: HTTP %d", resp.StatusCode),
			}
		}
		return nil, &ConnectionError{Reason: "dial " + c.cfg.addr(), Err: err}
	}
	return ws, nil
}

// handshake sends the connect request and validates the response. The read
// loop is already running, so the response arrives through the pending
// table like any other; events the gateway pushes before answering (for
// example connect.challenge) flow through normal dispatch and are harmless.
func (c *Conn) handshake(ctx context.Context, ws *websocket.Conn) (json.RawMessage, error) {
	params := protocol.NewConnectParams(c.cfg.Token)
	payload, err := c.request(ctx, ws, "connect", params, c.cfg.HandshakeTimeout)
	if err != nil {
		var timeoutErr *TimeoutError
		if errors.As(err, &timeoutErr) {
			return nil, &ConnectionError{Reason: "handshake timeout"}
		}
		return nil, err
	}

	var hello protocol.ConnectPayload
	if jerr := json.Unmarshal(payload, &hello); jerr == nil && hello.Protocol != 0 {
		if hello.Protocol < protocol.MinVersion || hello.Protocol > protocol.MaxVersion {
			// Version skew is tolerated; the gateway decides what it serves.
			c.logger.Warn("gateway negotiated unexpected protocol version",
				"negotiated", hello.Protocol,
				"supported_min", protocol.MinVersion,
				"supported_max", protocol.MaxVersion,
			)
		}
	}

	c.logger.Debug("handshake completed")
	return payload, nil
}

// request registers a pending entry, transmits the frame, and waits for
// resolution, timeout, or cancellation. On timeout the entry is removed so a
// late response is discarded instead of leaking.
func (c *Conn) request(ctx context.Context, ws *websocket.Conn, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := uuid.New().String()
	ch := c.pending.create(id)

	frame, err := protocol.EncodeRequest(id, method, params)
	if err != nil {
		c.pending.remove(id)
		return nil, &ProtocolError{Detail: err.Error()}
	}

	c.logger.Debug("sending request", "method", method, "request_id", id)
	if err := c.write(ws, frame); err != nil {
		c.pending.remove(id)
		return nil, &ConnectionError{Reason: "write " + method + " request", Err: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.payload, res.err
	case <-timer.C:
		c.pending.remove(id)
		return nil, &TimeoutError{Op: method + " response"}
	case <-ctx.Done():
		c.pending.remove(id)
		return nil, &ConnectionError{Reason: method + " cancelled", Err: ctx.Err()}
	}
}

// readLoop reads frames until the connection dies and routes each one. A
// malformed frame is logged and skipped, never fatal.
func (c *Conn) readLoop(ws *websocket.Conn, queue chan<- queuedEvent) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, protocol.CloseServiceRestart) {
				c.logger.Info("gateway is restarting, will reconnect")
			}
			return err
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("discarding malformed frame", "error", err)
			continue
		}
		c.handleFrame(ws, msg, queue)
	}
}

// handleFrame routes one decoded frame. Responses resolve pending requests
// inline; events go through the dispatch queue so a slow handler cannot
// stall protocol reads behind it.
func (c *Conn) handleFrame(ws *websocket.Conn, msg *protocol.Message, queue chan<- queuedEvent) {
	switch msg.Type {
	case protocol.KindResponse:
		res := result{payload: msg.Payload}
		if !msg.OK {
			res = result{err: errorFromResponse(msg.Error)}
		}
		c.pending.resolve(msg.ID, res)

	case protocol.KindEvent:
		if msg.Event == "" {
			c.logger.Warn("event frame without event name")
			return
		}
		queue <- queuedEvent{name: msg.Event, payload: msg.Payload}

	case protocol.KindPing:
		if err := c.write(ws, protocol.EncodePong()); err != nil {
			c.logger.Debug("failed to send pong", "error", err)
		}

	case protocol.KindPong:
		c.logger.Debug("received heartbeat pong")

	case protocol.KindRequest:
		c.logger.Warn("unexpected request frame from gateway", "method", msg.Method)
	}
}

// pingLoop sends an application-level heartbeat while the connection lives.
func (c *Conn) pingLoop(ws *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.write(ws, protocol.EncodePing()); err != nil {
				c.logger.Debug("heartbeat write failed", "error", err)
				return
			}
		}
	}
}

// write serializes all socket writes; the websocket connection does not
// allow concurrent writers.
func (c *Conn) write(ws *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *Conn) attach(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
}

// detach tears down connection-scoped state after the read loop exits:
// every pending request fails with a connection error and the connected
// signal is re-armed. Event subscriptions are untouched.
func (c *Conn) detach(cause error) {
	c.mu.Lock()
	c.ws = nil
	wasConnected := c.state == StateConnected
	if wasConnected {
		c.connected = make(chan struct{})
	}
	c.mu.Unlock()

	connErr := &ConnectionError{Reason: "connection lost", Err: cause}
	c.pending.failAll(connErr)

	if wasConnected {
		c.logger.Warn("disconnected from gateway", "error", cause)
		if c.onDisconnect != nil {
			c.onDisconnect(connErr)
		}
	}
}

func (c *Conn) markConnected(snapshot json.RawMessage) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = StateConnected
	}
	c.everConnected = true
	c.snapshot = snapshot
	connected := c.connected
	c.mu.Unlock()

	close(connected)
	c.logger.Info("connected to gateway", "addr", c.cfg.addr())
	if c.onConnect != nil {
		c.onConnect(snapshot)
	}
}

// setState applies a supervision-loop transition. Closed is sticky: once
// Stop marked the Conn closed, the loop's own transitions no-op.
func (c *Conn) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed && s != StateClosed {
		return
	}
	c.state = s
}

// sleep waits for the reconnect delay, returning false if the loop was
// stopped meanwhile.
func (c *Conn) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Conn) loopRunningLocked() bool {
	if c.loopDone == nil {
		return false
	}
	select {
	case <-c.loopDone:
		return false
	default:
		return true
	}
}
