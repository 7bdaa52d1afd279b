// ABOUTME: High-level Gateway client: ask the agent and await the final answer.
// ABOUTME: Composes the connection manager, run buffering, and timeout policy.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ddrayne/openclaw-client/internal/protocol"
)

// Default facade policy. The overall agent timeout is a deployment concern
// and comes from configuration; these are fallbacks.
const (
	defaultAgentTimeout = 30 * time.Second
	defaultSessionKey   = "main"

	// ackTimeout bounds the initial "agent" request acknowledgment; the
	// gateway answers with a runId quickly even when the run itself is slow.
	ackTimeout = 10 * time.Second

	// shortRequestTimeout bounds lightweight calls like health and status.
	shortRequestTimeout = 5 * time.Second

	// earlyRunLimit and earlyRunEventLimit bound the buffer for agent events
	// that arrive before their run is registered. Runs nobody here registers
	// (started by another client on the same gateway) are evicted as new
	// ones come in.
	earlyRunLimit      = 16
	earlyRunEventLimit = 64
)

// ClientConfig configures a Client. Connection settings are immutable for
// the life of the client; session key, model, and thinking mode can be
// changed between requests.
type ClientConfig struct {
	Conn ConnConfig

	// Timeout bounds each agent run from acknowledgment to completion.
	Timeout    time.Duration
	SessionKey string
	Model      string
	Thinking   string

	Logger *slog.Logger
}

// Client is the high-level Gateway API client. All methods are safe for
// concurrent use.
type Client struct {
	conn   *Conn
	logger *slog.Logger

	mu         sync.Mutex // guards the request option fields below
	timeout    time.Duration
	sessionKey string
	model      string
	thinking   string

	runsMu    sync.Mutex
	runs      map[string]*agentRun
	earlyRuns map[string][]protocol.AgentEvent

	presenceMu sync.Mutex
	presence   json.RawMessage

	changeMu sync.Mutex
	onChange []func(connected bool)
}

// NewClient creates a client for the given gateway. Call Connect to bring
// the connection up.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAgentTimeout
	}
	if cfg.SessionKey == "" {
		cfg.SessionKey = defaultSessionKey
	}

	c := &Client{
		logger:     logger,
		timeout:    cfg.Timeout,
		sessionKey: cfg.SessionKey,
		model:      cfg.Model,
		thinking:   cfg.Thinking,
		runs:       make(map[string]*agentRun),
		earlyRuns:  make(map[string][]protocol.AgentEvent),
	}
	c.conn = NewConn(cfg.Conn, logger)
	c.conn.onConnect = c.handleConnected
	c.conn.onDisconnect = c.handleDisconnected
	c.conn.Subscribe("agent", c.handleAgentEvent)
	c.conn.Subscribe("presence", c.handlePresenceEvent)
	return c
}

// Connect brings the connection up and waits for the first handshake.
func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Start(ctx)
}

// Close tears the connection down permanently.
func (c *Client) Close() {
	c.conn.Stop()
}

// Reconnect drops the current socket; the connection manager re-establishes
// it after the usual delay.
func (c *Client) Reconnect() {
	c.conn.Reconnect()
}

// Connected reports whether the gateway connection is currently usable.
func (c *Client) Connected() bool { return c.conn.Connected() }

// State returns the connection state.
func (c *Client) State() State { return c.conn.State() }

// FatalError returns the error that stopped the connection loop, if any.
func (c *Client) FatalError() error { return c.conn.FatalError() }

// Snapshot returns the payload from the most recent connect handshake.
func (c *Client) Snapshot() json.RawMessage { return c.conn.Snapshot() }

// OnEvent registers a handler for a named gateway event.
func (c *Client) OnEvent(event string, handler EventHandler) {
	c.conn.Subscribe(event, handler)
}

// OnConnectivityChange registers a callback invoked whenever the connection
// becomes usable or stops being usable.
func (c *Client) OnConnectivityChange(fn func(connected bool)) {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// SessionKey returns the active session key.
func (c *Client) SessionKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionKey
}

// SetSessionKey changes the session key used for new agent requests.
func (c *Client) SetSessionKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionKey = key
}

// SetModel changes the model override used for new agent requests.
func (c *Client) SetModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = model
}

// SetThinking changes the thinking-mode override for new agent requests.
func (c *Client) SetThinking(thinking string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thinking = thinking
}

// AskAgent sends prompt to the agent and waits for the complete response
// text. The request is acknowledged quickly with a runId; output then
// arrives as events which are buffered until the run completes. On timeout
// the run is abandoned locally; remote execution is not cancelled.
func (c *Client) AskAgent(ctx context.Context, prompt string) (string, error) {
	run, err := c.startRun(ctx, prompt, false)
	if err != nil {
		return "", err
	}
	defer c.removeRun(run.id)

	timeout := c.agentTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-run.done:
	case <-timer.C:
		c.logger.Warn("agent request timed out",
			"run_id", run.id,
			"timeout", timeout,
		)
		return "", &TimeoutError{Op: "agent run " + run.id}
	case <-ctx.Done():
		return "", &ConnectionError{Reason: "agent request cancelled", Err: ctx.Err()}
	}

	status, summary, failErr := run.outcome()
	if failErr != nil {
		return "", failErr
	}
	switch status {
	case protocol.StatusOK:
		text := run.resultText()
		c.logger.Debug("agent run completed", "run_id", run.id, "chars", len(text))
		return text, nil
	case protocol.StatusError:
		return "", &AgentExecutionError{Detail: summary}
	default:
		return "", &AgentExecutionError{Detail: "unknown agent status: " + status}
	}
}

// StreamChunk is one increment of agent output. A chunk with Err set is
// terminal; the channel closes after it.
type StreamChunk struct {
	Text string
	Err  error
}

// StreamAgent sends prompt to the agent and returns a channel of output
// increments. The channel closes when the run completes, fails, or times
// out; failure is delivered as the final chunk's Err.
func (c *Client) StreamAgent(ctx context.Context, prompt string) (<-chan StreamChunk, error) {
	run, err := c.startRun(ctx, prompt, true)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer c.removeRun(run.id)

		timer := time.NewTimer(c.agentTimeout())
		defer timer.Stop()

		for {
			select {
			case chunk, ok := <-run.stream:
				if !ok {
					if err := c.runError(run); err != nil {
						out <- StreamChunk{Err: err}
					}
					return
				}
				select {
				case out <- StreamChunk{Text: chunk}:
				case <-ctx.Done():
					return
				}
			case <-timer.C:
				out <- StreamChunk{Err: &TimeoutError{Op: "agent run " + run.id}}
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Health fetches the gateway's health payload.
func (c *Client) Health(ctx context.Context) (json.RawMessage, error) {
	return c.conn.Send(ctx, "health", struct{}{}, shortRequestTimeout)
}

// Status fetches the gateway's status payload.
func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	return c.conn.Send(ctx, "status", struct{}{}, shortRequestTimeout)
}

// Presence returns the latest presence view, seeded from the handshake
// snapshot and updated by presence events.
func (c *Client) Presence() json.RawMessage {
	c.presenceMu.Lock()
	defer c.presenceMu.Unlock()
	return c.presence
}

// startRun issues the agent request, validates the acknowledgment, and
// registers a fresh run tracker under the returned runId.
func (c *Client) startRun(ctx context.Context, prompt string, streaming bool) (*agentRun, error) {
	c.mu.Lock()
	params := &protocol.AgentParams{
		Message:        prompt,
		SessionKey:     c.sessionKey,
		IdempotencyKey: uuid.New().String(),
	}
	if c.model != "" || c.thinking != "" {
		params.Options = &protocol.AgentOptions{Model: c.model, Thinking: c.thinking}
	}
	c.mu.Unlock()

	payload, err := c.conn.Send(ctx, "agent", params, ackTimeout)
	if err != nil {
		return nil, err
	}

	var ack protocol.AgentAck
	if err := json.Unmarshal(payload, &ack); err != nil || ack.RunID == "" {
		return nil, &AgentExecutionError{Detail: "no runId in agent response"}
	}
	c.logger.Debug("agent run started", "run_id", ack.RunID)

	run := newAgentRun(ack.RunID, streaming, c.logger)

	// The gateway can write the run's first events back-to-back with the
	// ack, in which case dispatch buffered them before we knew the runId.
	// Registration and replay share one critical section with the event
	// handler's lookup, so every event is either replayed here or applied
	// directly after the run is visible; order is preserved either way.
	c.runsMu.Lock()
	c.runs[run.id] = run
	early := c.earlyRuns[run.id]
	delete(c.earlyRuns, run.id)
	for _, ev := range early {
		c.applyAgentEvent(run, ev)
	}
	c.runsMu.Unlock()
	return run, nil
}

// runError maps a completed run's outcome to the error surface, or nil on
// success.
func (c *Client) runError(run *agentRun) error {
	status, summary, failErr := run.outcome()
	if failErr != nil {
		return failErr
	}
	switch status {
	case protocol.StatusOK:
		return nil
	case protocol.StatusError:
		return &AgentExecutionError{Detail: summary}
	default:
		return &AgentExecutionError{Detail: "unknown agent status: " + status}
	}
}

func (c *Client) agentTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

func (c *Client) removeRun(id string) {
	c.runsMu.Lock()
	defer c.runsMu.Unlock()
	delete(c.runs, id)
}

// handleAgentEvent routes one "agent" event to its run tracker. Events for
// runs not yet registered are buffered for replay; see startRun.
func (c *Client) handleAgentEvent(payload json.RawMessage) {
	var ev protocol.AgentEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.logger.Warn("malformed agent event", "error", err)
		return
	}
	if ev.RunID == "" {
		c.logger.Warn("agent event without runId")
		return
	}

	c.runsMu.Lock()
	run := c.runs[ev.RunID]
	if run == nil {
		c.bufferEarlyEventLocked(ev)
		c.runsMu.Unlock()
		return
	}
	c.runsMu.Unlock()

	c.applyAgentEvent(run, ev)
}

// bufferEarlyEventLocked stashes an event whose run is not registered yet.
// The requester may simply not have processed the ack; the event is replayed
// once the runId is known. Bounded on both axes so runs that never get
// registered cannot grow the buffer without limit.
func (c *Client) bufferEarlyEventLocked(ev protocol.AgentEvent) {
	queue, tracked := c.earlyRuns[ev.RunID]
	if !tracked && len(c.earlyRuns) >= earlyRunLimit {
		for id := range c.earlyRuns {
			delete(c.earlyRuns, id)
			break
		}
	}
	if len(queue) >= earlyRunEventLimit {
		c.logger.Debug("dropping event for unregistered run", "run_id", ev.RunID)
		return
	}
	c.earlyRuns[ev.RunID] = append(queue, ev)
}

// applyAgentEvent folds one event into its run: output first, then any
// completion it carries.
func (c *Client) applyAgentEvent(run *agentRun, ev protocol.AgentEvent) {
	output := ev.Output
	if output == "" {
		output = ev.Data.Text
	}
	if output != "" {
		run.addOutput(output)
	}

	switch {
	case ev.Status == protocol.StatusOK || ev.Status == protocol.StatusError:
		run.complete(ev.Status, ev.Summary)
		c.logger.Info("agent run completed", "run_id", ev.RunID, "status", ev.Status)
	case ev.Data.Phase == protocol.PhaseEnd || ev.Data.Phase == protocol.PhaseComplete:
		run.complete(protocol.StatusOK, "")
		c.logger.Info("agent run completed", "run_id", ev.RunID, "phase", ev.Data.Phase)
	case ev.Status != "":
		c.logger.Debug("agent run status", "run_id", ev.RunID, "status", ev.Status)
	}
}

// handlePresenceEvent stores the latest presence payload. Some gateway
// versions send a bare list of clients; normalize it to an object.
func (c *Client) handlePresenceEvent(payload json.RawMessage) {
	c.setPresence(payload)
}

func (c *Client) setPresence(payload json.RawMessage) {
	if len(payload) == 0 {
		return
	}
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		wrapped, err := json.Marshal(map[string]json.RawMessage{"clients": payload})
		if err != nil {
			return
		}
		payload = wrapped
	}
	c.presenceMu.Lock()
	c.presence = payload
	c.presenceMu.Unlock()
}

// handleConnected seeds presence from the handshake snapshot and notifies
// connectivity subscribers.
func (c *Client) handleConnected(snapshot json.RawMessage) {
	var snap struct {
		Snapshot struct {
			Presence json.RawMessage `json:"presence"`
		} `json:"snapshot"`
	}
	if err := json.Unmarshal(snapshot, &snap); err == nil {
		c.setPresence(snap.Snapshot.Presence)
	}
	c.notifyChange(true)
}

// handleDisconnected force-fails every live run and notifies connectivity
// subscribers. Run table entries are removed by their owning callers.
func (c *Client) handleDisconnected(err error) {
	c.runsMu.Lock()
	runs := make([]*agentRun, 0, len(c.runs))
	for _, run := range c.runs {
		runs = append(runs, run)
	}
	c.earlyRuns = make(map[string][]protocol.AgentEvent)
	c.runsMu.Unlock()

	for _, run := range runs {
		run.fail(err)
	}
	c.notifyChange(false)
}

func (c *Client) notifyChange(connected bool) {
	c.changeMu.Lock()
	callbacks := make([]func(bool), len(c.onChange))
	copy(callbacks, c.onChange)
	c.changeMu.Unlock()

	for _, fn := range callbacks {
		fn(connected)
	}
}
