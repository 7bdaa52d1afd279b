// Package gateway implements the OpenClaw Gateway WebSocket client.
//
// # Overview
//
// The gateway package maintains a persistent, authenticated WebSocket
// connection to an OpenClaw Gateway, correlates requests with asynchronous
// responses, dispatches server-pushed events to subscribers, and reconnects
// automatically after failures. On top of that it buffers per-run agent
// output events into a single coherent response.
//
// # Conn
//
// Conn owns the physical connection as a supervised background loop:
//
//	Disconnected -> Connecting -> Handshaking -> Connected
//	Connected -> Reconnecting -> Connecting (after a fixed delay)
//	any state -> Closed (Stop)
//
// Key operations:
//
//   - Start(ctx): Launch the loop and wait for the first handshake
//   - Send(ctx, method, params, timeout): Request/response round trip
//   - Subscribe(event, handler): Register an event handler
//   - Stop(): Tear down permanently
//
// A handshake rejected for authentication on a first-ever connection stops
// the loop and surfaces through Start; once a connection has succeeded, the
// same failure is retried like any other disconnect.
//
// # Request/Response Correlation
//
// Every request carries a fresh uuid. The pending table maps that id to a
// buffered result channel:
//
//	pending map[string]chan result
//
// The read loop resolves responses by id; timeouts remove the entry so a
// late response is logged and discarded. Losing the connection fails every
// outstanding request with a ConnectionError.
//
// # Events
//
// Inbound events pass through a bounded queue consumed by a single dispatch
// goroutine, preserving per-connection event order while keeping slow
// handlers off the read loop. Handlers for one event run sequentially in
// registration order and are individually panic-isolated. Subscriptions
// survive reconnects.
//
// # Agent Runs
//
// Client.AskAgent sends an "agent" request, receives a runId, and buffers
// the run's output events until completion:
//
//	text, err := client.AskAgent(ctx, "What's the weather?")
//
// The gateway resends cumulative text on each event; the run tracker keeps
// only the newest version. A chunk that does not extend the current text
// replaces it outright. Completion arrives as status "ok"/"error" or as a
// terminal phase, optionally with a final summary that overrides the
// accumulated text.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Each shared table
// (pending requests, event handlers, live runs) is guarded by its own
// mutex and accessed only through its owning component.
package gateway
