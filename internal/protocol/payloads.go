// ABOUTME: Typed parameter and payload structs for the gateway methods this client calls.
// ABOUTME: Connect handshake params, agent invocation params, and agent event payloads.

package protocol

// ClientInfo identifies this client to the gateway during the handshake.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Mode        string `json:"mode"`
}

// AuthParams carries the shared token. Absent entirely for unauthenticated
// local deployments.
type AuthParams struct {
	Token string `json:"token"`
}

// ConnectParams is the body of the "connect" handshake request.
type ConnectParams struct {
	MinProtocol int         `json:"minProtocol"`
	MaxProtocol int         `json:"maxProtocol"`
	Client      ClientInfo  `json:"client"`
	Caps        []string    `json:"caps"`
	Locale      string      `json:"locale"`
	UserAgent   string      `json:"userAgent"`
	Role        string      `json:"role,omitempty"`
	Scopes      []string    `json:"scopes,omitempty"`
	Auth        *AuthParams `json:"auth,omitempty"`
}

// NewConnectParams builds handshake params with this client's identity.
// token may be empty.
func NewConnectParams(token string) *ConnectParams {
	p := &ConnectParams{
		MinProtocol: MinVersion,
		MaxProtocol: MaxVersion,
		Client: ClientInfo{
			ID:          ClientID,
			DisplayName: ClientDisplayName,
			Version:     ClientVersion,
			Platform:    ClientPlatform,
			Mode:        ClientMode,
		},
		Caps:      []string{},
		Locale:    "en-US",
		UserAgent: ClientDisplayName + "/" + ClientVersion,
		Role:      DeviceRole,
		Scopes:    DeviceScopes,
	}
	if token != "" {
		p.Auth = &AuthParams{Token: token}
	}
	return p
}

// ConnectPayload is the success payload of the handshake response.
type ConnectPayload struct {
	Protocol int `json:"protocol,omitempty"`
}

// AgentOptions are optional per-request overrides for an agent invocation.
type AgentOptions struct {
	Model    string `json:"model,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

// AgentParams is the body of an "agent" request.
type AgentParams struct {
	Message        string        `json:"message"`
	SessionKey     string        `json:"sessionKey"`
	IdempotencyKey string        `json:"idempotencyKey"`
	Options        *AgentOptions `json:"options,omitempty"`
}

// AgentAck is the success payload of an "agent" request: the run was accepted
// and output will arrive as "agent" events for RunID.
type AgentAck struct {
	RunID string `json:"runId"`
}

// AgentEvent is the payload of an "agent" event. Output text is cumulative:
// each event repeats everything sent so far plus the new suffix. Newer
// gateways deliver text and completion via the Data block instead of the
// top-level fields; both shapes are handled.
type AgentEvent struct {
	RunID   string         `json:"runId"`
	Output  string         `json:"output,omitempty"`
	Status  string         `json:"status,omitempty"`
	Summary string         `json:"summary,omitempty"`
	Data    AgentEventData `json:"data,omitempty"`
}

// AgentEventData is the nested data block of newer-style agent events.
type AgentEventData struct {
	Text  string `json:"text,omitempty"`
	Phase string `json:"phase,omitempty"`
}

// Agent run statuses and phases.
const (
	StatusOK    = "ok"
	StatusError = "error"

	PhaseEnd      = "end"
	PhaseComplete = "complete"
)
