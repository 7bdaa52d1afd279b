// ABOUTME: Wire types and JSON codec for the OpenClaw Gateway WebSocket protocol.
// ABOUTME: Covers req/res/event/ping/pong frames plus handshake and agent payloads.

package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame kinds carried in the "type" field of every message.
const (
	KindRequest  = "req"
	KindResponse = "res"
	KindEvent    = "event"
	KindPing     = "ping"
	KindPong     = "pong"
)

// Protocol version range this client speaks.
const (
	MinVersion = 3
	MaxVersion = 3
)

// CloseServiceRestart is the close code the gateway sends before a planned
// restart. It means "reconnect shortly", not "go away".
const CloseServiceRestart = 1012

// Client identification sent in the connect handshake.
const (
	ClientID          = "gateway-client"
	ClientDisplayName = "OpenClaw Go Client"
	ClientVersion     = "1.0.0"
	ClientPlatform    = "go"
	ClientMode        = "backend"
	DeviceRole        = "operator"
)

// DeviceScopes are the permission scopes requested during the handshake.
var DeviceScopes = []string{"operator.read", "operator.write"}

// Message is the decoded form of a single wire frame. Exactly one of the
// kind-specific field groups is populated, selected by Type.
type Message struct {
	Type string `json:"type"`

	// Request / response correlation id.
	ID string `json:"id,omitempty"`

	// Request fields.
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// Response fields.
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`

	// Event fields. Event payloads reuse the Payload field.
	Event string `json:"event,omitempty"`
}

// ErrorInfo is the error portion of a failed response. Older gateways send a
// bare string here instead of an object, so unmarshaling accepts both.
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *ErrorInfo) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Message = s
		return nil
	}
	type plain ErrorInfo
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = ErrorInfo(p)
	return nil
}

func (e *ErrorInfo) String() string {
	if e == nil {
		return "unknown error"
	}
	if e.Code != "" && e.Message != "" {
		return e.Code + ": " + e.Message
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "unknown error"
}

// Decode parses a single text frame. A nil error guarantees the message has a
// recognized type; callers log and discard frames that fail to decode.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	switch msg.Type {
	case KindRequest, KindResponse, KindEvent, KindPing, KindPong:
		return &msg, nil
	case "":
		return nil, fmt.Errorf("decode frame: missing type")
	default:
		return nil, fmt.Errorf("decode frame: unknown type %q", msg.Type)
	}
}

// EncodeRequest builds a request frame with the given id, method and params.
func EncodeRequest(id, method string, params any) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params for %s: %w", method, err)
	}
	return json.Marshal(&Message{
		Type:   KindRequest,
		ID:     id,
		Method: method,
		Params: raw,
	})
}

// EncodePing and EncodePong build the application-level heartbeat frames.
func EncodePing() []byte { return []byte(`{"type":"ping"}`) }
func EncodePong() []byte { return []byte(`{"type":"pong"}`) }
