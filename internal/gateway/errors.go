// ABOUTME: Typed error taxonomy for gateway client failures.
// ABOUTME: Callers branch on error type to decide retry vs credential fix vs report.

package gateway

import (
	"strings"

	"github.com/ddrayne/openclaw-client/internal/protocol"
)

// ConnectionError covers transport-level failures: dial errors, lost
// connections, writes on a dead socket, cancellations. Generally transient;
// the supervision loop retries these.
type ConnectionError struct {
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return "gateway connection: " + e.Reason + ": " + e.Err.Error()
	}
	return "gateway connection: " + e.Reason
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthenticationError means the gateway rejected our credentials or scopes.
// Retrying without a configuration change will not help.
type AuthenticationError struct {
	Detail string
}

func (e *AuthenticationError) Error() string {
	return "gateway authentication failed: " + e.Detail
}

// TimeoutError means a bounded wait expired: a request response, the connect
// handshake, or a full agent run.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return "timeout waiting for " + e.Op
}

// ProtocolError means the gateway answered with something this client cannot
// accept: an error response with an unrecognized code, or unencodable params.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string {
	return "gateway protocol error: " + e.Detail
}

// AgentExecutionError means the run itself failed on the gateway side even
// though the protocol exchange succeeded.
type AgentExecutionError struct {
	Detail string
}

func (e *AgentExecutionError) Error() string {
	if e.Detail == "" {
		return "agent execution failed"
	}
	return "agent execution failed: " + e.Detail
}

// errorFromResponse classifies a failed response into the taxonomy. The
// gateway is not consistent about error codes across versions, so the message
// text is also sniffed for authentication vocabulary.
func errorFromResponse(info *protocol.ErrorInfo) error {
	if info == nil {
		return &ProtocolError{Detail: "request failed without error detail"}
	}

	switch info.Code {
	case "UNAUTHORIZED", "FORBIDDEN", "AUTH_FAILED":
		return &AuthenticationError{Detail: info.String()}
	}

	lower := strings.ToLower(info.Message)
	for _, marker := range []string{"auth", "token", "missing scope", "unauthorized"} {
		if strings.Contains(lower, marker) {
			return &AuthenticationError{Detail: info.String()}
		}
	}

	return &ProtocolError{Detail: info.String()}
}
