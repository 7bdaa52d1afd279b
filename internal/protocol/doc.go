// Package protocol defines the wire format spoken to the OpenClaw Gateway:
// JSON frames over WebSocket text messages.
//
// Frames come in five kinds, discriminated by the "type" field:
//
//	{"type":"req","id":"...","method":"...","params":{...}}
//	{"type":"res","id":"...","ok":true,"payload":{...}}
//	{"type":"res","id":"...","ok":false,"error":{"code":"...","message":"..."}}
//	{"type":"event","event":"...","payload":{...}}
//	{"type":"ping"} / {"type":"pong"}
//
// Decode never panics on malformed input; a frame that cannot be decoded is
// reported as an error for the caller to log and discard. The package has no
// side effects and no connection state.
package protocol
