// ABOUTME: Minimal fake gateway for E2E testing — serves the WebSocket protocol, echoes prompts.
// ABOUTME: Usage: fake-gateway [-addr 127.0.0.1:18789] [-token secret] [-chunks 3]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ddrayne/openclaw-client/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	addr := flag.String("addr", "127.0.0.1:18789", "listen address")
	token := flag.String("token", "", "required auth token (empty disables auth)")
	chunks := flag.Int("chunks", 3, "number of cumulative chunks per agent reply")
	delay := flag.Duration("delay", 50*time.Millisecond, "delay between chunks")
	flag.Parse()

	srv := &fakeGateway{token: *token, chunks: *chunks, delay: *delay}
	http.HandleFunc("/", srv.handleWS)

	log.Printf("fake gateway listening on %s", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatal(err)
	}
}

type fakeGateway struct {
	token  string
	chunks int
	delay  time.Duration
}

// session is one accepted WebSocket connection. Writes are serialized
// because agent-run goroutines and the read loop both send frames.
type session struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (s *session) send(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ws.WriteJSON(v)
}

func (g *fakeGateway) handleWS(w http.ResponseWriter, r *http.Request) {
	if g.token != "" && !g.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	sess := &session{ws: ws}
	log.Printf("client connected from %s", r.RemoteAddr)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			log.Printf("client gone: %v", err)
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			log.Printf("bad frame: %v", err)
			continue
		}
		g.handleFrame(sess, msg)
	}
}

func (g *fakeGateway) authorized(r *http.Request) bool {
	if r.URL.Query().Get("token") == g.token {
		return true
	}
	if r.Header.Get("Authorization") == "Bearer "+g.token {
		return true
	}
	return r.Header.Get("X-OpenClaw-Token") == g.token
}

func (g *fakeGateway) handleFrame(sess *session, msg *protocol.Message) {
	switch msg.Type {
	case protocol.KindPing:
		_ = sess.send(map[string]any{"type": protocol.KindPong})
	case protocol.KindRequest:
		g.handleRequest(sess, msg)
	}
}

func (g *fakeGateway) handleRequest(sess *session, msg *protocol.Message) {
	switch msg.Method {
	case "connect":
		g.respondOK(sess, msg.ID, protocol.ConnectPayload{Protocol: protocol.MaxVersion})

	case "health":
		g.respondOK(sess, msg.ID, map[string]any{"ok": true, "uptime": 1234})

	case "status":
		g.respondOK(sess, msg.ID, map[string]any{
			"version":  "fake",
			"sessions": []string{"main"},
		})

	case "system-presence":
		g.respondOK(sess, msg.ID, map[string]any{
			"clients": []map[string]any{{"id": "fake-gateway", "role": "server"}},
		})

	case "agent":
		var params protocol.AgentParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			g.respondErr(sess, msg.ID, "INVALID_PARAMS", err.Error())
			return
		}
		runID := uuid.NewString()
		g.respondOK(sess, msg.ID, protocol.AgentAck{RunID: runID})
		go g.runAgent(sess, runID, params.Message)

	default:
		g.respondErr(sess, msg.ID, "UNKNOWN_METHOD", "unknown method: "+msg.Method)
	}
}

// runAgent emits cumulative output events followed by a completion event,
// the same shape the real gateway produces.
func (g *fakeGateway) runAgent(sess *session, runID, prompt string) {
	reply := echoReply(prompt)

	words := strings.Fields(reply)
	step := len(words) / g.chunks
	if step < 1 {
		step = 1
	}
	for i := step; i < len(words); i += step {
		partial := strings.Join(words[:i], " ")
		g.emitAgent(sess, protocol.AgentEvent{RunID: runID, Output: partial})
		time.Sleep(g.delay)
	}

	g.emitAgent(sess, protocol.AgentEvent{
		RunID:   runID,
		Output:  reply,
		Status:  protocol.StatusOK,
		Summary: reply,
	})
}

func (g *fakeGateway) emitAgent(sess *session, ev protocol.AgentEvent) {
	payload, _ := json.Marshal(ev)
	err := sess.send(map[string]any{
		"type":    protocol.KindEvent,
		"event":   "agent",
		"payload": json.RawMessage(payload),
	})
	if err != nil {
		log.Printf("emit failed: %v", err)
	}
}

func (g *fakeGateway) respondOK(sess *session, id string, payload any) {
	raw, _ := json.Marshal(payload)
	err := sess.send(map[string]any{
		"type":    protocol.KindResponse,
		"id":      id,
		"ok":      true,
		"payload": json.RawMessage(raw),
	})
	if err != nil {
		log.Printf("respond failed: %v", err)
	}
}

func (g *fakeGateway) respondErr(sess *session, id, code, detail string) {
	err := sess.send(map[string]any{
		"type": protocol.KindResponse,
		"id":   id,
		"ok":   false,
		"error": map[string]string{
			"code":    code,
			"message": detail,
		},
	})
	if err != nil {
		log.Printf("respond failed: %v", err)
	}
}

func echoReply(prompt string) string {
	return fmt.Sprintf("You asked: %s. The fake gateway has no opinion, but the weather is sunny.", prompt)
}
