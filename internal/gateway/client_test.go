// ABOUTME: End-to-end client tests: ask the agent, stream output, surface failures.
// ABOUTME: Drives the full stack against the in-process fake gateway.

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddrayne/openclaw-client/internal/protocol"
)

// agentGW extends the fake gateway with a scripted "agent" method: each
// request is acked with the next run id and the prepared event sequence is
// replayed.
type agentGW struct {
	*fakeGW
	mu     sync.Mutex
	nextID int
	script []protocol.AgentEvent
	asked  chan protocol.AgentParams
}

func newAgentGW(t *testing.T) *agentGW {
	a := &agentGW{
		fakeGW: newFakeGW(t),
		asked:  make(chan protocol.AgentParams, 8),
	}
	a.fakeGW.onRequest = func(g *fakeGW, msg *protocol.Message) bool {
		if msg.Method != "agent" {
			return false
		}
		var params protocol.AgentParams
		require.NoError(t, json.Unmarshal(msg.Params, &params))
		a.asked <- params

		a.mu.Lock()
		a.nextID++
		runID := fmt.Sprintf("run-%d", a.nextID)
		script := a.script
		a.mu.Unlock()

		g.respondOK(msg.ID, protocol.AgentAck{RunID: runID})
		go func() {
			for _, ev := range script {
				ev.RunID = runID
				g.sendEvent("agent", ev)
				time.Sleep(5 * time.Millisecond)
			}
		}()
		return true
	}
	return a
}

func (a *agentGW) setScript(events ...protocol.AgentEvent) {
	a.mu.Lock()
	a.script = events
	a.mu.Unlock()
}

func newTestClient(t *testing.T, g *agentGW, timeout time.Duration) *Client {
	client := NewClient(ClientConfig{
		Conn:    g.connConfig(),
		Timeout: timeout,
		Logger:  testLogger(),
	})
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(client.Close)
	return client
}

func TestClient_AskAgent(t *testing.T) {
	g := newAgentGW(t)
	g.setScript(
		protocol.AgentEvent{Output: "It's"},
		protocol.AgentEvent{Output: "It's sunny"},
		protocol.AgentEvent{Output: "It's sunny", Status: protocol.StatusOK},
	)
	client := newTestClient(t, g, 5*time.Second)

	answer, err := client.AskAgent(context.Background(), "What's the weather?")
	require.NoError(t, err)
	assert.Equal(t, "It's sunny", answer)

	params := <-g.asked
	assert.Equal(t, "What's the weather?", params.Message)
	assert.Equal(t, "main", params.SessionKey)
	assert.NotEmpty(t, params.IdempotencyKey)
}

func TestClient_AskAgentCompletionArrivesWithAck(t *testing.T) {
	// The gateway may write the completion event back-to-back with the ack,
	// so it can be dispatched before the requester has registered the runId.
	// The answer must still come through, not a timeout.
	g := newAgentGW(t)
	var mu sync.Mutex
	next := 0
	g.fakeGW.onRequest = func(fg *fakeGW, msg *protocol.Message) bool {
		if msg.Method != "agent" {
			return false
		}
		mu.Lock()
		next++
		runID := fmt.Sprintf("fast-%d", next)
		mu.Unlock()

		fg.respondOK(msg.ID, protocol.AgentAck{RunID: runID})
		fg.sendEvent("agent", protocol.AgentEvent{
			RunID:  runID,
			Output: "It's sunny",
			Status: protocol.StatusOK,
		})
		return true
	}
	client := newTestClient(t, g, 2*time.Second)

	for i := 0; i < 25; i++ {
		answer, err := client.AskAgent(context.Background(), "What's the weather?")
		require.NoError(t, err)
		assert.Equal(t, "It's sunny", answer)
	}
}

func TestClient_StreamAgentCompletionArrivesWithAck(t *testing.T) {
	g := newAgentGW(t)
	g.fakeGW.onRequest = func(fg *fakeGW, msg *protocol.Message) bool {
		if msg.Method != "agent" {
			return false
		}
		fg.respondOK(msg.ID, protocol.AgentAck{RunID: "fast-stream"})
		fg.sendEvent("agent", protocol.AgentEvent{
			RunID:   "fast-stream",
			Status:  protocol.StatusOK,
			Summary: "already done",
		})
		return true
	}
	client := newTestClient(t, g, 2*time.Second)

	chunks, err := client.StreamAgent(context.Background(), "hello")
	require.NoError(t, err)

	var all string
	for chunk := range chunks {
		require.NoError(t, chunk.Err)
		all += chunk.Text
	}
	assert.Equal(t, "already done", all)
}

func TestClient_AskAgentSummaryWins(t *testing.T) {
	g := newAgentGW(t)
	g.setScript(
		protocol.AgentEvent{Output: "thinking out loud"},
		protocol.AgentEvent{Status: protocol.StatusOK, Summary: "42"},
	)
	client := newTestClient(t, g, 5*time.Second)

	answer, err := client.AskAgent(context.Background(), "meaning of life?")
	require.NoError(t, err)
	assert.Equal(t, "42", answer)
}

func TestClient_AskAgentPhaseCompletion(t *testing.T) {
	// Newer gateways deliver text and completion through the data block.
	g := newAgentGW(t)
	g.setScript(
		protocol.AgentEvent{Data: protocol.AgentEventData{Text: "partial"}},
		protocol.AgentEvent{Data: protocol.AgentEventData{Text: "partial answer", Phase: protocol.PhaseEnd}},
	)
	client := newTestClient(t, g, 5*time.Second)

	answer, err := client.AskAgent(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "partial answer", answer)
}

func TestClient_AskAgentErrorStatus(t *testing.T) {
	g := newAgentGW(t)
	g.setScript(
		protocol.AgentEvent{Status: protocol.StatusError, Summary: "model overloaded"},
	)
	client := newTestClient(t, g, 5*time.Second)

	_, err := client.AskAgent(context.Background(), "hello")
	var execErr *AgentExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Detail, "model overloaded")
}

func TestClient_AskAgentTimeout(t *testing.T) {
	g := newAgentGW(t)
	g.setScript(
		protocol.AgentEvent{Output: "never finishes"},
	)
	client := newTestClient(t, g, 200*time.Millisecond)

	_, err := client.AskAgent(context.Background(), "hello")
	var toErr *TimeoutError
	require.ErrorAs(t, err, &toErr)
}

func TestClient_AskAgentNoRunID(t *testing.T) {
	g := newAgentGW(t)
	g.fakeGW.onRequest = func(fg *fakeGW, msg *protocol.Message) bool {
		if msg.Method != "agent" {
			return false
		}
		fg.respondOK(msg.ID, map[string]any{})
		return true
	}
	client := newTestClient(t, g, 5*time.Second)

	_, err := client.AskAgent(context.Background(), "hello")
	var execErr *AgentExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Detail, "no runId")
}

func TestClient_UnknownRunEventsIgnored(t *testing.T) {
	g := newAgentGW(t)
	g.setScript(
		protocol.AgentEvent{Output: "right answer"},
		protocol.AgentEvent{Output: "right answer", Status: protocol.StatusOK},
	)
	client := newTestClient(t, g, 5*time.Second)

	// An event for a run this client never started must not disturb anything.
	g.sendEvent("agent", protocol.AgentEvent{RunID: "someone-else", Output: "wrong answer"})

	answer, err := client.AskAgent(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "right answer", answer)
}

func TestClient_DisconnectFailsLiveRun(t *testing.T) {
	g := newAgentGW(t)
	g.setScript() // ack but never complete
	client := newTestClient(t, g, 10*time.Second)

	errs := make(chan error, 1)
	go func() {
		_, err := client.AskAgent(context.Background(), "hello")
		errs <- err
	}()

	// Wait for the run to be registered, then kill the connection.
	<-g.asked
	time.Sleep(50 * time.Millisecond)
	g.dropConn(websocket.CloseAbnormalClosure)

	select {
	case err := <-errs:
		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
	case <-time.After(3 * time.Second):
		t.Fatal("run not failed on disconnect")
	}
}

func TestClient_StreamAgent(t *testing.T) {
	g := newAgentGW(t)
	g.setScript(
		protocol.AgentEvent{Output: "It's"},
		protocol.AgentEvent{Output: "It's sunny"},
		protocol.AgentEvent{Output: "It's sunny", Status: protocol.StatusOK},
	)
	client := newTestClient(t, g, 5*time.Second)

	chunks, err := client.StreamAgent(context.Background(), "What's the weather?")
	require.NoError(t, err)

	var all string
	for chunk := range chunks {
		require.NoError(t, chunk.Err)
		all += chunk.Text
	}
	assert.Equal(t, "It's sunny", all)
}

func TestClient_StreamAgentErrorChunk(t *testing.T) {
	g := newAgentGW(t)
	g.setScript(
		protocol.AgentEvent{Output: "partial"},
		protocol.AgentEvent{Status: protocol.StatusError, Summary: "crashed"},
	)
	client := newTestClient(t, g, 5*time.Second)

	chunks, err := client.StreamAgent(context.Background(), "hello")
	require.NoError(t, err)

	var last StreamChunk
	var texts []string
	for chunk := range chunks {
		last = chunk
		if chunk.Err == nil {
			texts = append(texts, chunk.Text)
		}
	}
	assert.Equal(t, []string{"partial"}, texts)
	var execErr *AgentExecutionError
	require.ErrorAs(t, last.Err, &execErr)
}

func TestClient_Health(t *testing.T) {
	g := newAgentGW(t)
	g.fakeGW.onRequest = func(fg *fakeGW, msg *protocol.Message) bool {
		if msg.Method != "health" {
			return false
		}
		fg.respondOK(msg.ID, map[string]any{"ok": true})
		return true
	}
	client := newTestClient(t, g, 5*time.Second)

	payload, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(payload))
}

func TestClient_PresenceSeededFromHandshake(t *testing.T) {
	g := newAgentGW(t)
	client := newTestClient(t, g, 5*time.Second)

	require.Eventually(t, func() bool {
		return len(client.Presence()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, string(client.Presence()), "tester")
}

func TestClient_PresenceEventNormalized(t *testing.T) {
	g := newAgentGW(t)
	client := newTestClient(t, g, 5*time.Second)

	g.sendEvent("presence", []map[string]any{{"id": "newcomer"}})

	require.Eventually(t, func() bool {
		return strings.Contains(string(client.Presence()), "newcomer")
	}, 2*time.Second, 10*time.Millisecond)

	var view struct {
		Clients []struct {
			ID string `json:"id"`
		} `json:"clients"`
	}
	require.NoError(t, json.Unmarshal(client.Presence(), &view))
	require.Len(t, view.Clients, 1)
	assert.Equal(t, "newcomer", view.Clients[0].ID)
}

func TestClient_ConnectivityCallbacks(t *testing.T) {
	g := newAgentGW(t)
	changes := make(chan bool, 8)

	client := NewClient(ClientConfig{
		Conn:   g.connConfig(),
		Logger: testLogger(),
	})
	client.OnConnectivityChange(func(connected bool) {
		changes <- connected
	})
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(client.Close)

	select {
	case connected := <-changes:
		assert.True(t, connected)
	case <-time.After(2 * time.Second):
		t.Fatal("no connect notification")
	}

	g.dropConn(websocket.CloseGoingAway)
	select {
	case connected := <-changes:
		assert.False(t, connected)
	case <-time.After(3 * time.Second):
		t.Fatal("no disconnect notification")
	}
}

func TestClient_SessionOverrides(t *testing.T) {
	g := newAgentGW(t)
	g.setScript(
		protocol.AgentEvent{Output: "ok", Status: protocol.StatusOK},
	)
	client := newTestClient(t, g, 5*time.Second)
	client.SetSessionKey("kitchen")
	client.SetModel("fast-model")
	client.SetThinking("low")

	_, err := client.AskAgent(context.Background(), "lights on")
	require.NoError(t, err)

	params := <-g.asked
	assert.Equal(t, "kitchen", params.SessionKey)
	require.NotNil(t, params.Options)
	assert.Equal(t, "fast-model", params.Options.Model)
	assert.Equal(t, "low", params.Options.Thinking)
}
