// ABOUTME: Per-run buffering of agent output events into a single final response.
// ABOUTME: Handles cumulative text updates, completion status, and optional streaming.

package gateway

import (
	"log/slog"
	"strings"
	"sync"
)

// streamBuffer is the chunk capacity of a streaming run's channel. Chunks
// beyond this are dropped with a warning rather than stalling event dispatch.
const streamBuffer = 256

// agentRun buffers the event stream for one agent invocation. The gateway
// resends the full cumulative text on each event, so addOutput extracts only
// the new suffix. One instance exists per outstanding runId, owned by the
// Client's run table; only the agent event handler mutates it.
type agentRun struct {
	id     string
	logger *slog.Logger

	mu          sync.Mutex
	text        string
	status      string
	summary     string
	failErr     error
	completed   bool
	streamedAny bool

	done   chan struct{}
	stream chan string // nil unless created for streaming
}

func newAgentRun(id string, streaming bool, logger *slog.Logger) *agentRun {
	r := &agentRun{
		id:     id,
		logger: logger,
		done:   make(chan struct{}),
	}
	if streaming {
		r.stream = make(chan string, streamBuffer)
	}
	return r
}

// addOutput folds one cumulative text update into the buffer. If output
// extends the current text, only the new suffix is considered new. If it does
// not, the gateway sent a non-cumulative correction and the buffer is
// replaced outright instead of concatenated; appending here would duplicate
// everything already buffered.
func (r *agentRun) addOutput(output string) {
	if output == "" {
		return
	}

	r.mu.Lock()
	var newText string
	if strings.HasPrefix(output, r.text) {
		newText = output[len(r.text):]
		if newText != "" {
			r.text = output
		}
	} else {
		r.logger.Warn("non-cumulative text update, replacing buffer",
			"run_id", r.id,
			"had_chars", len(r.text),
			"got_chars", len(output),
		)
		newText = output
		r.text = output
	}
	stream := r.stream
	if newText != "" && stream != nil {
		r.streamedAny = true
	}
	r.mu.Unlock()

	if newText != "" && stream != nil {
		r.push(newText)
	}
}

// push delivers one chunk to the stream channel without blocking.
func (r *agentRun) push(chunk string) {
	select {
	case r.stream <- chunk:
	default:
		r.logger.Warn("stream consumer too slow, dropping chunk",
			"run_id", r.id,
			"chars", len(chunk),
		)
	}
}

// complete marks the run finished and fires the completion signal. A second
// call is a no-op: status and summary stay as set by the first.
func (r *agentRun) complete(status, summary string) {
	r.mu.Lock()
	if r.completed {
		r.mu.Unlock()
		return
	}
	r.completed = true
	r.status = status
	r.summary = summary
	stream := r.stream
	streamedAny := r.streamedAny
	r.mu.Unlock()

	if stream != nil {
		if summary != "" && !streamedAny {
			r.push(summary)
		}
		close(stream)
	}
	close(r.done)
}

// fail force-completes the run with an error, used when the connection is
// lost while the run is still pending.
func (r *agentRun) fail(err error) {
	r.mu.Lock()
	if r.completed {
		r.mu.Unlock()
		return
	}
	r.completed = true
	r.failErr = err
	stream := r.stream
	r.mu.Unlock()

	if stream != nil {
		close(stream)
	}
	close(r.done)
}

// resultText returns the final text: the completion summary when the gateway
// supplied one, otherwise the accumulated output.
func (r *agentRun) resultText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.summary != "" {
		return r.summary
	}
	return r.text
}

// outcome returns the status and forced error recorded at completion.
func (r *agentRun) outcome() (status string, summary string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.summary, r.failErr
}
