// ABOUTME: Correlation table matching request ids to waiting response channels.
// ABOUTME: One entry per in-flight request; all entries fail together on disconnect.

package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// result is the resolution of one request: a payload on success, an error
// otherwise.
type result struct {
	payload json.RawMessage
	err     error
}

// pendingTable tracks in-flight requests by id. Each entry's channel is
// buffered so a resolver never blocks on a caller that already gave up.
type pendingTable struct {
	mu      sync.Mutex
	waiters map[string]chan result
	logger  *slog.Logger
}

func newPendingTable(logger *slog.Logger) *pendingTable {
	return &pendingTable{
		waiters: make(map[string]chan result),
		logger:  logger,
	}
}

// create registers a waiter for id and returns the channel its resolution
// will arrive on.
func (p *pendingTable) create(id string) <-chan result {
	ch := make(chan result, 1)
	p.mu.Lock()
	p.waiters[id] = ch
	p.mu.Unlock()
	return ch
}

// resolve delivers a result to the waiter for id. Responses for unknown ids
// are from requests that already timed out; they are logged and discarded.
func (p *pendingTable) resolve(id string, res result) {
	p.mu.Lock()
	ch, ok := p.waiters[id]
	if ok {
		delete(p.waiters, id)
	}
	p.mu.Unlock()

	if !ok {
		p.logger.Debug("discarding response for unknown request", "request_id", id)
		return
	}
	ch <- res
}

// remove drops the waiter for id without resolving it, used when the caller
// stops waiting.
func (p *pendingTable) remove(id string) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

// failAll resolves every in-flight request with err. Called on disconnect so
// no caller is left waiting on a response that can never arrive.
func (p *pendingTable) failAll(err error) {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[string]chan result)
	p.mu.Unlock()

	if len(waiters) > 0 {
		p.logger.Warn("failing in-flight requests", "count", len(waiters), "error", err)
	}
	for _, ch := range waiters {
		ch <- result{err: err}
	}
}

// size reports the number of in-flight requests.
func (p *pendingTable) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
