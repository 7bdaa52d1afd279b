// ABOUTME: Tests for the event dispatcher: subscription, ordering, dedup, panics.
// ABOUTME: Handlers are plain functions so identity dedup is observable.

package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatcher_DeliversToSubscriber(t *testing.T) {
	d := newDispatcher(testLogger())

	var got []string
	d.subscribe("agent", func(payload json.RawMessage) {
		got = append(got, string(payload))
	})

	d.dispatch("agent", json.RawMessage(`{"n":1}`))
	d.dispatch("agent", json.RawMessage(`{"n":2}`))

	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`}, got)
}

func TestDispatcher_MultipleHandlersInOrder(t *testing.T) {
	d := newDispatcher(testLogger())

	var order []string
	d.subscribe("presence", func(json.RawMessage) { order = append(order, "first") })
	d.subscribe("presence", func(json.RawMessage) { order = append(order, "second") })

	d.dispatch("presence", nil)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDispatcher_DuplicateHandlerIgnored(t *testing.T) {
	d := newDispatcher(testLogger())

	count := 0
	handler := func(json.RawMessage) { count++ }
	d.subscribe("agent", handler)
	d.subscribe("agent", handler)

	d.dispatch("agent", nil)
	assert.Equal(t, 1, count)
}

func TestDispatcher_SameLiteralClosuresCollapse(t *testing.T) {
	// Dedup compares code pointers, so closures built from the same literal
	// collapse even with different captured state. Documented behavior.
	d := newDispatcher(testLogger())

	counts := make([]int, 2)
	for i := range counts {
		d.subscribe("agent", func(json.RawMessage) { counts[i]++ })
	}

	d.dispatch("agent", nil)
	assert.Equal(t, []int{1, 0}, counts)
}

func TestDispatcher_UnhandledEventDropped(t *testing.T) {
	d := newDispatcher(testLogger())

	// Must not panic for events nobody registered for.
	d.dispatch("brand-new-event", json.RawMessage(`{}`))
}

func TestDispatcher_PanicIsolated(t *testing.T) {
	d := newDispatcher(testLogger())

	secondRan := false
	d.subscribe("agent", func(json.RawMessage) { panic("handler bug") })
	d.subscribe("agent", func(json.RawMessage) { secondRan = true })

	d.dispatch("agent", nil)
	assert.True(t, secondRan, "panic in one handler must not stop the next")
}

func TestDispatcher_EventsAreIndependent(t *testing.T) {
	d := newDispatcher(testLogger())

	agentCount, presenceCount := 0, 0
	d.subscribe("agent", func(json.RawMessage) { agentCount++ })
	d.subscribe("presence", func(json.RawMessage) { presenceCount++ })

	d.dispatch("agent", nil)
	assert.Equal(t, 1, agentCount)
	assert.Equal(t, 0, presenceCount)
}
