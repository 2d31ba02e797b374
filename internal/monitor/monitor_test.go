package monitor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brane-lang/brane/internal/bus"
)

func TestHandleEventUpdatesState(t *testing.T) {
	m := New(nil)
	m.handleEvent(bus.Event{CorrelationID: "c1", State: bus.StateStarted, Sequence: 1})

	status, ok := m.Status("c1")
	require.True(t, ok)
	require.Equal(t, bus.StateStarted, status.State)
	require.Equal(t, uint64(1), status.Sequence)
}

func TestHandleEventDropsOutOfOrder(t *testing.T) {
	m := New(nil)
	m.handleEvent(bus.Event{CorrelationID: "c1", State: bus.StateCompleted, Sequence: 5})
	m.handleEvent(bus.Event{CorrelationID: "c1", State: bus.StateStarted, Sequence: 2})

	status, ok := m.Status("c1")
	require.True(t, ok)
	require.Equal(t, bus.StateCompleted, status.State, "lower-sequence event must not overwrite a later one")
}

func TestForgetRemovesJob(t *testing.T) {
	m := New(nil)
	m.handleEvent(bus.Event{CorrelationID: "c1", State: bus.StateFinished, Sequence: 1})
	m.Forget("c1")

	_, ok := m.Status("c1")
	require.False(t, ok)
}

func TestTakeResultConsumesOnce(t *testing.T) {
	m := New(nil)
	m.handleEvent(bus.Event{CorrelationID: "c1", State: bus.StateFinished, Sequence: 1, Detail: []byte(`"hello world"`)})

	raw, ok := m.TakeResult("c1")
	require.True(t, ok)
	require.Equal(t, `"hello world"`, string(raw))

	_, ok = m.TakeResult("c1")
	require.False(t, ok, "result must be consumed on first read")
}

func TestTakeFailureReturnsPayload(t *testing.T) {
	m := New(nil)
	m.handleEvent(bus.Event{CorrelationID: "c1", State: bus.StateFailed, Sequence: 1, Detail: []byte("boom")})

	reason, ok := m.TakeFailure("c1")
	require.True(t, ok)
	require.Equal(t, "boom", reason)
}
