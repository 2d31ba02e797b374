package supervisor

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/brane-lang/brane/internal/bus"
)

func TestCallbackFallsBackToLocalLoggingWithoutBus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	cb := NewCallback(nil, "job-1", logrus.NewEntry(logger))

	cb.Send(bus.Callback{CorrelationID: "c1", Kind: bus.StateStarted, Message: "running"})

	require.Len(t, hook.Entries, 1)
	require.Equal(t, "running", hook.LastEntry().Message)
}
