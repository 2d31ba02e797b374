package bus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubjectNaming(t *testing.T) {
	require.Equal(t, "brane.cmd.myapp", CommandSubject("myapp"))
	require.Equal(t, "brane.evt.myapp", EventSubject("myapp"))
	require.Equal(t, "brane.cb.job-123", CallbackSubject("job-123"))
}
