package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brane-lang/brane/internal/bus"
	"github.com/brane-lang/brane/internal/infra"
)

type fakeBackend struct {
	dispatched []Job
	err        error
}

func (f *fakeBackend) Dispatch(ctx context.Context, job Job, loc infra.Location) error {
	f.dispatched = append(f.dispatched, job)
	return f.err
}

func newTestScheduler() (*Scheduler, *fakeBackend) {
	fb := &fakeBackend{}
	s := New(nil, &infra.File{Locations: map[string]infra.Location{
		"local-1": {ID: "local-1", Kind: infra.KindLocal},
	}}, "myapp", nil)
	s.RegisterBackend(infra.KindLocal, fb)
	return s, fb
}

func TestPrepareBuildsEnvironmentBlock(t *testing.T) {
	s, _ := newTestScheduler()
	job, loc, err := s.prepare(bus.Command{
		Kind:          "create",
		CorrelationID: "AabcR123456",
		Application:   "myapp",
		Location:      "local-1",
		Image:         "greet:1.0.0@sha256:deadbeef",
		Command:       []string{"ecu", "hello", "e30="},
	})
	require.NoError(t, err)
	require.Equal(t, infra.KindLocal, loc.Kind)
	require.Equal(t, "myapp", job.Env["BRANE_APPLICATION_ID"])
	require.Equal(t, "local-1", job.Env["BRANE_LOCATION_ID"])
	require.Contains(t, job.ID, "AabcR123456-")
	require.Equal(t, job.ID, job.Env["BRANE_JOB_ID"])
}

func TestPrepareRejectsMissingFields(t *testing.T) {
	s, _ := newTestScheduler()
	_, _, err := s.prepare(bus.Command{CorrelationID: "x"})
	require.Error(t, err)
}

func TestPrepareRejectsUnknownLocation(t *testing.T) {
	s, _ := newTestScheduler()
	_, _, err := s.prepare(bus.Command{
		CorrelationID: "x", Application: "myapp", Location: "nowhere", Image: "img:1",
	})
	require.Error(t, err)
}

func TestStripDigest(t *testing.T) {
	require.Equal(t, "greet:1.0.0", stripDigest("greet:1.0.0@sha256:deadbeef"))
	require.Equal(t, "greet:1.0.0", stripDigest("greet:1.0.0"))
}

func TestHandleCommandDispatchesToRegisteredBackend(t *testing.T) {
	s, fb := newTestScheduler()
	s.handleCommand(context.Background(), bus.Command{
		Kind: "create", CorrelationID: "A1R2", Application: "myapp",
		Location: "local-1", Image: "greet:1.0.0",
	})
	require.Len(t, fb.dispatched, 1)
	require.Equal(t, "greet:1.0.0", fb.dispatched[0].Image)
}

func TestHandleCommandIgnoresNonCreateKinds(t *testing.T) {
	s, fb := newTestScheduler()
	s.handleCommand(context.Background(), bus.Command{Kind: "stop", CorrelationID: "A1R2"})
	require.Empty(t, fb.dispatched)
}
