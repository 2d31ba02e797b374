// Package monitor tracks every in-flight job's lifecycle state from the
// event stream (spec §4.10, C10): one long-running subscription updating a
// per-correlation-ID table of state, last-heartbeat time, and last-known
// location.
//
// Grounded on minimega's src/ron/heartbeat.go master-side bookkeeping
// (clientLock-guarded map keyed by client UUID, Checkin timestamp updated
// per heartbeat); this repo swaps ron's HTTP-poll heartbeat for a NATS
// event subscription callback, and keys the table by job correlation ID
// instead of client UUID.
//
// REDESIGN: ordering events by comparing lifecycle-state ordinals is
// fragile under duplicate or reordered delivery. This monitor instead
// orders events by bus.Event.Sequence, a counter the scheduler increments
// on every event it publishes (one counter per scheduler instance, so it
// rises monotonically within each correlation) — a late-arriving but
// lower-sequence event is dropped instead of corrupting state.
package monitor

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brane-lang/brane/internal/bus"
)

// JobStatus is the monitor's view of one job.
type JobStatus struct {
	CorrelationID string
	State         string
	Sequence      uint64
	LastHeartbeat time.Time
	Location      string
	Detail        []byte
}

// Monitor maintains JobStatus per correlation ID, updated from an event
// subscription. It also satisfies remoteexec.ResultStore, since the same
// table that tracks state also holds each terminal event's payload.
type Monitor struct {
	mu   sync.RWMutex
	jobs map[string]*JobStatus
	log  *logrus.Entry
	// OnUpdate, if set, is invoked after every processed event — the
	// remote executor's condition-variable wait (internal/remoteexec)
	// wires this to its Notify method so Call never busy-polls.
	OnUpdate func()
}

// New returns an empty Monitor.
func New(log *logrus.Entry) *Monitor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Monitor{jobs: make(map[string]*JobStatus), log: log}
}

// Subscribe attaches the Monitor to app's event subject on b, updating its
// table as events arrive. It returns the underlying subscription so the
// caller can Unsubscribe it on shutdown.
func (m *Monitor) Subscribe(b *bus.Bus, app string) (func() error, error) {
	sub, err := b.SubscribeEvents(app, m.handleEvent)
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

func (m *Monitor) handleEvent(evt bus.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[evt.CorrelationID]
	if !ok {
		job = &JobStatus{CorrelationID: evt.CorrelationID}
		m.jobs[evt.CorrelationID] = job
	}
	if ok && evt.Sequence <= job.Sequence && evt.Sequence != 0 {
		m.log.WithFields(logrus.Fields{
			"correlation_id": evt.CorrelationID,
			"seq":            evt.Sequence,
			"last_seq":       job.Sequence,
		}).Warn("monitor: dropping out-of-order event")
		return
	}

	job.State = evt.State
	job.Sequence = evt.Sequence
	job.LastHeartbeat = m.now()
	if evt.Location != "" {
		job.Location = evt.Location
	}
	if len(evt.Detail) > 0 {
		job.Detail = append([]byte(nil), evt.Detail...)
	}

	if m.OnUpdate != nil {
		m.OnUpdate()
	}
}

// TakeResult returns job correlationID's Finished payload and removes the
// job from the table (spec §4.8 step 4: results are consumed on first
// read). ok is false if the job is unknown or not in the Finished state.
func (m *Monitor) TakeResult(correlationID string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[correlationID]
	if !ok || job.State != bus.StateFinished {
		return nil, false
	}
	detail := job.Detail
	delete(m.jobs, correlationID)
	if len(detail) == 0 {
		return json.RawMessage("null"), true
	}
	return json.RawMessage(detail), true
}

// TakeFailure returns job correlationID's Failed/Stopped payload (the
// human-readable reason) and removes the job from the table.
func (m *Monitor) TakeFailure(correlationID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[correlationID]
	if !ok || (job.State != bus.StateFailed && job.State != bus.StateStopped) {
		return "", false
	}
	reason := string(job.Detail)
	delete(m.jobs, correlationID)
	return reason, true
}

// Location returns the last non-empty bus.Event.Location seen for
// correlationID; ok is false when no event for it carried one.
func (m *Monitor) Location(correlationID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[correlationID]
	if !ok || job.Location == "" {
		return "", false
	}
	return job.Location, true
}

// now is a seam so tests can freeze time; production always uses
// time.Now.
func (m *Monitor) now() time.Time { return time.Now() }

// Status returns a copy of the tracked status for correlationID.
func (m *Monitor) Status(correlationID string) (JobStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[correlationID]
	if !ok {
		return JobStatus{}, false
	}
	return *job, true
}

// Forget removes correlationID from the table, called once a job reaches a
// terminal state and its result has been delivered.
func (m *Monitor) Forget(correlationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, correlationID)
}
