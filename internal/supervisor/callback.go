// Callback client: the supervisor's connection back to the scheduler over
// internal/bus's per-job callback subject (spec §4.11 step 2).
//
// [EXPANSION] (SPEC_FULL.md, from original_source/brane-let/src/callback.rs):
// the original retries a bounded number of times with backoff before
// falling back to local printing; spec.md §4.11 only says "if this fails,
// the supervisor continues... prints lifecycle locally." This adds that
// bounded retry (3 tries) ahead of the local fallback.
package supervisor

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brane-lang/brane/internal/bus"
)

const callbackMaxAttempts = 3

// Callback sends a supervisor lifecycle callback over a bus, falling back
// to local logging if the bus is unreachable after retrying.
type Callback struct {
	Bus   *bus.Bus
	JobID string
	Log   *logrus.Entry

	// sleep is a seam for tests; production uses time.Sleep.
	sleep func(time.Duration)
}

// NewCallback constructs a Callback. If b is nil, Send always falls back
// to local logging immediately (spec §4.11 step 2: "connects (optionally)
// ... if this fails, the supervisor continues").
func NewCallback(b *bus.Bus, jobID string, log *logrus.Entry) *Callback {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Callback{Bus: b, JobID: jobID, Log: log, sleep: time.Sleep}
}

// Send publishes cb on the job's callback subject, retrying up to
// callbackMaxAttempts times with linear backoff before giving up and
// logging locally instead of failing the caller.
func (c *Callback) Send(cb bus.Callback) {
	if c.Bus == nil {
		c.logLocally(cb)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= callbackMaxAttempts; attempt++ {
		if err := c.Bus.PublishCallback(c.JobID, cb); err == nil {
			return
		} else {
			lastErr = err
		}
		if attempt < callbackMaxAttempts && c.sleep != nil {
			c.sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
	}
	c.Log.WithError(lastErr).Warn("supervisor: callback connection failed after retries, falling back to local logging")
	c.logLocally(cb)
}

func (c *Callback) logLocally(cb bus.Callback) {
	switch cb.Kind {
	case bus.StateFailed, bus.StateStopped:
		c.Log.WithField("state", cb.Kind).Warn(cb.Message)
	default:
		c.Log.WithField("state", cb.Kind).Info(cb.Message)
	}
}
