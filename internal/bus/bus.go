// Package bus materializes spec §6.2's "one topic for commands, one for
// callbacks, one for events" as NATS subjects: `brane.cmd.<app>` carries
// job creation/control commands, `brane.cb.<job>` carries a job's
// supervisor callbacks, and `brane.evt.<app>` carries the lifecycle events
// internal/monitor consumes.
//
// Grounded on the two in-pack manifests that depend on
// `github.com/nats-io/nats.go` for job/event fan-out
// (other_examples/manifests/diggerhq-opencomputer,
// other_examples/manifests/cyverse-de-app-exposer); no in-pack or
// retrieved example imports a Kafka client, so this repo does not invent
// one. Subscriptions are plain core-NATS subscriptions: messages are not
// acknowledged or redelivered, so delivery is at most once and a message
// published while no subscriber is listening is lost.
package bus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// Mount is a bind mount the scheduler should set up inside the job's
// container (spec §6.2).
type Mount struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// Command is the envelope published on a command subject: a request to
// create or stop a job (spec §6.2).
type Command struct {
	Kind          string  `json:"kind"` // "create", "stop"
	CorrelationID string  `json:"correlation_id"`
	Application   string  `json:"application"`
	Location      string  `json:"location,omitempty"`
	Image         string  `json:"image"`
	Command       []string `json:"command"`
	Mounts        []Mount  `json:"mounts,omitempty"`
}

// Event is the envelope published on an event subject, one per job
// lifecycle transition (spec §3's job-lifecycle state machine).
type Event struct {
	CorrelationID string          `json:"correlation_id"`
	State         string          `json:"state"`
	Sequence      uint64          `json:"sequence"`
	// Location is the address a detached call's Service reports; the
	// monitor records the last non-empty one it sees. The scheduler in this
	// repository publishes no event with it set, so it is always empty on
	// the events it emits.
	Location string `json:"location,omitempty"`
	// Detail carries the event's payload: a JSON-encoded Value on
	// Finished, a human-readable reason on Failed/Stopped/*Failed, empty
	// otherwise (spec §6.2).
	Detail json.RawMessage `json:"detail,omitempty"`
}

// Callback is the envelope a branelet supervisor publishes back to the
// scheduler on a job's dedicated callback subject (spec §4.11). Kind is one
// of the State* lifecycle constants below; the scheduler forwards these to
// the event subject verbatim except for bookkeeping (spec §6.2), so
// Callback.Kind and Event.State share the same vocabulary by construction.
type Callback struct {
	CorrelationID string          `json:"correlation_id"`
	Kind          string          `json:"kind"`
	Message       string          `json:"message,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
}

// Job lifecycle states (spec §3's ordered state machine), spelled as the
// lower-case strings carried in Event.State. Every publisher (scheduler,
// supervisor) and consumer (monitor, remoteexec) shares these constants so
// state comparisons never drift apart by casing.
const (
	StateSubmitted        = "submitted"
	StateCreated          = "created"
	StateCreateFailed     = "create_failed"
	StateReady            = "ready"
	StateInitialized      = "initialized"
	StateInitializeFailed = "initialize_failed"
	StateStarted          = "started"
	StateStartFailed      = "start_failed"
	StateHeartbeat        = "heartbeat"
	StateCompleted        = "completed"
	StateCompleteFailed   = "complete_failed"
	StateFinished         = "finished"
	StateFailed           = "failed"
	StateStopped          = "stopped"
	StateDecodeFailed     = "decode_failed"
)

func CommandSubject(app string) string  { return fmt.Sprintf("brane.cmd.%s", app) }
func EventSubject(app string) string    { return fmt.Sprintf("brane.evt.%s", app) }
func CallbackSubject(jobID string) string { return fmt.Sprintf("brane.cb.%s", jobID) }

// Bus wraps a NATS connection with the brane subject conventions above.
type Bus struct {
	conn *nats.Conn
}

// Connect dials url (e.g. "nats://localhost:4222") with reconnect enabled,
// matching the pack manifests' long-lived-connection usage of nats.go.
func Connect(url string) (*Bus, error) {
	conn, err := nats.Connect(url, nats.MaxReconnects(-1), nats.ReconnectWait(0))
	if err != nil {
		return nil, errors.Wrapf(err, "bus: connect to %s", url)
	}
	return &Bus{conn: conn}, nil
}

func (b *Bus) Close() { b.conn.Close() }

// PublishCommand sends cmd to app's command subject.
func (b *Bus) PublishCommand(app string, cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return errors.Wrap(err, "bus: marshal command")
	}
	return errors.Wrap(b.conn.Publish(CommandSubject(app), data), "bus: publish command")
}

// SubscribeCommands registers handler on app's command subject.
func (b *Bus) SubscribeCommands(app string, handler func(Command)) (*nats.Subscription, error) {
	return b.conn.Subscribe(CommandSubject(app), func(msg *nats.Msg) {
		var cmd Command
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			return
		}
		handler(cmd)
	})
}

// PublishEvent sends evt to app's event subject.
func (b *Bus) PublishEvent(app string, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "bus: marshal event")
	}
	return errors.Wrap(b.conn.Publish(EventSubject(app), data), "bus: publish event")
}

// SubscribeEvents registers handler on app's event subject.
func (b *Bus) SubscribeEvents(app string, handler func(Event)) (*nats.Subscription, error) {
	return b.conn.Subscribe(EventSubject(app), func(msg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			return
		}
		handler(evt)
	})
}

// PublishCallback sends cb on jobID's callback subject.
func (b *Bus) PublishCallback(jobID string, cb Callback) error {
	data, err := json.Marshal(cb)
	if err != nil {
		return errors.Wrap(err, "bus: marshal callback")
	}
	return errors.Wrap(b.conn.Publish(CallbackSubject(jobID), data), "bus: publish callback")
}

// SubscribeCallbacks registers handler on jobID's callback subject.
func (b *Bus) SubscribeCallbacks(jobID string, handler func(Callback)) (*nats.Subscription, error) {
	return b.conn.Subscribe(CallbackSubject(jobID), func(msg *nats.Msg) {
		var cb Callback
		if err := json.Unmarshal(msg.Data, &cb); err != nil {
			return
		}
		handler(cb)
	})
}
