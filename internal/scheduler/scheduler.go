// Package scheduler implements the job scheduler (spec §4.9, C9): a
// stateless worker that consumes Create commands off internal/bus,
// resolves the target infra.Location, dispatches the job to the backend
// that location names, and publishes lifecycle events back onto the event
// topic.
//
// Grounded on minimega's src/ron master, which is the one in-pack repo
// whose whole job is "accept a command naming a target, fan it out to the
// right backend, report back over a separate channel" — this package
// keeps that shape and swaps ron's three backends (miniccc-over-HTTP) for
// spec §4.9's four (Kubernetes, local Docker, SSH-VM, SLURM, both over
// Xenon-equivalent SSH). The per-backend files (docker.go, kubernetes.go,
// xenon.go) are grounded individually; see their headers.
package scheduler

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/brane-lang/brane/internal/bus"
	"github.com/brane-lang/brane/internal/infra"
)

const jobSuffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Backend materializes a Create command as a running container on one
// infrastructure kind. Each of docker.go/kubernetes.go/xenon.go implements
// one.
type Backend interface {
	// Dispatch launches cmd's job on loc and returns once the job has been
	// accepted for execution (not once it has finished — completion is
	// reported asynchronously via callbacks, spec §4.9 step 6).
	Dispatch(ctx context.Context, job Job, loc infra.Location) error
}

// Job is a validated, resolved unit of work handed to a Backend: cmd's
// fields plus the generated job id and the common environment block every
// backend injects (spec §4.9 step 4).
type Job struct {
	ID          string
	Correlation string
	Application string
	Location    string
	Image       string
	Command     []string
	Mounts      []bus.Mount
	Env         map[string]string
}

// Scheduler dispatches Create commands for one application's command
// subject to the right Backend by consulting an infra.File, and publishes
// the resulting lifecycle events.
type Scheduler struct {
	Bus         *bus.Bus
	Infra       *infra.File
	Application string
	Log         *logrus.Entry

	Backends map[infra.Kind]Backend

	// ProxyAddress and MountDFS populate BRANE_PROXY_ADDRESS and
	// BRANE_MOUNT_DFS when non-empty (spec §4.9 step 4, §6.5).
	ProxyAddress string
	MountDFS     string
	// CallbackTo is the BRANE_CALLBACK_TO value every job's supervisor
	// connects back to (spec §6.5); cmd/branelet dials it as a bus URL
	// (bus.Connect).
	CallbackTo string

	seq uint64 // per-scheduler-instance event sequence counter

	cbMu   sync.Mutex
	cbSubs map[string]func() error // job id -> callback-subject unsubscribe
}

// New constructs a Scheduler with empty backend registrations; callers
// register backends with RegisterBackend before calling Run.
func New(b *bus.Bus, infraFile *infra.File, app string, log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		Bus:         b,
		Infra:       infraFile,
		Application: app,
		Log:         log,
		Backends:    make(map[infra.Kind]Backend),
		cbSubs:      make(map[string]func() error),
	}
}

func (s *Scheduler) RegisterBackend(kind infra.Kind, backend Backend) {
	s.Backends[kind] = backend
}

// Run subscribes to the application's command subject and handles each
// Create command as it arrives. It blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	sub, err := s.Bus.SubscribeCommands(s.Application, func(cmd bus.Command) {
		s.handleCommand(ctx, cmd)
	})
	if err != nil {
		return fmt.Errorf("scheduler: subscribe to commands: %w", err)
	}
	defer sub.Unsubscribe()
	<-ctx.Done()
	return ctx.Err()
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd bus.Command) {
	if cmd.Kind != "create" {
		return // "stop" commands are out of scope for this core (spec §6.2 lists the shape, not a handler)
	}

	job, loc, err := s.prepare(cmd)
	if err != nil {
		s.publishCreateFailed(cmd.CorrelationID, err.Error())
		return
	}

	backend, ok := s.Backends[loc.Kind]
	if !ok {
		s.publishCreateFailed(cmd.CorrelationID, fmt.Sprintf("no backend registered for location kind %q", loc.Kind))
		return
	}

	if err := backend.Dispatch(ctx, job, loc); err != nil {
		s.publishCreateFailed(cmd.CorrelationID, err.Error())
		return
	}

	s.subscribeCallbacks(job)
	s.publishCreated(cmd.CorrelationID, stripDigest(job.Image))
}

// subscribeCallbacks forwards job's supervisor callbacks onto the event
// subject verbatim except for bookkeeping (spec §6.2), unsubscribing once a
// terminal state is observed.
func (s *Scheduler) subscribeCallbacks(job Job) {
	if s.Bus == nil {
		return
	}
	unsub, err := s.Bus.SubscribeCallbacks(job.ID, func(cb bus.Callback) {
		s.forwardCallback(job, cb)
	})
	if err != nil {
		s.Log.WithError(err).WithField("job_id", job.ID).Warn("scheduler: failed to subscribe to job callbacks")
		return
	}
	s.cbMu.Lock()
	s.cbSubs[job.ID] = unsub.Unsubscribe
	s.cbMu.Unlock()
}

func (s *Scheduler) forwardCallback(job Job, cb bus.Callback) {
	evt := bus.Event{CorrelationID: job.Correlation, State: cb.Kind, Sequence: s.nextSeq()}
	switch {
	case len(cb.Result) > 0:
		evt.Detail = cb.Result
	case cb.Message != "":
		evt.Detail = []byte(fmt.Sprintf("%q", cb.Message))
	}
	if err := s.Bus.PublishEvent(s.Application, evt); err != nil {
		s.Log.WithError(err).Warn("scheduler: failed to forward callback as event")
	}

	switch cb.Kind {
	case bus.StateFinished, bus.StateFailed, bus.StateStopped:
		s.cbMu.Lock()
		if unsub, ok := s.cbSubs[job.ID]; ok {
			unsub()
			delete(s.cbSubs, job.ID)
		}
		s.cbMu.Unlock()
	}
}

// prepare validates cmd (spec §4.9 step 1), resolves its target Location
// (step 2), mints a job id (step 3), and builds the common environment
// block (step 4).
func (s *Scheduler) prepare(cmd bus.Command) (Job, infra.Location, error) {
	if cmd.CorrelationID == "" || cmd.Application == "" || cmd.Location == "" || cmd.Image == "" {
		return Job{}, infra.Location{}, fmt.Errorf("scheduler: create command missing a required field (identifier, application, location, image)")
	}

	loc, ok := s.Infra.Lookup(cmd.Location)
	if !ok {
		return Job{}, infra.Location{}, fmt.Errorf("scheduler: unknown location %q", cmd.Location)
	}

	suffix, err := randomSuffix(10)
	if err != nil {
		return Job{}, infra.Location{}, err
	}
	jobID := fmt.Sprintf("%s-%s", cmd.CorrelationID, suffix)

	env := map[string]string{
		"BRANE_APPLICATION_ID": cmd.Application,
		"BRANE_LOCATION_ID":    cmd.Location,
		"BRANE_JOB_ID":         jobID,
		"BRANE_CALLBACK_TO":    s.callbackTarget(jobID),
	}
	if s.ProxyAddress != "" {
		env["BRANE_PROXY_ADDRESS"] = s.ProxyAddress
	}
	if s.MountDFS != "" {
		env["BRANE_MOUNT_DFS"] = s.MountDFS
	}

	return Job{
		ID:          jobID,
		Correlation: cmd.CorrelationID,
		Application: cmd.Application,
		Location:    cmd.Location,
		Image:       cmd.Image,
		Command:     cmd.Command,
		Mounts:      cmd.Mounts,
		Env:         env,
	}, loc, nil
}

func (s *Scheduler) callbackTarget(jobID string) string {
	if s.CallbackTo != "" {
		return s.CallbackTo
	}
	return bus.CallbackSubject(jobID)
}

func (s *Scheduler) nextSeq() uint64 {
	s.seq++
	return s.seq
}

func (s *Scheduler) publishEvent(corrID, state, detail string) {
	evt := bus.Event{CorrelationID: corrID, State: state, Sequence: s.nextSeq()}
	if detail != "" {
		evt.Detail = []byte(fmt.Sprintf("%q", detail))
	}
	if s.Bus == nil { // tests exercise handleCommand without a live bus connection
		return
	}
	if err := s.Bus.PublishEvent(s.Application, evt); err != nil {
		s.Log.WithError(err).Warn("scheduler: failed to publish event")
	}
}

func (s *Scheduler) publishCreateFailed(corrID, reason string) {
	s.Log.WithFields(logrus.Fields{"correlation_id": corrID, "reason": reason}).Warn("scheduler: create failed")
	s.publishEvent(corrID, bus.StateCreateFailed, reason)
}

func (s *Scheduler) publishCreated(corrID, image string) {
	s.publishEvent(corrID, bus.StateCreated, image)
}

// stripDigest drops an "@sha256:..." content digest suffix from an image
// reference, since the Created event's payload is "the image name with
// digest stripped" (spec §4.9 step 6).
func stripDigest(image string) string {
	if i := strings.IndexByte(image, '@'); i >= 0 {
		return image[:i]
	}
	return image
}

func randomSuffix(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("scheduler: generate random suffix: %w", err)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = jobSuffixAlphabet[int(b)%len(jobSuffixAlphabet)]
	}
	return string(out), nil
}
