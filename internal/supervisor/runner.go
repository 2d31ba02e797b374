// Runner ties container.yml, argument decoding, subprocess launch, and
// capture/decode together into the three package-kind branches spec
// §4.11 step 4 describes: code (ECU), OAS, and no-op.
package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brane-lang/brane/internal/bus"
	"github.com/brane-lang/brane/internal/packages"
)

// defaultHeartbeatInterval matches spec §4.11's "every configured interval
// (a few seconds)".
const defaultHeartbeatInterval = 5 * time.Second

// Runner dispatches one function call inside a running container and
// reports lifecycle transitions through cb.
type Runner struct {
	Callback          *Callback
	CorrelationID     string
	Log               *logrus.Entry
	HeartbeatInterval time.Duration

	// run executes the entrypoint; overridden in tests.
	run func(ctx context.Context, dir, entrypoint string, env []string) (stdout, stderr string, err error)

	// onEmit, if set, observes every lifecycle callback alongside the
	// normal Callback.Send path; only ever set in tests.
	onEmit func(bus.Callback)
}

// NewRunner constructs a Runner with production defaults.
func NewRunner(cb *Callback, correlationID string, log *logrus.Entry) *Runner {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &Runner{Callback: cb, CorrelationID: correlationID, Log: log, HeartbeatInterval: defaultHeartbeatInterval}
	r.run = r.runSubprocess
	return r
}

func (r *Runner) emit(kind string, message string, result json.RawMessage) {
	cb := bus.Callback{
		CorrelationID: r.CorrelationID,
		Kind:          kind,
		Message:       message,
		Result:        result,
	}
	if r.onEmit != nil {
		r.onEmit(cb)
	}
	if r.Callback == nil {
		return
	}
	r.Callback.Send(cb)
}

// Dispatch runs pkg's function according to its Kind (spec §4.11 step 4),
// returning the JSON-encoded result value on success.
func (r *Runner) Dispatch(ctx context.Context, pkg *packages.Package, function, argsB64 string) (json.RawMessage, error) {
	switch pkg.Manifest.Kind {
	case packages.KindNoop:
		return r.dispatchNoop(ctx)
	case packages.KindECU:
		return r.dispatchECU(ctx, pkg, function, argsB64)
	case packages.KindOAS:
		return r.dispatchOAS(ctx, pkg, function, argsB64)
	default:
		err := &LetError{Kind: LetPackageInfo, Message: fmt.Sprintf("unsupported package kind %q", pkg.Manifest.Kind)}
		r.emit(bus.StateFailed, err.Error(), nil)
		return nil, err
	}
}

// dispatchNoop is spec §4.11's trivial branch: Initialized -> Started ->
// Completed -> Finished(Unit).
func (r *Runner) dispatchNoop(ctx context.Context) (json.RawMessage, error) {
	r.emit(bus.StateInitialized, "", nil)
	r.emit(bus.StateStarted, "", nil)
	r.emit(bus.StateCompleted, "", nil)
	result := json.RawMessage("null")
	r.emit(bus.StateFinished, "", result)
	return result, nil
}

func (r *Runner) dispatchECU(ctx context.Context, pkg *packages.Package, function, argsB64 string) (json.RawMessage, error) {
	manifest, err := LoadContainerManifest(pkg.Dir)
	if err != nil {
		wrapped := &LetError{Kind: LetContainerInfo, Message: err.Error()}
		r.emit(bus.StateFailed, wrapped.Error(), nil)
		return nil, wrapped
	}
	fn, err := manifest.Function(function)
	if err != nil {
		r.emit(bus.StateFailed, err.Error(), nil)
		return nil, err
	}

	args, err := DecodeArgs(argsB64)
	if err != nil {
		r.emit(bus.StateFailed, err.Error(), nil)
		return nil, err
	}
	if err := validateParameters(fn.Parameters, args); err != nil {
		r.emit(bus.StateFailed, err.Error(), nil)
		return nil, err
	}

	workdir := os.Getenv("BRANE_WORKDIR")
	if workdir == "" {
		workdir = "/opt/wd"
	}

	if manifest.Init != "" {
		if err := r.runInit(ctx, workdir, manifest.Init); err != nil {
			r.emit(bus.StateFailed, err.Error(), nil)
			return nil, err
		}
	}
	r.emit(bus.StateInitialized, "", nil)

	env, err := BuildEnv(args)
	if err != nil {
		r.emit(bus.StateFailed, err.Error(), nil)
		return nil, err
	}
	envSlice := os.Environ()
	for k, v := range env {
		envSlice = append(envSlice, fmt.Sprintf("%s=%s", k, v))
	}

	entrypoint := manifest.Entrypoint
	if !filepath.IsAbs(entrypoint) {
		entrypoint = filepath.Join(workdir, entrypoint)
	}

	r.emit(bus.StateStarted, "", nil)
	stop := r.startHeartbeat()
	stdout, stderr, runErr := r.run(ctx, workdir, entrypoint, envSlice)
	stop()

	if exit, signaled, name := exitDetails(runErr); signaled {
		err := &LetError{Kind: LetPackageRun, Message: fmt.Sprintf("entrypoint terminated by signal %s", name)}
		r.emit(bus.StateStopped, name, nil)
		return nil, err
	} else if exit != 0 {
		detail, _ := json.Marshal(map[string]interface{}{"code": exit, "stdout": stdout, "stderr": stderr})
		err := &LetError{Kind: LetPackageRun, Message: fmt.Sprintf("entrypoint exited %d: %s", exit, stderr)}
		r.emit(bus.StateFailed, err.Error(), detail)
		return nil, err
	} else if runErr != nil {
		err := &LetError{Kind: LetEntrypoint, Message: runErr.Error()}
		r.emit(bus.StateFailed, err.Error(), nil)
		return nil, err
	}

	captured, err := ExtractCapture(fn.Capture, stdout)
	if err != nil {
		r.emit(bus.StateFailed, err.Error(), nil)
		return nil, err
	}
	decoded, err := DecodeResult(captured, fn.Outputs)
	if err != nil {
		r.emit(bus.StateFailed, err.Error(), nil)
		return nil, err
	}
	result, err := json.Marshal(collapseOutputs(fn.Outputs, decoded))
	if err != nil {
		return nil, &LetError{Kind: LetResultJSON, Message: err.Error()}
	}
	r.emit(bus.StateFinished, "", result)
	return result, nil
}

// collapseOutputs renders a function's declared outputs as the single
// wire Value spec §4.6 expects a call to return: Unit with none declared,
// the bare value with exactly one, or an array in declaration order with
// more than one.
func collapseOutputs(outputs []Output, decoded map[string]interface{}) interface{} {
	switch len(outputs) {
	case 0:
		return nil
	case 1:
		return decoded[outputs[0].Name]
	default:
		values := make([]interface{}, len(outputs))
		for i, out := range outputs {
			values[i] = decoded[out.Name]
		}
		return values
	}
}

// validateParameters checks presence of every declared parameter (spec
// §4.11: "validates ... that all arguments match (types and presence)").
// Type checking of the decoded JSON shape happens inside BuildEnv/marshalArg;
// here we only confirm nothing declared is missing.
func validateParameters(params []Parameter, args map[string]Arg) error {
	for _, p := range params {
		if _, ok := args[p.Name]; !ok {
			return &LetError{Kind: LetArgumentsJSON, Message: fmt.Sprintf("missing required argument %q", p.Name)}
		}
	}
	return nil
}

func (r *Runner) runInit(ctx context.Context, workdir, script string) error {
	cmd := exec.CommandContext(ctx, script)
	cmd.Dir = workdir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &LetError{Kind: LetWorkdir, Message: fmt.Sprintf("init.sh failed: %s: %s", err, stderr.String())}
	}
	return nil
}

func (r *Runner) runSubprocess(ctx context.Context, dir, entrypoint string, env []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, entrypoint)
	cmd.Dir = dir
	cmd.Env = env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// startHeartbeat emits Heartbeat on HeartbeatInterval until the returned
// func is called (spec §4.11: "emits Heartbeat every configured interval").
func (r *Runner) startHeartbeat() func() {
	interval := r.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				r.emit(bus.StateHeartbeat, "", nil)
			}
		}
	}()
	return func() { close(done) }
}

// exitDetails extracts the exit code, whether the process was signalled,
// and the signal name from an exec error (or success).
func exitDetails(err error) (code int, signaled bool, signalName string) {
	if err == nil {
		return 0, false, ""
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return -1, false, ""
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return exitErr.ExitCode(), false, ""
	}
	if status.Signaled() {
		return -1, true, status.Signal().String()
	}
	return status.ExitStatus(), false, ""
}

