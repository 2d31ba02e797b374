// Package executor defines the contract between the VM and whatever runs a
// package's external functions on its behalf (spec §5, "C6 External-call
// plane"). The VM never launches a container or talks to a scheduler
// itself; it calls through this interface and turns whatever comes back
// into a Slot or a VmError.
//
// Grounded on the teacher's debugger callback seam in pkg/vm/debugger.go,
// which is the one place smog's VM already calls out to something it
// doesn't own; this repo generalizes that single callback into a full
// request/response contract so the same VM core runs identically whether
// the external function lands in a local Docker container, a Kubernetes
// pod, or a remote job queue.
package executor

import "context"

// Value is the wire-neutral value an Executor receives as an argument and
// returns as a result. It mirrors heap.Slot's shape without importing the
// heap package, so executor implementations never need VM internals.
type Value struct {
	Kind ValueKind
	Bool bool
	Int  int64
	Real float64
	Str  string
	// Array holds the element values when Kind == ValueArray.
	Array []Value
	// Service is populated when Kind == ValueService.
	Service *Service
}

type ValueKind int

const (
	ValueUnit ValueKind = iota
	ValueBool
	ValueInt
	ValueReal
	ValueString
	ValueArray
	ValueService
)

// ServiceState is the lifecycle state of a detached (long-running) call,
// spec §5's "Service" value.
type ServiceState int

const (
	ServicePending ServiceState = iota
	ServiceStarted
	ServiceDone
	ServiceFailed
)

// Service is the handle a detached external call returns immediately,
// before the work it names has necessarily started. GET_METHOD's special
// case (spec §4.5) dispatches "waitUntilStarted"/"waitUntilDone" against
// one of these instead of a user-defined method table.
type Service struct {
	Identifier string
	Address    string
	State      ServiceState
}

// CallRequest names the external function to invoke and the arguments to
// pass it, resolved from a heap FunctionExt object by the CALL opcode.
type CallRequest struct {
	Package  string
	Version  string
	Function string
	Kind     string // "ecu", "oas", "noop"
	Digest   string
	Detached bool
	// Parameters names each entry of Args in call order (the FunctionExt's
	// declared parameter names), so an executor can address a
	// container/job-scheduler wire format that's keyed by name rather than
	// position (spec §4.6: `call(..., args: Map<String,Value>, ...)`).
	Parameters []string
	Args       []Value
}

// CallError is returned by Executor.Call when the external side reports a
// failure (nonzero exit code, rejected request, transport failure). The VM
// wraps it into a VmError::ExternalCallError (spec §7).
type CallError struct {
	Code    int
	Stdout  string
	Stderr  string
	Message string
}

func (e *CallError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "external call failed"
}

// Executor is the seam the VM's CALL opcode dispatches through for any
// function that isn't a plain bytecode Function or Builtin. Call blocks
// until the external function returns a value (attached call) or a Service
// handle (detached call); Debug, Stdout, and Stderr let the external side
// stream diagnostics back through the same channel the VM's own LOC stack
// uses for error context.
type Executor interface {
	Call(ctx context.Context, req CallRequest) (Value, error)
	Debug(ctx context.Context, message string) error
	Stdout(ctx context.Context, message string) error
	Stderr(ctx context.Context, message string) error
	// WaitUntil blocks until the named Service reaches at least the given
	// state, returning its final Value once done (or an error once failed).
	WaitUntil(ctx context.Context, svc *Service, state ServiceState) (Value, error)
}
