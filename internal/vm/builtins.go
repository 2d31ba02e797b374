package vm

import (
	"context"
	"fmt"

	"github.com/brane-lang/brane/internal/executor"
	"github.com/brane-lang/brane/internal/heap"
)

// callBuiltin dispatches the VM's two in-process builtins on a Service
// (spec §5, §9 Open Questions). waitUntilStarted is a documented no-op: it
// returns the Service unchanged without consulting the Executor, since a
// detached call's Service is only ever produced already-started.
// waitUntilDone blocks on the configured Executor until the external call
// finishes. Neither touches a user-defined method table, which is why
// GET_METHOD resolves them before ever looking at a class.
func (vm *VM) callBuiltin(ctx context.Context, code heap.BuiltinCode, args []heap.Slot) error {
	if len(args) != 1 {
		return &VmError{Kind: VmBuiltinCall, Message: "Service builtin expects exactly one argument (the Service itself)"}
	}
	recv := args[0].Widen()
	if recv.Kind != heap.SlotObject {
		return &VmError{Kind: VmBuiltinCall, Message: "Service builtin called on a non-object"}
	}
	svcObj, ok := vm.Heap.AsService(recv.Object)
	if !ok {
		return &VmError{Kind: VmBuiltinCall, Message: "Service builtin called on a non-Service"}
	}

	if code == heap.BuiltinServiceWaitUntilStarted {
		vm.stack.Push(recv)
		return nil
	}

	if vm.cfg.Executor == nil {
		return &VmError{Kind: VmBuiltinCall, Message: "no executor configured to wait on Service " + svcObj.ServiceIdentifier}
	}
	svc := &executor.Service{
		Identifier: svcObj.ServiceIdentifier,
		Address:    svcObj.ServiceAddress,
		State:      toExecutorState(svcObj.ServiceState),
	}
	result, err := vm.cfg.Executor.WaitUntil(ctx, svc, executor.ServiceDone)
	if err != nil {
		if ce, ok := err.(*executor.CallError); ok {
			return externalCallFailed(ce.Code, ce.Stdout, ce.Stderr)
		}
		return &VmError{Kind: VmExternalCall, Message: fmt.Sprintf("waiting on service %q: %s", svcObj.ServiceIdentifier, err)}
	}

	slot, err := vm.valueToSlot(result)
	if err != nil {
		return err
	}
	vm.stack.Push(slot)
	return nil
}

func toExecutorState(s heap.ServiceState) executor.ServiceState {
	switch s {
	case heap.ServiceStarted:
		return executor.ServiceStarted
	case heap.ServiceDone:
		return executor.ServiceDone
	case heap.ServiceFailed:
		return executor.ServiceFailed
	default:
		return executor.ServicePending
	}
}
