package vm

import (
	"context"
	"fmt"

	"github.com/brane-lang/brane/internal/executor"
	"github.com/brane-lang/brane/internal/heap"
)

// opCall implements CALL N: pop n arguments and the callee beneath them,
// then dispatch on what the callee is (spec §4.5 — a bytecode Function
// pushes a new Frame, a FunctionExt goes out through the Executor, a
// Builtin is handled in-process).
func (vm *VM) opCall(ctx context.Context, n int) error {
	args := make([]heap.Slot, n)
	for i := n - 1; i >= 0; i-- {
		v, err := vm.stack.Pop()
		if err != nil {
			return err
		}
		args[i] = v
	}
	callee, err := vm.stack.Pop()
	if err != nil {
		return err
	}

	switch callee.Widen().Kind {
	case heap.SlotBuiltin:
		return vm.callBuiltin(ctx, callee.Builtin, args)
	case heap.SlotObject:
		if fn, ok := vm.Heap.AsFunction(callee.Object); ok {
			return vm.callFunction(callee.Object, fn, args)
		}
		if ext, ok := vm.Heap.AsFunctionExt(callee.Object); ok {
			return vm.callExternal(ctx, ext, args)
		}
		return &VmError{Kind: VmFunctionArity, Message: "CALL target is not callable"}
	default:
		return &VmError{Kind: VmFunctionArity, Message: "CALL target is not callable"}
	}
}

// callFunction pushes a new call frame for a bytecode Function. The
// callee's own Slot::Object(Function) is reinstated at the new frame's
// local 0, exactly mirroring how the outermost "main" frame is set up in
// Run, so GET_LOCAL 0 always answers "what function am I in" the same way
// at every call depth.
func (vm *VM) callFunction(handle heap.Handle, fn *heap.Object, args []heap.Slot) error {
	if len(args) != fn.FuncArity {
		return &VmError{Kind: VmFunctionArity, Message: fmt.Sprintf("function %q expects %d arguments, got %d", fn.FuncName, fn.FuncArity, len(args))}
	}
	if len(vm.frames) >= maxFrames {
		return &VmError{Kind: VmBranchRun, Message: "call stack exhausted"}
	}

	offset := vm.stack.Len()
	vm.stack.Push(heap.Obj(handle))
	for _, a := range args {
		vm.stack.Push(a)
	}
	vm.frames = append(vm.frames, Frame{Function: handle, IP: 0, Offset: offset})
	return nil
}

// callExternal dispatches a FunctionExt through the configured Executor and
// pushes whatever it returns (spec §5, §6.1).
func (vm *VM) callExternal(ctx context.Context, ext *heap.Object, args []heap.Slot) error {
	if vm.cfg.Executor == nil {
		return &VmError{Kind: VmExternalCall, Message: "no executor configured for external function " + ext.ExtName}
	}
	if ext.ExtDigest == "" {
		return &VmError{Kind: VmPackageWithoutDigest, Message: fmt.Sprintf("package %q has no digest", ext.ExtPackage)}
	}
	if len(args) != len(ext.ExtParameters) {
		return &VmError{Kind: VmFunctionArity, Message: fmt.Sprintf("external function %q expects %d arguments, got %d", ext.ExtName, len(ext.ExtParameters), len(args))}
	}

	values := make([]executor.Value, len(args))
	for i, a := range args {
		v, err := vm.slotToValue(a)
		if err != nil {
			return err
		}
		values[i] = v
	}

	result, err := vm.cfg.Executor.Call(ctx, executor.CallRequest{
		Package:    ext.ExtPackage,
		Version:    ext.ExtVersion,
		Function:   ext.ExtName,
		Kind:       ext.ExtKind,
		Digest:     ext.ExtDigest,
		Detached:   ext.ExtDetached,
		Parameters: ext.ExtParameters,
		Args:       values,
	})
	if err != nil {
		if ce, ok := err.(*executor.CallError); ok {
			return externalCallFailed(ce.Code, ce.Stdout, ce.Stderr)
		}
		return &VmError{Kind: VmExternalCall, Message: err.Error()}
	}

	slot, err := vm.valueToSlot(result)
	if err != nil {
		return err
	}
	vm.stack.Push(slot)
	return nil
}
