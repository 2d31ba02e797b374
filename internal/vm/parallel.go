package vm

import (
	"context"
	"fmt"
	"sync"

	"github.com/brane-lang/brane/internal/heap"
)

// opParallel implements PARALLEL N: pop n nullary Function slots and run
// each to completion concurrently in its own child VM, collecting their
// results into an Array in the same order the functions were pushed (spec
// §4.5, §5 "C5 PARALLEL").
//
// Child VMs share the parent's Heap (so Handles created by one branch stay
// valid from another) but start from an independent snapshot of the
// parent's globals taken before any branch runs — a branch's own
// DEFINE_GLOBAL/SET_GLOBAL calls are invisible to its siblings and to the
// parent once PARALLEL returns.
//
// Policy decision: PARALLEL runs every branch to completion even if one
// fails, then reports the first error in branch order. This matches how
// the rest of the VM already treats a goroutine set with no natural
// cancellation point — there's no partial heap state to roll back, so
// there is nothing gained by cancelling siblings early, and reporting a
// single deterministic error beats racing error messages from two
// failing branches.
func (vm *VM) opParallel(ctx context.Context, n int) error {
	fnSlots := make([]heap.Slot, n)
	for i := n - 1; i >= 0; i-- {
		v, err := vm.stack.Pop()
		if err != nil {
			return err
		}
		fnSlots[i] = v
	}

	globalsSnapshot := vm.cloneGlobals()
	results := make([]heap.Slot, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i, slot := range fnSlots {
		wg.Add(1)
		go func(i int, slot heap.Slot) {
			defer wg.Done()
			v, err := vm.runParallelBranch(ctx, slot, globalsSnapshot)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = v
		}(i, slot)
	}
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			return &VmError{Kind: VmBranchRun, Message: fmt.Sprintf("PARALLEL branch failed: %s", e)}
		}
	}

	elemType := ""
	for i, r := range results {
		t := r.TypeName(vm.Heap)
		if i == 0 {
			elemType = t
		} else if t != elemType {
			return &StackError{Kind: StackArrayType, Message: fmt.Sprintf("PARALLEL branches returned mixed types: %s and %s", elemType, t)}
		}
	}
	h, err := vm.Heap.Alloc(&heap.Object{Kind: heap.KindArray, ArrayElementType: elemType, ArrayElements: results})
	if err != nil {
		return err
	}
	vm.stack.Push(heap.Obj(h))
	return nil
}

func (vm *VM) runParallelBranch(ctx context.Context, slot heap.Slot, globalsSnapshot map[string]heap.Slot) (heap.Slot, error) {
	s := slot.Widen()
	if s.Kind != heap.SlotObject {
		return heap.Slot{}, &VmError{Kind: VmBranchCreate, Message: "PARALLEL operand is not a function"}
	}
	fn, ok := vm.Heap.AsFunction(s.Object)
	if !ok {
		return heap.Slot{}, &VmError{Kind: VmBranchCreate, Message: "PARALLEL operand is not a bytecode function"}
	}
	if fn.FuncArity != 0 {
		return heap.Slot{}, &VmError{Kind: VmBranchCreate, Message: fmt.Sprintf("PARALLEL function %q must take no arguments", fn.FuncName)}
	}
	child := vm.newChild(globalsSnapshot)
	return child.Run(ctx, fn.FuncChunk)
}
