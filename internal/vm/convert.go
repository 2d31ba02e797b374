package vm

import (
	"fmt"

	"github.com/brane-lang/brane/internal/executor"
	"github.com/brane-lang/brane/internal/heap"
)

// slotToValue converts a heap Slot into the wire-neutral Value an Executor
// consumes, recursing through Array objects. Function, FunctionExt, Class,
// and Instance slots are never valid external-call arguments; spec §5
// scopes external functions to primitives and arrays of primitives.
func (vm *VM) slotToValue(s heap.Slot) (executor.Value, error) {
	s = s.Widen()
	switch s.Kind {
	case heap.SlotUnit:
		return executor.Value{Kind: executor.ValueUnit}, nil
	case heap.SlotBool:
		return executor.Value{Kind: executor.ValueBool, Bool: s.Bool}, nil
	case heap.SlotInt:
		return executor.Value{Kind: executor.ValueInt, Int: s.Int}, nil
	case heap.SlotReal:
		return executor.Value{Kind: executor.ValueReal, Real: s.Real}, nil
	case heap.SlotObject:
		if str, ok := vm.Heap.AsString(s.Object); ok {
			return executor.Value{Kind: executor.ValueString, Str: str}, nil
		}
		if arr, ok := vm.Heap.AsArray(s.Object); ok {
			elems := make([]executor.Value, len(arr.ArrayElements))
			for i, e := range arr.ArrayElements {
				ev, err := vm.slotToValue(e)
				if err != nil {
					return executor.Value{}, err
				}
				elems[i] = ev
			}
			return executor.Value{Kind: executor.ValueArray, Array: elems}, nil
		}
		return executor.Value{}, &VmError{Kind: VmExternalCall, Message: "value is not externally callable"}
	default:
		return executor.Value{}, &VmError{Kind: VmExternalCall, Message: fmt.Sprintf("unsupported slot kind %d for external call", s.Kind)}
	}
}

// valueToSlot is slotToValue's inverse, converting an Executor's result
// back into a Slot the VM stack can hold.
func (vm *VM) valueToSlot(v executor.Value) (heap.Slot, error) {
	switch v.Kind {
	case executor.ValueUnit:
		return heap.Unit(), nil
	case executor.ValueBool:
		return heap.Bool(v.Bool), nil
	case executor.ValueInt:
		return heap.Integer(v.Int), nil
	case executor.ValueReal:
		return heap.RealNum(v.Real), nil
	case executor.ValueString:
		h, err := vm.Heap.AllocString(v.Str)
		if err != nil {
			return heap.Slot{}, err
		}
		return heap.Obj(h), nil
	case executor.ValueArray:
		elems := make([]heap.Slot, len(v.Array))
		elemType := ""
		for i, e := range v.Array {
			s, err := vm.valueToSlot(e)
			if err != nil {
				return heap.Slot{}, err
			}
			elems[i] = s
			t := s.TypeName(vm.Heap)
			if i == 0 {
				elemType = t
			}
		}
		h, err := vm.Heap.Alloc(&heap.Object{Kind: heap.KindArray, ArrayElementType: elemType, ArrayElements: elems})
		if err != nil {
			return heap.Slot{}, err
		}
		return heap.Obj(h), nil
	case executor.ValueService:
		state := heap.ServicePending
		switch v.Service.State {
		case executor.ServiceStarted:
			state = heap.ServiceStarted
		case executor.ServiceDone:
			state = heap.ServiceDone
		case executor.ServiceFailed:
			state = heap.ServiceFailed
		}
		h, err := vm.Heap.Alloc(&heap.Object{
			Kind:              heap.KindService,
			ServiceIdentifier: v.Service.Identifier,
			ServiceAddress:    v.Service.Address,
			ServiceState:      state,
		})
		if err != nil {
			return heap.Slot{}, err
		}
		return heap.Obj(h), nil
	default:
		return heap.Slot{}, &VmError{Kind: VmExternalCall, Message: "executor returned an unknown value kind"}
	}
}
