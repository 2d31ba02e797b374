// Package vm implements the bytecode virtual machine: the typed value
// stack, call frames, globals, the fetch/decode/dispatch loop, package
// imports, and the PARALLEL fan-out primitive.
//
// Execution Model:
//
// The VM is single-threaded and cooperative inside one instance; the only
// suspension points are an external-function CALL, an IMPORT's debug
// callbacks, and PARALLEL's child VMs (spec §4.5, §5). Every other opcode
// runs synchronously to completion before the next instruction is fetched.
//
// Grounded on the teacher's pkg/vm/vm.go: a flat []interface{} stack with a
// stack pointer, dispatched in a big switch over opcodes, with typed
// pop/push helpers doing the bounds and type checking so the dispatch loop
// itself stays uniform. This repo tightens the stack cell from
// interface{} to heap.Slot, a real tagged union, because spec §3 requires
// small-integer inlining and referential Handle equality that interface{}
// cannot express safely once the heap is shared across PARALLEL's child
// VMs.
package vm

import (
	"fmt"

	"github.com/brane-lang/brane/internal/heap"
)

const defaultStackCapacity = 1024

// Stack is the typed value stack of spec §4.2.
type Stack struct {
	slots    []heap.Slot
	useConst bool
}

// NewStack returns an empty Stack. useConst enables the small-integer
// inlining optimization: push_integer for values in {-2,-1,0,1,2} stores
// the inlined representation, and typed pops transparently widen it back.
// This is purely a representation choice; it is never observable by a
// caller of Stack.
func NewStack(useConst bool) *Stack {
	return &Stack{slots: make([]heap.Slot, 0, defaultStackCapacity), useConst: useConst}
}

// Len returns the number of slots currently on the stack.
func (s *Stack) Len() int { return len(s.slots) }

// Push appends v to the top of the stack.
func (s *Stack) Push(v heap.Slot) {
	s.slots = append(s.slots, v)
}

// PushInteger pushes an integer, applying small-integer inlining when the
// stack's use_const flag is set.
func (s *Stack) PushInteger(v int64) {
	if s.useConst {
		s.Push(heap.InlineInteger(v))
		return
	}
	s.Push(heap.Integer(v))
}

// Pop removes and returns the top value, widening any inlined small
// integer back to a regular Integer slot.
func (s *Stack) Pop() (heap.Slot, error) {
	if len(s.slots) == 0 {
		return heap.Slot{}, &StackError{Kind: StackEmptyStack, Message: "pop from empty stack"}
	}
	v := s.slots[len(s.slots)-1].Widen()
	s.slots = s.slots[:len(s.slots)-1]
	return v, nil
}

// PeekBoolean inspects (without popping) the top value as a boolean.
// JUMP_IF_FALSE uses this: the compiler is responsible for popping the
// condition separately (spec §4.5).
func (s *Stack) PeekBoolean() (bool, error) {
	if len(s.slots) == 0 {
		return false, &StackError{Kind: StackEmptyStack, Message: "peek from empty stack"}
	}
	top := s.slots[len(s.slots)-1].Widen()
	if top.Kind != heap.SlotBool {
		return false, &StackError{Kind: StackUnexpectedType, Message: fmt.Sprintf("expected bool, got slot kind %d", top.Kind)}
	}
	return top.Bool, nil
}

// PopInt pops the top value, failing with UnexpectedType if it is not an
// integer (inlined or not).
func (s *Stack) PopInt() (int64, error) {
	v, err := s.Pop()
	if err != nil {
		return 0, err
	}
	if v.Kind != heap.SlotInt {
		return 0, &StackError{Kind: StackUnexpectedType, Message: "expected integer"}
	}
	return v.Int, nil
}

// PopBool pops the top value, failing with UnexpectedType if it is not a
// boolean.
func (s *Stack) PopBool() (bool, error) {
	v, err := s.Pop()
	if err != nil {
		return false, err
	}
	if v.Kind != heap.SlotBool {
		return false, &StackError{Kind: StackUnexpectedType, Message: "expected bool"}
	}
	return v.Bool, nil
}

// Get returns the slot at absolute offset i without removing it.
func (s *Stack) Get(i int) (heap.Slot, error) {
	if i < 0 || i >= len(s.slots) {
		return heap.Slot{}, &StackError{Kind: StackOutOfBounds, Message: fmt.Sprintf("stack index %d out of bounds (len %d)", i, len(s.slots))}
	}
	return s.slots[i], nil
}

// Set writes v at absolute offset i.
func (s *Stack) Set(i int, v heap.Slot) error {
	if i < 0 || i >= len(s.slots) {
		return &StackError{Kind: StackOutOfBounds, Message: fmt.Sprintf("stack index %d out of bounds (len %d)", i, len(s.slots))}
	}
	s.slots[i] = v
	return nil
}

// CopyPush duplicates the slot at absolute offset i onto the top of the
// stack.
func (s *Stack) CopyPush(i int) error {
	v, err := s.Get(i)
	if err != nil {
		return err
	}
	s.Push(v)
	return nil
}

// CopyPop pops the top of the stack into slot i. This is a swap-remove,
// not an insert: it does not preserve the relative order of slots above i,
// which is exactly what writing a local variable needs (spec §4.2).
func (s *Stack) CopyPop(i int) error {
	v, err := s.Pop()
	if err != nil {
		return err
	}
	return s.Set(i, v)
}

// ClearFrom truncates the stack to length i.
func (s *Stack) ClearFrom(i int) {
	if i < 0 {
		i = 0
	}
	if i > len(s.slots) {
		i = len(s.slots)
	}
	s.slots = s.slots[:i]
}

// PopN discards the top n slots, saturating at the stack's current length
// (spec §4.5: "POP_N saturates at stack length").
func (s *Stack) PopN(n int) {
	if n > len(s.slots) {
		n = len(s.slots)
	}
	s.slots = s.slots[:len(s.slots)-n]
}

// Clear empties the stack entirely.
func (s *Stack) Clear() { s.slots = s.slots[:0] }
