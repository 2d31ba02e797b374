package vm

import (
	"github.com/brane-lang/brane/internal/bytecode"
	"github.com/brane-lang/brane/internal/heap"
)

// numeric unwraps a widened Slot into a float64 plus whether it was
// originally an Integer, so arithmetic can stay integer-typed when both
// operands are integers and fall back to real division/arithmetic
// otherwise (spec §4.5: "ADD/SUB/MUL/DIV dispatch on the numeric kind of
// both operands").
func numeric(s heap.Slot) (value float64, isInt bool, ok bool) {
	switch s.Widen().Kind {
	case heap.SlotInt:
		return float64(s.Int), true, true
	case heap.SlotReal:
		return s.Real, false, true
	default:
		return 0, false, false
	}
}

// opAdd implements ADD's two shapes: numeric addition, and string
// concatenation when both operands are String objects (spec §4.5, §8
// scenario 2).
func (vm *VM) opAdd() error {
	b, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	a, err := vm.stack.Pop()
	if err != nil {
		return err
	}

	if a.Widen().Kind == heap.SlotObject && b.Widen().Kind == heap.SlotObject {
		as, aok := vm.Heap.AsString(a.Object)
		bs, bok := vm.Heap.AsString(b.Object)
		if aok && bok {
			h, err := vm.Heap.AllocString(as + bs)
			if err != nil {
				return err
			}
			vm.stack.Push(heap.Obj(h))
			return nil
		}
	}

	av, aIsInt, aok := numeric(a)
	bv, bIsInt, bok := numeric(b)
	if !aok || !bok {
		return &VmError{Kind: VmNotAddable, Message: "ADD requires two numbers or two strings"}
	}
	if aIsInt && bIsInt {
		vm.stack.PushInteger(int64(av) + int64(bv))
	} else {
		vm.stack.Push(heap.RealNum(av + bv))
	}
	return nil
}

// opArith implements SUBTRACT, MULTIPLY, and DIVIDE: strictly numeric,
// integer-preserving when both operands are integers.
func (vm *VM) opArith(op bytecode.Opcode, symbol string) error {
	b, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	a, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	av, aIsInt, aok := numeric(a)
	bv, bIsInt, bok := numeric(b)
	if !aok || !bok {
		return vm.arithErrorFor(op)
	}

	if op == bytecode.OpDivide && bv == 0 {
		return &VmError{Kind: VmNotDivisible, Message: "division by zero"}
	}

	if aIsInt && bIsInt && symbol == "/" {
		vm.stack.PushInteger(int64(av) / int64(bv))
		return nil
	}

	var result float64
	switch symbol {
	case "-":
		result = av - bv
	case "*":
		result = av * bv
	case "/":
		result = av / bv
	}

	if aIsInt && bIsInt {
		vm.stack.PushInteger(int64(result))
	} else {
		vm.stack.Push(heap.RealNum(result))
	}
	return nil
}

func (vm *VM) arithErrorFor(op bytecode.Opcode) error {
	switch op {
	case bytecode.OpSubtract:
		return &VmError{Kind: VmNotSubtractable, Message: "SUBSTRACT requires two numbers"}
	case bytecode.OpMultiply:
		return &VmError{Kind: VmNotMultipliable, Message: "MULTIPLY requires two numbers"}
	case bytecode.OpDivide:
		return &VmError{Kind: VmNotDivisible, Message: "DIVIDE requires two numbers"}
	default:
		return &VmError{Kind: VmNotNumeric, Message: "expected two numbers"}
	}
}

// opNegate implements unary NEGATE on an integer or real.
func (vm *VM) opNegate() error {
	v, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	switch v.Widen().Kind {
	case heap.SlotInt:
		vm.stack.PushInteger(-v.Int)
	case heap.SlotReal:
		vm.stack.Push(heap.RealNum(-v.Real))
	default:
		return &VmError{Kind: VmNotNumeric, Message: "NEGATE requires a number"}
	}
	return nil
}

// opBoolBinary implements AND/OR, which are boolean-only (spec §4.5: "AND
// and OR do not coerce; both operands must already be Bool").
func (vm *VM) opBoolBinary(combine func(a, b bool) bool) error {
	b, err := vm.stack.PopBool()
	if err != nil {
		return &VmError{Kind: VmNotBoolean, Message: "AND/OR require two booleans"}
	}
	a, err := vm.stack.PopBool()
	if err != nil {
		return &VmError{Kind: VmNotBoolean, Message: "AND/OR require two booleans"}
	}
	vm.stack.Push(heap.Bool(combine(a, b)))
	return nil
}

func (vm *VM) opNot() error {
	a, err := vm.stack.PopBool()
	if err != nil {
		return &VmError{Kind: VmNotBoolean, Message: "NOT requires a boolean"}
	}
	vm.stack.Push(heap.Bool(!a))
	return nil
}

// opEqual implements structural EQUAL (spec §3: handles compare
// referentially, values of differing Slot kinds are never equal).
func (vm *VM) opEqual() error {
	b, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	a, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	vm.stack.Push(heap.Bool(a.Equal(b)))
	return nil
}

// opCompare implements LESS and GREATER, numeric-only (spec §4.5).
func (vm *VM) opCompare(op bytecode.Opcode) error {
	b, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	a, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	av, _, aok := numeric(a)
	bv, _, bok := numeric(b)
	if !aok || !bok {
		return &VmError{Kind: VmNotComparable, Message: "LESS/GREATER require two numbers"}
	}
	if op == bytecode.OpLess {
		vm.stack.Push(heap.Bool(av < bv))
	} else {
		vm.stack.Push(heap.Bool(av > bv))
	}
	return nil
}
