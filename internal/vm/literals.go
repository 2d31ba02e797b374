package vm

import (
	"github.com/brane-lang/brane/internal/bytecode"
	"github.com/brane-lang/brane/internal/heap"
)

// opConstant materializes the constant-pool entry indexed by the CONSTANT
// opcode's operand and pushes it. String, Function and Class constants are
// allocated as new heap objects each time they are loaded; Int and Real map
// directly onto a Slot variant (spec §4.5).
func (vm *VM) opConstant(chunk *bytecode.Chunk, frame *Frame) error {
	idx, ok := frame.readU8(chunk.Code)
	if !ok {
		return vm.truncatedOperand(bytecode.OpConstant)
	}
	v, err := vm.loadConstant(chunk, int(idx))
	if err != nil {
		return err
	}
	vm.stack.Push(v)
	return nil
}

func (vm *VM) loadConstant(chunk *bytecode.Chunk, idx int) (heap.Slot, error) {
	c, err := chunk.Constant(idx)
	if err != nil {
		return heap.Slot{}, err
	}
	switch c.Kind {
	case bytecode.ConstInt:
		return heap.Integer(c.Int), nil
	case bytecode.ConstReal:
		return heap.RealNum(c.Real), nil
	case bytecode.ConstString:
		h, err := vm.Heap.AllocString(c.Str)
		if err != nil {
			return heap.Slot{}, err
		}
		return heap.Obj(h), nil
	case bytecode.ConstFunction:
		h, err := vm.Heap.Alloc(&heap.Object{
			Kind:      heap.KindFunction,
			FuncName:  c.Function.Name,
			FuncArity: c.Function.Arity,
			FuncChunk: c.Function.Chunk,
		})
		if err != nil {
			return heap.Slot{}, err
		}
		return heap.Obj(h), nil
	case bytecode.ConstClass:
		methods := make(map[string]heap.Slot, len(c.Class.Methods))
		for name, methodIdx := range c.Class.Methods {
			fnSlot, err := vm.loadConstant(chunk, methodIdx)
			if err != nil {
				return heap.Slot{}, err
			}
			methods[name] = fnSlot
		}
		h, err := vm.Heap.Alloc(&heap.Object{
			Kind:         heap.KindClass,
			ClassName:    c.Class.Name,
			ClassMethods: methods,
		})
		if err != nil {
			return heap.Slot{}, err
		}
		return heap.Obj(h), nil
	default:
		return heap.Slot{}, &VmError{Kind: VmNotNumeric, Message: "unknown constant kind"}
	}
}
