package vm

import (
	"fmt"

	"github.com/brane-lang/brane/internal/bytecode"
)

func (vm *VM) globalNameAt(chunk *bytecode.Chunk, idx int) (string, error) {
	c, err := chunk.Constant(idx)
	if err != nil {
		return "", err
	}
	if c.Kind != bytecode.ConstString {
		return "", &VmError{Kind: VmUndefinedGlobal, Message: "global name constant is not a string"}
	}
	return c.Str, nil
}

// opDefineGlobal binds the top-of-stack value to the name found in the
// constant pool, failing if the name is already bound (spec §4.5: globals
// are write-once outside of SET_GLOBAL).
func (vm *VM) opDefineGlobal(chunk *bytecode.Chunk, frame *Frame) error {
	idx, ok := frame.readU8(chunk.Code)
	if !ok {
		return vm.truncatedOperand(bytecode.OpDefineGlobal)
	}
	name, err := vm.globalNameAt(chunk, int(idx))
	if err != nil {
		return err
	}
	if _, exists := vm.globals[name]; exists {
		return &VmError{Kind: VmGlobalAlreadyDefined, Message: fmt.Sprintf("global %q already defined", name)}
	}
	v, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	vm.globals[name] = v
	return nil
}

// opGetGlobal pushes the value bound to a global name.
func (vm *VM) opGetGlobal(chunk *bytecode.Chunk, frame *Frame) error {
	idx, ok := frame.readU8(chunk.Code)
	if !ok {
		return vm.truncatedOperand(bytecode.OpGetGlobal)
	}
	name, err := vm.globalNameAt(chunk, int(idx))
	if err != nil {
		return err
	}
	v, ok := vm.globals[name]
	if !ok {
		return &VmError{Kind: VmUndefinedGlobal, Message: fmt.Sprintf("undefined global %q", name)}
	}
	vm.stack.Push(v)
	return nil
}

// opSetGlobal overwrites an already-defined global (spec §4.5 distinguishes
// this from DEFINE_GLOBAL: SET_GLOBAL fails if the name is not yet bound).
func (vm *VM) opSetGlobal(chunk *bytecode.Chunk, frame *Frame) error {
	idx, ok := frame.readU8(chunk.Code)
	if !ok {
		return vm.truncatedOperand(bytecode.OpSetGlobal)
	}
	name, err := vm.globalNameAt(chunk, int(idx))
	if err != nil {
		return err
	}
	if _, exists := vm.globals[name]; !exists {
		return &VmError{Kind: VmUndefinedGlobal, Message: fmt.Sprintf("undefined global %q", name)}
	}
	v, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	vm.globals[name] = v
	return nil
}
