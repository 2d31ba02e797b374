package vm

import (
	"context"
	"fmt"

	"github.com/brane-lang/brane/internal/bytecode"
	"github.com/brane-lang/brane/internal/heap"
)

// opArray pops n elements (in stack order, so the first-pushed element
// ends up at index 0) and allocates an Array object whose element_type is
// the common TypeName of every element (spec §3: "an Array's element_type
// equals the common type name of all contained Slots").
func (vm *VM) opArray(n int) error {
	elems := make([]heap.Slot, n)
	for i := n - 1; i >= 0; i-- {
		v, err := vm.stack.Pop()
		if err != nil {
			return err
		}
		elems[i] = v
	}

	elemType := ""
	for i, e := range elems {
		t := e.TypeName(vm.Heap)
		if i == 0 {
			elemType = t
		} else if t != elemType {
			return &StackError{Kind: StackArrayType, Message: fmt.Sprintf("array elements have mixed types: %s and %s", elemType, t)}
		}
	}

	h, err := vm.Heap.Alloc(&heap.Object{Kind: heap.KindArray, ArrayElementType: elemType, ArrayElements: elems})
	if err != nil {
		return err
	}
	vm.stack.Push(heap.Obj(h))
	return nil
}

// opIndex pops an integer index and an Array handle, pushing the indexed
// element (spec §4.5, §8 scenario 3).
func (vm *VM) opIndex() error {
	idxSlot, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	arrSlot, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	idx := idxSlot.Widen()
	if !idx.IsInt() {
		return &VmError{Kind: VmIllegalIndex, Message: "INDEX operand is not an integer"}
	}
	if arrSlot.Widen().Kind != heap.SlotObject {
		return &VmError{Kind: VmIllegalIndex, Message: "INDEX target is not an array"}
	}

	arr, okArr := vm.Heap.AsArray(arrSlot.Object)
	if !okArr {
		return &VmError{Kind: VmIllegalIndex, Message: "INDEX target is not an array"}
	}
	i := int(idx.Int)
	if i < 0 || i >= len(arr.ArrayElements) {
		return arrayOutOfBounds(i, len(arr.ArrayElements))
	}
	vm.stack.Push(arr.ArrayElements[i])
	return nil
}

// propertyNameAt resolves the constant-pool string at idx, the shared
// decode step for DOT, GET_PROPERTY, and GET_METHOD (spec §4.5).
func (vm *VM) propertyNameAt(chunk *bytecode.Chunk, idx int) (string, error) {
	c, err := chunk.Constant(idx)
	if err != nil {
		return "", err
	}
	if c.Kind != bytecode.ConstString {
		return "", &VmError{Kind: VmIllegalDot, Message: "property name constant is not a string"}
	}
	return c.Str, nil
}

// opDot and opGetProperty are aliases: both read a named field out of a
// heap Instance's InstanceProperties through readProperty. Neither consults
// the class's method table; that is GET_METHOD's job.
func (vm *VM) opDot(chunk *bytecode.Chunk, idx int) error {
	name, err := vm.propertyNameAt(chunk, idx)
	if err != nil {
		return err
	}
	return vm.readProperty(name)
}

func (vm *VM) opGetProperty(chunk *bytecode.Chunk, idx int) error {
	name, err := vm.propertyNameAt(chunk, idx)
	if err != nil {
		return err
	}
	return vm.readProperty(name)
}

func (vm *VM) readProperty(name string) error {
	recv, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	if recv.Widen().Kind != heap.SlotObject {
		return &VmError{Kind: VmIllegalDot, Message: "property access on a non-object"}
	}
	inst, ok := vm.Heap.AsInstance(recv.Object)
	if !ok {
		return &VmError{Kind: VmIllegalDot, Message: "property access on a non-instance"}
	}
	v, ok := inst.InstanceProperties[name]
	if !ok {
		return &VmError{Kind: VmUndefinedProperty, Message: fmt.Sprintf("undefined property %q", name)}
	}
	vm.stack.Push(v)
	return nil
}

// opGetMethod resolves a callable bound to an instance's class, except for
// the Service special case: "waitUntilStarted" and "waitUntilDone" against
// a Slot::Object(Service) resolve to the corresponding Builtin regardless
// of any user-defined method table (spec §4.5, §5).
func (vm *VM) opGetMethod(ctx context.Context, chunk *bytecode.Chunk, idx int) error {
	name, err := vm.propertyNameAt(chunk, idx)
	if err != nil {
		return err
	}
	recv, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	if recv.Widen().Kind != heap.SlotObject {
		return &VmError{Kind: VmIllegalDot, Message: "method access on a non-object"}
	}

	if svc, ok := vm.Heap.AsService(recv.Object); ok {
		switch name {
		case "waitUntilStarted":
			vm.stack.Push(heap.Builtin(heap.BuiltinServiceWaitUntilStarted))
			vm.stack.Push(recv)
			_ = svc
			return nil
		case "waitUntilDone":
			vm.stack.Push(heap.Builtin(heap.BuiltinServiceWaitUntilDone))
			vm.stack.Push(recv)
			return nil
		default:
			return &VmError{Kind: VmIllegalServiceMethod, Message: fmt.Sprintf("Service has no method %q", name)}
		}
	}

	inst, ok := vm.Heap.AsInstance(recv.Object)
	if !ok {
		return &VmError{Kind: VmIllegalDot, Message: "method access on a non-instance"}
	}
	class, ok := vm.Heap.AsClass(inst.InstanceClass)
	if !ok {
		return &VmError{Kind: VmDanglingHandle, Message: "instance's class handle is dangling"}
	}
	method, ok := class.ClassMethods[name]
	if !ok {
		return &VmError{Kind: VmUndefinedMethod, Message: fmt.Sprintf("undefined method %q on class %q", name, class.ClassName)}
	}
	vm.stack.Push(method)
	vm.stack.Push(recv)
	return nil
}

// opNew pops the Class to instantiate, then n (value, name-as-string) pairs
// in reverse, and allocates a new frozen-class Instance from them (spec
// §4.5: "NEW n pops the class handle, then n (value, name-as-string)
// pairs"). Each pair is pushed by the code generator as value-then-name, so
// it comes off the stack as name-then-value; property names are resolved
// per call site rather than fixed on the class, exactly as
// `_examples/original_source/brane-bvm/src/vm.rs`'s `op_new` does. The
// class is frozen on first instantiation (spec §3: "a Class becomes
// immutable once it has been used to construct an Instance").
func (vm *VM) opNew(n int) error {
	classSlot, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	if classSlot.Widen().Kind != heap.SlotObject {
		return &VmError{Kind: VmClassArity, Message: "NEW target is not a class"}
	}
	class, ok := vm.Heap.AsClass(classSlot.Object)
	if !ok {
		return &VmError{Kind: VmClassArity, Message: "NEW target is not a class"}
	}

	props := make(map[string]heap.Slot, n)
	for i := 0; i < n; i++ {
		nameSlot, err := vm.stack.Pop()
		if err != nil {
			return &VmError{Kind: VmClassArity, Message: fmt.Sprintf("class %q: NEW expected %d properties, ran out after %d", class.ClassName, n, i)}
		}
		name, ok := vm.propertyName(nameSlot)
		if !ok {
			return &VmError{Kind: VmIllegalDot, Message: "NEW property name is not a string"}
		}
		value, err := vm.stack.Pop()
		if err != nil {
			return err
		}
		props[name] = value
	}
	class.Freeze()

	h, err := vm.Heap.Alloc(&heap.Object{Kind: heap.KindInstance, InstanceClass: classSlot.Object, InstanceProperties: props})
	if err != nil {
		return err
	}
	vm.stack.Push(heap.Obj(h))
	return nil
}

// propertyName resolves a Slot pushed as a NEW property name back into a
// Go string, failing if it isn't a heap string.
func (vm *VM) propertyName(s heap.Slot) (string, bool) {
	w := s.Widen()
	if w.Kind != heap.SlotObject {
		return "", false
	}
	return vm.Heap.AsString(w.Object)
}

// opClass pushes the Class object materialized from the constant pool at
// idx, sharing the same template-loading path as a class literal reached
// via CONSTANT.
func (vm *VM) opClass(chunk *bytecode.Chunk, idx int) error {
	v, err := vm.loadConstant(chunk, idx)
	if err != nil {
		return err
	}
	vm.stack.Push(v)
	return nil
}
