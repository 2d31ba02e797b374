package vm

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brane-lang/brane/internal/bytecode"
	"github.com/brane-lang/brane/internal/executor"
	"github.com/brane-lang/brane/internal/heap"
	"github.com/brane-lang/brane/internal/packages"
)

// maxFrames bounds call depth; a bytecode program that recurses past this
// is treated the same as a stack overflow in the teacher's pkg/vm/vm.go.
const maxFrames = 512

// Config are the knobs a VM is constructed with. Everything here has a
// spec-mandated default; callers only need to override what their embedding
// cares about (tests mostly set Executor and Packages).
type Config struct {
	// UseConstOpt enables small-integer stack inlining (spec §3, §4.2).
	UseConstOpt bool
	// GlobalReturnHalts makes a RETURN from the outermost frame stop the VM
	// instead of underflowing the call stack (spec §4.5's "RETURN" note:
	// returning from main halts the program rather than erroring). New and
	// newChild always set it to true, whatever the caller passed.
	GlobalReturnHalts bool
	Executor          executor.Executor
	Packages          packages.Index
	Log               *logrus.Logger
}

// VM is one bytecode virtual machine instance: a value stack, a call-frame
// stack, a shared heap, and the global bindings DEFINE_GLOBAL installs.
//
// Grounded on the teacher's Vm struct in pkg/vm/vm.go (stack + frames +
// globals + a pointer to the owning Interpreter for builtin dispatch); this
// repo replaces the Interpreter pointer with the narrower executor.Executor
// and packages.Index seams so a VM never has to know whether a call lands
// in a local container or a remote job queue.
type VM struct {
	cfg Config

	Heap    *heap.Heap
	stack   *Stack
	frames  []Frame
	globals map[string]heap.Slot
	locs    []heap.Slot // LOC_PUSH/LOC_POP/LOC call-location stack (spec §4.5)

	halted     bool
	returnVal  heap.Slot
}

// New constructs a VM with its own empty heap, ready to run one chunk as
// its "main" function via Run.
func New(cfg Config) *VM {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	cfg.GlobalReturnHalts = true
	return &VM{
		cfg:     cfg,
		Heap:    heap.New(),
		stack:   NewStack(cfg.UseConstOpt),
		globals: make(map[string]heap.Slot),
	}
}

// newChild builds a VM that shares its parent's heap and package index but
// starts with fresh stack/frames/globals state, for PARALLEL's child VMs
// (spec §4.5: "the heap is shared; everything else is not").
func (vm *VM) newChild(globals map[string]heap.Slot) *VM {
	childCfg := vm.cfg
	childCfg.GlobalReturnHalts = true
	child := &VM{
		cfg:     childCfg,
		Heap:    vm.Heap,
		stack:   NewStack(vm.cfg.UseConstOpt),
		globals: make(map[string]heap.Slot, len(globals)),
	}
	for k, v := range globals {
		child.globals[k] = v
	}
	return child
}

// cloneGlobals returns a shallow copy of the VM's current globals, the
// snapshot PARALLEL hands to each child (spec §4.5).
func (vm *VM) cloneGlobals() map[string]heap.Slot {
	out := make(map[string]heap.Slot, len(vm.globals))
	for k, v := range vm.globals {
		out[k] = v
	}
	return out
}

// Run executes chunk as the VM's main function to completion and returns
// the value left on the stack when the outermost frame returns (spec §4.1,
// §4.5). The chunk is wrapped in a synthetic Function object so CALL's
// "local 0 is the active function" invariant holds even for main.
func (vm *VM) Run(ctx context.Context, chunk *bytecode.Chunk) (heap.Slot, error) {
	mainFn := &heap.Object{Kind: heap.KindFunction, FuncName: "main", FuncArity: 0, FuncChunk: chunk}
	handle, err := vm.Heap.Alloc(mainFn)
	if err != nil {
		return heap.Slot{}, err
	}
	vm.stack.Push(heap.Obj(handle))
	vm.frames = []Frame{{Function: handle, IP: 0, Offset: 0}}
	vm.halted = false

	if err := vm.dispatch(ctx); err != nil {
		return heap.Slot{}, err
	}
	return vm.returnVal, nil
}

// currentFrame returns the frame on top of the call stack.
func (vm *VM) currentFrame() *Frame { return &vm.frames[len(vm.frames)-1] }

// currentChunk returns the chunk the current frame is executing.
func (vm *VM) currentChunk() (*bytecode.Chunk, error) {
	fn, ok := vm.Heap.AsFunction(vm.currentFrame().Function)
	if !ok {
		return nil, &VmError{Kind: VmDanglingHandle, Message: "current frame's function handle is dangling"}
	}
	return fn.FuncChunk, nil
}

// dispatch is the fetch/decode/execute loop (spec §4.5). It runs until the
// VM halts (outermost RETURN when GlobalReturnHalts is set) or a frame runs
// off the end of its chunk with no enclosing frame to return to.
func (vm *VM) dispatch(ctx context.Context) error {
	for !vm.halted {
		chunk, err := vm.currentChunk()
		if err != nil {
			return err
		}
		frame := vm.currentFrame()

		opByte, ok := frame.readU8(chunk.Code)
		if !ok {
			// Ran off the end of the chunk without an explicit RETURN.
			// Treated as an implicit return of Unit from this frame.
			if err := vm.doReturn(heap.Unit()); err != nil {
				return err
			}
			continue
		}
		op := bytecode.Opcode(opByte)

		if err := vm.step(ctx, op, chunk, frame); err != nil {
			return err
		}
	}
	return nil
}

// step executes a single decoded opcode.
func (vm *VM) step(ctx context.Context, op bytecode.Opcode, chunk *bytecode.Chunk, frame *Frame) error {
	switch op {
	case bytecode.OpConstant:
		return vm.opConstant(chunk, frame)
	case bytecode.OpTrue:
		vm.stack.Push(heap.Bool(true))
	case bytecode.OpFalse:
		vm.stack.Push(heap.Bool(false))
	case bytecode.OpUnit:
		vm.stack.Push(heap.Unit())
	case bytecode.OpPop:
		_, err := vm.stack.Pop()
		return err
	case bytecode.OpPopN:
		n, ok := frame.readU8(chunk.Code)
		if !ok {
			return vm.truncatedOperand(op)
		}
		vm.stack.PopN(int(n))
		return nil

	case bytecode.OpAdd:
		return vm.opAdd()
	case bytecode.OpSubtract:
		return vm.opArith(op, "-")
	case bytecode.OpMultiply:
		return vm.opArith(op, "*")
	case bytecode.OpDivide:
		return vm.opArith(op, "/")
	case bytecode.OpNegate:
		return vm.opNegate()
	case bytecode.OpAnd:
		return vm.opBoolBinary(func(a, b bool) bool { return a && b })
	case bytecode.OpOr:
		return vm.opBoolBinary(func(a, b bool) bool { return a || b })
	case bytecode.OpNot:
		return vm.opNot()
	case bytecode.OpEqual:
		return vm.opEqual()
	case bytecode.OpLess:
		return vm.opCompare(op)
	case bytecode.OpGreater:
		return vm.opCompare(op)

	case bytecode.OpGetLocal:
		l, ok := frame.readU8(chunk.Code)
		if !ok {
			return vm.truncatedOperand(op)
		}
		return vm.stack.CopyPush(frame.Offset + int(l))
	case bytecode.OpSetLocal:
		l, ok := frame.readU8(chunk.Code)
		if !ok {
			return vm.truncatedOperand(op)
		}
		return vm.stack.CopyPop(frame.Offset + int(l))

	case bytecode.OpDefineGlobal:
		return vm.opDefineGlobal(chunk, frame)
	case bytecode.OpGetGlobal:
		return vm.opGetGlobal(chunk, frame)
	case bytecode.OpSetGlobal:
		return vm.opSetGlobal(chunk, frame)

	case bytecode.OpJump:
		j, ok := frame.readU16(chunk.Code)
		if !ok {
			return vm.truncatedOperand(op)
		}
		frame.IP += int(j)
	case bytecode.OpJumpBack:
		j, ok := frame.readU16(chunk.Code)
		if !ok {
			return vm.truncatedOperand(op)
		}
		frame.IP -= int(j)
	case bytecode.OpJumpIfFalse:
		j, ok := frame.readU16(chunk.Code)
		if !ok {
			return vm.truncatedOperand(op)
		}
		cond, err := vm.stack.PeekBoolean()
		if err != nil {
			return err
		}
		if !cond {
			frame.IP += int(j)
		}

	case bytecode.OpArray:
		n, ok := frame.readU8(chunk.Code)
		if !ok {
			return vm.truncatedOperand(op)
		}
		return vm.opArray(int(n))
	case bytecode.OpIndex:
		return vm.opIndex()
	case bytecode.OpDot:
		c, ok := frame.readU8(chunk.Code)
		if !ok {
			return vm.truncatedOperand(op)
		}
		return vm.opDot(chunk, int(c))
	case bytecode.OpGetProperty:
		c, ok := frame.readU8(chunk.Code)
		if !ok {
			return vm.truncatedOperand(op)
		}
		return vm.opGetProperty(chunk, int(c))
	case bytecode.OpGetMethod:
		c, ok := frame.readU8(chunk.Code)
		if !ok {
			return vm.truncatedOperand(op)
		}
		return vm.opGetMethod(ctx, chunk, int(c))
	case bytecode.OpNew:
		n, ok := frame.readU8(chunk.Code)
		if !ok {
			return vm.truncatedOperand(op)
		}
		return vm.opNew(int(n))
	case bytecode.OpClass:
		c, ok := frame.readU8(chunk.Code)
		if !ok {
			return vm.truncatedOperand(op)
		}
		return vm.opClass(chunk, int(c))
	case bytecode.OpImport:
		c, ok := frame.readU8(chunk.Code)
		if !ok {
			return vm.truncatedOperand(op)
		}
		return vm.opImport(ctx, chunk, int(c))

	case bytecode.OpCall:
		n, ok := frame.readU8(chunk.Code)
		if !ok {
			return vm.truncatedOperand(op)
		}
		return vm.opCall(ctx, int(n))
	case bytecode.OpReturn:
		v, err := vm.stack.Pop()
		if err != nil {
			return err
		}
		return vm.doReturn(v)

	case bytecode.OpLocPush:
		v, err := vm.stack.Pop()
		if err != nil {
			return err
		}
		vm.locs = append(vm.locs, v)
	case bytecode.OpLocPop:
		if len(vm.locs) == 0 {
			return &StackError{Kind: StackEmptyStack, Message: "LOC_POP with empty location stack"}
		}
		vm.locs = vm.locs[:len(vm.locs)-1]
	case bytecode.OpLoc:
		if len(vm.locs) == 0 {
			vm.stack.Push(heap.Unit())
		} else {
			vm.stack.Push(vm.locs[len(vm.locs)-1])
		}

	case bytecode.OpParallel:
		n, ok := frame.readU8(chunk.Code)
		if !ok {
			return vm.truncatedOperand(op)
		}
		return vm.opParallel(ctx, int(n))

	default:
		return &VmError{Kind: VmUnknownOpcode, Message: fmt.Sprintf("unknown opcode 0x%02X", byte(op))}
	}
	return nil
}

func (vm *VM) truncatedOperand(op bytecode.Opcode) error {
	return &VmError{Kind: VmUnknownOpcode, Message: fmt.Sprintf("truncated operand for %s", op)}
}

// doReturn pops the current frame, delivers v to the caller (by pushing it
// onto the stack beneath which the callee's locals lived), and halts the VM
// if this was the outermost frame and GlobalReturnHalts is set (spec §4.5).
func (vm *VM) doReturn(v heap.Slot) error {
	frame := vm.currentFrame()
	vm.stack.ClearFrom(frame.Offset)
	vm.frames = vm.frames[:len(vm.frames)-1]

	if len(vm.frames) == 0 {
		if !vm.cfg.GlobalReturnHalts {
			return &VmError{Kind: VmIllegalReturn, Message: "RETURN from outermost frame with global_return_halts disabled"}
		}
		vm.returnVal = v
		vm.halted = true
		return nil
	}
	vm.stack.Push(v)
	return nil
}
