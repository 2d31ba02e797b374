package vm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brane-lang/brane/internal/bytecode"
	"github.com/brane-lang/brane/internal/heap"
)

func newTestVM() *VM {
	return New(Config{UseConstOpt: true})
}

// TestArithmeticAndLocals covers "scenario 1": push two integers into
// locals, add them, and return the result.
func TestArithmeticAndLocals(t *testing.T) {
	b := bytecode.NewBuilder()
	c1, _ := b.AddConstant(bytecode.Int(2))
	c2, _ := b.AddConstant(bytecode.Int(3))
	b.EmitByte(bytecode.OpConstant, c1) // local 1
	b.EmitByte(bytecode.OpConstant, c2) // local 2
	b.EmitByte(bytecode.OpGetLocal, 1)
	b.EmitByte(bytecode.OpGetLocal, 2)
	b.Emit(bytecode.OpAdd)
	b.Emit(bytecode.OpReturn)

	v, err := newTestVM().Run(context.Background(), b.Chunk())
	require.NoError(t, err)
	require.Equal(t, heap.SlotInt, v.Widen().Kind)
	require.Equal(t, int64(5), v.Widen().Int)
}

// TestDivideTruncatesForTwoIntegers checks that DIVIDE on two Integer
// operands always truncates toward zero, even when the division isn't
// exact, rather than promoting to Real.
func TestDivideTruncatesForTwoIntegers(t *testing.T) {
	b := bytecode.NewBuilder()
	c1, _ := b.AddConstant(bytecode.Int(7))
	c2, _ := b.AddConstant(bytecode.Int(2))
	b.EmitByte(bytecode.OpConstant, c1)
	b.EmitByte(bytecode.OpConstant, c2)
	b.Emit(bytecode.OpDivide)
	b.Emit(bytecode.OpReturn)

	v, err := newTestVM().Run(context.Background(), b.Chunk())
	require.NoError(t, err)
	require.Equal(t, heap.SlotInt, v.Widen().Kind)
	require.Equal(t, int64(3), v.Widen().Int)
}

// TestStringConcatenation covers "scenario 2": ADD on two String objects
// concatenates rather than erroring.
func TestStringConcatenation(t *testing.T) {
	b := bytecode.NewBuilder()
	c1, _ := b.AddConstant(bytecode.Str("foo"))
	c2, _ := b.AddConstant(bytecode.Str("bar"))
	b.EmitByte(bytecode.OpConstant, c1)
	b.EmitByte(bytecode.OpConstant, c2)
	b.Emit(bytecode.OpAdd)
	b.Emit(bytecode.OpReturn)

	vm := newTestVM()
	v, err := vm.Run(context.Background(), b.Chunk())
	require.NoError(t, err)
	s, ok := vm.Heap.AsString(v.Object)
	require.True(t, ok)
	require.Equal(t, "foobar", s)
}

// TestArrayOutOfBounds covers "scenario 3": indexing past an array's length
// is a VmError::ArrayOutOfBounds carrying the offending index and the
// array's length.
func TestArrayOutOfBounds(t *testing.T) {
	b := bytecode.NewBuilder()
	c1, _ := b.AddConstant(bytecode.Int(10))
	c2, _ := b.AddConstant(bytecode.Int(20))
	c3, _ := b.AddConstant(bytecode.Int(5)) // out-of-bounds index
	b.EmitByte(bytecode.OpConstant, c1)
	b.EmitByte(bytecode.OpConstant, c2)
	b.EmitByte(bytecode.OpArray, 2)
	b.EmitByte(bytecode.OpConstant, c3)
	b.Emit(bytecode.OpIndex)
	b.Emit(bytecode.OpReturn)

	_, err := newTestVM().Run(context.Background(), b.Chunk())
	require.Error(t, err)
	var vmErr *VmError
	require.ErrorAs(t, err, &vmErr)
	require.Equal(t, VmArrayOutOfBounds, vmErr.Kind)
	require.Equal(t, 5, vmErr.Index)
	require.Equal(t, 2, vmErr.Max)
}

// TestGlobalsDefineGetSet exercises DEFINE_GLOBAL, then SET_GLOBAL, then
// GET_GLOBAL on one name and checks the overwritten value is read back.
func TestGlobalsDefineGetSet(t *testing.T) {
	b := bytecode.NewBuilder()
	nameIdx, _ := b.AddConstant(bytecode.Str("x"))
	valIdx, _ := b.AddConstant(bytecode.Int(7))
	newValIdx, _ := b.AddConstant(bytecode.Int(9))

	b.EmitByte(bytecode.OpConstant, valIdx)
	b.EmitByte(bytecode.OpDefineGlobal, nameIdx)
	b.EmitByte(bytecode.OpConstant, newValIdx)
	b.EmitByte(bytecode.OpSetGlobal, nameIdx)
	b.EmitByte(bytecode.OpGetGlobal, nameIdx)
	b.Emit(bytecode.OpReturn)

	v, err := newTestVM().Run(context.Background(), b.Chunk())
	require.NoError(t, err)
	require.Equal(t, int64(9), v.Widen().Int)
}

func TestUndefinedGlobalErrors(t *testing.T) {
	b := bytecode.NewBuilder()
	nameIdx, _ := b.AddConstant(bytecode.Str("missing"))
	b.EmitByte(bytecode.OpGetGlobal, nameIdx)
	b.Emit(bytecode.OpReturn)

	_, err := newTestVM().Run(context.Background(), b.Chunk())
	require.Error(t, err)
	var vmErr *VmError
	require.ErrorAs(t, err, &vmErr)
	require.Equal(t, VmUndefinedGlobal, vmErr.Kind)
}

// TestNestedFunctionCall builds a two-argument adder function, calls it
// from main, and checks RETURN delivers the value to the caller rather
// than halting (only the outermost RETURN halts the VM).
func TestNestedFunctionCall(t *testing.T) {
	addBuilder := bytecode.NewBuilder()
	addBuilder.EmitByte(bytecode.OpGetLocal, 1)
	addBuilder.EmitByte(bytecode.OpGetLocal, 2)
	addBuilder.Emit(bytecode.OpAdd)
	addBuilder.Emit(bytecode.OpReturn)

	main := bytecode.NewBuilder()
	fnIdx, _ := main.AddConstant(bytecode.Func(&bytecode.FunctionTemplate{Name: "add", Arity: 2, Chunk: addBuilder.Chunk()}))
	a1, _ := main.AddConstant(bytecode.Int(4))
	a2, _ := main.AddConstant(bytecode.Int(6))

	main.EmitByte(bytecode.OpConstant, fnIdx)
	main.EmitByte(bytecode.OpConstant, a1)
	main.EmitByte(bytecode.OpConstant, a2)
	main.EmitByte(bytecode.OpCall, 2)
	main.Emit(bytecode.OpReturn)

	v, err := newTestVM().Run(context.Background(), main.Chunk())
	require.NoError(t, err)
	require.Equal(t, int64(10), v.Widen().Int)
}

// TestClassInstanceRoundTrip builds a class literal with one field and one
// method, instantiates it with NEW, and reads the field back with
// GET_PROPERTY.
func TestClassInstanceRoundTrip(t *testing.T) {
	method := bytecode.NewBuilder()
	method.EmitByte(bytecode.OpGetLocal, 0)
	method.Emit(bytecode.OpReturn)

	b := bytecode.NewBuilder()
	methodIdx, _ := b.AddConstant(bytecode.Func(&bytecode.FunctionTemplate{Name: "self", Arity: 0, Chunk: method.Chunk()}))
	classIdx, _ := b.AddConstant(bytecode.Class(&bytecode.ClassTemplate{
		Name:    "Point",
		Methods: map[string]int{"self": int(methodIdx)},
	}))
	xVal, _ := b.AddConstant(bytecode.Int(3))
	propName, _ := b.AddConstant(bytecode.Str("x"))

	// NEW pops the class, then each (name, value) pair, so the value and its
	// property name are pushed first and the class reference last.
	b.EmitByte(bytecode.OpConstant, xVal)
	b.EmitByte(bytecode.OpConstant, propName)
	b.EmitByte(bytecode.OpClass, classIdx)
	b.EmitByte(bytecode.OpNew, 1)
	b.EmitByte(bytecode.OpGetProperty, propName)
	b.Emit(bytecode.OpReturn)

	v, err := newTestVM().Run(context.Background(), b.Chunk())
	require.NoError(t, err)
	require.Equal(t, int64(3), v.Widen().Int)
}

func TestMixedTypeArrayRejected(t *testing.T) {
	b := bytecode.NewBuilder()
	c1, _ := b.AddConstant(bytecode.Int(1))
	c2, _ := b.AddConstant(bytecode.Str("two"))
	b.EmitByte(bytecode.OpConstant, c1)
	b.EmitByte(bytecode.OpConstant, c2)
	b.EmitByte(bytecode.OpArray, 2)
	b.Emit(bytecode.OpReturn)

	_, err := newTestVM().Run(context.Background(), b.Chunk())
	require.Error(t, err)
	var stackErr *StackError
	require.ErrorAs(t, err, &stackErr)
	require.Equal(t, StackArrayType, stackErr.Kind)
}

func TestParallelCollectsResultsInOrder(t *testing.T) {
	mkBranch := func(v int64) *bytecode.Chunk {
		bb := bytecode.NewBuilder()
		idx, _ := bb.AddConstant(bytecode.Int(v))
		bb.EmitByte(bytecode.OpConstant, idx)
		bb.Emit(bytecode.OpReturn)
		return bb.Chunk()
	}

	main := bytecode.NewBuilder()
	f1, _ := main.AddConstant(bytecode.Func(&bytecode.FunctionTemplate{Name: "a", Arity: 0, Chunk: mkBranch(1)}))
	f2, _ := main.AddConstant(bytecode.Func(&bytecode.FunctionTemplate{Name: "b", Arity: 0, Chunk: mkBranch(2)}))

	main.EmitByte(bytecode.OpConstant, f1)
	main.EmitByte(bytecode.OpConstant, f2)
	main.EmitByte(bytecode.OpParallel, 2)
	main.Emit(bytecode.OpReturn)

	vm := newTestVM()
	v, err := vm.Run(context.Background(), main.Chunk())
	require.NoError(t, err)
	arr, ok := vm.Heap.AsArray(v.Object)
	require.True(t, ok)
	require.Len(t, arr.ArrayElements, 2)
	require.Equal(t, int64(1), arr.ArrayElements[0].Widen().Int)
	require.Equal(t, int64(2), arr.ArrayElements[1].Widen().Int)
}
