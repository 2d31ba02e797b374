package bytecode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilderEmitAndConstant(t *testing.T) {
	b := NewBuilder()
	idx, err := b.AddConstant(Int(42))
	require.NoError(t, err)
	b.EmitByte(OpConstant, idx)
	b.Emit(OpReturn)

	chunk := b.Chunk()
	require.Equal(t, []byte{byte(OpConstant), 0, byte(OpReturn)}, chunk.Code)

	c, err := chunk.Constant(0)
	require.NoError(t, err)
	require.Equal(t, ConstInt, c.Kind)
	require.Equal(t, int64(42), c.Int)
}

func TestBuilderJumpPatch(t *testing.T) {
	b := NewBuilder()
	b.Emit(OpTrue)
	jumpPos := b.EmitJump(OpJumpIfFalse)
	b.Emit(OpUnit)
	b.PatchJump(jumpPos)
	b.Emit(OpReturn)

	chunk := b.Chunk()
	offset, ok := chunk.ReadU16(jumpPos)
	require.True(t, ok)
	// jump target is the position right after the placeholder (2 bytes) plus
	// the one OP_UNIT byte emitted in between.
	require.Equal(t, uint16(1), offset)
}

func TestBuilderLoopBack(t *testing.T) {
	b := NewBuilder()
	loopStart := b.Len()
	b.Emit(OpTrue)
	b.EmitLoop(loopStart)

	chunk := b.Chunk()
	require.Equal(t, byte(OpJumpBack), chunk.Code[1])
}

func TestConstantPoolOverflow(t *testing.T) {
	b := NewBuilder()
	for i := 0; i < 256; i++ {
		_, err := b.AddConstant(Int(int64(i)))
		require.NoError(t, err)
	}
	_, err := b.AddConstant(Int(256))
	require.Error(t, err)
}

func TestDisassembleFaithful(t *testing.T) {
	b := NewBuilder()
	idx, _ := b.AddConstant(Str("hello"))
	b.EmitByte(OpConstant, idx)
	b.Emit(OpPop)
	b.Emit(OpReturn)
	chunk := b.Chunk()

	out := Disassemble(chunk, "test")
	require.Contains(t, out, "CONSTANT")
	require.Contains(t, out, `"hello"`)
	require.Contains(t, out, "RETURN")

	// disassembling twice is idempotent
	require.Equal(t, out, Disassemble(chunk, "test"))
}
