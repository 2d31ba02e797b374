package vm

import "github.com/brane-lang/brane/internal/heap"

// Frame is a call record: the function being executed, its instruction
// pointer, and the stack offset at which its locals begin (spec §4.3;
// local 0 is always the called function's own Slot::Object(Function)).
type Frame struct {
	Function heap.Handle
	IP       int
	Offset   int
}

// readU8 reads the next operand byte from the frame's chunk and advances
// IP past it. ok is false when the frame has run off the end of its code,
// which is the normal termination signal for the frame (spec §4.3), not a
// programming error.
func (f *Frame) readU8(code []byte) (byte, bool) {
	if f.IP >= len(code) {
		return 0, false
	}
	b := code[f.IP]
	f.IP++
	return b, true
}

func (f *Frame) readU16(code []byte) (uint16, bool) {
	if f.IP+1 >= len(code) {
		return 0, false
	}
	v := uint16(code[f.IP])<<8 | uint16(code[f.IP+1])
	f.IP += 2
	return v, true
}
