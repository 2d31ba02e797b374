package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble renders every instruction in c as "NNNN OP_NAME [args]",
// one per line, mirroring the teacher's disassembly convention of a
// zero-padded offset followed by the opcode mnemonic and any operands.
//
// Disassembly must be idempotent: re-disassembling the text form is not
// meaningful (there is no reassembler for the text form), but disassembling
// the same Chunk twice always produces byte-identical output.
func Disassemble(c *Chunk, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "== %s ==\n", name)
	for ip := 0; ip < len(c.Code); {
		ip = disassembleInstruction(&b, c, ip)
	}
	return b.String()
}

func disassembleInstruction(b *strings.Builder, c *Chunk, ip int) int {
	op := Opcode(c.Code[ip])
	fmt.Fprintf(b, "%04d %s", ip, op)

	width := op.operandWidth()
	switch width {
	case 0:
		b.WriteByte('\n')
		return ip + 1
	case 1:
		operand := c.Code[ip+1]
		fmt.Fprintf(b, " %d", operand)
		annotateConstant(b, c, op, int(operand))
		b.WriteByte('\n')
		return ip + 2
	case 2:
		offset := uint16(c.Code[ip+1])<<8 | uint16(c.Code[ip+2])
		fmt.Fprintf(b, " %d", offset)
		b.WriteByte('\n')
		return ip + 3
	default:
		b.WriteByte('\n')
		return ip + 1
	}
}

// annotateConstant appends " (<value>)" for opcodes whose operand indexes
// the constant pool, so the disassembly is readable without cross
// referencing the pool by hand.
func annotateConstant(b *strings.Builder, c *Chunk, op Opcode, idx int) {
	switch op {
	case OpConstant, OpClass, OpDefineGlobal, OpGetGlobal, OpSetGlobal,
		OpDot, OpGetProperty, OpImport, OpGetMethod:
		if idx < 0 || idx >= len(c.Constants) {
			b.WriteString(" <out-of-bounds>")
			return
		}
		k := c.Constants[idx]
		switch k.Kind {
		case ConstInt:
			fmt.Fprintf(b, " (%d)", k.Int)
		case ConstReal:
			fmt.Fprintf(b, " (%g)", k.Real)
		case ConstString:
			fmt.Fprintf(b, " (%q)", k.Str)
		case ConstFunction:
			fmt.Fprintf(b, " (fn %s/%d)", k.Function.Name, k.Function.Arity)
		case ConstClass:
			fmt.Fprintf(b, " (class %s)", k.Class.Name)
		}
	}
}
