package vm

import "fmt"

// StackErrorKind enumerates spec §7's StackError variants.
type StackErrorKind int

const (
	StackUnexpectedType StackErrorKind = iota
	StackEmptyStack
	StackOutOfBounds
	StackNotUsingConstOpts
	StackArrayType
	StackHeapAlloc
	StackHeapFreeze
)

// StackError is a failure originating in the value stack (spec §7,
// "StackError").
type StackError struct {
	Kind    StackErrorKind
	Message string
}

func (e *StackError) Error() string { return fmt.Sprintf("stack error: %s", e.Message) }

// VmErrorKind enumerates spec §7's per-opcode VmError variants.
type VmErrorKind int

const (
	VmNotAddable VmErrorKind = iota
	VmNotSubtractable
	VmNotMultipliable
	VmNotDivisible
	VmNotComparable
	VmNotBoolean
	VmNotNumeric
	VmIllegalIndex
	VmIllegalDot
	VmUndefinedProperty
	VmUndefinedMethod
	VmIllegalServiceMethod
	VmFunctionArity
	VmArrayArity
	VmClassArity
	VmArrayOutOfBounds
	VmDuplicateFunctionImport
	VmPackageWithoutDigest
	VmUndefinedGlobal
	VmGlobalAlreadyDefined
	VmIllegalReturn
	VmBranchCreate
	VmBranchRun
	VmBuiltinCall
	VmExternalCall
	VmUnknownPackage
	VmClientTx
	VmDanglingHandle
	VmUnknownOpcode
)

// VmError is the VM's runtime error type: one variant per failure mode
// named in spec §7, carrying enough context to reconstruct the message
// spec §8's scenarios expect (e.g. ArrayOutOfBounds{index, max}).
type VmError struct {
	Kind    VmErrorKind
	Message string
	// optional structured context, populated by the opcodes that need it
	Index int
	Max   int
	Code  int
	Stdout string
	Stderr string
}

func (e *VmError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("vm error (kind %d)", e.Kind)
}

func arrayOutOfBounds(index, max int) *VmError {
	return &VmError{
		Kind:    VmArrayOutOfBounds,
		Message: fmt.Sprintf("array index out of bounds: index %d, max %d", index, max),
		Index:   index,
		Max:     max,
	}
}

func externalCallFailed(code int, stdout, stderr string) *VmError {
	return &VmError{
		Kind:    VmExternalCall,
		Message: fmt.Sprintf("external call failed with exit code %d: %s", code, stderr),
		Code:    code,
		Stdout:  stdout,
		Stderr:  stderr,
	}
}
