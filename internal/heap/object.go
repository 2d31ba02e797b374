// Package heap owns every dynamically allocated VM object and hands out
// opaque, cheaply-cloneable Handles to them.
//
// Grounded on the teacher's treatment of heap-like values in
// pkg/vm/vm.go (Array, Instance, Block are all *struct pointers stored
// directly as interface{} stack values — referential identity by Go pointer
// equality). This repo makes that implicit "pointer is the handle" idea
// explicit and adds a real Heap type so objects can be enumerated, shared
// safely across PARALLEL's child VMs, and reported by the same DanglingHandle
// error path everywhere instead of letting a bad type assertion panic.
package heap

import (
	"sync/atomic"

	"github.com/brane-lang/brane/internal/bytecode"
)

// Handle is an opaque, cheaply cloneable reference to a heap Object.
// Equality between two Handles is referential identity, not structural:
// two Handles compare equal (==) iff they denote the same allocation.
type Handle struct {
	id  uint64
	obj *Object
}

// Valid reports whether h was ever produced by a Heap.Alloc call (the zero
// Handle is never valid).
func (h Handle) Valid() bool { return h.obj != nil }

// ObjectKind tags the variant held by an Object.
type ObjectKind int

const (
	KindString ObjectKind = iota
	KindArray
	KindClass
	KindInstance
	KindFunction
	KindFunctionExt
	KindService
)

func (k ObjectKind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindArray:
		return "Array"
	case KindClass:
		return "Class"
	case KindInstance:
		return "Instance"
	case KindFunction:
		return "Function"
	case KindFunctionExt:
		return "FunctionExt"
	case KindService:
		return "Service"
	default:
		return "Unknown"
	}
}

// ServiceState is the lifecycle state of a detached external call's Service
// handle (spec §5). It mirrors executor.ServiceState field-for-field so the
// VM can translate between them without this package importing executor.
type ServiceState int

const (
	ServicePending ServiceState = iota
	ServiceStarted
	ServiceDone
	ServiceFailed
)

// Object is the heap-tagged union described in spec §3. Exactly one of the
// typed fields is populated, selected by Kind.
type Object struct {
	Kind ObjectKind

	// KindString
	Str string

	// KindArray
	ArrayElementType string
	ArrayElements    []Slot

	// KindClass
	ClassName    string
	ClassMethods map[string]Slot // name -> Slot{Kind: SlotObject} of a KindFunction object
	frozen       atomic.Bool

	// KindInstance
	InstanceClass      Handle
	InstanceProperties map[string]Slot

	// KindFunction
	FuncName  string
	FuncArity int
	FuncChunk *bytecode.Chunk

	// KindFunctionExt
	ExtName       string
	ExtParameters []string
	ExtPackage    string
	ExtVersion    string
	ExtKind       string
	ExtDigest     string
	ExtDetached   bool

	// KindService
	ServiceIdentifier string
	ServiceAddress    string
	ServiceState      ServiceState
}

// Freeze marks a Class immutable. Per spec §3, a Class is immutable once
// frozen; freezing is idempotent.
func (o *Object) Freeze() {
	if o.Kind == KindClass {
		o.frozen.Store(true)
	}
}

// Frozen reports whether a Class has been frozen.
func (o *Object) Frozen() bool { return o.frozen.Load() }
