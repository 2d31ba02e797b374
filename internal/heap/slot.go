package heap

// SlotKind tags the variant held by a Slot.
type SlotKind int

const (
	SlotUnit SlotKind = iota
	SlotBool
	SlotInt
	SlotReal
	SlotBuiltin
	SlotObject
	// slotSmallInt is an internal representation: an inlined small integer
	// in {-2,-1,0,1,2}. It is never observable outside the stack's
	// use_const optimization — typed pops transparently widen it back to
	// SlotInt. See heap.Slot.Widen.
	slotSmallInt
)

// BuiltinCode enumerates the VM's built-in function identifiers, the
// Slot::Builtin(code) variant of spec §3.
type BuiltinCode int

const (
	BuiltinNone BuiltinCode = iota
	BuiltinServiceWaitUntilStarted
	BuiltinServiceWaitUntilDone
)

// Slot is a single typed stack cell (spec §3). Exactly one field is
// meaningful, selected by Kind; for slotSmallInt the value is carried in
// Int directly (it is only ever a representation optimization of SlotInt).
type Slot struct {
	Kind    SlotKind
	Bool    bool
	Int     int64
	Real    float64
	Builtin BuiltinCode
	Object  Handle
}

func Unit() Slot                 { return Slot{Kind: SlotUnit} }
func Bool(v bool) Slot           { return Slot{Kind: SlotBool, Bool: v} }
func Integer(v int64) Slot       { return Slot{Kind: SlotInt, Int: v} }
func RealNum(v float64) Slot     { return Slot{Kind: SlotReal, Real: v} }
func Builtin(v BuiltinCode) Slot { return Slot{Kind: SlotBuiltin, Builtin: v} }
func Obj(h Handle) Slot          { return Slot{Kind: SlotObject, Object: h} }

// smallInt returns the inlined small-integer Slot if v is in {-2,-1,0,1,2},
// used only by the stack's use_const path.
func smallInt(v int64) (Slot, bool) {
	if v >= -2 && v <= 2 {
		return Slot{Kind: slotSmallInt, Int: v}, true
	}
	return Slot{}, false
}

// InlineInteger returns the small-integer inlined representation of v when
// v is in {-2,-1,0,1,2}, and a plain Integer Slot otherwise. This is the
// only entry point a Stack's use_const path needs; every other consumer of
// a Slot sees no difference between the two representations (Widen
// normalizes both to Kind == SlotInt).
func InlineInteger(v int64) Slot {
	if small, ok := smallInt(v); ok {
		return small
	}
	return Integer(v)
}

// Widen returns s with any slotSmallInt representation normalized to
// SlotInt. This is the "typed pops transparently widen" behavior of spec
// §4.2; it is a no-op for every other Kind.
func (s Slot) Widen() Slot {
	if s.Kind == slotSmallInt {
		return Slot{Kind: SlotInt, Int: s.Int}
	}
	return s
}

// IsInt reports whether s holds an integer, inlined or not.
func (s Slot) IsInt() bool {
	return s.Kind == SlotInt || s.Kind == slotSmallInt
}

// TypeName returns the common type name used for Array element_type
// comparisons (spec §3's "Array's element_type equals the common type name
// of all contained Slots").
func (s Slot) TypeName(h *Heap) string {
	switch s.Kind {
	case SlotUnit:
		return "unit"
	case SlotBool:
		return "bool"
	case SlotInt, slotSmallInt:
		return "integer"
	case SlotReal:
		return "real"
	case SlotBuiltin:
		return "builtin"
	case SlotObject:
		if obj, err := h.Get(s.Object); err == nil {
			return obj.Kind.String()
		}
		return "object"
	default:
		return "unknown"
	}
}

// Equal implements the structural equality EQUAL opcode semantics: object
// handles compare equal iff they are the same handle (referential); across
// different Slot variants it is always false.
func (s Slot) Equal(other Slot) bool {
	a, b := s.Widen(), other.Widen()
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case SlotUnit:
		return true
	case SlotBool:
		return a.Bool == b.Bool
	case SlotInt:
		return a.Int == b.Int
	case SlotReal:
		return a.Real == b.Real
	case SlotBuiltin:
		return a.Builtin == b.Builtin
	case SlotObject:
		return a.Object == b.Object
	default:
		return false
	}
}
