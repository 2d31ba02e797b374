package heap

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// HeapError is the BytecodeError::HeapAllocateError / StackError::HeapAlloc
// family from spec §7.
type HeapError struct {
	Op      string
	Message string
}

func (e *HeapError) Error() string { return fmt.Sprintf("heap: %s: %s", e.Op, e.Message) }

// ErrDanglingHandle is returned by Get when a Handle does not resolve in
// the current heap. Spec §3 calls this a fatal VM error: callers are
// expected to surface it, not recover from it.
type ErrDanglingHandle struct{}

func (ErrDanglingHandle) Error() string { return "heap: dangling handle" }

// Heap owns every Object allocated during a VM's (and its PARALLEL
// children's) lifetime. It is safe for concurrent use: PARALLEL clones heap
// access into each child VM, and allocation/lookup must work correctly from
// many goroutines at once.
//
// This implementation satisfies the spec's reclamation contract ("the VM
// makes no guarantees about collection timing") with the simplest option it
// allows: objects are never freed during a single top-level VM invocation.
// A VM (and its transitively spawned PARALLEL children) run for the
// duration of one `main` call and are then discarded wholesale, which is
// exactly the lifetime spec §7 already scopes failures to ("failures are
// fatal to the current VM invocation... should not be reused").
type Heap struct {
	mu      sync.RWMutex
	objects map[uint64]*Object
	nextID  atomic.Uint64
}

// New returns an empty Heap.
func New() *Heap {
	return &Heap{objects: make(map[uint64]*Object)}
}

// Alloc stores obj and returns a Handle denoting it.
func (h *Heap) Alloc(obj *Object) (Handle, error) {
	if obj == nil {
		return Handle{}, &HeapError{Op: "alloc", Message: "nil object"}
	}
	id := h.nextID.Add(1)
	h.mu.Lock()
	h.objects[id] = obj
	h.mu.Unlock()
	return Handle{id: id, obj: obj}, nil
}

// Get resolves a Handle to its Object. Per spec §3, a Slot::Object(h) for
// which h is not resolvable is a fatal VM error.
func (h *Heap) Get(handle Handle) (*Object, error) {
	if !handle.Valid() {
		return nil, ErrDanglingHandle{}
	}
	h.mu.RLock()
	obj, ok := h.objects[handle.id]
	h.mu.RUnlock()
	if !ok {
		return nil, ErrDanglingHandle{}
	}
	return obj, nil
}

// AllocString allocates a new immutable String object.
func (h *Heap) AllocString(s string) (Handle, error) {
	return h.Alloc(&Object{Kind: KindString, Str: s})
}

// AsString returns the string payload of the object at handle, or ok=false
// if it is not a String.
func (h *Heap) AsString(handle Handle) (string, bool) {
	obj, err := h.Get(handle)
	if err != nil || obj.Kind != KindString {
		return "", false
	}
	return obj.Str, true
}

// AsArray returns the object at handle if it is a KindArray object.
func (h *Heap) AsArray(handle Handle) (*Object, bool) {
	obj, err := h.Get(handle)
	if err != nil || obj.Kind != KindArray {
		return nil, false
	}
	return obj, true
}

// AsClass returns the object at handle if it is a KindClass object.
func (h *Heap) AsClass(handle Handle) (*Object, bool) {
	obj, err := h.Get(handle)
	if err != nil || obj.Kind != KindClass {
		return nil, false
	}
	return obj, true
}

// AsInstance returns the object at handle if it is a KindInstance object.
func (h *Heap) AsInstance(handle Handle) (*Object, bool) {
	obj, err := h.Get(handle)
	if err != nil || obj.Kind != KindInstance {
		return nil, false
	}
	return obj, true
}

// AsFunction returns the object at handle if it is a KindFunction object.
func (h *Heap) AsFunction(handle Handle) (*Object, bool) {
	obj, err := h.Get(handle)
	if err != nil || obj.Kind != KindFunction {
		return nil, false
	}
	return obj, true
}

// AsFunctionExt returns the object at handle if it is a KindFunctionExt object.
func (h *Heap) AsFunctionExt(handle Handle) (*Object, bool) {
	obj, err := h.Get(handle)
	if err != nil || obj.Kind != KindFunctionExt {
		return nil, false
	}
	return obj, true
}

// AsService returns the object at handle if it is a KindService object.
func (h *Heap) AsService(handle Handle) (*Object, bool) {
	obj, err := h.Get(handle)
	if err != nil || obj.Kind != KindService {
		return nil, false
	}
	return obj, true
}
