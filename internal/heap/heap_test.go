package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocAndGet(t *testing.T) {
	h := New()
	handle, err := h.AllocString("hello")
	require.NoError(t, err)

	s, ok := h.AsString(handle)
	require.True(t, ok)
	require.Equal(t, "hello", s)
}

func TestDanglingHandle(t *testing.T) {
	h := New()
	var zero Handle
	_, err := h.Get(zero)
	require.ErrorIs(t, err, ErrDanglingHandle{})
}

func TestHandleEqualityIsReferential(t *testing.T) {
	h := New()
	a, err := h.AllocString("same text")
	require.NoError(t, err)
	b, err := h.AllocString("same text")
	require.NoError(t, err)

	require.NotEqual(t, a, b, "two distinct allocations must not compare equal even with identical contents")
	require.Equal(t, a, a)
}

func TestSlotEqualAcrossVariantsIsFalse(t *testing.T) {
	require.False(t, Integer(1).Equal(Bool(true)))
	require.False(t, Unit().Equal(Integer(0)))
	require.True(t, Integer(5).Equal(Integer(5)))
}

func TestSmallIntWiden(t *testing.T) {
	small, ok := smallInt(-2)
	require.True(t, ok)
	require.Equal(t, slotSmallInt, small.Kind)

	widened := small.Widen()
	require.Equal(t, SlotInt, widened.Kind)
	require.Equal(t, int64(-2), widened.Int)
	require.True(t, small.Equal(widened), "widening must not change equality")
}

func TestClassFreezeIsIdempotent(t *testing.T) {
	obj := &Object{Kind: KindClass, ClassName: "Service"}
	require.False(t, obj.Frozen())
	obj.Freeze()
	obj.Freeze()
	require.True(t, obj.Frozen())
}
