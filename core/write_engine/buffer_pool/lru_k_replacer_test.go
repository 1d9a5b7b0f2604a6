package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRUKReplacer_EvictOrder(t *testing.T) {
	r := NewLRUKReplacer(7, 2)

	// Frames 1-5 get one access each; 1 and 2 then accumulate a full
	// history of 2. Frames with fewer than k accesses have infinite
	// backward k-distance and must be evicted first, oldest latest access
	// first.
	for _, f := range []int{1, 2, 3, 4, 5} {
		r.RecordAccess(f)
	}
	r.RecordAccess(1)
	r.RecordAccess(1)
	r.RecordAccess(2)
	r.RecordAccess(2)

	for _, f := range []int{1, 2, 3, 4, 5} {
		r.SetEvictable(f, true)
	}
	require.Equal(t, 5, r.Size())

	expected := []int{3, 4, 5, 1, 2}
	for _, want := range expected {
		got, ok := r.Evict()
		require.True(t, ok)
		require.Equal(t, want, got)
	}

	_, ok := r.Evict()
	require.False(t, ok)
	require.Equal(t, 0, r.Size())
}

func TestLRUKReplacer_HistoryBounded(t *testing.T) {
	r := NewLRUKReplacer(4, 2)
	for i := 0; i < 10; i++ {
		r.RecordAccess(0)
	}
	require.LessOrEqual(t, len(r.history[0]), 2)

	// With a saturated history the k-distance is finite: a frame accessed
	// once afterwards still loses despite being the most recently accessed.
	r.RecordAccess(1)
	r.SetEvictable(0, true)
	r.SetEvictable(1, true)

	got, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, 1, got)
}

func TestLRUKReplacer_NonEvictableSkipped(t *testing.T) {
	r := NewLRUKReplacer(3, 2)
	r.RecordAccess(0)
	r.RecordAccess(1)
	r.SetEvictable(0, false)
	r.SetEvictable(1, true)
	require.Equal(t, 1, r.Size())

	got, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, 1, got)

	// Frame 0 is tracked but pinned; nothing remains to evict.
	_, ok = r.Evict()
	require.False(t, ok)
}

func TestLRUKReplacer_SetEvictableAccounting(t *testing.T) {
	r := NewLRUKReplacer(3, 2)
	r.RecordAccess(0)

	r.SetEvictable(0, true)
	require.Equal(t, 1, r.Size())
	r.SetEvictable(0, true)
	require.Equal(t, 1, r.Size())
	r.SetEvictable(0, false)
	require.Equal(t, 0, r.Size())
	r.SetEvictable(0, false)
	require.Equal(t, 0, r.Size())
	r.SetEvictable(0, true)
	require.Equal(t, 1, r.Size())
}

func TestLRUKReplacer_Remove(t *testing.T) {
	r := NewLRUKReplacer(3, 2)
	r.RecordAccess(0)
	r.RecordAccess(1)
	r.SetEvictable(0, true)
	r.SetEvictable(1, true)

	r.Remove(0)
	require.Equal(t, 1, r.Size())

	got, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, 1, got)

	// Removing an untracked frame is a no-op.
	r.Remove(2)
	require.Equal(t, 0, r.Size())
}

func TestLRUKReplacer_ContractViolations(t *testing.T) {
	r := NewLRUKReplacer(3, 2)

	require.Panics(t, func() { r.RecordAccess(3) })
	require.Panics(t, func() { r.RecordAccess(-1) })
	require.Panics(t, func() { r.SetEvictable(0, true) })

	r.RecordAccess(0)
	r.SetEvictable(0, false)
	require.Panics(t, func() { r.Remove(0) })

	require.Panics(t, func() { NewLRUKReplacer(0, 2) })
	require.Panics(t, func() { NewLRUKReplacer(3, 0) })
}

func TestLRUKReplacer_KOneDegeneratesToLRU(t *testing.T) {
	r := NewLRUKReplacer(4, 1)
	r.RecordAccess(0)
	r.RecordAccess(1)
	r.RecordAccess(2)
	r.RecordAccess(0) // 0 becomes most recent

	for _, f := range []int{0, 1, 2} {
		r.SetEvictable(f, true)
	}

	expected := []int{1, 2, 0}
	for _, want := range expected {
		got, ok := r.Evict()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}
