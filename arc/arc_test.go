package arc_test

import (
	"fmt"
	"hash/maphash"
	"sync"
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/elysium/arc"
	"github.com/vkngwrapper/elysium/layout"
	"github.com/vkngwrapper/elysium/memutils"
)

func TestBasicArcUsage(t *testing.T) {
	defer requireNoLeaks(t)()

	x := arc.New(7)
	require.True(t, x.IsUnique())
	require.Equal(t, 1, x.Count())
	require.Equal(t, 7, *x.Get())

	y := x.Clone()
	require.False(t, x.IsUnique())
	require.False(t, y.IsUnique())
	require.Equal(t, 2, x.Count())
	require.Equal(t, 2, y.Count())

	_, ok := arc.TryUnique(x)
	require.False(t, ok)
	require.Equal(t, 2, x.Count())
	require.True(t, arc.Equal(x, y))
	require.Equal(t, 7, x.Load())

	x.Release()
	require.True(t, y.IsUnique())
	require.Equal(t, 1, y.Count())

	box, ok := arc.TryUnique(y)
	require.True(t, ok)
	*box.Get() += 73
	require.Equal(t, 80, *box.Get())

	y = box.Shareable()
	require.True(t, y.IsUnique())
	require.Equal(t, 80, *y.Get())

	borrowed := y.Borrow()
	require.Equal(t, 80, *borrowed.Get())
	require.Equal(t, 1, borrowed.Count())
	require.Equal(t, 1, borrowed.AsArc().Count())
	require.True(t, borrowed.AsArc().IsUnique())

	z := y.Clone()
	require.Equal(t, 2, z.Count())
	require.Equal(t, 80, *z.Get())

	leaked := arc.Leak(y)
	require.Equal(t, 2, leaked.Count())

	w := leaked.AsArc().Clone()
	require.Equal(t, 3, w.Count())
	v := leaked.CloneArc()
	require.Equal(t, 4, v.Count())
	require.Equal(t, 4, z.Count())
	require.Equal(t, 4, leaked.Count())

	v.Release()
	require.Equal(t, 3, leaked.Count())
	w.Release()
	require.Equal(t, 2, leaked.Count())
	z.Release()
	require.Equal(t, 1, leaked.Count())

	unique := arc.Unique(leaked.CloneArc())
	*unique.Get() += 23
	require.Equal(t, 103, *unique.Get())
	require.Equal(t, 80, *leaked.Get())
	require.Equal(t, 1, leaked.Count())

	shared := unique.Shareable()
	require.True(t, shared.IsUnique())
	mutable := arc.MakeMut(&shared)
	*mutable += 100
	require.Equal(t, 203, *shared.Get())
	require.Equal(t, 1, arc.Compare(shared, leaked.AsArc()))
	require.Equal(t, -1, arc.Compare(leaked.AsArc(), shared))
	require.False(t, arc.Equal(shared, leaked.AsArc()))

	box, ok = arc.TryUnique(shared)
	require.True(t, ok)
	copied := box.Copy()
	*copied.Get() += 100
	require.Equal(t, 303, *copied.Get())
	require.Equal(t, 203, *box.Get())

	shared = copied.Shareable()
	notUnique := shared.Clone()
	_, ok = arc.TryUnique(notUnique)
	require.False(t, ok)
	require.Equal(t, 2, shared.Count())

	notUnique.Release()
	shared.Release()
	box.Release()

	// The leaked block still holds its reference; give it back
	leaked.AsArc().Release()
}

func TestCountScenario(t *testing.T) {
	defer requireNoLeaks(t)()

	handle := arc.New(7)
	require.Equal(t, 1, handle.Count())
	require.True(t, handle.IsUnique())

	clone := handle.Clone()
	require.Equal(t, 2, handle.Count())
	require.Equal(t, 2, clone.Count())
	require.False(t, handle.IsUnique())
	require.False(t, clone.IsUnique())

	clone.Release()
	require.Equal(t, 1, handle.Count())
	require.True(t, handle.IsUnique())

	box, ok := arc.TryUnique(handle)
	require.True(t, ok)
	*box.Get() += 73
	require.Equal(t, 80, *box.Get())

	handle = box.Shareable()
	clone = handle.Clone()
	require.Equal(t, 2, handle.Count())

	clone.Release()
	handle.Release()
}

func TestMakeMutCopiesSharedBlock(t *testing.T) {
	defer requireNoLeaks(t)()

	original := arc.New([4]int{1, 2, 3, 4})
	other := original.Clone()

	mutable := arc.MakeMut(&other)
	require.False(t, original.PtrEq(other))
	require.Equal(t, [4]int{1, 2, 3, 4}, *mutable)
	require.Equal(t, 1, original.Count())
	require.Equal(t, 1, other.Count())

	mutable[0] = 100
	require.Equal(t, [4]int{1, 2, 3, 4}, original.Load())
	require.Equal(t, [4]int{100, 2, 3, 4}, other.Load())

	// Already unique, so the block is reused
	before := other.IntoRaw()
	arc.MakeMut(&other)[1] = 200
	require.Equal(t, before, other.IntoRaw())
	require.Equal(t, [4]int{100, 200, 3, 4}, other.Load())

	original.Release()
	other.Release()
}

func TestGetMut(t *testing.T) {
	defer requireNoLeaks(t)()

	handle := arc.New(uint64(5))
	value, ok := arc.GetMut(&handle)
	require.True(t, ok)
	*value = 6

	clone := handle.Clone()
	_, ok = arc.GetMut(&handle)
	require.False(t, ok)
	require.Equal(t, uint64(6), clone.Load())

	clone.Release()
	handle.Release()
}

func TestRawRoundTrip(t *testing.T) {
	defer requireNoLeaks(t)()

	type payload struct {
		_ [0]complex128
		A uint32
		B uint16
	}

	handle := arc.New(payload{A: 10, B: 20})
	heapPtr := handle.HeapPtr()
	raw := handle.IntoRaw()

	block := layout.ForType[payload]()
	require.Equal(t, unsafe.Add(heapPtr, block.PayloadOffset), raw)
	require.Zero(t, uintptr(raw)%unsafe.Alignof(payload{}))
	require.Equal(t, uintptr(1), (*atomic.Uintptr)(heapPtr).Load())

	restored := arc.FromRaw[payload](raw)
	require.Equal(t, payload{A: 10, B: 20}, restored.Load())
	require.Equal(t, heapPtr, restored.HeapPtr())

	borrowed := arc.BorrowFromRaw[payload](raw)
	require.Equal(t, uint32(10), borrowed.Get().A)
	require.Equal(t, raw, borrowed.IntoRaw())
	require.True(t, borrowed.PtrEq(arc.BorrowFromRef(restored.Get())))

	clone := borrowed.CloneArc()
	require.Equal(t, uintptr(2), (*atomic.Uintptr)(heapPtr).Load())

	clone.Release()
	restored.Release()
}

func TestHandleSizes(t *testing.T) {
	word := unsafe.Sizeof(uintptr(0))

	require.Equal(t, word, unsafe.Sizeof(arc.Arc[int]{}))
	require.Equal(t, word, unsafe.Sizeof(arc.Box[int]{}))
	require.Equal(t, word, unsafe.Sizeof(arc.Borrow[int]{}))
	require.Equal(t, word, unsafe.Sizeof(arc.Thin[[6]byte, int]{}))
	require.Equal(t, 2*word, unsafe.Sizeof(arc.Slice[[6]byte, int]{}))
}

func TestDropRunsOnce(t *testing.T) {
	defer requireNoLeaks(t)()
	dropCount.Store(0)

	handle := arc.New(counted{Value: 1})
	clones := make([]arc.Arc[counted], 10)
	for i := range clones {
		clones[i] = handle.Clone()
	}

	for _, clone := range clones {
		clone.Release()
	}
	require.Zero(t, dropCount.Load())

	handle.Release()
	require.Equal(t, int64(1), dropCount.Load())

	box := arc.NewBox(counted{Value: 2})
	box.Release()
	require.Equal(t, int64(2), dropCount.Load())
}

func TestConcurrentCloneRelease(t *testing.T) {
	defer requireNoLeaks(t)()
	dropCount.Store(0)

	const goroutines = 8
	const iterations = 2000

	handle := arc.New(counted{Value: 42})

	var waitGroup sync.WaitGroup
	start := make(chan struct{})
	for g := 0; g < goroutines; g++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			<-start

			for i := 0; i < iterations; i++ {
				clone := handle.Clone()
				if clone.Get().Value != 42 {
					panic("payload changed while shared")
				}
				clone.Release()
			}
		}()
	}

	close(start)
	waitGroup.Wait()

	require.Equal(t, 1, handle.Count())
	require.Zero(t, dropCount.Load())

	handle.Release()
	require.Equal(t, int64(1), dropCount.Load())
}

func TestConcurrentLastReleaseDropsOnce(t *testing.T) {
	defer requireNoLeaks(t)()
	dropCount.Store(0)

	const goroutines = 16

	for round := 0; round < 50; round++ {
		handle := arc.New(counted{Value: round})
		clones := make([]arc.Arc[counted], goroutines)
		for i := range clones {
			clones[i] = handle.Clone()
		}
		handle.Release()

		var waitGroup sync.WaitGroup
		for _, clone := range clones {
			waitGroup.Add(1)
			go func(clone arc.Arc[counted]) {
				defer waitGroup.Done()
				clone.Release()
			}(clone)
		}
		waitGroup.Wait()

		require.Equal(t, int64(round+1), dropCount.Load())
	}
}

func TestRefcountOverflowIsFatal(t *testing.T) {
	defer requireNoLeaks(t)()

	handle := arc.New(1)
	counter := (*atomic.Uintptr)(handle.HeapPtr())

	counter.Store(arc.MaxRefcount)
	clone := handle.Clone()
	require.Equal(t, arc.MaxRefcount+1, counter.Load())

	requireFatal(t, memutils.RefcountOverflowError, func() {
		handle.Clone()
	})

	counter.Store(2)
	clone.Release()
	handle.Release()
}

func TestPointerPayloadIsFatal(t *testing.T) {
	defer requireNoLeaks(t)()

	requireFatal(t, layout.PointerError, func() {
		arc.New("strings hold pointers")
	})

	requireFatal(t, layout.PointerError, func() {
		arc.FromHeaderAndSlice[[]byte, int]([]byte("header"), []int{1, 2})
	})
}

func TestFormatting(t *testing.T) {
	defer requireNoLeaks(t)()

	handle := arc.New(255)
	require.Equal(t, "255", fmt.Sprintf("%v", handle))
	require.Equal(t, "ff", fmt.Sprintf("%x", handle))
	require.Equal(t, "  255", fmt.Sprintf("%5d", handle))
	require.Equal(t, fmt.Sprintf("%p", handle.Get()), fmt.Sprintf("%p", handle.Pointer()))
	require.Equal(t, unsafe.Pointer(handle.Get()), handle.Pointer())
	require.NotEqual(t, fmt.Sprintf("%p", handle.Get()), fmt.Sprintf("%p", handle))

	type point struct{ X, Y int }
	pointHandle := arc.New(point{X: 1, Y: 2})
	require.Equal(t, "{X:1 Y:2}", fmt.Sprintf("%+v", pointHandle))

	pointHandle.Release()
	handle.Release()
}

func TestEqualCompareHash(t *testing.T) {
	defer requireNoLeaks(t)()

	seed := maphash.MakeSeed()
	a := arc.New(10)
	b := arc.New(10)
	c := arc.New(20)

	require.False(t, a.PtrEq(b))
	require.True(t, arc.Equal(a, b))
	require.False(t, arc.Equal(a, c))
	require.Equal(t, arc.Hash(seed, a), arc.Hash(seed, b))
	require.Zero(t, arc.Compare(a, b))
	require.Equal(t, -1, arc.Compare(a, c))

	a.Release()
	b.Release()
	c.Release()
}

type node struct {
	Value int
	Child arc.Arc[counted]
}

func (n *node) Drop() {
	n.Child.Release()
}

func (n *node) Clone() node {
	return node{Value: n.Value, Child: n.Child.Clone()}
}

func TestNestedHandles(t *testing.T) {
	defer requireNoLeaks(t)()
	dropCount.Store(0)

	child := arc.New(counted{Value: 3})
	parent := arc.New(node{Value: 1, Child: child.Clone()})
	require.Equal(t, 2, child.Count())

	other := parent.Clone()
	copied := arc.MakeMut(&other)
	copied.Value = 2
	require.Equal(t, 3, child.Count())
	require.True(t, copied.Child.PtrEq(child))
	require.Equal(t, 1, parent.Load().Value)

	other.Release()
	require.Equal(t, 2, child.Count())
	parent.Release()
	require.Equal(t, 1, child.Count())
	require.Zero(t, dropCount.Load())

	child.Release()
	require.Equal(t, int64(1), dropCount.Load())
}

func TestDefaults(t *testing.T) {
	defer requireNoLeaks(t)()

	handle := arc.Default[[3]uint16]()
	require.Equal(t, [3]uint16{}, handle.Load())
	handle.Release()

	box := arc.DefaultBox[struct{}]()
	require.Equal(t, struct{}{}, *box.Get())
	box.Release()
}
