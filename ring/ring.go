// Package ring implements the mod-power-of-two producer/consumer accounting
// primitives used throughout Spinel (spec §3, §4A): Ring, which tracks
// acquire/release against a remaining-slot counter, and Next, a bare cursor
// used where slot availability is already guaranteed by the caller.
//
// Neither type stores the elements themselves — both hand back indices into
// a caller-owned backing array. This mirrors core/track/allocator.go's
// TrackerIndexAllocator: a dense index source, not a container.
package ring

import "fmt"

// Ring is a circular {size, head, tail, rem} accounting primitive over a
// power-of-two extent. Acquire advances head and decrements rem; release
// advances tail and increments rem.
//
// Ring does not synchronize itself — callers needing concurrent access must
// hold their own lock, matching the single-threaded-cooperative model of
// spec §5.
type Ring struct {
	size uint32 // power of two
	head uint32
	tail uint32
	rem  uint32
}

// Init resets the ring to an empty state with the given power-of-two size.
func Init(size uint32) Ring {
	if size == 0 || size&(size-1) != 0 {
		panic(fmt.Sprintf("ring: size must be a power of two, got %d", size))
	}
	return Ring{size: size, rem: size}
}

// Size returns the ring's fixed capacity.
func (r *Ring) Size() uint32 { return r.size }

// Rem returns the number of slots currently available to acquire.
func (r *Ring) Rem() uint32 { return r.rem }

// IsEmpty reports whether the ring has no acquirable slots (rem == 0).
func (r *Ring) IsEmpty() bool { return r.rem == 0 }

// IsFull reports whether every slot is available to acquire (rem == size).
func (r *Ring) IsFull() bool { return r.rem == r.size }

// Head returns the raw (unmodded) head cursor. Used by callers that need to
// compute a modded index without mutating state.
func (r *Ring) Head() uint32 { return r.head }

// Tail returns the raw (unmodded) tail cursor.
func (r *Ring) Tail() uint32 { return r.tail }

// HeadNowrap returns the largest contiguous span acquirable from the current
// head without wrapping past the end of the backing array.
func (r *Ring) HeadNowrap() uint32 {
	avail := r.size - (r.head & (r.size - 1))
	if avail > r.rem {
		return r.rem
	}
	return avail
}

// TailNowrap returns the largest contiguous span releasable from the current
// tail without wrapping past the end of the backing array. Symmetric with
// HeadNowrap (spec §4A).
func (r *Ring) TailNowrap() uint32 {
	dropped := r.size - r.rem
	avail := r.size - (r.tail & (r.size - 1))
	if avail > dropped {
		return dropped
	}
	return avail
}

// Acquire1 acquires a single slot and returns its modded index.
//
// Precondition: Rem() >= 1. Underflow is a fatal implementation bug (spec
// §4A) — Acquire1 panics rather than silently wrapping, the same contract
// core/track/allocator.go enforces implicitly by only ever popping a
// non-empty free list.
func (r *Ring) Acquire1() uint32 {
	if r.rem == 0 {
		panic("ring: acquire on empty ring")
	}
	idx := r.head & (r.size - 1)
	r.head++
	r.rem--
	return idx
}

// AcquireN acquires n contiguous-or-wrapping slots starting at the current
// head and returns the starting (modded) index. Precondition: Rem() >= n.
func (r *Ring) AcquireN(n uint32) uint32 {
	if n > r.rem {
		panic(fmt.Sprintf("ring: acquire %d exceeds rem %d", n, r.rem))
	}
	idx := r.head & (r.size - 1)
	r.head += n
	r.rem -= n
	return idx
}

// Drop1 drops a single slot from availability without handing out an index
// (used when the caller already knows the index, e.g. re-deriving from a
// dispatch record).
func (r *Ring) Drop1() {
	if r.rem == 0 {
		panic("ring: drop on empty ring")
	}
	r.head++
	r.rem--
}

// DropN drops n slots from availability. Precondition: Rem() >= n.
func (r *Ring) DropN(n uint32) {
	if n > r.rem {
		panic(fmt.Sprintf("ring: drop %d exceeds rem %d", n, r.rem))
	}
	r.head += n
	r.rem -= n
}

// ReleaseN returns n slots to availability by advancing the tail.
//
// Precondition: conservation — n must never exceed size - rem (the number
// of slots currently outstanding). Violating this is a fatal implementation
// bug; ReleaseN panics.
func (r *Ring) ReleaseN(n uint32) {
	outstanding := r.size - r.rem
	if n > outstanding {
		panic(fmt.Sprintf("ring: release %d exceeds outstanding %d", n, outstanding))
	}
	r.tail += n
	r.rem += n
}

// Next is a bare {size, head} cursor used only where slot availability is
// guaranteed externally (spec §3/§4A) — it performs no bounds accounting of
// its own.
type Next struct {
	size uint32 // power of two
	head uint32
}

// InitNext returns a Next cursor over a power-of-two extent.
func InitNext(size uint32) Next {
	if size == 0 || size&(size-1) != 0 {
		panic(fmt.Sprintf("ring: next size must be a power of two, got %d", size))
	}
	return Next{size: size}
}

// Size returns the cursor's fixed extent.
func (n *Next) Size() uint32 { return n.size }

// Head returns the raw (unmodded) head cursor.
func (n *Next) Head() uint32 { return n.head }

// Acquire1 advances the cursor by one slot and returns its modded index.
func (n *Next) Acquire1() uint32 {
	idx := n.head & (n.size - 1)
	n.head++
	return idx
}

// Acquire2 returns a starting index i such that i and i+1 are both valid,
// non-wrapping slots. If the current head leaves only one slot before
// wraparound, it skips straight to zero, wasting that one slot — this is
// exactly what forces "tc ring size = 3*ring + 1" in the raster builder
// (spec §3, §4G). The invariant i+1 < size always holds on return.
func (n *Next) Acquire2() uint32 {
	idx := n.head & (n.size - 1)
	if idx+1 >= n.size {
		// Wastes the final slot rather than splitting a quad pair across
		// the wrap boundary.
		n.head += (n.size - idx)
		idx = n.head & (n.size - 1)
	}
	n.head += 2
	return idx
}
