// Package weakref implements epoch-stamped index interning with bulk
// invalidation (spec §3, §4B). A Weakref lets a raster-builder Add call
// skip re-writing an identical transform or clip within a single cohort:
// it is valid exactly as long as its stamped epoch matches the builder's
// current epoch, and a single Increment invalidates every outstanding
// weakref at once.
//
// This generalizes core/identity.go's IdentityManager, which stamps an
// epoch on an *index* at free-time to invalidate stale IDs; here the epoch
// is compared against a single monotonic counter owned by the caller
// (the raster builder) instead of being bumped per-slot.
package weakref

// Epoch is the monotonically increasing generation counter. 64-bit per
// spec §9's suggestion to avoid wraparound over pathological builder
// lifetimes (a 32-bit counter bumped once per flush could, in principle,
// wrap during an extremely long-running process).
type Epoch uint64

// Weakref is {epoch, index}: valid iff its epoch equals the current
// builder epoch.
type Weakref struct {
	epoch Epoch
	index uint32
}

// Counter owns the monotonic epoch value compared against every Weakref.
// The raster builder embeds one Counter and bumps it on every flush.
type Counter struct {
	epoch Epoch
}

// NewCounter returns a Counter starting at epoch 1, so that the zero value
// of Weakref (epoch 0) is never accidentally valid.
func NewCounter() Counter {
	return Counter{epoch: 1}
}

// Current returns the counter's current epoch.
func (c *Counter) Current() Epoch { return c.epoch }

// Increment bumps the epoch, invalidating every weakref stamped with the
// previous value. Spec §8: "for all flushes, the epoch counter strictly
// increases."
func (c *Counter) Increment() {
	c.epoch++
}

// Init stamps wr with the counter's current epoch and the given index,
// making it valid until the next Increment.
func (c *Counter) Init(wr *Weakref, index uint32) {
	wr.epoch = c.epoch
	wr.index = index
}

// GetIndex reports whether wr is still valid (its epoch equals the
// counter's current epoch) and, if so, returns its interned index. If wr
// is stale, ok is false and the caller must mint a new index and call
// Init to refresh it.
func (c *Counter) GetIndex(wr *Weakref) (index uint32, ok bool) {
	if wr.epoch != c.epoch {
		return 0, false
	}
	return wr.index, true
}

// IsValid reports whether wr matches the counter's current epoch, without
// returning the index. Equivalent to the boolean half of GetIndex.
func (c *Counter) IsValid(wr *Weakref) bool {
	return wr.epoch == c.epoch
}
