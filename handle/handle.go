// Package handle implements Spinel's refcounted path/raster handle pool
// (spec §3, §4C): a free-slot ring populated with [0, H), a parallel
// packed host/device refcount array, and two batched, shader-driven
// reclaim rings (one for paths, one for rasters).
//
// Grounded on core/id.go's packed index+epoch RawID representation and
// core/identity.go's IdentityManager free-list/epoch-bump allocator,
// generalized from a single epoch counter per index to two independent
// 16-bit refcount halves (host, device) that must both reach zero before
// an index is reclaimable.
package handle

import "fmt"

// Handle is a 32-bit identifier. Valid range is [0, H) where H is the pool
// size (spec §3).
type Handle uint32

// Path is a tagged newtype over Handle. Path and Raster share a wire
// representation but their accessors never mix: there is no conversion
// between them other than through Handle(), matching spec §3's "wire
// representations identical; accessors never mix."
type Path struct{ h Handle }

// Raster is a tagged newtype over Handle.
type Raster struct{ h Handle }

// NewPath wraps a raw Handle as a Path.
func NewPath(h Handle) Path { return Path{h: h} }

// NewRaster wraps a raw Handle as a Raster.
func NewRaster(h Handle) Raster { return Raster{h: h} }

// Handle returns the underlying raw handle.
func (p Path) Handle() Handle { return p.h }

// Handle returns the underlying raw handle.
func (r Raster) Handle() Handle { return r.h }

func (p Path) String() string   { return fmt.Sprintf("Path(%d)", p.h) }
func (r Raster) String() string { return fmt.Sprintf("Raster(%d)", r.h) }

// refcountMax is the exclusive upper bound of each 16-bit refcount half
// (spec §3: "host half ∈ [0, 2¹⁶)").
const refcountMax = 1 << 16

// refcount packs independent host and device halves into one uint32, the
// way core/id.go packs index+epoch into one RawID.
type refcount uint32

func packRefcount(host, device uint16) refcount {
	return refcount(host) | refcount(device)<<16
}

func (r refcount) host() uint16   { return uint16(r) }
func (r refcount) device() uint16 { return uint16(r >> 16) }

func (r refcount) isLive() bool { return r.host() != 0 || r.device() != 0 }
func (r refcount) isDead() bool { return !r.isLive() }
