// Package pathbuilder defines Spinel's path-builder collaborator
// contract (spec §4E/§6): it is a narrow interface, not an
// implementation — path materialization (the tessellation and upload of
// Bezier segments into device memory) is explicitly out of scope (spec
// §1). The raster builder only needs to know that a path handle's
// device-side data becomes valid once a delayed semaphore is signalled.
package pathbuilder

import (
	"github.com/gogpu/spinel/deps"
	"github.com/gogpu/spinel/handle"
)

// Builder produces path handles whose materialization is gated by a
// delayed semaphore attached to each handle (spec §6: "Path builder:
// produces path handles whose materialization is gated by a delayed
// semaphore attached to each handle"). raster.Builder.Add references
// these handles and its submission action waits on their attached
// semaphores before the device reads path data.
type Builder interface {
	// Begin starts a new path. No handle exists for it until End
	// returns one.
	Begin() error

	// End finalizes the in-progress path, returning its handle and the
	// delayed semaphore gating its materialization. The caller (raster
	// builder) attaches this semaphore to the handle via
	// deps.Scheduler.DelayedAttach before referencing it in Add.
	End() (handle.Path, deps.Semaphore, error)
}
