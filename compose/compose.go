// Package compose defines Spinel's composition collaborator contract
// (spec §6, §7): placement of raster handles into a layered scene.
// Composition placement itself, layer encoding, and the final
// render/blit are explicitly out of scope (spec §1); this package only
// carries the narrow interface the raster builder's output (a
// handle.Raster plus its materialization semaphore) feeds into. The
// composition error kinds are defined in package spinelerr.
package compose

import (
	"github.com/gogpu/spinel/deps"
	"github.com/gogpu/spinel/handle"
)

// Builder consumes raster handles produced by raster.Builder.End.
// Contract (spec §6): a raster handle is fully materialized only after
// the delayed semaphore associated with its producing dispatch has been
// signalled; Place depends on that transparently via the handle's
// deps.Scheduler attachment rather than blocking here.
type Builder interface {
	// Place records a raster at a layer, returning CompositionSealed if
	// the composition has already been sealed, or
	// CompositionTooManyRasters if the layer's raster capacity is
	// exhausted.
	Place(layer LayerID, raster handle.Raster, materialized deps.Semaphore) error

	// Seal freezes the composition; no further Place calls succeed.
	Seal() error
}

// LayerID identifies a composition layer. Spec §7 names LayerIdInvalid
// as a distinct error kind from InvalidHandle — layers are not handles,
// they carry no refcount or reclaim lifecycle.
type LayerID uint32
