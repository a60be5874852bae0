// Package styling defines Spinel's styling collaborator contract (spec
// §6): per-layer paint/blend state attached to composition layers.
// Styling encoding itself is out of scope (spec §1, Non-goals); this
// package only carries the narrow interface the composition layer needs
// to associate a style with a placed layer.
package styling

import "github.com/gogpu/spinel/compose"

// Builder attaches style state to composition layers. Group is an
// opaque device-side reference to a styling program; Spinel never
// interprets its contents, only threads the reference through.
type Builder interface {
	// Enter begins a new style group, returning an opaque Group handle.
	Enter() (Group, error)
	// Leave closes the current group.
	Leave(Group) error
	// Apply associates a style group with a composition layer.
	Apply(layer compose.LayerID, group Group) error
}

// Group is an opaque styling-program reference.
type Group uint32
