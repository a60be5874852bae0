// Package render defines Spinel's final render/blit collaborator
// contract (spec §6, §1 Non-goals: "final render/blit" is out of scope).
// It exists only so compose and styling have somewhere to hand off a
// sealed composition; Spinel never implements the target-specific blit.
package render

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/gogpu/spinel/compose"
)

// Target consumes a sealed composition and blits it to a device image.
// Spinel supplies no implementation — the embedding application's
// render target (swapchain image, offscreen surface, …) owns this.
type Target interface {
	// Render blits the sealed composition into dst, returning the
	// semaphore that will be signalled when the blit completes.
	Render(c compose.Builder, dst vk.Image) (vk.Semaphore, error)
}
