package raster

import vk "github.com/vulkan-go/vulkan"

// primitiveTypeCount is the number of rasterize pipelines the submission
// action binds in turn (spec §4G step 10): proj_line, proj_quad,
// proj_cubic, line, quad, cubic, rat_quad, rat_cubic.
const primitiveTypeCount = 8

// Pipelines names every compute pipeline the submission action records
// (spec §4G, §1: "the GPU shaders themselves" are out of scope — the
// builder only ever references precompiled pipeline handles supplied by
// the embedding application, the same way gpu.Recorder only ever binds a
// pipeline it's handed).
type Pipelines struct {
	FillScan     vk.Pipeline
	FillDispatch vk.Pipeline
	FillExpand   vk.Pipeline
	Layout       vk.PipelineLayout

	// Rasterize holds one pipeline per primitive type, in the order spec
	// §4G step 10 lists them: proj_line, proj_quad, proj_cubic, line,
	// quad, cubic, rat_quad, rat_cubic.
	Rasterize [primitiveTypeCount]vk.Pipeline

	TTRKSegment   vk.Pipeline
	RastersAlloc  vk.Pipeline
	RastersPrefix vk.Pipeline
}
