package raster

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/spinel/deps"
	"github.com/gogpu/spinel/memorypool"
)

func encodeFloat32(f float32) uint32 { return math.Float32bits(f) }

// fillWordSize is the byte size of one fill command (spec §3: "4 × 32-bit
// words").
const fillWordSize = 16

// tcQuadSize is the byte size of one tc-ring element (spec §3: a 4-float
// transform or clip quad).
const tcQuadSize = 16

// Transform is the row-ordered affine/projective matrix an add() call
// supplies: {sx,shx,tx,shy,sy,ty,w0,w1}. w0==w1==0 marks an affine
// transform; any other value marks it projective (spec §3).
type Transform [8]float32

// IsAffine reports whether t carries no projective terms.
func (t Transform) IsAffine() bool { return t[6] == 0 && t[7] == 0 }

// permuted returns the two GPU-facing quads {sx,shx,shy,sy} and
// {tx,ty,w0,w1}, the permutation spec §3 names explicitly.
func (t Transform) permuted() (q0, q1 [4]float32) {
	q0 = [4]float32{t[0], t[1], t[3], t[4]}
	q1 = [4]float32{t[2], t[5], t[6], t[7]}
	return
}

// Clip is a 4-float clip quad (spec §3).
type Clip [4]float32

// fillCommand is the in-memory shape of one cf-ring slot (spec §3):
// {path_handle, unused:16|cohort_id:15|transform_type:1, transform_index,
// clip_index}.
type fillCommand struct {
	pathHandle    uint32
	cohortID      uint32
	transformType uint32
	transformIdx  uint32
	clipIdx       uint32
}

func packFillWord1(transformType, cohortID uint32) uint32 {
	return (transformType & 1) | ((cohortID & 0x7fff) << 1)
}

func (c fillCommand) encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], c.pathHandle)
	binary.LittleEndian.PutUint32(dst[4:8], packFillWord1(c.transformType, c.cohortID))
	binary.LittleEndian.PutUint32(dst[8:12], c.transformIdx)
	binary.LittleEndian.PutUint32(dst[12:16], c.clipIdx)
}

func writeQuad(dst []byte, q [4]float32) {
	for i, f := range q {
		binary.LittleEndian.PutUint32(dst[i*4:i*4+4], encodeFloat32(f))
	}
}

// dispatchState is the per-dispatch lifecycle (spec §3: "Invalid →
// Recording (on acquire) → Pending (on submit) → Complete (on GPU done) →
// Invalid (on tail release)").
type dispatchState uint8

const (
	dispatchInvalid dispatchState = iota
	dispatchRecording
	dispatchPending
	dispatchComplete
)

// dispatchRecord is one in-flight submission (spec §3: "Dispatch
// record"). Exactly one is in dispatchRecording at any time; cfHead/
// tcHead/rcHead are the ring head values captured when this dispatch was
// initialized, used to compute each ring's committed span at flush and
// completion time.
type dispatchRecord struct {
	state dispatchState

	cfHead uint32
	cfSpan uint32
	tcHead uint32
	rcHead uint32
	rcSpan uint32

	delayed deps.Semaphore

	extents dispatchExtents
}

// dispatchExtents names the per-dispatch device-arena sub-ranges the
// submission action reads and writes (spec §4G's ttrks/rs-internal/
// indirect scratch, spec §6's radix-sort memory-requirements triple).
// Carved fresh out of the dispatch's arena every time it's reset.
type dispatchExtents struct {
	ttrks           memorypool.Extent
	fillScanCounts  memorypool.Extent
	sortInternal    memorypool.Extent
	sortIndirect    memorypool.Extent
	segmentIndirect memorypool.Extent
}
