// Package sort defines Spinel's external radix-sort collaborator
// contract (spec §6): the builder only holds a precomputed
// memory-requirements triple and records an indirect-sort command; the
// actual GPU radix sort is an out-of-scope library (spec §1: "the
// radix-sort external library").
//
// For host-side conformance testing of TTRK ordering (never the device
// hot path), this package wraps github.com/ajroetker/go-highway's own
// radix sort as a double: the same keyspace, run on the CPU, should
// produce the same order as the GPU sort the real library performs.
package sort

import (
	hwysort "github.com/ajroetker/go-highway/hwy/contrib/sort"
)

// MemoryRequirements is the precomputed triple the raster builder needs
// to size its per-dispatch sort scratch (spec §6: "a precomputed
// memory-requirements triple {keyvals_size, internal_size,
// indirect_size} and the corresponding alignments, all ≤ the
// member-align limit").
type MemoryRequirements struct {
	KeyvalsSize uint64
	InternalSize uint64
	IndirectSize uint64

	KeyvalsAlign uint64
	InternalAlign uint64
	IndirectAlign uint64
}

// MaxMemberAlign is the alignment ceiling every MemoryRequirements field
// must respect (spec §6: "all ≤ the member-align limit"). 16 matches the
// strictest alignment any of Spinel's push-constant/std430 buffer
// members need.
const MaxMemberAlign = 16

// Validate checks every alignment is a power of two not exceeding
// MaxMemberAlign.
func (m MemoryRequirements) Validate() error {
	for _, a := range []uint64{m.KeyvalsAlign, m.InternalAlign, m.IndirectAlign} {
		if a == 0 || a&(a-1) != 0 || a > MaxMemberAlign {
			return errInvalidAlign
		}
	}
	return nil
}

var errInvalidAlign = alignError{}

type alignError struct{}

func (alignError) Error() string {
	return "sort: alignment must be a non-zero power of two not exceeding MaxMemberAlign"
}

// ConformanceSort sorts keys in place on the host using go-highway's own
// radix/vectorized sort, for use only as a test oracle verifying that
// TTRK keys produced by the fill/sort/segment pipeline end up in the
// order the external GPU sort is contractually required to produce.
// Never call this from the device-submission hot path — the actual sort
// always runs on the GPU via the external library (spec §1).
func ConformanceSort(keys []int64) {
	hwysort.Sort(keys)
}
