// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpu

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// Timeline wraps a single VkSemaphore created with
// VK_SEMAPHORE_TYPE_TIMELINE, tracking a monotonically increasing counter
// of submitted and completed values. This is the sole synchronization
// primitive behind deps.Scheduler's immediate and delayed semaphores
// (spec §4D): "Two kinds of semaphores backed by timeline counters."
//
// Structurally this generalizes the teacher's hal/vulkan/fence_pool.go
// (binary-fence active/free-list recycling keyed by monotonic submission
// value) from per-submission binary fences to a single timeline semaphore
// whose counter value *is* the submission identity — no recycling needed.
type Timeline struct {
	semaphore vk.Semaphore
	nextValue uint64 // value to be signalled by the next submission
}

// NewTimeline creates a new timeline semaphore starting at counter value 0.
func NewTimeline(device vk.Device) (*Timeline, error) {
	typeInfo := vk.SemaphoreTypeCreateInfo{
		SType:         vk.StructureTypeSemaphoreTypeCreateInfo,
		SemaphoreType: vk.SemaphoreTypeTimeline,
		InitialValue:  0,
	}
	info := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
		PNext: unsafePointer(&typeInfo),
	}
	var sem vk.Semaphore
	if r := vk.CreateSemaphore(device, &info, nil, &sem); r != vk.Success {
		return nil, fmt.Errorf("gpu: vkCreateSemaphore (timeline) failed: %d", r)
	}
	return &Timeline{semaphore: sem}, nil
}

// Semaphore returns the underlying VkSemaphore, for use in a
// VkTimelineSemaphoreSubmitInfo's wait/signal arrays.
func (t *Timeline) Semaphore() vk.Semaphore { return t.semaphore }

// NextSignalValue reserves and returns the value the next submission using
// this timeline must signal.
func (t *Timeline) NextSignalValue() uint64 {
	t.nextValue++
	return t.nextValue
}

// CompletedValue returns the highest value the GPU has signalled so far
// (vkGetSemaphoreCounterValue), without blocking.
func (t *Timeline) CompletedValue(device vk.Device) (uint64, error) {
	var value uint64
	if r := vk.GetSemaphoreCounterValue(device, t.semaphore, &value); r != vk.Success {
		return 0, fmt.Errorf("gpu: vkGetSemaphoreCounterValue failed: %d", r)
	}
	return value, nil
}

// Wait blocks until the semaphore reaches at least value, or until
// timeoutNs elapses.
func (t *Timeline) Wait(device vk.Device, value uint64, timeoutNs uint64) error {
	if value == 0 {
		return nil
	}
	sem := t.semaphore
	waitInfo := vk.SemaphoreWaitInfo{
		SType:          vk.StructureTypeSemaphoreWaitInfo,
		SemaphoreCount: 1,
		PSemaphores:    &sem,
		PValues:        &value,
	}
	r := vk.WaitSemaphores(device, &waitInfo, timeoutNs)
	switch r {
	case vk.Success:
		return nil
	case vk.Timeout:
		return fmt.Errorf("gpu: timeline wait timed out at value %d", value)
	case vk.ErrorDeviceLost:
		return ErrDeviceLost
	default:
		return fmt.Errorf("gpu: vkWaitSemaphores failed: %d", r)
	}
}

// Destroy releases the semaphore. Must be called only after the device is
// idle with respect to this timeline.
func (t *Timeline) Destroy(device vk.Device) {
	vk.DestroySemaphore(device, t.semaphore, nil)
}
