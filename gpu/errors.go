package gpu

import (
	"unsafe"

	"github.com/gogpu/spinel/spinelerr"
)

// ErrDeviceLost re-exports spinelerr.ErrDeviceLost so gpu-level code can
// return it without importing spinelerr everywhere it escalates.
var ErrDeviceLost = spinelerr.ErrDeviceLost

// unsafePointer is a tiny named wrapper around unsafe.Pointer conversion,
// kept in one place so every pNext chain construction goes through the
// same, easily-audited call site.
func unsafePointer[T any](v *T) unsafe.Pointer {
	return unsafe.Pointer(v)
}
