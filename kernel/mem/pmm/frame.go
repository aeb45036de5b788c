// Package pmm contains the value types used to identify physical memory
// page frames.
package pmm

import (
	"math"

	"github.com/earlyboot/kernelvmm/kernel/mem"
)

// Frame describes a physical memory page index. The zero value refers to the
// frame that backs physical address 0.
type Frame uint64

// InvalidFrame is returned by frame allocators when they fail to reserve the
// requested frame.
const InvalidFrame = Frame(math.MaxUint64)

// FrameFromAddress returns the Frame that contains the given physical
// address. Addresses that are not page-aligned are rounded down to the
// frame that contains them.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame(physAddr >> mem.PageShift)
}

// Valid returns true if this is not the InvalidFrame sentinel.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f) << mem.PageShift
}

// Clone returns a copy of this frame. Frame is a value type so copying it is
// always memory-safe; Clone exists to make the handoff of frame ownership
// explicit at call sites where an implicit copy would otherwise look like an
// accidental double-allocation.
func (f Frame) Clone() Frame {
	return f
}
