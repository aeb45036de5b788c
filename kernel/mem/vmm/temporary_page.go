package vmm

import (
	"unsafe"

	"github.com/earlyboot/kernelvmm/kernel"
	"github.com/earlyboot/kernelvmm/kernel/mem"
	"github.com/earlyboot/kernelvmm/kernel/mem/pmm"
)

// errTinyAllocatorEmpty is returned by tinyAllocator.allocate once all three
// of its frames have been handed out.
var errTinyAllocatorEmpty = &kernel.Error{Module: "vmm", Message: "temporary page frame pool exhausted"}

// tinyAllocator is a three-slot frame pool, just large enough to cover the
// P3+P2+P1 tables that a single new page mapping might have to create.
type tinyAllocator struct {
	frames [3]pmm.Frame
	filled [3]bool
}

func newTinyAllocator(allocFn FrameAllocatorFn) (tinyAllocator, *kernel.Error) {
	var a tinyAllocator
	for i := range a.frames {
		f, err := allocFn()
		if err != nil {
			return tinyAllocator{}, err
		}
		a.frames[i] = f
		a.filled[i] = true
	}

	return a, nil
}

// allocate satisfies the FrameAllocatorFn signature so a tinyAllocator can be
// passed anywhere Map/MapTemporary expect an allocator.
func (a *tinyAllocator) allocate() (pmm.Frame, *kernel.Error) {
	for i := range a.frames {
		if a.filled[i] {
			a.filled[i] = false
			return a.frames[i], nil
		}
	}

	return pmm.InvalidFrame, errTinyAllocatorEmpty
}

// deallocate returns a frame to the first empty slot. It is a fatal
// invariant violation to deallocate into a full pool: a TemporaryPage never
// hands out more frames than it holds, so this can only happen if a caller
// deallocates a frame the pool never allocated.
func (a *tinyAllocator) deallocate(f pmm.Frame) {
	for i := range a.filled {
		if !a.filled[i] {
			a.frames[i] = f
			a.filled[i] = true
			return
		}
	}

	panic("vmm: temporary page frame pool has no free slot")
}

// pageTable views a 4KiB frame as 512 raw page table entries. The layout is
// identical at every level (P4..P1), so the same type works for reinterpreting
// a freshly allocated frame as a P1 table.
type pageTable [mem.PageSize / (1 << mem.PointerShift)]pageTableEntry

// TemporaryPage is a bootstrap-grade mapper that reaches into a physical
// frame that is not otherwise addressable through the currently active
// recursive mapping, by borrowing a single fixed virtual page for it. It
// carries its own three-frame pool so that mapping it never has to go back to
// the general-purpose allocator for the intermediate P3/P2/P1 tables the
// mapping itself might need.
type TemporaryPage struct {
	page  Page
	alloc tinyAllocator
}

// NewTemporaryPage drains three frames from allocFn and returns a
// TemporaryPage bound to the fixed temporary-mapping virtual address.
func NewTemporaryPage(allocFn FrameAllocatorFn) (*TemporaryPage, *kernel.Error) {
	alloc, err := newTinyAllocator(allocFn)
	if err != nil {
		return nil, err
	}

	return &TemporaryPage{page: PageFromAddress(tempMappingAddr), alloc: alloc}, nil
}

// Map establishes a mapping from this TemporaryPage's fixed virtual address
// to frame with PRESENT|WRITABLE and returns that virtual address. It panics
// if the page is already mapped.
func (tp *TemporaryPage) Map(frame pmm.Frame) uintptr {
	if _, err := Translate(tp.page.Address()); err == nil {
		panic("vmm: temporary page is already mapped")
	}

	if err := Map(tp.page, frame, FlagPresent|FlagRW, tp.alloc.allocate); err != nil {
		panic(err)
	}

	return tp.page.Address()
}

// MapTableFrame maps frame exactly like Map but reinterprets the resulting
// address as a page table, since a raw page table frame has the same
// 512-entry-of-uint64 layout at every level.
func (tp *TemporaryPage) MapTableFrame(frame pmm.Frame) *pageTable {
	return (*pageTable)(unsafe.Pointer(tp.Map(frame)))
}

// Unmap removes the mapping installed by Map or MapTableFrame. Like the
// package-level Unmap, it does not free the frame that was mapped in.
func (tp *TemporaryPage) Unmap() {
	if err := Unmap(tp.page); err != nil {
		panic(err)
	}
}
