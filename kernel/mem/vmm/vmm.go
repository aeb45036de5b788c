// Package vmm implements the early-boot virtual memory subsystem: the
// page-table data model, the recursive-mapping Mapper built on top of it, and
// the remap_the_kernel orchestration that replaces the bootloader's page
// tables with a freshly built hierarchy carrying correct per-section
// permissions.
package vmm

import (
	"github.com/earlyboot/kernelvmm/kernel"
	"github.com/earlyboot/kernelvmm/kernel/cpu"
	"github.com/earlyboot/kernelvmm/kernel/mem"
	"github.com/earlyboot/kernelvmm/kernel/mem/pmm/allocator"
)

var (
	// heapWatermark is the bump pointer used by EarlyReserveRegion. It only
	// ever moves forward; this package never frees virtual address space.
	heapWatermark = uintptr(KernelHeapVMA)

	errHeapExhausted = &kernel.Error{Module: "vmm", Message: "kernel heap reservation exhausted"}
)

// Init enables the CPU features the new page tables depend on, rebuilds the
// kernel's address space via RemapKernel and activates it. guardPageAddr is
// the linker-provided address of the page below the kernel stack.
func Init(guardPageAddr uintptr) *kernel.Error {
	cpu.EnableNXE()
	cpu.EnableWriteProtect()

	return RemapKernel(allocator.AllocFrame, guardPageAddr)
}

// EarlyReserveRegion reserves size bytes of virtual address space out of the
// fixed kernel heap window, rounded up to a whole number of pages. It never
// maps or allocates anything; callers (namely the Go runtime's sysReserve
// hook) are expected to follow up with Map calls of their own. Reservations
// are never released: this allocator only ever advances its watermark, the
// same bootstrap trade-off AreaFrameAllocator makes for physical frames.
func EarlyReserveRegion(size mem.Size) (uintptr, *kernel.Error) {
	pageAligned := (size + mem.PageSize - 1) &^ (mem.PageSize - 1)

	if heapWatermark+uintptr(pageAligned) > KernelHeapVMA+uintptr(KernelHeapSize) {
		return 0, errHeapExhausted
	}

	start := heapWatermark
	heapWatermark += uintptr(pageAligned)
	return start, nil
}
