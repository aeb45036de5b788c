// Package allocator contains the physical frame allocators used while
// bootstrapping the kernel address space.
package allocator

import (
	"github.com/earlyboot/kernelvmm/kernel"
	"github.com/earlyboot/kernelvmm/kernel/kfmt/early"
	"github.com/earlyboot/kernelvmm/kernel/mem"
	"github.com/earlyboot/kernelvmm/kernel/mem/pmm"
	"github.com/earlyboot/kernelvmm/kernel/multiboot"
)

var (
	// EarlyAllocator points to a static instance of the area frame
	// allocator used to bootstrap the kernel address space. It is replaced
	// once a general-purpose allocator takes over.
	EarlyAllocator AreaFrameAllocator

	errOutOfMemory = &kernel.Error{Module: "area_frame_alloc", Message: "out of memory"}

	// visitMemRegionsFn is used by tests to supply a synthetic memory map
	// without constructing a raw multiboot info blob.
	visitMemRegionsFn = multiboot.VisitMemRegions
)

// AreaFrameAllocator is a watermark allocator that serves fresh physical
// frames out of the memory regions reported as available by the bootloader,
// skipping any frame that falls inside the loaded kernel image or the
// multiboot information blob.
//
// Frames are handed out in strictly ascending order and, once served, are
// never revisited: the allocator only ever moves its watermark forward. This
// makes allocation trivial to reason about at the cost of never being able
// to reclaim a frame. AllocFrame is therefore paired with a DeallocFrame that
// is a deliberate no-op.
type AreaFrameAllocator struct {
	initialized bool

	// nextFreeFrame is the allocation watermark: the next candidate frame.
	// No frame below this value will ever be returned again.
	nextFreeFrame pmm.Frame

	// kernelStart/kernelEnd and multibootStart/multibootEnd bound the
	// frame ranges (inclusive) that must never be handed out.
	kernelStart, kernelEnd       pmm.Frame
	multibootStart, multibootEnd pmm.Frame
}

// Init configures the allocator with the [start, end) byte ranges of the
// loaded kernel image and the multiboot information blob and prints out the
// system memory map. Both ranges are expressed as half-open byte intervals,
// matching the way the linker and the bootloader report them. An empty range
// (end <= start) reserves no frames.
func (alloc *AreaFrameAllocator) Init(kernelStart, kernelEnd, multibootStart, multibootEnd uintptr) {
	alloc.nextFreeFrame = 0
	// An empty range is stored inverted (start > end) so no frame falls in it.
	alloc.kernelStart, alloc.kernelEnd = pmm.InvalidFrame, 0
	if kernelEnd > kernelStart {
		alloc.kernelStart = pmm.FrameFromAddress(kernelStart)
		alloc.kernelEnd = pmm.FrameFromAddress(kernelEnd - 1)
	}
	alloc.multibootStart, alloc.multibootEnd = pmm.InvalidFrame, 0
	if multibootEnd > multibootStart {
		alloc.multibootStart = pmm.FrameFromAddress(multibootStart)
		alloc.multibootEnd = pmm.FrameFromAddress(multibootEnd - 1)
	}
	alloc.initialized = true

	early.Printf("[area_frame_alloc] system memory map:\n")
	var totalFree mem.Size
	visitMemRegionsFn(func(region *multiboot.MemoryMapEntry) {
		early.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())

		if region.Type == multiboot.MemAvailable {
			totalFree += mem.Size(region.Length)
		}
	})
	early.Printf("[area_frame_alloc] free memory: %dKb\n", uint64(totalFree/mem.Kb))
	early.Printf("[area_frame_alloc] reserved kernel frames: [%d - %d], multiboot frames: [%d - %d]\n",
		alloc.kernelStart, alloc.kernelEnd, alloc.multibootStart, alloc.multibootEnd)
}

// AllocFrame reserves and returns the next available physical frame. It
// returns errOutOfMemory once every available region has been exhausted.
func (alloc *AreaFrameAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	if !alloc.initialized {
		alloc.Init(0, 0, 0, 0)
	}

	for {
		regionStart, found := alloc.selectRegion()
		if !found {
			return pmm.InvalidFrame, errOutOfMemory
		}

		// A freshly selected region may start past the current
		// watermark; snap the watermark forward so we never return a
		// frame below the region's first frame.
		if alloc.nextFreeFrame < regionStart {
			alloc.nextFreeFrame = regionStart
		}

		candidate := alloc.nextFreeFrame

		switch {
		case candidate >= alloc.kernelStart && candidate <= alloc.kernelEnd:
			alloc.nextFreeFrame = alloc.kernelEnd + 1
			continue
		case candidate >= alloc.multibootStart && candidate <= alloc.multibootEnd:
			alloc.nextFreeFrame = alloc.multibootEnd + 1
			continue
		}

		alloc.nextFreeFrame++
		return candidate, nil
	}
}

// DeallocFrame is a deliberate no-op. The area frame allocator cannot
// reclaim frames; callers must not rely on a frame returning to the pool
// after this call.
func (alloc *AreaFrameAllocator) DeallocFrame(pmm.Frame) {}

// Init bootstraps the package-level EarlyAllocator from the bootloader-
// reported memory map. kernelStart/kernelEnd bound the loaded kernel image;
// if both are zero, the range is instead derived from the [ALLOCATED] ELF
// sections the bootloader reported, taking the lowest section start and the
// highest section end, with higher-half section addresses rebased to
// physical ones (see kernelImageRange). The multiboot information blob itself is always
// excluded using its own reported address range, since remap_the_kernel
// still needs to read it after this allocator starts handing out frames.
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	if kernelStart == 0 && kernelEnd == 0 {
		kernelStart, kernelEnd = kernelImageRange()
	}

	multibootStart, multibootEnd := multiboot.InfoAddressRange()

	EarlyAllocator.Init(kernelStart, kernelEnd, multibootStart, multibootEnd)
	return nil
}

// kernelImageRange scans the ELF sections reported by the bootloader and
// returns the [start, end) physical byte range that covers every allocated
// section of the loaded kernel image. Sections linked into the higher half
// report virtual addresses, which are rebased by the kernel's higher-half
// base (vmm.KernelVMA) before being compared.
func kernelImageRange() (start, end uintptr) {
	const kernelVMA = uintptr(0xffffffff80000000)

	start = uintptr(1)<<63 - 1
	multiboot.VisitElfSections(func(sec *multiboot.ElfSection) {
		if !sec.IsAllocated() {
			return
		}
		secStart, secEnd := sec.StartAddress, sec.EndAddress()
		if secStart >= kernelVMA {
			secStart, secEnd = secStart-kernelVMA, secEnd-kernelVMA
		}
		if secStart < start {
			start = secStart
		}
		if secEnd > end {
			end = secEnd
		}
	})

	if end == 0 {
		start = 0
	}

	return start, end
}

// AllocFrame reserves and returns the next available physical frame from the
// package-level EarlyAllocator.
func AllocFrame() (pmm.Frame, *kernel.Error) {
	return EarlyAllocator.AllocFrame()
}

// DeallocFrame is a deliberate no-op; see AreaFrameAllocator.DeallocFrame.
func DeallocFrame(f pmm.Frame) {
	EarlyAllocator.DeallocFrame(f)
}

// selectRegion scans the bootloader-reported memory map for the lowest-base
// available region whose last frame is still at or beyond the current
// watermark. It returns the region's first frame (inclusive) and whether
// such a region exists.
func (alloc *AreaFrameAllocator) selectRegion() (start pmm.Frame, found bool) {
	var bestStart pmm.Frame
	bestFound := false

	visitMemRegionsFn(func(region *multiboot.MemoryMapEntry) {
		if region.Type != multiboot.MemAvailable || region.Length == 0 {
			return
		}

		regionStart := pmm.FrameFromAddress(uintptr((mem.Size(region.PhysAddress) + mem.PageSize - 1) &^ (mem.PageSize - 1)))
		regionLast := pmm.FrameFromAddress(uintptr(region.PhysAddress+region.Length) - 1)

		if regionLast < alloc.nextFreeFrame {
			return
		}

		if !bestFound || regionStart < bestStart {
			bestStart, bestFound = regionStart, true
		}
	})

	return bestStart, bestFound
}
