package vmm

import (
	"github.com/earlyboot/kernelvmm/kernel"
	"github.com/earlyboot/kernelvmm/kernel/mem"
	"github.com/earlyboot/kernelvmm/kernel/mem/pmm"
	"github.com/earlyboot/kernelvmm/kernel/multiboot"
)

// KernelVMA is the virtual base address of the kernel's higher-half image.
// The bootloader identity-offset-maps 1GiB of physical memory here using
// 2MiB pages before the Go entry point ever runs.
const KernelVMA = uintptr(0xffffffff80000000)

// VgaBufferVMA is the virtual address the VGA text-mode framebuffer is
// mapped to; it always backs physical address 0xB8000.
const VgaBufferVMA = KernelVMA + 0xb8000

// KernelHeapVMA is the virtual base address reserved for the Go runtime heap
// once it comes online. See EarlyReserveRegion.
const KernelHeapVMA = KernelVMA + 0x40000000

// KernelHeapSize bounds how much of the reserved heap region EarlyReserveRegion
// is willing to hand out before refusing further requests.
const KernelHeapSize = 100 * mem.Kb

var (
	errGuardPageMisaligned = &kernel.Error{Module: "vmm", Message: "guard page address is not page-aligned"}
	errElfSectionMisaligned = &kernel.Error{Module: "vmm", Message: "ELF section address is not page-aligned"}
)

// RemapKernel builds a fresh top-level page table that maps every allocated
// ELF section of the running kernel image with its real, per-section
// permissions, the VGA framebuffer, and the Multiboot information blob, and
// switches the CPU onto it. guardPageAddr is the linker-provided address of
// the unmapped page immediately below the kernel stack; it is left unmapped
// in the new hierarchy so that a stack overflow still faults instead of
// silently corrupting adjacent memory.
func RemapKernel(allocFn FrameAllocatorFn, guardPageAddr uintptr) *kernel.Error {
	if guardPageAddr%uintptr(mem.PageSize) != 0 {
		return errGuardPageMisaligned
	}

	tempPage, err := NewTemporaryPage(allocFn)
	if err != nil {
		return err
	}

	inactive, err := NewInactivePageTable(allocFn)
	if err != nil {
		return err
	}

	var mapErr *kernel.Error
	With(inactive, tempPage, func() {
		multiboot.VisitElfSections(func(sec *multiboot.ElfSection) {
			if mapErr != nil || !sec.IsAllocated() || sec.StartAddress < KernelVMA {
				return
			}

			if sec.StartAddress%uintptr(mem.PageSize) != 0 {
				mapErr = errElfSectionMisaligned
				return
			}

			flags := flagsForElfSection(sec)
			for addr := sec.StartAddress; addr < sec.EndAddress(); addr += uintptr(mem.PageSize) {
				page := PageFromAddress(addr)
				frame := pmm.FrameFromAddress(addr - KernelVMA)
				if mapErr = Map(page, frame, flags, allocFn); mapErr != nil {
					return
				}
			}
		})
		if mapErr != nil {
			return
		}

		fbPage := PageFromAddress(VgaBufferVMA)
		if mapErr = Map(fbPage, pmm.FrameFromAddress(0xb8000), FlagRW, allocFn); mapErr != nil {
			return
		}

		mbStart, mbEnd := multiboot.InfoAddressRange()
		mbStartPage := PageFromAddress(KernelVMA + mbStart)
		mbEndPage := PageFromAddress(KernelVMA + mbEnd - 1)
		for page := mbStartPage; page <= mbEndPage; page++ {
			if mapErr = Map(page, pmm.FrameFromAddress(page.Address()-KernelVMA), FlagPresent, allocFn); mapErr != nil {
				return
			}
		}

		if guardPageAddr != 0 {
			mapErr = Unmap(PageFromAddress(guardPageAddr))
		}
	})

	if mapErr != nil {
		return mapErr
	}

	Switch(inactive)
	return nil
}
