package vmm

import (
	"unsafe"

	"github.com/earlyboot/kernelvmm/kernel"
	"github.com/earlyboot/kernelvmm/kernel/mem"
	"github.com/earlyboot/kernelvmm/kernel/mem/pmm"
)

var (
	// nextAddrFn is used by used by tests to override the nextTableAddr
	// calculations used by Map. When compiling the kernel this function
	// will be automatically inlined.
	nextAddrFn = func(entryAddr uintptr) uintptr {
		return entryAddr
	}

	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = flushTLBEntry

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
)

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)

// descendToLeaf walks the P4 through P2 entries that resolve virtAddr,
// allocating and clearing any intermediate table that is not yet present via
// allocFn, and returns a pointer to the P1 entry that ultimately maps
// virtAddr. It returns errNoHugePageSupport if a huge page is encountered
// along the way, since this tree never asks an intermediate level to map
// anything other than the next table down.
func descendToLeaf(virtAddr uintptr, allocFn FrameAllocatorFn) (*pageTableEntry, *kernel.Error) {
	for level := uint8(0); level < pageLevels-1; level++ {
		pte := (*pageTableEntry)(ptePtrFn(entryAddrForLevel(level, virtAddr)))

		if pte.HasFlags(FlagHugePage) {
			return nil, errNoHugePageSupport
		}

		if pte.HasFlags(FlagPresent) {
			continue
		}

		newTableFrame, err := allocFn()
		if err != nil {
			return nil, err
		}

		*pte = 0
		pte.SetFrame(newTableFrame)
		pte.SetFlags(FlagPresent | FlagRW)

		// The next pte entry becomes available but we need to make sure
		// that the new page is properly cleared. Shifting the entry's own
		// address left by one level's worth of index bits walks it one
		// level deeper through the recursive mapping; the shift pushes the
		// sign-extension bits out of the top of the word, so they are
		// reapplied afterwards.
		nextTableAddr := uintptr(unsafe.Pointer(pte)) << pageLevelBits[level+1]
		nextTableAddr = (nextTableAddr &^ canonicalHighMask) | canonicalHighMask
		mem.Memset(nextAddrFn(nextTableAddr), 0, mem.PageSize)
	}

	return (*pageTableEntry)(ptePtrFn(entryAddrForLevel(pageLevels-1, virtAddr))), nil
}

// Map establishes a mapping between a virtual page and a physical memory
// frame using the currently active page directory table, allocating any
// intermediate P3/P2/P1 table that does not already exist via allocFn.
//
// The target P1 entry must be unused: Map panics if page is already mapped,
// since a page must be explicitly unmapped before it can be remapped to a
// different frame.
func Map(page Page, frame pmm.Frame, flags PageTableEntryFlag, allocFn FrameAllocatorFn) *kernel.Error {
	leaf, err := descendToLeaf(page.Address(), allocFn)
	if err != nil {
		return err
	}

	if !leaf.IsUnused() {
		panic("vmm: Map called on a page that is already mapped")
	}

	leaf.SetFrame(frame)
	leaf.SetFlags(FlagPresent | flags)
	flushTLBEntryFn(page.Address())

	return nil
}

// MapTemporary establishes a temporary RW mapping of a physical memory frame
// to a fixed virtual address, overwriting any previous occupant of the
// window. The temporary mapping mechanism is primarily used by the kernel to
// access and initialize inactive page tables, so unlike Map its leaf entry is
// expected to be reused across calls and is not required to start out empty.
func MapTemporary(frame pmm.Frame, allocFn FrameAllocatorFn) (Page, *kernel.Error) {
	leaf, err := descendToLeaf(tempMappingAddr, allocFn)
	if err != nil {
		return 0, err
	}

	*leaf = 0
	leaf.SetFrame(frame)
	leaf.SetFlags(FlagPresent | FlagRW)
	flushTLBEntryFn(tempMappingAddr)

	return PageFromAddress(tempMappingAddr), nil
}

// Unmap removes a mapping previously installed via a call to Map or
// MapTemporary, returning ErrInvalidMapping if no such mapping exists.
func Unmap(page Page) *kernel.Error {
	virtAddr := page.Address()

	for level := uint8(0); level < pageLevels-1; level++ {
		pte := (*pageTableEntry)(ptePtrFn(entryAddrForLevel(level, virtAddr)))

		if !pte.HasFlags(FlagPresent) {
			return ErrInvalidMapping
		}

		if pte.HasFlags(FlagHugePage) {
			return errNoHugePageSupport
		}
	}

	leaf := (*pageTableEntry)(ptePtrFn(entryAddrForLevel(pageLevels-1, virtAddr)))
	if !leaf.HasFlags(FlagPresent) {
		return ErrInvalidMapping
	}

	leaf.Clear()
	flushTLBEntryFn(virtAddr)

	return nil
}
