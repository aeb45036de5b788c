package vmm

import (
	"unsafe"

	"github.com/earlyboot/kernelvmm/kernel"
	"github.com/earlyboot/kernelvmm/kernel/mem"
	"github.com/earlyboot/kernelvmm/kernel/mem/pmm"
)

var (
	// activePDTFn is used by tests to override calls to activePDT which
	// will cause a fault if called in user-mode.
	activePDTFn = activePDT

	// switchPDTFn is used by tests to override calls to switchPDT which
	// will cause a fault if called in user-mode.
	switchPDTFn = switchPDT

	// mapFn is used by tests and is automatically inlined by the compiler.
	mapFn = Map

	// mapTemporaryFn is used by tests and is automatically inlined by the compiler.
	mapTemporaryFn = MapTemporary

	// unmapFn is used by tests and is automatically inlined by the compiler.
	unmapFn = Unmap
)

// PageDirectoryTable describes the top-most table in a multi-level paging
// scheme. A PageDirectoryTable plays the role of both the active and the
// inactive page table directory described by the recursive-mapping trick:
// when its frame matches the one currently loaded into CR3, Map/Unmap operate
// on it directly; otherwise they transparently borrow the recursive slot of
// whichever table *is* active for the duration of the call, so that a brand
// new, not-yet-switched-to hierarchy can be populated before it is ever made
// current.
type PageDirectoryTable struct {
	pdtFrame pmm.Frame
}

// NewInactivePageTable allocates a fresh physical frame and bootstraps it
// into a usable, recursively-mapped page table directory that is not yet
// loaded into CR3. It is the starting point for building a new address space
// from scratch, as remap_the_kernel does for the kernel's own address space
// during early boot.
func NewInactivePageTable(allocFn FrameAllocatorFn) (PageDirectoryTable, *kernel.Error) {
	frame, err := allocFn()
	if err != nil {
		return PageDirectoryTable{}, err
	}

	var pdt PageDirectoryTable
	if err := pdt.Init(frame, allocFn); err != nil {
		return PageDirectoryTable{}, err
	}

	return pdt, nil
}

// Frame returns the physical frame backing this page table directory.
func (pdt PageDirectoryTable) Frame() pmm.Frame {
	return pdt.pdtFrame
}

// Init sets up the page table directory starting at the supplied physical
// address. If the supplied frame does not match the currently active PDT, then
// Init assumes that this is a new page table directory that needs
// bootstapping. In such a case, a temporary mapping is established so that
// Init can:
//  - call mem.Memset to clear the frame contents
//  - setup a recursive mapping for entry recursiveIndex (510) to the page itself.
func (pdt *PageDirectoryTable) Init(pdtFrame pmm.Frame, allocFn FrameAllocatorFn) *kernel.Error {
	pdt.pdtFrame = pdtFrame

	// Check active PDT physical address. If it matches the input pdt then
	// nothing more needs to be done
	activePdtAddr := activePDTFn()
	if pdtFrame.Address() == activePdtAddr {
		return nil
	}

	// Create a temporary mapping for the pdt frame so we can work on it
	pdtPage, err := mapTemporaryFn(pdtFrame, allocFn)
	if err != nil {
		return err
	}

	// Clear the page contents and setup recursive mapping for the P4 entry
	// that points back to this table.
	mem.Memset(pdtPage.Address(), 0, mem.PageSize)
	lastPdtEntry := (*pageTableEntry)(unsafe.Pointer(pdtPage.Address() + (uintptr(recursiveIndex) << mem.PointerShift)))
	*lastPdtEntry = 0
	lastPdtEntry.SetFlags(FlagPresent | FlagRW)
	lastPdtEntry.SetFrame(pdtFrame)

	// Remove temporary mapping
	unmapFn(pdtPage)

	return nil
}

// borrowRecursiveSlot runs fn with the active PDT's recursive P4 entry
// temporarily repointed at pdt's own frame, so that a package-level call
// addressed through the recursive virtual address scheme (entryAddrForLevel)
// resolves into pdt's hierarchy instead of the live one. If pdt is already
// the active table, fn runs with no redirection at all.
func (pdt PageDirectoryTable) borrowRecursiveSlot(fn func()) {
	activePdtFrame := pmm.Frame(activePDTFn() >> mem.PageShift)
	if activePdtFrame == pdt.pdtFrame {
		fn()
		return
	}

	recursiveEntryAddr := activePdtFrame.Address() + (uintptr(recursiveIndex) << mem.PointerShift)
	recursiveEntry := (*pageTableEntry)(unsafe.Pointer(recursiveEntryAddr))

	recursiveEntry.SetFrame(pdt.pdtFrame)
	flushTLBEntryFn(recursiveEntryAddr)

	fn()

	recursiveEntry.SetFrame(activePdtFrame)
	flushTLBEntryFn(recursiveEntryAddr)
}

// Map establishes a mapping between a virtual page and a physical memory frame
// using this PDT. This method behaves in a similar fashion to the global Map()
// function with the difference that it also supports inactive page PDTs by
// borrowing the active PDT's recursive slot so that Map() can reach the
// inactive PDT's entries.
func (pdt PageDirectoryTable) Map(page Page, frame pmm.Frame, flags PageTableEntryFlag, allocFn FrameAllocatorFn) *kernel.Error {
	var err *kernel.Error
	pdt.borrowRecursiveSlot(func() {
		err = mapFn(page, frame, flags, allocFn)
	})
	return err
}

// Unmap removes a mapping previously installed by a call to Map() on this
// PDT. This method behaves in a similar fashion to the global Unmap()
// function with the difference that it also supports inactive page PDTs by
// borrowing the active PDT's recursive slot so that Unmap() can reach the
// inactive PDT's entries.
func (pdt PageDirectoryTable) Unmap(page Page) *kernel.Error {
	var err *kernel.Error
	pdt.borrowRecursiveSlot(func() {
		err = unmapFn(page)
	})
	return err
}

// Activate enables this page directory table and flushes the TLB
func (pdt PageDirectoryTable) Activate() {
	switchPDTFn(pdt.pdtFrame.Address())
}
