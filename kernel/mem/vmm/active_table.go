package vmm

import (
	"unsafe"

	"github.com/earlyboot/kernelvmm/kernel/mem/pmm"
)

// ActiveTable returns a PageDirectoryTable wrapping whichever frame is
// currently loaded into CR3.
func ActiveTable() PageDirectoryTable {
	return PageDirectoryTable{pdtFrame: pmm.FrameFromAddress(activePDTFn())}
}

// With temporarily redirects every page-table edit performed by fn onto
// inactive's hierarchy without ever activating it, by borrowing the active
// P4's recursive slot. The real P4 remains reachable for the duration through
// tempPage, and the mappings fn installs via the package-level Map/Unmap
// functions land in inactive's tables because, for the duration of the call,
// the recursive trick resolves through slot 510 into inactive instead of the
// real active table.
func With(inactive PageDirectoryTable, tempPage *TemporaryPage, fn func()) {
	origFrame := pmm.FrameFromAddress(activePDTFn())

	// Keep the real P4 reachable: once we repoint the recursive slot below,
	// the only way back to it is through this temporary mapping.
	origP4 := (*pageTable)(unsafe.Pointer(tempPage.Map(origFrame)))

	p4 := (*pageTable)(unsafe.Pointer(p4SelfAddr))
	backup := p4[recursiveIndex]

	p4[recursiveIndex] = 0
	p4[recursiveIndex].SetFrame(inactive.pdtFrame)
	p4[recursiveIndex].SetFlags(FlagPresent | FlagRW)
	flushTLBFn()

	fn()

	origP4[recursiveIndex] = backup
	flushTLBFn()

	tempPage.Unmap()
}

// Switch writes the physical address of newTable's P4 frame into CR3,
// activating it, and returns a PageDirectoryTable wrapping whatever was
// active beforehand.
func Switch(newTable PageDirectoryTable) PageDirectoryTable {
	old := ActiveTable()
	switchPDTFn(newTable.pdtFrame.Address())
	return old
}
