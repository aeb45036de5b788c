package vmm

import (
	"github.com/earlyboot/kernelvmm/kernel"
	"github.com/earlyboot/kernelvmm/kernel/mem/pmm"
)

// Translate returns the physical address that corresponds to the supplied
// virtual address, walking the currently active page table hierarchy down to
// whichever level actually maps it. A P3 or P2 entry flagged FlagHugePage
// terminates the walk early and is resolved as a 1 GiB or 2 MiB mapping
// respectively; the MMU never descends any further in that case, so neither
// does Translate. Either way the frame arithmetic below always resolves down
// to the exact 4 KiB frame backing virtAddr, so the in-page byte offset
// added at the end is always the low 12 bits of virtAddr, huge page or not.
// It returns ErrInvalidMapping if virtAddr is not mapped at any level.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	page := PageFromAddress(virtAddr)
	pageOffset := virtAddr & ((1 << pageLevelShifts[pageLevels-1]) - 1)

	p4 := (*pageTableEntry)(ptePtrFn(entryAddrForLevel(0, virtAddr)))
	if !p4.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	p3 := (*pageTableEntry)(ptePtrFn(entryAddrForLevel(1, virtAddr)))
	if !p3.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	if p3.HasFlags(FlagHugePage) {
		subIndex := uint64(page.P2Index())*entriesPerTable + uint64(page.P1Index())
		frame, err := frameForHugePage(p3.Frame(), subIndex, entriesPerTable*entriesPerTable)
		if err != nil {
			return 0, err
		}
		return frame.Address() + pageOffset, nil
	}

	p2 := (*pageTableEntry)(ptePtrFn(entryAddrForLevel(2, virtAddr)))
	if !p2.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	if p2.HasFlags(FlagHugePage) {
		frame, err := frameForHugePage(p2.Frame(), uint64(page.P1Index()), entriesPerTable)
		if err != nil {
			return 0, err
		}
		return frame.Address() + pageOffset, nil
	}

	p1 := (*pageTableEntry)(ptePtrFn(entryAddrForLevel(3, virtAddr)))
	if !p1.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	return p1.Frame().Address() + pageOffset, nil
}

// frameForHugePage resolves the exact 4 KiB frame that a huge page mapping
// starting at startFrame resolves to, given the sub-index of that frame
// within the huge page (p1_index for a 2 MiB page, p2_index*512+p1_index for
// a 1 GiB page). alignMod is the number of 4 KiB frames a huge page of this
// size must be aligned to; a misaligned startFrame means the hierarchy
// itself is corrupt, which is a fatal invariant violation rather than an
// ordinary translation failure.
func frameForHugePage(startFrame pmm.Frame, subIndex uint64, alignMod uint64) (pmm.Frame, *kernel.Error) {
	start := uint64(startFrame)
	if start%alignMod != 0 {
		panic("vmm: huge page frame is not aligned to its page size")
	}

	return pmm.Frame(start + subIndex), nil
}
