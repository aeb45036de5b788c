package vmm

import (
	"github.com/earlyboot/kernelvmm/kernel"
	"github.com/earlyboot/kernelvmm/kernel/mem/pmm"
)

// ErrInvalidMapping is returned by Translate, Unmap and any other call that
// walks a page table hierarchy and encounters a non-present entry before
// reaching the requested level.
var ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "address not mapped"}

// PageTableEntryFlag describes the bits that make up the attribute portion of
// a page table entry.
type PageTableEntryFlag uint64

// Page table entry flags as defined by the amd64 paging structures (Intel SDM
// Vol. 3A, section 4.5).
const (
	// FlagPresent indicates that the entry points to a valid frame (or, for
	// non-leaf entries, a valid next-level table).
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW marks the mapped region as writable. When cleared, writes
	// through this mapping trigger a page fault.
	FlagRW

	// FlagUserAccessible allows code running at CPL 3 to access the mapped
	// region. The kernel never sets this flag for its own mappings.
	FlagUserAccessible

	// FlagWriteThrough selects write-through instead of write-back caching
	// for the mapped region.
	FlagWriteThrough

	// FlagNoCache disables caching entirely for the mapped region.
	FlagNoCache

	// FlagAccessed is set by the CPU the first time the entry is used to
	// translate an address.
	FlagAccessed

	// FlagDirty is set by the CPU the first time a write is performed
	// through the entry. Only meaningful for leaf entries.
	FlagDirty

	// FlagHugePage marks a P2 or P3 entry as a 2MB or 1GB leaf mapping
	// instead of a pointer to the next table level.
	FlagHugePage

	// FlagGlobal prevents the TLB entry from being flushed on a CR3
	// reload. Requires CR4.PGE to be enabled.
	FlagGlobal
)

// FlagNoExecute occupies bit 63 and, when CPU support is enabled via the
// EFER.NXE bit, prevents instruction fetches from the mapped region.
const FlagNoExecute PageTableEntryFlag = 1 << 63

// entryAddrMask isolates bits 12-51 of a page table entry; this is the
// portion of the entry that encodes the physical frame address.
const entryAddrMask = uint64(0x000ffffffffff000)

// pageTableEntry is a single 8-byte slot in a page table. The low 12 bits and
// bit 63 hold attribute flags while bits 12-51 hold the physical frame
// address the entry refers to.
type pageTableEntry uint64

// IsUnused returns true if none of the entry's bits are set.
func (e pageTableEntry) IsUnused() bool {
	return e == 0
}

// Clear resets the entry to its zero value.
func (e *pageTableEntry) Clear() {
	*e = 0
}

// HasFlags returns true if all of the bits in f are set on this entry.
func (e pageTableEntry) HasFlags(f PageTableEntryFlag) bool {
	return pageTableEntry(f)&e == pageTableEntry(f)
}

// HasAnyFlag returns true if at least one of the bits in f is set on this entry.
func (e pageTableEntry) HasAnyFlag(f PageTableEntryFlag) bool {
	return pageTableEntry(f)&e != 0
}

// SetFlags ORs the bits in f into the entry.
func (e *pageTableEntry) SetFlags(f PageTableEntryFlag) {
	*e |= pageTableEntry(f)
}

// ClearFlags clears the bits in f on the entry.
func (e *pageTableEntry) ClearFlags(f PageTableEntryFlag) {
	*e &^= pageTableEntry(f)
}

// Frame returns the physical frame encoded in this entry's address bits.
// Frame does not consult FlagPresent; callers that care whether the entry is
// actually in use should check HasFlags(FlagPresent) first.
func (e pageTableEntry) Frame() pmm.Frame {
	return pmm.FrameFromAddress(uintptr(uint64(e) & entryAddrMask))
}

// SetFrame replaces the address bits of the entry with the address of f,
// leaving all flag bits untouched.
func (e *pageTableEntry) SetFrame(f pmm.Frame) {
	*e = pageTableEntry((uint64(*e) &^ entryAddrMask) | (uint64(f.Address()) & entryAddrMask))
}
