package vmm

import (
	"unsafe"

	"github.com/earlyboot/kernelvmm/kernel/mem"
)

// pageLevels is the number of levels in the amd64 paging hierarchy: P4, P3,
// P2 and P1.
const pageLevels = 4

// pageLevelBits holds, for each level plus one sentinel entry, the number of
// virtual address bits consumed by that level's table index (9 bits select
// one of 512 entries). map.go indexes this slice with pteLevel+1 to size the
// next-level table it is about to initialize, so the slice is one entry
// longer than pageLevels.
var pageLevelBits = [pageLevels + 1]uint{9, 9, 9, 9, 9}

// pageLevelShifts holds the bit position at which each level's 9-bit index
// starts within a virtual address: P4 at 39, P3 at 30, P2 at 21, P1 at 12.
var pageLevelShifts = [pageLevels]uint{39, 30, 21, 12}

// recursiveIndex is the P4 slot that points back to the P4 table itself,
// turning the last 4 page levels of the address space into a window onto the
// currently active table hierarchy. gopher-os used slot 511 for this; in this
// tree slot 511 holds the kernel's higher half, including the temporary
// mapping window (see tempMappingAddr), and recursion goes through slot 510.
const recursiveIndex = 510

// entriesPerTable is the number of entries in a single page table (2^9): each
// level's 9-bit index selects one of these. Translate uses it directly to
// turn a huge page's starting frame number plus a lower-level index into the
// frame number the huge mapping actually resolves to.
const entriesPerTable = 1 << 9

// canonicalHighMask sign-extends bit 47 of a virtual address across bits
// 48-63, as amd64 requires of every canonical address.
const canonicalHighMask = uintptr(0xffff000000000000)

// tempMappingAddr is the fixed virtual address used by MapTemporary to
// establish a short-lived window onto an arbitrary physical frame. It lives
// at P4 index 511, P3 index 511, P2 index 384, P1 index 0: outside the
// recursive slot, so the window stays reachable while With repoints slot 510,
// and outside the 1GiB the bootloader maps at KernelVMA (P3 index 510).
const tempMappingAddr = canonicalHighMask |
	uintptr(511)<<39 |
	uintptr(511)<<30 |
	uintptr(384)<<21 |
	uintptr(0)<<12

// p4SelfAddr is the virtual address at which the P4 table is reachable as if
// it were an ordinary P1 table, obtained by replicating recursiveIndex across
// all four levels (see the PageTable data model).
const p4SelfAddr = canonicalHighMask |
	uintptr(recursiveIndex)<<39 |
	uintptr(recursiveIndex)<<30 |
	uintptr(recursiveIndex)<<21 |
	uintptr(recursiveIndex)<<12

// p4RecursiveEntryAddr is the address of slot 510 of the P4 table itself:
// the entry that makes the recursive trick work in the first place.
const p4RecursiveEntryAddr = p4SelfAddr + uintptr(recursiveIndex)<<mem.PointerShift

// flushTLBFn is used by tests to override calls to flushTLB, which will fault
// outside of kernel mode.
var flushTLBFn = flushTLB

// ptePtrFn resolves the virtual address of a page table entry to a pointer to
// it. It is a variable so that tests can redirect page table walks into a
// plain Go array instead of dereferencing raw, unmapped addresses; the
// compiler inlines the production implementation away.
var ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
	return unsafe.Pointer(entryAddr)
}

// entryAddrForLevel returns the virtual address of the page table entry that
// must be followed at the given level (0 = P4 .. pageLevels-1 = P1) in order
// to resolve virtAddr, using the recursive mapping trick: every level above
// the one being addressed is replaced by recursiveIndex, turning the table at
// that level into an ordinary-looking entry in the level above it.
func entryAddrForLevel(level uint8, virtAddr uintptr) uintptr {
	page := PageFromAddress(virtAddr)

	a, b, c := uintptr(recursiveIndex), uintptr(recursiveIndex), uintptr(recursiveIndex)
	var entryIndex uintptr

	switch level {
	case 0:
		entryIndex = page.P4Index()
	case 1:
		c = page.P4Index()
		entryIndex = page.P3Index()
	case 2:
		b, c = page.P4Index(), page.P3Index()
		entryIndex = page.P2Index()
	default:
		a, b, c = page.P4Index(), page.P3Index(), page.P2Index()
		entryIndex = page.P1Index()
	}

	tableAddr := canonicalHighMask | uintptr(recursiveIndex)<<39 | a<<30 | b<<21 | c<<12
	return tableAddr + (entryIndex << mem.PointerShift)
}
