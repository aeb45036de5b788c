package vmm

import "github.com/earlyboot/kernelvmm/kernel/mem"

// Page describes a virtual memory page index.
type Page uintptr

// Address returns a pointer to the virtual memory address pointed to by this Page.
func (f Page) Address() uintptr {
	return uintptr(f << mem.PageShift)
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it. It panics if virtAddr is not a canonical amd64
// address, i.e. bits 48-63 do not all match bit 47.
func PageFromAddress(virtAddr uintptr) Page {
	if !isCanonicalAddress(virtAddr) {
		panic("vmm: non-canonical virtual address")
	}

	return Page((virtAddr & ^(uintptr(mem.PageSize - 1))) >> mem.PageShift)
}

func isCanonicalAddress(virtAddr uintptr) bool {
	top := virtAddr >> 47
	return top == 0 || top == 0x1ffff
}

// P4Index returns the 9-bit index (bits 39-47) used to select this page's
// entry in the P4 table.
func (f Page) P4Index() uintptr {
	return (f.Address() >> 39) & 0x1ff
}

// P3Index returns the 9-bit index (bits 30-38) used to select this page's
// entry in its P3 table.
func (f Page) P3Index() uintptr {
	return (f.Address() >> 30) & 0x1ff
}

// P2Index returns the 9-bit index (bits 21-29) used to select this page's
// entry in its P2 table.
func (f Page) P2Index() uintptr {
	return (f.Address() >> 21) & 0x1ff
}

// P1Index returns the 9-bit index (bits 12-20) used to select this page's
// entry in its P1 table.
func (f Page) P1Index() uintptr {
	return (f.Address() >> 12) & 0x1ff
}
