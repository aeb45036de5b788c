package vmm

import "github.com/earlyboot/kernelvmm/kernel/multiboot"

// flagsForElfSection derives the page table entry flags for a mapping of an
// ELF section: PRESENT iff the section is allocated, WRITABLE iff the section
// is writable, NO_EXECUTE iff the section is *not* executable. A uniform
// WRITABLE|PRESENT for every section would map .rodata writable and .text
// non-executable-unsafely, defeating the entire point of remapping the kernel
// with real per-section permissions.
func flagsForElfSection(sec *multiboot.ElfSection) PageTableEntryFlag {
	var flags PageTableEntryFlag

	if sec.IsAllocated() {
		flags |= FlagPresent
	}
	if sec.Flags&multiboot.ElfSectionWritable != 0 {
		flags |= FlagRW
	}
	if sec.Flags&multiboot.ElfSectionExecutable == 0 {
		flags |= FlagNoExecute
	}

	return flags
}
