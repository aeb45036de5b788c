package vmm

// flushTLBEntry flushes a TLB entry for a particular virtual address.
func flushTLBEntry(virtAddr uintptr)

// switchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func switchPDT(pdtPhysAddr uintptr)

// activePDT returns the physical address of the currently active page table.
func activePDT() uintptr

// flushTLB discards every cached translation by reloading CR3 with its
// current value. Used after repointing slot 510 of the active P4, since that
// single edit changes what every recursive walk resolves to and a per-page
// invalidation cannot express that.
func flushTLB()
