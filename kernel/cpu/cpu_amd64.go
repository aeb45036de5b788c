package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// EnableNXE sets the NXE (No-Execute Enable) bit in the IA32_EFER MSR. Until
// this is called, the NO_EXECUTE page table entry flag is ignored by the MMU.
func EnableNXE()

// EnableWriteProtect sets the WP bit in CR0, causing the CPU to honor the
// read-only flag on page table entries even while running at CPL 0. Without
// it the kernel can silently write through mappings it marked read-only.
func EnableWriteProtect()
