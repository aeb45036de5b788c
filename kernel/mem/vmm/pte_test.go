package vmm

import (
	"testing"

	"github.com/earlyboot/kernelvmm/kernel/mem/pmm"
)

func TestPageTableEntryFlags(t *testing.T) {
	var (
		pte   pageTableEntry
		flag1 = PageTableEntryFlag(1 << 10)
		flag2 = PageTableEntryFlag(1 << 21)
	)

	if pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return false")
	}

	pte.SetFlags(flag1 | flag2)

	if !pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return true")
	}

	if !pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return true")
	}

	pte.ClearFlags(flag1)

	if !pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return true")
	}

	if pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return false")
	}

	pte.ClearFlags(flag1 | flag2)

	if pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return false")
	}

	if pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return false")
	}
}

func TestPageTableEntryIsUnusedAndClear(t *testing.T) {
	var pte pageTableEntry

	if !pte.IsUnused() {
		t.Fatalf("expected a zero-value entry to be unused")
	}

	pte.SetFrame(pmm.Frame(42))
	pte.SetFlags(FlagPresent | FlagRW)

	if pte.IsUnused() {
		t.Fatalf("expected entry with a frame and flags set to not be unused")
	}

	pte.Clear()

	if !pte.IsUnused() {
		t.Fatalf("expected Clear to reset the entry back to unused")
	}
	if got := pte.Frame(); got != pmm.Frame(0) {
		t.Fatalf("expected Clear to also wipe the frame bits; got %v", got)
	}
}

func TestPageTableEntryFrameEncoding(t *testing.T) {
	var (
		pte       pageTableEntry
		physFrame = pmm.Frame(123)
	)

	pte.SetFrame(physFrame)
	if got := pte.Frame(); got != physFrame {
		t.Fatalf("expected pte.Frame() to return %v; got %v", physFrame, got)
	}
}

func TestPageTableEntryFrameAndFlagsAreIndependent(t *testing.T) {
	var (
		pte        pageTableEntry
		firstFrame = pmm.Frame(7)
		lastFrame  = pmm.Frame(512)
		allFlags   = FlagPresent | FlagRW | FlagUserAccessible | FlagHugePage | FlagGlobal | FlagNoExecute
	)

	pte.SetFrame(firstFrame)
	pte.SetFlags(allFlags)

	if got := pte.Frame(); got != firstFrame {
		t.Fatalf("expected frame to be %v; got %v", firstFrame, got)
	}
	if !pte.HasFlags(allFlags) {
		t.Fatalf("expected all flags to remain set after SetFrame")
	}

	// Replacing the frame must not disturb any previously set flag, and
	// clearing a flag must not disturb the frame.
	pte.SetFrame(lastFrame)
	if got := pte.Frame(); got != lastFrame {
		t.Fatalf("expected frame to be updated to %v; got %v", lastFrame, got)
	}
	if !pte.HasFlags(allFlags) {
		t.Fatalf("expected flags to survive a SetFrame call")
	}

	pte.ClearFlags(FlagHugePage)
	if got := pte.Frame(); got != lastFrame {
		t.Fatalf("expected frame to survive a ClearFlags call; got %v", got)
	}
	if pte.HasAnyFlag(FlagHugePage) {
		t.Fatalf("expected FlagHugePage to be cleared")
	}
	if !pte.HasFlags(allFlags &^ FlagHugePage) {
		t.Fatalf("expected the remaining flags to still be set")
	}
}
