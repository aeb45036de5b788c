package vmm

import (
	"runtime"
	"testing"
	"unsafe"

	"github.com/earlyboot/kernelvmm/kernel/mem"
	"github.com/earlyboot/kernelvmm/kernel/mem/pmm"
)

// buildVirtAddr assembles a canonical virtual address out of a P3/P2/P1 index
// triple and a page offset, always using P4 index 0 so that the result never
// needs sign-extension through canonicalHighMask.
func buildVirtAddr(p3, p2, p1, offset uintptr) uintptr {
	return p3<<30 | p2<<21 | p1<<12 | offset
}

func withMockPtePtr(t *testing.T, fn func()) {
	t.Helper()

	orig := ptePtrFn
	defer func() { ptePtrFn = orig }()
	fn()
}

func TestTranslateAmd64(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 runtime; skipping")
	}

	t.Run("regular 4KiB page", func(t *testing.T) {
		var physPages [pageLevels][mem.PageSize >> mem.PointerShift]pageTableEntry

		virtAddr := buildVirtAddr(2, 3, 5, 0x123)
		frame := pmm.Frame(777)

		physPages[0][0].SetFlags(FlagPresent)
		physPages[1][2].SetFlags(FlagPresent)
		physPages[2][3].SetFlags(FlagPresent)
		physPages[3][5].SetFlags(FlagPresent)
		physPages[3][5].SetFrame(frame)

		withMockPtePtr(t, func() {
			callCount := 0
			ptePtrFn = func(entry uintptr) unsafe.Pointer {
				pteIndex := (entry & uintptr(mem.PageSize-1)) >> mem.PointerShift
				callCount++
				return unsafe.Pointer(&physPages[callCount-1][pteIndex])
			}

			got, err := Translate(virtAddr)
			if err != nil {
				t.Fatal(err)
			}

			if exp := frame.Address() + 0x123; got != exp {
				t.Fatalf("expected physical address %x; got %x", exp, got)
			}
		})
	})

	t.Run("2MiB huge page", func(t *testing.T) {
		var physPages [pageLevels][mem.PageSize >> mem.PointerShift]pageTableEntry

		virtAddr := buildVirtAddr(2, 7, 9, 0x456)
		startFrame := pmm.Frame(entriesPerTable * 3)

		physPages[0][0].SetFlags(FlagPresent)
		physPages[1][2].SetFlags(FlagPresent)
		physPages[2][7].SetFlags(FlagPresent | FlagHugePage)
		physPages[2][7].SetFrame(startFrame)

		withMockPtePtr(t, func() {
			callCount := 0
			ptePtrFn = func(entry uintptr) unsafe.Pointer {
				pteIndex := (entry & uintptr(mem.PageSize-1)) >> mem.PointerShift
				callCount++
				return unsafe.Pointer(&physPages[callCount-1][pteIndex])
			}

			got, err := Translate(virtAddr)
			if err != nil {
				t.Fatal(err)
			}

			expFrame := pmm.Frame(uint64(startFrame) + 9)
			if exp := expFrame.Address() + 0x456; got != exp {
				t.Fatalf("expected physical address %x; got %x", exp, got)
			}

			if exp := 3; callCount != exp {
				t.Fatalf("expected %d page table walks; got %d", exp, callCount)
			}
		})
	})

	t.Run("1GiB huge page", func(t *testing.T) {
		var physPages [pageLevels][mem.PageSize >> mem.PointerShift]pageTableEntry

		virtAddr := buildVirtAddr(4, 11, 13, 0x789)
		startFrame := pmm.Frame(entriesPerTable * entriesPerTable * 5)

		physPages[0][0].SetFlags(FlagPresent)
		physPages[1][4].SetFlags(FlagPresent | FlagHugePage)
		physPages[1][4].SetFrame(startFrame)

		withMockPtePtr(t, func() {
			callCount := 0
			ptePtrFn = func(entry uintptr) unsafe.Pointer {
				pteIndex := (entry & uintptr(mem.PageSize-1)) >> mem.PointerShift
				callCount++
				return unsafe.Pointer(&physPages[callCount-1][pteIndex])
			}

			got, err := Translate(virtAddr)
			if err != nil {
				t.Fatal(err)
			}

			expFrame := pmm.Frame(uint64(startFrame) + 11*entriesPerTable + 13)
			if exp := expFrame.Address() + 0x789; got != exp {
				t.Fatalf("expected physical address %x; got %x", exp, got)
			}

			if exp := 2; callCount != exp {
				t.Fatalf("expected %d page table walks; got %d", exp, callCount)
			}
		})
	})

	t.Run("misaligned 2MiB huge frame panics", func(t *testing.T) {
		var physPages [pageLevels][mem.PageSize >> mem.PointerShift]pageTableEntry

		virtAddr := buildVirtAddr(2, 7, 9, 0)

		physPages[0][0].SetFlags(FlagPresent)
		physPages[1][2].SetFlags(FlagPresent)
		physPages[2][7].SetFlags(FlagPresent | FlagHugePage)
		physPages[2][7].SetFrame(pmm.Frame(entriesPerTable + 1))

		withMockPtePtr(t, func() {
			callCount := 0
			ptePtrFn = func(entry uintptr) unsafe.Pointer {
				pteIndex := (entry & uintptr(mem.PageSize-1)) >> mem.PointerShift
				callCount++
				return unsafe.Pointer(&physPages[callCount-1][pteIndex])
			}

			defer func() {
				if recover() == nil {
					t.Fatal("expected a misaligned huge page frame to panic")
				}
			}()

			_, _ = Translate(virtAddr)
		})
	})

	t.Run("address not mapped at any level", func(t *testing.T) {
		var physPages [pageLevels][mem.PageSize >> mem.PointerShift]pageTableEntry

		withMockPtePtr(t, func() {
			callCount := 0
			ptePtrFn = func(entry uintptr) unsafe.Pointer {
				pteIndex := (entry & uintptr(mem.PageSize-1)) >> mem.PointerShift
				callCount++
				return unsafe.Pointer(&physPages[callCount-1][pteIndex])
			}

			if _, err := Translate(0); err != ErrInvalidMapping {
				t.Fatalf("expected ErrInvalidMapping; got %v", err)
			}
		})
	})
}
