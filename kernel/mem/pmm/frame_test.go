package pmm

import (
	"testing"

	"github.com/earlyboot/kernelvmm/kernel/mem"
)

func TestFrameMethods(t *testing.T) {
	for frameIndex := uint64(0); frameIndex < 128; frameIndex++ {
		frame := Frame(frameIndex)

		if !frame.Valid() {
			t.Errorf("expected frame %d to be valid", frameIndex)
		}

		if exp, got := uintptr(frameIndex<<mem.PageShift), frame.Address(); got != exp {
			t.Errorf("expected frame (%d, index: %d) call to Address() to return %x; got %x", frame, frameIndex, exp, got)
		}

		if got := frame.Clone(); got != frame {
			t.Errorf("expected Clone() to return an identical frame; got %d", got)
		}
	}

	if InvalidFrame.Valid() {
		t.Error("expected InvalidFrame.Valid() to return false")
	}
}

func TestFrameFromAddress(t *testing.T) {
	specs := []struct {
		addr     uintptr
		expFrame Frame
	}{
		{0, Frame(0)},
		{uintptr(mem.PageSize), Frame(1)},
		{uintptr(mem.PageSize) + 1, Frame(1)},
		{uintptr(mem.PageSize)*2 - 1, Frame(1)},
	}

	for specIndex, spec := range specs {
		if got := FrameFromAddress(spec.addr); got != spec.expFrame {
			t.Errorf("[spec %d] expected FrameFromAddress(0x%x) to return %d; got %d", specIndex, spec.addr, spec.expFrame, got)
		}
	}
}
