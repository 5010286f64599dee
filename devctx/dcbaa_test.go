package devctx

import (
	"testing"

	"github.com/ardnew/xhci/internal/fakeplatform"
)

func TestDCBAASetAndClearSlot(t *testing.T) {
	mem := fakeplatform.NewMemory(1 << 20)
	d, err := NewDCBAA(mem, 8)
	if err != nil {
		t.Fatalf("NewDCBAA: %v", err)
	}
	oc, err := NewOutputContext(mem)
	if err != nil {
		t.Fatalf("NewOutputContext: %v", err)
	}

	d.SetSlot(3, oc)
	if d.SlotPhysAddr(3) != oc.PhysAddr() {
		t.Fatalf("expected DCBAA[3] to hold the output context's physical address")
	}

	d.ClearSlot(3)
	if d.SlotPhysAddr(3) != 0 {
		t.Fatalf("expected DCBAA[3] to be zeroed after ClearSlot")
	}
}

func TestDCBAAScratchpadZeroIsNoOp(t *testing.T) {
	mem := fakeplatform.NewMemory(1 << 20)
	d, err := NewDCBAA(mem, 8)
	if err != nil {
		t.Fatalf("NewDCBAA: %v", err)
	}
	if err := d.InitScratchpad(0); err != nil {
		t.Fatalf("InitScratchpad(0): %v", err)
	}
	if d.ScratchpadBufferCount() != 0 {
		t.Fatalf("expected 0 scratchpad buffers, got %d", d.ScratchpadBufferCount())
	}
}

func TestDCBAAScratchpadAllocatesBuffers(t *testing.T) {
	mem := fakeplatform.NewMemory(1 << 20)
	d, err := NewDCBAA(mem, 8)
	if err != nil {
		t.Fatalf("NewDCBAA: %v", err)
	}
	if err := d.InitScratchpad(4); err != nil {
		t.Fatalf("InitScratchpad(4): %v", err)
	}
	if d.ScratchpadBufferCount() != 4 {
		t.Fatalf("expected 4 scratchpad buffers, got %d", d.ScratchpadBufferCount())
	}
	if d.SlotPhysAddr(0) == 0 {
		t.Fatal("expected DCBAA[0] to hold the scratchpad array's physical address")
	}
}
