package controller

import (
	"testing"
	"unsafe"

	"github.com/ardnew/xhci/devctx"
	"github.com/ardnew/xhci/internal/fakeplatform"
	"github.com/ardnew/xhci/mmio"
	"github.com/ardnew/xhci/ring"
	"github.com/ardnew/xhci/trb"
)

// newTestRegisters backs an mmio.Registers view with a plain byte arena,
// pre-populated with a minimal but self-consistent capability block
// (MaxSlots=16, MaxPorts=4, AC64=1), standing in for a real BAR0 mapping.
func newTestRegisters(t *testing.T) (*mmio.Registers, []byte) {
	t.Helper()
	arena := make([]byte, 0x2000)
	base := uintptr(unsafe.Pointer(&arena[0])) //nolint:govet
	write := func(off uintptr, v uint32) {
		*(*uint32)(unsafe.Pointer(base + off)) = v //nolint:govet
	}
	const (
		offCapLength  = 0x00
		offHCSParams1 = 0x04
		offHCSParams2 = 0x08
		offHCSParams3 = 0x0C
		offHCCParams1 = 0x10
		offDBOff      = 0x14
		offRTSOff     = 0x18
		offHCCParams2 = 0x1C
	)
	write(offCapLength, 0x20)
	write(offHCSParams1, (4<<24)|(1<<8)|16)
	write(offHCSParams2, 0)
	write(offHCSParams3, 0)
	write(offHCCParams1, 0x1)
	write(offDBOff, 0x500)
	write(offRTSOff, 0x600)
	write(offHCCParams2, 0)
	return mmio.New(base), arena
}

// newTestController builds a Controller with its register, command-ring,
// event-ring, and DCBAA fields populated directly (bypassing Init's
// BIOS-handoff/reset dance, which needs a live hardware model), so
// command- and transfer-engine logic can be exercised against the
// software event ring alone.
func newTestController(t *testing.T) *Controller {
	t.Helper()
	regs, arena := newTestRegisters(t)
	mem := fakeplatform.NewMemory(1 << 22)

	cmdRing, err := ring.New(mem, 16)
	if err != nil {
		t.Fatalf("ring.New(cmd): %v", err)
	}
	evtRing, err := ring.NewEventRing(mem, 16)
	if err != nil {
		t.Fatalf("ring.NewEventRing: %v", err)
	}
	dcbaa, err := devctx.NewDCBAA(mem, 16)
	if err != nil {
		t.Fatalf("devctx.NewDCBAA: %v", err)
	}

	c := &Controller{
		pci:        &fakeplatform.PCIDevice{ClassCode: 0x0C, SubclassCode: 0x03, ProgIfCode: 0x30},
		mem:        mem,
		clk:        fakeplatform.Clock{},
		regs:       regs,
		cmdRing:    cmdRing,
		evtRing:    evtRing,
		dcbaa:      dcbaa,
		maxSlotsEn: 16,
		numPorts:   4,
		events:     newEventQueue(32),
	}
	t.Cleanup(func() { _ = arena[0] })
	return c
}

// pushEvent writes tr directly at the event ring's current dequeue
// position, relying on fakeplatform.Memory's identity mapping so the
// physical dequeue address is also a valid virtual address to write
// through.
func pushEvent(t *testing.T, c *Controller, tr trb.TRB) {
	t.Helper()
	tr.SetCycle(true) // a freshly allocated event ring starts with CCS=true
	addr := c.evtRing.DequeuePhys()
	var buf [trb.Size]byte
	tr.Encode(buf[:])
	dst := (*[trb.Size]byte)(unsafe.Pointer(addr)) //nolint:govet
	*dst = buf
}
