package devctx

import (
	"testing"

	"github.com/ardnew/xhci/internal/fakeplatform"
)

func TestEndpointIndexBijection(t *testing.T) {
	cases := []struct {
		num   uint8
		dirIn bool
		want  int
	}{
		{0, false, 1},
		{0, true, 1},
		{1, false, 2},
		{1, true, 3},
		{2, false, 4},
		{2, true, 5},
		{15, true, 31},
	}
	for _, c := range cases {
		got := EndpointIndex(c.num, c.dirIn)
		if got != c.want {
			t.Errorf("EndpointIndex(%d, %v) = %d, want %d", c.num, c.dirIn, got, c.want)
		}
	}

	// Every (epNumber, dirIn) pair in the legal range must map to a
	// distinct index (besides the ep0 special case), i.e. no collisions.
	seen := make(map[int]bool)
	for num := uint8(1); num <= 15; num++ {
		for _, dir := range []bool{false, true} {
			idx := EndpointIndex(num, dir)
			if seen[idx] {
				t.Fatalf("EndpointIndex(%d, %v) collided at index %d", num, dir, idx)
			}
			seen[idx] = true
		}
	}
}

func TestInputContextSlotRoundTrip(t *testing.T) {
	mem := fakeplatform.NewMemory(1 << 20)
	oc, err := NewOutputContext(mem)
	if err != nil {
		t.Fatalf("NewOutputContext: %v", err)
	}

	in, err := NewInputContext(mem)
	if err != nil {
		t.Fatalf("NewInputContext: %v", err)
	}
	in.SetSlot(SlotContext{RouteString: 0, Speed: 3, ContextEntries: 1, RootHubPort: 2})
	got := readSlotContext(in.slotAddr(1))
	if got.Speed != 3 || got.ContextEntries != 1 || got.RootHubPort != 2 {
		t.Fatalf("slot context round-trip mismatch: %+v", got)
	}
	_ = oc
}

func TestEndpointContextRoundTrip(t *testing.T) {
	mem := fakeplatform.NewMemory(1 << 20)
	in, err := NewInputContext(mem)
	if err != nil {
		t.Fatalf("NewInputContext: %v", err)
	}
	want := EndpointContext{
		EPType:           EndpointTypeControl,
		MaxPacketSize:    64,
		ErrorCount:       3,
		TRDequeuePointer: 0x123000,
		DCS:              true,
		AverageTRBLength: 8,
	}
	in.SetEndpoint(1, want)
	got := readEndpointContext(in.epAddr(1, 1))
	if got.EPType != want.EPType || got.MaxPacketSize != want.MaxPacketSize ||
		got.ErrorCount != want.ErrorCount || got.TRDequeuePointer != want.TRDequeuePointer ||
		got.DCS != want.DCS || got.AverageTRBLength != want.AverageTRBLength {
		t.Fatalf("endpoint context round-trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestInputControlContextAddDropFlags(t *testing.T) {
	mem := fakeplatform.NewMemory(1 << 20)
	in, err := NewInputContext(mem)
	if err != nil {
		t.Fatalf("NewInputContext: %v", err)
	}
	var ctl InputControlContext
	ctl.SetAdd(0)
	ctl.SetAdd(1)
	ctl.SetDrop(3)
	in.SetControl(ctl)

	got := in.Control()
	if got.AddFlags&1 == 0 || got.AddFlags&(1<<1) == 0 {
		t.Fatalf("expected add flags for slot and endpoint 1, got %#x", got.AddFlags)
	}
	if got.DropFlags&(1<<3) == 0 {
		t.Fatalf("expected drop flag for endpoint 3, got %#x", got.DropFlags)
	}
}
