package ring

import (
	"testing"
	"unsafe"

	"github.com/ardnew/xhci/internal/fakeplatform"
	"github.com/ardnew/xhci/trb"
)

func writeEventSlot(t *testing.T, er *EventRing, i int, tr trb.TRB) {
	t.Helper()
	var buf [trb.Size]byte
	tr.Encode(buf[:])
	dst := (*[trb.Size]byte)(unsafe.Pointer(er.segBase + uintptr(i)*trb.Size)) //nolint:govet
	*dst = buf
}

func TestEventRingPendingRequiresCycleMatch(t *testing.T) {
	mem := fakeplatform.NewMemory(1 << 20)
	er, err := NewEventRing(mem, 4)
	if err != nil {
		t.Fatalf("NewEventRing: %v", err)
	}
	if er.Pending() {
		t.Fatal("expected no pending event on a freshly allocated ring (all-zero cycle bits, CCS=true)")
	}

	evt := trb.TRB{}
	evt.SetType(trb.TypeCommandCompletionEvent)
	evt.SetCycle(true)
	writeEventSlot(t, er, 0, evt)

	if !er.Pending() {
		t.Fatal("expected pending event once cycle bit matches CCS")
	}
	got := er.Pop()
	if got.Type() != trb.TypeCommandCompletionEvent {
		t.Fatalf("expected command completion event, got %v", got.Type())
	}
	if er.Pending() {
		t.Fatal("expected no further pending events after consuming the only one")
	}
}

func TestEventRingDrainCountsAndWraps(t *testing.T) {
	mem := fakeplatform.NewMemory(1 << 20)
	er, err := NewEventRing(mem, 2)
	if err != nil {
		t.Fatalf("NewEventRing: %v", err)
	}
	for i := 0; i < 2; i++ {
		evt := trb.TRB{}
		evt.SetType(trb.TypeTransferEvent)
		evt.SetCycle(true)
		writeEventSlot(t, er, i, evt)
	}
	n := er.Drain(func(trb.TRB) {}, 0)
	if n != 2 {
		t.Fatalf("expected to drain 2 events, got %d", n)
	}
	if er.Pending() {
		t.Fatal("expected ring caught up to producer after full drain")
	}
}

func TestEventRingDrainRespectsMax(t *testing.T) {
	mem := fakeplatform.NewMemory(1 << 20)
	er, err := NewEventRing(mem, 4)
	if err != nil {
		t.Fatalf("NewEventRing: %v", err)
	}
	for i := 0; i < 3; i++ {
		evt := trb.TRB{}
		evt.SetType(trb.TypeTransferEvent)
		evt.SetCycle(true)
		writeEventSlot(t, er, i, evt)
	}
	n := er.Drain(func(trb.TRB) {}, 2)
	if n != 2 {
		t.Fatalf("expected to drain exactly 2 events, got %d", n)
	}
	if !er.Pending() {
		t.Fatal("expected the third event to remain pending after a bounded drain")
	}
}

func TestERSTPhysBase(t *testing.T) {
	mem := fakeplatform.NewMemory(1 << 20)
	er, err := NewEventRing(mem, 4)
	if err != nil {
		t.Fatalf("NewEventRing: %v", err)
	}
	if er.ERSTPhysBase() == 0 {
		t.Fatal("expected non-zero ERST physical base")
	}
	if er.ERSTSize() != 1 {
		t.Fatalf("expected single-entry ERST, got size %d", er.ERSTSize())
	}
}
