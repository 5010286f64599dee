package controller

import (
	"testing"

	"github.com/ardnew/xhci/trb"
)

func TestEventQueuePushPopFIFO(t *testing.T) {
	q := newEventQueue(4)
	for i := uint8(0); i < 3; i++ {
		tr := trb.TRB{}
		tr.SetSlotID(i + 1)
		if !q.push(tr) {
			t.Fatalf("push %d: expected success", i)
		}
	}
	for i := uint8(0); i < 3; i++ {
		got, ok := q.pop()
		if !ok {
			t.Fatalf("pop %d: expected a value", i)
		}
		if got.SlotID() != i+1 {
			t.Fatalf("pop %d: got slot %d, want %d (FIFO order violated)", i, got.SlotID(), i+1)
		}
	}
	if _, ok := q.pop(); ok {
		t.Fatal("expected pop on empty queue to fail")
	}
}

func TestEventQueuePushDropsWhenFull(t *testing.T) {
	q := newEventQueue(2)
	if !q.push(trb.TRB{}) {
		t.Fatal("expected first push to succeed")
	}
	if !q.push(trb.TRB{}) {
		t.Fatal("expected second push to succeed")
	}
	if q.push(trb.TRB{}) {
		t.Fatal("expected push on a full queue to report failure")
	}
	if _, ok := q.pop(); !ok {
		t.Fatal("expected a value after draining one slot")
	}
	if !q.push(trb.TRB{}) {
		t.Fatal("expected push to succeed again after pop freed a slot")
	}
}

func TestEventQueueWrapsAroundBuffer(t *testing.T) {
	q := newEventQueue(3)
	for round := 0; round < 5; round++ {
		tr := trb.TRB{}
		tr.SetSlotID(uint8(round + 1))
		if !q.push(tr) {
			t.Fatalf("round %d: push failed", round)
		}
		got, ok := q.pop()
		if !ok {
			t.Fatalf("round %d: pop failed", round)
		}
		if got.SlotID() != uint8(round+1) {
			t.Fatalf("round %d: got slot %d, want %d", round, got.SlotID(), round+1)
		}
	}
}
