package ring

import (
	"unsafe"

	"github.com/ardnew/xhci/internal/log"
	"github.com/ardnew/xhci/platform"
	"github.com/ardnew/xhci/trb"
)

// erstEntrySize is the size in bytes of one Event Ring Segment Table
// entry (xHCI 1.x §6.5): Ring Segment Base Address (64b) + Ring Segment
// Size (16b) + reserved.
const erstEntrySize = 16

// EventRing is the consumer side of one interrupter's event ring: a
// single-segment ring described by a one-entry Event Ring Segment
// Table, per spec §4.3. The controller is the producer; this driver
// only ever reads and advances the dequeue pointer.
type EventRing struct {
	mem       platform.Memory
	segBase   uintptr // virtual address of the event TRB segment
	segPhys   uintptr
	erstBase  uintptr // virtual address of the one-entry ERST
	erstPhys  uintptr
	size      int
	dequeue   int
	ccs       bool // Consumer Cycle State
}

// NewEventRing allocates an event TRB segment of size entries and its
// backing one-entry ERST.
func NewEventRing(mem platform.Memory, size int) (*EventRing, error) {
	segBase, err := mem.AllocAligned(size*trb.Size, segmentAlign, segmentBoundary)
	if err != nil {
		return nil, err
	}
	erstBase, err := mem.AllocAligned(erstEntrySize, erstEntrySize, 0)
	if err != nil {
		mem.Free(segBase)
		return nil, err
	}
	er := &EventRing{
		mem:      mem,
		segBase:  segBase,
		segPhys:  mem.PhysAddr(segBase),
		erstBase: erstBase,
		erstPhys: mem.PhysAddr(erstBase),
		size:     size,
		ccs:      true,
	}
	er.writeERSTEntry()
	log.Debug(log.ComponentRing, "event ring allocated", "slots", size, "phys", er.segPhys)
	return er, nil
}

func (er *EventRing) writeERSTEntry() {
	word0 := (*uint64)(unsafe.Pointer(er.erstBase)) //nolint:govet
	word1 := (*uint32)(unsafe.Pointer(er.erstBase + 8)) //nolint:govet
	*word0 = uint64(er.segPhys)
	*word1 = uint32(er.size)
}

// ERSTPhysBase returns the physical address to program into the
// interrupter's ERSTBA register.
func (er *EventRing) ERSTPhysBase() uintptr { return er.erstPhys }

// ERSTSize returns the number of entries in the table (always 1 here).
func (er *EventRing) ERSTSize() uint32 { return 1 }

// DequeuePhys returns the physical address the interrupter's ERDP
// register should currently hold.
func (er *EventRing) DequeuePhys() uintptr {
	return er.segPhys + uintptr(er.dequeue)*trb.Size
}

func (er *EventRing) readSlot(i int) trb.TRB {
	var buf [trb.Size]byte
	src := (*[trb.Size]byte)(unsafe.Pointer(er.segBase + uintptr(i)*trb.Size)) //nolint:govet
	buf = *src
	return trb.Decode(buf[:])
}

// Pending reports whether the slot at the current dequeue pointer holds
// a TRB the controller has produced: i.e. its Cycle bit matches CCS.
func (er *EventRing) Pending() bool {
	t := er.readSlot(er.dequeue)
	return t.Cycle() == er.ccs
}

// Pop returns the event TRB at the current dequeue pointer and advances
// past it, toggling CCS on wraparound. Callers must check Pending first;
// Pop does not itself validate the cycle bit.
func (er *EventRing) Pop() trb.TRB {
	t := er.readSlot(er.dequeue)
	er.dequeue++
	if er.dequeue == er.size {
		er.dequeue = 0
		er.ccs = !er.ccs
	}
	return t
}

// Drain calls fn for every event TRB currently available (Cycle bit
// matches CCS), in order, stopping as soon as the ring is caught up to
// the controller's producer position or max events have been popped,
// whichever comes first; max <= 0 means unbounded. This bounds the
// drain itself rather than letting the caller skip dispatch on already
// -popped events, so events beyond the limit are left on the ring for
// the next call (spec §4.7's "batches of ≤32").
func (er *EventRing) Drain(fn func(trb.TRB), max int) int {
	n := 0
	for er.Pending() && (max <= 0 || n < max) {
		fn(er.Pop())
		n++
	}
	return n
}

// Free releases the event ring's backing memory.
func (er *EventRing) Free() {
	er.mem.Free(er.segBase)
	er.mem.Free(er.erstBase)
}
