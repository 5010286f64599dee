// Package ring implements the producer ring abstraction shared by the
// command ring and every transfer ring (spec §4.2), plus the consumer
// event ring (spec §4.3). Both are single-segment rings. The producer
// ring is terminated by a Link TRB whose Toggle Cycle bit is always set,
// matching the original source's xhcd_newRing/initSegment (single
// segment, isLast always 1); the event ring has no Link TRB and is
// described to the controller by a one-entry Event Ring Segment Table.
package ring

import (
	"fmt"
	"unsafe"

	"github.com/ardnew/xhci/internal/log"
	"github.com/ardnew/xhci/internal/xerr"
	"github.com/ardnew/xhci/platform"
	"github.com/ardnew/xhci/trb"
)

// Alignment and boundary constraints xHCI 1.x §6.2.2.2 imposes on every
// ring segment: 64-byte aligned, never crossing a physical 64KiB page.
const (
	segmentAlign    = 64
	segmentBoundary = 64 * 1024
)

// Ring is a producer TRB ring: the command ring, or one endpoint's
// transfer ring. The last slot of the backing segment is reserved for a
// Link TRB that wraps the producer back to the segment's first slot,
// toggling the Producer Cycle State (spec §4.2).
type Ring struct {
	mem      platform.Memory
	base     uintptr // virtual address of the segment
	phys     uintptr // physical (DMA) address of the segment
	size     int     // TRB slots, including the reserved Link TRB
	enqueue  int     // index of the next slot to write
	pcs      bool    // Producer Cycle State
	enqueued uint64  // lifetime count of non-link TRBs enqueued, for Stats
}

// New allocates a new single-segment ring of size TRB slots (size must
// be at least 2: one usable slot plus the Link TRB) and installs its
// terminating Link TRB.
func New(mem platform.Memory, size int) (*Ring, error) {
	if size < 2 {
		return nil, fmt.Errorf("%w: ring size must be at least 2", xerr.ErrInvalidParameter)
	}
	base, err := mem.AllocAligned(size*trb.Size, segmentAlign, segmentBoundary)
	if err != nil {
		return nil, fmt.Errorf("xhci: allocate ring: %w", err)
	}
	r := &Ring{
		mem:  mem,
		base: base,
		phys: mem.PhysAddr(base),
		size: size,
		pcs:  true,
	}
	link := trb.NewLink(uint64(r.phys), true)
	link.SetCycle(true)
	r.writeSlot(size-1, link)
	log.Debug(log.ComponentRing, "ring allocated", "slots", size, "phys", fmt.Sprintf("%#x", r.phys))
	return r, nil
}

// PhysBase returns the physical address of slot 0, the value to program
// into CRCR or an endpoint/stream context's TR Dequeue Pointer, OR'd
// with the ring's current PCS bit by the caller.
func (r *Ring) PhysBase() uintptr { return r.phys }

// PCS returns the ring's current Producer Cycle State.
func (r *Ring) PCS() bool { return r.pcs }

// Free releases the ring's backing memory.
func (r *Ring) Free() { r.mem.Free(r.base) }

func (r *Ring) slotAddr(i int) uintptr { return r.base + uintptr(i)*trb.Size }

func (r *Ring) writeSlot(i int, t trb.TRB) {
	var buf [trb.Size]byte
	t.Encode(buf[:])
	dst := (*[trb.Size]byte)(unsafe.Pointer(r.slotAddr(i))) //nolint:govet
	*dst = buf
}

// Enqueue writes t into the next producer slot, stamped with the
// ring's current PCS, advancing past (and across) the Link TRB as
// needed, toggling PCS on wraparound. It returns the physical address
// of the slot the TRB was written to, which event TRBs echo back as
// their own TRB Pointer so callers can correlate completions.
func (r *Ring) Enqueue(t trb.TRB) uintptr {
	t.SetCycle(r.pcs)
	addr := r.phys + uintptr(r.enqueue)*trb.Size
	r.writeSlot(r.enqueue, t)
	r.enqueued++
	r.enqueue++
	if r.enqueue == r.size-1 {
		// Flip the reserved Link TRB's cycle bit to match PCS, then wrap.
		link := trb.NewLink(uint64(r.phys), true)
		link.SetCycle(r.pcs)
		r.writeSlot(r.size-1, link)
		r.enqueue = 0
		r.pcs = !r.pcs
	}
	return addr
}

// EnqueueTD writes every TRB of a Transfer Descriptor in order, setting
// the Chain bit on all but the last so the controller processes them as
// one atomic unit, and returns the physical address of the first TRB
// (the one to use for cancellation/tracking).
func (r *Ring) EnqueueTD(trbs []trb.TRB) uintptr {
	first := uintptr(0)
	for i := range trbs {
		if i < len(trbs)-1 {
			trbs[i].SetChain(true)
		}
		addr := r.Enqueue(trbs[i])
		if i == 0 {
			first = addr
		}
	}
	return first
}

// Stats reports lifetime enqueue count and current producer position,
// for diagnostics only (spec §4: debug accessor, not part of the
// driver's control flow).
type Stats struct {
	Enqueued uint64
	Position int
	PCS      bool
}

// Stats returns the ring's current debug statistics.
func (r *Ring) Stats() Stats {
	return Stats{Enqueued: r.enqueued, Position: r.enqueue, PCS: r.pcs}
}
