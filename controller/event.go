package controller

import (
	"sync/atomic"

	"github.com/ardnew/xhci/devctx"
	"github.com/ardnew/xhci/internal/log"
	"github.com/ardnew/xhci/mmio"
	"github.com/ardnew/xhci/trb"
)

// eventDrainBatch bounds how many event TRBs the ISR drains per
// invocation (spec §4.7: "batches of ≤32").
const eventDrainBatch = 32

// handlerTable is a fixed (slotID, endpointID) -> handler map, grounded
// in the original source's Xhcd.handlers array rather than a Go map, so
// dispatch from interrupt context never allocates (spec §9: handler
// table, not a map).
type handlerTable [MaxSlotsCap + 1][devctx.NumEndpoints + 1]func(trb.TRB)

// eventQueue is the internal consumer queue of event TRBs the ISR
// pushes into and the synchronous wait paths pop from (spec §4.7): a
// fixed-size ring buffer, single producer (ISR), single consumer
// (waiter), synchronized with atomic acquire/release operations rather
// than the original source's unsynchronized volatile indices (spec
// Open Question b).
type eventQueue struct {
	buf   []trb.TRB
	n     int
	enq   atomic.Uint64 // producer index, monotonically increasing
	deq   atomic.Uint64 // consumer index, monotonically increasing
}

func newEventQueue(size int) *eventQueue {
	return &eventQueue{buf: make([]trb.TRB, size), n: size}
}

// push is called only from the ISR. It drops the event if the queue is
// full (the caller-visible effect is a missed wakeup; the event is
// still delivered to any registered per-endpoint handler).
func (q *eventQueue) push(t trb.TRB) bool {
	enq := q.enq.Load()
	deq := q.deq.Load()
	if enq-deq >= uint64(q.n) {
		return false
	}
	q.buf[enq%uint64(q.n)] = t
	// Release: the write to buf must be visible before enq is bumped.
	q.enq.Store(enq + 1)
	return true
}

// pop is called only from the consumer (main-context waiter). It
// returns false if the queue is empty.
func (q *eventQueue) pop() (trb.TRB, bool) {
	deq := q.deq.Load()
	// Acquire: observe the producer's enq bump before reading buf.
	enq := q.enq.Load()
	if deq == enq {
		return trb.TRB{}, false
	}
	t := q.buf[deq%uint64(q.n)]
	q.deq.Store(deq + 1)
	return t, true
}

// isr is invoked by the platform's MSI-X dispatch for vector 0. It
// drains up to eventDrainBatch event TRBs, updates ERDP, pushes each
// event into the internal queue for synchronous waiters, and invokes
// any registered per-(slot,endpoint) handler for Transfer Events. Any
// events beyond the batch limit are left on the ring for the next
// invocation, rather than popped and discarded.
func (c *Controller) isr(handlerData any) {
	drained := c.evtRing.Drain(func(t trb.TRB) { c.dispatchEvent(t) }, eventDrainBatch)
	if drained > 0 {
		erdp := uint64(c.evtRing.DequeuePhys()) | 1<<3 // EHB
		c.regs.WriteInterrupter64(interrupterIndex, mmio.OffERDP, erdp)
		c.regs.OrInterrupter32(interrupterIndex, mmio.OffIMAN, mmio.IMANInterruptPending)
	}
}

func (c *Controller) dispatchEvent(t trb.TRB) {
	if !c.events.push(t) {
		log.Warn(log.ComponentEvent, "event queue full, event dropped")
	}
	if t.Type() == trb.TypeTransferEvent {
		slot := t.SlotID()
		ep := t.EndpointID()
		if int(slot) < len(c.handlers) && int(ep) < len(c.handlers[slot]) {
			if h := c.handlers[slot][ep]; h != nil {
				h(t)
			}
		}
	}
}

// SetInterrupter registers handler to be invoked, from interrupt
// context, for every Transfer Event on (slotID, endpointIndex), per
// spec §6 set_interrupter.
func (c *Controller) SetInterrupter(slotID uint8, endpointIndex int, handler func(trb.TRB)) {
	c.handlers[slotID][endpointIndex] = handler
}
