package controller

import (
	"context"
	"fmt"

	"github.com/ardnew/xhci/internal/xerr"
	"github.com/ardnew/xhci/mmio"
	"github.com/ardnew/xhci/trb"
)

// issueCommand enqueues t on the command ring, rings the host controller
// doorbell, and synchronously waits for the matching Command Completion
// Event (spec §4.6: "all waits are synchronous in this core"). The
// command ring is single-writer; c.mu serializes concurrent callers
// (spec §5).
func (c *Controller) issueCommand(ctx context.Context, name string, t trb.TRB) (trb.TRB, error) {
	c.mu.Lock()
	addr := c.cmdRing.Enqueue(t)
	c.regs.RingDoorbell(0, 0)
	c.mu.Unlock()

	evt, err := c.awaitCompletion(ctx, func(e trb.TRB) bool {
		return e.Type() == trb.TypeCommandCompletionEvent && e.Parameter == uint64(addr)
	})
	if err != nil {
		return trb.TRB{}, err
	}
	code := xerr.CompletionCode(evt.CompletionCode())
	if !code.IsSuccess() {
		return evt, &xerr.CommandError{Command: name, Code: code}
	}
	return evt, nil
}

// awaitCompletion polls the internal event queue (spec §4.7
// dequeue_event_trb) until match returns true, falling back to a
// direct event-ring poll when MSI-X delivery is unavailable.
func (c *Controller) awaitCompletion(ctx context.Context, match func(trb.TRB) bool) (trb.TRB, error) {
	for i := 0; i < waitBudget; i++ {
		if t, ok := c.events.pop(); ok {
			if match(t) {
				return t, nil
			}
			// Not the event we're waiting on (e.g. another endpoint's
			// transfer event interleaved); push it back is unnecessary
			// since matching is type+address specific and callers only
			// wait on one outstanding command/transfer at a time per
			// ring (spec §5: single-writer transfer rings).
			continue
		}
		if !c.pci.MSIXCapable() {
			c.pollEventRingDirect()
		}
		if ctx.Err() != nil {
			return trb.TRB{}, fmt.Errorf("%w", xerr.ErrCancelled)
		}
	}
	return trb.TRB{}, xerr.ErrControllerHung
}

// pollEventRingDirect drains the event ring directly, for the no-MSI-X
// polled init-mode path (spec §4.6 "direct poll in init mode").
func (c *Controller) pollEventRingDirect() {
	c.evtRing.Drain(func(t trb.TRB) { c.dispatchEvent(t) }, 0)
	erdp := uint64(c.evtRing.DequeuePhys())
	c.regs.WriteInterrupter64(interrupterIndex, mmio.OffERDP, erdp)
}
