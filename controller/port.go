package controller

import (
	"context"
	"fmt"

	"github.com/ardnew/xhci/devctx"
	"github.com/ardnew/xhci/internal/log"
	"github.com/ardnew/xhci/internal/xerr"
	"github.com/ardnew/xhci/mmio"
	"github.com/ardnew/xhci/ring"
	"github.com/ardnew/xhci/trb"
)

// Root-hub port speed codes (PORTSC bits 10:13, xHCI 1.x table 5-23).
const (
	speedFullSpeed  = 1
	speedLowSpeed   = 2
	speedHighSpeed  = 3
	speedSuperSpeed = 4
	speedSuperSpeedPlus = 5
)

// defaultMaxPacketSize0 returns ep0's max packet size before the
// GET_DESCRIPTOR(8) correction, per spec §4.5 Address Device step.
func defaultMaxPacketSize0(speed uint8) uint16 {
	switch speed {
	case speedLowSpeed:
		return 8
	case speedSuperSpeed, speedSuperSpeedPlus:
		return 512
	default:
		return 64
	}
}

// portResetBudget bounds how many times ScanPorts polls a USB2 port for
// PRC+PED after setting PORTSC.PR (spec §4.5: "poll for PRC then PED").
const portResetBudget = 50_000

// candidatePort reports whether PORTSC shows a freshly connected device
// (Connect Status Change + Current Connect Status), per spec §4.5.
func candidatePort(portsc uint32) bool {
	return portsc&mmio.PortSCConnectStatusChange != 0 && portsc&mmio.PortSCCurrentConnectStatus != 0
}

// AttachedDevice is the result of fully enumerating one newly connected
// root-hub port (spec §4.8 get_newly_attached_devices).
type AttachedDevice struct {
	SlotID    uint8
	Port      int
	Speed     uint8
	Ep0MaxPacketSize uint16
}

// ScanPorts walks every root-hub port looking for freshly connected
// devices (PORTSC CSC+CCS) and runs each candidate through the
// enumeration state machine (spec §4.5). It returns up to max fully
// enumerated devices; per-port failures are logged and the port is
// abandoned, not fatal to the scan (spec §7 policy).
func (c *Controller) ScanPorts(ctx context.Context, max int) []AttachedDevice {
	var out []AttachedDevice
	for port := 1; port <= c.numPorts && len(out) < max; port++ {
		portsc := c.regs.ReadPortSC(port)
		if !candidatePort(portsc) {
			continue
		}
		dev, err := c.enumeratePort(ctx, port, portsc)
		if err != nil {
			log.Warn(log.ComponentPort, "port enumeration failed", "port", port, "error", err)
			continue
		}
		out = append(out, *dev)
	}
	return out
}

// enumeratePort drives one candidate port through Disconnected -> Reset
// -> Enabled -> SlotAssigned -> Addressed -> MPSKnown -> Ready (spec
// §4.5's state-machine diagram); "Attached" is the caller's job (device
// descriptor fetch lives in the usb package, above this one).
func (c *Controller) enumeratePort(ctx context.Context, port int, portsc uint32) (*AttachedDevice, error) {
	info := c.PortInfo(port)

	speed, err := c.bringPortUp(ctx, port, portsc, info.MajorRevision)
	if err != nil {
		return nil, err
	}

	slotID, err := c.enableSlot(ctx, info.SlotType)
	if err != nil {
		return nil, err
	}

	if _, err := c.addressDevice(ctx, slotID, port, speed); err != nil {
		return nil, err
	}

	mps, err := c.fixupMaxPacketSize(ctx, slotID, speed)
	if err != nil {
		return nil, err
	}

	return &AttachedDevice{SlotID: slotID, Port: port, Speed: speed, Ep0MaxPacketSize: mps}, nil
}

// portSCChangeBits is every RW1CS change bit this driver clears.
// PORTSC.PED (bit 1) is RW1CS too, but writing a 1 to it *disables*
// the port rather than acknowledging a change, so it is never included
// here: a PORTSC write only ever clears change bits, and PED is always
// written as 0 (left untouched), matching the original's enablePort.
const portSCChangeBits = mmio.PortSCConnectStatusChange | mmio.PortSCPortResetChange | mmio.PortSCWarmResetChange

// bringPortUp clears CSC and, for USB2 ports, drives an explicit port
// reset (PR) until PRC+PED; USB3 ports are link-trained by the
// controller and only need their change bits cleared (spec §4.5).
func (c *Controller) bringPortUp(ctx context.Context, port int, portsc uint32, majorRev uint8) (uint8, error) {
	// Clear whichever change bits are currently asserted (write-1-to-clear);
	// PED is never written as 1, so the port is never accidentally disabled.
	c.regs.WritePortSC(port, portsc&portSCChangeBits)

	if majorRev == 3 {
		// USB3: the controller link-trains and enables the port on its
		// own; the driver only waits for PED and clears change bits.
		for i := 0; i < portResetBudget; i++ {
			portsc = c.regs.ReadPortSC(port)
			if portsc&mmio.PortSCPortEnabled != 0 {
				c.regs.WritePortSC(port, portsc&portSCChangeBits)
				speed := uint8((portsc >> mmio.PortSCSpeedShift) & mmio.PortSCSpeedMask)
				return speed, nil
			}
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
		}
		return 0, xerr.ErrEnablePortError
	}

	// USB2: explicit reset, read-modify-write so Port Power and other RW
	// fields survive; only the change bits and PED are forced to 0 and PR
	// to 1 (mirroring the original source's read-modify-write reset).
	cur := c.regs.ReadPortSC(port)
	preserveMask := ^uint32(portSCChangeBits | mmio.PortSCPortEnabled)
	c.regs.WritePortSC(port, (cur&preserveMask)|mmio.PortSCPortReset)
	for i := 0; i < portResetBudget; i++ {
		portsc = c.regs.ReadPortSC(port)
		if portsc&mmio.PortSCPortResetChange != 0 && portsc&mmio.PortSCPortEnabled != 0 {
			c.regs.WritePortSC(port, portsc&portSCChangeBits)
			speed := uint8((portsc >> mmio.PortSCSpeedShift) & mmio.PortSCSpeedMask)
			return speed, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
	return 0, xerr.ErrEnablePortError
}

// enableSlot issues Enable Slot for the port's protocol slot type and
// returns the assigned Slot ID (spec §4.5 "Enable Slot").
func (c *Controller) enableSlot(ctx context.Context, slotType uint8) (uint8, error) {
	evt, err := c.issueCommand(ctx, "enable slot", trb.NewEnableSlot(slotType))
	if err != nil {
		if ce, ok := asCommandError(err); ok && ce.Code == xerr.CompletionNoSlotsAvailableError {
			return 0, xerr.ErrNoSlotsAvailable
		}
		return 0, err
	}
	return evt.SlotID(), nil
}

func asCommandError(err error) (*xerr.CommandError, bool) {
	ce, ok := err.(*xerr.CommandError)
	return ce, ok
}

// addressDevice allocates the slot's output context and default control
// transfer ring, installs them, and issues Address Device with BSR=0
// (spec §4.5 "Address Device"). It returns the newly allocated ep0 ring,
// which is also stored in the slot's transferRing[1].
func (c *Controller) addressDevice(ctx context.Context, slotID uint8, port int, speed uint8) (*ring.Ring, error) {
	output, err := devctx.NewOutputContext(c.mem)
	if err != nil {
		return nil, fmt.Errorf("xhci: allocate output context: %w", err)
	}
	c.dcbaa.SetSlot(slotID, output)

	ep0Ring, err := ring.New(c.mem, defaultTransferRingSize)
	if err != nil {
		return nil, fmt.Errorf("xhci: allocate ep0 ring: %w", err)
	}

	c.slots[slotID] = &slotState{slotID: slotID, port: port, speed: speed, output: output}
	c.slots[slotID].transferRing[1] = ep0Ring

	in, err := devctx.NewInputContext(c.mem)
	if err != nil {
		return nil, fmt.Errorf("xhci: allocate input context: %w", err)
	}
	var ctl devctx.InputControlContext
	ctl.SetAdd(0)
	ctl.SetAdd(1)
	in.SetControl(ctl)
	in.SetSlot(devctx.SlotContext{
		RouteString:    0,
		Speed:          speed,
		ContextEntries: 1,
		RootHubPort:    uint8(port),
	})
	mps := defaultMaxPacketSize0(speed)
	in.SetEndpoint(1, devctx.EndpointContext{
		EPType:           devctx.EndpointTypeControl,
		MaxPacketSize:    mps,
		ErrorCount:       3,
		TRDequeuePointer: uint64(ep0Ring.PhysBase()),
		DCS:              ep0Ring.PCS(),
		AverageTRBLength: 8,
	})

	if _, err := c.issueCommand(ctx, "address device", trb.NewAddressDevice(uint64(in.PhysAddr()), slotID, false)); err != nil {
		if _, ok := asCommandError(err); ok {
			return nil, xerr.ErrAddressDeviceError
		}
		return nil, err
	}
	return ep0Ring, nil
}

// fixupMaxPacketSize issues GET_DESCRIPTOR(device, 8) through ep0 and,
// if byte[7] disagrees with the MPS assumed at Address Device time,
// rebuilds the input context with only the endpoint Add-flag set and
// runs Evaluate Context (spec §4.5 "Max-Packet-Size refinement").
func (c *Controller) fixupMaxPacketSize(ctx context.Context, slotID uint8, speed uint8) (uint16, error) {
	var buf [8]byte
	if err := c.controlRead(ctx, slotID, 0x80, 0x06, 0x0100, 0, buf[:]); err != nil {
		return 0, err
	}
	actual := uint16(buf[7])
	if actual == 0 {
		actual = defaultMaxPacketSize0(speed)
	}
	current := c.slots[slotID].output.Endpoint(1).MaxPacketSize
	if actual == current {
		return actual, nil
	}

	in, err := devctx.NewInputContext(c.mem)
	if err != nil {
		return 0, fmt.Errorf("xhci: allocate input context: %w", err)
	}
	var ctl devctx.InputControlContext
	ctl.SetAdd(1)
	in.SetControl(ctl)
	ep := c.slots[slotID].output.Endpoint(1)
	ep.MaxPacketSize = actual
	in.SetEndpoint(1, ep)

	if _, err := c.issueCommand(ctx, "evaluate context", trb.NewEvaluateContext(uint64(in.PhysAddr()), slotID)); err != nil {
		return 0, err
	}
	return actual, nil
}
