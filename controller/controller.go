// Package controller implements the xHCI controller lifecycle, root-port
// enumeration state machine, transfer engine, and event dispatcher (spec
// §4.4–§4.7). It is the direct analogue of the teacher's host package,
// driving a real xHCI controller through platform.PCIDevice/platform.Memory
// instead of a software HAL.
package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/xhci/devctx"
	"github.com/ardnew/xhci/internal/log"
	"github.com/ardnew/xhci/internal/xerr"
	"github.com/ardnew/xhci/mmio"
	"github.com/ardnew/xhci/platform"
	"github.com/ardnew/xhci/ring"
)

// MaxSlotsCap is the driver's self-imposed ceiling on CONFIG.MaxSlotsEn,
// independent of how many the controller advertises (spec §4.4 step 5).
const MaxSlotsCap = 16

// commandRingSize and defaultTransferRingSize are the TRB-slot counts
// this driver allocates for the command ring and the default control
// transfer ring, chosen generously enough that wraparound during normal
// operation is rare but exercised by tests.
const (
	commandRingSize        = 64
	defaultTransferRingSize = 32
	eventRingSize           = 64
	interrupterIndex        = 0
)

// Controller owns one xHCI controller instance: its register view, its
// command/event rings, its DCBAA, and the per-slot, per-endpoint state
// the enumeration and transfer engines operate on.
type Controller struct {
	pci platform.PCIDevice
	mem platform.Memory
	clk platform.Clock

	regs *mmio.Registers

	mu      sync.Mutex // serializes command-ring producers (spec §5)
	cmdRing *ring.Ring
	evtRing *ring.EventRing
	dcbaa   *devctx.DCBAA

	maxSlotsEn int
	numPorts   int
	portInfo   []PortInfo

	slots [MaxSlotsCap + 1]*slotState // indexed by slot ID, 1-based

	events *eventQueue
	handlers handlerTable

	running bool
}

// PortInfo is one entry of the Port Info table populated from Supported
// Protocol extended capabilities (spec §3).
type PortInfo struct {
	MajorRevision uint8
	SlotType      uint8
}

// slotState is the driver's bookkeeping for one allocated device slot.
type slotState struct {
	slotID       uint8
	port         int
	speed        uint8
	output       *devctx.OutputContext
	transferRing [devctx.NumEndpoints + 1]*ring.Ring // index 0 unused, 1..31 used
}

// New constructs a Controller bound to a PCI function and platform
// services, without touching hardware; call Init to bring it up.
func New(pci platform.PCIDevice, mem platform.Memory, clk platform.Clock) (*Controller, error) {
	if pci.Class() != platform.PCIClassSerialBus || pci.Subclass() != platform.PCISubclassUSB || pci.ProgIf() != platform.PCIProgIfXHCI {
		return nil, xerr.ErrNotXhci
	}
	return &Controller{pci: pci, mem: mem, clk: clk, events: newEventQueue(32)}, nil
}

// Init performs the controller lifecycle (spec §4.4 steps 1-10): BIOS
// handoff, reset, slot/DCBAA/scratchpad setup, command and event ring
// install, and finally starts the controller with interrupts enabled.
func (c *Controller) Init(ctx context.Context) error {
	phys, length := c.pci.BAR0()
	virt, err := c.mem.MapMMIO(phys, length)
	if err != nil {
		return fmt.Errorf("xhci: map BAR0: %w", err)
	}
	c.regs = mmio.New(virt)

	c.regs.ClaimFromBIOS(func() bool {
		c.clk.Sleep(ctx, 1_000_000)
		return ctx.Err() != nil
	})

	if err := c.waitClear(ctx, mmio.OffUSBStatus, mmio.USBStsControllerNR); err != nil {
		return fmt.Errorf("%w: CNR never cleared", xerr.ErrControllerHung)
	}

	if err := c.resetController(ctx); err != nil {
		return err
	}

	maxSlots := c.regs.MaxSlots()
	c.maxSlotsEn = maxSlots
	if c.maxSlotsEn > MaxSlotsCap {
		c.maxSlotsEn = MaxSlotsCap
	}
	c.regs.WriteOp(mmio.OffConfig, uint32(c.maxSlotsEn))

	c.dcbaa, err = devctx.NewDCBAA(c.mem, c.maxSlotsEn)
	if err != nil {
		return fmt.Errorf("xhci: allocate DCBAA: %w", err)
	}
	c.regs.WriteOp64(mmio.OffDCBAAP, uint64(c.dcbaa.PhysAddr()))

	if err := c.dcbaa.InitScratchpad(c.regs.MaxScratchpadBufs()); err != nil {
		return fmt.Errorf("xhci: allocate scratchpad: %w", err)
	}

	c.cmdRing, err = ring.New(c.mem, commandRingSize)
	if err != nil {
		return fmt.Errorf("xhci: allocate command ring: %w", err)
	}
	crcr := uint64(c.cmdRing.PhysBase())
	if c.cmdRing.PCS() {
		crcr |= 1
	}
	c.regs.WriteOp64(mmio.OffCRCR, crcr)

	c.evtRing, err = ring.NewEventRing(c.mem, eventRingSize)
	if err != nil {
		return fmt.Errorf("xhci: allocate event ring: %w", err)
	}
	c.regs.WriteInterrupter32(interrupterIndex, mmio.OffERSTSZ, c.evtRing.ERSTSize())
	c.regs.WriteInterrupter64(interrupterIndex, mmio.OffERSTBA, uint64(c.evtRing.ERSTPhysBase()))
	c.regs.WriteInterrupter64(interrupterIndex, mmio.OffERDP, uint64(c.evtRing.DequeuePhys()))
	c.regs.OrInterrupter32(interrupterIndex, mmio.OffIMAN, mmio.IMANInterruptEnable)

	c.numPorts = c.regs.MaxPorts()
	c.portInfo = buildPortInfo(c.regs, c.numPorts)

	if err := c.setupInterrupts(); err != nil {
		return fmt.Errorf("xhci: MSI-X setup: %w", err)
	}

	c.regs.OrOp(mmio.OffUSBCommand, mmio.USBCmdINTE|mmio.USBCmdRunStop)
	if err := c.waitClear(ctx, mmio.OffUSBStatus, mmio.USBStsHCHalted); err != nil {
		return fmt.Errorf("%w: HCH never cleared", xerr.ErrControllerHung)
	}

	c.running = true
	log.Info(log.ComponentController, "xhci controller started",
		"maxSlotsEn", c.maxSlotsEn, "numPorts", c.numPorts)
	return nil
}

func (c *Controller) resetController(ctx context.Context) error {
	c.regs.AndOp(mmio.OffUSBCommand, ^uint32(mmio.USBCmdRunStop))
	if err := c.waitSet(ctx, mmio.OffUSBStatus, mmio.USBStsHCHalted); err != nil {
		return fmt.Errorf("%w: halt before reset", xerr.ErrControllerHung)
	}
	c.regs.OrOp(mmio.OffUSBCommand, mmio.USBCmdHCReset)
	if err := c.waitClear(ctx, mmio.OffUSBCommand, mmio.USBCmdHCReset); err != nil {
		return fmt.Errorf("%w: HCRST never cleared", xerr.ErrControllerHung)
	}
	return c.waitClear(ctx, mmio.OffUSBStatus, mmio.USBStsControllerNR)
}

// waitBudget bounds every busy-wait in the lifecycle to a fixed number
// of polls; a real-kernel port ties this to a wall-clock deadline via
// platform.Clock instead (spec §5: "a bounded busy loop").
const waitBudget = 100_000

func (c *Controller) waitClear(ctx context.Context, off uintptr, mask uint32) error {
	for i := 0; i < waitBudget; i++ {
		if c.regs.ReadOp(off)&mask == 0 {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return xerr.ErrControllerHung
}

func (c *Controller) waitSet(ctx context.Context, off uintptr, mask uint32) error {
	for i := 0; i < waitBudget; i++ {
		if c.regs.ReadOp(off)&mask != 0 {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return xerr.ErrControllerHung
}

func buildPortInfo(regs *mmio.Registers, numPorts int) []PortInfo {
	info := make([]PortInfo, numPorts)
	for _, sp := range regs.EnumerateSupportedProtocols() {
		for i := 0; i < int(sp.PortCount); i++ {
			idx := int(sp.PortOffset) - 1 + i
			if idx < 0 || idx >= numPorts {
				continue
			}
			info[idx] = PortInfo{MajorRevision: sp.MajorRevision, SlotType: sp.ProtocolSlotType}
		}
	}
	return info
}

// setupInterrupts configures the function's MSI-X vector 0 to invoke
// the controller's ISR. If the function has no MSI-X capability the
// driver falls back to polling the event ring directly from the
// synchronous wait paths (spec §4.6: "direct poll in init mode").
func (c *Controller) setupInterrupts() error {
	if !c.pci.MSIXCapable() {
		log.Warn(log.ComponentController, "MSI-X not available, falling back to polled event ring")
		return nil
	}
	desc, err := c.pci.InitMSIX()
	if err != nil {
		return err
	}
	if err := c.pci.SetMSIXVector(desc, 0, 0, c.isr, c); err != nil {
		return err
	}
	return c.pci.EnableMSIX(desc)
}

// NumPorts returns the number of root-hub ports.
func (c *Controller) NumPorts() int { return c.numPorts }

// PortInfo returns the Port Info table entry for a 1-indexed port.
func (c *Controller) PortInfo(port int) PortInfo {
	if port < 1 || port > len(c.portInfo) {
		return PortInfo{}
	}
	return c.portInfo[port-1]
}

// Registers exposes the controller's register view, for package-internal
// use by port.go, transfer.go, and event.go.
func (c *Controller) Registers() *mmio.Registers { return c.regs }

// Stop halts the controller. Resources are not freed; a torn-down
// controller is not reusable (spec non-goal: hot-unplug/teardown paths
// beyond Stop are out of scope).
func (c *Controller) Stop() error {
	if !c.running {
		return nil
	}
	c.regs.AndOp(mmio.OffUSBCommand, ^uint32(mmio.USBCmdRunStop))
	c.running = false
	log.Info(log.ComponentController, "xhci controller stopped")
	return nil
}

// IsRunning reports whether Init completed successfully and Stop has
// not been called since.
func (c *Controller) IsRunning() bool { return c.running }
