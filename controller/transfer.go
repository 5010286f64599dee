package controller

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/ardnew/xhci/devctx"
	"github.com/ardnew/xhci/internal/xerr"
	"github.com/ardnew/xhci/ring"
	"github.com/ardnew/xhci/trb"
)

// dmaBounceAlign is the alignment used for the scratch DMA buffers this
// engine bounces control/bulk/interrupt payloads through; callers pass
// ordinary Go byte slices, which the Go runtime does not guarantee are
// pinned, contiguous, or physically addressable, so every transfer
// copies through a platform.Memory-backed buffer instead of taking the
// address of caller-supplied memory directly.
const dmaBounceAlign = 8

// ControlRequest is the wire-level control transfer tuple (spec §6
// UsbRequestMessage): {bmRequestType, bRequest, wValue, wIndex, wLength,
// data}. All multi-byte fields are little-endian.
type ControlRequest struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Data        []byte // nil/empty for a no-data request; read or written per RequestType bit 7
}

// SendRequest frames req as {Setup, [Data], Status} and runs it to
// completion on slotID's default control endpoint (spec §4.6
// send_request). The data-stage direction comes from RequestType bit 7
// (0x80 = device-to-host); the status stage runs the opposite
// direction with IOC=1.
func (c *Controller) SendRequest(ctx context.Context, slotID uint8, req *ControlRequest) error {
	r := c.slots[slotID].transferRing[1]
	if r == nil {
		return xerr.ErrNotRunning
	}

	dirIn := req.RequestType&0x80 != 0
	wLength := uint16(len(req.Data))

	var xferType trb.TransferType
	switch {
	case wLength == 0:
		xferType = trb.TransferTypeNoData
	case dirIn:
		xferType = trb.TransferTypeIn
	default:
		xferType = trb.TransferTypeOut
	}

	trbs := make([]trb.TRB, 0, 3)
	trbs = append(trbs, trb.NewSetupStage(req.RequestType, req.Request, req.Value, req.Index, wLength, xferType))

	var bounce uintptr
	if wLength > 0 {
		buf, err := c.mem.AllocAligned(int(wLength), dmaBounceAlign, 0)
		if err != nil {
			return fmt.Errorf("xhci: allocate control transfer buffer: %w", err)
		}
		defer c.mem.Free(buf)
		bounce = buf
		if !dirIn {
			copyToPhys(buf, req.Data)
		}
		data := trb.NewDataStage(uint64(c.mem.PhysAddr(buf)), uint32(wLength), dirIn)
		trbs = append(trbs, data)
	}

	trbs = append(trbs, trb.NewStatusStage(!dirIn || wLength == 0, true))

	addr := r.EnqueueTD(trbs)
	c.regs.RingDoorbell(slotID, 1)

	evt, err := c.awaitCompletion(ctx, func(e trb.TRB) bool {
		return e.Type() == trb.TypeTransferEvent && e.SlotID() == slotID && e.EndpointID() == 1 && e.Parameter == uint64(addr)
	})
	if err != nil {
		return err
	}
	if code := xerr.CompletionCode(evt.CompletionCode()); !code.IsSuccess() {
		return xerr.NewTransferError(code)
	}

	if wLength > 0 && dirIn {
		copyFromPhys(bounce, req.Data)
	}
	return nil
}

// controlRead is the send_request convenience this package's own port
// enumeration uses for device-to-host control reads (GET_DESCRIPTOR and
// friends), per spec §4.5's MPS fix-up step.
func (c *Controller) controlRead(ctx context.Context, slotID uint8, requestType, request uint8, value, index uint16, out []byte) error {
	req := &ControlRequest{RequestType: requestType, Request: request, Value: value, Index: index, Data: out}
	return c.SendRequest(ctx, slotID, req)
}

// ReadData issues a single Normal TRB (IOC=1, ISP=1) on the endpoint's
// transfer ring and waits for its completion, copying the transferred
// bytes into buf (spec §4.6 read_data).
func (c *Controller) ReadData(ctx context.Context, slotID uint8, epIndex int, buf []byte) (int, error) {
	return c.normalTransfer(ctx, slotID, epIndex, buf, true)
}

// WriteData is ReadData's OUT-direction counterpart (spec §4.6
// write_data).
func (c *Controller) WriteData(ctx context.Context, slotID uint8, epIndex int, buf []byte) (int, error) {
	return c.normalTransfer(ctx, slotID, epIndex, buf, false)
}

func (c *Controller) normalTransfer(ctx context.Context, slotID uint8, epIndex int, buf []byte, dirIn bool) (int, error) {
	r := c.slots[slotID].transferRing[epIndex]
	if r == nil {
		return 0, xerr.ErrNotRunning
	}

	phys, err := c.mem.AllocAligned(len(buf), dmaBounceAlign, 0)
	if err != nil {
		return 0, fmt.Errorf("xhci: allocate transfer buffer: %w", err)
	}
	defer c.mem.Free(phys)
	if !dirIn {
		copyToPhys(phys, buf)
	}

	t := trb.NewNormal(uint64(c.mem.PhysAddr(phys)), uint32(len(buf)))
	addr := r.Enqueue(t)
	c.regs.RingDoorbell(slotID, uint8(epIndex))

	evt, err := c.awaitCompletion(ctx, func(e trb.TRB) bool {
		return e.Type() == trb.TypeTransferEvent && e.SlotID() == slotID && e.EndpointID() == uint8(epIndex) && e.Parameter == uint64(addr)
	})
	if err != nil {
		return 0, err
	}
	code := xerr.CompletionCode(evt.CompletionCode())
	if !code.IsSuccess() {
		return 0, xerr.NewTransferError(code)
	}

	transferred := len(buf) - int(evt.TransferLength())
	if dirIn {
		copyFromPhys(phys, buf[:transferred])
	}
	return transferred, nil
}

// EndpointConfig describes one endpoint this driver is asked to bring
// up via Configure Endpoint (spec §4.6 configure_endpoints).
type EndpointConfig struct {
	Number         uint8 // USB endpoint number, 1-15
	DirIn          bool
	Bulk           bool // false selects Interrupt
	MaxPacketSize  uint16
	MaxBurstSize   uint8 // from wMaxPacketSize[12:11], or SuperSpeed companion.bMaxBurst
	Interval       uint8 // xHCI-encoded (usb.Interval), interrupt endpoints only
}

// ConfigureEndpoints builds one Input Context adding every endpoint in
// eps, issues Configure Endpoint, and on success issues a standard
// SET_CONFIGURATION control request (spec §4.6 configure_endpoints).
func (c *Controller) ConfigureEndpoints(ctx context.Context, slotID uint8, configValue uint8, eps []EndpointConfig) error {
	slot := c.slots[slotID]
	if slot == nil {
		return xerr.ErrNotRunning
	}

	in, err := devctx.NewInputContext(c.mem)
	if err != nil {
		return fmt.Errorf("xhci: allocate input context: %w", err)
	}

	var ctl devctx.InputControlContext
	highest := slot.output.Slot().ContextEntries
	for _, ep := range eps {
		idx := devctx.EndpointIndex(ep.Number, ep.DirIn)

		r, err := ring.New(c.mem, defaultTransferRingSize)
		if err != nil {
			return fmt.Errorf("xhci: allocate endpoint %d ring: %w", ep.Number, err)
		}
		slot.transferRing[idx] = r

		epType := endpointType(ep.Bulk, ep.DirIn)
		esit := uint32(ep.MaxPacketSize) * (uint32(ep.MaxBurstSize) + 1)
		in.SetEndpoint(idx, devctx.EndpointContext{
			EPType:           epType,
			MaxPacketSize:    ep.MaxPacketSize,
			MaxBurstSize:     ep.MaxBurstSize,
			ErrorCount:       3,
			TRDequeuePointer: uint64(r.PhysBase()),
			DCS:              r.PCS(),
			MaxESITPayload:   esit,
			Interval:         ep.Interval,
			AverageTRBLength: uint16(esit),
		})
		ctl.SetAdd(idx)
		if uint8(idx) > highest {
			highest = uint8(idx)
		}
	}

	if highest > slot.output.Slot().ContextEntries {
		ctl.SetAdd(0)
		s := slot.output.Slot()
		s.ContextEntries = highest
		in.SetSlot(s)
	}
	in.SetControl(ctl)

	if _, err := c.issueCommand(ctx, "configure endpoint", trb.NewConfigureEndpoint(uint64(in.PhysAddr()), slotID)); err != nil {
		if _, ok := asCommandError(err); ok {
			return xerr.ErrConfigEndpointError
		}
		return err
	}

	return c.SendRequest(ctx, slotID, &ControlRequest{
		RequestType: 0x00,
		Request:     0x09, // SET_CONFIGURATION
		Value:       uint16(configValue),
	})
}

func endpointType(bulk, dirIn bool) uint8 {
	switch {
	case bulk && dirIn:
		return devctx.EndpointTypeBulkIn
	case bulk && !dirIn:
		return devctx.EndpointTypeBulkOut
	case !bulk && dirIn:
		return devctx.EndpointTypeIntIn
	default:
		return devctx.EndpointTypeIntOut
	}
}

func copyToPhys(addr uintptr, src []byte) {
	if len(src) == 0 {
		return
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(src)) //nolint:govet
	copy(dst, src)
}

func copyFromPhys(addr uintptr, dst []byte) {
	if len(dst) == 0 {
		return
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(dst)) //nolint:govet
	copy(dst, src)
}
