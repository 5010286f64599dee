// Package devctx implements the xHCI device-context data model: the
// controller-owned Slot/Endpoint Output Context, the driver-owned Input
// Context with its Input Control Context, the Device Context Base
// Address Array, and the scratchpad buffer array (spec §3).
//
// All layouts use the default 32-byte-per-entry context size; 64-byte
// contexts (HCCPARAMS1.CSZ=1) are a non-goal, matching spec.
package devctx

import (
	"encoding/binary"
	"unsafe"

	"github.com/ardnew/xhci/platform"
)

// entrySize is the byte size of one Slot/Endpoint Context entry in the
// default (32-byte) context size mode.
const entrySize = 32

// NumEndpoints is the number of Endpoint Context entries following the
// Slot Context in every Device/Input Context, indexed 1..31 (spec §3).
const NumEndpoints = 31

// EndpointIndex computes the endpoint-context index for an endpoint
// number and direction, per spec §3: ep_index = ep_number*2 +
// (dir_in?1:0), with endpoint 0 always mapping to index 1 regardless of
// the dirIn argument (control endpoints are bidirectional).
func EndpointIndex(epNumber uint8, dirIn bool) int {
	if epNumber == 0 {
		return 1
	}
	idx := int(epNumber) * 2
	if dirIn {
		idx++
	}
	return idx
}

// Endpoint types (xHCI 1.x table 6-9).
const (
	EndpointTypeIsochOut = 1
	EndpointTypeBulkOut  = 2
	EndpointTypeIntOut   = 3
	EndpointTypeControl  = 4
	EndpointTypeIsochIn  = 5
	EndpointTypeBulkIn   = 6
	EndpointTypeIntIn    = 7
)

// SlotContext is the driver-facing view of a Slot Context entry (xHCI
// 1.x §6.2.2).
type SlotContext struct {
	RouteString  uint32 // 0 for devices attached directly to a root-hub port
	Speed        uint8
	ContextEntries uint8 // highest valid endpoint context index
	RootHubPort  uint8  // 1-indexed
	SlotState    uint8  // read-only, set by the controller
}

// EndpointContext is the driver-facing view of an Endpoint Context entry
// (xHCI 1.x §6.2.3).
type EndpointContext struct {
	EPType          uint8
	MaxPacketSize   uint16
	MaxBurstSize    uint8
	ErrorCount      uint8
	TRDequeuePointer uint64 // physical address of the endpoint's transfer ring; DCS is held separately and OR'd in on write
	DCS             bool
	MaxESITPayload  uint32
	Interval        uint8
	AverageTRBLength uint16
	EPState         uint8 // read-only, set by the controller
}

// deviceLayout is the shared 32-byte-entry, 1+31-entry layout used by
// both Output and Input device contexts.
type deviceLayout struct {
	mem  platform.Memory
	base uintptr
	phys uintptr
}

func allocDeviceLayout(mem platform.Memory, slotOffset int) (deviceLayout, error) {
	entries := slotOffset + 1 + NumEndpoints
	size := entries * entrySize
	base, err := mem.AllocAligned(size, entrySize, 0)
	if err != nil {
		return deviceLayout{}, err
	}
	return deviceLayout{mem: mem, base: base, phys: mem.PhysAddr(base)}, nil
}

func (d *deviceLayout) slotAddr(slotOffset int) uintptr { return d.base + uintptr(slotOffset)*entrySize }
func (d *deviceLayout) epAddr(slotOffset, epIndex int) uintptr {
	return d.base + uintptr(slotOffset+epIndex)*entrySize
}

func readSlotContext(addr uintptr) SlotContext {
	var buf [entrySize]byte
	copyFrom(addr, buf[:])
	w0 := binary.LittleEndian.Uint32(buf[0:4])
	w1 := binary.LittleEndian.Uint32(buf[4:8])
	w3 := binary.LittleEndian.Uint32(buf[12:16])
	return SlotContext{
		RouteString:    w0 & 0xFFFFF,
		Speed:          uint8((w0 >> 20) & 0xF),
		ContextEntries: uint8((w0 >> 27) & 0x1F),
		RootHubPort:    uint8((w1 >> 16) & 0xFF),
		SlotState:      uint8((w3 >> 27) & 0x1F),
	}
}

func writeSlotContext(addr uintptr, s SlotContext) {
	var buf [entrySize]byte
	w0 := (s.RouteString & 0xFFFFF) | uint32(s.Speed&0xF)<<20 | uint32(s.ContextEntries&0x1F)<<27
	w1 := uint32(s.RootHubPort) << 16
	binary.LittleEndian.PutUint32(buf[0:4], w0)
	binary.LittleEndian.PutUint32(buf[4:8], w1)
	copyTo(addr, buf[:])
}

func readEndpointContext(addr uintptr) EndpointContext {
	var buf [entrySize]byte
	copyFrom(addr, buf[:])
	w0 := binary.LittleEndian.Uint32(buf[0:4])
	w1 := binary.LittleEndian.Uint32(buf[4:8])
	trDeq := binary.LittleEndian.Uint64(buf[8:16])
	w4 := binary.LittleEndian.Uint32(buf[16:20])
	return EndpointContext{
		EPState:          uint8(w0 & 0x7),
		Interval:         uint8((w0 >> 16) & 0xFF),
		ErrorCount:       uint8((w1 >> 1) & 0x3),
		EPType:           uint8((w1 >> 3) & 0x7),
		MaxBurstSize:     uint8((w1 >> 8) & 0xFF),
		MaxPacketSize:    uint16((w1 >> 16) & 0xFFFF),
		TRDequeuePointer: trDeq &^ 0xF,
		DCS:              trDeq&0x1 != 0,
		AverageTRBLength: uint16(w4 & 0xFFFF),
		MaxESITPayload:   (w4 >> 16) & 0xFFFF,
	}
}

func writeEndpointContext(addr uintptr, e EndpointContext) {
	var buf [entrySize]byte
	w0 := uint32(e.Interval) << 16
	w1 := uint32(e.ErrorCount&0x3)<<1 | uint32(e.EPType&0x7)<<3 | uint32(e.MaxBurstSize)<<8 | uint32(e.MaxPacketSize)<<16
	trDeq := e.TRDequeuePointer &^ 0xF
	if e.DCS {
		trDeq |= 0x1
	}
	w4 := uint32(e.AverageTRBLength) | e.MaxESITPayload<<16
	binary.LittleEndian.PutUint32(buf[0:4], w0)
	binary.LittleEndian.PutUint32(buf[4:8], w1)
	binary.LittleEndian.PutUint64(buf[8:16], trDeq)
	binary.LittleEndian.PutUint32(buf[16:20], w4)
	copyTo(addr, buf[:])
}

func copyFrom(addr uintptr, dst []byte) {
	src := (*[entrySize]byte)(unsafe.Pointer(addr)) //nolint:govet
	copy(dst, src[:])
}

func copyTo(addr uintptr, src []byte) {
	dst := (*[entrySize]byte)(unsafe.Pointer(addr)) //nolint:govet
	copy(dst[:], src)
}

// OutputContext is the controller-owned Device Context: one Slot
// Context followed by 31 Endpoint Contexts. The driver only reads it,
// after the controller has written slot/endpoint state.
type OutputContext struct {
	deviceLayout
}

// NewOutputContext allocates a zeroed Output Context.
func NewOutputContext(mem platform.Memory) (*OutputContext, error) {
	l, err := allocDeviceLayout(mem, 0)
	if err != nil {
		return nil, err
	}
	return &OutputContext{l}, nil
}

// PhysAddr returns the physical address to install at DCBAA[slotID].
func (o *OutputContext) PhysAddr() uintptr { return o.phys }

// Slot reads the current Slot Context.
func (o *OutputContext) Slot() SlotContext { return readSlotContext(o.slotAddr(0)) }

// Endpoint reads the current Endpoint Context at the given 1..31 index.
func (o *OutputContext) Endpoint(index int) EndpointContext {
	return readEndpointContext(o.epAddr(0, index))
}

// InputControlContext is the Add/Drop bitmap preceding an Input
// Context's Slot and Endpoint Contexts (xHCI 1.x §6.2.2.1).
type InputControlContext struct {
	AddFlags  uint32 // bit i: Slot Context (i=0) or Endpoint Context i is being added/evaluated
	DropFlags uint32 // bit i: Endpoint Context i is being dropped (bit 0 always 0)
}

// SetAdd marks context index ctxIndex (0=slot, 1..31=endpoint) as added.
func (c *InputControlContext) SetAdd(ctxIndex int) { c.AddFlags |= 1 << uint(ctxIndex) }

// SetDrop marks endpoint context index ctxIndex (1..31) as dropped.
func (c *InputControlContext) SetDrop(ctxIndex int) { c.DropFlags |= 1 << uint(ctxIndex) }

// InputContext is the driver-owned parameter block for Address Device,
// Configure Endpoint, and Evaluate Context commands: an Input Control
// Context followed by the same Slot+31-Endpoint layout as an Output
// Context (spec §3).
type InputContext struct {
	deviceLayout
}

// NewInputContext allocates a zeroed Input Context.
func NewInputContext(mem platform.Memory) (*InputContext, error) {
	l, err := allocDeviceLayout(mem, 1)
	if err != nil {
		return nil, err
	}
	return &InputContext{l}, nil
}

// PhysAddr returns the physical address to pass as an Address
// Device/Configure Endpoint/Evaluate Context command's parameter.
func (in *InputContext) PhysAddr() uintptr { return in.phys }

// SetControl writes the Input Control Context.
func (in *InputContext) SetControl(c InputControlContext) {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], c.DropFlags)
	binary.LittleEndian.PutUint32(buf[4:8], c.AddFlags)
	copyToN(in.base, buf[:], 8)
}

// Control reads the Input Control Context.
func (in *InputContext) Control() InputControlContext {
	var buf [8]byte
	copyFromN(in.base, buf[:], 8)
	return InputControlContext{
		DropFlags: binary.LittleEndian.Uint32(buf[0:4]),
		AddFlags:  binary.LittleEndian.Uint32(buf[4:8]),
	}
}

// SetSlot writes the Input Context's Slot Context.
func (in *InputContext) SetSlot(s SlotContext) { writeSlotContext(in.slotAddr(1), s) }

// SetEndpoint writes the Input Context's Endpoint Context at index
// (1..31).
func (in *InputContext) SetEndpoint(index int, e EndpointContext) {
	writeEndpointContext(in.epAddr(1, index), e)
}

func copyFromN(addr uintptr, dst []byte, n int) {
	src := (*[entrySize]byte)(unsafe.Pointer(addr)) //nolint:govet
	copy(dst, src[:n])
}

func copyToN(addr uintptr, src []byte, n int) {
	dst := (*[entrySize]byte)(unsafe.Pointer(addr)) //nolint:govet
	copy(dst[:n], src)
}
