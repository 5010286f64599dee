// Package mmio provides a typed view over an xHCI controller's
// capability, operational, runtime, and doorbell MMIO register banks,
// plus an enumerator over the Extended Capabilities linked list.
//
// All accesses are volatile loads/stores over a pointer into mapped,
// non-cacheable MMIO space supplied by [github.com/ardnew/xhci/platform].
// This mirrors the register-access style of the teacher's sibling
// bare-metal MMIO drivers (e.g. the NXP USB controller register file in
// _examples/usbarmory-tamago/imx6/usb.go): plain unsafe pointer
// arithmetic and sync/atomic, no CGo, no syscalls — there is no OS
// between this code and the hardware.
package mmio

import (
	"sync/atomic"
	"unsafe"
)

// Registers is a typed view over one xHCI controller's MMIO space,
// computed once from the Capability Register block at controller
// discovery time (spec §4.1).
type Registers struct {
	base uintptr // virtual base of the mapped BAR0 region

	// Derived from the capability registers at construction time.
	capLength uint8
	hcsParams1 uint32
	hcsParams2 uint32
	hcsParams3 uint32
	hccParams1 uint32
	hccParams2 uint32
	dbOff      uint32
	rtOff      uint32
}

// Capability register byte offsets (xHCI 1.x §5.3).
const (
	offCapLength    = 0x00
	offHCIVersion   = 0x02
	offHCSParams1   = 0x04
	offHCSParams2   = 0x08
	offHCSParams3   = 0x0C
	offHCCParams1   = 0x10
	offDBOff        = 0x14
	offRTSOff       = 0x18
	offHCCParams2   = 0x1C
)

// Operational register byte offsets, relative to base+CAPLENGTH
// (xHCI 1.x §5.4).
const (
	OffUSBCommand  = 0x00
	OffUSBStatus   = 0x04
	OffPageSize    = 0x08
	OffDNCtrl      = 0x14
	OffCRCR        = 0x18
	OffDCBAAP      = 0x30
	OffConfig      = 0x38
	portRegsBase   = 0x400
	portRegsStride = 0x10
)

// Per-port register offsets, relative to PortBase(n).
const (
	OffPortSC    = 0x00
	OffPortPMSC  = 0x04
	OffPortLI    = 0x08
	OffPortHLPMC = 0x0C
)

// Runtime register offsets (xHCI 1.x §5.5). Interrupter registers
// begin at RuntimeBase+0x20 and are 32 bytes each.
const (
	runtimeInterrupter0Off = 0x20
	interrupterStride      = 0x20
)

// Interrupter register offsets, relative to InterrupterBase(n).
const (
	OffIMAN   = 0x00
	OffIMOD   = 0x04
	OffERSTSZ = 0x08
	OffERSTBA = 0x10
	OffERDP   = 0x18
)

// USBCMD bits (xHCI 1.x §5.4.1).
const (
	USBCmdRunStop = 1 << 0
	USBCmdHCReset = 1 << 1
	USBCmdINTE    = 1 << 2
)

// USBSTS bits (xHCI 1.x §5.4.2).
const (
	USBStsHCHalted     = 1 << 0
	USBStsHSError      = 1 << 2
	USBStsEventInt     = 1 << 3
	USBStsPortChange   = 1 << 4
	USBStsControllerNR = 1 << 11 // CNR: Controller Not Ready
)

// PORTSC bits (xHCI 1.x §5.4.8), the subset this driver touches.
const (
	PortSCCurrentConnectStatus = 1 << 0
	PortSCPortEnabled          = 1 << 1
	PortSCPortReset            = 1 << 4
	PortSCConnectStatusChange  = 1 << 17
	PortSCPortResetChange      = 1 << 21
	PortSCWarmResetChange      = 1 << 19
)

// PORTSC field positions.
const (
	PortSCSpeedShift = 10
	PortSCSpeedMask  = 0xF
)

// IMAN bits.
const (
	IMANInterruptPending = 1 << 0
	IMANInterruptEnable  = 1 << 1
)

// New builds a Registers view over an already-mapped MMIO base address,
// reading the capability block once to derive the operational, runtime,
// and doorbell offsets.
func New(virtBase uintptr) *Registers {
	r := &Registers{base: virtBase}
	r.capLength = uint8(r.readCap32(offCapLength) & 0xFF)
	r.hcsParams1 = r.readCap32(offHCSParams1)
	r.hcsParams2 = r.readCap32(offHCSParams2)
	r.hcsParams3 = r.readCap32(offHCSParams3)
	r.hccParams1 = r.readCap32(offHCCParams1)
	r.hccParams2 = r.readCap32(offHCCParams2)
	r.dbOff = r.readCap32(offDBOff) &^ 0x3
	r.rtOff = r.readCap32(offRTSOff) &^ 0x1F
	return r
}

func ptr32(addr uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(addr)) //nolint:govet
}

func (r *Registers) readCap32(off uintptr) uint32 {
	return atomic.LoadUint32(ptr32(r.base + off))
}

// --- capability accessors -------------------------------------------------

// MaxSlots returns HCSPARAMS1.MaxSlots, the number of device slots the
// controller supports.
func (r *Registers) MaxSlots() int { return int(r.hcsParams1 & 0xFF) }

// MaxIntrs returns HCSPARAMS1.MaxIntrs, the number of interrupters.
func (r *Registers) MaxIntrs() int { return int((r.hcsParams1 >> 8) & 0x7FF) }

// MaxPorts returns HCSPARAMS1.MaxPorts, the number of root-hub ports.
func (r *Registers) MaxPorts() int { return int((r.hcsParams1 >> 24) & 0xFF) }

// MaxScratchpadBufs returns HCSPARAMS2's 5-bit-high/5-bit-low
// Max Scratchpad Buffers field.
func (r *Registers) MaxScratchpadBufs() int {
	hi := (r.hcsParams2 >> 21) & 0x1F
	lo := (r.hcsParams2 >> 27) & 0x1F
	return int(hi<<5 | lo)
}

// AC64 reports HCCPARAMS1.AC64: whether the controller supports 64-bit
// addressing. This driver requires it be true (spec non-goal: 64-bit DMA
// when AC64=0 is out of scope).
func (r *Registers) AC64() bool { return r.hccParams1&0x1 != 0 }

// Context64 reports HCCPARAMS1.CSZ: whether device/input contexts use
// the 64-byte-per-entry layout instead of the default 32-byte layout.
func (r *Registers) Context64() bool { return r.hccParams1&(1<<2) != 0 }

// ExtendedCapabilitiesOffset returns the byte offset (from base), in
// 32-bit words per xECP semantics already applied, of the first
// Extended Capability, or 0 if none exists.
func (r *Registers) ExtendedCapabilitiesOffset() uintptr {
	xecp := (r.hccParams1 >> 16) & 0xFFFF
	return uintptr(xecp) << 2
}

// CapLength returns the byte offset of the Operational register block.
func (r *Registers) CapLength() uintptr { return uintptr(r.capLength) }

// --- operational register access ------------------------------------------

func (r *Registers) opBase() uintptr { return r.base + r.CapLength() }

// ReadOp reads a 32-bit operational register at byte offset off.
func (r *Registers) ReadOp(off uintptr) uint32 {
	return atomic.LoadUint32(ptr32(r.opBase() + off))
}

// WriteOp writes a 32-bit operational register at byte offset off.
func (r *Registers) WriteOp(off uintptr, v uint32) {
	atomic.StoreUint32(ptr32(r.opBase()+off), v)
}

// OrOp performs a read-modify-write OR on a 32-bit operational register.
func (r *Registers) OrOp(off uintptr, mask uint32) {
	r.WriteOp(off, r.ReadOp(off)|mask)
}

// AndOp performs a read-modify-write AND on a 32-bit operational register.
func (r *Registers) AndOp(off uintptr, mask uint32) {
	r.WriteOp(off, r.ReadOp(off)&mask)
}

// WriteOp64 performs the two 32-bit split writes xHCI requires for
// 64-bit operational registers (CRCR, DCBAAP): low dword first, then
// high dword, as required by xHCI 1.x §5.4.5/§5.4.6.
func (r *Registers) WriteOp64(off uintptr, v uint64) {
	r.WriteOp(off, uint32(v))
	r.WriteOp(off+4, uint32(v>>32))
}

// ReadOp64 reads a 64-bit split operational register.
func (r *Registers) ReadOp64(off uintptr) uint64 {
	lo := uint64(r.ReadOp(off))
	hi := uint64(r.ReadOp(off + 4))
	return lo | hi<<32
}

// --- port register access --------------------------------------------------

// PortBase returns the operational-register offset of port n's register
// quartet (n is 1-indexed, matching PORTSC numbering).
func (r *Registers) PortBase(n int) uintptr {
	return portRegsBase + uintptr(n-1)*portRegsStride
}

// ReadPortSC reads PORTSC for port n (1-indexed).
func (r *Registers) ReadPortSC(n int) uint32 { return r.ReadOp(r.PortBase(n) + OffPortSC) }

// WritePortSC writes PORTSC for port n (1-indexed) as a plain store, not
// a read-modify-write. Callers compute the full value and must write 0
// to the write-1-to-clear change bits they don't intend to clear (xHCI
// 1.x §5.4.8): echoing a read-back PORTSC value unmasked clears every
// asserted change bit, so the port state machine masks the change bits
// (and PED) out of any value it derives from a read.
func (r *Registers) WritePortSC(n int, v uint32) { r.WriteOp(r.PortBase(n)+OffPortSC, v) }

// --- runtime / interrupter register access ---------------------------------

func (r *Registers) runtimeBase() uintptr { return r.base + uintptr(r.rtOff) }

// InterrupterBase returns the virtual address of interrupter n's
// register block (n is 0-indexed).
func (r *Registers) InterrupterBase(n int) uintptr {
	return r.runtimeBase() + runtimeInterrupter0Off + uintptr(n)*interrupterStride
}

// ReadInterrupter32 reads a 32-bit interrupter register at byte offset
// off within interrupter n.
func (r *Registers) ReadInterrupter32(n int, off uintptr) uint32 {
	return atomic.LoadUint32(ptr32(r.InterrupterBase(n) + off))
}

// WriteInterrupter32 writes a 32-bit interrupter register.
func (r *Registers) WriteInterrupter32(n int, off uintptr, v uint32) {
	atomic.StoreUint32(ptr32(r.InterrupterBase(n)+off), v)
}

// OrInterrupter32 performs a read-modify-write OR on an interrupter
// register.
func (r *Registers) OrInterrupter32(n int, off uintptr, mask uint32) {
	r.WriteInterrupter32(n, off, r.ReadInterrupter32(n, off)|mask)
}

// WriteInterrupter64 performs the split 32-bit writes xHCI requires for
// ERSTBA/ERDP.
func (r *Registers) WriteInterrupter64(n int, off uintptr, v uint64) {
	r.WriteInterrupter32(n, off, uint32(v))
	r.WriteInterrupter32(n, off+4, uint32(v>>32))
}

// ReadInterrupter64 reads a 64-bit split interrupter register.
func (r *Registers) ReadInterrupter64(n int, off uintptr) uint64 {
	lo := uint64(r.ReadInterrupter32(n, off))
	hi := uint64(r.ReadInterrupter32(n, off+4))
	return lo | hi<<32
}

// --- doorbell array ----------------------------------------------------

// RingDoorbell writes the doorbell register for slotID (0 = host
// controller doorbell) with the given DB target and stream ID (stream
// ID is always 0 in this driver; stream arrays are a non-goal).
func (r *Registers) RingDoorbell(slotID uint8, target uint8) {
	off := r.base + uintptr(r.dbOff) + uintptr(slotID)*4
	atomic.StoreUint32(ptr32(off), uint32(target))
}
