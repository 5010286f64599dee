package mmio

import (
	"sync/atomic"
	"unsafe"
)

// Extended Capability IDs this driver recognizes (xHCI 1.x §7).
const (
	CapIDUSBLegacySupport  = 0x01
	CapIDSupportedProtocol = 0x02
)

// USB Legacy Support Capability register offsets, relative to the
// capability's own base (xHCI 1.x §7.1.1).
const (
	legacySupportBIOSOwned = 1 << 16
	legacySupportOSOwned   = 1 << 24
)

// ExtendedCapabilities walks the linked list of Extended Capabilities
// starting at HCCPARAMS1.xECP, advancing in 4-byte increments per the
// capability's own Next Capability Pointer field, stopping on a zero
// next-pointer (spec §4.1). Both USB Legacy Support handoff and
// Supported Protocol port-info population walk this same enumerator,
// per the original source's xhcd_setup_port_array sharing the walk with
// the legacy-support claim.
type ExtendedCapabilities struct {
	base uintptr // virtual address of current capability
	done bool
}

// ExtendedCapabilities returns a fresh enumerator positioned at the
// first Extended Capability, or an already-exhausted enumerator if the
// controller has none.
func (r *Registers) ExtendedCapabilities() *ExtendedCapabilities {
	off := r.ExtendedCapabilitiesOffset()
	if off == 0 {
		return &ExtendedCapabilities{done: true}
	}
	return &ExtendedCapabilities{base: r.base + off}
}

// HasNext reports whether another capability remains to be read.
func (e *ExtendedCapabilities) HasNext() bool { return !e.done }

// ID returns the current capability's ID (bits 0:7 of its first dword).
func (e *ExtendedCapabilities) ID() uint8 {
	return uint8(e.read32(0) & 0xFF)
}

// Read copies size bytes (rounded up to a whole dword, and capped at
// len(dst) dwords) starting at the current capability's base into dst,
// returning the number of 32-bit words copied.
func (e *ExtendedCapabilities) Read(dst []uint32, size int) int {
	words := (size + 3) / 4
	if words > len(dst) {
		words = len(dst)
	}
	for i := 0; i < words; i++ {
		dst[i] = e.read32(uintptr(i) * 4)
	}
	return words
}

// Advance moves to the next capability in the list, per the current
// capability's Next Capability Pointer field (bits 8:15, a dword count).
func (e *ExtendedCapabilities) Advance() {
	if e.done {
		return
	}
	next := (e.read32(0) >> 8) & 0xFF
	if next == 0 {
		e.done = true
		return
	}
	e.base += uintptr(next) * 4
}

func (e *ExtendedCapabilities) read32(off uintptr) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(e.base + off))) //nolint:govet
}

func (e *ExtendedCapabilities) write32(off uintptr, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(e.base+off)), v) //nolint:govet
}

// ClaimFromBIOS implements the USB Legacy Support handoff (spec §4.4
// step 2, resolving Open Question (a): the driver always attempts this,
// unconditionally, rather than leaving it commented out as the
// original source did). If no USB Legacy Support capability is present,
// this is a no-op.
//
// wait is called in a bounded loop until the BIOS Owned bit clears or
// the caller-supplied budget is exhausted; it should sleep briefly
// between polls.
func (r *Registers) ClaimFromBIOS(wait func() (done bool)) {
	ec := r.ExtendedCapabilities()
	for ec.HasNext() {
		if ec.ID() == CapIDUSBLegacySupport {
			ec.write32(0, ec.read32(0)|legacySupportOSOwned)
			for {
				v := ec.read32(0)
				if v&legacySupportBIOSOwned == 0 {
					return
				}
				if wait != nil && wait() {
					return
				}
			}
		}
		ec.Advance()
	}
}

// SupportedProtocol describes one USB Supported Protocol Extended
// Capability entry (xHCI 1.x §7.2), the source of the driver's Port
// Info table (spec §3 "Port Info table").
type SupportedProtocol struct {
	MajorRevision  uint8 // 2 or 3
	MinorRevision  uint8
	PortOffset     uint8 // 1-indexed first port covered by this entry
	PortCount      uint8
	ProtocolSlotType uint8 // Slot Type to use in Enable Slot for these ports
}

// EnumerateSupportedProtocols walks the Extended Capabilities list and
// returns one SupportedProtocol entry per Supported Protocol capability
// found, in list order.
func (r *Registers) EnumerateSupportedProtocols() []SupportedProtocol {
	var out []SupportedProtocol
	ec := r.ExtendedCapabilities()
	for ec.HasNext() {
		if ec.ID() == CapIDSupportedProtocol {
			var words [4]uint32
			ec.Read(words[:], 16)
			out = append(out, SupportedProtocol{
				MajorRevision:    uint8(words[0] >> 24),
				MinorRevision:    uint8((words[0] >> 16) & 0xFF),
				PortOffset:       uint8(words[2] & 0xFF),
				PortCount:        uint8((words[2] >> 8) & 0xFF),
				ProtocolSlotType: uint8(words[3] & 0x1F),
			})
		}
		ec.Advance()
	}
	return out
}
