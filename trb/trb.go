// Package trb defines the 16-byte Transfer Request Block wire format
// shared by every xHCI ring (command, transfer, event) and the builders
// for the TRB types this driver produces and consumes (spec §3, §4.2).
package trb

import "encoding/binary"

// Size is the fixed size in bytes of every TRB.
const Size = 16

// Type is the 6-bit TRB Type field (control word bits 10:15).
type Type uint8

// TRB types used by this driver (xHCI 1.x table 6-91).
const (
	TypeNormal                  Type = 1
	TypeSetupStage              Type = 2
	TypeDataStage                Type = 3
	TypeStatusStage              Type = 4
	TypeLink                     Type = 6
	TypeEnableSlot                Type = 9
	TypeAddressDevice             Type = 11
	TypeConfigureEndpoint          Type = 12
	TypeEvaluateContext            Type = 13
	TypeNoOpCommand                Type = 23
	TypeTransferEvent               Type = 32
	TypeCommandCompletionEvent      Type = 33
	TypePortStatusChangeEvent        Type = 34
)

// Control word bit positions common to most TRB types.
const (
	bitCycle           = 0
	bitENT             = 1  // Evaluate Next TRB (Link)
	bitISP             = 2  // Interrupt-on Short Packet
	bitChain           = 4
	bitIOC             = 5  // Interrupt On Completion
	bitImmediateData   = 6
	typeShift          = 10
	typeMask           = 0x3F
	toggleCycleShift   = 1 // Link TRB only (bit 1 overlaps ENT on other types)
	directionShift     = 16
	transferTypeShift  = 16
	slotTypeShift      = 16
	bsrShift           = 9
	slotIDShift        = 24
	endpointIDShift    = 16
)

// TRB is the generic 16-byte record every ring slot holds: Parameter
// (64 bits), Status (32 bits), and Control (32 bits), matching spec §3.
type TRB struct {
	Parameter uint64
	Status    uint32
	Control   uint32
}

// Encode writes the TRB's wire representation into buf, which must be
// at least Size bytes. This is the layout DMA hardware reads/writes
// directly, so field order and width are load-bearing.
func (t *TRB) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], t.Parameter)
	binary.LittleEndian.PutUint32(buf[8:12], t.Status)
	binary.LittleEndian.PutUint32(buf[12:16], t.Control)
}

// Decode reads a TRB's wire representation from buf.
func Decode(buf []byte) TRB {
	return TRB{
		Parameter: binary.LittleEndian.Uint64(buf[0:8]),
		Status:    binary.LittleEndian.Uint32(buf[8:12]),
		Control:   binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// Type returns the TRB Type field.
func (t *TRB) Type() Type { return Type((t.Control >> typeShift) & typeMask) }

// SetType sets the TRB Type field, preserving other control bits.
func (t *TRB) SetType(typ Type) {
	t.Control = (t.Control &^ (typeMask << typeShift)) | (uint32(typ&typeMask) << typeShift)
}

// Cycle returns the Cycle bit (C).
func (t *TRB) Cycle() bool { return t.Control&(1<<bitCycle) != 0 }

// SetCycle sets or clears the Cycle bit.
func (t *TRB) SetCycle(c bool) {
	if c {
		t.Control |= 1 << bitCycle
	} else {
		t.Control &^= 1 << bitCycle
	}
}

// SlotID returns the Slot ID field (bits 24:31), used by command and
// event TRBs.
func (t *TRB) SlotID() uint8 { return uint8(t.Control >> slotIDShift) }

// SetSlotID sets the Slot ID field.
func (t *TRB) SetSlotID(id uint8) {
	t.Control = (t.Control &^ (0xFF << slotIDShift)) | (uint32(id) << slotIDShift)
}

// EndpointID returns the Endpoint ID field (bits 16:20) carried by
// Transfer Events.
func (t *TRB) EndpointID() uint8 { return uint8((t.Control >> endpointIDShift) & 0x1F) }

// CompletionCode returns the Completion Code field (Status bits 24:31)
// carried by Command Completion and Transfer Events.
func (t *TRB) CompletionCode() uint8 { return uint8(t.Status >> 24) }

// TransferLength returns the residual/requested transfer length (Status
// bits 0:23) as used by both Normal/data-stage TRBs (requested length)
// and Transfer Events (remaining, i.e. un-transferred, length).
func (t *TRB) TransferLength() uint32 { return t.Status & 0xFFFFFF }

// SetTransferLength sets the TRB Transfer Length field.
func (t *TRB) SetTransferLength(n uint32) {
	t.Status = (t.Status &^ 0xFFFFFF) | (n & 0xFFFFFF)
}

// --- Link TRB --------------------------------------------------------------

// NewLink builds a Link TRB pointing at ringSegment, the physical
// address of the ring segment to continue at. toggleCycle sets the
// Toggle Cycle bit, which flips the producer's PCS on traversal (spec
// §4.2); this driver's rings are single-segment, so toggleCycle is
// always true.
func NewLink(ringSegment uint64, toggleCycle bool) TRB {
	t := TRB{Parameter: ringSegment}
	t.SetType(TypeLink)
	if toggleCycle {
		t.Control |= 1 << toggleCycleShift
	}
	return t
}

// LinkTarget returns a Link TRB's ring-segment physical address.
func (t *TRB) LinkTarget() uint64 { return t.Parameter }

// ToggleCycle reports a Link TRB's Toggle Cycle bit.
func (t *TRB) ToggleCycle() bool { return t.Control&(1<<toggleCycleShift) != 0 }

// --- No-Op command ----------------------------------------------------------

// NewNoOpCommand builds a No-Op Command TRB, useful for command-ring
// liveness checks.
func NewNoOpCommand() TRB {
	t := TRB{}
	t.SetType(TypeNoOpCommand)
	return t
}

// --- Enable Slot command -----------------------------------------------------

// NewEnableSlot builds an Enable Slot Command TRB for the given
// Protocol Slot Type (from the port's Supported Protocol entry).
func NewEnableSlot(slotType uint8) TRB {
	t := TRB{}
	t.SetType(TypeEnableSlot)
	t.Control |= uint32(slotType&0x1F) << slotTypeShift
	return t
}

// --- Address Device command ---------------------------------------------------

// NewAddressDevice builds an Address Device Command TRB referencing
// inputContext (physical address) for slotID. bsr sets the Block Set
// Address Request bit; this driver always issues bsr=false (spec §4.5:
// "the driver skips the BSR=1 step").
func NewAddressDevice(inputContext uint64, slotID uint8, bsr bool) TRB {
	t := TRB{Parameter: inputContext}
	t.SetType(TypeAddressDevice)
	t.SetSlotID(slotID)
	if bsr {
		t.Control |= 1 << bsrShift
	}
	return t
}

// --- Configure Endpoint / Evaluate Context commands ----------------------------

// NewConfigureEndpoint builds a Configure Endpoint Command TRB.
func NewConfigureEndpoint(inputContext uint64, slotID uint8) TRB {
	t := TRB{Parameter: inputContext}
	t.SetType(TypeConfigureEndpoint)
	t.SetSlotID(slotID)
	return t
}

// NewEvaluateContext builds an Evaluate Context Command TRB.
func NewEvaluateContext(inputContext uint64, slotID uint8) TRB {
	t := TRB{Parameter: inputContext}
	t.SetType(TypeEvaluateContext)
	t.SetSlotID(slotID)
	return t
}

// --- Setup/Data/Status stage TRBs (control TDs) --------------------------------

// TransferType is the Setup-Stage TRB's Transfer Type field (xHCI 1.x
// table 6-27), describing the data-stage direction and presence.
type TransferType uint8

// Transfer Type values.
const (
	TransferTypeNoData TransferType = 0
	TransferTypeOut    TransferType = 2
	TransferTypeIn     TransferType = 3
)

// NewSetupStage builds a Setup Stage TRB carrying the 8-byte setup
// packet as Immediate Data (spec §4.6), per the original source's
// TRB_SETUP_STAGE.
func NewSetupStage(bmRequestType, bRequest uint8, wValue, wIndex, wLength uint16, xferType TransferType) TRB {
	param := uint64(bmRequestType) |
		uint64(bRequest)<<8 |
		uint64(wValue)<<16 |
		uint64(wIndex)<<32 |
		uint64(wLength)<<48
	t := TRB{Parameter: param}
	t.SetType(TypeSetupStage)
	t.SetTransferLength(8)
	t.Control |= 1 << bitImmediateData
	t.Control |= uint32(xferType) << transferTypeShift
	return t
}

// SetupPacket decodes a Setup Stage TRB's immediate data back into the
// 8 raw setup-packet bytes (testable property: round-trip through
// NewSetupStage then SetupPacket returns the original bytes).
func (t *TRB) SetupPacket() (bmRequestType, bRequest uint8, wValue, wIndex, wLength uint16) {
	bmRequestType = uint8(t.Parameter)
	bRequest = uint8(t.Parameter >> 8)
	wValue = uint16(t.Parameter >> 16)
	wIndex = uint16(t.Parameter >> 32)
	wLength = uint16(t.Parameter >> 48)
	return
}

// NewDataStage builds a Data Stage TRB for the given DMA buffer address
// and length. dirIn selects the Direction bit.
func NewDataStage(buffer uint64, length uint32, dirIn bool) TRB {
	t := TRB{Parameter: buffer}
	t.SetType(TypeDataStage)
	t.SetTransferLength(length)
	if dirIn {
		t.Control |= 1 << directionShift
	}
	return t
}

// NewStatusStage builds a Status Stage TRB. dirIn is the opposite of
// the data stage's direction (spec §4.6); a no-data control request's
// status stage direction is IN.
func NewStatusStage(dirIn bool, ioc bool) TRB {
	t := TRB{}
	t.SetType(TypeStatusStage)
	if dirIn {
		t.Control |= 1 << directionShift
	}
	if ioc {
		t.Control |= 1 << bitIOC
	}
	return t
}

// --- Normal TRB (bulk/interrupt) ----------------------------------------------

// NewNormal builds a Normal TRB for a bulk or interrupt transfer, with
// IOC and ISP set per spec §4.6.
func NewNormal(buffer uint64, length uint32) TRB {
	t := TRB{Parameter: buffer}
	t.SetType(TypeNormal)
	t.SetTransferLength(length)
	t.Control |= 1 << bitIOC
	t.Control |= 1 << bitISP
	return t
}

// Chain reports the Chain bit, linking this TRB to the next one in the
// same TD for hardware sequencing purposes.
func (t *TRB) Chain() bool { return t.Control&(1<<bitChain) != 0 }

// SetChain sets or clears the Chain bit, linking this TRB to the next
// one in the same TD for hardware sequencing purposes.
func (t *TRB) SetChain(c bool) {
	if c {
		t.Control |= 1 << bitChain
	} else {
		t.Control &^= 1 << bitChain
	}
}

// SetIOC sets or clears the Interrupt On Completion bit.
func (t *TRB) SetIOC(v bool) {
	if v {
		t.Control |= 1 << bitIOC
	} else {
		t.Control &^= 1 << bitIOC
	}
}
