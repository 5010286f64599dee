package mmio

import (
	"runtime"
	"testing"
	"unsafe"
)

// buildExtCapArena lays out a capability block whose xECP points at an
// offset within arena, followed by a USB Legacy Support capability
// (Next=2) and a Supported Protocol capability terminating the list.
func buildExtCapArena(t *testing.T, biosOwned bool) (*Registers, []byte) {
	t.Helper()
	arena := make([]byte, 0x200)
	base := uintptr(unsafe.Pointer(&arena[0])) //nolint:govet
	write := func(off uintptr, v uint32) {
		*(*uint32)(unsafe.Pointer(base + off)) = v //nolint:govet
	}

	const xecpWordOffset = 0x40 // byte offset 0x100, in dwords from base
	write(offCapLength, 0x20)
	write(offHCSParams1, (4<<24)|(1<<8)|16)
	write(offHCCParams1, 0x1|(xecpWordOffset<<16))
	write(offDBOff, 0x500)
	write(offRTSOff, 0x600)

	capBase := uintptr(xecpWordOffset) * 4
	// USB Legacy Support capability at capBase: ID=1, Next=2 (2 dwords away).
	legacy := uint32(CapIDUSBLegacySupport) | (2 << 8)
	if biosOwned {
		legacy |= legacySupportBIOSOwned
	}
	write(capBase, legacy)

	// Supported Protocol capability follows 2 dwords later: ID=2, Next=0,
	// MajorRevision=3 (word0 bits 24:31), PortOffset=1/PortCount=4 (word2),
	// ProtocolSlotType=7 (word3 bits 4:0, xHCI 1.x §7.2).
	spBase := capBase + 2*4
	write(spBase, uint32(CapIDSupportedProtocol)|(3<<24))
	write(spBase+4, 0)
	write(spBase+8, uint32(1)|(4<<8))
	write(spBase+12, 7)

	r := New(base)
	return r, arena
}

func TestEnumerateSupportedProtocols(t *testing.T) {
	r, arena := buildExtCapArena(t, false)
	defer runtime.KeepAlive(arena)

	protos := r.EnumerateSupportedProtocols()
	if len(protos) != 1 {
		t.Fatalf("expected 1 supported protocol entry, got %d", len(protos))
	}
	p := protos[0]
	if p.MajorRevision != 3 || p.PortOffset != 1 || p.PortCount != 4 || p.ProtocolSlotType != 7 {
		t.Fatalf("unexpected supported protocol: %+v", p)
	}
}

func TestClaimFromBIOSClearsOwnership(t *testing.T) {
	r, arena := buildExtCapArena(t, true)
	defer runtime.KeepAlive(arena)

	calls := 0
	r.ClaimFromBIOS(func() bool {
		calls++
		// Simulate the BIOS releasing ownership after one poll.
		ec := r.ExtendedCapabilities()
		ec.write32(0, ec.read32(0)&^legacySupportBIOSOwned)
		return calls > 10 // safety valve against infinite loop on test bugs
	})

	ec := r.ExtendedCapabilities()
	if ec.read32(0)&legacySupportBIOSOwned != 0 {
		t.Fatal("expected BIOS-owned bit cleared after ClaimFromBIOS")
	}
	if ec.read32(0)&legacySupportOSOwned == 0 {
		t.Fatal("expected OS-owned bit set after ClaimFromBIOS")
	}
}

func TestClaimFromBIOSNoLegacyCapabilityIsNoOp(t *testing.T) {
	arena := make([]byte, 0x200)
	base := uintptr(unsafe.Pointer(&arena[0])) //nolint:govet
	write := func(off uintptr, v uint32) {
		*(*uint32)(unsafe.Pointer(base + off)) = v //nolint:govet
	}
	write(offCapLength, 0x20)
	write(offHCSParams1, (4<<24)|(1<<8)|16)
	write(offHCCParams1, 0x1) // xECP=0: no extended capabilities
	write(offDBOff, 0x500)
	write(offRTSOff, 0x600)

	r := New(base)
	called := false
	r.ClaimFromBIOS(func() bool { called = true; return true })
	if called {
		t.Fatal("expected wait callback never invoked when there is no legacy support capability")
	}
	runtime.KeepAlive(arena)
}
