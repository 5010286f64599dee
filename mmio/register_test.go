package mmio

import (
	"runtime"
	"testing"
	"unsafe"
)

// testRegs bundles a Registers view with the backing byte arena it reads
// and writes through, so callers can runtime.KeepAlive the arena for the
// lifetime of the test; a bare uintptr does not keep it alive on its own.
type testRegs struct {
	*Registers
	arena []byte
}

// newTestRegisters backs a Registers view with a plain Go byte arena and
// pre-populates the capability block fields New() derives its offsets
// from, standing in for a real BAR0 mapping.
func newTestRegisters(t *testing.T) *testRegs {
	t.Helper()
	arena := make([]byte, 0x2000)
	base := uintptr(unsafe.Pointer(&arena[0])) //nolint:govet

	writeU32 := func(off uintptr, v uint32) {
		*(*uint32)(unsafe.Pointer(base + off)) = v //nolint:govet
	}
	writeU32(offCapLength, 0x20)                // CAPLENGTH=0x20
	writeU32(offHCSParams1, (4<<24)|(1<<8)|16)  // MaxPorts=4, MaxIntrs=1, MaxSlots=16
	writeU32(offHCSParams2, 0)
	writeU32(offHCSParams3, 0)
	writeU32(offHCCParams1, 0x1) // AC64=1
	writeU32(offDBOff, 0x500)
	writeU32(offRTSOff, 0x600)
	writeU32(offHCCParams2, 0)

	tr := &testRegs{Registers: New(base), arena: arena}
	t.Cleanup(func() { runtime.KeepAlive(tr.arena) })
	return tr
}

func TestNewDerivesCapabilityFields(t *testing.T) {
	r := newTestRegisters(t)
	if r.MaxSlots() != 16 {
		t.Errorf("MaxSlots() = %d, want 16", r.MaxSlots())
	}
	if r.MaxPorts() != 4 {
		t.Errorf("MaxPorts() = %d, want 4", r.MaxPorts())
	}
	if r.MaxIntrs() != 1 {
		t.Errorf("MaxIntrs() = %d, want 1", r.MaxIntrs())
	}
	if !r.AC64() {
		t.Error("expected AC64 true")
	}
	if r.CapLength() != 0x20 {
		t.Errorf("CapLength() = %#x, want 0x20", r.CapLength())
	}
}

func TestOperationalReadWrite(t *testing.T) {
	r := newTestRegisters(t)
	r.WriteOp(OffUSBCommand, USBCmdRunStop)
	if r.ReadOp(OffUSBCommand) != USBCmdRunStop {
		t.Fatalf("expected USBCMD.RS set after WriteOp")
	}
	r.OrOp(OffUSBCommand, USBCmdINTE)
	if r.ReadOp(OffUSBCommand) != USBCmdRunStop|USBCmdINTE {
		t.Fatalf("OrOp did not preserve existing bits")
	}
	r.AndOp(OffUSBCommand, ^uint32(USBCmdRunStop))
	if r.ReadOp(OffUSBCommand) != USBCmdINTE {
		t.Fatalf("AndOp did not clear the targeted bit")
	}
}

func TestOperational64SplitWrite(t *testing.T) {
	r := newTestRegisters(t)
	want := uint64(0x1122334455667788)
	r.WriteOp64(OffDCBAAP, want)
	if got := r.ReadOp64(OffDCBAAP); got != want {
		t.Fatalf("WriteOp64/ReadOp64 round-trip mismatch: got %#x, want %#x", got, want)
	}
}

func TestPortSCRoundTrip(t *testing.T) {
	r := newTestRegisters(t)
	r.WritePortSC(1, PortSCPortEnabled|PortSCCurrentConnectStatus)
	got := r.ReadPortSC(1)
	if got&PortSCPortEnabled == 0 || got&PortSCCurrentConnectStatus == 0 {
		t.Fatalf("PORTSC round-trip mismatch: %#x", got)
	}
	// Port 2 must be independent of port 1.
	if r.ReadPortSC(2) != 0 {
		t.Fatalf("expected port 2 PORTSC untouched, got %#x", r.ReadPortSC(2))
	}
}

func TestInterrupter64SplitWrite(t *testing.T) {
	r := newTestRegisters(t)
	want := uint64(0xCAFEF00DDEADBEEF)
	r.WriteInterrupter64(0, OffERDP, want)
	if got := r.ReadInterrupter64(0, OffERDP); got != want {
		t.Fatalf("interrupter 64-bit round-trip mismatch: got %#x, want %#x", got, want)
	}
}

func TestRingDoorbell(t *testing.T) {
	r := newTestRegisters(t)
	r.RingDoorbell(3, 1)
	off := r.base + uintptr(r.dbOff) + 3*4
	got := *(*uint32)(unsafe.Pointer(off)) //nolint:govet
	if got != 1 {
		t.Fatalf("expected doorbell target 1 at slot 3, got %d", got)
	}
}
