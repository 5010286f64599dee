package usb

import "testing"

func TestParseDeviceDescriptor(t *testing.T) {
	data := []byte{
		18, 0x01, // length, type
		0x00, 0x02, // bcdUSB 2.00
		0xFF, 0x00, 0x00, // class/subclass/protocol
		64,         // max packet size 0
		0x25, 0x05, // idVendor
		0x01, 0xA0, // idProduct
		0x00, 0x01, // bcdDevice
		1, 2, 3, // string indices
		1, // num configurations
	}
	var d DeviceDescriptor
	if !ParseDeviceDescriptor(data, &d) {
		t.Fatal("expected successful parse")
	}
	if d.VendorID != 0x0525 || d.ProductID != 0xA001 {
		t.Fatalf("vendor/product mismatch: %#x/%#x", d.VendorID, d.ProductID)
	}
	if d.MaxPacketSize0 != 64 || d.NumConfigurations != 1 {
		t.Fatalf("unexpected fields: %+v", d)
	}
}

func TestParseDeviceDescriptorTooShort(t *testing.T) {
	var d DeviceDescriptor
	if ParseDeviceDescriptor(make([]byte, 10), &d) {
		t.Fatal("expected parse failure on truncated device descriptor")
	}
}

func TestSpeedMaxPacketSize0(t *testing.T) {
	cases := map[Speed]uint16{SpeedLow: 8, SpeedFull: 64, SpeedHigh: 64, SpeedSuper: 512, SpeedSuperPlus: 512}
	for speed, want := range cases {
		if got := speed.MaxPacketSize0(); got != want {
			t.Errorf("%v.MaxPacketSize0() = %d, want %d", speed, got, want)
		}
	}
}

func TestEndpointDescriptorAccessors(t *testing.T) {
	ep := EndpointDescriptor{EndpointAddress: 0x81, Attributes: TransferTypeBulk}
	if ep.Number() != 1 {
		t.Errorf("Number() = %d, want 1", ep.Number())
	}
	if !ep.IsIn() || ep.IsOut() {
		t.Error("expected IN endpoint")
	}
	if !ep.IsBulk() {
		t.Error("expected bulk transfer type")
	}
}

func TestIntervalHighSpeedInterrupt(t *testing.T) {
	// bInterval=4 on High Speed encodes directly as exponent-1.
	got := Interval(4, SpeedHigh, TransferTypeInterrupt)
	if got != 3 {
		t.Errorf("Interval(4, High, Interrupt) = %d, want 3", got)
	}
}

func TestIntervalFullSpeedInterrupt(t *testing.T) {
	// bInterval=8 1ms frames -> 8*8=64 microframes -> log2(64)=6.
	got := Interval(8, SpeedFull, TransferTypeInterrupt)
	if got != 6 {
		t.Errorf("Interval(8, Full, Interrupt) = %d, want 6", got)
	}
}

func TestIntervalZeroBInterval(t *testing.T) {
	if got := Interval(0, SpeedSuper, TransferTypeBulk); got != 0 {
		t.Errorf("Interval(0, Super, Bulk) = %d, want 0", got)
	}
}
