// Package usb implements the top-level driver API (spec §4.8): device
// descriptor parsing, the request/response surface applications use to
// talk to enumerated devices, and the public types the rest of the
// driver is built around.
package usb

import "fmt"

// Speed is the negotiated USB connection speed (PORTSC.Speed field
// values, xHCI 1.x table 5-23).
type Speed uint8

// Speed values this driver recognizes.
const (
	SpeedFull   Speed = 1 // 12 Mbps
	SpeedLow    Speed = 2 // 1.5 Mbps
	SpeedHigh   Speed = 3 // 480 Mbps
	SpeedSuper  Speed = 4 // 5 Gbps
	SpeedSuperPlus Speed = 5 // 10 Gbps
)

// String returns a human-readable speed description.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed (1.5 Mbps)"
	case SpeedFull:
		return "Full Speed (12 Mbps)"
	case SpeedHigh:
		return "High Speed (480 Mbps)"
	case SpeedSuper:
		return "SuperSpeed (5 Gbps)"
	case SpeedSuperPlus:
		return "SuperSpeedPlus (10 Gbps)"
	default:
		return fmt.Sprintf("unknown speed (%d)", uint8(s))
	}
}

// MaxPacketSize0 returns the default endpoint 0 max packet size for this
// speed (spec §4.5 Address Device step), before a GET_DESCRIPTOR(8)
// correction.
func (s Speed) MaxPacketSize0() uint16 {
	switch s {
	case SpeedLow:
		return 8
	case SpeedSuper, SpeedSuperPlus:
		return 512
	default:
		return 64
	}
}

// Descriptor types (USB 2.0 §9.4, plus the SuperSpeed companion type).
const (
	DescriptorTypeDevice               = 0x01
	DescriptorTypeConfiguration        = 0x02
	DescriptorTypeString               = 0x03
	DescriptorTypeInterface            = 0x04
	DescriptorTypeEndpoint             = 0x05
	DescriptorTypeDeviceQualifier      = 0x06
	DescriptorTypeOtherSpeedConfig     = 0x07
	DescriptorTypeInterfacePower       = 0x08
	DescriptorTypeOTG                  = 0x09
	DescriptorTypeDebug                = 0x0A
	DescriptorTypeInterfaceAssociation = 0x0B
	// DescriptorTypeSSEndpointCompanion is the SuperSpeed Endpoint
	// Companion descriptor (USB 3.x §9.6.7), parsed when present
	// following an endpoint descriptor on a SuperSpeed configuration
	// (spec §4.8 supplement).
	DescriptorTypeSSEndpointCompanion = 0x30
)

// Standard request codes (USB 2.0 table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// Request type (bmRequestType) bit fields.
const (
	RequestTypeOut       = 0x00
	RequestTypeIn        = 0x80
	RequestTypeStandard  = 0x00
	RequestTypeClass     = 0x20
	RequestTypeVendor    = 0x40
	RequestTypeDevice    = 0x00
	RequestTypeInterface = 0x01
	RequestTypeEndpoint  = 0x02
	RequestTypeOther     = 0x03
)

// Feature selectors for SetFeature/ClearFeature (USB 2.0 table 9-6).
const (
	FeatureEndpointHalt       = 0
	FeatureDeviceRemoteWakeup = 1
	FeatureTestMode           = 2
)

// LangIDUSEnglish is the default string descriptor language ID.
const LangIDUSEnglish = 0x0409

// DeviceDescriptor is a parsed USB device descriptor (USB 2.0 §9.6.1).
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	USBVersion        uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// DeviceDescriptorSize is the fixed size of a device descriptor.
const DeviceDescriptorSize = 18

// ParseDeviceDescriptor parses a device descriptor from data into out,
// reporting false if data is shorter than DeviceDescriptorSize.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) bool {
	if len(data) < DeviceDescriptorSize {
		return false
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.USBVersion = uint16(data[2]) | uint16(data[3])<<8
	out.DeviceClass = data[4]
	out.DeviceSubClass = data[5]
	out.DeviceProtocol = data[6]
	out.MaxPacketSize0 = data[7]
	out.VendorID = uint16(data[8]) | uint16(data[9])<<8
	out.ProductID = uint16(data[10]) | uint16(data[11])<<8
	out.DeviceVersion = uint16(data[12]) | uint16(data[13])<<8
	out.ManufacturerIndex = data[14]
	out.ProductIndex = data[15]
	out.SerialNumberIndex = data[16]
	out.NumConfigurations = data[17]
	return true
}

// ConfigurationDescriptor is a parsed USB configuration descriptor
// header (USB 2.0 §9.6.3); the variable-length interface/endpoint tree
// that follows is parsed separately by ParseConfigurationTree.
type ConfigurationDescriptor struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8
}

// ConfigurationDescriptorSize is the fixed size of a configuration
// descriptor header.
const ConfigurationDescriptorSize = 9

// ParseConfigurationDescriptor parses a configuration descriptor header.
func ParseConfigurationDescriptor(data []byte, out *ConfigurationDescriptor) bool {
	if len(data) < ConfigurationDescriptorSize {
		return false
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.TotalLength = uint16(data[2]) | uint16(data[3])<<8
	out.NumInterfaces = data[4]
	out.ConfigurationValue = data[5]
	out.ConfigurationIndex = data[6]
	out.Attributes = data[7]
	out.MaxPower = data[8]
	return true
}

// InterfaceDescriptor is a parsed USB interface descriptor (USB 2.0
// §9.6.5).
type InterfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

// InterfaceDescriptorSize is the fixed size of an interface descriptor.
const InterfaceDescriptorSize = 9

// ParseInterfaceDescriptor parses an interface descriptor.
func ParseInterfaceDescriptor(data []byte, out *InterfaceDescriptor) bool {
	if len(data) < InterfaceDescriptorSize {
		return false
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.InterfaceNumber = data[2]
	out.AlternateSetting = data[3]
	out.NumEndpoints = data[4]
	out.InterfaceClass = data[5]
	out.InterfaceSubClass = data[6]
	out.InterfaceProtocol = data[7]
	out.InterfaceIndex = data[8]
	return true
}

// EndpointDescriptor is a parsed USB endpoint descriptor (USB 2.0
// §9.6.6).
type EndpointDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8

	// Companion is non-nil when a SuperSpeed Endpoint Companion
	// descriptor (type 0x30) immediately follows this endpoint
	// descriptor in the configuration tree.
	Companion *SSEndpointCompanionDescriptor
}

// EndpointDescriptorSize is the fixed size of an endpoint descriptor.
const EndpointDescriptorSize = 7

// ParseEndpointDescriptor parses an endpoint descriptor.
func ParseEndpointDescriptor(data []byte, out *EndpointDescriptor) bool {
	if len(data) < EndpointDescriptorSize {
		return false
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.EndpointAddress = data[2]
	out.Attributes = data[3]
	out.MaxPacketSize = uint16(data[4]) | uint16(data[5])<<8
	out.Interval = data[6]
	return true
}

// Number returns the endpoint number (0-15).
func (e *EndpointDescriptor) Number() uint8 { return e.EndpointAddress & 0x0F }

// Direction returns the raw direction bit (0x00 or 0x80).
func (e *EndpointDescriptor) Direction() uint8 { return e.EndpointAddress & 0x80 }

// IsIn reports whether this is an IN endpoint.
func (e *EndpointDescriptor) IsIn() bool { return e.Direction() == 0x80 }

// IsOut reports whether this is an OUT endpoint.
func (e *EndpointDescriptor) IsOut() bool { return e.Direction() == 0x00 }

// Endpoint transfer types (Attributes bits 0:1).
const (
	TransferTypeControl     = 0x00
	TransferTypeIsochronous = 0x01
	TransferTypeBulk        = 0x02
	TransferTypeInterrupt   = 0x03
)

// TransferType returns the endpoint's transfer type.
func (e *EndpointDescriptor) TransferType() uint8 { return e.Attributes & 0x03 }

// IsControl reports whether this is a control endpoint.
func (e *EndpointDescriptor) IsControl() bool { return e.TransferType() == TransferTypeControl }

// IsBulk reports whether this is a bulk endpoint.
func (e *EndpointDescriptor) IsBulk() bool { return e.TransferType() == TransferTypeBulk }

// IsInterrupt reports whether this is an interrupt endpoint.
func (e *EndpointDescriptor) IsInterrupt() bool { return e.TransferType() == TransferTypeInterrupt }

// IsIsochronous reports whether this is an isochronous endpoint.
func (e *EndpointDescriptor) IsIsochronous() bool {
	return e.TransferType() == TransferTypeIsochronous
}

// SSEndpointCompanionDescriptor is the SuperSpeed Endpoint Companion
// descriptor (USB 3.x §9.6.7), carrying burst/streams information the
// plain endpoint descriptor doesn't.
type SSEndpointCompanionDescriptor struct {
	Length           uint8
	DescriptorType   uint8
	MaxBurst         uint8
	Attributes       uint8 // MaxStreams (bulk) or Mult (isoch)
	BytesPerInterval uint16
}

// SSEndpointCompanionDescriptorSize is the fixed size of the companion
// descriptor.
const SSEndpointCompanionDescriptorSize = 6

// ParseSSEndpointCompanionDescriptor parses a SuperSpeed Endpoint
// Companion descriptor.
func ParseSSEndpointCompanionDescriptor(data []byte, out *SSEndpointCompanionDescriptor) bool {
	if len(data) < SSEndpointCompanionDescriptorSize {
		return false
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.MaxBurst = data[2]
	out.Attributes = data[3]
	out.BytesPerInterval = uint16(data[4]) | uint16(data[5])<<8
	return true
}

// Interval computes the xHCI Endpoint Context Interval field (expressed
// as 125us units, log2-encoded) from a descriptor's raw bInterval field
// and the device's negotiated speed (spec Open Question d). Low/Full
// speed interrupt endpoints encode bInterval directly in 1ms frames;
// High/Super speed endpoints (and Full/Low speed isoch) encode it as a
// power-of-two exponent of 125us microframes (USB 2.0 §9.6.6, xHCI 1.x
// table 6-12).
func Interval(bInterval uint8, speed Speed, transferType uint8) uint8 {
	switch speed {
	case SpeedLow, SpeedFull:
		if transferType == TransferTypeInterrupt {
			// 1ms frames -> 8 microframes per frame -> log2(bInterval*8).
			return log2Floor(uint32(bInterval)) + 3
		}
		return log2Floor(uint32(bInterval))
	default:
		if bInterval == 0 {
			return 0
		}
		return bInterval - 1
	}
}

func log2Floor(v uint32) uint8 {
	var n uint8
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}
