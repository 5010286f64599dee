// This file implements the top-level driver API exposed to class drivers
// (spec §6): Init, GetNewlyAttachedDevices, SetConfiguration, SendRequest,
// ReadData, WriteData, and SetInterrupter, layered over the controller
// package the way the teacher's host.Host/host.Device pair layers over
// host/hal.HostHAL.
package usb

import (
	"context"
	"fmt"

	"github.com/ardnew/xhci/controller"
	"github.com/ardnew/xhci/devctx"
	"github.com/ardnew/xhci/internal/log"
	"github.com/ardnew/xhci/internal/xerr"
	"github.com/ardnew/xhci/platform"
	"github.com/ardnew/xhci/trb"
)

// MaxAttachedDevices caps how many devices GetNewlyAttachedDevices tracks
// at once, mirroring the teacher's MaxDevices bound in host/constants.go.
const MaxAttachedDevices = 32

// descriptorScratchSize is the buffer size used while fetching
// configuration descriptor trees; large enough for any configuration
// this driver is expected to see (spec non-goal: unbounded configuration
// sizes).
const descriptorScratchSize = 512

// Driver owns one xHCI controller and the devices enumerated on it.
type Driver struct {
	ctrl *controller.Controller

	devices [MaxAttachedDevices]*Device
	count   int
}

// Init verifies the PCI function is an xHCI controller (spec §4.8
// init(pci)) and brings the controller up through its full lifecycle
// (spec §4.4).
func Init(ctx context.Context, pci platform.PCIDevice, mem platform.Memory, clk platform.Clock) (*Driver, error) {
	ctrl, err := controller.New(pci, mem, clk)
	if err != nil {
		return nil, err
	}
	if err := ctrl.Init(ctx); err != nil {
		return nil, err
	}
	return &Driver{ctrl: ctrl}, nil
}

// Controller exposes the underlying controller, for callers that need
// controller-level accessors (NumPorts, PortInfo) alongside the device
// API.
func (d *Driver) Controller() *controller.Controller { return d.ctrl }

// GetNewlyAttachedDevices scans the root-hub ports, fully enumerates up
// to n freshly connected devices (slot/address/MPS fix-up, device
// descriptor, every configuration descriptor tree), and returns them
// (spec §4.8 get_newly_attached_devices).
func (d *Driver) GetNewlyAttachedDevices(ctx context.Context, n int) ([]*Device, error) {
	attached := d.ctrl.ScanPorts(ctx, n)
	out := make([]*Device, 0, len(attached))
	for _, a := range attached {
		dev, err := d.describeDevice(ctx, a)
		if err != nil {
			log.Warn(log.ComponentUSB, "device descriptor fetch failed", "slot", a.SlotID, "error", err)
			continue
		}
		if d.count < MaxAttachedDevices {
			d.devices[d.count] = dev
			d.count++
		}
		out = append(out, dev)
	}
	return out, nil
}

// describeDevice fetches the 18-byte Device Descriptor and every
// Configuration Descriptor tree for a newly addressed slot (spec §4.8).
func (d *Driver) describeDevice(ctx context.Context, a controller.AttachedDevice) (*Device, error) {
	dev := &Device{
		ctrl:   d.ctrl,
		SlotID: a.SlotID,
		Port:   a.Port,
		Speed:  Speed(a.Speed),
	}

	var hdr [DeviceDescriptorSize]byte
	if err := d.ctrl.SendRequest(ctx, a.SlotID, &controller.ControlRequest{
		RequestType: RequestTypeIn | RequestTypeStandard | RequestTypeDevice,
		Request:     RequestGetDescriptor,
		Value:       uint16(DescriptorTypeDevice) << 8,
		Data:        hdr[:],
	}); err != nil {
		return nil, fmt.Errorf("xhci: get device descriptor: %w", err)
	}
	if !ParseDeviceDescriptor(hdr[:], &dev.Descriptor) {
		return nil, xerr.ErrDescriptorTooShort
	}

	for i := uint8(0); i < dev.Descriptor.NumConfigurations; i++ {
		var head [ConfigurationDescriptorSize]byte
		if err := d.ctrl.SendRequest(ctx, a.SlotID, &controller.ControlRequest{
			RequestType: RequestTypeIn | RequestTypeStandard | RequestTypeDevice,
			Request:     RequestGetDescriptor,
			Value:       uint16(DescriptorTypeConfiguration)<<8 | uint16(i),
			Data:        head[:],
		}); err != nil {
			return nil, fmt.Errorf("xhci: get configuration %d header: %w", i, err)
		}
		var cfgHead ConfigurationDescriptor
		if !ParseConfigurationDescriptor(head[:], &cfgHead) {
			return nil, xerr.ErrDescriptorTooShort
		}

		total := int(cfgHead.TotalLength)
		if total > descriptorScratchSize {
			total = descriptorScratchSize
		}
		if total < ConfigurationDescriptorSize {
			total = ConfigurationDescriptorSize
		}
		full := make([]byte, total)
		if err := d.ctrl.SendRequest(ctx, a.SlotID, &controller.ControlRequest{
			RequestType: RequestTypeIn | RequestTypeStandard | RequestTypeDevice,
			Request:     RequestGetDescriptor,
			Value:       uint16(DescriptorTypeConfiguration)<<8 | uint16(i),
			Data:        full,
		}); err != nil {
			return nil, fmt.Errorf("xhci: get configuration %d: %w", i, err)
		}

		cfg, ifaces, eps := ParseConfigurationTree(full)
		dev.Configs = append(dev.Configs, ConfigTree{Config: cfg, Interfaces: ifaces, Endpoints: eps})
	}

	return dev, nil
}

// Device is one enumerated USB device attached to the controller's root
// hub (spec §4.8).
type Device struct {
	ctrl *controller.Controller

	SlotID uint8
	Port   int
	Speed  Speed

	Descriptor DeviceDescriptor
	Configs    []ConfigTree

	activeConfig uint8
}

// ConfigTree is one parsed configuration descriptor with its interface
// and endpoint tree (spec §4.8 descriptor parser).
type ConfigTree struct {
	Config     ConfigurationDescriptor
	Interfaces []InterfaceDescriptor
	Endpoints  []EndpointDescriptor
}

// SetConfiguration selects configValue, building and issuing a
// Configure Endpoint command for every non-control endpoint across
// every interface of that configuration, then a standard
// SET_CONFIGURATION request (spec §4.6 configure_endpoints, §6
// set_configuration).
func (d *Device) SetConfiguration(ctx context.Context, configValue uint8) error {
	var tree *ConfigTree
	for i := range d.Configs {
		if d.Configs[i].Config.ConfigurationValue == configValue {
			tree = &d.Configs[i]
			break
		}
	}
	if tree == nil {
		return fmt.Errorf("%w: no such configuration value %d", xerr.ErrInvalidParameter, configValue)
	}

	var eps []controller.EndpointConfig
	for _, ep := range tree.Endpoints {
		if ep.IsControl() {
			continue
		}
		if ep.IsIsochronous() {
			return xerr.ErrNotYetImplemented
		}
		burst := uint8((ep.MaxPacketSize >> 11) & 0x3)
		mps := ep.MaxPacketSize & 0x7FF
		if ep.Companion != nil {
			burst = ep.Companion.MaxBurst
		}
		eps = append(eps, controller.EndpointConfig{
			Number:        ep.Number(),
			DirIn:         ep.IsIn(),
			Bulk:          ep.IsBulk(),
			MaxPacketSize: mps,
			MaxBurstSize:  burst,
			Interval:      Interval(ep.Interval, d.Speed, ep.TransferType()),
		})
	}

	if err := d.ctrl.ConfigureEndpoints(ctx, d.SlotID, configValue, eps); err != nil {
		return err
	}
	d.activeConfig = configValue
	return nil
}

// SendRequest issues a standard, class, or vendor control transfer on
// this device's default control endpoint (spec §6 send_request).
func (d *Device) SendRequest(ctx context.Context, req *controller.ControlRequest) error {
	return d.ctrl.SendRequest(ctx, d.SlotID, req)
}

// ReadData reads into buf from endpoint ep (spec §6 read_data).
func (d *Device) ReadData(ctx context.Context, ep *EndpointDescriptor, buf []byte) (int, error) {
	idx := endpointIndex(ep)
	return d.ctrl.ReadData(ctx, d.SlotID, idx, buf)
}

// WriteData writes buf to endpoint ep (spec §6 write_data).
func (d *Device) WriteData(ctx context.Context, ep *EndpointDescriptor, buf []byte) (int, error) {
	idx := endpointIndex(ep)
	return d.ctrl.WriteData(ctx, d.SlotID, idx, buf)
}

// TransferCompletion is what an interrupt-context handler registered
// via SetInterrupter receives for each Transfer Event on its endpoint:
// the completion code and the residual (un-transferred) length, plus
// the opaque context value the caller supplied at registration time.
type TransferCompletion struct {
	Code            xerr.CompletionCode
	ResidualLength  uint32
	Context         any
}

// SetInterrupter registers handler to be invoked, from interrupt
// context, for every Transfer Event on ep (spec §6 set_interrupter).
func (d *Device) SetInterrupter(ep *EndpointDescriptor, handler func(TransferCompletion), ctxData any) {
	idx := endpointIndex(ep)
	d.ctrl.SetInterrupter(d.SlotID, idx, func(t trb.TRB) {
		handler(TransferCompletion{
			Code:           xerr.CompletionCode(t.CompletionCode()),
			ResidualLength: t.TransferLength(),
			Context:        ctxData,
		})
	})
}

func endpointIndex(ep *EndpointDescriptor) int {
	if ep == nil {
		return devctx.EndpointIndex(0, false)
	}
	return devctx.EndpointIndex(ep.Number(), ep.IsIn())
}
