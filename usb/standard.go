package usb

import (
	"context"

	"github.com/ardnew/xhci/controller"
)

// GetStatus issues a standard GET_STATUS request against recipient
// (device, interface, or endpoint) and returns the 2-byte status word
// (spec.md Open Question (e); adapted from the teacher's
// host/device.go GetStatus, generalized to any recipient).
func (d *Device) GetStatus(ctx context.Context, recipient uint8, index uint16) (uint16, error) {
	var buf [2]byte
	if err := d.SendRequest(ctx, &controller.ControlRequest{
		RequestType: RequestTypeIn | RequestTypeStandard | recipient,
		Request:     RequestGetStatus,
		Index:       index,
		Data:        buf[:],
	}); err != nil {
		return 0, err
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

// ClearFeature issues a standard CLEAR_FEATURE request.
func (d *Device) ClearFeature(ctx context.Context, recipient uint8, feature uint16, index uint16) error {
	return d.SendRequest(ctx, &controller.ControlRequest{
		RequestType: RequestTypeOut | RequestTypeStandard | recipient,
		Request:     RequestClearFeature,
		Value:       feature,
		Index:       index,
	})
}

// SetFeature issues a standard SET_FEATURE request.
func (d *Device) SetFeature(ctx context.Context, recipient uint8, feature uint16, index uint16) error {
	return d.SendRequest(ctx, &controller.ControlRequest{
		RequestType: RequestTypeOut | RequestTypeStandard | recipient,
		Request:     RequestSetFeature,
		Value:       feature,
		Index:       index,
	})
}

// ClearEndpointHalt clears the FeatureEndpointHalt condition on ep,
// the common case of ClearFeature applications reach for directly
// (teacher's host/device.go ClearEndpointHalt).
func (d *Device) ClearEndpointHalt(ctx context.Context, ep *EndpointDescriptor) error {
	return d.ClearFeature(ctx, RequestTypeEndpoint, FeatureEndpointHalt, uint16(ep.EndpointAddress))
}

// GetInterface issues a standard GET_INTERFACE request, returning the
// currently selected alternate setting for interfaceNum (spec.md Open
// Question (e): declared but not implemented upstream; this driver
// implements it since it is a plain control transfer).
func (d *Device) GetInterface(ctx context.Context, interfaceNum uint8) (uint8, error) {
	var buf [1]byte
	if err := d.SendRequest(ctx, &controller.ControlRequest{
		RequestType: RequestTypeIn | RequestTypeStandard | RequestTypeInterface,
		Request:     RequestGetInterface,
		Index:       uint16(interfaceNum),
		Data:        buf[:],
	}); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// SetInterface issues a standard SET_INTERFACE request, selecting
// alternate setting altSetting for interfaceNum (spec.md Open Question
// (e)).
func (d *Device) SetInterface(ctx context.Context, interfaceNum, altSetting uint8) error {
	return d.SendRequest(ctx, &controller.ControlRequest{
		RequestType: RequestTypeOut | RequestTypeStandard | RequestTypeInterface,
		Request:     RequestSetInterface,
		Value:       uint16(altSetting),
		Index:       uint16(interfaceNum),
	})
}

// GetConfiguration issues a standard GET_CONFIGURATION request.
func (d *Device) GetConfiguration(ctx context.Context) (uint8, error) {
	var buf [1]byte
	if err := d.SendRequest(ctx, &controller.ControlRequest{
		RequestType: RequestTypeIn | RequestTypeStandard | RequestTypeDevice,
		Request:     RequestGetConfiguration,
		Data:        buf[:],
	}); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ActiveConfiguration returns the configuration value SetConfiguration
// last installed successfully, or 0 if none has been selected.
func (d *Device) ActiveConfiguration() uint8 { return d.activeConfig }
