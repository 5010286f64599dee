// Package xerr defines the sentinel error values and completion-code
// mapping shared across the xhci driver, in the style of a small
// systems codebase: package-level [errors.New] values, one enum type
// with a String method, and the TransferError/CommandError wrappers that
// carry a completion code as an error.
package xerr

import (
	"errors"
	"fmt"
)

// Driver-level error kinds (spec §7).
var (
	// ErrNotXhci indicates the PCI class/subclass/progIf triplet does not
	// identify an xHCI controller.
	ErrNotXhci = errors.New("xhci: device is not an xHCI controller")

	// ErrEnablePortError indicates a port reset timed out or PED never
	// asserted.
	ErrEnablePortError = errors.New("xhci: port enable failed")

	// ErrNoSlotsAvailable indicates the controller returned
	// NO_SLOTS_AVAILABLE for an Enable Slot command.
	ErrNoSlotsAvailable = errors.New("xhci: no device slots available")

	// ErrAddressDeviceError indicates an Address Device command completed
	// with a non-Success completion code.
	ErrAddressDeviceError = errors.New("xhci: address device command failed")

	// ErrConfigEndpointError indicates a Configure Endpoint command
	// completed with a non-Success completion code.
	ErrConfigEndpointError = errors.New("xhci: configure endpoint command failed")

	// ErrNotYetImplemented indicates the requested endpoint type (e.g.
	// isochronous) or a streams configuration is not supported by this
	// driver.
	ErrNotYetImplemented = errors.New("xhci: not yet implemented")

	// ErrControllerHung indicates CNR or HCH failed to clear within a
	// bounded wait.
	ErrControllerHung = errors.New("xhci: controller not responding")

	// ErrNoAddress indicates the driver ran out of root-hub ports to
	// track newly attached devices on (a purely local bookkeeping limit,
	// not a controller error).
	ErrNoAddress = errors.New("xhci: no device slot tracking entry available")

	// ErrEnumerationFailed indicates a generic enumeration-sequence
	// failure not covered by a more specific error above.
	ErrEnumerationFailed = errors.New("xhci: device enumeration failed")

	// ErrInvalidParameter indicates a caller supplied an invalid argument.
	ErrInvalidParameter = errors.New("xhci: invalid parameter")

	// ErrBufferTooSmall indicates a caller-supplied buffer is too small
	// for the requested operation.
	ErrBufferTooSmall = errors.New("xhci: buffer too small")

	// ErrRingFull indicates a TRB ring has no free, non-link slots left
	// for the requested enqueue (only possible if the producer outruns
	// the consumer). ring.Ring.Enqueue does not check for this condition
	// and never returns it.
	ErrRingFull = errors.New("xhci: ring full")

	// ErrNotRunning indicates an operation was attempted on a slot or
	// endpoint whose transfer ring has not been set up.
	ErrNotRunning = errors.New("xhci: controller not running")

	// ErrAlreadyRunning indicates a start was requested on a controller
	// that is already running; no function in this module returns it.
	ErrAlreadyRunning = errors.New("xhci: controller already running")

	// ErrCancelled indicates a caller's context was cancelled while
	// waiting for a command or transfer completion.
	ErrCancelled = errors.New("xhci: operation cancelled")

	// ErrDescriptorTooShort indicates a descriptor buffer was shorter
	// than its own declared bLength, or shorter than the type's fixed
	// header size.
	ErrDescriptorTooShort = errors.New("xhci: descriptor too short")
)

// CompletionCode mirrors the xHCI Completion Code field (TRB status
// word, bits 24:31) carried by Command Completion Events and Transfer
// Events.
type CompletionCode uint8

// Completion codes actually produced or consumed by this driver. The
// full xHCI 1.x table has ~40 entries; only the ones this driver branches
// on are named, the rest fall through String/Error as "completion code N".
const (
	CompletionInvalid              CompletionCode = 0
	CompletionSuccess              CompletionCode = 1
	CompletionDataBufferError      CompletionCode = 2
	CompletionBabbleDetectedError  CompletionCode = 3
	CompletionUSBTransactionError  CompletionCode = 4
	CompletionTRBError             CompletionCode = 5
	CompletionStallError           CompletionCode = 6
	CompletionResourceError        CompletionCode = 7
	CompletionBandwidthError       CompletionCode = 8
	CompletionNoSlotsAvailableError CompletionCode = 9
	CompletionShortPacket          CompletionCode = 13
	CompletionParameterError       CompletionCode = 17
	CompletionContextStateError    CompletionCode = 19
	CompletionCommandRingStopped   CompletionCode = 24
	CompletionCommandAborted       CompletionCode = 25
)

// String returns a human-readable completion-code name.
func (c CompletionCode) String() string {
	switch c {
	case CompletionInvalid:
		return "invalid"
	case CompletionSuccess:
		return "success"
	case CompletionDataBufferError:
		return "data buffer error"
	case CompletionBabbleDetectedError:
		return "babble detected"
	case CompletionUSBTransactionError:
		return "USB transaction error"
	case CompletionTRBError:
		return "TRB error"
	case CompletionStallError:
		return "stall error"
	case CompletionResourceError:
		return "resource error"
	case CompletionBandwidthError:
		return "bandwidth error"
	case CompletionNoSlotsAvailableError:
		return "no slots available"
	case CompletionShortPacket:
		return "short packet"
	case CompletionParameterError:
		return "parameter error"
	case CompletionContextStateError:
		return "context state error"
	case CompletionCommandRingStopped:
		return "command ring stopped"
	case CompletionCommandAborted:
		return "command aborted"
	default:
		return fmt.Sprintf("completion code %d", uint8(c))
	}
}

// IsSuccess reports whether c represents Success or Short Packet (which
// is a successful short transfer, not an error, per xHCI 1.x §4.10.1.1).
func (c CompletionCode) IsSuccess() bool {
	return c == CompletionSuccess || c == CompletionShortPacket
}

// TransferError wraps a non-Success completion code returned by a
// Transfer Event, matching spec §7's TransferError(completion_code).
type TransferError struct {
	Code CompletionCode
}

// Error implements the error interface.
func (e *TransferError) Error() string {
	return fmt.Sprintf("xhci: transfer error: %s", e.Code)
}

// NewTransferError returns a *TransferError for a non-Success completion
// code, or nil if code already indicates success.
func NewTransferError(code CompletionCode) error {
	if code.IsSuccess() {
		return nil
	}
	return &TransferError{Code: code}
}

// CommandError wraps a non-Success completion code returned by a
// Command Completion Event, annotated with the command that failed.
type CommandError struct {
	Command string
	Code    CompletionCode
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	return fmt.Sprintf("xhci: %s command failed: %s", e.Command, e.Code)
}
