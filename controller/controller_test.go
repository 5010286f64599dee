package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/ardnew/xhci/internal/xerr"
	"github.com/ardnew/xhci/ring"
	"github.com/ardnew/xhci/trb"
)

func TestCandidatePortRequiresConnectAndChange(t *testing.T) {
	cases := []struct {
		portsc uint32
		want   bool
	}{
		{0, false},
		{candidateConnect, true},
		{candidateConnect &^ 1, false}, // change bit set, current status clear
	}
	for _, c := range cases {
		if got := candidatePort(c.portsc); got != c.want {
			t.Errorf("candidatePort(%#x) = %v, want %v", c.portsc, got, c.want)
		}
	}
}

const candidateConnect = 1<<17 | 1<<0 // ConnectStatusChange | CurrentConnectStatus

func TestDefaultMaxPacketSize0(t *testing.T) {
	cases := map[uint8]uint16{
		speedLowSpeed:       8,
		speedFullSpeed:      64,
		speedHighSpeed:      64,
		speedSuperSpeed:     512,
		speedSuperSpeedPlus: 512,
	}
	for speed, want := range cases {
		if got := defaultMaxPacketSize0(speed); got != want {
			t.Errorf("defaultMaxPacketSize0(%d) = %d, want %d", speed, got, want)
		}
	}
}

func TestIssueCommandSuccess(t *testing.T) {
	c := newTestController(t)
	expectedAddr := c.cmdRing.PhysBase()

	evt := trb.TRB{Parameter: uint64(expectedAddr)}
	evt.SetType(trb.TypeCommandCompletionEvent)
	evt.Status = uint32(xerr.CompletionSuccess) << 24
	pushEvent(t, c, evt)

	got, err := c.issueCommand(context.Background(), "no-op", trb.NewNoOpCommand())
	if err != nil {
		t.Fatalf("issueCommand: %v", err)
	}
	if got.Parameter != uint64(expectedAddr) {
		t.Fatalf("completion event address mismatch: got %#x, want %#x", got.Parameter, expectedAddr)
	}
}

func TestIssueCommandFailureReturnsCommandError(t *testing.T) {
	c := newTestController(t)
	expectedAddr := c.cmdRing.PhysBase()

	evt := trb.TRB{Parameter: uint64(expectedAddr)}
	evt.SetType(trb.TypeCommandCompletionEvent)
	evt.Status = uint32(xerr.CompletionTRBError) << 24
	pushEvent(t, c, evt)

	_, err := c.issueCommand(context.Background(), "no-op", trb.NewNoOpCommand())
	var ce *xerr.CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *xerr.CommandError, got %v (%T)", err, err)
	}
	if ce.Code != xerr.CompletionTRBError {
		t.Fatalf("expected TRB error code, got %v", ce.Code)
	}
}

func TestEnableSlotNoSlotsAvailable(t *testing.T) {
	c := newTestController(t)
	expectedAddr := c.cmdRing.PhysBase()

	evt := trb.TRB{Parameter: uint64(expectedAddr)}
	evt.SetType(trb.TypeCommandCompletionEvent)
	evt.Status = uint32(xerr.CompletionNoSlotsAvailableError) << 24
	pushEvent(t, c, evt)

	_, err := c.enableSlot(context.Background(), 1)
	if !errors.Is(err, xerr.ErrNoSlotsAvailable) {
		t.Fatalf("expected ErrNoSlotsAvailable, got %v", err)
	}
}

func TestSendRequestNoData(t *testing.T) {
	c := newTestController(t)
	r, err := ring.New(c.mem, defaultTransferRingSize)
	if err != nil {
		t.Fatalf("ring.New: %v", err)
	}
	c.slots[1] = &slotState{slotID: 1}
	c.slots[1].transferRing[1] = r

	expectedAddr := r.PhysBase()
	evt := trb.TRB{Parameter: uint64(expectedAddr)}
	evt.SetType(trb.TypeTransferEvent)
	evt.SetSlotID(1)
	evt.Control |= 1 << 16 // Endpoint ID field: control endpoint is always index 1
	evt.Status = uint32(xerr.CompletionSuccess) << 24
	pushEvent(t, c, evt)

	err = c.SendRequest(context.Background(), 1, &ControlRequest{
		RequestType: 0x00,
		Request:     0x09, // SET_CONFIGURATION
		Value:       1,
	})
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
}

func TestNormalTransferRead(t *testing.T) {
	c := newTestController(t)
	r, err := ring.New(c.mem, defaultTransferRingSize)
	if err != nil {
		t.Fatalf("ring.New: %v", err)
	}
	c.slots[1] = &slotState{slotID: 1}
	c.slots[1].transferRing[2] = r

	expectedAddr := r.PhysBase()
	evt := trb.TRB{Parameter: uint64(expectedAddr)}
	evt.SetType(trb.TypeTransferEvent)
	evt.SetSlotID(1)
	evt.Control |= 2 << 16 // Endpoint ID field, matches epIndex=2
	evt.Status = uint32(xerr.CompletionSuccess) << 24 // TransferLength 0 -> full buffer transferred

	pushEvent(t, c, evt)

	buf := make([]byte, 8)
	n, err := c.ReadData(context.Background(), 1, 2, buf)
	if err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("expected %d bytes transferred, got %d", len(buf), n)
	}
}
