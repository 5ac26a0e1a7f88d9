package ccnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fs-technology-ru/cash-system/internal/eventbus"
)

func TestCRC16RoundTrip(t *testing.T) {
	frame := Encode(Frame{Addr: ourAddr, Cmd: cmdPoll, Data: nil})
	// Appending the frame's own trailing CRC bytes back onto the body (minus
	// those bytes) and recomputing must reproduce them exactly.
	body := frame[:len(frame)-2]
	assert.Equal(t, uint16(frame[len(frame)-2])|uint16(frame[len(frame)-1])<<8, CRC16(body))
}

func TestEncodeLength(t *testing.T) {
	f := Encode(Frame{Addr: ourAddr, Cmd: cmdEnableBillTypes, Data: []byte{1, 2, 3, 4, 5, 6}})
	require.Len(t, f, minFrameLen+6)
	assert.Equal(t, byte(minFrameLen+6), f[2])
}

func TestBillAmountUnknownCodeFlagsNotFound(t *testing.T) {
	_, ok := BillAmount(FirmwareV2, 0xFF)
	assert.False(t, ok)
}

func TestBillAmountKnownCode(t *testing.T) {
	v, ok := BillAmount(FirmwareV2, 0x01)
	require.True(t, ok)
	assert.Equal(t, int64(5000*100), v)
}

// TestStateMachineStackedEmitsOncePerEscrow exercises the v2 rule resolved
// against the Open Questions: BILL_STACKED only fires bus events the first
// time it's observed after leaving a non-stacked state, not on every
// subsequent poll that still reports BILL_STACKED.
func TestStateMachineStackedEmitsOncePerEscrow(t *testing.T) {
	var stacked, accepted int
	bus := eventbus.New()
	bus.Subscribe(eventbus.KindBillStacked, func(eventbus.Event) { stacked++ })
	bus.Subscribe(eventbus.KindBillAccepted, func(eventbus.Event) { accepted++ })

	sm := NewStateMachine(FirmwareV2, bus, "bill_acceptor")
	sm.Process(Idling, 0, false)
	sm.Process(EscrowPosition, 0x01, true)
	sm.Process(BillStacked, 0x01, true)
	sm.Process(BillStacked, 0x01, true)
	sm.Process(BillStacked, 0x01, true)

	assert.Equal(t, 1, stacked)
	assert.Equal(t, 1, accepted)
}

func TestStateMachineStackedFallsBackToPendingCode(t *testing.T) {
	var gotAmount int64
	bus := eventbus.New()
	bus.Subscribe(eventbus.KindBillStacked, func(ev eventbus.Event) { gotAmount = ev.Bill.AmountKop })

	sm := NewStateMachine(FirmwareV2, bus, "bill_acceptor")
	sm.Process(Idling, 0, false)
	sm.Process(EscrowPosition, 0x02, true)
	// BILL_STACKED observed with no data byte: must fall back to the code
	// latched on entering escrow.
	sm.Process(BillStacked, 0, false)

	assert.Equal(t, int64(10000*100), gotAmount)
}

func TestStateMachineResetClearsLatches(t *testing.T) {
	bus := eventbus.New()
	sm := NewStateMachine(FirmwareV2, bus, "bill_acceptor")
	sm.Process(Idling, 0, false)
	sm.Process(EscrowPosition, 0x01, true)
	sm.Reset()

	var stacked int
	bus.Subscribe(eventbus.KindBillStacked, func(eventbus.Event) { stacked++ })
	// After Reset, the machine has no memory of the prior escrow, so a
	// direct BILL_STACKED observation is still treated as a fresh entry.
	sm.Process(BillStacked, 0x01, true)
	assert.Equal(t, 1, stacked)
}

func TestStateMachineDeviceFaultEmitsCassetteFull(t *testing.T) {
	var faults, full int
	bus := eventbus.New()
	bus.Subscribe(eventbus.KindDeviceError, func(eventbus.Event) { faults++ })
	bus.Subscribe(eventbus.KindCassetteFull, func(eventbus.Event) { full++ })

	sm := NewStateMachine(FirmwareV2, bus, "bill_acceptor")
	sm.Process(Idling, 0, false)
	sm.Process(DropCassetteFull, 0, false)
	sm.Process(DropCassetteFull, 0, false)

	assert.Equal(t, 1, faults)
	assert.Equal(t, 1, full)
}
