// Package ccnet implements the CashCode Net bill-validator driver: framing,
// CRC16, the command set, and the poll-driven state machine.
package ccnet

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fs-technology-ru/cash-system/internal/eventbus"
	"github.com/fs-technology-ru/cash-system/internal/transport"
)

const commandTimeout = 1 * time.Second

// Identification is the decoded response to the IDENTIFICATION command.
type Identification struct {
	PartNumber   string
	SerialNumber string
	AssetNumber  []byte
}

// Bill is one row of the GET_BILL_TABLE response.
type Bill struct {
	DenominationKop int64
	CountryCode     string
}

// BillAcceptor drives one CashCode Net bill validator over its own
// SerialLink for the driver's lifetime.
type BillAcceptor struct {
	link     *transport.SerialLink
	bus      *eventbus.Bus
	log      zerolog.Logger
	firmware Firmware
	sm       *StateMachine

	autoStack bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New wires a BillAcceptor to an already-open link.
func New(link *transport.SerialLink, bus *eventbus.Bus, firmware Firmware, autoStack bool, log zerolog.Logger) *BillAcceptor {
	return &BillAcceptor{
		link:      link,
		bus:       bus,
		log:       log.With().Str("driver", "ccnet").Logger(),
		firmware:  firmware,
		sm:        NewStateMachine(firmware, bus, "bill_acceptor"),
		autoStack: autoStack,
	}
}

func (d *BillAcceptor) send(cmd byte, data []byte) ([]byte, bool) {
	frame := Encode(Frame{Addr: ourAddr, Cmd: cmd, Data: data})
	if err := d.link.Write(frame); err != nil {
		d.log.Error().Err(err).Msg("write failed")
		return nil, false
	}
	reply, err := readReply(d.link, time.Now().Add(commandTimeout))
	if err != nil {
		d.log.Debug().Err(err).Msg("no reply")
		return nil, false
	}
	return reply, true
}

// Reset issues RESET and always clears the state machine, per the Open
// Questions resolution: reset must drain stale latch state regardless of
// which legacy PaymentSystemAPI variant a caller expects.
func (d *BillAcceptor) Reset() bool {
	d.sm.Reset()
	_, ok := d.send(cmdReset, nil)
	return ok
}

// Poll issues POLL and returns the decoded state and optional extended
// byte (bill code for escrow/stacked, reject reason for rejecting).
func (d *BillAcceptor) Poll() (State, byte, bool, bool) {
	reply, ok := d.send(cmdPoll, nil)
	if !ok || len(reply) == 0 {
		return 0, 0, false, false
	}
	if len(reply) > 1 {
		return State(reply[0]), reply[1], true, true
	}
	return State(reply[0]), 0, false, true
}

// SetSecurity sends a 3-byte security mask, one bit per denomination.
func (d *BillAcceptor) SetSecurity(mask uint32) bool {
	data := []byte{byte(mask >> 16), byte(mask >> 8), byte(mask)}
	_, ok := d.send(cmdSetSecurity, data)
	return ok
}

// EnableBillTypes sends the 3-byte enable mask followed by the 3-byte
// escrow mask.
func (d *BillAcceptor) EnableBillTypes(enableMask, escrowMask uint32) bool {
	data := []byte{
		byte(enableMask >> 16), byte(enableMask >> 8), byte(enableMask),
		byte(escrowMask >> 16), byte(escrowMask >> 8), byte(escrowMask),
	}
	_, ok := d.send(cmdEnableBillTypes, data)
	return ok
}

// Stack, Return, and Hold drive a bill sitting in escrow.
func (d *BillAcceptor) Stack() bool  { _, ok := d.send(cmdStack, nil); return ok }
func (d *BillAcceptor) Return() bool { _, ok := d.send(cmdReturn, nil); return ok }
func (d *BillAcceptor) Hold() bool   { _, ok := d.send(cmdHold, nil); return ok }

// Identification decodes the IDENTIFICATION reply (teacher-grounded field
// layout: 15-byte part number, 12-byte serial number, 6-byte asset tag).
func (d *BillAcceptor) Identification() (Identification, bool) {
	reply, ok := d.send(cmdIdentification, nil)
	if !ok || len(reply) < 34 {
		return Identification{}, false
	}
	return Identification{
		PartNumber:   string(reply[:15]),
		SerialNumber: string(reply[16:27]),
		AssetNumber:  append([]byte(nil), reply[28:34]...),
	}, true
}

// GetBillTable decodes the firmware's onboard denomination table (24 rows
// of {value-byte, 3-byte country, exponent-byte}), teacher-grounded.
func (d *BillAcceptor) GetBillTable() ([]Bill, bool) {
	reply, ok := d.send(cmdGetBillTable, nil)
	if !ok || len(reply) < 24*5 {
		return nil, false
	}
	bills := make([]Bill, 0, 24)
	for i := 0; i < 24; i++ {
		first := reply[i*5]
		country := string(reply[i*5+1 : i*5+4])
		exp := reply[i*5+4]
		var e int
		if exp > 0x80 {
			e = -int(exp - 0x80)
		} else {
			e = int(exp)
		}
		value := int64(first)
		if e >= 0 {
			for k := 0; k < e; k++ {
				value *= 10
			}
		} else {
			for k := 0; k < -e; k++ {
				value /= 10
			}
		}
		bills = append(bills, Bill{DenominationKop: value, CountryCode: country})
	}
	return bills, true
}

// Connect opens the device: POLL once, RESET, then poll up to 50 times at
// 200ms waiting for IDLING or UNIT_DISABLED. Proceeds even if neither is
// reached, logging a warning, per spec.md §4.2.
func (d *BillAcceptor) Connect() {
	d.Poll()
	d.Reset()
	for i := 0; i < 50; i++ {
		state, _, _, ok := d.Poll()
		if ok && (state == Idling || state == UnitDisabled) {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	d.log.Warn().Msg("connect: device never reached IDLING/UNIT_DISABLED")
}

// Enable runs the enable sequence and starts the poll loop.
func (d *BillAcceptor) Enable(ctx context.Context) {
	d.SetSecurity(0xFFFFFF)
	d.EnableBillTypes(0xFFFFFF, 0xFFFFFF)
	d.startPollLoop(ctx)
}

// Disable stops the poll loop and disables acceptance by re-enabling with
// an empty mask (hold the device in UNIT_DISABLED).
func (d *BillAcceptor) Disable() {
	if d.cancel != nil {
		d.cancel()
		<-d.done
		d.cancel = nil
	}
	d.EnableBillTypes(0, 0)
}

// startPollLoop runs the 200ms poll loop (10ms while BILL_STACKED, to catch
// the following transition before it's missed — see spec.md §4.2), backing
// off to 1s on error, and auto-stacking/auto-re-enabling as configured.
func (d *BillAcceptor) startPollLoop(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		interval := 200 * time.Millisecond
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			state, data, hasData, ok := d.Poll()
			if !ok {
				time.Sleep(1 * time.Second)
				continue
			}

			d.sm.Process(state, data, hasData)

			if d.autoStack && state == EscrowPosition {
				d.Stack()
			}
			if state == UnitDisabled && d.autoStack {
				// Auto re-enable: if the device disabled itself mid-session,
				// resend SET_SECURITY then ENABLE_BILL_TYPES.
				d.SetSecurity(0xFFFFFF)
				d.EnableBillTypes(0xFFFFFF, 0xFFFFFF)
			}

			if state == BillStacked {
				interval = 10 * time.Millisecond
			} else {
				interval = 200 * time.Millisecond
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}()
}
