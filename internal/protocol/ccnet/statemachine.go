package ccnet

import "github.com/fs-technology-ru/cash-system/internal/eventbus"

// StateContext is the immutable snapshot passed to every observer on a
// transition, per spec.md §3.
type StateContext struct {
	Previous  State
	Current   State
	BillCode  byte
	HasCode   bool
	BillAmount int64
	Flagged   bool
	Raw       []byte
}

// StateMachine tracks CCNET poll transitions and emits bus events for the
// significant ones. Latch flags (pendingBillCode, escrowProcessed) are
// explicit fields; they are cleared on entering BILL_RETURNED or
// REJECTING, on IDLING after a terminal state, and by Reset, and the
// pending code is also cleared once BILL_STACKED is emitted.
type StateMachine struct {
	firmware Firmware
	bus      *eventbus.Bus
	source   string

	hasState        bool
	previous        State
	current         State
	pendingBillCode byte
	hasPending      bool
	escrowProcessed bool
}

// NewStateMachine returns a fresh machine; Reset puts an existing one back
// into this state.
func NewStateMachine(fw Firmware, bus *eventbus.Bus, source string) *StateMachine {
	return &StateMachine{firmware: fw, bus: bus, source: source}
}

// Reset clears all latches and state history. Bill acceptor Reset() always
// calls this, per the Open Questions resolution on the two divergent
// PaymentSystemAPI implementations.
func (m *StateMachine) Reset() {
	m.hasState = false
	m.previous = 0
	m.current = 0
	m.hasPending = false
	m.escrowProcessed = false
}

// Process feeds one POLL observation through the machine and emits the
// appropriate bus events.
func (m *StateMachine) Process(code State, data byte, hasData bool) {
	prev := m.current
	if !m.hasState {
		// No prior observation (new machine or after Reset): the first code
		// counts as an entry into that state.
		prev = 0
	}
	m.previous = prev
	m.current = code
	m.hasState = true

	ctx := StateContext{Previous: prev, Current: code, HasCode: hasData, Raw: nil}
	if hasData {
		ctx.BillCode = data
		amt, ok := BillAmount(m.firmware, data)
		ctx.BillAmount = amt
		ctx.Flagged = !ok
	}

	switch code {
	case EscrowPosition:
		if prev != EscrowPosition {
			m.pendingBillCode = ctx.BillCode
			m.hasPending = ctx.HasCode
			m.escrowProcessed = false
			m.publish(eventbus.KindBillEscrow, ctx)
		}
	case BillStacked:
		// v2's rule (Open Questions resolution #2): emit only when entering
		// 0x81 from a non-0x81 state, never on a later re-observation.
		if prev != BillStacked && !m.escrowProcessed {
			m.escrowProcessed = true
			if !ctx.HasCode && m.hasPending {
				ctx.BillCode = m.pendingBillCode
				ctx.HasCode = true
				amt, ok := BillAmount(m.firmware, m.pendingBillCode)
				ctx.BillAmount = amt
				ctx.Flagged = !ok
			}
			m.publish(eventbus.KindBillStacked, ctx)
			m.publish(eventbus.KindBillAccepted, ctx)
			m.hasPending = false
		}
	case BillReturned:
		if prev != BillReturned {
			m.publish(eventbus.KindBillReturned, ctx)
			m.hasPending = false
			m.escrowProcessed = false
		}
	case Rejecting:
		if prev != Rejecting {
			m.publish(eventbus.KindBillRejected, ctx)
			m.hasPending = false
			m.escrowProcessed = false
		}
	case Idling:
		if prev == BillStacked || prev == BillReturned || prev == Rejecting {
			m.hasPending = false
			m.escrowProcessed = false
		}
	default:
		if errorStates[code] && prev != code {
			m.publish(eventbus.KindDeviceError, ctx)
			if code == DropCassetteFull {
				m.publish(eventbus.KindCassetteFull, ctx)
			} else if code == DropCassetteOutOfPosition {
				m.publish(eventbus.KindCassetteRemoved, ctx)
			}
		}
	}
}

func (m *StateMachine) publish(kind eventbus.Kind, ctx StateContext) {
	if m.bus == nil {
		return
	}
	ev := eventbus.Event{Kind: kind, Source: m.source}
	switch kind {
	case eventbus.KindBillEscrow, eventbus.KindBillStacked, eventbus.KindBillReturned, eventbus.KindBillRejected, eventbus.KindBillAccepted:
		ev.Bill = eventbus.BillEvent{Code: ctx.BillCode, AmountKop: ctx.BillAmount, Flagged: ctx.Flagged}
	case eventbus.KindDeviceError, eventbus.KindCassetteFull, eventbus.KindCassetteRemoved:
		ev.Err = eventbus.DeviceErrorEvent{Device: m.source, Message: ctx.Current.String()}
	}
	m.bus.Publish(ev)
}
