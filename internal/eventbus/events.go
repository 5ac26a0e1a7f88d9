// Package eventbus is the in-memory publish/subscribe bus drivers use to
// report state changes upward without knowing who, if anyone, is listening.
package eventbus

// Kind identifies the payload carried by an Event. Consumers switch on Kind
// rather than relying on a dynamic message dict, per the source's
// re-architecture notes.
type Kind int

const (
	KindBillEscrow Kind = iota
	KindBillStacked
	KindBillReturned
	KindBillRejected
	KindBillAccepted
	KindCoinCredit
	KindDispensed
	KindIncompletePayout
	KindDeviceError
	KindCassetteFull
	KindCassetteRemoved
	KindOpened
	KindClosed
)

// BillEvent carries bill-acceptor transitions (escrow, stacked, returned,
// rejected) and the unified BillAccepted credit event.
type BillEvent struct {
	Code      byte
	AmountKop int64
	Flagged   bool // true when Code had no denomination mapping
}

// CoinCredit is one accepted coin of a known denomination.
type CoinCredit struct {
	ValueKop int64
}

// DispensedEvent reports a completed or partial SSP payout.
type DispensedEvent struct {
	ActualKop    int64
	RequestedKop int64
}

// DeviceErrorEvent carries a driver-reported fault.
type DeviceErrorEvent struct {
	Device  string
	Message string
}

// Event is the tagged union published on the bus. Exactly one payload
// field is meaningful, selected by Kind.
type Event struct {
	Kind   Kind
	Source string
	Bill   BillEvent
	Coin   CoinCredit
	Disp   DispensedEvent
	Err    DeviceErrorEvent
}
