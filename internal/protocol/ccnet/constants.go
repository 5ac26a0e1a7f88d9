package ccnet

// Sync and addressing bytes, spec.md §4.2/§6.
const (
	sync    byte = 0x02
	ourAddr byte = 0x03

	minFrameLen = 6
	maxFrameLen = 250
)

// Command opcodes, spec.md §4.2.
const (
	cmdReset           byte = 0x30
	cmdSetSecurity     byte = 0x32
	cmdPoll            byte = 0x33
	cmdEnableBillTypes byte = 0x34
	cmdStack           byte = 0x35
	cmdReturn          byte = 0x36
	cmdIdentification  byte = 0x37
	cmdHold            byte = 0x38
	cmdGetBillTable     byte = 0x41
	cmdGetStatus       byte = 0x31
)

// State is one of the 22 enumerated CCNET device-state codes.
type State byte

const (
	PowerUp                   State = 0x10
	PowerUpBillValidator      State = 0x11
	PowerUpBillStacker        State = 0x12
	Initialize                State = 0x13
	Idling                    State = 0x14
	Accepting                 State = 0x15
	Stacking                  State = 0x17
	Returning                 State = 0x18
	UnitDisabled              State = 0x19
	Holding                   State = 0x1A
	DeviceBusy                State = 0x1B
	Rejecting                 State = 0x1C
	DropCassetteFull          State = 0x41
	DropCassetteOutOfPosition State = 0x42
	ValidatorJammed           State = 0x43
	DropCassetteJammed        State = 0x44
	Cheated                   State = 0x45
	Pause                     State = 0x46
	GenericFailure            State = 0x47
	EscrowPosition            State = 0x80
	BillStacked               State = 0x81
	BillReturned              State = 0x82
)

func (s State) String() string {
	switch s {
	case PowerUp:
		return "POWER_UP"
	case PowerUpBillValidator:
		return "POWER_UP_WITH_BILL_IN_VALIDATOR"
	case PowerUpBillStacker:
		return "POWER_UP_WITH_BILL_IN_STACKER"
	case Initialize:
		return "INITIALIZE"
	case Idling:
		return "IDLING"
	case Accepting:
		return "ACCEPTING"
	case Stacking:
		return "STACKING"
	case Returning:
		return "RETURNING"
	case UnitDisabled:
		return "UNIT_DISABLED"
	case Holding:
		return "HOLDING"
	case DeviceBusy:
		return "DEVICE_BUSY"
	case Rejecting:
		return "REJECTING"
	case DropCassetteFull:
		return "DROP_CASSETTE_FULL"
	case DropCassetteOutOfPosition:
		return "DROP_CASSETTE_OUT_OF_POSITION"
	case ValidatorJammed:
		return "VALIDATOR_JAMMED"
	case DropCassetteJammed:
		return "DROP_CASSETTE_JAMMED"
	case Cheated:
		return "CHEATED"
	case Pause:
		return "PAUSE"
	case GenericFailure:
		return "GENERIC_FAILURE"
	case EscrowPosition:
		return "ESCROW_POSITION"
	case BillStacked:
		return "BILL_STACKED"
	case BillReturned:
		return "BILL_RETURNED"
	default:
		return "UNKNOWN"
	}
}

// errorStates is the set the state machine treats as DeviceFault.
var errorStates = map[State]bool{
	DropCassetteFull:          true,
	DropCassetteOutOfPosition: true,
	ValidatorJammed:           true,
	DropCassetteJammed:        true,
	Cheated:                   true,
	Pause:                     true,
	GenericFailure:            true,
}

// Firmware selects which static denomination table a bill code maps through.
type Firmware string

const (
	FirmwareV1 Firmware = "v1"
	FirmwareV2 Firmware = "v2"
	FirmwareV3 Firmware = "v3"
)

// billTableV1 is the short-list table for the V1 firmware variant, kopecks.
var billTableV1 = map[byte]int64{
	0x00: 1000 * 100,
	0x01: 5000 * 100,
	0x02: 10000 * 100,
}

// billTableV2 is the extended table shared by the V2/V3 firmware variants.
var billTableV2 = map[byte]int64{
	0x00: 1000 * 100,
	0x01: 5000 * 100,
	0x02: 10000 * 100,
	0x03: 50000 * 100,
	0x04: 100000 * 100,
	0x05: 200000 * 100,
	0x06: 500000 * 100,
	0x07: 2000 * 100,
}

// BillAmount maps a bill code to its kopeck value for the given firmware.
// An unknown code returns (0, false); the caller still emits the stack
// event but with the amount flagged.
func BillAmount(fw Firmware, code byte) (int64, bool) {
	table := billTableV2
	if fw == FirmwareV1 {
		table = billTableV1
	}
	v, ok := table[code]
	return v, ok
}
