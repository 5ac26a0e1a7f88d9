// Package lcdm implements the LCDM-2000 bill-dispenser driver: EOT/STX/ETX
// framing with an XOR checksum, the ACK/NAK handshake, and the dual-cassette
// dispense commands.
package lcdm

// Framing bytes, spec.md §4.3.
const (
	eot byte = 0x04
	id  byte = 0x50
	stx byte = 0x02
	etx byte = 0x03
	soh byte = 0x01
	ack byte = 0x06
	nak byte = 0xFF
)

// Command opcodes.
const (
	cmdPurge              byte = 0x44
	cmdStatus             byte = 0x46
	cmdUpperDispense      byte = 0x45
	cmdLowerDispense      byte = 0x55
	cmdUpperLowerDispense byte = 0x56
	cmdUpperTestDispense  byte = 0x76
	cmdLowerTestDispense  byte = 0x77
)

// errorEntry is one row of the device's result-code table.
type errorEntry struct {
	message string
	isFault bool
}

// errorTable maps the response's error byte to a message and whether it's a
// fault (anything but 0x30 "Good" and 0x31 "Normal stop" is a fault).
// Grounded on devices_v1/devices/bill_dispenser/bill_dispenser.py's
// checkErrors mapping.
var errorTable = map[byte]errorEntry{
	0x30: {"good", false},
	0x31: {"normal stop", false},
	0x32: {"pickup error", true},
	0x33: {"jam at CHK1,2 sensor", true},
	0x34: {"overflow bill", true},
	0x35: {"jam at EXIT sensor or EJT sensor", true},
	0x36: {"jam at DIV sensor", true},
	0x37: {"undefined command", true},
	0x38: {"upper bill-end", true},
	0x3A: {"counting error (CHK3,4 to DIV sensor)", true},
	0x3B: {"note request error", true},
	0x3C: {"counting error (DIV to EJT sensor)", true},
	0x3D: {"counting error (EJT to EXIT sensor)", true},
	0x3F: {"reject tray not recognized", true},
	0x40: {"lower bill-end", true},
	0x41: {"motor stop", true},
	0x42: {"jam at DIV sensor", true},
	0x43: {"timeout (DIV to EJT sensor)", true},
	0x44: {"over reject", true},
	0x45: {"upper cassette not recognized", true},
	0x46: {"lower cassette not recognized", true},
	0x47: {"dispensing timeout", true},
	0x48: {"jam at EJT sensor", true},
	0x49: {"diverter solenoid or SOL sensor error", true},
	0x4A: {"SOL sensor error", true},
	0x4C: {"jam at CHK3,4 sensor", true},
	0x4E: {"purge error (jam at DIV sensor)", true},
}

func lookupError(code byte) (string, bool) {
	if e, ok := errorTable[code]; ok {
		return e.message, e.isFault
	}
	return "unknown error", true
}

// Status is the parsed 14-flag sensor vector from the STATUS command's two
// bit-vector bytes.
type Status struct {
	CheckSensor1   bool
	CheckSensor2   bool
	CheckSensor3   bool
	CheckSensor4   bool
	DivertSensor1  bool
	DivertSensor2  bool
	EjectSensor    bool
	ExitSensor     bool
	SolenoidSensor bool
	UpperNearEnd   bool
	LowerNearEnd   bool
	CashBoxUpper   bool
	CashBoxLower   bool
	RejectTray     bool
}

// parseStatus decodes the two status bytes, bit layout grounded on the
// source's status() method.
func parseStatus(r6, r7 byte) Status {
	return Status{
		CheckSensor1:   r6&0x01 != 0,
		CheckSensor2:   r6&0x02 != 0,
		DivertSensor1:  r6&0x04 != 0,
		DivertSensor2:  r6&0x08 != 0,
		EjectSensor:    r6&0x10 != 0,
		ExitSensor:     r6&0x20 != 0,
		UpperNearEnd:   r6&0x40 != 0,
		SolenoidSensor: r7&0x01 != 0,
		CashBoxUpper:   r7&0x02 != 0,
		CashBoxLower:   r7&0x04 != 0,
		CheckSensor3:   r7&0x08 != 0,
		CheckSensor4:   r7&0x10 != 0,
		LowerNearEnd:   r7&0x20 != 0,
		RejectTray:     r7&0x40 != 0,
	}
}

// anySensorTriggered reports whether any of the sensors testStatus purges
// for is currently set.
func (s Status) anySensorTriggered() bool {
	return s.CheckSensor1 || s.CheckSensor2 || s.CheckSensor3 || s.CheckSensor4 ||
		s.DivertSensor1 || s.DivertSensor2 || s.EjectSensor || s.ExitSensor || s.RejectTray
}

// DispenseResult is the decoded positional response of UPPER_AND_LOWER_DISPENSE.
type DispenseResult struct {
	UpperExit     int
	LowerExit     int
	UpperRejected int
	LowerRejected int
	UpperCheck    int
	LowerCheck    int
}
