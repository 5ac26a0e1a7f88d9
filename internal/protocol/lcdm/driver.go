package lcdm

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fs-technology-ru/cash-system/internal/protocol/errs"
	"github.com/fs-technology-ru/cash-system/internal/transport"
)

const commandTimeout = 2 * time.Second

// Dispenser drives one LCDM-2000 bill dispenser over its own SerialLink.
type Dispenser struct {
	link *transport.SerialLink
	log  zerolog.Logger
}

// New wires a Dispenser to an already-open link.
func New(link *transport.SerialLink, log zerolog.Logger) *Dispenser {
	return &Dispenser{link: link, log: log.With().Str("driver", "lcdm").Logger()}
}

// exchange sends cmd/data, waits for the ACK/NAK handshake (two attempts, per the
// source's go()), then reads and validates the framed response.
func (d *Dispenser) exchange(cmd byte, data []byte, recvBytes int) ([]byte, error) {
	deadline := time.Now().Add(commandTimeout)

	var acked bool
	for attempt := 0; attempt < 2; attempt++ {
		if err := d.link.Write(compileCommand(cmd, data)); err != nil {
			return nil, err
		}
		b, err := d.link.ReadExact(1, deadline)
		if err != nil {
			return nil, err
		}
		if b[0] == ack {
			acked = true
			break
		}
		// b[0] == nak (or anything else): retry the command.
	}
	if !acked {
		return nil, errs.New(errs.KindProtocol, "lcdm.exchange", nil)
	}

	return getResponse(d.link, recvBytes, 3, deadline)
}

func faultError(op string, code byte) error {
	msg, isFault := lookupError(code)
	if !isFault {
		return nil
	}
	return errs.New(errs.KindDeviceFault, op, fmt.Errorf("%s", msg))
}

// Purge issues PURGE, used by testStatus to clear a jammed sensor path.
func (d *Dispenser) Purge() error {
	const lenResponse, errByte = 7, 4
	resp, err := d.exchange(cmdPurge, nil, lenResponse)
	if err != nil {
		return err
	}
	if len(resp) != lenResponse {
		return errs.New(errs.KindProtocol, "lcdm.Purge", nil)
	}
	return faultError("lcdm.Purge", resp[errByte])
}

// Status issues STATUS and returns the decoded sensor vector.
func (d *Dispenser) Status() (Status, error) {
	const lenResponse, errByte = 10, 5
	resp, err := d.exchange(cmdStatus, nil, lenResponse)
	if err != nil {
		return Status{}, err
	}
	if len(resp) != lenResponse {
		return Status{}, errs.New(errs.KindProtocol, "lcdm.Status", nil)
	}
	if err := faultError("lcdm.Status", resp[errByte]); err != nil {
		return Status{}, err
	}
	return parseStatus(resp[6], resp[7]), nil
}

// TestStatus is run before every dispense command. It checks STATUS up to
// twice: a cassette or solenoid fault aborts immediately; any transport
// sensor still tripped triggers one PURGE and a re-check; a sensor still
// tripped after that purge is a hard fault. Grounded on the source's
// testStatus, which exists specifically to recover from a bill left
// straddling a sensor after a prior jam.
func (d *Dispenser) TestStatus() error {
	for i := 0; i < 2; i++ {
		st, err := d.Status()
		if err != nil {
			return err
		}
		if st.CashBoxUpper || st.CashBoxLower {
			return errs.New(errs.KindDeviceFault, "lcdm.TestStatus", fmt.Errorf("cashbox not installed"))
		}
		if st.SolenoidSensor {
			return errs.New(errs.KindDeviceFault, "lcdm.TestStatus", fmt.Errorf("solenoid error"))
		}
		if st.anySensorTriggered() {
			if i == 1 {
				return errs.New(errs.KindDeviceFault, "lcdm.TestStatus", fmt.Errorf("sensor still triggered after purge"))
			}
			if err := d.Purge(); err != nil {
				return err
			}
			continue
		}
		break
	}
	return nil
}

func countASCII(count int) []byte {
	return []byte(fmt.Sprintf("%02d", count))
}

func validateCount(op string, count, min, max int) error {
	if count < min || count > max {
		return errs.New(errs.KindPrecondition, op, fmt.Errorf("count %d out of range [%d,%d]", count, min, max))
	}
	return nil
}

// UpperDispense dispenses count notes from the upper cassette, 1..60.
func (d *Dispenser) UpperDispense(count int) error {
	if err := validateCount("lcdm.UpperDispense", count, 1, 60); err != nil {
		return err
	}
	if err := d.TestStatus(); err != nil {
		return err
	}
	const lenResponse, errByte = 14, 8
	resp, err := d.exchange(cmdUpperDispense, countASCII(count), lenResponse)
	if err != nil {
		return err
	}
	if len(resp) != lenResponse {
		return errs.New(errs.KindProtocol, "lcdm.UpperDispense", nil)
	}
	return faultError("lcdm.UpperDispense", resp[errByte])
}

// LowerDispense dispenses count notes from the lower cassette, 1..60.
func (d *Dispenser) LowerDispense(count int) error {
	if err := validateCount("lcdm.LowerDispense", count, 1, 60); err != nil {
		return err
	}
	if err := d.TestStatus(); err != nil {
		return err
	}
	const lenResponse, errByte = 14, 8
	resp, err := d.exchange(cmdLowerDispense, countASCII(count), lenResponse)
	if err != nil {
		return err
	}
	if len(resp) != lenResponse {
		return errs.New(errs.KindProtocol, "lcdm.LowerDispense", nil)
	}
	return faultError("lcdm.LowerDispense", resp[errByte])
}

// UpperLowerDispense dispenses from both cassettes in one command and
// returns the positional exit/rejected/check counters the device reports.
func (d *Dispenser) UpperLowerDispense(countUpper, countLower int) (DispenseResult, error) {
	if err := validateCount("lcdm.UpperLowerDispense", countUpper, 0, 60); err != nil {
		return DispenseResult{}, err
	}
	if err := validateCount("lcdm.UpperLowerDispense", countLower, 0, 60); err != nil {
		return DispenseResult{}, err
	}
	if err := d.TestStatus(); err != nil {
		return DispenseResult{}, err
	}

	const lenResponse, errByte = 21, 12
	data := append(countASCII(countUpper), countASCII(countLower)...)
	resp, err := d.exchange(cmdUpperLowerDispense, data, lenResponse)
	if err != nil {
		return DispenseResult{}, err
	}
	if len(resp) != lenResponse {
		return DispenseResult{}, errs.New(errs.KindProtocol, "lcdm.UpperLowerDispense", nil)
	}
	if err := faultError("lcdm.UpperLowerDispense", resp[errByte]); err != nil {
		return DispenseResult{}, err
	}

	digits := func(p1, p2 int) int {
		return int(resp[p1]-'0')*10 + int(resp[p2]-'0')
	}
	return DispenseResult{
		UpperExit:     digits(6, 7),
		LowerExit:     digits(10, 11),
		UpperRejected: digits(15, 16),
		LowerRejected: digits(17, 18),
		UpperCheck:    digits(4, 5),
		LowerCheck:    digits(8, 9),
	}, nil
}

// TestUpperDispense and TestLowerDispense run a dry-run motor cycle without
// releasing bills, using the same framing as their live counterparts.
func (d *Dispenser) TestUpperDispense(count int) error {
	if err := validateCount("lcdm.TestUpperDispense", count, 1, 60); err != nil {
		return err
	}
	if err := d.TestStatus(); err != nil {
		return err
	}
	const lenResponse, errByte = 14, 8
	resp, err := d.exchange(cmdUpperTestDispense, countASCII(count), lenResponse)
	if err != nil {
		return err
	}
	if len(resp) != lenResponse {
		return errs.New(errs.KindProtocol, "lcdm.TestUpperDispense", nil)
	}
	return faultError("lcdm.TestUpperDispense", resp[errByte])
}

func (d *Dispenser) TestLowerDispense(count int) error {
	if err := validateCount("lcdm.TestLowerDispense", count, 1, 60); err != nil {
		return err
	}
	if err := d.TestStatus(); err != nil {
		return err
	}
	const lenResponse, errByte = 14, 8
	resp, err := d.exchange(cmdLowerTestDispense, countASCII(count), lenResponse)
	if err != nil {
		return err
	}
	if len(resp) != lenResponse {
		return errs.New(errs.KindProtocol, "lcdm.TestLowerDispense", nil)
	}
	return faultError("lcdm.TestLowerDispense", resp[errByte])
}
