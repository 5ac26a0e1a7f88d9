package lcdm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompileCommandChecksumRoundTrip(t *testing.T) {
	packet := compileCommand(cmdStatus, nil)
	assert.True(t, testChecksum(packet))
}

func TestCompileCommandFraming(t *testing.T) {
	packet := compileCommand(cmdUpperDispense, []byte("05"))
	assert.Equal(t, eot, packet[0])
	assert.Equal(t, id, packet[1])
	assert.Equal(t, stx, packet[2])
	assert.Equal(t, cmdUpperDispense, packet[3])
	assert.Equal(t, []byte("05"), packet[4:6])
	assert.Equal(t, etx, packet[6])
}

func TestParseStatusBits(t *testing.T) {
	// CheckSensor1 (bit0) and CashBoxLower (bit2 of r7) set.
	st := parseStatus(0b00000001, 0b00000100)
	assert.True(t, st.CheckSensor1)
	assert.False(t, st.CheckSensor2)
	assert.True(t, st.CashBoxLower)
	assert.False(t, st.CashBoxUpper)
}

func TestAnySensorTriggeredIgnoresCashboxAndSolenoid(t *testing.T) {
	st := Status{CashBoxUpper: true, SolenoidSensor: true}
	assert.False(t, st.anySensorTriggered())

	st.RejectTray = true
	assert.True(t, st.anySensorTriggered())
}

func TestLookupErrorClassifiesGoodAndNormalStopAsNonFault(t *testing.T) {
	_, fault := lookupError(0x30)
	assert.False(t, fault)
	_, fault = lookupError(0x31)
	assert.False(t, fault)
	_, fault = lookupError(0x33)
	assert.True(t, fault)
}

func TestLookupErrorUnknownCodeIsFault(t *testing.T) {
	msg, fault := lookupError(0xEE)
	assert.True(t, fault)
	assert.Equal(t, "unknown error", msg)
}

func TestValidateCountRange(t *testing.T) {
	assert.NoError(t, validateCount("test", 1, 1, 60))
	assert.NoError(t, validateCount("test", 60, 1, 60))
	assert.Error(t, validateCount("test", 0, 1, 60))
	assert.Error(t, validateCount("test", 61, 1, 60))
}

func TestCountASCIIPadsTwoDigits(t *testing.T) {
	assert.Equal(t, []byte("05"), countASCII(5))
	assert.Equal(t, []byte("42"), countASCII(42))
}
