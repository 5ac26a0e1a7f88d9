package cctalk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeChecksumSumsToZero(t *testing.T) {
	packet := encode(deviceAddr, hostAddr, cmdSimplePoll, nil)
	assert.True(t, checksumOK(packet))
}

func TestEncodeChecksumWithData(t *testing.T) {
	packet := encode(deviceAddr, hostAddr, cmdModifyInhibitStatus, []byte{0xFF, 0x00})
	assert.True(t, checksumOK(packet))
	assert.Equal(t, byte(2), packet[1])
}

func TestChecksumOKRejectsCorruption(t *testing.T) {
	packet := encode(deviceAddr, hostAddr, cmdSimplePoll, nil)
	packet[0] ^= 0x01
	assert.False(t, checksumOK(packet))
}

func TestCreditEventIsCredit(t *testing.T) {
	assert.True(t, CreditEvent{CoinID: 3}.IsCredit())
	assert.False(t, CreditEvent{CoinID: 0, ErrorCode: 5}.IsCredit())
}

// TestCounterWraparound documents the 8-bit rolling counter's wrap from
// 255 back to 0, the same arithmetic PollCredit relies on via byte
// subtraction rather than a signed diff.
func TestCounterWraparound(t *testing.T) {
	var last byte = 254
	var current byte = 1
	diff := int(current - last)
	assert.Equal(t, 3, diff)
}
