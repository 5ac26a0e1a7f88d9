package ssp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStuffDoublesSTX(t *testing.T) {
	out := stuff([]byte{0x01, stx, 0x02})
	assert.Equal(t, []byte{0x01, stx, stx, 0x02}, out)
}

func TestCRC16KnownVector(t *testing.T) {
	// The 0xFFFF seed with an empty body reduces to the seed itself
	// unchanged, since the loop never executes.
	assert.Equal(t, crcSeed, CRC16(nil))
}

func TestBuildPacketCRCCoversSeqLenPayload(t *testing.T) {
	packet := buildPacket(0x90, []byte{0x07})
	// packet = STX, stuffed(seq,len,payload,crc...)
	assert.Equal(t, stx, packet[0])
	assert.Equal(t, []byte{0x90, 0x01, 0x07}, packet[1:4])
	crc := CRC16([]byte{0x90, 0x01, 0x07})
	assert.Equal(t, stuff([]byte{byte(crc >> 8), byte(crc)}), packet[4:])
}

func TestModpow64MatchesDirectComputation(t *testing.T) {
	// 3^4 mod 7 = 81 mod 7 = 4
	assert.Equal(t, uint64(4), modpow64(3, 4, 7))
}

func TestIsPrime16(t *testing.T) {
	assert.True(t, isPrime16(65521)) // largest 16-bit prime
	assert.False(t, isPrime16(65520))
	assert.False(t, isPrime16(1))
}

func TestEncryptDecryptECBRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
	}
	plain := make([]byte, 32)
	for i := range plain {
		plain[i] = byte(i * 3)
	}

	cipherText, err := encryptECB(key, plain)
	require.NoError(t, err)
	assert.NotEqual(t, plain, cipherText)

	roundTrip, err := decryptECB(key, cipherText)
	require.NoError(t, err)
	assert.Equal(t, plain, roundTrip)
}

func TestSealOpenEnvelopeCounterInvariant(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i + 1)
	}

	sealed, err := sealEnvelope(key, 0x07, []byte{0xAA, 0xBB}, 5)
	require.NoError(t, err)
	assert.Equal(t, stex, sealed[0])

	// openEnvelope decodes a *reply* envelope (no cmd byte, elen covers
	// only the response payload) built the same way sealEnvelope built
	// the request, so this exercises the counter check in isolation by
	// re-using sealEnvelope's own framing with hostCount = count-1.
	opened, err := openEnvelope(key, sealed, 4)
	require.NoError(t, err)
	assert.Equal(t, byte(0x07), opened[0])
	assert.Equal(t, []byte{0xAA, 0xBB}, opened[1:])
}

func TestOpenEnvelopeRejectsStaleCounter(t *testing.T) {
	key := make([]byte, 16)
	sealed, err := sealEnvelope(key, 0x07, nil, 5)
	require.NoError(t, err)

	_, err = openEnvelope(key, sealed, 10)
	assert.Error(t, err)
}

func TestParsePollEventsCoinCredit(t *testing.T) {
	data := []byte{0xE8, 0x0A, 0x00, 0x00, 0x00}
	events := parsePollEvents(data)
	require.Len(t, events, 1)
	assert.Equal(t, "COIN_CREDIT", events[0].Name)
	assert.Equal(t, int64(10), events[0].ValueKop)
}

func TestParsePollEventsSimpleStatusThenCredit(t *testing.T) {
	data := []byte{0x01, 0xE8, 0x05, 0x00, 0x00, 0x00}
	events := parsePollEvents(data)
	require.Len(t, events, 2)
	assert.Equal(t, "SLAVE_RESET", events[0].Name)
	assert.Equal(t, "COIN_CREDIT", events[1].Name)
}
