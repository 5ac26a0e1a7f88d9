package ssp

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"

	"github.com/fs-technology-ru/cash-system/internal/protocol/errs"
)

// KeySet holds one session's Diffie-Hellman material and the derived
// AES-128 key. Grounded on original_source/devices_v2/devices/
// coin_acceptor/utils.py's generate_keys/create_ssp_host_encryption_key.
type KeySet struct {
	Generator  uint64
	Modulus    uint64
	HostRandom uint64
	HostInter  uint64
	SlaveInter uint64
	SharedKey  uint64
	EncryptKey []byte
}

// modpow64 computes base^exp mod m for 16/32-bit-range operands via
// repeated squaring on uint64. A hand-rolled loop rather than math/big:
// every operand here fits in 16-32 bits (the SSP handshake deliberately
// uses small primes for a cheap, non-cryptographic-grade session key), so
// pulling in arbitrary-precision arithmetic would be solving a problem
// this protocol doesn't have.
func modpow64(base, exp, mod uint64) uint64 {
	if mod == 1 {
		return 0
	}
	result := uint64(1)
	base %= mod
	for exp > 0 {
		if exp&1 == 1 {
			result = (result * base) % mod
		}
		exp >>= 1
		base = (base * base) % mod
	}
	return result
}

func isPrime16(n uint64) bool {
	if n < 2 {
		return false
	}
	for i := uint64(2); i*i <= n; i++ {
		if n%i == 0 {
			return false
		}
	}
	return true
}

func randPrime16(low, high uint64) (uint64, error) {
	span := high - low
	for {
		buf := make([]byte, 2)
		if _, err := rand.Read(buf); err != nil {
			return 0, errs.New(errs.KindProtocol, "ssp.randPrime16", err)
		}
		candidate := low + binary.BigEndian.Uint16(buf)%uint16(span)
		if isPrime16(candidate) {
			return candidate, nil
		}
	}
}

// generateKeys picks a generator/modulus pair of 16-bit primes (generator
// > modulus, per the source) and a host random exponent, grounded on
// generate_keys().
func generateKeys() (*KeySet, error) {
	g, err := randPrime16(1<<15, 1<<16)
	if err != nil {
		return nil, err
	}
	m, err := randPrime16(1<<15, 1<<16)
	if err != nil {
		return nil, err
	}
	if g < m {
		g, m = m, g
	}

	randBuf := make([]byte, 4)
	if _, err := rand.Read(randBuf); err != nil {
		return nil, errs.New(errs.KindProtocol, "ssp.generateKeys", err)
	}
	hostRandom := uint64(binary.BigEndian.Uint32(randBuf)&0x7FFFFFFF) + 1

	hostInter := modpow64(g, hostRandom, m)

	return &KeySet{Generator: g, Modulus: m, HostRandom: hostRandom, HostInter: hostInter}, nil
}

// deriveSessionKey computes the shared secret from the device's returned
// slave intermediate key and assembles the 16-byte AES key: the reversed
// fixed key bytes followed by the shared secret as little-endian uint64.
// Grounded on create_ssp_host_encryption_key.
func deriveSessionKey(keys *KeySet, slaveInterKey uint64, fixedKeyHex string) error {
	keys.SlaveInter = slaveInterKey
	keys.SharedKey = modpow64(slaveInterKey, keys.HostRandom, keys.Modulus)

	fixedKeyBytes, err := hex.DecodeString(fixedKeyHex)
	if err != nil {
		return errs.New(errs.KindProtocol, "ssp.deriveSessionKey", err)
	}
	reversed := make([]byte, len(fixedKeyBytes))
	for i, b := range fixedKeyBytes {
		reversed[len(fixedKeyBytes)-1-i] = b
	}

	sharedBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(sharedBytes, keys.SharedKey)

	keys.EncryptKey = append(reversed, sharedBytes...)
	return nil
}
