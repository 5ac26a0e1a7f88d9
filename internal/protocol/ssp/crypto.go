package ssp

import (
	"crypto/aes"
	"crypto/rand"
	"encoding/binary"

	"github.com/fs-technology-ru/cash-system/internal/protocol/errs"
)

// encryptECB AES-encrypts data (already padded to a multiple of 16 bytes)
// under key using ECB, one block at a time. Grounded on the source's
// encrypt()/AES.MODE_ECB; Go's crypto/aes has no ECB mode helper the way
// Python's pycryptodome does, so looping cipher.Encrypt per 16-byte block
// is the idiomatic substitute rather than pulling in a third-party ECB
// wrapper — none of the example repos' crypto usage covers ECB (only
// TLS/AEAD modes appear), so this one part of the driver has no library
// to ground on and stays on the standard library.
func encryptECB(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.New(errs.KindProtocol, "ssp.encryptECB", err)
	}
	if len(data)%block.BlockSize() != 0 {
		return nil, errs.New(errs.KindProtocol, "ssp.encryptECB", nil)
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += block.BlockSize() {
		block.Encrypt(out[i:i+block.BlockSize()], data[i:i+block.BlockSize()])
	}
	return out, nil
}

// decryptECB is encryptECB's inverse.
func decryptECB(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.New(errs.KindProtocol, "ssp.decryptECB", err)
	}
	if len(data)%block.BlockSize() != 0 {
		return nil, errs.New(errs.KindProtocol, "ssp.decryptECB", nil)
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += block.BlockSize() {
		block.Decrypt(out[i:i+block.BlockSize()], data[i:i+block.BlockSize()])
	}
	return out, nil
}

// sealEnvelope builds the inner encrypted block: elen|ecount_LE32|cmd|args|
// random_pad|crc16, padded to a 16-byte multiple, then AES-ECB encrypted
// and prefixed with the STEX marker, matching get_packet's encrypted path.
func sealEnvelope(key []byte, cmd byte, args []byte, count uint32) ([]byte, error) {
	elen := byte(len(args) + 1)
	countBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBytes, count)

	plain := make([]byte, 0, 1+4+1+len(args))
	plain = append(plain, elen)
	plain = append(plain, countBytes...)
	plain = append(plain, cmd)
	plain = append(plain, args...)

	// Pad so len(plain) + 2 (trailing CRC) is a multiple of 16.
	padLen := (16 - (len(plain)+2)%16) % 16
	pad := make([]byte, padLen)
	if _, err := rand.Read(pad); err != nil {
		return nil, errs.New(errs.KindProtocol, "ssp.sealEnvelope", err)
	}
	plain = append(plain, pad...)

	crc := CRC16(plain)
	crcBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(crcBytes, crc)
	toEncrypt := append(plain, crcBytes...)

	encrypted, err := encryptECB(key, toEncrypt)
	if err != nil {
		return nil, err
	}
	return append([]byte{stex}, encrypted...), nil
}

// openEnvelope decrypts an STEX-prefixed reply payload and validates the
// monotonic encryption counter: the device must echo hostCount+1.
func openEnvelope(key []byte, sealed []byte, hostCount uint32) ([]byte, error) {
	decrypted, err := decryptECB(key, sealed[1:])
	if err != nil {
		return nil, err
	}
	if len(decrypted) < 6 {
		return nil, errs.New(errs.KindProtocol, "ssp.openEnvelope", nil)
	}
	elen := int(decrypted[0])
	count := binary.LittleEndian.Uint32(decrypted[1:5])
	if count != hostCount+1 {
		return nil, errs.New(errs.KindProtocol, "ssp.openEnvelope", nil)
	}
	if 5+elen > len(decrypted) {
		return nil, errs.New(errs.KindProtocol, "ssp.openEnvelope", nil)
	}
	return decrypted[5 : 5+elen], nil
}
