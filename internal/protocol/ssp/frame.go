package ssp

import (
	"encoding/binary"
	"time"

	"github.com/fs-technology-ru/cash-system/internal/protocol/errs"
	"github.com/fs-technology-ru/cash-system/internal/transport"
)

// stuff doubles every literal STX byte in b, per spec.md §4.5.
func stuff(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, x := range b {
		out = append(out, x)
		if x == stx {
			out = append(out, stx)
		}
	}
	return out
}

// buildPacket assembles seq|len|payload, appends its CRC16, stuffs the
// result, and prepends the unstuffed leading STX.
func buildPacket(seq byte, payload []byte) []byte {
	body := make([]byte, 0, 2+len(payload))
	body = append(body, seq, byte(len(payload)))
	body = append(body, payload...)

	crc := CRC16(body)
	crcBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(crcBytes, crc)
	full := append(body, crcBytes...)

	out := make([]byte, 0, 1+2*len(full))
	out = append(out, stx)
	out = append(out, stuff(full)...)
	return out
}

// readDestuffedByte reads one wire byte off link, collapsing a doubled
// STX (0x7F 0x7F) into a single literal 0x7F.
func readDestuffedByte(link *transport.SerialLink, deadline time.Time) (byte, error) {
	b, err := link.ReadExactLocked(1, deadline)
	if err != nil {
		return 0, err
	}
	if b[0] != stx {
		return b[0], nil
	}
	if _, err := link.ReadExactLocked(1, deadline); err != nil {
		return 0, err
	}
	return stx, nil
}

// readPacket performs the full receive: the leading (unstuffed) STX, then
// the destuffed seq/len/payload/crc, verifying the CRC over seq|len|payload.
// Returns the sequence byte and the payload (CRC stripped).
func readPacket(link *transport.SerialLink, deadline time.Time) (byte, []byte, error) {
	link.Lock()
	defer link.Unlock()

	lead, err := link.ReadExactLocked(1, deadline)
	if err != nil {
		return 0, nil, err
	}
	if lead[0] != stx {
		return 0, nil, errs.New(errs.KindFraming, "ssp.readPacket", nil)
	}

	seq, err := readDestuffedByte(link, deadline)
	if err != nil {
		return 0, nil, err
	}
	length, err := readDestuffedByte(link, deadline)
	if err != nil {
		return 0, nil, err
	}

	payload := make([]byte, 0, int(length))
	for i := 0; i < int(length); i++ {
		b, err := readDestuffedByte(link, deadline)
		if err != nil {
			return 0, nil, err
		}
		payload = append(payload, b)
	}

	crcHi, err := readDestuffedByte(link, deadline)
	if err != nil {
		return 0, nil, err
	}
	crcLo, err := readDestuffedByte(link, deadline)
	if err != nil {
		return 0, nil, err
	}
	gotCRC := uint16(crcHi)<<8 | uint16(crcLo)

	check := append([]byte{seq, length}, payload...)
	if CRC16(check) != gotCRC {
		return 0, nil, errs.New(errs.KindChecksum, "ssp.readPacket", nil)
	}

	return seq, payload, nil
}
