package lcdm

import (
	"time"

	"github.com/fs-technology-ru/cash-system/internal/protocol/errs"
	"github.com/fs-technology-ru/cash-system/internal/transport"
)

// xorChecksum XORs every byte of b together, matching the device's GetCRC.
func xorChecksum(b []byte) byte {
	c := b[0]
	for _, x := range b[1:] {
		c ^= x
	}
	return c
}

// testChecksum verifies the trailing byte of b against the XOR of
// everything before it.
func testChecksum(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	return xorChecksum(b[:len(b)-1]) == b[len(b)-1]
}

// compileCommand builds EOT|ID|STX|cmd|data|ETX|xor, spec.md §4.3.
func compileCommand(cmd byte, data []byte) []byte {
	packet := make([]byte, 0, 6+len(data))
	packet = append(packet, eot, id, stx, cmd)
	packet = append(packet, data...)
	packet = append(packet, etx)
	return append(packet, xorChecksum(packet))
}

// getResponse reads exactly recvBytes, validates SOH/ID/STX and the
// checksum, sends ACK on success or NAK and retries on failure — up to
// attempts times, matching the source's recursive getResponse.
func getResponse(link *transport.SerialLink, recvBytes, attempts int, deadline time.Time) ([]byte, error) {
	if attempts <= 0 {
		return nil, errs.New(errs.KindFraming, "lcdm.getResponse", nil)
	}

	raw, err := link.ReadExact(recvBytes, deadline)
	if err != nil || len(raw) < 4 {
		_ = link.Write([]byte{nak})
		return getResponse(link, recvBytes, attempts-1, deadline)
	}

	if !testChecksum(raw) || raw[0] != soh || raw[1] != id || raw[2] != stx {
		_ = link.Write([]byte{nak})
		return getResponse(link, recvBytes, attempts-1, deadline)
	}

	if err := link.Write([]byte{ack}); err != nil {
		return nil, err
	}
	return raw, nil
}
