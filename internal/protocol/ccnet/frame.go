package ccnet

import (
	"encoding/binary"
	"time"

	"github.com/fs-technology-ru/cash-system/internal/protocol/errs"
	"github.com/fs-technology-ru/cash-system/internal/transport"
)

// Frame is one CCNET packet: sync, addr, length, cmd, data, crc16.
// length counts every byte including the two CRC bytes; it ranges [6, 250].
type Frame struct {
	Addr byte
	Cmd  byte
	Data []byte
}

// Encode serialises f to the wire form: sync, addr, length, cmd, data, crc.
func Encode(f Frame) []byte {
	length := byte(minFrameLen + len(f.Data))
	buf := make([]byte, 0, int(length))
	buf = append(buf, sync, f.Addr, length, f.Cmd)
	buf = append(buf, f.Data...)
	crc := CRC16(buf)
	crcBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(crcBytes, crc)
	return append(buf, crcBytes...)
}

// readReply performs the four-step tolerant receive described in spec.md
// §4.2: hunt for sync (skipping up to 10 stray bytes), read addr+length,
// validate, read the remaining body, then verify the CRC. It returns the
// reply payload (status/ack byte plus any data, CRC stripped) exactly as
// the device framed it — replies have no echoed command byte to split out.
func readReply(link *transport.SerialLink, deadline time.Time) ([]byte, error) {
	link.Lock()
	defer link.Unlock()

	var synced bool
	for i := 0; i <= 10; i++ {
		b, err := link.ReadExactLocked(1, deadline)
		if err != nil {
			return nil, err
		}
		if b[0] == sync {
			synced = true
			break
		}
	}
	if !synced {
		return nil, errs.New(errs.KindFraming, "ccnet.readReply", nil)
	}

	head, err := link.ReadExactLocked(2, deadline)
	if err != nil {
		return nil, err
	}
	addr, length := head[0], head[1]

	if addr != ourAddr || length < minFrameLen || length > maxFrameLen {
		// Bounded flush to drain garbage so the link resynchronises on the
		// next exchange instead of misinterpreting leftover bytes.
		flush := int(length)
		if flush <= 0 || flush > maxFrameLen {
			flush = maxFrameLen
		}
		_, _ = link.ReadExactLocked(flush, deadline)
		return nil, errs.New(errs.KindFraming, "ccnet.readReply", nil)
	}

	rest, err := link.ReadExactLocked(int(length)-3, deadline)
	if err != nil {
		return nil, err
	}

	whole := append([]byte{sync, addr, length}, rest...)
	body := whole[:len(whole)-2]
	gotCRC := binary.LittleEndian.Uint16(whole[len(whole)-2:])
	if CRC16(body) != gotCRC {
		return nil, errs.New(errs.KindChecksum, "ccnet.readReply", nil)
	}

	return append([]byte(nil), rest[:len(rest)-2]...), nil
}
