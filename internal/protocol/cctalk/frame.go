package cctalk

import (
	"time"

	"github.com/fs-technology-ru/cash-system/internal/protocol/errs"
	"github.com/fs-technology-ru/cash-system/internal/transport"
)

// encode builds a ccTalk packet: dest, len(data), src, header, data...,
// checksum, where checksum makes the sum of every byte in the packet
// congruent to 0 mod 256.
func encode(dest, src, header byte, data []byte) []byte {
	packet := make([]byte, 0, 4+len(data))
	packet = append(packet, dest, byte(len(data)), src, header)
	packet = append(packet, data...)

	var sum byte
	for _, b := range packet {
		sum += b
	}
	checksum := byte(256 - int(sum))
	return append(packet, checksum)
}

// checksumOK reports whether the whole packet sums to 0 mod 256.
func checksumOK(packet []byte) bool {
	var sum byte
	for _, b := range packet {
		sum += b
	}
	return sum == 0
}

// readReply reads a ccTalk reply off link: the fixed 3-byte prefix
// (dest, len, src), then len+2 more bytes (header, data, checksum),
// validates the checksum over the whole packet, and returns the data bytes.
func readReply(link *transport.SerialLink, deadline time.Time) ([]byte, error) {
	head, err := link.ReadExact(3, deadline)
	if err != nil {
		return nil, err
	}
	dataLen := int(head[1])

	rest, err := link.ReadExact(dataLen+2, deadline)
	if err != nil {
		return nil, err
	}

	whole := append(append([]byte(nil), head...), rest...)
	if !checksumOK(whole) {
		return nil, errs.New(errs.KindChecksum, "cctalk.readReply", nil)
	}
	return rest[1 : 1+dataLen], nil
}

// exchange sends one request and returns its validated reply data.
func exchange(link *transport.SerialLink, header byte, data []byte, deadline time.Time) ([]byte, error) {
	if err := link.Write(encode(deviceAddr, hostAddr, header, data)); err != nil {
		return nil, err
	}
	return readReply(link, deadline)
}
