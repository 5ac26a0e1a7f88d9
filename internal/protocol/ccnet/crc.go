package ccnet

import "github.com/howeyc/crc16"

// crcTable is the reflected CCITT variant (poly 0x8408, init 0) CCNET uses.
// Grounded on the teacher's second draft (cc-validator-api.go, sl500_api
// package) which pulls in this exact package instead of hand-rolling the
// table the first draft carries inline.
var crcTable = crc16.MakeTable(0x8408)

// CRC16 computes the CCNET checksum over b. Invariant (spec.md §8.1):
// CRC16(b || CRC16(b)) == 0 when the two CRC bytes are appended little-endian.
func CRC16(b []byte) uint16 {
	return crc16.Checksum(b, crcTable)
}
