package ssp

// CRC16 computes the SSP checksum: non-reflected, init 0xFFFF, poly 0x8005.
// Grounded on original_source/devices_v2/devices/coin_acceptor/utils.py's
// crc16, a direct bit-shift implementation rather than a lookup table —
// this module keeps that shape since, unlike CCNET's reflected CRC, no
// pack example imports a CRC16 variant matching this non-reflected form.
func CRC16(b []byte) uint16 {
	crc := crcSeed
	for _, x := range b {
		crc ^= uint16(x) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crcPoly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
