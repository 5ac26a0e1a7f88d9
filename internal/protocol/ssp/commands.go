package ssp

import "encoding/binary"

// DenominationCount is one line of a PAYOUT_BY_DENOMINATION request.
type DenominationCount struct {
	Count           int
	DenominationKop int64
	CountryCode     string
}

func argsUint64LE(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// argsPayoutAmount builds PAYOUT_AMOUNT's argument bytes: amount, country
// code, and a fixed test/live marker byte (0x19 test, 0x58 live), grounded
// on args_to_byte's PAYOUT_AMOUNT branch (protocol_version >= 6 shape).
func argsPayoutAmount(amountKop int64, countryCode string, test bool) []byte {
	amount := make([]byte, 4)
	binary.LittleEndian.PutUint32(amount, uint32(amountKop))
	marker := byte(0x58)
	if test {
		marker = 0x19
	}
	out := append(amount, []byte(countryCode)...)
	return append(out, marker)
}

// argsPayoutByDenomination builds PAYOUT_BY_DENOMINATION's argument bytes:
// a count byte, then count*(count_u16|denom_u32|country3) lines, then the
// test/live marker. Grounded on args_to_byte's FLOAT_BY_DENOMINATION /
// PAYOUT_BY_DENOMINATION branch.
func argsPayoutByDenomination(items []DenominationCount, test bool) []byte {
	out := []byte{byte(len(items))}
	for _, it := range items {
		countBuf := make([]byte, 2)
		binary.LittleEndian.PutUint16(countBuf, uint16(it.Count))
		denomBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(denomBuf, uint32(it.DenominationKop))
		out = append(out, countBuf...)
		out = append(out, denomBuf...)
		out = append(out, []byte(it.CountryCode)...)
	}
	marker := byte(0x58)
	if test {
		marker = 0x19
	}
	return append(out, marker)
}

// argsDenominationLevel builds SET_DENOMINATION_LEVEL's argument bytes:
// count_u16|denom_u32|country3, grounded on the same per-denomination line
// layout args_to_byte uses for PAYOUT_BY_DENOMINATION/FLOAT_BY_DENOMINATION.
func argsDenominationLevel(count int, denominationKop int64, countryCode string) []byte {
	countBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(countBuf, uint16(count))
	denomBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(denomBuf, uint32(denominationKop))
	out := append(countBuf, denomBuf...)
	return append(out, []byte(countryCode)...)
}

// argsChannelInhibits builds SET_CHANNEL_INHIBITS's bitmask argument: bit i
// set means channel i+1 is enabled.
func argsChannelInhibits(enabledChannels []bool) []byte {
	var value uint16
	for i, enabled := range enabledChannels {
		if enabled {
			value |= 1 << uint(i)
		}
	}
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, value)
	return buf
}
