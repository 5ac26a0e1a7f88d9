// Package cctalk implements the ccTalk coin-acceptor driver: the
// dest/len/src/header/data/checksum frame, the bootstrap command set, and
// the rolling event-counter credit poll.
package cctalk

// Bus addresses. hostAddr is this controller (the "1" address ccTalk
// reserves for the bus master); deviceAddr is the coin acceptor's
// factory-default address.
const (
	hostAddr   byte = 1
	deviceAddr byte = 2
)

// Command headers (ccTalk standard numbering).
const (
	cmdResetDevice          byte = 1
	cmdModifyInhibitStatus  byte = 231
	cmdRequestInhibitStatus byte = 230
	cmdReadBufferedCredit   byte = 229
	cmdSimplePoll           byte = 254
)

// eventSlots is the number of (coin_id, error_code) pairs the device's
// credit buffer holds; the rolling counter can advance by more than this
// between polls if the poll interval is missed, which the driver logs as a
// dropped-event condition rather than guessing at history it never saw.
const eventSlots = 5

// CreditEvent is one decoded (coin_id, error_code) pair from the buffered
// credit response.
type CreditEvent struct {
	CoinID    byte
	ErrorCode byte
}

// IsCredit reports whether this slot represents an accepted coin rather
// than an error condition. ccTalk convention: coin_id 0 means "no coin,
// see error_code"; nonzero coin_id is an accepted coin of that routing id.
func (e CreditEvent) IsCredit() bool { return e.CoinID != 0 }

// The routing-id to kopeck table is not declared here: CoinAcceptor takes
// it as a constructor argument (see New), and PollCredit logs and skips a
// credited coin whose routing id has no entry.
