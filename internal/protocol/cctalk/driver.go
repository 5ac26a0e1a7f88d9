package cctalk

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/fs-technology-ru/cash-system/internal/eventbus"
	"github.com/fs-technology-ru/cash-system/internal/protocol/errs"
	"github.com/fs-technology-ru/cash-system/internal/transport"
)

const commandTimeout = 500 * time.Millisecond

// CoinAcceptor drives one ccTalk coin acceptor over its own SerialLink.
// Unlike CCNET's escrow/stack two-phase flow, ccTalk coins are credited
// the instant the device reports them — there is no hold step.
type CoinAcceptor struct {
	link *transport.SerialLink
	bus  *eventbus.Bus
	log  zerolog.Logger

	coinTable map[byte]int64

	hasCounter  bool
	lastCounter byte
}

// New wires a CoinAcceptor to an already-open link. coinTable maps the
// device's coin routing ids to kopeck values (cmd/kiosk passes
// config.Config.CoinTable; it is not read from the device — ccTalk coin
// acceptors don't self-report value, only routing id).
func New(link *transport.SerialLink, bus *eventbus.Bus, coinTable map[byte]int64, log zerolog.Logger) *CoinAcceptor {
	return &CoinAcceptor{
		link:      link,
		bus:       bus,
		log:       log.With().Str("driver", "cctalk").Logger(),
		coinTable: coinTable,
	}
}

// Reset issues Reset Device and forgets the last-seen event counter, so
// the next PollCredit resynchronises instead of comparing against a
// counter value that belonged to the device's previous power cycle.
func (d *CoinAcceptor) Reset() bool {
	d.hasCounter = false
	_, err := exchange(d.link, cmdResetDevice, nil, time.Now().Add(commandTimeout))
	return err == nil
}

// SimplePoll is a bare liveness check: any valid reply means the device is
// present and answering on the bus.
func (d *CoinAcceptor) SimplePoll() bool {
	_, err := exchange(d.link, cmdSimplePoll, nil, time.Now().Add(commandTimeout))
	return err == nil
}

// ModifyInhibitStatus sets the 2-byte per-coin accept mask (bit N enables
// routing id N+1); a zero mask inhibits all coins.
func (d *CoinAcceptor) ModifyInhibitStatus(mask uint16) bool {
	data := []byte{byte(mask), byte(mask >> 8)}
	_, err := exchange(d.link, cmdModifyInhibitStatus, data, time.Now().Add(commandTimeout))
	return err == nil
}

// PollCredit issues Read Buffered Credit Or Error Codes, compares the
// returned rolling counter against the last-seen value, and publishes one
// CoinCredit event per newly reported coin — one event per coin, never
// the value multiplied by the slot count.
func (d *CoinAcceptor) PollCredit() error {
	resp, err := exchange(d.link, cmdReadBufferedCredit, nil, time.Now().Add(commandTimeout))
	if err != nil {
		return err
	}
	if len(resp) != 1+2*eventSlots {
		return errs.New(errs.KindProtocol, "cctalk.PollCredit", nil)
	}

	counter := resp[0]
	slots := make([]CreditEvent, eventSlots)
	for i := 0; i < eventSlots; i++ {
		slots[i] = CreditEvent{CoinID: resp[1+2*i], ErrorCode: resp[2+2*i]}
	}

	if !d.hasCounter {
		// First observation after Reset/startup: synchronise silently so a
		// coin accepted before this driver attached isn't replayed as new.
		d.lastCounter = counter
		d.hasCounter = true
		return nil
	}

	diff := int(counter - d.lastCounter)
	d.lastCounter = counter
	if diff == 0 {
		return nil
	}
	if diff > eventSlots {
		d.log.Warn().Int("missed", diff-eventSlots).Msg("coin events dropped between polls")
		diff = eventSlots
	}

	for _, ev := range slots[eventSlots-diff:] {
		if !ev.IsCredit() {
			d.bus.Publish(eventbus.Event{
				Kind:   eventbus.KindDeviceError,
				Source: "coin_acceptor",
				Err:    eventbus.DeviceErrorEvent{Device: "coin_acceptor", Message: errorCodeMessage(ev.ErrorCode)},
			})
			continue
		}
		value, known := d.coinTable[ev.CoinID]
		if !known {
			d.log.Warn().Uint8("coin_id", ev.CoinID).Msg("credited coin has no configured denomination")
			continue
		}
		d.bus.Publish(eventbus.Event{
			Kind:   eventbus.KindCoinCredit,
			Source: "coin_acceptor",
			Coin:   eventbus.CoinCredit{ValueKop: value},
		})
	}
	return nil
}

func errorCodeMessage(code byte) string {
	switch code {
	case 1:
		return "inhibited coin"
	case 2:
		return "multiple window"
	case 3:
		return "yo-yo coin"
	case 4:
		return "reverse coin"
	case 5:
		return "slow coin"
	case 6:
		return "fast coin"
	case 7:
		return "coin too short"
	case 8:
		return "fraud attempt (NORI)"
	case 9:
		return "no credit"
	default:
		return "unknown coin error"
	}
}
