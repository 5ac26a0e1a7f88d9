package ssp

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fs-technology-ru/cash-system/internal/eventbus"
	"github.com/fs-technology-ru/cash-system/internal/protocol/errs"
	"github.com/fs-technology-ru/cash-system/internal/transport"
)

// rxPacket is one frame the reader goroutine hands to a waiting exchange.
type rxPacket struct {
	seq     byte
	payload []byte
}

// Hopper drives one SSP/eSSP coin hopper. Reads happen on a single
// dedicated goroutine that feeds a buffered channel; every command()
// call writes directly (serialized by mu, the single-writer invariant)
// and then waits on that channel for its matching reply. This replaces
// the source's timer-scheduled _schedule_read polling loop, which has no
// equivalent need in Go: a blocking reader goroutine is the idiomatic
// shape once the read side owns its own goroutine instead of a
// threading.Timer re-arming itself every 10ms.
type Hopper struct {
	link *transport.SerialLink
	bus  *eventbus.Bus
	log  zerolog.Logger

	commandRetries int
	pollInterval   time.Duration
	commandTimeout time.Duration
	fixedKeyHex    string

	mu      sync.Mutex
	seqHigh bool // true => next sequence toggle bit is 0x80, false => 0x00
	keys    *KeySet
	eCount  uint32

	rxCh chan rxPacket

	readerCancel context.CancelFunc
	readerDone   chan struct{}

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New wires a Hopper to an already-open link and starts its reader.
func New(link *transport.SerialLink, bus *eventbus.Bus, log zerolog.Logger) *Hopper {
	h := &Hopper{
		link:           link,
		bus:            bus,
		log:            log.With().Str("driver", "ssp").Logger(),
		commandRetries: defaultCommandRetries,
		pollInterval:   defaultPollInterval,
		commandTimeout: defaultCommandTimeout,
		fixedKeyHex:    defaultFixedKeyHex,
		seqHigh:        true,
		rxCh:           make(chan rxPacket, 8),
	}
	h.startReader()
	return h
}

func (h *Hopper) sequenceByte() byte {
	if h.seqHigh {
		return deviceID | 0x80
	}
	return deviceID
}

func (h *Hopper) startReader() {
	ctx, cancel := context.WithCancel(context.Background())
	h.readerCancel = cancel
	h.readerDone = make(chan struct{})

	go func() {
		defer close(h.readerDone)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			seq, payload, err := readPacket(h.link, time.Now().Add(2*time.Second))
			if err != nil {
				if errs.Is(err, errs.KindTimeout) {
					continue
				}
				h.log.Debug().Err(err).Msg("reader: frame error")
				continue
			}

			select {
			case h.rxCh <- rxPacket{seq: seq, payload: payload}:
			case <-ctx.Done():
				return
			default:
				h.log.Warn().Msg("reader: dropped frame, no exchange waiting")
			}
		}
	}()
}

// Close stops the reader and any running poll loop.
func (h *Hopper) Close() {
	if h.pollCancel != nil {
		h.pollCancel()
		<-h.pollDone
		h.pollCancel = nil
	}
	if h.readerCancel != nil {
		h.readerCancel()
		<-h.readerDone
		h.readerCancel = nil
	}
}

// command sends one named command, encrypting it if a session key exists
// (every command travels encrypted once a key is established — the
// source's encryptAllCommand default), and returns the decoded response
// payload (status byte plus data). It retries up to commandRetries times
// on any transport, framing, or sequence-mismatch failure.
func (h *Hopper) command(name string, args []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := commandTable[name]
	if !ok {
		return nil, errs.New(errs.KindProtocol, "ssp.command", nil)
	}

	seq := h.sequenceByte()
	useEncryption := h.keys != nil && h.keys.EncryptKey != nil

	var lastErr error
	for attempt := 0; attempt < h.commandRetries; attempt++ {
		var raw []byte
		if useEncryption {
			sealed, err := sealEnvelope(h.keys.EncryptKey, entry.code, args, h.eCount)
			if err != nil {
				return nil, err
			}
			raw = buildPacket(seq, sealed)
		} else {
			payload := append([]byte{entry.code}, args...)
			raw = buildPacket(seq, payload)
		}

		if err := h.link.Write(raw); err != nil {
			lastErr = err
			continue
		}

		resp, err := h.waitForReply(seq)
		if err != nil {
			lastErr = err
			continue
		}

		var data []byte
		if useEncryption && len(resp) > 0 && resp[0] == stex {
			decoded, err := openEnvelope(h.keys.EncryptKey, resp, h.eCount)
			if err != nil {
				lastErr = err
				continue
			}
			h.eCount++
			data = decoded
		} else {
			data = resp
		}

		h.seqHigh = !h.seqHigh
		return data, nil
	}

	return nil, errs.New(errs.KindProtocol, "ssp.command", lastErr)
}

func (h *Hopper) waitForReply(seq byte) ([]byte, error) {
	deadline := time.After(h.commandTimeout)
	for {
		select {
		case pkt := <-h.rxCh:
			if pkt.seq != seq {
				continue
			}
			return pkt.payload, nil
		case <-deadline:
			return nil, errs.New(errs.KindTimeout, "ssp.waitForReply", nil)
		}
	}
}

// Connect runs the handshake: SYNC to reset the sequence toggle,
// SETUP_REQUEST to read unit type, then the Diffie-Hellman key exchange
// establishing the AES session key all further commands encrypt under.
// Grounded on index.py's constructor defaults and init_encryption, with
// the SYNC/SETUP_REQUEST bootstrap this module adds since init_encryption
// alone leaves protocol/unit type undiscovered.
func (h *Hopper) Connect() error {
	h.seqHigh = true
	if _, err := h.command("SYNC", nil); err != nil {
		return err
	}
	if _, err := h.command("SETUP_REQUEST", nil); err != nil {
		return err
	}

	keys, err := generateKeys()
	if err != nil {
		return err
	}
	h.keys = keys
	h.eCount = 0

	if _, err := h.command("SET_GENERATOR", argsUint64LE(keys.Generator)); err != nil {
		return err
	}
	if _, err := h.command("SET_MODULUS", argsUint64LE(keys.Modulus)); err != nil {
		return err
	}
	resp, err := h.command("REQUEST_KEY_EXCHANGE", argsUint64LE(keys.HostInter))
	if err != nil {
		return err
	}
	if len(resp) < 9 {
		return errs.New(errs.KindProtocol, "ssp.Connect", nil)
	}
	slaveInter := binary.LittleEndian.Uint64(resp[1:9])

	return deriveSessionKey(h.keys, slaveInter, h.fixedKeyHex)
}

// Enable arms the hopper for payout and starts the poll loop.
func (h *Hopper) Enable(ctx context.Context) error {
	if _, err := h.command("ENABLE", nil); err != nil {
		return err
	}
	h.startPollLoop(ctx)
	return nil
}

// Disable stops the poll loop then disarms the hopper.
func (h *Hopper) Disable() error {
	if h.pollCancel != nil {
		h.pollCancel()
		<-h.pollDone
		h.pollCancel = nil
	}
	_, err := h.command("DISABLE", nil)
	return err
}

func (h *Hopper) startPollLoop(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	h.pollCancel = cancel
	h.pollDone = make(chan struct{})

	go func() {
		defer close(h.pollDone)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			resp, err := h.command("POLL", nil)
			if err != nil {
				h.log.Warn().Err(err).Msg("poll failed")
			} else if len(resp) > 1 && resp[0] == 0xF0 {
				h.handleEvents(parsePollEvents(resp[1:]))
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(h.pollInterval):
			}
		}
	}()
}

func (h *Hopper) handleEvents(events []PollEvent) {
	for _, ev := range events {
		switch ev.Name {
		case "COIN_CREDIT":
			h.bus.Publish(eventbus.Event{
				Kind: eventbus.KindCoinCredit, Source: "coin_hopper",
				Coin: eventbus.CoinCredit{ValueKop: ev.ValueKop},
			})
		case "DISPENSED":
			h.bus.Publish(eventbus.Event{
				Kind: eventbus.KindDispensed, Source: "coin_hopper",
				Disp: eventbus.DispensedEvent{ActualKop: ev.ValueKop, RequestedKop: ev.ValueKop},
			})
		case "INCOMPLETE_PAYOUT", "INCOMPLETE_FLOAT":
			h.bus.Publish(eventbus.Event{
				Kind: eventbus.KindIncompletePayout, Source: "coin_hopper",
				Disp: eventbus.DispensedEvent{ActualKop: ev.ActualKop, RequestedKop: ev.RequestedKop},
			})
		case "JAMMED", "HALTED", "TIME_OUT", "COIN_MECH_JAMMED", "COIN_MECH_ERROR":
			h.bus.Publish(eventbus.Event{
				Kind: eventbus.KindDeviceError, Source: "coin_hopper",
				Err: eventbus.DeviceErrorEvent{Device: "coin_hopper", Message: ev.Name},
			})
		}
	}
}

// PayoutAmount requests the hopper pay out amountKop in whatever mix it
// chooses; test runs the motor cycle without releasing coins.
func (h *Hopper) PayoutAmount(amountKop int64, countryCode string, test bool) error {
	resp, err := h.command("PAYOUT_AMOUNT", argsPayoutAmount(amountKop, countryCode, test))
	if err != nil {
		return err
	}
	if len(resp) == 0 || resp[0] != 0xF0 {
		return errs.New(errs.KindDeviceFault, "ssp.PayoutAmount", nil)
	}
	return nil
}

// PayoutByDenomination requests an exact mix of coin counts per
// denomination, used when the caller has already planned the split
// itself (the big_coin_priority ordering lives in the coordinator).
func (h *Hopper) PayoutByDenomination(items []DenominationCount, test bool) error {
	resp, err := h.command("PAYOUT_BY_DENOMINATION", argsPayoutByDenomination(items, test))
	if err != nil {
		return err
	}
	if len(resp) == 0 || resp[0] != 0xF0 {
		return errs.New(errs.KindDeviceFault, "ssp.PayoutByDenomination", nil)
	}
	return nil
}

// GetAllLevels reads the hopper's current denomination inventory, used by
// the coordinator's big_coin_priority change-planning path. Response shape
// mirrors PAYOUT_BY_DENOMINATION's argument layout inverted: a count byte
// followed by count*(count_u16|denom_u32|country3) entries, grounded on
// utils.py's symmetric encode/decode treatment of denomination lists.
func (h *Hopper) GetAllLevels() ([]DenominationCount, error) {
	resp, err := h.command("GET_ALL_LEVELS", nil)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 || resp[0] != 0xF0 {
		return nil, errs.New(errs.KindDeviceFault, "ssp.GetAllLevels", nil)
	}
	data := resp[1:]
	if len(data) == 0 {
		return nil, nil
	}
	n := int(data[0])
	k := 1
	out := make([]DenominationCount, 0, n)
	for i := 0; i < n; i++ {
		if k+9 > len(data) {
			break
		}
		count := binary.LittleEndian.Uint16(data[k : k+2])
		denom := binary.LittleEndian.Uint32(data[k+2 : k+6])
		country := string(data[k+6 : k+9])
		out = append(out, DenominationCount{
			Count:           int(count),
			DenominationKop: int64(denom),
			CountryCode:     country,
		})
		k += 9
	}
	return out, nil
}

// SetChannelInhibits enables/disables individual coin channels.
func (h *Hopper) SetChannelInhibits(enabledChannels []bool) error {
	resp, err := h.command("SET_CHANNEL_INHIBITS", argsChannelInhibits(enabledChannels))
	if err != nil {
		return err
	}
	if len(resp) == 0 || resp[0] != 0xF0 {
		return errs.New(errs.KindDeviceFault, "ssp.SetChannelInhibits", nil)
	}
	return nil
}

// SetDenominationLevel adds count coins of denominationKop to the
// hopper's stored level, used after a manual till top-up (coin_system_add_coin_count).
func (h *Hopper) SetDenominationLevel(count int, denominationKop int64, countryCode string) error {
	resp, err := h.command("SET_DENOMINATION_LEVEL", argsDenominationLevel(count, denominationKop, countryCode))
	if err != nil {
		return err
	}
	if len(resp) == 0 || resp[0] != 0xF0 {
		return errs.New(errs.KindDeviceFault, "ssp.SetDenominationLevel", nil)
	}
	return nil
}

// Empty runs SMART_EMPTY, reporting every coin paid out during a manual
// cash collection so the hopper's own inventory stays accurate.
func (h *Hopper) Empty() error {
	resp, err := h.command("SMART_EMPTY", nil)
	if err != nil {
		return err
	}
	if len(resp) == 0 || resp[0] != 0xF0 {
		return errs.New(errs.KindDeviceFault, "ssp.Empty", nil)
	}
	return nil
}
