package ssp

import "encoding/binary"

// PollEvent is one decoded event from a POLL response's event stream.
type PollEvent struct {
	Code        byte
	Name        string
	Channel     byte
	HasChannel  bool
	ValueKop    int64
	HasValue    bool
	ActualKop   int64
	RequestedKop int64
	HasPayout   bool
}

// parsePollEvents walks a POLL reply's data (status byte already stripped)
// decoding the event stream. Grounded on original_source/devices_v2/
// devices/coin_acceptor/utils.py's parse_data POLL branch, narrowed to the
// event families this driver acts on (coin credit, payout progress,
// faults) rather than the source's full note-validator event catalogue.
func parsePollEvents(data []byte) []PollEvent {
	var events []PollEvent
	k := 0
	for k < len(data) {
		code := data[k]
		name, known := eventName[code]
		if !known {
			k++
			continue
		}
		ev := PollEvent{Code: code, Name: name}

		switch name {
		case "COIN_CREDIT":
			if k+5 > len(data) {
				k = len(data)
				break
			}
			ev.ValueKop = int64(binary.LittleEndian.Uint32(data[k+1 : k+5]))
			ev.HasValue = true
			k += 5
		case "DISPENSING", "DISPENSED", "FLOATING", "FLOATED":
			if k+5 > len(data) {
				k = len(data)
				break
			}
			ev.ValueKop = int64(binary.LittleEndian.Uint32(data[k+1 : k+5]))
			ev.HasValue = true
			k += 5
		case "INCOMPLETE_PAYOUT", "INCOMPLETE_FLOAT":
			if k+9 > len(data) {
				k = len(data)
				break
			}
			ev.ActualKop = int64(binary.LittleEndian.Uint32(data[k+1 : k+5]))
			ev.RequestedKop = int64(binary.LittleEndian.Uint32(data[k+5 : k+9]))
			ev.HasPayout = true
			k += 9
		case "JAMMED", "HALTED", "TIME_OUT", "CASHBOX_PAID",
			"SMART_EMPTYING", "SMART_EMPTIED":
			if k+5 > len(data) {
				k = len(data)
				break
			}
			ev.ValueKop = int64(binary.LittleEndian.Uint32(data[k+1 : k+5]))
			ev.HasValue = true
			k += 5
		case "FRAUD_ATTEMPT":
			if k+1 < len(data) {
				ev.Channel = data[k+1]
				ev.HasChannel = true
			}
			k += 2
		default:
			// Simple status events carry no payload (SLAVE_RESET, DISABLED,
			// COIN_MECH_JAMMED, COIN_MECH_RETURN_PRESSED, COIN_MECH_ERROR,
			// EMPTYING, EMPTIED, NOTE_PATH_OPEN, DEVICE_FULL).
			k++
		}

		events = append(events, ev)
	}
	return events
}
