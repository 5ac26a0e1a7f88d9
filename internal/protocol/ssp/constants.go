// Package ssp implements the SSP/eSSP coin-hopper driver: byte-stuffed
// framing, CRC16, the Diffie-Hellman key exchange and AES-128-ECB envelope,
// the command table, and the POLL event parser.
package ssp

import "time"

// Framing and envelope markers, spec.md §4.5.
const (
	stx  byte = 0x7F
	stex byte = 0x7E
)

// CRC16 parameters: non-reflected, init 0xFFFF, poly 0x8005.
const (
	crcSeed uint16 = 0xFFFF
	crcPoly uint16 = 0x8005
)

// deviceID is the fixed slave address this controller addresses; bits 0-4
// of the sequence byte, OR'd with the 0x80/0x00 toggle bit.
const deviceID byte = 0x10

// Default runtime config, grounded on the source's SSP.__init__ defaults.
const (
	defaultCommandRetries = 20
	defaultPollInterval   = 300 * time.Millisecond
	defaultCommandTimeout = 5 * time.Second
	defaultFixedKeyHex    = "0123456701234567"
)

// cmdEntry describes one command's wire code and whether it must travel
// inside the encrypted envelope once a session key exists.
type cmdEntry struct {
	code      byte
	encrypted bool
}

// commandTable is the subset of the SSP/eSSP command set this driver
// issues, grounded on original_source/devices_v2/devices/coin_acceptor/
// utils.py's args_to_byte/command_list usage and index.py's command()
// call sites.
var commandTable = map[string]cmdEntry{
	"RESET":                    {0x01, false},
	"HOST_PROTOCOL_VERSION":    {0x06, false},
	"SETUP_REQUEST":            {0x05, false},
	"UNIT_DATA":                {0x0A, false},
	"SET_GENERATOR":            {0x4A, false},
	"SET_MODULUS":              {0x4B, false},
	"REQUEST_KEY_EXCHANGE":     {0x4C, false},
	"SET_FIXED_ENCRYPTION_KEY": {0x60, true},
	"SYNC":                     {0x11, false},
	"ENABLE":                   {0x0C, true},
	"DISABLE":                  {0x09, true},
	"POLL":                     {0x07, true},
	"GET_SERIAL_NUMBER":        {0x0E, true},
	"SET_CHANNEL_INHIBITS":     {0x02, true},
	"SET_COIN_MECH_INHIBITS":   {0x4E, true},
	"SET_DENOMINATION_ROUTE":   {0x3B, true},
	"GET_DENOMINATION_ROUTE":   {0x3C, true},
	"SET_DENOMINATION_LEVEL":   {0x34, true},
	"GET_DENOMINATION_LEVEL":   {0x35, true},
	"GET_ALL_LEVELS":           {0x22, true},
	"EMPTY":                    {0x3F, true},
	"SMART_EMPTY":              {0x52, true},
	"PAYOUT_AMOUNT":            {0x33, true},
	"PAYOUT_BY_DENOMINATION":   {0x46, true},
	"FLOAT_AMOUNT":             {0x3D, true},
	"FLOAT_BY_DENOMINATION":    {0x44, true},
	"GET_MINIMUM_PAYOUT":       {0x48, true},
	"SET_HOPPER_OPTIONS":       {0x50, true},
	"GET_HOPPER_OPTIONS":       {0x51, true},
	"SET_COIN_MECH_GLOBAL_INHIBIT": {0x49, true},
	"SET_REFILL_MODE":          {0x30, true},
	"ENABLE_PAYOUT_DEVICE":     {0x5C, true},
	"GET_BUILD_REVISION":       {0x4F, false},
	"GET_COUNTERS":             {0x58, true},
	"COIN_MECH_OPTIONS":        {0x5E, true},
}

// statusName maps the leading reply status byte to its name. 0xF0 means
// success; every other value is a failure class.
func statusName(code byte) string {
	switch code {
	case 0xF0:
		return "OK"
	case 0xF2:
		return "COMMAND_NOT_KNOWN"
	case 0xF3:
		return "WRONG_NO_PARAMETERS"
	case 0xF4:
		return "PARAMETER_OUT_OF_RANGE"
	case 0xF5:
		return "COMMAND_CANNOT_BE_PROCESSED"
	case 0xF6:
		return "SOFTWARE_ERROR"
	case 0xF8:
		return "FAIL"
	case 0xFA:
		return "KEY_NOT_SET"
	default:
		return "UNDEFINED"
	}
}

// eventName maps a POLL event code to its name, grounded on the source's
// status_desc.json usage (the subset this driver actually acts on).
var eventName = map[byte]string{
	0x01: "SLAVE_RESET",
	0xEF: "DISABLED",
	0xE8: "COIN_CREDIT",
	0xE2: "DISPENSING",
	0xED: "DISPENSED",
	0xE6: "JAMMED",
	0xE7: "HALTED",
	0xE4: "FLOATING",
	0xE5: "FLOATED",
	0xE3: "TIME_OUT",
	0xEC: "INCOMPLETE_PAYOUT",
	0xD2: "INCOMPLETE_FLOAT",
	0xE9: "FRAUD_ATTEMPT",
	0xDB: "COIN_MECH_JAMMED",
	0xDC: "COIN_MECH_RETURN_PRESSED",
	0xDF: "COIN_MECH_ERROR",
	0xD1: "CASHBOX_PAID",
	0xCA: "EMPTYING",
	0xCB: "EMPTIED",
	0xFA: "SMART_EMPTYING",
	0xFB: "SMART_EMPTIED",
	0xFE: "NOTE_PATH_OPEN",
	0xFF: "DEVICE_FULL",
}
