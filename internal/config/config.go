// Package config defines the plain value cmd/kiosk builds at startup and
// passes down explicitly to every component. Per spec.md §9's
// re-architecture note, there is no mutable singleton here and no env or
// file reading inside the package itself — cmd/kiosk owns that, since
// where configuration comes from is a deployment concern, not a core one.
package config

import "time"

// SerialPort names one serial device and its baud rate.
type SerialPort struct {
	Name string
	Baud int
}

// Config is every value a kiosk deployment needs to wire the core up.
type Config struct {
	BillAcceptorPort SerialPort
	DispenserPort    SerialPort
	CoinAcceptorPort SerialPort
	HopperPort       SerialPort

	BillAcceptorFirmware string // "v1", "v2", or "v3"
	AutoStackBills       bool

	// CoinTable maps a ccTalk coin routing id to its kopeck value. ccTalk
	// coin acceptors report routing ids, not values, so this mapping is
	// deployment configuration rather than something read off the device.
	CoinTable map[byte]int64

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	HTTPAddr string // serves both the command channel and the websocket hub

	ConnectTimeout time.Duration
}

// Default returns reasonable values for a single-kiosk deployment on the
// conventional USB-serial device paths; every field is meant to be
// overridden by whatever cmd/kiosk reads from its environment.
func Default() Config {
	return Config{
		BillAcceptorPort: SerialPort{Name: "/dev/ttyUSB0", Baud: 9600},
		DispenserPort:    SerialPort{Name: "/dev/ttyUSB1", Baud: 9600},
		CoinAcceptorPort: SerialPort{Name: "/dev/ttyUSB2", Baud: 9600},
		HopperPort:       SerialPort{Name: "/dev/ttyUSB3", Baud: 9600},

		BillAcceptorFirmware: "v2",
		AutoStackBills:       true,

		// Routing ids 1-4 mapped to the common RU coin set (1/2/5/10 rubles),
		// the deployment's expected default configuration.
		CoinTable: map[byte]int64{
			1: 1 * 100,
			2: 2 * 100,
			3: 5 * 100,
			4: 10 * 100,
		},

		RedisAddr: "localhost:6379",
		RedisDB:   0,

		HTTPAddr: ":8080",

		ConnectTimeout: 10 * time.Second,
	}
}
