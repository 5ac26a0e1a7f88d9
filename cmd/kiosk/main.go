// Command kiosk is the cash-system's process entrypoint: it reads
// deployment configuration from the environment, opens the four serial
// links, wires every driver to the shared event bus and repository, and
// serves the command channel and the outbound websocket hub over HTTP.
// Everything below this file is the core; main.go exists only to read the
// environment and call constructors in the right order.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/fs-technology-ru/cash-system/internal/api"
	"github.com/fs-technology-ru/cash-system/internal/config"
	"github.com/fs-technology-ru/cash-system/internal/coordinator"
	"github.com/fs-technology-ru/cash-system/internal/eventbus"
	"github.com/fs-technology-ru/cash-system/internal/logging"
	"github.com/fs-technology-ru/cash-system/internal/notify"
	"github.com/fs-technology-ru/cash-system/internal/protocol/ccnet"
	"github.com/fs-technology-ru/cash-system/internal/protocol/cctalk"
	"github.com/fs-technology-ru/cash-system/internal/protocol/lcdm"
	"github.com/fs-technology-ru/cash-system/internal/protocol/ssp"
	"github.com/fs-technology-ru/cash-system/internal/repository"
	"github.com/fs-technology-ru/cash-system/internal/transport"
)

func main() {
	cfg := loadConfig()
	log := logging.New(logging.LevelInfo, os.Getenv("CASH_SYSTEM_PRETTY_LOG") != "")

	bus := eventbus.New()

	store := repository.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	hub := notify.New(log)

	devices, closers := openDevices(cfg, bus, log)
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	coord := coordinator.New(devices, store, bus, hub, log)
	router := api.New(coord, log)

	mux := http.NewServeMux()
	mux.Handle("/command", router)
	mux.Handle("/ws", hub)

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

// openDevices opens each configured serial port and wires its driver.
// A port that fails to open is logged and left nil in Devices; the
// coordinator treats a nil driver as "not connected" rather than the
// process refusing to start over one unplugged device.
func openDevices(cfg config.Config, bus *eventbus.Bus, log zerolog.Logger) (coordinator.Devices, []func()) {
	var devices coordinator.Devices
	var closers []func()

	if link, err := transport.Open(cfg.BillAcceptorPort.Name, cfg.BillAcceptorPort.Baud); err != nil {
		log.Warn().Err(err).Str("port", cfg.BillAcceptorPort.Name).Msg("bill acceptor port not opened")
	} else {
		closers = append(closers, func() { link.Close() })
		devices.BillAcceptor = ccnet.New(link, bus, ccnet.Firmware(cfg.BillAcceptorFirmware), cfg.AutoStackBills, log)
	}

	if link, err := transport.Open(cfg.DispenserPort.Name, cfg.DispenserPort.Baud); err != nil {
		log.Warn().Err(err).Str("port", cfg.DispenserPort.Name).Msg("bill dispenser port not opened")
	} else {
		closers = append(closers, func() { link.Close() })
		devices.Dispenser = lcdm.New(link, log)
	}

	if link, err := transport.Open(cfg.CoinAcceptorPort.Name, cfg.CoinAcceptorPort.Baud); err != nil {
		log.Warn().Err(err).Str("port", cfg.CoinAcceptorPort.Name).Msg("coin acceptor port not opened")
	} else {
		closers = append(closers, func() { link.Close() })
		devices.CoinAcceptor = cctalk.New(link, bus, cfg.CoinTable, log)
	}

	if link, err := transport.Open(cfg.HopperPort.Name, cfg.HopperPort.Baud); err != nil {
		log.Warn().Err(err).Str("port", cfg.HopperPort.Name).Msg("coin hopper port not opened")
	} else {
		closers = append(closers, func() { link.Close() })
		devices.Hopper = ssp.New(link, bus, log)
	}

	return devices, closers
}

// loadConfig starts from config.Default() and overrides each field the
// matching CASH_SYSTEM_* environment variable sets, per internal/config's
// doc comment: the core package stays a plain value, and reading the
// environment is this entrypoint's job alone.
func loadConfig() config.Config {
	cfg := config.Default()

	if v := os.Getenv("CASH_SYSTEM_BILL_ACCEPTOR_PORT"); v != "" {
		cfg.BillAcceptorPort.Name = v
	}
	if v := os.Getenv("CASH_SYSTEM_DISPENSER_PORT"); v != "" {
		cfg.DispenserPort.Name = v
	}
	if v := os.Getenv("CASH_SYSTEM_COIN_ACCEPTOR_PORT"); v != "" {
		cfg.CoinAcceptorPort.Name = v
	}
	if v := os.Getenv("CASH_SYSTEM_HOPPER_PORT"); v != "" {
		cfg.HopperPort.Name = v
	}
	if v := os.Getenv("CASH_SYSTEM_BILL_ACCEPTOR_FIRMWARE"); v != "" {
		cfg.BillAcceptorFirmware = v
	}
	if v := os.Getenv("CASH_SYSTEM_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("CASH_SYSTEM_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("CASH_SYSTEM_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	if v := os.Getenv("CASH_SYSTEM_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}

	return cfg
}
