package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/GoAethereal/cancel"

	"github.com/liamhemmettAA/STRP-MODBUS-MIRROR/config"
	"github.com/liamhemmettAA/STRP-MODBUS-MIRROR/mbadapter"
	"github.com/liamhemmettAA/STRP-MODBUS-MIRROR/srtp"
	"github.com/liamhemmettAA/STRP-MODBUS-MIRROR/supervisor"
	syncer "github.com/liamhemmettAA/STRP-MODBUS-MIRROR/sync"
)

// usage: ./srtp-modbus-mirror -config=config.json
func main() {
	var configLoc string
	flag.StringVar(&configLoc, "config", "config.json", "path to json configuration")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	rawConfig, err := os.ReadFile(configLoc) // #nosec G304
	if err != nil {
		logger.Error("reading config failed", "err", err)
		os.Exit(1)
	}

	conf, err := config.Parse(rawConfig)
	if err != nil {
		logger.Error("config parsing failed", "err", err)
		os.Exit(1)
	}

	synchronizers := make([]*syncer.Synchronizer, 0, len(conf.Plcs))
	for _, plc := range conf.Plcs {
		plcClient := srtp.NewClient(plc.IP, plc.SrtpPort)
		mbClient := mbadapter.New(conf.ModbusAddress, conf.ModbusSlaveID)
		synchronizers = append(synchronizers, syncer.New(plcClient, mbClient, plc, conf.PollInterval, logger))
	}

	root := cancel.New()
	sup := supervisor.NewWithConfig(logger, synchronizers, supervisor.Config{
		MaxReconnectAttempts: conf.MaxReconnectAttempts,
	})

	go watchSignals(root, logger)

	if err := sup.Run(root); err != nil {
		logger.Error("mirror stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("mirror stopped")
}

// watchSignals implements the two-stage SIGINT policy from the mirror's
// specification: the first Ctrl-C cancels root, asking every synchronizer
// to finish its current tick and disconnect; a second Ctrl-C exits the
// process immediately without waiting for that cooperative shutdown to
// finish.
func watchSignals(root cancel.Context, logger *slog.Logger) {
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt)

	<-sig
	logger.Info("shutdown requested, stopping synchronizers")
	root.Cancel()

	<-sig
	logger.Warn("second interrupt received, exiting immediately")
	os.Exit(1)
}
