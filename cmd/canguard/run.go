package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/notnil/canguard"
	"github.com/notnil/canguard/gateway"
	"github.com/notnil/canguard/internal/config"
	"github.com/notnil/canguard/internal/logging"
	"github.com/notnil/canguard/safety"
	"github.com/notnil/canguard/slcan"
)

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the YAML configuration")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if len(cfg.Buses) == 0 {
		return errors.New("no buses configured")
	}
	logger, logCloser, err := logging.New(cfg.Logger, os.Stderr)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	hooks, err := newPolicy(cfg.Safety.Mode)
	if err != nil {
		return err
	}
	sup := safety.NewSupervisor(hooks, cfg.Safety.Param, safety.WithLogger(logger))

	buses := make(map[uint8]canguard.Bus, len(cfg.Buses))
	defer func() {
		for _, b := range buses {
			b.Close()
		}
	}()
	for _, bc := range cfg.Buses {
		b, err := openBus(bc, logger)
		if err != nil {
			return fmt.Errorf("bus %d: %w", bc.Index, err)
		}
		if bc.LogFrames {
			b = canguard.NewLoggedBus(b, logger, slog.LevelDebug, canguard.LogAll, logFilter(bc))
		}
		buses[bc.Index] = b
	}

	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithTickInterval(cfg.Gateway.TickInterval),
	}
	if cfg.Gateway.TelemetryPath != "" {
		f, err := os.OpenFile(cfg.Gateway.TelemetryPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer f.Close()
		opts = append(opts, gateway.WithTelemetry(f))
	}
	gw := gateway.New(sup, buses, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return gw.Run(ctx)
}

// logFilter selects the frames a bus logs: data frames, optionally only
// the configured identifiers.
func logFilter(bc config.BusConfig) canguard.FrameFilter {
	if len(bc.LogIDs) == 0 {
		return canguard.DataOnly()
	}
	return canguard.And(canguard.DataOnly(), canguard.ByIDs(bc.LogIDs...))
}

func openBus(bc config.BusConfig, logger *slog.Logger) (canguard.Bus, error) {
	switch bc.Driver {
	case config.DriverSocketCAN:
		return openSocketCAN(bc)
	case config.DriverSLCAN:
		b, err := slcan.Open(bc.Device, slcan.Options{
			Bitrate:  bc.Bitrate,
			BaudRate: bc.BaudRate,
			Bus:      bc.Index,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown driver %q", bc.Driver)
}
