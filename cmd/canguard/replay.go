package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/notnil/canguard/candump"
	"github.com/notnil/canguard/internal/config"
	"github.com/notnil/canguard/internal/logging"
	"github.com/notnil/canguard/internal/replay"
	"github.com/notnil/canguard/internal/timeutil"
	"github.com/notnil/canguard/safety"
)

// maxBlockedShown caps the blocked frames listed in the report.
const maxBlockedShown = 20

func replayCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the YAML configuration")
	mode := fs.String("mode", "", "safety mode (overrides the configuration)")
	param := fs.Int("param", -1, "safety mode parameter (overrides the configuration)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("replay: want exactly one log file, got %d", fs.NArg())
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *mode != "" {
		cfg.Safety.Mode = *mode
	}
	if *param >= 0 {
		cfg.Safety.Param = uint16(*param)
	}
	logger, logCloser, err := logging.New(cfg.Logger, os.Stderr)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	hooks, err := newPolicy(cfg.Safety.Mode)
	if err != nil {
		return err
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	clock := timeutil.NewManualClock(time.Unix(0, 0))
	sup := safety.NewSupervisor(hooks, cfg.Safety.Param, safety.WithClock(clock), safety.WithLogger(logger))
	res, err := replay.Run(f, sup, clock, replay.Options{
		Interfaces:   cfg.Replay.Interfaces,
		TXInterfaces: cfg.Replay.TXInterfaces,
		TickInterval: cfg.Gateway.TickInterval,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	printReport(out, cfg.Safety.Mode, cfg.Safety.Param, res)
	if len(res.Blocked) > 0 || res.RelayFault {
		return fmt.Errorf("replay: %d blocked frames, relay fault %v", len(res.Blocked), res.RelayFault)
	}
	return nil
}

func printReport(w io.Writer, mode string, param uint16, res replay.Result) {
	fmt.Fprintf(w, "mode         %s (param %d)\n", mode, param)
	fmt.Fprintf(w, "frames       %d (%d skipped)\n", res.Frames, res.Skipped)
	fmt.Fprintf(w, "invalid rx   %d\n", res.Invalid)
	fmt.Fprintf(w, "forwarded    %d\n", res.Forwarded)
	fmt.Fprintf(w, "tx allowed   %d\n", res.Transmitted)
	fmt.Fprintf(w, "tx blocked   %d\n", len(res.Blocked))
	fmt.Fprintf(w, "ticks        %d (%d lagging)\n", res.Ticks, res.Unhealthy)
	fmt.Fprintf(w, "engagements  %d\n", res.Engagements)
	fmt.Fprintf(w, "relay fault  %v\n", res.RelayFault)
	for i, rec := range res.Blocked {
		if i == maxBlockedShown {
			fmt.Fprintf(w, "  ... %d more\n", len(res.Blocked)-i)
			break
		}
		fmt.Fprintf(w, "  %s\n", candump.FormatLine(rec))
	}
}
