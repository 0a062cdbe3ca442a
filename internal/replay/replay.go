// Package replay runs a recorded candump log through a safety Supervisor
// offline, with time driven by the log's own timestamps.
package replay

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/notnil/canguard/candump"
	"github.com/notnil/canguard/internal/timeutil"
	"github.com/notnil/canguard/safety"
)

// Options configures a replay.
type Options struct {
	// Interfaces maps log interface names to harness bus indexes for frames
	// the device received. Frames on other interfaces are skipped.
	Interfaces map[string]uint8
	// TXInterfaces maps interface names whose frames were sent by the
	// device; they are checked with the TX hook instead of RX.
	TXInterfaces map[string]uint8
	// TickInterval is the log time between Supervisor ticks. Defaults to
	// one second.
	TickInterval time.Duration
	Logger       *slog.Logger
}

// Result summarises a replay.
type Result struct {
	Frames      int
	Skipped     int
	Invalid     int
	Forwarded   int
	Transmitted int
	Blocked     []candump.Record
	Ticks       int
	Unhealthy   int // ticks with a lagging signal
	Engagements int
	RelayFault  bool
}

// Run replays every record from r. The Supervisor must have been created
// with clock. Records without a timestamp reuse the previous one.
func Run(r io.Reader, sup *safety.Supervisor, clock *timeutil.ManualClock, opts Options) (Result, error) {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var res Result
	var nextTick time.Time
	allowed := sup.ControlsAllowed()
	dec := candump.NewReader(r)

	for {
		rec, err := dec.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("replay: %w", err)
		}

		if !rec.Time.IsZero() {
			if nextTick.IsZero() {
				// Start the session at the first logged instant.
				clock.Set(rec.Time)
				sup.Reset()
				nextTick = rec.Time.Add(opts.TickInterval)
			}
			for !nextTick.After(rec.Time) {
				clock.Set(nextTick)
				res.Ticks++
				if !sup.Tick() {
					res.Unhealthy++
				}
				nextTick = nextTick.Add(opts.TickInterval)
			}
			if rec.Time.After(clock.Now()) {
				clock.Set(rec.Time)
			}
		}

		if bus, ok := opts.TXInterfaces[rec.Iface]; ok {
			res.Frames++
			f := rec.Frame
			f.Bus = bus
			if sup.TX(f) {
				res.Transmitted++
			} else {
				res.Blocked = append(res.Blocked, rec)
				logger.Warn("blocked", "time", rec.Time, "frame", f.String())
			}
			continue
		}

		bus, ok := opts.Interfaces[rec.Iface]
		if !ok {
			res.Skipped++
			continue
		}
		res.Frames++
		f := rec.Frame
		f.Bus = bus
		if !sup.RX(f) {
			res.Invalid++
		}
		if _, ok := sup.FWD(bus, f.ID); ok {
			res.Forwarded++
		}

		if now := sup.ControlsAllowed(); now != allowed {
			if now {
				res.Engagements++
			}
			logger.Info("controls changed", "time", rec.Time, "allowed", now)
			allowed = now
		}
	}

	res.RelayFault = sup.RelayMalfunction()
	return res, nil
}
