// Package gateway runs a safety Supervisor against real buses.
//
// One goroutine per bus receives frames, runs them through the Supervisor's
// RX hook, fans valid frames out to subscribers and relays them to the bus
// the forwarding hook names. Outbound frames from the application go
// through Send, which consults the TX hook first. A ticker drives the
// Supervisor's periodic checks and optionally records CBOR telemetry.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/notnil/canguard"
	"github.com/notnil/canguard/internal/timeutil"
	"github.com/notnil/canguard/safety"
)

var (
	// ErrBlocked is returned by Send when the safety policy rejects a frame.
	ErrBlocked = errors.New("gateway: frame blocked by safety policy")
	// ErrUnknownBus is returned by Send for a bus index with no transport.
	ErrUnknownBus = errors.New("gateway: unknown bus")
)

// DefaultTickInterval is how often the Supervisor's periodic checks run.
const DefaultTickInterval = time.Second

// Stats counts traffic through the gateway since it was created.
type Stats struct {
	Received     uint64 `cbor:"received" json:"received"`
	Invalid      uint64 `cbor:"invalid" json:"invalid"`
	Forwarded    uint64 `cbor:"forwarded" json:"forwarded"`
	ForwardFails uint64 `cbor:"forward_fails" json:"forward_fails"`
	Sent         uint64 `cbor:"sent" json:"sent"`
	Blocked      uint64 `cbor:"blocked" json:"blocked"`
	Dropped      uint64 `cbor:"dropped" json:"dropped"`
}

type counters struct {
	received, invalid, forwarded, forwardFails atomic.Uint64
	sent, blocked, dropped                     atomic.Uint64
}

// Gateway connects a Supervisor to a set of buses.
type Gateway struct {
	sup     *safety.Supervisor
	buses   map[uint8]canguard.Bus
	clock   timeutil.Clock
	logger  *slog.Logger
	tick    time.Duration
	session uuid.UUID
	tel     *telemetryWriter

	mu   sync.RWMutex
	subs map[uint64]*subscriber
	next uint64

	stats counters
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock sets the clock driving the tick loop.
func WithClock(c timeutil.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithTickInterval sets how often Supervisor.Tick runs.
func WithTickInterval(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.tick = d
		}
	}
}

// WithTelemetry writes one CBOR Telemetry record to w per tick.
func WithTelemetry(w io.Writer) Option {
	return func(g *Gateway) {
		if w != nil {
			g.tel = newTelemetryWriter(w)
		}
	}
}

// WithSessionID overrides the generated session id.
func WithSessionID(id uuid.UUID) Option {
	return func(g *Gateway) { g.session = id }
}

// New creates a Gateway. buses maps harness bus indexes to transports; the
// Gateway does not close them.
func New(sup *safety.Supervisor, buses map[uint8]canguard.Bus, opts ...Option) *Gateway {
	g := &Gateway{
		sup:     sup,
		buses:   make(map[uint8]canguard.Bus, len(buses)),
		clock:   timeutil.RealClock{},
		logger:  slog.Default(),
		tick:    DefaultTickInterval,
		session: uuid.New(),
		subs:    make(map[uint64]*subscriber),
	}
	for idx, b := range buses {
		g.buses[idx] = b
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("session", g.session.String())
	return g
}

// SessionID identifies this gateway run in logs and telemetry.
func (g *Gateway) SessionID() uuid.UUID { return g.session }

// Run serves all buses until ctx is done or a bus fails. Subscriber channels
// are closed when it returns. A cancelled ctx is not reported as an error.
func (g *Gateway) Run(ctx context.Context) error {
	defer g.closeSubscribers()

	name, param := g.sup.Mode()
	g.logger.Info("gateway starting", "mode", name, "param", param, "buses", len(g.buses))

	eg, egCtx := errgroup.WithContext(ctx)
	for idx, bus := range g.buses {
		eg.Go(func() error { return g.serve(egCtx, idx, bus) })
	}
	eg.Go(func() error { return g.tickLoop(egCtx) })

	err := eg.Wait()
	if err != nil && ctx.Err() == nil {
		g.logger.Error("gateway stopped", "error", err)
		return err
	}
	g.logger.Info("gateway stopped", "stats", g.Stats())
	return nil
}

func (g *Gateway) serve(ctx context.Context, idx uint8, bus canguard.Bus) error {
	for {
		f, err := bus.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("gateway: bus %d receive: %w", idx, err)
		}
		f.Bus = idx
		g.stats.received.Add(1)

		if g.sup.RX(f) {
			g.publish(f)
		} else {
			g.stats.invalid.Add(1)
		}

		// Relaying does not depend on RX validity; the forwarding table alone
		// decides what crosses the harness.
		g.forward(ctx, f)
	}
}

func (g *Gateway) forward(ctx context.Context, f canguard.Frame) {
	dst, ok := g.sup.FWD(f.Bus, f.ID)
	if !ok {
		return
	}
	target, ok := g.buses[dst]
	if !ok {
		return
	}
	out := f
	out.Bus = dst
	if err := target.Send(ctx, out); err != nil {
		if ctx.Err() == nil {
			g.stats.forwardFails.Add(1)
			g.logger.Warn("forward failed", "from", f.Bus, "to", dst, "id", f.ID, "error", err)
		}
		return
	}
	g.stats.forwarded.Add(1)
}

// Send transmits f on bus f.Bus if the safety policy allows it.
func (g *Gateway) Send(ctx context.Context, f canguard.Frame) error {
	bus, ok := g.buses[f.Bus]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBus, f.Bus)
	}
	if err := f.Validate(); err != nil {
		return err
	}
	if !g.sup.TX(f) {
		g.stats.blocked.Add(1)
		g.logger.Warn("send blocked", "frame", f.String())
		return fmt.Errorf("%w: %s", ErrBlocked, f)
	}
	if err := bus.Send(ctx, f); err != nil {
		return fmt.Errorf("gateway: bus %d send: %w", f.Bus, err)
	}
	g.stats.sent.Add(1)
	return nil
}

func (g *Gateway) tickLoop(ctx context.Context) error {
	t := g.clock.NewTicker(g.tick)
	defer t.Stop()

	healthy := true
	relay := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C():
			ok := g.sup.Tick()
			if ok != healthy {
				if ok {
					g.logger.Info("all signals fresh")
				} else {
					g.logger.Warn("signals lagging", "signals", g.sup.Lagging())
				}
				healthy = ok
			}
			r := g.sup.RelayMalfunction()
			if r && !relay {
				g.logger.Error("relay malfunction: stock steering seen on vehicle bus")
			}
			relay = r
			if g.tel != nil {
				if err := g.tel.write(g.telemetry(now)); err != nil {
					g.logger.Warn("telemetry write failed", "error", err)
				}
			}
		}
	}
}

// Stats returns a copy of the traffic counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		Received:     g.stats.received.Load(),
		Invalid:      g.stats.invalid.Load(),
		Forwarded:    g.stats.forwarded.Load(),
		ForwardFails: g.stats.forwardFails.Load(),
		Sent:         g.stats.sent.Load(),
		Blocked:      g.stats.blocked.Load(),
		Dropped:      g.stats.dropped.Load(),
	}
}
