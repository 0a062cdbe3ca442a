package safety

import (
	"log/slog"
	"sync"

	"github.com/notnil/canguard"
	"github.com/notnil/canguard/internal/timeutil"
)

// Supervisor owns the shared safety state for one device session and runs
// the configured policy's hooks against it.
//
// RX, TX, Tick and SetHooks are serialised on one lock, so the policy sees a
// single writer no matter how many bus listeners call in. FWD only reads.
// All methods are bounded-time and never block on I/O.
type Supervisor struct {
	mu     sync.RWMutex
	hooks  Hooks
	param  uint16
	checks []AddrCheck
	env    Env

	clock  timeutil.Clock
	logger *slog.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock sets the clock used for signal timing. Defaults to wall time.
func WithClock(c timeutil.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithLogger sets the logger used for mode changes.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// NewSupervisor creates a Supervisor running hooks initialised with param.
// A nil hooks runs the silent policy.
func NewSupervisor(hooks Hooks, param uint16, opts ...Option) *Supervisor {
	s := &Supervisor{
		clock:  timeutil.RealClock{},
		logger: slog.Default(),
		env: Env{
			State:    &VehicleState{},
			Controls: &Controls{},
			Angle:    &AngleChecker{},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.SetHooks(hooks, param)
	return s
}

// SetHooks switches to a new policy (or re-initialises the current one),
// resetting all tracked state and clearing latched faults.
func (s *Supervisor) SetHooks(hooks Hooks, param uint16) {
	if hooks == nil {
		hooks = NoOutput{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setHooksLocked(hooks, param)
}

// Reset re-initialises the current policy with its current parameter.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setHooksLocked(s.hooks, s.param)
}

func (s *Supervisor) setHooksLocked(hooks Hooks, param uint16) {
	s.hooks = hooks
	s.param = param
	s.checks = hooks.Init(param)
	now := s.clock.Now()
	s.env.Checks = NewRxChecker(s.checks, now)
	s.env.State.Reset()
	s.env.Controls.Reset()
	s.env.Angle.Reset()

	s.logger.Info("safety mode set",
		"mode", hooks.Name(),
		"param", param,
		"signals", len(s.checks),
	)
}

// RX runs the receive hook for a frame heard on the bus.
func (s *Supervisor) RX(f canguard.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env.Now = s.clock.Now()
	return s.hooks.RX(&s.env, f)
}

// TX reports whether the device may send f. Everything is blocked while a
// relay malfunction is latched.
func (s *Supervisor) TX(f canguard.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.env.Controls.RelayMalfunction() {
		return false
	}
	s.env.Now = s.clock.Now()
	return s.hooks.TX(&s.env, f)
}

// FWD returns the destination bus for a frame received on bus, or false.
// Nothing is forwarded while a relay malfunction is latched.
func (s *Supervisor) FWD(bus uint8, addr uint32) (uint8, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.env.Controls.RelayMalfunction() {
		return 0, false
	}
	return s.hooks.FWD(bus, addr)
}

// Tick re-evaluates signal freshness and should be called about once a
// second. It revokes controls when any signal lags and reports whether all
// signals are fresh.
func (s *Supervisor) Tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	healthy := s.env.Checks.Tick(s.clock.Now())
	if !healthy {
		s.env.Controls.Disallow()
	}
	s.env.Controls.tick()
	return healthy
}

// ControlsAllowed reports whether lane keeping may currently steer.
func (s *Supervisor) ControlsAllowed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.env.Controls.Allowed()
}

// RelayMalfunction reports whether a second steering sender was detected.
func (s *Supervisor) RelayMalfunction() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.env.Controls.RelayMalfunction()
}

// Lagging returns the names of signals found stale by the last Tick.
func (s *Supervisor) Lagging() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.env.Checks.Lagging()
}

// Mode returns the active policy name and its init parameter.
func (s *Supervisor) Mode() (string, uint16) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hooks.Name(), s.param
}

// Checks returns the signal set the active policy asked for.
func (s *Supervisor) Checks() []AddrCheck {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AddrCheck(nil), s.checks...)
}

// State exposes the vehicle state for read-only consumers.
func (s *Supervisor) State() *VehicleState {
	return s.env.State
}

// Snapshot copies the vehicle state.
func (s *Supervisor) Snapshot() Snapshot {
	return s.env.State.Snapshot()
}
