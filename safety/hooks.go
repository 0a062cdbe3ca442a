package safety

import (
	"time"

	"github.com/notnil/canguard"
)

// Env is the shared state a policy works against. The Supervisor owns it and
// hands it to each RX and TX call; policies must not retain it.
type Env struct {
	State    *VehicleState
	Controls *Controls
	Checks   *RxChecker
	Angle    *AngleChecker

	// Now is the time the current hook call was made.
	Now time.Time
}

// Hooks is implemented once per supported vehicle.
type Hooks interface {
	// Name identifies the policy in logs and configuration.
	Name() string

	// Init applies the configuration parameter and returns the signals the
	// address/timing checker must watch. Calling it twice with the same
	// parameter must yield the same result.
	Init(param uint16) []AddrCheck

	// RX validates a received frame and updates env. It returns false when
	// the frame, or the bus as a whole, must not be trusted.
	RX(env *Env, f canguard.Frame) bool

	// TX reports whether the device may put f on the bus.
	TX(env *Env, f canguard.Frame) bool

	// FWD returns the bus a frame received on bus with address addr is
	// relayed to, or false if it is not relayed.
	FWD(bus uint8, addr uint32) (uint8, bool)
}

// NoOutput is the silent policy used before a vehicle is configured: it
// accepts everything it hears and neither transmits nor forwards.
type NoOutput struct{}

func (NoOutput) Name() string { return "silent" }
func (NoOutput) Init(uint16) []AddrCheck { return nil }
func (NoOutput) RX(*Env, canguard.Frame) bool { return true }
func (NoOutput) TX(*Env, canguard.Frame) bool { return false }
func (NoOutput) FWD(uint8, uint32) (uint8, bool) { return 0, false }
