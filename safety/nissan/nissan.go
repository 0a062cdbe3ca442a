// Package nissan implements the safety policy for Nissan vehicles with
// angle-based lane keeping (X-Trail, Leaf, Altima and relatives).
//
// The harness sits between the camera and the vehicle: bus 0 is the vehicle
// side (V-CAN), bus 2 the camera side, and bus 1 carries C-CAN. On some
// trims the EPS and cruise signals live on C-CAN instead; Init's parameter
// selects that wiring.
package nissan

import (
	"time"

	"github.com/notnil/canguard"
	"github.com/notnil/canguard/safety"
)

// Bus indexes on the harness.
const (
	BusVehicle uint8 = 0 // V-CAN
	BusCCAN    uint8 = 1
	BusADAS    uint8 = 2 // camera side
)

// Addresses the policy reads or writes.
const (
	AddrSteerAngleSensor = 0x2
	AddrLKAS             = 0x169
	AddrGasPedal         = 0x15c // X-Trail
	AddrBrake            = 0x1cc // Leaf
	AddrCruiseThrottle   = 0x20b
	AddrGasPedalLeaf     = 0x239 // Leaf, also carries the brake switch
	AddrCancel           = 0x280 // Leaf
	AddrWheelSpeedsRear  = 0x285
	AddrProPilotHUD      = 0x2b1
	AddrCruiseState      = 0x30f
	AddrDoorsLights      = 0x454 // X-Trail brake switch
	AddrProPilotHUDInfo  = 0x4cc
)

// cruiseButtonsNotCancel masks every button in CRUISE_THROTTLE byte 1 other
// than cancel (0x02).
const cruiseButtonsNotCancel = 0x3d

// SteeringLimits are the angle command limits.
var SteeringLimits = safety.SteeringLimits{
	AngleDegToCAN: 100,
	AngleRateUp:   safety.MustLookup([]float64{0, 5, 15}, []float64{5, 0.8, 0.15}),
	AngleRateDown: safety.MustLookup([]float64{0, 5, 15}, []float64{5, 3.5, 0.4}),
	MaxAngle:      steerAngleOffset,
}

// TxMsgs is the exhaustive list of frames the device may send.
var TxMsgs = []safety.CanMsg{
	{Addr: AddrLKAS, Bus: BusVehicle, Len: 8},
	{Addr: AddrProPilotHUD, Bus: BusVehicle, Len: 8},
	{Addr: AddrProPilotHUDInfo, Bus: BusVehicle, Len: 8},
	{Addr: AddrCruiseThrottle, Bus: BusADAS, Len: 6}, // X-Trail
	{Addr: AddrCruiseThrottle, Bus: BusCCAN, Len: 6}, // Altima
	{Addr: AddrCancel, Bus: BusADAS, Len: 8},         // Leaf
}

// addrChecks lists the signals the policy depends on. Each can arrive on
// more than one bus depending on the car.
func addrChecks() []safety.AddrCheck {
	v := func(addr uint32, bus, n uint8, period time.Duration) safety.MsgProfile {
		return safety.MsgProfile{Addr: addr, Bus: bus, Len: n, Period: period}
	}
	return []safety.AddrCheck{
		{Name: "steer_angle_sensor", Variants: []safety.MsgProfile{
			v(AddrSteerAngleSensor, BusVehicle, 5, 10*time.Millisecond),
			v(AddrSteerAngleSensor, BusCCAN, 5, 10*time.Millisecond),
		}},
		{Name: "wheel_speeds_rear", Variants: []safety.MsgProfile{
			v(AddrWheelSpeedsRear, BusVehicle, 8, 20*time.Millisecond),
			v(AddrWheelSpeedsRear, BusCCAN, 8, 20*time.Millisecond),
		}},
		{Name: "cruise_state", Variants: []safety.MsgProfile{
			v(AddrCruiseState, BusADAS, 3, 100*time.Millisecond),
			v(AddrCruiseState, BusCCAN, 3, 100*time.Millisecond),
		}},
		{Name: "gas_pedal", Variants: []safety.MsgProfile{
			v(AddrGasPedal, BusVehicle, 8, 20*time.Millisecond),
			v(AddrGasPedal, BusCCAN, 8, 20*time.Millisecond),
			v(AddrGasPedalLeaf, BusVehicle, 8, 20*time.Millisecond),
		}},
		{Name: "doors_lights_brake", Variants: []safety.MsgProfile{
			v(AddrDoorsLights, BusVehicle, 8, 100*time.Millisecond),
			v(AddrDoorsLights, BusCCAN, 8, 100*time.Millisecond),
			v(AddrBrake, BusVehicle, 4, 10*time.Millisecond),
		}},
	}
}

// Hooks is the Nissan policy. The zero value is usable; Init selects the
// EPS wiring.
type Hooks struct {
	altEPS bool
}

// New returns a policy with the default (V-CAN) EPS wiring.
func New() *Hooks { return &Hooks{} }

func (h *Hooks) Name() string { return "nissan" }

// AltEPS reports whether the EPS is configured on C-CAN.
func (h *Hooks) AltEPS() bool { return h.altEPS }

// Init selects the EPS location: zero for V-CAN, anything else for C-CAN.
func (h *Hooks) Init(param uint16) []safety.AddrCheck {
	h.altEPS = param != 0
	return addrChecks()
}

// epsBus carries steering angle, wheel speed and gas.
func (h *Hooks) epsBus() uint8 {
	if h.altEPS {
		return BusCCAN
	}
	return BusVehicle
}

// cruiseBus carries the stock cruise state.
func (h *Hooks) cruiseBus() uint8 {
	if h.altEPS {
		return BusCCAN
	}
	return BusADAS
}

// RX updates vehicle state from trusted frames.
func (h *Hooks) RX(env *safety.Env, f canguard.Frame) bool {
	if !env.Checks.Check(f, env.Now) {
		return false
	}
	// Our own LKAS message heard on V-CAN means a second ECU is steering,
	// whatever its length.
	stockECU := f.ID == AddrLKAS && f.Bus == BusVehicle
	if f.Len < minLen(f.ID) {
		env.Controls.RxChecks(stockECU, env.State)
		return true
	}

	if f.Bus == h.epsBus() {
		switch f.ID {
		case AddrSteerAngleSensor:
			env.State.UpdateAngle(SteerAngle(f))
		case AddrWheelSpeedsRear:
			right, left := WheelSpeeds(f)
			env.State.SetMoving(right|left != 0)
			env.State.UpdateSpeed(Speed(right, left))
		case AddrGasPedal, AddrGasPedalLeaf:
			env.State.SetGas(GasPressed(f))
		}
	}

	if f.ID == AddrDoorsLights || f.ID == AddrGasPedalLeaf {
		env.State.SetBrake(BrakePressed(f))
	}

	if f.ID == AddrCruiseState && f.Bus == h.cruiseBus() {
		engaged := CruiseEngaged(f)
		env.State.SetCruiseEngaged(engaged)
		env.Controls.CruiseCheck(engaged)
	}

	env.Controls.RxChecks(stockECU, env.State)
	return true
}

// TX allows whitelisted frames that pass the steering and button checks.
func (h *Hooks) TX(env *safety.Env, f canguard.Frame) bool {
	if !safety.MsgAllowed(f, TxMsgs) {
		return false
	}
	violation := false
	switch f.ID {
	case AddrLKAS:
		cmd := DecodeSteerCommand(f)
		violation = env.Angle.Check(cmd.Angle, cmd.Active, SteeringLimits, env.State, env.Controls.Allowed())
	case AddrCruiseThrottle:
		// Only cancel may ever be requested.
		violation = f.Byte(1)&cruiseButtonsNotCancel != 0
	}
	return !violation
}

// FWD relays V-CAN to the camera and back, keeping the camera's cancel
// request off the camera side and the device's own LKAS and HUD frames off
// the vehicle side.
func (h *Hooks) FWD(bus uint8, addr uint32) (uint8, bool) {
	switch bus {
	case BusVehicle:
		if addr == AddrCancel {
			return 0, false
		}
		return BusADAS, true
	case BusADAS:
		switch addr {
		case AddrLKAS, AddrProPilotHUD, AddrProPilotHUDInfo:
			return 0, false
		}
		return BusVehicle, true
	}
	return 0, false
}
