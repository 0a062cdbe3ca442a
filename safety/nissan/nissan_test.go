package nissan

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notnil/canguard"
	"github.com/notnil/canguard/internal/timeutil"
	"github.com/notnil/canguard/safety"
)

var t0 = time.Unix(1_700_000_000, 0)

func newEnv(h *Hooks, param uint16) *safety.Env {
	return &safety.Env{
		State:    &safety.VehicleState{},
		Controls: &safety.Controls{},
		Checks:   safety.NewRxChecker(h.Init(param), t0),
		Angle:    &safety.AngleChecker{},
		Now:      t0,
	}
}

func steerFrame(t *testing.T, angle int, active bool) canguard.Frame {
	t.Helper()
	var data [8]byte
	require.NoError(t, EncodeSteerCommand(&data, SteerCommand{Angle: angle, Active: active}))
	return canguard.MustFrame(BusVehicle, AddrLKAS, data[:])
}

func cruise(bus uint8, engaged bool) canguard.Frame {
	var b0 byte
	if engaged {
		b0 = 0x08
	}
	return canguard.MustFrame(bus, AddrCruiseState, []byte{b0, 0, 0})
}

func buttons(bus uint8, b1 byte) canguard.Frame {
	return canguard.MustFrame(bus, AddrCruiseThrottle, []byte{0, b1, 0, 0, 0, 0})
}

func TestInitIsIdempotent(t *testing.T) {
	h := New()
	first := h.Init(0)
	second := h.Init(0)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("Init(0) changed between calls (-first +second):\n%s", diff)
	}
	assert.False(t, h.AltEPS())

	// Callers may mutate what they get back.
	first[0].Variants[0].Len = 1
	assert.Equal(t, uint8(5), h.Init(0)[0].Variants[0].Len)

	h.Init(1)
	assert.True(t, h.AltEPS())
	h.Init(0)
	assert.False(t, h.AltEPS())
}

func TestFWD(t *testing.T) {
	h := New()
	h.Init(0)
	tests := []struct {
		bus  uint8
		addr uint32
		dst  uint8
		ok   bool
	}{
		{BusVehicle, AddrCancel, 0, false},
		{BusVehicle, 0x200, BusADAS, true},
		{BusVehicle, AddrLKAS, BusADAS, true},
		{BusADAS, AddrLKAS, 0, false},
		{BusADAS, AddrProPilotHUD, 0, false},
		{BusADAS, AddrProPilotHUDInfo, 0, false},
		{BusADAS, 0x300, BusVehicle, true},
		{BusADAS, AddrCancel, BusVehicle, true},
		{BusCCAN, 0x200, 0, false},
		{3, 0x200, 0, false},
	}
	for _, tt := range tests {
		dst, ok := h.FWD(tt.bus, tt.addr)
		assert.Equal(t, tt.ok, ok, "bus %d addr %#x", tt.bus, tt.addr)
		if tt.ok {
			assert.Equal(t, tt.dst, dst, "bus %d addr %#x", tt.bus, tt.addr)
		}
	}
}

func TestTXWhitelist(t *testing.T) {
	h := New()
	env := newEnv(h, 0)

	assert.False(t, h.TX(env, canguard.MustFrame(BusADAS, AddrLKAS, make([]byte, 8))), "wrong bus")
	assert.False(t, h.TX(env, canguard.MustFrame(BusVehicle, AddrProPilotHUD, make([]byte, 7))), "wrong length")
	assert.False(t, h.TX(env, canguard.MustFrame(BusVehicle, 0x123, make([]byte, 8))), "unknown address")
	assert.True(t, h.TX(env, canguard.MustFrame(BusVehicle, AddrProPilotHUD, make([]byte, 8))))
	assert.True(t, h.TX(env, canguard.MustFrame(BusVehicle, AddrProPilotHUDInfo, make([]byte, 8))))
	assert.True(t, h.TX(env, canguard.MustFrame(BusADAS, AddrCancel, make([]byte, 8))))
}

func TestTXButtonsOnlyCancel(t *testing.T) {
	h := New()
	env := newEnv(h, 0)

	assert.True(t, h.TX(env, buttons(BusADAS, 0x00)))
	assert.True(t, h.TX(env, buttons(BusADAS, 0x02)), "cancel")
	assert.True(t, h.TX(env, buttons(BusCCAN, 0x02)), "cancel on C-CAN")
	for _, b := range []byte{0x01, 0x04, 0x08, 0x10, 0x20, 0x03} {
		assert.False(t, h.TX(env, buttons(BusADAS, b)), "byte 1 = %#x", b)
	}
	assert.False(t, h.TX(env, canguard.MustFrame(BusADAS, AddrCruiseThrottle, []byte{0, 0x02, 0, 0, 0, 0, 0, 0})), "wrong length")
}

func TestTXSteering(t *testing.T) {
	h := New()
	env := newEnv(h, 0)

	assert.True(t, h.TX(env, steerFrame(t, 0, false)), "inactive at measured angle")
	assert.False(t, h.TX(env, steerFrame(t, 0, true)), "active without controls")

	env.Controls.CruiseCheck(true)
	require.True(t, env.Controls.Allowed())
	assert.True(t, h.TX(env, steerFrame(t, 300, true)))
	assert.True(t, h.TX(env, steerFrame(t, 801, true)))
	assert.False(t, h.TX(env, steerFrame(t, 1303, true)), "beyond standstill rate")

	// Inactive while engaged must follow the wheel.
	env.State.UpdateAngle(-200)
	assert.True(t, h.TX(env, steerFrame(t, -201, false)))
	assert.False(t, h.TX(env, steerFrame(t, 500, false)))
}

func TestTXAngleBeyondLimit(t *testing.T) {
	for _, angle := range []int{SteeringLimits.MaxAngle + 1, MaxSteerAngle} {
		for _, active := range []bool{false, true} {
			h := New()
			env := newEnv(h, 0)
			env.Controls.CruiseCheck(true)
			env.State.UpdateAngle(angle)
			assert.False(t, h.TX(env, steerFrame(t, angle, active)), "angle %d active %v", angle, active)
		}
	}
}

func TestRXDefaultWiring(t *testing.T) {
	h := New()
	env := newEnv(h, 0)

	require.True(t, h.RX(env, canguard.MustFrame(BusVehicle, AddrSteerAngleSensor, []byte{0x64, 0, 0, 0, 0})))
	assert.Equal(t, 1000, env.State.Angle().Last())

	require.True(t, h.RX(env, canguard.MustFrame(BusVehicle, AddrWheelSpeedsRear, []byte{0x1C, 0x20, 0x1C, 0x20, 0, 0, 0, 0})))
	assert.True(t, env.State.Moving())
	assert.Equal(t, 1000, env.State.Speed().Last())

	// C-CAN copies are ignored in the default wiring.
	require.True(t, h.RX(env, canguard.MustFrame(BusCCAN, 0x3ff, []byte{0})))
	assert.Equal(t, 1000, env.State.Angle().Last())

	require.True(t, h.RX(env, cruise(BusCCAN, true)))
	assert.False(t, env.Controls.Allowed(), "cruise on C-CAN ignored")
	require.True(t, h.RX(env, cruise(BusADAS, true)))
	assert.True(t, env.Controls.Allowed())
	assert.True(t, env.State.CruiseEngaged())

	require.True(t, h.RX(env, cruise(BusADAS, false)))
	assert.False(t, env.Controls.Allowed())
}

func TestRXLatestAngleWins(t *testing.T) {
	h := New()
	env := newEnv(h, 0)

	require.True(t, h.RX(env, canguard.MustFrame(BusVehicle, AddrSteerAngleSensor, []byte{0x64, 0, 0, 0, 0})))
	require.True(t, h.RX(env, canguard.MustFrame(BusVehicle, AddrSteerAngleSensor, []byte{0x0A, 0, 0, 0, 0})))
	assert.Equal(t, 100, env.State.Angle().Last())
	assert.Equal(t, 1000, env.State.Angle().Max())
}

func TestRXMovingFollowsWheelSpeeds(t *testing.T) {
	h := New()
	env := newEnv(h, 0)
	wheels := func(right, left byte) canguard.Frame {
		return canguard.MustFrame(BusVehicle, AddrWheelSpeedsRear, []byte{0, right, 0, left, 0, 0, 0, 0})
	}

	require.True(t, h.RX(env, wheels(5, 5)))
	assert.True(t, env.State.Moving())

	require.True(t, h.RX(env, wheels(0, 0)))
	assert.False(t, env.State.Moving())

	require.True(t, h.RX(env, wheels(0, 1)))
	assert.True(t, env.State.Moving(), "left wheel only")

	require.True(t, h.RX(env, wheels(0, 0)))
	require.True(t, h.RX(env, wheels(1, 0)))
	assert.True(t, env.State.Moving(), "right wheel only")
}

func TestRXAltEPSWiring(t *testing.T) {
	h := New()
	env := newEnv(h, 1)

	require.True(t, h.RX(env, canguard.MustFrame(BusVehicle, AddrSteerAngleSensor, []byte{0x64, 0, 0, 0, 0})))
	assert.Equal(t, 0, env.State.Angle().Last(), "V-CAN angle ignored")
	require.True(t, h.RX(env, canguard.MustFrame(BusCCAN, AddrSteerAngleSensor, []byte{0x64, 0, 0, 0, 0})))
	assert.Equal(t, 1000, env.State.Angle().Last())

	require.True(t, h.RX(env, cruise(BusADAS, true)))
	assert.False(t, env.Controls.Allowed(), "camera-side cruise ignored")
	require.True(t, h.RX(env, cruise(BusCCAN, true)))
	assert.True(t, env.Controls.Allowed())
}

func TestRXPedalsDisengage(t *testing.T) {
	h := New()
	env := newEnv(h, 0)
	require.True(t, h.RX(env, cruise(BusADAS, true)))
	require.True(t, env.Controls.Allowed())

	gas := canguard.MustFrame(BusVehicle, AddrGasPedalLeaf, []byte{10, 0, 0, 0, 0, 0, 0, 0})
	require.True(t, h.RX(env, gas))
	assert.True(t, env.State.GasPressed())
	assert.False(t, env.Controls.Allowed())

	// Release and re-engage, then brake from any bus.
	require.True(t, h.RX(env, canguard.MustFrame(BusVehicle, AddrGasPedalLeaf, make([]byte, 8))))
	require.True(t, h.RX(env, cruise(BusADAS, false)))
	require.True(t, h.RX(env, cruise(BusADAS, true)))
	require.True(t, env.Controls.Allowed())

	require.True(t, h.RX(env, canguard.MustFrame(BusCCAN, AddrDoorsLights, []byte{0, 0, 0x80, 0, 0, 0, 0, 0})))
	assert.True(t, env.State.BrakePressed())
	assert.False(t, env.Controls.Allowed())
}

func TestRXRejectsWrongLength(t *testing.T) {
	h := New()
	env := newEnv(h, 0)

	assert.False(t, h.RX(env, canguard.MustFrame(BusVehicle, AddrSteerAngleSensor, []byte{0x64, 0, 0, 0})))
	assert.Equal(t, 0, env.State.Angle().Last())

	assert.False(t, h.RX(env, canguard.MustFrame(BusADAS, AddrCruiseState, []byte{0x08, 0})))
	assert.False(t, env.Controls.Allowed())
}

func TestRXShortUntrackedFrameLeavesState(t *testing.T) {
	h := New()
	env := newEnv(h, 0)

	// 0x454 is not tracked on the camera bus, so timing accepts it, but it
	// is too short to carry the brake bit.
	require.True(t, h.RX(env, canguard.MustFrame(BusADAS, AddrDoorsLights, []byte{0xFF, 0xFF})))
	assert.False(t, env.State.BrakePressed())
}

func TestSupervisorSession(t *testing.T) {
	clock := timeutil.NewManualClock(t0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := safety.NewSupervisor(New(), 0, safety.WithClock(clock), safety.WithLogger(logger))

	name, param := s.Mode()
	assert.Equal(t, "nissan", name)
	assert.Equal(t, uint16(0), param)
	assert.Len(t, s.Checks(), 5)

	feed := func() {
		s.RX(canguard.MustFrame(BusVehicle, AddrSteerAngleSensor, make([]byte, 5)))
		s.RX(canguard.MustFrame(BusVehicle, AddrWheelSpeedsRear, make([]byte, 8)))
		s.RX(canguard.MustFrame(BusVehicle, AddrGasPedal, make([]byte, 8)))
		s.RX(canguard.MustFrame(BusVehicle, AddrDoorsLights, make([]byte, 8)))
	}
	for i := 0; i < 3; i++ {
		feed()
		require.True(t, s.RX(cruise(BusADAS, i > 0)))
		clock.Advance(500 * time.Millisecond)
		require.True(t, s.Tick(), "lagging: %v", s.Lagging())
	}
	require.True(t, s.ControlsAllowed())
	assert.True(t, s.TX(steerFrame(t, 250, true)))

	// The camera's own LKAS frame showing up on the vehicle side means the
	// harness relay is not isolating it.
	s.RX(steerFrame(t, 0, false))
	assert.True(t, s.RelayMalfunction())
	assert.False(t, s.TX(steerFrame(t, 250, true)))
	assert.False(t, s.TX(buttons(BusADAS, 0x02)))
	_, ok := s.FWD(BusVehicle, 0x200)
	assert.False(t, ok)
}

func TestSupervisorShortLKASLatchesRelayFault(t *testing.T) {
	clock := timeutil.NewManualClock(t0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := safety.NewSupervisor(New(), 0, safety.WithClock(clock), safety.WithLogger(logger))
	s.Tick()
	s.Tick()

	assert.True(t, s.RX(canguard.MustFrame(BusVehicle, AddrLKAS, []byte{0, 0, 0, 0})))
	assert.True(t, s.RelayMalfunction())
	assert.False(t, s.TX(buttons(BusADAS, 0x02)))
}
