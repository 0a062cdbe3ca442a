package safety

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notnil/canguard"
	"github.com/notnil/canguard/internal/timeutil"
)

// stubHooks is a minimal policy: one cruise signal on bus 2, steering echo
// detection on bus 0, forwarding 0 -> 2.
type stubHooks struct {
	inits []uint16
}

func (h *stubHooks) Name() string { return "stub" }

func (h *stubHooks) Init(param uint16) []AddrCheck {
	h.inits = append(h.inits, param)
	return []AddrCheck{{Name: "cruise", Variants: []MsgProfile{
		{Addr: 0x30f, Bus: 2, Len: 3, Period: 100 * time.Millisecond},
	}}}
}

func (h *stubHooks) RX(env *Env, f canguard.Frame) bool {
	if !env.Checks.Check(f, env.Now) {
		return false
	}
	if f.ID == 0x30f {
		engaged := f.Byte(0)&0x08 != 0
		env.State.SetCruiseEngaged(engaged)
		env.Controls.CruiseCheck(engaged)
	}
	env.Controls.RxChecks(f.ID == 0x169 && f.Bus == 0, env.State)
	return true
}

func (h *stubHooks) TX(env *Env, f canguard.Frame) bool { return env.Controls.Allowed() }

func (h *stubHooks) FWD(bus uint8, addr uint32) (uint8, bool) {
	if bus == 0 {
		return 2, true
	}
	return 0, false
}

func newTestSupervisor(h Hooks) (*Supervisor, *timeutil.ManualClock) {
	clock := timeutil.NewManualClock(time.Unix(1_700_000_000, 0))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSupervisor(h, 0, WithClock(clock), WithLogger(logger)), clock
}

func cruiseFrame(engaged bool) canguard.Frame {
	var b0 byte
	if engaged {
		b0 = 0x08
	}
	return canguard.MustFrame(2, 0x30f, []byte{b0, 0, 0})
}

func TestSupervisor_SilentByDefault(t *testing.T) {
	s, _ := newTestSupervisor(nil)

	name, _ := s.Mode()
	assert.Equal(t, "silent", name)
	assert.True(t, s.RX(canguard.MustFrame(0, 0x100, []byte{1})))
	assert.False(t, s.TX(canguard.MustFrame(0, 0x100, []byte{1})))
	_, ok := s.FWD(0, 0x100)
	assert.False(t, ok)
	assert.Empty(t, s.Checks())
	assert.True(t, s.Tick())
}

func TestSupervisor_CruiseGrantsControls(t *testing.T) {
	h := &stubHooks{}
	s, _ := newTestSupervisor(h)

	require.Equal(t, []uint16{0}, h.inits)
	assert.False(t, s.TX(canguard.MustFrame(0, 0x169, nil)))

	require.True(t, s.RX(cruiseFrame(true)))
	assert.True(t, s.ControlsAllowed())
	assert.True(t, s.Snapshot().CruiseEngaged)
	assert.True(t, s.TX(canguard.MustFrame(0, 0x169, nil)))

	dst, ok := s.FWD(0, 0x123)
	require.True(t, ok)
	assert.Equal(t, uint8(2), dst)
}

func TestSupervisor_LaggingSignalRevokesControls(t *testing.T) {
	s, clock := newTestSupervisor(&stubHooks{})

	require.True(t, s.RX(cruiseFrame(true)))
	clock.Advance(500 * time.Millisecond)
	assert.True(t, s.Tick())
	assert.True(t, s.ControlsAllowed())

	clock.Advance(2 * time.Second)
	assert.False(t, s.Tick())
	assert.False(t, s.ControlsAllowed())
	assert.Equal(t, []string{"cruise"}, s.Lagging())
	assert.False(t, s.RX(canguard.MustFrame(0, 0x100, []byte{1})), "bus untrusted while a signal lags")

	// The signal returning restores trust but not controls.
	assert.True(t, s.RX(cruiseFrame(true)))
	assert.False(t, s.ControlsAllowed())
}

func TestSupervisor_RelayMalfunctionLatches(t *testing.T) {
	h := &stubHooks{}
	s, clock := newTestSupervisor(h)
	echo := canguard.MustFrame(0, 0x169, make([]byte, 8))

	s.RX(echo)
	assert.False(t, s.RelayMalfunction(), "grace period right after init")

	for i := 0; i <= RelayTransitionTicks; i++ {
		s.RX(cruiseFrame(true))
		clock.Advance(100 * time.Millisecond)
		s.Tick()
	}
	s.RX(echo)
	require.True(t, s.RelayMalfunction())
	assert.False(t, s.TX(canguard.MustFrame(0, 0x169, nil)))
	_, ok := s.FWD(0, 0x123)
	assert.False(t, ok)

	s.SetHooks(h, 1)
	assert.False(t, s.RelayMalfunction())
	assert.Equal(t, []uint16{0, 1}, h.inits)
	_, param := s.Mode()
	assert.Equal(t, uint16(1), param)
}

func TestSupervisor_SetHooksResetsState(t *testing.T) {
	h := &stubHooks{}
	s, _ := newTestSupervisor(h)

	s.State().UpdateAngle(900)
	require.True(t, s.RX(cruiseFrame(true)))
	require.True(t, s.ControlsAllowed())

	s.SetHooks(h, 0)
	assert.False(t, s.ControlsAllowed())
	assert.Equal(t, Snapshot{}, s.Snapshot())
}

func TestSupervisor_ResetRestartsTiming(t *testing.T) {
	h := &stubHooks{}
	s, clock := newTestSupervisor(h)

	clock.Advance(5 * time.Second)
	require.False(t, s.Tick())

	s.Reset()
	assert.Equal(t, []uint16{0, 0}, h.inits)
	assert.True(t, s.Tick(), "signals count from the reset")
	assert.Empty(t, s.Lagging())
}

func TestSupervisor_ResetKeepsLatestHooks(t *testing.T) {
	h := &stubHooks{}
	s, _ := newTestSupervisor(h)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(2)
		go func(p uint16) {
			defer wg.Done()
			s.SetHooks(h, p)
		}(uint16(i))
		go func() {
			defer wg.Done()
			s.Reset()
		}()
	}
	wg.Wait()

	// Every init, including the resets, used the parameter in force at the
	// time, so the last one is what the supervisor now reports.
	_, param := s.Mode()
	require.Len(t, h.inits, 41)
	assert.Equal(t, param, h.inits[len(h.inits)-1])

	s.SetHooks(h, 7)
	s.Reset()
	_, param = s.Mode()
	assert.Equal(t, uint16(7), param)
}
