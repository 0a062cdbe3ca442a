package replay

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notnil/canguard"
	"github.com/notnil/canguard/candump"
	"github.com/notnil/canguard/internal/timeutil"
	"github.com/notnil/canguard/safety"
	"github.com/notnil/canguard/safety/nissan"
)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func line(b *strings.Builder, ts time.Time, iface string, f canguard.Frame) {
	b.WriteString(candump.FormatLine(candump.Record{Time: ts, Iface: iface, Frame: f}))
	b.WriteByte('\n')
}

func steer(t *testing.T, angle int) canguard.Frame {
	t.Helper()
	var data [8]byte
	require.NoError(t, nissan.EncodeSteerCommand(&data, nissan.SteerCommand{Angle: angle, Active: true}))
	return canguard.MustFrame(0, nissan.AddrLKAS, data[:])
}

// drive builds three seconds of X-Trail traffic with cruise engaging at 1s
// and three steering commands from the device at 1.5s.
func drive(t *testing.T) string {
	t0 := time.Unix(1_700_000_000, 0)
	var b strings.Builder
	b.WriteString("# bench capture\n")
	for i := 0; i < 60; i++ {
		ts := t0.Add(time.Duration(i) * 50 * time.Millisecond)
		line(&b, ts, "can0", canguard.MustFrame(0, nissan.AddrSteerAngleSensor, make([]byte, 5)))
		line(&b, ts, "can0", canguard.MustFrame(0, nissan.AddrWheelSpeedsRear, make([]byte, 8)))
		line(&b, ts, "can0", canguard.MustFrame(0, nissan.AddrGasPedal, make([]byte, 8)))
		line(&b, ts, "can0", canguard.MustFrame(0, nissan.AddrDoorsLights, make([]byte, 8)))
		var cruise byte
		if i >= 20 {
			cruise = 0x08
		}
		line(&b, ts, "can2", canguard.MustFrame(2, nissan.AddrCruiseState, []byte{cruise, 0, 0}))

		switch i {
		case 30:
			line(&b, ts, "tx0", steer(t, 300))
		case 31:
			line(&b, ts, "tx0", steer(t, 400))
		case 32:
			line(&b, ts, "tx0", steer(t, 2000))
		}
	}
	b.WriteString("can9 123#00\n")
	return b.String()
}

func TestRunDrive(t *testing.T) {
	clock := timeutil.NewManualClock(time.Unix(0, 0))
	sup := safety.NewSupervisor(nissan.New(), 0, safety.WithClock(clock), safety.WithLogger(discard()))

	res, err := Run(strings.NewReader(drive(t)), sup, clock, Options{
		Interfaces:   map[string]uint8{"can0": 0, "can2": 2},
		TXInterfaces: map[string]uint8{"tx0": 0},
	})
	require.NoError(t, err)

	assert.Equal(t, 303, res.Frames)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Invalid)
	assert.Equal(t, 300, res.Forwarded)
	assert.Equal(t, 2, res.Transmitted)
	require.Len(t, res.Blocked, 1)
	assert.Equal(t, 2000, nissan.DecodeSteerCommand(res.Blocked[0].Frame).Angle)
	assert.Equal(t, 2, res.Ticks)
	assert.Equal(t, 0, res.Unhealthy)
	assert.Equal(t, 1, res.Engagements)
	assert.False(t, res.RelayFault)
}

func TestRunDetectsSilence(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	var b strings.Builder
	line(&b, t0, "can2", canguard.MustFrame(2, nissan.AddrCruiseState, []byte{0x08, 0, 0}))
	line(&b, t0.Add(5*time.Second), "can2", canguard.MustFrame(2, nissan.AddrCruiseState, []byte{0x08, 0, 0}))

	clock := timeutil.NewManualClock(t0)
	sup := safety.NewSupervisor(nissan.New(), 0, safety.WithClock(clock), safety.WithLogger(discard()))
	res, err := Run(strings.NewReader(b.String()), sup, clock, Options{Interfaces: map[string]uint8{"can2": 2}})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Ticks)
	assert.Equal(t, 4, res.Unhealthy, "every tick after the first second")
	assert.Equal(t, 1, res.Invalid, "frame arriving while the other signals lag")
	assert.Equal(t, 1, res.Engagements)
	assert.False(t, sup.ControlsAllowed())
}

func TestRunSyntaxError(t *testing.T) {
	clock := timeutil.NewManualClock(time.Unix(0, 0))
	sup := safety.NewSupervisor(nil, 0, safety.WithClock(clock), safety.WithLogger(discard()))
	_, err := Run(strings.NewReader("(1.0) can0 zzz\n"), sup, clock, Options{})
	assert.ErrorIs(t, err, candump.ErrSyntax)
}
