package safety

import "errors"

// VehicleSpeedFactor scales m/s into the integer units kept in the speed
// sample.
const VehicleSpeedFactor = 100

// SteeringLimits bounds angle-based steering commands.
type SteeringLimits struct {
	// AngleDegToCAN converts degrees into command units.
	AngleDegToCAN float64

	// AngleRateUp and AngleRateDown map speed (m/s) to the largest change
	// in degrees per command when moving away from / towards zero.
	AngleRateUp   Lookup
	AngleRateDown Lookup

	// MaxAngle is the largest command magnitude in command units. Zero
	// disables the check.
	MaxAngle int

	// InactiveAngleIsZero requires a zero command while lane keeping is
	// inactive; otherwise the command must track the measured angle.
	InactiveAngleIsZero bool
}

// Validate checks the invariants policies rely on.
func (l SteeringLimits) Validate() error {
	if l.AngleDegToCAN <= 0 {
		return errors.New("safety: steering limits: non-positive angle scale")
	}
	if l.MaxAngle < 0 {
		return errors.New("safety: steering limits: negative max angle")
	}
	if !l.AngleRateUp.NonIncreasing() || !l.AngleRateDown.NonIncreasing() {
		return errors.New("safety: steering limits: rate tables must not rise with speed")
	}
	return nil
}

// rateDeltas returns the allowed up/down change per command at speed (m/s),
// in command units. One unit is added so a command exactly on the limit is
// never rejected by rounding.
func (l SteeringLimits) rateDeltas(speed float64) (up, down int) {
	up = int(l.AngleRateUp.At(speed)*l.AngleDegToCAN + 1)
	down = int(l.AngleRateDown.At(speed)*l.AngleDegToCAN + 1)
	return up, down
}
