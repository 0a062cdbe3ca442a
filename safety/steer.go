package safety

// AngleChecker validates angle-based steering commands against
// SteeringLimits and remembers the previous command for rate limiting.
type AngleChecker struct {
	last int
}

// Last returns the previously checked command.
func (a *AngleChecker) Last() int { return a.last }

// Reset forgets the previous command.
func (a *AngleChecker) Reset() { a.last = 0 }

// Check reports whether desired (command units) violates limits given the
// current vehicle state and whether controls are allowed.
//
// While active and allowed the command may move from the previous one by at
// most the speed-indexed rate: the up-rate when moving away from zero, the
// down-rate when moving towards it. The slowest recent speed, less 1 m/s, is
// used so a fresh speed reading between commands cannot tighten the limit.
// While inactive the command must be zero or sit on the measured angle.
func (a *AngleChecker) Check(desired int, active bool, limits SteeringLimits, st *VehicleState, allowed bool) bool {
	violation := false

	if limits.MaxAngle > 0 && (desired > limits.MaxAngle || desired < -limits.MaxAngle) {
		violation = true
	}

	if allowed && active {
		speed := float64(st.Speed().Min())/VehicleSpeedFactor - 1
		up, down := limits.rateDeltas(speed)

		highest := a.last
		if a.last > 0 {
			highest += up
		} else {
			highest += down
		}
		lowest := a.last
		if a.last >= 0 {
			lowest -= down
		} else {
			lowest -= up
		}
		violation = violation || desired > highest || desired < lowest
	}
	a.last = desired

	if !active {
		if limits.InactiveAngleIsZero {
			violation = violation || desired != 0
		} else {
			angle := st.Angle()
			violation = violation || desired > angle.Max()+1 || desired < angle.Min()-1
		}
	}

	if !allowed && active {
		violation = true
	}
	return violation
}
