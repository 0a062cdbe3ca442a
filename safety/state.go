package safety

import "sync"

// VehicleState is the snapshot of vehicle quantities derived from received
// frames. RX hooks are the only writers; TX hooks and telemetry read it, so
// every accessor takes the lock.
type VehicleState struct {
	mu sync.RWMutex

	angle  Sample // measured steering angle, command units
	speed  Sample // vehicle speed, m/s * VehicleSpeedFactor
	moving bool
	gas    bool
	brake  bool
	cruise bool
}

// Snapshot is a point-in-time copy of VehicleState.
type Snapshot struct {
	AngleLast     int  `cbor:"angle_last"`
	AngleMin      int  `cbor:"angle_min"`
	AngleMax      int  `cbor:"angle_max"`
	SpeedLast     int  `cbor:"speed_last"`
	SpeedMin      int  `cbor:"speed_min"`
	SpeedMax      int  `cbor:"speed_max"`
	Moving        bool `cbor:"moving"`
	GasPressed    bool `cbor:"gas_pressed"`
	BrakePressed  bool `cbor:"brake_pressed"`
	CruiseEngaged bool `cbor:"cruise_engaged"`
}

// UpdateAngle records a measured steering angle.
func (s *VehicleState) UpdateAngle(v int) {
	s.mu.Lock()
	s.angle.Update(v)
	s.mu.Unlock()
}

// UpdateSpeed records a vehicle speed reading.
func (s *VehicleState) UpdateSpeed(v int) {
	s.mu.Lock()
	s.speed.Update(v)
	s.mu.Unlock()
}

// SetMoving records whether any wheel is turning.
func (s *VehicleState) SetMoving(v bool) {
	s.mu.Lock()
	s.moving = v
	s.mu.Unlock()
}

// SetGas records the gas pedal state.
func (s *VehicleState) SetGas(v bool) {
	s.mu.Lock()
	s.gas = v
	s.mu.Unlock()
}

// SetBrake records the brake pedal state.
func (s *VehicleState) SetBrake(v bool) {
	s.mu.Lock()
	s.brake = v
	s.mu.Unlock()
}

// SetCruiseEngaged records the stock cruise state.
func (s *VehicleState) SetCruiseEngaged(v bool) {
	s.mu.Lock()
	s.cruise = v
	s.mu.Unlock()
}

// Angle returns a copy of the measured angle sample.
func (s *VehicleState) Angle() Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.angle
}

// Speed returns a copy of the speed sample.
func (s *VehicleState) Speed() Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speed
}

// Moving reports whether the last wheel speed reading was nonzero.
func (s *VehicleState) Moving() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.moving
}

// GasPressed reports the last gas pedal state.
func (s *VehicleState) GasPressed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gas
}

// BrakePressed reports the last brake pedal state.
func (s *VehicleState) BrakePressed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.brake
}

// CruiseEngaged reports the last stock cruise state.
func (s *VehicleState) CruiseEngaged() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cruise
}

// Reset returns the state to its power-on values.
func (s *VehicleState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.angle.Reset()
	s.speed.Reset()
	s.moving, s.gas, s.brake, s.cruise = false, false, false, false
}

// Snapshot copies the state under a single lock acquisition.
func (s *VehicleState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		AngleLast:     s.angle.Last(),
		AngleMin:      s.angle.Min(),
		AngleMax:      s.angle.Max(),
		SpeedLast:     s.speed.Last(),
		SpeedMin:      s.speed.Min(),
		SpeedMax:      s.speed.Max(),
		Moving:        s.moving,
		GasPressed:    s.gas,
		BrakePressed:  s.brake,
		CruiseEngaged: s.cruise,
	}
}
