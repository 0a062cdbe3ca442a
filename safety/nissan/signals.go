package nissan

import (
	"errors"

	"github.com/notnil/canguard"
	"github.com/notnil/canguard/safety"
)

// Signal decoders. Each one assumes f carries at least minLen(f.ID) bytes;
// RX checks that before calling.

// SteerAngle returns the measured steering wheel angle in command units.
// The sensor reports 0.1 deg little-endian; commands use 0.01 deg.
func SteerAngle(f canguard.Frame) int {
	return int(int16(f.Bytes(0, 4)&0xFFFF)) * 10
}

// WheelSpeeds returns the raw rear wheel speeds, big-endian in bytes 0-3.
func WheelSpeeds(f canguard.Frame) (right, left uint16) {
	right = uint16(f.Byte(0))<<8 | uint16(f.Byte(1))
	left = uint16(f.Byte(2))<<8 | uint16(f.Byte(3))
	return right, left
}

// wheelSpeedKPH is the scale of one raw wheel speed count.
const wheelSpeedKPH = 0.005

// Speed converts raw wheel speeds to the vehicle speed sample unit
// (m/s * safety.VehicleSpeedFactor, rounded).
func Speed(right, left uint16) int {
	avg := (float64(right) + float64(left)) / 2.0
	return int(avg*wheelSpeedKPH/3.6*safety.VehicleSpeedFactor + 0.5)
}

// GasPressed decodes the accelerator pedal: a 10-bit position on the X-Trail
// (0x15c), a byte on the Leaf (0x239).
func GasPressed(f canguard.Frame) bool {
	if f.ID == AddrGasPedal {
		pos := uint16(f.Byte(5))<<2 | uint16(f.Byte(6)>>6&0x3)
		return pos > 3
	}
	return f.Byte(0) > 3
}

// BrakePressed decodes the brake switch: byte 2 bit 7 on the X-Trail
// (0x454), byte 4 bit 5 on the Leaf (0x239).
func BrakePressed(f canguard.Frame) bool {
	if f.ID == AddrDoorsLights {
		return f.Byte(2)&0x80 != 0
	}
	return f.Byte(4)>>5&1 != 0
}

// CruiseEngaged decodes the stock cruise engaged bit.
func CruiseEngaged(f canguard.Frame) bool {
	return f.Byte(0)>>3&1 != 0
}

// minLen is the payload size each decoder reads up to.
func minLen(addr uint32) uint8 {
	switch addr {
	case AddrSteerAngleSensor:
		return 2
	case AddrWheelSpeedsRear:
		return 4
	case AddrGasPedal:
		return 7
	case AddrGasPedalLeaf:
		return 5
	case AddrDoorsLights:
		return 3
	case AddrCruiseState:
		return 1
	case AddrCruiseThrottle:
		return 2
	case AddrLKAS:
		return 7
	}
	return 0
}

// Steering command layout (0x169):
//
//	byte 0      angle bits 17..10
//	byte 1      angle bits 9..2
//	byte 2 7..6 angle bits 1..0
//	byte 6 4    lane keeping active
//
// The 18-bit field is unsigned with an offset of 1310 deg.
const (
	steerAngleBits   = 18
	steerAngleOffset = 131000
	steerActiveMask  = 0x10

	// MinSteerAngle and MaxSteerAngle bound what the field can carry.
	MinSteerAngle = -steerAngleOffset
	MaxSteerAngle = 1<<steerAngleBits - 1 - steerAngleOffset
)

// ErrSteerAngleRange is returned when a command does not fit the field.
var ErrSteerAngleRange = errors.New("nissan: steering angle out of range")

// SteerCommand is a decoded lane keeping command.
type SteerCommand struct {
	Angle  int // command units (0.01 deg)
	Active bool
}

// DecodeSteerCommand extracts the command from an LKAS frame.
func DecodeSteerCommand(f canguard.Frame) SteerCommand {
	raw := int(f.Byte(0))<<10 | int(f.Byte(1))<<2 | int(f.Byte(2)>>6&0x3)
	return SteerCommand{
		Angle:  raw - steerAngleOffset,
		Active: f.Byte(6)&steerActiveMask != 0,
	}
}

// EncodeSteerCommand writes cmd into data, leaving all other bits alone.
func EncodeSteerCommand(data *[8]byte, cmd SteerCommand) error {
	if cmd.Angle < MinSteerAngle || cmd.Angle > MaxSteerAngle {
		return ErrSteerAngleRange
	}
	raw := cmd.Angle + steerAngleOffset
	data[0] = byte(raw >> 10)
	data[1] = byte(raw >> 2)
	data[2] = data[2]&0x3F | byte(raw&0x3)<<6
	if cmd.Active {
		data[6] |= steerActiveMask
	} else {
		data[6] &^= steerActiveMask
	}
	return nil
}
