package canguard

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Frame represents a classical CAN (2.0A/2.0B) frame as seen on one of the
// gateway's buses.
//
// Bus is the logical bus index assigned by whoever received the frame (0 is
// the vehicle side, 2 the driving-assist side on a three-bus harness). It is
// not part of the wire format.
type Frame struct {
	Bus      uint8
	ID       uint32 // 11-bit (std) or 29-bit (ext)
	Extended bool   // true for 29-bit identifier
	RTR      bool   // remote transmission request
	Len      uint8  // 0..8
	Data     [8]byte
}

// Validation limits.
const (
	maxStdID = 0x7FF
	maxExtID = 0x1FFFFFFF
)

var (
	ErrInvalidID  = errors.New("canguard: invalid identifier")
	ErrInvalidLen = errors.New("canguard: invalid data length")
)

// Validate returns an error if the frame is not valid.
func (f Frame) Validate() error {
	if f.Len > 8 {
		return ErrInvalidLen
	}
	limit := uint32(maxStdID)
	if f.Extended {
		limit = maxExtID
	}
	if f.ID > limit {
		return ErrInvalidID
	}
	return nil
}

// MustFrame constructs a Frame on the given bus and panics if invalid.
// Identifiers above 0x7FF are treated as extended.
func MustFrame(bus uint8, id uint32, data []byte) Frame {
	if len(data) > 8 {
		panic(ErrInvalidLen)
	}
	f := Frame{Bus: bus, ID: id, Extended: id > maxStdID, Len: uint8(len(data))}
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		panic(err)
	}
	return f
}

// Payload returns the valid portion of Data.
func (f Frame) Payload() []byte {
	n := int(f.Len)
	if n > 8 {
		n = 8
	}
	return f.Data[:n]
}

// Byte returns payload byte i. Out of range indexes read as zero so policy
// code stays branch-free on short frames; callers match lengths first.
func (f Frame) Byte(i int) uint8 {
	if i < 0 || i >= len(f.Data) {
		return 0
	}
	return f.Data[i]
}

// Bytes returns n (at most 4) payload bytes starting at start, assembled
// little-endian: Data[start] is the least significant byte.
func (f Frame) Bytes(start, n int) uint32 {
	if n > 4 {
		n = 4
	}
	var v uint32
	for i := 0; i < n; i++ {
		v |= uint32(f.Byte(start+i)) << (8 * i)
	}
	return v
}

// String renders the frame as "ID [len] XX XX ..", prefixed with the bus
// index. RTR frames show "RTR" instead of data.
func (f Frame) String() string {
	var b strings.Builder
	if f.Extended {
		fmt.Fprintf(&b, "%d:%08X [%d]", f.Bus, f.ID, f.Len)
	} else {
		fmt.Fprintf(&b, "%d:%03X [%d]", f.Bus, f.ID, f.Len)
	}
	if f.RTR {
		b.WriteString(" RTR")
		return b.String()
	}
	for _, d := range f.Payload() {
		fmt.Fprintf(&b, " %02X", d)
	}
	return b.String()
}

// SocketCAN can_id flags and masks.
const (
	canEffFlag = 0x80000000
	canRtrFlag = 0x40000000
	canEffMask = 0x1FFFFFFF
	canStdMask = 0x7FF
)

// MarshalBinary encodes the frame to the Linux SocketCAN "struct can_frame"
// layout (16 bytes). The bus index is not encoded.
//
// Layout (little-endian):
//
//	0..3  can_id (with flags: EFF/RTR/ERR)
//	4     can_dlc (data length code)
//	5..7  padding (set to zero)
//	8..15 data bytes
func (f Frame) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	id := f.ID
	if f.Extended {
		id |= canEffFlag
	}
	if f.RTR {
		id |= canRtrFlag
	}
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = f.Len
	copy(buf[8:16], f.Data[:])
	return buf, nil
}

// UnmarshalBinary decodes a frame from the Linux SocketCAN can_frame layout.
// The bus index is left untouched.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < 16 {
		return fmt.Errorf("canguard: need 16 bytes, got %d", len(data))
	}
	id := binary.LittleEndian.Uint32(data[0:4])
	f.Extended = id&canEffFlag != 0
	f.RTR = id&canRtrFlag != 0
	if f.Extended {
		f.ID = id & canEffMask
	} else {
		f.ID = id & canStdMask
	}
	f.Len = data[4]
	copy(f.Data[:], data[8:16])
	return f.Validate()
}
