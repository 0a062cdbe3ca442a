// Package slcan talks to serial-line CAN adapters (CANable, CANtact, USBtin
// and other LAWICEL-compatible devices).
//
// Commands and frames are ASCII terminated by '\r':
//
//	S6        set bitrate (index into a fixed table, 6 = 500 kbit/s)
//	O / C     open / close the channel
//	t1692AABB standard data frame: id 0x169, 2 bytes
//	T1ABCDEF00 extended data frame, no data
//	r1690     standard remote frame
//	R1ABCDEF02 extended remote frame, dlc 2
//
// Received frames may carry a 4-hex-digit millisecond timestamp suffix. The
// device answers commands with '\r' (ok) or '\a' (error) and acknowledges
// transmitted frames with "z" or "Z".
package slcan

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/notnil/canguard"
)

// ErrMalformed is wrapped by every decode error.
var ErrMalformed = errors.New("slcan: malformed message")

// NoTimestamp is returned by DecodeFrame when the message has no timestamp.
const NoTimestamp = -1

var bitrates = []int{10_000, 20_000, 50_000, 100_000, 125_000, 250_000, 500_000, 800_000, 1_000_000}

// BitrateCommand returns the S command for bitrate in bit/s.
func BitrateCommand(bitrate int) (string, error) {
	for i, b := range bitrates {
		if b == bitrate {
			return "S" + strconv.Itoa(i) + "\r", nil
		}
	}
	return "", fmt.Errorf("slcan: unsupported bitrate %d", bitrate)
}

// EncodeFrame renders f as an slcan transmit command including the
// terminating '\r'. f.Bus is ignored.
func EncodeFrame(f canguard.Frame) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	var b strings.Builder
	switch {
	case f.Extended && f.RTR:
		b.WriteByte('R')
	case f.Extended:
		b.WriteByte('T')
	case f.RTR:
		b.WriteByte('r')
	default:
		b.WriteByte('t')
	}
	if f.Extended {
		fmt.Fprintf(&b, "%08X", f.ID)
	} else {
		fmt.Fprintf(&b, "%03X", f.ID)
	}
	b.WriteByte('0' + f.Len)
	if !f.RTR {
		fmt.Fprintf(&b, "%X", f.Payload())
	}
	b.WriteByte('\r')
	return b.String(), nil
}

// DecodeFrame parses a received frame message without its terminator. It
// returns the frame and the device timestamp in milliseconds, or
// NoTimestamp.
func DecodeFrame(msg string) (canguard.Frame, int, error) {
	var f canguard.Frame
	if msg == "" {
		return f, NoTimestamp, fmt.Errorf("%w: empty", ErrMalformed)
	}
	idLen := 3
	switch msg[0] {
	case 't':
	case 'T':
		f.Extended, idLen = true, 8
	case 'r':
		f.RTR = true
	case 'R':
		f.Extended, f.RTR, idLen = true, true, 8
	default:
		return f, NoTimestamp, fmt.Errorf("%w: unknown type %q", ErrMalformed, msg[0])
	}
	if len(msg) < 1+idLen+1 {
		return f, NoTimestamp, fmt.Errorf("%w: %q too short", ErrMalformed, msg)
	}
	id, err := strconv.ParseUint(msg[1:1+idLen], 16, 32)
	if err != nil {
		return f, NoTimestamp, fmt.Errorf("%w: id in %q", ErrMalformed, msg)
	}
	f.ID = uint32(id)

	dlc := msg[1+idLen]
	if dlc < '0' || dlc > '8' {
		return f, NoTimestamp, fmt.Errorf("%w: dlc in %q", ErrMalformed, msg)
	}
	f.Len = dlc - '0'

	rest := msg[2+idLen:]
	if !f.RTR {
		n := 2 * int(f.Len)
		if len(rest) < n {
			return f, NoTimestamp, fmt.Errorf("%w: %q shorter than dlc", ErrMalformed, msg)
		}
		for i := 0; i < int(f.Len); i++ {
			v, err := strconv.ParseUint(rest[2*i:2*i+2], 16, 8)
			if err != nil {
				return f, NoTimestamp, fmt.Errorf("%w: data in %q", ErrMalformed, msg)
			}
			f.Data[i] = byte(v)
		}
		rest = rest[n:]
	}

	stamp := NoTimestamp
	switch len(rest) {
	case 0:
	case 4:
		v, err := strconv.ParseUint(rest, 16, 16)
		if err != nil {
			return f, NoTimestamp, fmt.Errorf("%w: timestamp in %q", ErrMalformed, msg)
		}
		stamp = int(v)
	default:
		return f, NoTimestamp, fmt.Errorf("%w: trailing %q", ErrMalformed, rest)
	}

	if err := f.Validate(); err != nil {
		return f, NoTimestamp, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return f, stamp, nil
}

// scanMessages splits the device stream into messages: '\r' terminates a
// message and is dropped, '\a' terminates an error reply and is kept.
func scanMessages(data []byte, atEOF bool) (int, []byte, error) {
	for i, b := range data {
		switch b {
		case '\r':
			return i + 1, data[:i], nil
		case '\a':
			return i + 1, data[:i+1], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
