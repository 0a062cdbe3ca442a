// Package candump reads and writes the log file format of can-utils
// (`candump -l`, or `candump -L` on stdout):
//
//	(1700000000.123456) can0 169#0011223344556677
//	(1700000000.223456) can0 1ABCDEF0#DEAD
//	(1700000000.323456) can1 123#R
//
// Three-digit IDs are standard frames and eight-digit IDs are extended.
package candump

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/notnil/canguard"
)

// ErrSyntax is wrapped by every parse error.
var ErrSyntax = errors.New("candump: syntax error")

// Record is one logged frame.
type Record struct {
	Time  time.Time // zero when the line carries no timestamp
	Iface string
	Frame canguard.Frame
}

// ParseLine parses a single log line. The timestamp is optional; the
// interface name is required.
func ParseLine(line string) (Record, error) {
	var rec Record
	line = strings.TrimSpace(line)

	if strings.HasPrefix(line, "(") {
		end := strings.Index(line, ")")
		if end < 0 {
			return rec, fmt.Errorf("%w: unterminated timestamp", ErrSyntax)
		}
		ts, err := parseTimestamp(line[1:end])
		if err != nil {
			return rec, err
		}
		rec.Time = ts
		line = strings.TrimSpace(line[end+1:])
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return rec, fmt.Errorf("%w: want \"iface ID#DATA\", got %q", ErrSyntax, line)
	}
	rec.Iface = fields[0]

	f, err := parseFrame(fields[1])
	if err != nil {
		return rec, err
	}
	rec.Frame = f
	return rec, nil
}

func parseTimestamp(s string) (time.Time, error) {
	sec, frac, _ := strings.Cut(s, ".")
	secs, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrSyntax, s)
	}
	var nanos int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		n, err := strconv.ParseUint(frac, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrSyntax, s)
		}
		nanos = int64(n) * int64(math.Pow10(9-len(frac)))
	}
	return time.Unix(secs, nanos), nil
}

func parseFrame(s string) (canguard.Frame, error) {
	var f canguard.Frame
	idPart, dataPart, ok := strings.Cut(s, "#")
	if !ok {
		return f, fmt.Errorf("%w: no # separator in %q", ErrSyntax, s)
	}
	if len(idPart) != 3 && len(idPart) != 8 {
		return f, fmt.Errorf("%w: id %q must be 3 or 8 hex digits", ErrSyntax, idPart)
	}
	id, err := strconv.ParseUint(idPart, 16, 32)
	if err != nil {
		return f, fmt.Errorf("%w: id %q", ErrSyntax, idPart)
	}
	f.ID = uint32(id)
	f.Extended = len(idPart) == 8

	if strings.HasPrefix(dataPart, "R") {
		f.RTR = true
		if n := dataPart[1:]; n != "" {
			l, err := strconv.ParseUint(n, 10, 8)
			if err != nil {
				return f, fmt.Errorf("%w: rtr length %q", ErrSyntax, n)
			}
			f.Len = uint8(l)
		}
	} else {
		dataPart = strings.ReplaceAll(dataPart, ".", "")
		payload, err := hex.DecodeString(dataPart)
		if err != nil {
			return f, fmt.Errorf("%w: payload %q", ErrSyntax, dataPart)
		}
		if len(payload) > 8 {
			return f, fmt.Errorf("%w: payload longer than 8 bytes", ErrSyntax)
		}
		f.Len = uint8(len(payload))
		copy(f.Data[:], payload)
	}

	if err := f.Validate(); err != nil {
		return f, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return f, nil
}

// FormatLine renders rec the way ParseLine reads it, without a trailing
// newline. A zero Time omits the timestamp.
func FormatLine(rec Record) string {
	var b strings.Builder
	if !rec.Time.IsZero() {
		fmt.Fprintf(&b, "(%d.%06d) ", rec.Time.Unix(), rec.Time.Nanosecond()/1000)
	}
	b.WriteString(rec.Iface)
	b.WriteByte(' ')
	f := rec.Frame
	if f.Extended {
		fmt.Fprintf(&b, "%08X#", f.ID)
	} else {
		fmt.Fprintf(&b, "%03X#", f.ID)
	}
	if f.RTR {
		b.WriteByte('R')
		if f.Len > 0 {
			b.WriteString(strconv.Itoa(int(f.Len)))
		}
		return b.String()
	}
	b.WriteString(strings.ToUpper(hex.EncodeToString(f.Payload())))
	return b.String()
}

// Reader iterates over the records of a log, skipping blank lines and
// lines starting with '#'.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{sc: bufio.NewScanner(r)}
}

// Read returns the next record, or io.EOF at the end of the log. Parse
// errors carry the line number.
func (r *Reader) Read() (Record, error) {
	for r.sc.Scan() {
		r.line++
		text := strings.TrimSpace(r.sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		rec, err := ParseLine(text)
		if err != nil {
			return rec, fmt.Errorf("line %d: %w", r.line, err)
		}
		return rec, nil
	}
	if err := r.sc.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, io.EOF
}
