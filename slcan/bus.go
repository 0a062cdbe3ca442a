package slcan

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/notnil/canguard"
)

// Options configures an adapter.
type Options struct {
	// Bitrate of the CAN bus in bit/s. Defaults to 500000.
	Bitrate int
	// BaudRate of the serial link. Ignored by USB CDC devices. Defaults to
	// 115200.
	BaudRate int
	// Bus is stamped on every received frame.
	Bus uint8
	// Timestamps asks the device to append millisecond timestamps.
	Timestamps bool
	// Logger receives device errors and skipped messages. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

func (o Options) normalize() Options {
	if o.Bitrate == 0 {
		o.Bitrate = 500_000
	}
	if o.BaudRate <= 0 {
		o.BaudRate = 115200
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Mode returns the serial settings for opening the port.
func (o Options) Mode() *serial.Mode {
	o = o.normalize()
	return &serial.Mode{
		BaudRate: o.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Bus is a canguard.Bus over an slcan adapter.
type Bus struct {
	rw     io.ReadWriteCloser
	opts   Options
	logger *slog.Logger

	wmu    sync.Mutex
	frames chan canguard.Frame
	done   chan struct{}
	err    error // set before done is closed

	closeOnce sync.Once
}

var _ canguard.Bus = (*Bus)(nil)

// Open opens the serial device at path and starts the CAN channel.
func Open(path string, opts Options) (*Bus, error) {
	port, err := serial.Open(path, opts.Mode())
	if err != nil {
		return nil, fmt.Errorf("slcan: open %s: %w", path, err)
	}
	b, err := New(port, opts)
	if err != nil {
		port.Close()
		return nil, err
	}
	return b, nil
}

// New starts the CAN channel on an already open device link. The Bus owns
// rw and closes it on Close.
func New(rw io.ReadWriteCloser, opts Options) (*Bus, error) {
	opts = opts.normalize()
	setBitrate, err := BitrateCommand(opts.Bitrate)
	if err != nil {
		return nil, err
	}
	b := &Bus{
		rw:     rw,
		opts:   opts,
		logger: opts.Logger.With("bus", int(opts.Bus)),
		frames: make(chan canguard.Frame, 256),
		done:   make(chan struct{}),
	}

	// Close first in case a previous session left the channel open.
	cmds := []string{"C\r", setBitrate}
	if opts.Timestamps {
		cmds = append(cmds, "Z1\r")
	} else {
		cmds = append(cmds, "Z0\r")
	}
	cmds = append(cmds, "O\r")
	for _, c := range cmds {
		if err := b.write(c); err != nil {
			return nil, fmt.Errorf("slcan: init %q: %w", strings.TrimSuffix(c, "\r"), err)
		}
	}

	go b.readLoop()
	return b, nil
}

func (b *Bus) write(s string) error {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	_, err := io.WriteString(b.rw, s)
	return err
}

func (b *Bus) readLoop() {
	sc := bufio.NewScanner(b.rw)
	sc.Split(scanMessages)
	for sc.Scan() {
		msg := strings.TrimLeft(sc.Text(), "\n")
		switch {
		case msg == "", msg == "z", msg == "Z":
			// command or transmit acknowledgement
		case strings.HasSuffix(msg, "\a"):
			b.logger.Warn("slcan device error")
		default:
			f, _, err := DecodeFrame(msg)
			if err != nil {
				b.logger.Debug("slcan skipped message", "msg", msg, "error", err)
				continue
			}
			f.Bus = b.opts.Bus
			select {
			case b.frames <- f:
			case <-b.done:
				return
			}
		}
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	b.shutdown(err)
}

func (b *Bus) shutdown(err error) {
	b.closeOnce.Do(func() {
		b.err = err
		close(b.done)
	})
}

// Send transmits f. The frame's Bus field is ignored.
func (b *Bus) Send(ctx context.Context, f canguard.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-b.done:
		return canguard.ErrClosed
	default:
	}
	cmd, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	return b.write(cmd)
}

// Receive returns the next frame. Once the link fails or is closed it
// returns an error wrapping canguard.ErrClosed.
func (b *Bus) Receive(ctx context.Context) (canguard.Frame, error) {
	select {
	case f := <-b.frames:
		return f, nil
	default:
	}
	select {
	case f := <-b.frames:
		return f, nil
	case <-b.done:
		if b.err != nil && b.err != canguard.ErrClosed && b.err != io.EOF {
			return canguard.Frame{}, fmt.Errorf("%w: %v", canguard.ErrClosed, b.err)
		}
		return canguard.Frame{}, canguard.ErrClosed
	case <-ctx.Done():
		return canguard.Frame{}, ctx.Err()
	}
}

// Close stops the CAN channel and closes the device link.
func (b *Bus) Close() error {
	select {
	case <-b.done:
		return nil
	default:
	}
	werr := b.write("C\r")
	b.shutdown(canguard.ErrClosed)
	if err := b.rw.Close(); err != nil {
		return err
	}
	return werr
}
