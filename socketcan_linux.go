//go:build linux

package canguard

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// socketCAN implements Bus over a Linux raw CAN socket.
//
// Send and Receive hold mu for reading while they use fd; Close takes it
// for writing, so the descriptor is only released once no call can still
// reach it.
type socketCAN struct {
	mu        sync.RWMutex
	fd        int
	bus       uint8
	file      *os.File
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// pollSlice bounds a single poll(2) wait so context cancellation without a
// deadline is still noticed.
const pollSlice = 50 * time.Millisecond

// DialSocketCAN opens a raw CAN socket bound to the given interface name
// (e.g. "can0"). Received frames are stamped with the bus index.
func DialSocketCAN(iface string, bus uint8) (Bus, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, err
	}
	netIf, err := net.InterfaceByName(iface)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: netIf.Index}); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return newSocketCAN(fd, bus, "socketcan:"+iface), nil
}

// newSocketCAN takes ownership of a non-blocking socket.
func newSocketCAN(fd int, bus uint8, name string) *socketCAN {
	return &socketCAN{
		fd:     fd,
		bus:    bus,
		file:   os.NewFile(uintptr(fd), name),
		closed: make(chan struct{}),
	}
}

// Close unblocks pending calls, waits for them to return, then closes the
// socket.
func (s *socketCAN) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closeErr = s.file.Close()
	})
	return s.closeErr
}

// acquire pins the descriptor for one call.
func (s *socketCAN) acquire() error {
	s.mu.RLock()
	select {
	case <-s.closed:
		s.mu.RUnlock()
		return ErrClosed
	default:
		return nil
	}
}

// Send writes one frame using the Linux can_frame binary layout.
func (s *socketCAN) Send(ctx context.Context, frame Frame) error {
	buf, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.mu.RUnlock()
	for {
		n, werr := unix.Write(s.fd, buf)
		if werr == nil {
			if n != len(buf) {
				return errors.New("canguard: short write")
			}
			return nil
		}
		if werr != unix.EAGAIN {
			return werr
		}
		if err := s.wait(ctx, unix.POLLOUT); err != nil {
			return err
		}
	}
}

// Receive reads one frame, blocking until one arrives or ctx is done.
func (s *socketCAN) Receive(ctx context.Context) (Frame, error) {
	if err := s.acquire(); err != nil {
		return Frame{}, err
	}
	defer s.mu.RUnlock()
	buf := make([]byte, 16)
	for {
		n, rerr := unix.Read(s.fd, buf)
		if rerr == nil {
			if n != len(buf) {
				return Frame{}, errors.New("canguard: short read")
			}
			f := Frame{Bus: s.bus}
			if err := f.UnmarshalBinary(buf); err != nil {
				return Frame{}, err
			}
			return f, nil
		}
		if rerr != unix.EAGAIN {
			return Frame{}, rerr
		}
		if err := s.wait(ctx, unix.POLLIN); err != nil {
			return Frame{}, err
		}
	}
}

func (s *socketCAN) wait(ctx context.Context, events int16) error {
	for {
		select {
		case <-s.closed:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		timeout := pollSlice
		if deadline, ok := ctx.Deadline(); ok {
			if d := time.Until(deadline); d < timeout {
				if d <= 0 {
					return context.DeadlineExceeded
				}
				timeout = d
			}
		}
		fds := []unix.PollFd{{Fd: int32(s.fd), Events: events}}
		n, err := unix.Poll(fds, int(timeout/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
	}
}
