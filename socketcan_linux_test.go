//go:build linux

package canguard

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// socketPair returns a socketCAN over one end of a datagram socket pair and
// the raw descriptor of the other end.
func socketPair(t *testing.T) (*socketCAN, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("nonblock: %v", err)
	}
	t.Cleanup(func() { unix.Close(fds[1]) })
	return newSocketCAN(fds[0], 1, "socketcan:test"), fds[1]
}

func TestSocketCAN_ReceiveStampsBus(t *testing.T) {
	s, peer := socketPair(t)
	defer s.Close()

	want := MustFrame(0, 0x169, []byte{1, 2, 3})
	buf, err := want.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := unix.Write(peer, buf); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := s.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if got.Bus != 1 || got.ID != 0x169 || got.Len != 3 {
		t.Fatalf("unexpected frame %v", got)
	}
}

func TestSocketCAN_CloseWaitsForReceiver(t *testing.T) {
	s, _ := socketPair(t)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Receive(context.Background())
		errc <- err
	}()
	time.Sleep(2 * pollSlice)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("receiver still running after Close")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := s.Receive(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("receive after close: %v", err)
	}
	if err := s.Send(context.Background(), MustFrame(0, 1, nil)); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close: %v", err)
	}
}
