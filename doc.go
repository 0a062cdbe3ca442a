// Package canguard provides the CAN plumbing for a steering-assist safety
// gateway: a Frame type that remembers which bus it was seen on, a Bus
// interface with context-aware Send/Receive, and a handful of transports.
//
// It includes:
//   - Frame with validation, payload accessors and SocketCAN binary layout
//   - An in-memory loopback bus for tests and simulations
//   - Composable FrameFilter helpers
//   - A slog decorator that logs bus traffic
//   - A Linux SocketCAN driver (linux-only) built on golang.org/x/sys/unix
//
// The safety policy itself lives in the safety package and its per-vehicle
// subpackages; the gateway package wires buses to a policy.
package canguard
