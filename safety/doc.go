// Package safety holds the vehicle-independent half of the steering-assist
// safety layer: the bookkeeping every per-vehicle policy leans on and the
// Supervisor that owns it.
//
// A vehicle policy implements Hooks. The Supervisor initialises it once per
// session, keeps the shared state (VehicleState, Controls, the address/timing
// RxChecker and the steering AngleChecker) in an Env, and passes that Env to
// every RX and TX call. FWD decisions are pure functions of bus and address.
//
// Every hook answers with a boolean. Nothing here logs per frame, returns
// errors or blocks; the host runtime decides what to do with repeated
// rejections.
package safety
