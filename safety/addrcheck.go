package safety

import (
	"time"

	"github.com/notnil/canguard"
)

// MaxMissedMsgs is how many expected periods a signal may go quiet before it
// counts as lagging.
const MaxMissedMsgs = 10

// minLagThreshold is the floor on the lagging threshold.
const minLagThreshold = time.Second

// MsgProfile is one way a signal can show up on the bus.
type MsgProfile struct {
	Addr   uint32
	Bus    uint8
	Len    uint8
	Period time.Duration
}

// AddrCheck groups the variants of one logical signal. The first variant
// observed is locked in for the session; the others are ignored afterwards.
type AddrCheck struct {
	Name     string
	Variants []MsgProfile
}

type checkStatus struct {
	seen    bool
	variant int
	last    time.Time
	lagging bool
}

// RxChecker tracks arrival of the signals a policy depends on. It is not safe
// for concurrent use; the Supervisor serialises access.
type RxChecker struct {
	checks []AddrCheck
	status []checkStatus
}

// NewRxChecker starts tracking checks as of now. Signals that never arrive
// become lagging once their threshold has passed since now.
func NewRxChecker(checks []AddrCheck, now time.Time) *RxChecker {
	c := &RxChecker{
		checks: checks,
		status: make([]checkStatus, len(checks)),
	}
	for i := range c.status {
		c.status[i].last = now
	}
	return c
}

// Check records the arrival of f and reports whether it may be acted on:
// false if f carries a tracked address on a tracked bus with the wrong
// length, or if any tracked signal is currently lagging.
func (c *RxChecker) Check(f canguard.Frame, now time.Time) bool {
	idx, malformed := c.match(f)
	if idx >= 0 {
		st := &c.status[idx]
		st.last = now
		st.lagging = false
	}
	if malformed {
		return false
	}
	for _, st := range c.status {
		if st.lagging {
			return false
		}
	}
	return true
}

func (c *RxChecker) match(f canguard.Frame) (idx int, malformed bool) {
	for i, chk := range c.checks {
		for j, v := range chk.Variants {
			if v.Addr != f.ID || v.Bus != f.Bus {
				continue
			}
			if v.Len != f.Len {
				malformed = true
				continue
			}
			st := &c.status[i]
			if !st.seen {
				st.seen = true
				st.variant = j
			}
			if st.variant == j {
				return i, false
			}
		}
	}
	return -1, malformed
}

// Tick re-evaluates every signal's lagging flag and reports whether all of
// them are fresh.
func (c *RxChecker) Tick(now time.Time) bool {
	healthy := true
	for i, chk := range c.checks {
		st := &c.status[i]
		if len(chk.Variants) == 0 {
			continue
		}
		threshold := chk.Variants[st.variant].Period * MaxMissedMsgs
		if threshold < minLagThreshold {
			threshold = minLagThreshold
		}
		st.lagging = now.Sub(st.last) > threshold
		if st.lagging {
			healthy = false
		}
	}
	return healthy
}

// Lagging returns the names of signals flagged by the last Tick.
func (c *RxChecker) Lagging() []string {
	var names []string
	for i, st := range c.status {
		if st.lagging {
			names = append(names, c.checks[i].Name)
		}
	}
	return names
}

// Locked returns the variant locked in for check i, if any has been seen.
func (c *RxChecker) Locked(i int) (MsgProfile, bool) {
	if i < 0 || i >= len(c.checks) || !c.status[i].seen {
		return MsgProfile{}, false
	}
	return c.checks[i].Variants[c.status[i].variant], true
}
