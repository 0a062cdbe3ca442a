package safety

// RelayTransitionTicks is how many supervisor ticks after a policy init the
// harness relay may still be settling; the device's own steering address
// seen on the vehicle bus before then is not treated as a second sender.
const RelayTransitionTicks = 1

// Controls tracks whether steering commands may be applied and latches
// harness faults. It is driven by RX hooks and the supervisor tick.
type Controls struct {
	allowed          bool
	cruisePrev       bool
	gasPrev          bool
	brakePrev        bool
	relayMalfunction bool
	ticks            int
}

// Allowed reports whether lane keeping may currently command the vehicle.
func (c *Controls) Allowed() bool { return c.allowed }

// Disallow revokes controls until the next cruise engagement edge.
func (c *Controls) Disallow() { c.allowed = false }

// RelayMalfunction reports whether a second steering sender was seen.
func (c *Controls) RelayMalfunction() bool { return c.relayMalfunction }

// CruiseCheck follows the stock cruise state: controls are granted on the
// engagement edge and revoked whenever cruise is off.
func (c *Controls) CruiseCheck(engaged bool) {
	if !engaged {
		c.allowed = false
	}
	if engaged && !c.cruisePrev {
		c.allowed = true
	}
	c.cruisePrev = engaged
}

// RxChecks runs the vehicle-independent checks after every valid frame.
// Pressing gas, or pressing the brake (or holding it while moving), revokes
// controls. stockECUDetected reports that the frame was the device's own
// steering command arriving on the vehicle side, which means another ECU
// is still talking there.
func (c *Controls) RxChecks(stockECUDetected bool, st *VehicleState) {
	gas := st.GasPressed()
	if gas && !c.gasPrev {
		c.allowed = false
	}
	c.gasPrev = gas

	brake := st.BrakePressed()
	if brake && (!c.brakePrev || st.Moving()) {
		c.allowed = false
	}
	c.brakePrev = brake

	if stockECUDetected && c.ticks > RelayTransitionTicks {
		c.relayMalfunction = true
		c.allowed = false
	}
}

func (c *Controls) tick() { c.ticks++ }

// Reset returns controls to their power-on values and clears latched faults.
func (c *Controls) Reset() { *c = Controls{} }
