package safety

import "github.com/notnil/canguard"

// CanMsg is one entry of a transmit whitelist.
type CanMsg struct {
	Addr uint32
	Bus  uint8
	Len  uint8
}

// MsgAllowed reports whether f matches an entry of list exactly.
func MsgAllowed(f canguard.Frame, list []CanMsg) bool {
	for _, m := range list {
		if m.Addr == f.ID && m.Bus == f.Bus && m.Len == f.Len {
			return true
		}
	}
	return false
}
