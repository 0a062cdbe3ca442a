package main

import (
	"fmt"

	"github.com/notnil/canguard"
	"github.com/notnil/canguard/internal/config"
)

func openSocketCAN(bc config.BusConfig) (canguard.Bus, error) {
	if bc.BringUp {
		if err := canguard.SetInterfaceDown(bc.Interface); err != nil {
			return nil, err
		}
		if bc.Bitrate > 0 {
			if err := canguard.SetBitrate(bc.Interface, uint32(bc.Bitrate)); err != nil {
				return nil, err
			}
		}
		if err := canguard.SetInterfaceUp(bc.Interface); err != nil {
			return nil, err
		}
	} else if up, err := canguard.IsInterfaceUp(bc.Interface); err != nil {
		return nil, err
	} else if !up {
		return nil, fmt.Errorf("interface %s is down (set bringUp to configure it)", bc.Interface)
	}
	return canguard.DialSocketCAN(bc.Interface, bc.Index)
}
