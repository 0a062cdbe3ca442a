//go:build !linux

package main

import (
	"errors"

	"github.com/notnil/canguard"
	"github.com/notnil/canguard/internal/config"
)

func openSocketCAN(config.BusConfig) (canguard.Bus, error) {
	return nil, errors.New("socketcan is only available on linux")
}
