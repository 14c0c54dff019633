/*
battery-advisor - Derives battery trends and advice from battery samples
Copyright (C) 2025, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package source

import (
	"context"
	"fmt"
	"time"

	"github.com/TheCacophonyProject/go-utils/logging"
)

// Reading is a battery observation from a source.
type Reading struct {
	Percent  float64
	Charging bool
	Time     time.Time
}

// Source produces battery readings until the context is cancelled.
type Source interface {
	Name() string
	Readings(ctx context.Context) (<-chan Reading, error)
}

const (
	TypePowerSupply = "power-supply"
	TypeATtiny      = "attiny"
	TypeSimulated   = "simulated"
)

var Types = []string{TypePowerSupply, TypeATtiny, TypeSimulated}

// Options configure the source picked by New.
type Options struct {
	PowerSupplyRoot string
	PowerSupplyName string
	Interval        time.Duration
}

// New returns the source of the given type.
func New(sourceType string, opts Options, log *logging.Logger) (Source, error) {
	if log == nil {
		log = logging.NewLogger("info")
	}
	switch sourceType {
	case TypePowerSupply:
		dir, err := FindBattery(opts.PowerSupplyRoot, opts.PowerSupplyName)
		if err != nil {
			return nil, err
		}
		return NewPowerSupply(dir, opts.Interval, log), nil
	case TypeATtiny:
		return NewATtiny(log), nil
	case TypeSimulated:
		return NewSimulated(opts.Interval, log), nil
	default:
		return nil, fmt.Errorf("unknown source type '%s'", sourceType)
	}
}

// poll reads from read immediately and then every interval, sending successful readings.
func poll(ctx context.Context, interval time.Duration, read func() (Reading, error), log *logging.Logger) <-chan Reading {
	readings := make(chan Reading, 1)
	go func() {
		defer close(readings)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			r, err := read()
			if err != nil {
				log.Warn("Failed to read battery: ", err)
			} else {
				select {
				case readings <- r:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return readings
}
