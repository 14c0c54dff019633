package source

import (
	"context"
	"time"

	"github.com/TheCacophonyProject/go-utils/logging"
)

const DefaultSimulatedInterval = 5 * time.Second

// Simulated stands in for a battery when none is present. It loses one percent per
// reading, wraps back to 100 below zero and always reports charging.
type Simulated struct {
	interval time.Duration
	level    float64
	log      *logging.Logger
	now      func() time.Time
}

func NewSimulated(interval time.Duration, log *logging.Logger) *Simulated {
	if log == nil {
		log = logging.NewLogger("info")
	}
	if interval <= 0 {
		interval = DefaultSimulatedInterval
	}
	return &Simulated{
		interval: interval,
		level:    100,
		log:      log,
		now:      time.Now,
	}
}

func (s *Simulated) Name() string {
	return "simulated battery"
}

func (s *Simulated) Readings(ctx context.Context) (<-chan Reading, error) {
	s.log.Info("No battery available, simulating one")
	return poll(ctx, s.interval, s.next, s.log), nil
}

func (s *Simulated) next() (Reading, error) {
	s.level--
	if s.level < 0 {
		s.level = 100
	}
	return Reading{Percent: s.level, Charging: true, Time: s.now()}, nil
}
