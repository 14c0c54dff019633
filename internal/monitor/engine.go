package monitor

import (
	"sync"
	"time"

	"github.com/TheCacophonyProject/battery-advisor/internal/advisor"
)

// Update describes the result of a sample being added to the engine.
type Update struct {
	Sample      advisor.Sample
	Previous    advisor.Advisory
	Advisory    advisor.Advisory
	Trend       advisor.RateEstimate
	SlowCharge  bool
	RecentRates []float64
}

// Changed reports if the sample caused a different advisory to be shown.
func (u Update) Changed() bool {
	return !u.Advisory.Equal(u.Previous)
}

// Engine guards an advisor.EngineState so the polling loop, the D-Bus service and the
// HTTP API can share it. Listeners are called after the state lock is released, one
// update at a time in the order the samples were applied. A listener may read the
// engine but must not push to it.
type Engine struct {
	deliver         sync.Mutex
	mu              sync.Mutex
	state           *advisor.EngineState
	listeners       []func(Update)
	rejectListeners []func(error)
}

func NewEngine() *Engine {
	return &Engine{state: advisor.NewEngineState()}
}

// OnUpdate registers fn to be called after every accepted sample.
func (e *Engine) OnUpdate(fn func(Update)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// OnReject registers fn to be called with the error for every rejected sample.
func (e *Engine) OnReject(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejectListeners = append(e.rejectListeners, fn)
}

func (e *Engine) PushSample(value float64, charging bool, timestampMillis float64) error {
	sample, err := advisor.NewSample(value, charging, timestampMillis)
	if err != nil {
		e.mu.Lock()
		listeners := append([]func(error){}, e.rejectListeners...)
		e.mu.Unlock()
		for _, fn := range listeners {
			fn(err)
		}
		return err
	}
	e.Push(sample)
	return nil
}

// Push adds an already validated sample.
func (e *Engine) Push(sample advisor.Sample) Update {
	e.deliver.Lock()
	defer e.deliver.Unlock()

	e.mu.Lock()
	previous := e.state.Advisory()
	e.state.Push(sample)
	u := Update{
		Sample:      sample,
		Previous:    previous,
		Advisory:    e.state.Advisory(),
		Trend:       e.state.Trend(),
		SlowCharge:  e.state.SlowCharge(),
		RecentRates: e.state.RecentRates(),
	}
	listeners := append([]func(Update){}, e.listeners...)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(u)
	}
	return u
}

func (e *Engine) Advisory() advisor.Advisory {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Advisory()
}

func (e *Engine) RecentRates() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.RecentRates()
}

func (e *Engine) Samples() []advisor.Sample {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Samples()
}

func (e *Engine) Latest() (advisor.Sample, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Latest()
}

func (e *Engine) Snapshot(now time.Time) advisor.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Snapshot(now)
}

// Restore replaces the engine state without notifying listeners.
func (e *Engine) Restore(snap advisor.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Restore(snap)
}
