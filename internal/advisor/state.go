package advisor

import (
	"fmt"
	"math"
	"time"
)

// EngineState is everything the engine remembers between samples. It is owned by the
// caller and is not safe for concurrent use.
type EngineState struct {
	history    *SampleHistory
	pairs      *ring[RateSample]
	rates      *ring[float64]
	estimator  RateEstimator
	engine     AdvisoryEngine
	trend      RateEstimate
	slowCharge bool
	advisory   Advisory
}

func NewEngineState() *EngineState {
	return &EngineState{
		history:  NewSampleHistory(),
		pairs:    newRing[RateSample](HistoryCapacity),
		rates:    newRing[float64](HistoryCapacity),
		advisory: NoDataAdvisory,
	}
}

// PushSample validates and adds a sample. A rejected sample leaves the state untouched.
func (s *EngineState) PushSample(value float64, flag bool, timestampMillis float64) error {
	sample, err := NewSample(value, flag, timestampMillis)
	if err != nil {
		return err
	}
	s.Push(sample)
	return nil
}

// Push adds an already validated sample and recomputes the trend and advisory. The
// sample only joins the pair window when it moves forward from the previous sample, so
// an unusable sample never evicts a pair.
func (s *EngineState) Push(sample Sample) {
	previous, hasPrevious := s.history.Latest()
	s.history.Push(sample)
	var latest *RateSample
	if hasPrevious {
		if pair, ok := pairBetween(previous, sample); ok {
			s.pairs.push(pair)
			latest = &pair
		}
	}
	s.trend = s.estimator.Estimate(s.pairs.last(HistoryCapacity), latest, s.history.Len())
	if s.trend.InstantaneousRate != nil {
		s.rates.push(roundTo(*s.trend.InstantaneousRate, 2))
	}
	s.slowCharge = IsSlowCharge(sample.Flag, s.trend.Latest)
	s.advisory = s.engine.Evaluate(sample, s.trend, s.slowCharge)
}

func (s *EngineState) Advisory() Advisory {
	return s.advisory
}

// RecentRates returns the last instantaneous rates in %/minute, oldest first.
func (s *EngineState) RecentRates() []float64 {
	return s.rates.last(HistoryCapacity)
}

func (s *EngineState) Trend() RateEstimate {
	return s.trend
}

func (s *EngineState) SlowCharge() bool {
	return s.slowCharge
}

func (s *EngineState) Latest() (Sample, bool) {
	return s.history.Latest()
}

func (s *EngineState) Samples() []Sample {
	return s.history.All()
}

// Reset forgets all samples and rates.
func (s *EngineState) Reset() {
	s.history.Clear()
	s.pairs.reset()
	s.rates.reset()
	s.trend = RateEstimate{}
	s.slowCharge = false
	s.advisory = NoDataAdvisory
}

// Snapshot is the persisted form of an EngineState.
type Snapshot struct {
	LastSample  *Sample      `json:"last_sample,omitempty"`
	Samples     []Sample     `json:"samples"`
	RecentRates []float64    `json:"recent_rates"`
	Trend       RateEstimate `json:"trend"`
	Advisory    Advisory     `json:"advisory"`
	SavedAt     time.Time    `json:"saved_at"`
}

func (s *EngineState) Snapshot(now time.Time) Snapshot {
	snap := Snapshot{
		Samples:     s.history.All(),
		RecentRates: s.RecentRates(),
		Trend:       s.trend,
		Advisory:    s.advisory,
		SavedAt:     now,
	}
	if latest, ok := s.history.Latest(); ok {
		snap.LastSample = &latest
	}
	return snap
}

// Restore replaces the state with the samples and rates of a snapshot. The trend and
// advisory are recomputed rather than trusted from the snapshot.
func (s *EngineState) Restore(snap Snapshot) error {
	for i, sample := range snap.Samples {
		if sample.Timestamp.IsZero() {
			return fmt.Errorf("snapshot sample %d: %w: missing timestamp", i, ErrInvalidSample)
		}
		if _, err := NewSample(sample.Value, sample.Flag, sample.Millis()); err != nil {
			return fmt.Errorf("snapshot sample %d: %w", i, err)
		}
	}
	s.Reset()
	for _, sample := range snap.Samples {
		s.history.Push(sample)
	}
	for _, rate := range snap.RecentRates {
		if isFinite(rate) {
			s.rates.push(rate)
		}
	}
	if latest, ok := s.history.Latest(); ok {
		s.trend = s.estimator.Compute(s.history)
		for _, pair := range s.trend.Pairs {
			s.pairs.push(pair)
		}
		s.slowCharge = IsSlowCharge(latest.Flag, s.trend.Latest)
		s.advisory = s.engine.Evaluate(latest, s.trend, s.slowCharge)
	}
	return nil
}

func roundTo(f float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(f*p) / p
}
