package advisor

import (
	"math"
	"time"
)

// minSamplesForDropRate is how many samples are needed before an average drop rate is given.
const minSamplesForDropRate = 3

// RateSample is the change between two consecutive samples.
type RateSample struct {
	Delta        float64 `json:"delta"`
	DeltaMinutes float64 `json:"delta_minutes"`
}

// Rate returns the change per minute for the pair.
func (r RateSample) Rate() float64 {
	return r.Delta / r.DeltaMinutes
}

// RateEstimate holds the values derived from a SampleHistory. A nil rate means there is
// not enough usable data for it.
type RateEstimate struct {
	// Change per minute between the two newest samples.
	InstantaneousRate *float64 `json:"instantaneous_rate"`
	// Mean magnitude per minute of the decreasing pairs.
	AverageDropRate *float64 `json:"average_drop_rate"`
	// Usable consecutive pairs, oldest first.
	Pairs []RateSample `json:"pairs,omitempty"`
	// Latest is the newest pair if it was usable.
	Latest *RateSample `json:"latest,omitempty"`
}

// RateEstimator derives rates of change from samples. It never modifies its input.
type RateEstimator struct{}

// Compute walks each consecutive pair in the history. Pairs that don't move forward in
// time or produce a non finite rate are skipped so one bad sample can't poison the average.
func (e RateEstimator) Compute(history *SampleHistory) RateEstimate {
	samples := history.All()
	var pairs []RateSample
	var latest *RateSample
	for i := 1; i < len(samples); i++ {
		pair, ok := pairBetween(samples[i-1], samples[i])
		if !ok {
			continue
		}
		pairs = append(pairs, pair)
		if i == len(samples)-1 {
			latest = &pair
		}
	}
	return e.Estimate(pairs, latest, len(samples))
}

// Estimate derives the rates from a window of usable pairs, oldest first. latest is the
// pair formed by the newest sample, nil when that sample couldn't be paired. samples is
// how many samples the window was built from.
func (RateEstimator) Estimate(pairs []RateSample, latest *RateSample, samples int) RateEstimate {
	estimate := RateEstimate{}
	if len(pairs) > 0 {
		estimate.Pairs = append([]RateSample{}, pairs...)
	}
	if latest != nil {
		l := *latest
		rate := l.Rate()
		estimate.Latest = &l
		estimate.InstantaneousRate = &rate
	}

	var dropSum float64
	drops := 0
	for _, pair := range pairs {
		if pair.Delta >= 0 {
			continue
		}
		drop := math.Abs(pair.Delta) / pair.DeltaMinutes
		if isFinite(drop) {
			dropSum += drop
			drops++
		}
	}

	if samples >= minSamplesForDropRate && drops > 0 {
		avg := dropSum / float64(drops)
		if isFinite(avg) {
			estimate.AverageDropRate = &avg
		}
	}
	return estimate
}

func pairBetween(prev, curr Sample) (RateSample, bool) {
	deltaMinutes := float64(curr.Timestamp.Sub(prev.Timestamp)) / float64(time.Minute)
	delta := curr.Value - prev.Value
	if !isFinite(deltaMinutes) || !isFinite(delta) || deltaMinutes <= 0 {
		return RateSample{}, false
	}
	if !isFinite(delta / deltaMinutes) {
		return RateSample{}, false
	}
	return RateSample{Delta: delta, DeltaMinutes: deltaMinutes}, true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
