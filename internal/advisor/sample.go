package advisor

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	MinValue = 0.0
	MaxValue = 100.0

	// Largest timestamp accepted, in milliseconds either side of the Unix epoch. Anything
	// further out can't be held as int64 nanoseconds.
	maxTimestampMillis = math.MaxInt64 / int64(time.Millisecond)
)

// ErrInvalidSample is returned when a sample is rejected at the boundary.
var ErrInvalidSample = errors.New("invalid sample")

// Sample is one observation of the monitored quantity. For a battery the value is the
// charge percentage and the flag is whether it is charging.
type Sample struct {
	Value     float64   `json:"value"`
	Flag      bool      `json:"flag"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSample validates the raw values and builds a Sample from a Unix millisecond timestamp.
func NewSample(value float64, flag bool, timestampMillis float64) (Sample, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Sample{}, fmt.Errorf("%w: value %v is not finite", ErrInvalidSample, value)
	}
	if value < MinValue || value > MaxValue {
		return Sample{}, fmt.Errorf("%w: value %.2f outside [%.0f, %.0f]", ErrInvalidSample, value, MinValue, MaxValue)
	}
	if math.IsNaN(timestampMillis) || math.IsInf(timestampMillis, 0) {
		return Sample{}, fmt.Errorf("%w: timestamp %v is not finite", ErrInvalidSample, timestampMillis)
	}
	if math.Abs(timestampMillis) > float64(maxTimestampMillis) {
		return Sample{}, fmt.Errorf("%w: timestamp %v out of range", ErrInvalidSample, timestampMillis)
	}
	return Sample{
		Value:     value,
		Flag:      flag,
		Timestamp: fromMillis(timestampMillis),
	}, nil
}

func fromMillis(ms float64) time.Time {
	whole := math.Trunc(ms)
	return time.UnixMilli(int64(whole)).Add(time.Duration((ms - whole) * float64(time.Millisecond)))
}

// Millis returns the sample timestamp in Unix milliseconds.
func (s Sample) Millis() float64 {
	subMillis := s.Timestamp.Nanosecond() % int(time.Millisecond)
	return float64(s.Timestamp.UnixMilli()) + float64(subMillis)/float64(time.Millisecond)
}

// LevelBand groups a value the way the display colours it.
func LevelBand(value float64) string {
	switch {
	case value < 20:
		return "critical"
	case value < 80:
		return "moderate"
	default:
		return "good"
	}
}
