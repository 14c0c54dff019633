package advisor

import (
	"fmt"
	"math"
	"time"
)

// Kind identifies which rule produced an advisory.
type Kind string

const (
	KindNoData             Kind = "no_data"
	KindCriticalLow        Kind = "critical_low"
	KindDepletion          Kind = "depletion"
	KindFullyCharged       Kind = "fully_charged"
	KindNearFull           Kind = "near_full"
	KindConsiderUnplugging Kind = "consider_unplugging"
	KindSlowCharge         Kind = "slow_charge"
	KindCharging           Kind = "charging"
	KindDischarging        Kind = "discharging"
)

const (
	criticalLowValue = 20.0
	fullValue        = 100.0
	nearFullValue    = 90.0
	unplugValue      = 80.0
)

// Advisory is the single message chosen for the current state.
type Advisory struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	ETAMinutes *int   `json:"eta_minutes"`
}

// NoDataAdvisory is reported before any sample has been seen.
var NoDataAdvisory = Advisory{Kind: KindNoData, Message: "Waiting for battery data."}

// WithFinishTime returns the message with the projected wall clock finish time appended
// when the advisory carries an ETA.
func (a Advisory) WithFinishTime(now time.Time) string {
	if a.ETAMinutes == nil {
		return a.Message
	}
	finish := now.Add(time.Duration(*a.ETAMinutes) * time.Minute)
	return fmt.Sprintf("%s (~%s)", a.Message, finish.Format("15:04"))
}

// Equal reports if two advisories would display the same.
func (a Advisory) Equal(b Advisory) bool {
	if a.Kind != b.Kind || a.Message != b.Message {
		return false
	}
	if a.ETAMinutes == nil || b.ETAMinutes == nil {
		return a.ETAMinutes == nil && b.ETAMinutes == nil
	}
	return *a.ETAMinutes == *b.ETAMinutes
}

type ruleInput struct {
	current    Sample
	rate       RateEstimate
	slowCharge bool
}

type rule struct {
	kind    Kind
	applies func(in ruleInput) bool
	advise  func(in ruleInput) Advisory
}

func fixed(kind Kind, message string) func(ruleInput) Advisory {
	return func(ruleInput) Advisory {
		return Advisory{Kind: kind, Message: message}
	}
}

// rules are evaluated top to bottom and the first match wins.
var rules = []rule{
	{
		kind: KindCriticalLow,
		applies: func(in ruleInput) bool {
			return !in.current.Flag && in.current.Value < criticalLowValue
		},
		advise: fixed(KindCriticalLow, "Battery very low! Plug in an 18W charger."),
	},
	{
		kind: KindDepletion,
		applies: func(in ruleInput) bool {
			return !in.current.Flag && in.rate.AverageDropRate != nil && *in.rate.AverageDropRate > 0
		},
		advise: func(in ruleInput) Advisory {
			eta := int(math.Round(in.current.Value / *in.rate.AverageDropRate))
			return Advisory{
				Kind:       KindDepletion,
				Message:    fmt.Sprintf("Battery may finish in ~%d min", eta),
				ETAMinutes: &eta,
			}
		},
	},
	{
		kind: KindFullyCharged,
		applies: func(in ruleInput) bool {
			return in.current.Flag && in.current.Value >= fullValue
		},
		advise: fixed(KindFullyCharged, "Battery fully charged! Unplug to avoid overcharging."),
	},
	{
		kind: KindNearFull,
		applies: func(in ruleInput) bool {
			return in.current.Flag && in.current.Value >= nearFullValue
		},
		advise: fixed(KindNearFull, "Battery at 90%+. Unplug soon for long-term health."),
	},
	{
		kind: KindConsiderUnplugging,
		applies: func(in ruleInput) bool {
			return in.current.Flag && in.current.Value >= unplugValue
		},
		advise: fixed(KindConsiderUnplugging, "Battery at 80%. Consider unplugging soon."),
	},
	{
		kind: KindSlowCharge,
		applies: func(in ruleInput) bool {
			return in.current.Flag && in.slowCharge
		},
		advise: fixed(KindSlowCharge, "Charging too slow! Check your cable or try a better charger."),
	},
	{
		kind: KindCharging,
		applies: func(in ruleInput) bool {
			return in.current.Flag && in.current.Value < unplugValue
		},
		advise: fixed(KindCharging, "Charging normally. Keep between 20-80% for best battery life."),
	},
	{
		kind:    KindDischarging,
		applies: func(ruleInput) bool { return true },
		advise:  fixed(KindDischarging, "Discharging normally. Avoid deep discharge below 20%."),
	},
}

// AdvisoryEngine picks the advisory for a sample. It holds no state, the slow charge
// flag is worked out by the caller from the sample history.
type AdvisoryEngine struct{}

func (AdvisoryEngine) Evaluate(current Sample, rate RateEstimate, slowCharge bool) Advisory {
	in := ruleInput{current: current, rate: rate, slowCharge: slowCharge}
	for _, r := range rules {
		if r.applies(in) {
			return r.advise(in)
		}
	}
	return NoDataAdvisory
}

// IsSlowCharge reports if the newest pair shows no gain for over five minutes while charging.
func IsSlowCharge(charging bool, latest *RateSample) bool {
	return charging && latest != nil && latest.Delta <= 0 && latest.DeltaMinutes > 5
}
