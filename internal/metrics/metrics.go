package metrics

import (
	"github.com/TheCacophonyProject/battery-advisor/internal/advisor"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "battery_advisor"

// Metrics holds the Prometheus collectors for the samples and advisories seen by the monitor.
type Metrics struct {
	Samples    prometheus.Counter
	Rejected   prometheus.Counter
	level      prometheus.Gauge
	charging   prometheus.Gauge
	rate       prometheus.Gauge
	dropRate   prometheus.Gauge
	ETA        prometheus.Gauge
	advisories *prometheus.CounterVec
	current    *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Battery samples accepted by the engine.",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_rejected_total",
			Help:      "Battery samples rejected as invalid.",
		}),
		level: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "level_percent",
			Help:      "Most recent battery level.",
		}),
		charging: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "charging",
			Help:      "1 if the battery was charging at the last sample.",
		}),
		rate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_percent_per_minute",
			Help:      "Instantaneous rate of change between the last two samples.",
		}),
		dropRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "average_drop_rate_percent_per_minute",
			Help:      "Average discharge rate over the sample history.",
		}),
		ETA: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "eta_minutes",
			Help:      "Estimated minutes until the battery is empty, -1 when there is no estimate.",
		}),
		advisories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advisory_changes_total",
			Help:      "Advisory changes by the kind changed to.",
		}, []string{"kind"}),
		current: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "advisory",
			Help:      "1 for the kind of the current advisory.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.Samples, m.Rejected, m.level, m.charging, m.rate, m.dropRate, m.ETA, m.advisories, m.current)
	m.ETA.Set(-1)
	return m
}

func (m *Metrics) ObserveSample(s advisor.Sample) {
	m.Samples.Inc()
	m.level.Set(s.Value)
	if s.Flag {
		m.charging.Set(1)
	} else {
		m.charging.Set(0)
	}
}

func (m *Metrics) ObserveRejected() {
	m.Rejected.Inc()
}

// ObserveTrend records the rates that are known. Unknown rates keep their last value.
func (m *Metrics) ObserveTrend(trend advisor.RateEstimate) {
	if trend.InstantaneousRate != nil {
		m.rate.Set(*trend.InstantaneousRate)
	}
	if trend.AverageDropRate != nil {
		m.dropRate.Set(*trend.AverageDropRate)
	}
}

func (m *Metrics) ObserveAdvisory(a advisor.Advisory, changed bool) {
	if changed {
		m.advisories.WithLabelValues(string(a.Kind)).Inc()
		m.current.Reset()
	}
	m.current.WithLabelValues(string(a.Kind)).Set(1)
	if a.ETAMinutes != nil {
		m.ETA.Set(float64(*a.ETAMinutes))
	} else {
		m.ETA.Set(-1)
	}
}
