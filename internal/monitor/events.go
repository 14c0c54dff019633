package monitor

import (
	"fmt"
	"math"
	"time"

	"github.com/TheCacophonyProject/battery-advisor/internal/advisor"
	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
)

const (
	advisoryEventType         = "batteryAdvisory"
	depletionWarningEventType = "batteryDepletionWarning"
	lowWarningInterval        = 6 * time.Hour

	severityCritical = "critical"
	severityLow      = "low"
)

var addEvent = eventclient.AddEvent

// reportAdvisoryEvent reports that the advisory kind changed.
func reportAdvisoryEvent(u Update, now time.Time) {
	details := map[string]interface{}{
		"kind":     string(u.Advisory.Kind),
		"previous": string(u.Previous.Kind),
		"message":  u.Advisory.Message,
		"battery":  int(math.Round(u.Sample.Value)),
		"band":     advisor.LevelBand(u.Sample.Value),
		"charging": u.Sample.Flag,
	}
	if u.Advisory.ETAMinutes != nil {
		details["etaMinutes"] = *u.Advisory.ETAMinutes
	}
	err := addEvent(eventclient.Event{
		Timestamp: now,
		Type:      advisoryEventType,
		Details:   details,
	})
	if err != nil {
		log.Error("Error sending advisory event: ", err)
	} else {
		log.Infof("Advisory event: %s (%s)", u.Advisory.Kind, u.Advisory.Message)
	}
}

// reportDepletionWarningEvent reports that the battery is about to run out.
func reportDepletionWarningEvent(u Update, severity string, now time.Time) {
	details := map[string]interface{}{
		"severity":       severity,
		"currentPercent": u.Sample.Value,
		"message":        u.Advisory.Message,
	}
	if u.Advisory.ETAMinutes != nil {
		details["minutesRemaining"] = *u.Advisory.ETAMinutes
		details["timeRemaining"] = formatMinutes(*u.Advisory.ETAMinutes)
	}
	if u.Trend.AverageDropRate != nil {
		details["dischargeRate"] = *u.Trend.AverageDropRate
	}
	err := addEvent(eventclient.Event{
		Timestamp: now,
		Type:      depletionWarningEventType,
		Details:   details,
	})
	if err != nil {
		log.Error("Error sending battery depletion warning event: ", err)
	} else {
		log.Infof("Battery depletion warning event sent: %s", severity)
	}
}

func formatMinutes(minutes int) string {
	hours := minutes / 60
	switch {
	case hours >= 24:
		return fmt.Sprintf("%d days %d hours", hours/24, hours%24)
	case hours >= 6:
		return fmt.Sprintf("%d hours", hours)
	case hours >= 1:
		return fmt.Sprintf("%d hours %d minutes", hours, minutes%60)
	default:
		return fmt.Sprintf("%d minutes", minutes)
	}
}

// depletionWarner decides when a depletion warning should be raised. A critical warning
// is raised once each time the battery becomes critically low, a low warning when the
// ETA is under the configured hours, at most once every lowWarningInterval.
type depletionWarner struct {
	conf     *Config
	critical bool
	lastLow  time.Time
}

func (w *depletionWarner) check(a advisor.Advisory, now time.Time) string {
	if a.Kind == advisor.KindCriticalLow {
		if w.critical {
			return ""
		}
		w.critical = true
		return severityCritical
	}
	w.critical = false

	if w.conf == nil || !w.conf.EnableDepletionEstimate {
		return ""
	}
	if a.Kind != advisor.KindDepletion || a.ETAMinutes == nil {
		return ""
	}
	if float64(*a.ETAMinutes) >= float64(w.conf.DepletionWarningHours)*60 {
		return ""
	}
	if !w.lastLow.IsZero() && now.Sub(w.lastLow) < lowWarningInterval {
		return ""
	}
	w.lastLow = now
	return severityLow
}
