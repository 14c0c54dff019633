package monitor

import (
	"testing"
	"time"

	"github.com/TheCacophonyProject/battery-advisor/internal/advisor"
	"github.com/stretchr/testify/assert"
)

func depletion(eta int) advisor.Advisory {
	return advisor.Advisory{Kind: advisor.KindDepletion, Message: "finishing", ETAMinutes: &eta}
}

func TestDepletionWarner(t *testing.T) {
	w := &depletionWarner{conf: &Config{EnableDepletionEstimate: true, DepletionWarningHours: 2}}
	critical := advisor.Advisory{Kind: advisor.KindCriticalLow}

	assert.Equal(t, severityCritical, w.check(critical, testNow))
	assert.Empty(t, w.check(critical, testNow.Add(time.Minute)), "critical is raised once")
	assert.Empty(t, w.check(advisor.Advisory{Kind: advisor.KindCharging}, testNow))
	assert.Equal(t, severityCritical, w.check(critical, testNow.Add(2*time.Minute)), "raised again after leaving critical")

	assert.Empty(t, w.check(depletion(180), testNow), "ETA above the warning hours")
	assert.Equal(t, severityLow, w.check(depletion(90), testNow))
	assert.Empty(t, w.check(depletion(80), testNow.Add(5*time.Hour)), "rate limited")
	assert.Equal(t, severityLow, w.check(depletion(30), testNow.Add(6*time.Hour)))
}

func TestDepletionWarnerDisabled(t *testing.T) {
	w := &depletionWarner{conf: &Config{EnableDepletionEstimate: false, DepletionWarningHours: 2}}
	assert.Empty(t, w.check(depletion(10), testNow))
	assert.Equal(t, severityCritical, w.check(advisor.Advisory{Kind: advisor.KindCriticalLow}, testNow),
		"critical warnings don't need the depletion estimate")
}

func TestFormatMinutes(t *testing.T) {
	tests := []struct {
		minutes  int
		expected string
	}{
		{45, "45 minutes"},
		{75, "1 hours 15 minutes"},
		{400, "6 hours"},
		{60 * 50, "2 days 2 hours"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, formatMinutes(tc.minutes))
	}
}
