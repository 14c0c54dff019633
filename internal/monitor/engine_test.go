package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/TheCacophonyProject/battery-advisor/internal/advisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.Local)

func at(minutes float64) float64 {
	return float64(testNow.UnixMilli()) + minutes*60000
}

func TestEngineUpdates(t *testing.T) {
	e := NewEngine()
	var updates []Update
	e.OnUpdate(func(u Update) { updates = append(updates, u) })

	require.NoError(t, e.PushSample(80, false, at(0)))
	require.NoError(t, e.PushSample(70, false, at(10)))
	require.NoError(t, e.PushSample(60, false, at(20)))
	require.Len(t, updates, 3)

	assert.Equal(t, advisor.KindNoData, updates[0].Previous.Kind)
	assert.Equal(t, advisor.KindDischarging, updates[0].Advisory.Kind)
	assert.True(t, updates[0].Changed())
	assert.False(t, updates[1].Changed())
	assert.True(t, updates[2].Changed())
	assert.Equal(t, advisor.KindDepletion, updates[2].Advisory.Kind)
	assert.Equal(t, []float64{-1, -1}, updates[2].RecentRates)
	require.NotNil(t, updates[2].Trend.AverageDropRate)
	assert.Equal(t, e.Advisory(), updates[2].Advisory)
}

func TestEngineChangedOnETA(t *testing.T) {
	a, b := 60, 59
	u := Update{
		Previous: advisor.Advisory{Kind: advisor.KindDepletion, Message: "m", ETAMinutes: &a},
		Advisory: advisor.Advisory{Kind: advisor.KindDepletion, Message: "m", ETAMinutes: &b},
	}
	assert.True(t, u.Changed())
}

func TestEngineRejects(t *testing.T) {
	e := NewEngine()
	var rejected []error
	updates := 0
	e.OnReject(func(err error) { rejected = append(rejected, err) })
	e.OnUpdate(func(Update) { updates++ })

	err := e.PushSample(101, true, at(0))
	assert.ErrorIs(t, err, advisor.ErrInvalidSample)
	require.Len(t, rejected, 1)
	assert.ErrorIs(t, rejected[0], advisor.ErrInvalidSample)
	assert.Zero(t, updates)
	assert.Empty(t, e.Samples())
}

func TestEngineConcurrentPushes(t *testing.T) {
	e := NewEngine()
	var mu sync.Mutex
	count := 0
	e.OnUpdate(func(Update) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, e.PushSample(50, true, at(float64(i))))
			e.Advisory()
			e.RecentRates()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, count)
	assert.Len(t, e.Samples(), advisor.HistoryCapacity)
}

func TestEngineDeliversInPushOrder(t *testing.T) {
	for round := 0; round < 20; round++ {
		e := NewEngine()
		var mu sync.Mutex
		var delivered []Update
		e.OnUpdate(func(u Update) {
			if int(u.Sample.Value)%2 == 0 {
				time.Sleep(100 * time.Microsecond)
			}
			mu.Lock()
			delivered = append(delivered, u)
			mu.Unlock()
		})

		var wg sync.WaitGroup
		for i := 0; i < advisor.HistoryCapacity; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, e.PushSample(float64(40+i), false, at(float64(i))))
			}(i)
		}
		wg.Wait()

		applied := e.Samples()
		require.Len(t, delivered, len(applied))
		for i, u := range delivered {
			assert.Equal(t, applied[i].Value, u.Sample.Value, "round %d update %d", round, i)
			if i > 0 {
				assert.Equal(t, delivered[i-1].Advisory, u.Previous, "round %d update %d", round, i)
			}
		}
	}
}

func TestEngineSnapshotRestore(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.PushSample(50, false, at(0)))
	require.NoError(t, e.PushSample(49, false, at(1)))

	restored := NewEngine()
	called := false
	restored.OnUpdate(func(Update) { called = true })
	require.NoError(t, restored.Restore(e.Snapshot(testNow)))
	assert.False(t, called, "restoring isn't an update")
	assert.Equal(t, e.Advisory(), restored.Advisory())
	latest, ok := restored.Latest()
	require.True(t, ok)
	assert.Equal(t, 49.0, latest.Value)
}
