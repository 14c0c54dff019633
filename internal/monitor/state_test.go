package monitor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TheCacophonyProject/battery-advisor/internal/advisor"
	"github.com/TheCacophonyProject/battery-advisor/internal/replay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func engineWith(t *testing.T, values ...float64) *Engine {
	t.Helper()
	e := NewEngine()
	for i, v := range values {
		require.NoError(t, e.PushSample(v, false, at(float64(i)*10)))
	}
	return e
}

func TestSaveLoadState(t *testing.T) {
	path := statePath(t.TempDir())
	e := engineWith(t, 80, 70, 60)
	require.NoError(t, saveState(path, e.Snapshot(testNow)))

	snap, err := loadState(path)
	require.NoError(t, err)
	require.Len(t, snap.Samples, 3)
	assert.True(t, snap.SavedAt.Equal(testNow))
	assert.Equal(t, advisor.KindDepletion, snap.Advisory.Kind)
	require.NotNil(t, snap.LastSample)
	assert.Equal(t, 60.0, snap.LastSample.Value)
}

func TestLoadStateBadChecksum(t *testing.T) {
	path := statePath(t.TempDir())
	require.NoError(t, saveState(path, engineWith(t, 80, 70).Snapshot(testNow)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), "80", "81", 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0644))

	_, err = loadState(path)
	assert.ErrorIs(t, err, errBadChecksum)
}

func TestLoadStateBadJSON(t *testing.T) {
	path := statePath(t.TempDir())
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	_, err := loadState(path)
	assert.Error(t, err)

	_, err = loadState(statePath(t.TempDir()))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func writeReadings(t *testing.T, path string, now time.Time, values ...float64) {
	t.Helper()
	var lines []string
	for i, v := range values {
		ts := now.Add(time.Duration(i-len(values)+1) * 10 * time.Minute).Truncate(time.Second)
		s, err := advisor.NewSample(v, false, float64(ts.UnixMilli()))
		require.NoError(t, err)
		lines = append(lines, replay.FormatRecord(s, "discharging", "-1"))
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
}

func TestRestoreEngineFromState(t *testing.T) {
	dir := t.TempDir()
	path := statePath(dir)
	require.NoError(t, saveState(path, engineWith(t, 80, 70, 60).Snapshot(testNow)))

	e := NewEngine()
	require.NoError(t, restoreEngine(e, path, filepath.Join(dir, "missing.csv"), testNow.Add(time.Hour)))
	assert.Len(t, e.Samples(), 3)
	assert.Equal(t, advisor.KindDepletion, e.Advisory().Kind)
}

func TestRestoreEngineBootstrapsFromReadings(t *testing.T) {
	dir := t.TempDir()
	readings := filepath.Join(dir, "readings.csv")
	now := time.Now()
	writeReadings(t, readings, now, 90, 80, 70, 60)

	// A stale state file is ignored.
	require.NoError(t, saveState(statePath(dir), engineWith(t, 20, 19).Snapshot(now.Add(-7*time.Hour))))

	e := NewEngine()
	require.NoError(t, restoreEngine(e, statePath(dir), readings, now))
	samples := e.Samples()
	require.Len(t, samples, 4)
	assert.Equal(t, 60.0, samples[3].Value)
	assert.Equal(t, advisor.KindDepletion, e.Advisory().Kind)
}

func TestRestoreEngineCorruptState(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(statePath(dir), []byte(`{"checksum": 1, "state": {}}`), 0644))
	readings := filepath.Join(dir, "readings.csv")
	writeReadings(t, readings, time.Now(), 50, 49)

	e := NewEngine()
	require.NoError(t, restoreEngine(e, statePath(dir), readings, time.Now()))
	assert.Len(t, e.Samples(), 2)
}

func TestRestoreEngineNothingToRestore(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine()
	require.NoError(t, restoreEngine(e, statePath(dir), filepath.Join(dir, "readings.csv"), time.Now()))
	assert.Equal(t, advisor.NoDataAdvisory, e.Advisory())
}
