package monitor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/TheCacophonyProject/battery-advisor/internal/advisor"
	"github.com/TheCacophonyProject/battery-advisor/internal/replay"
	"github.com/sigurn/crc8"
)

const (
	stateFileName = "battery_advisor_state.json"
	// Samples older than this say nothing about the current rate.
	maxRestoreAge = 6 * time.Hour
)

var errBadChecksum = errors.New("bad checksum")

var crcTable = crc8.MakeTable(crc8.Params{
	Poly:   0x31,
	Init:   0xFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
})

type stateFile struct {
	Checksum uint8           `json:"checksum"`
	State    json.RawMessage `json:"state"`
}

func statePath(stateDir string) string {
	return filepath.Join(stateDir, stateFileName)
}

func saveState(path string, snap advisor.Snapshot) error {
	state, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(stateFile{
		Checksum: crc8.Checksum(state, crcTable),
		State:    state,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func loadState(path string) (advisor.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return advisor.Snapshot{}, err
	}
	var file stateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return advisor.Snapshot{}, err
	}
	// The state is indented when written, the checksum is of the compact form.
	var compact bytes.Buffer
	if err := json.Compact(&compact, file.State); err != nil {
		return advisor.Snapshot{}, err
	}
	if crc := crc8.Checksum(compact.Bytes(), crcTable); crc != file.Checksum {
		return advisor.Snapshot{}, fmt.Errorf("%w: got 0x%02X, expected 0x%02X", errBadChecksum, crc, file.Checksum)
	}
	var snap advisor.Snapshot
	if err := json.Unmarshal(compact.Bytes(), &snap); err != nil {
		return advisor.Snapshot{}, err
	}
	return snap, nil
}

// restoreEngine loads the saved state into the engine, falling back to the most recent
// samples in the readings log when there is no usable state file.
func restoreEngine(e *Engine, stateFilePath, readingsFile string, now time.Time) error {
	snap, err := loadState(stateFilePath)
	switch {
	case err == nil && now.Sub(snap.SavedAt) < maxRestoreAge:
		if err := e.Restore(snap); err != nil {
			log.Warnf("Failed to restore state: %v", err)
		} else {
			log.Infof("Restored %d samples from %s", len(snap.Samples), stateFilePath)
			return nil
		}
	case err == nil:
		log.Infof("State file is from %s, too old to use", snap.SavedAt.Format(time.RFC3339))
	case errors.Is(err, os.ErrNotExist):
		log.Info("No state file found")
	default:
		log.Warnf("Ignoring state file: %v", err)
	}

	res, err := replay.LoadFile(readingsFile, now.Add(-maxRestoreAge))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to bootstrap from readings log: %w", err)
	}
	samples := replay.Tail(res.Samples, advisor.HistoryCapacity)
	if len(samples) == 0 {
		return nil
	}
	if err := e.Restore(advisor.Snapshot{Samples: samples}); err != nil {
		return err
	}
	log.Infof("Bootstrapped %d samples from %s", len(samples), readingsFile)
	return nil
}
