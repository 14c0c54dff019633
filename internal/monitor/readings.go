package monitor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/TheCacophonyProject/battery-advisor/internal/advisor"
	"github.com/TheCacophonyProject/battery-advisor/internal/replay"
)

const (
	defaultReadingsFile = "/var/log/battery-advisor.csv"
	maxReadings         = 5000
)

// logReading appends a row of timestamp, value, charging, advisory kind and ETA minutes
// (-1 for none) to the readings log.
func logReading(path string, u Update) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = file.WriteString(replay.FormatRecord(u.Sample, string(u.Advisory.Kind), strconv.Itoa(etaOrNone(u.Advisory))) + "\n")
	return err
}

func etaOrNone(a advisor.Advisory) int {
	if a.ETAMinutes == nil {
		return -1
	}
	return *a.ETAMinutes
}

// keepLastLines keeps the last `maxLines` lines of the specified file.
func keepLastLines(filePath string, maxLines int) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}
	tmpFile := filepath.Join(os.TempDir(), filepath.Base(filePath)+".tmp")
	err := os.Remove(tmpFile)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	commands := []string{"sh", "-c", fmt.Sprintf("tail -n %d %s > %s", maxLines, filePath, tmpFile)}
	cmd := exec.Command(commands[0], commands[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("err running '%s', %v, %v", strings.Join(commands, " "), string(out), err)
	}
	return moveFile(tmpFile, filePath)
}

// moveFile renames src to dst, copying when they are on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return err
	}
	return os.Remove(src)
}
