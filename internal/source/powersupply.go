package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/TheCacophonyProject/go-utils/logging"
)

const (
	DefaultPowerSupplyRoot     = "/sys/class/power_supply"
	DefaultPowerSupplyInterval = time.Minute
)

// PowerSupply reads a battery exposed by the kernel under /sys/class/power_supply.
type PowerSupply struct {
	dir      string
	interval time.Duration
	log      *logging.Logger
	now      func() time.Time
}

func NewPowerSupply(dir string, interval time.Duration, log *logging.Logger) *PowerSupply {
	if log == nil {
		log = logging.NewLogger("info")
	}
	if interval <= 0 {
		interval = DefaultPowerSupplyInterval
	}
	return &PowerSupply{
		dir:      dir,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

func (p *PowerSupply) Name() string {
	return "power supply " + filepath.Base(p.dir)
}

func (p *PowerSupply) Readings(ctx context.Context) (<-chan Reading, error) {
	if _, err := p.Read(); err != nil {
		return nil, err
	}
	return poll(ctx, p.interval, p.Read, p.log), nil
}

// Read makes a single reading of the capacity and status files.
func (p *PowerSupply) Read() (Reading, error) {
	capacityStr, err := readAttribute(p.dir, "capacity")
	if err != nil {
		return Reading{}, err
	}
	capacity, err := strconv.ParseFloat(capacityStr, 64)
	if err != nil {
		return Reading{}, fmt.Errorf("failed to parse capacity '%s': %w", capacityStr, err)
	}
	status, err := readAttribute(p.dir, "status")
	if err != nil {
		return Reading{}, err
	}
	return Reading{
		Percent:  capacity,
		Charging: isChargingStatus(status),
		Time:     p.now(),
	}, nil
}

// A full battery still on the charger is reported as charging so that it gets the
// unplug advice.
func isChargingStatus(status string) bool {
	switch strings.ToLower(status) {
	case "charging", "full":
		return true
	default:
		return false
	}
}

// FindBattery returns the directory of the named power supply, or of the first one with
// a type of "Battery" when no name is given.
func FindBattery(root, name string) (string, error) {
	if root == "" {
		root = DefaultPowerSupplyRoot
	}
	if name != "" {
		dir := filepath.Join(root, name)
		if _, err := os.Stat(dir); err != nil {
			return "", fmt.Errorf("power supply '%s' not found: %w", name, err)
		}
		return dir, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		supplyType, err := readAttribute(dir, "type")
		if err != nil {
			continue
		}
		if supplyType == "Battery" {
			return dir, nil
		}
	}
	return "", fmt.Errorf("no battery found in %s", root)
}

func readAttribute(dir, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
