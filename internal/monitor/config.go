package monitor

import (
	"os"
	"path/filepath"

	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/google/go-cmp/cmp"
	"github.com/rjeczalik/notify"
)

// Config is the part of the device config the monitor uses.
type Config struct {
	EnableDepletionEstimate bool
	DepletionWarningHours   float32
}

func configFromBattery(b goconfig.Battery) *Config {
	return &Config{
		EnableDepletionEstimate: b.EnableDepletionEstimate,
		DepletionWarningHours:   b.DepletionWarningHours,
	}
}

func ParseConfig(configDir string) (*Config, error) {
	conf, err := goconfig.New(configDir)
	if err != nil {
		return nil, err
	}

	battery := goconfig.DefaultBattery()
	if err := conf.Unmarshal(goconfig.BatteryKey, &battery); err != nil {
		return nil, err
	}
	return configFromBattery(battery), nil
}

// checkConfigChanges compares the config from when first loaded to a new config each time
// the config file is modified. If there is a difference the program exits so systemd
// restarts it with the new config.
func checkConfigChanges(conf *Config, configDir string) error {
	configFilePath := filepath.Join(configDir, goconfig.ConfigFileName)
	fsEvents := make(chan notify.EventInfo, 1)
	if err := notify.Watch(configFilePath, fsEvents, notify.InCloseWrite, notify.InMovedTo); err != nil {
		return err
	}
	defer notify.Stop(fsEvents)

	for {
		<-fsEvents
		newConfig, err := ParseConfig(configDir)
		if err != nil {
			log.Error("Error reloading config: ", err)
			continue
		}
		diff := cmp.Diff(conf, newConfig)
		log.Debug("Config diff: ", diff)
		if diff != "" {
			log.Info("Config changed. Exiting to allow systemctl to restart service.")
			os.Exit(0)
		}
		log.Info("No relevant changes detected in config file.")
	}
}
