/*
battery-advisor - Derives battery trends and advice from battery samples
Copyright (C) 2025, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/battery-advisor/internal/advisor"
	"github.com/TheCacophonyProject/battery-advisor/internal/api"
	"github.com/TheCacophonyProject/battery-advisor/internal/metrics"
	"github.com/TheCacophonyProject/battery-advisor/internal/source"
	"github.com/TheCacophonyProject/battery-advisor/internal/storage"
	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/go-utils/logging"
	arg "github.com/alexflint/go-arg"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	trimInterval    = 24 * time.Hour
	shutdownTimeout = 5 * time.Second
)

var (
	version = "<not set>"
	log     = logging.NewLogger("info")
)

type Args struct {
	Source          string `arg:"--source" help:"where battery readings come from: power-supply, attiny or simulated"`
	PowerSupply     string `arg:"--power-supply" help:"name of the power supply in /sys/class/power_supply, the first battery is used when empty"`
	IntervalSeconds int    `arg:"--interval" help:"seconds between readings for polled sources"`
	StateDir        string `arg:"--state-dir" help:"directory the engine state is saved in"`
	ReadingsFile    string `arg:"--readings-file" help:"CSV log of readings, empty to disable"`
	DBFile          string `arg:"--db" help:"SQLite log of advisory changes, empty to disable"`
	HTTPAddress     string `arg:"--http-address" help:"address to serve the HTTP API on, empty to disable"`
	NoDBus          bool   `arg:"--no-dbus" help:"don't export the D-Bus service or emit advisory signals"`
	goconfig.ConfigArgs
	logging.LogArgs
}

var defaultArgs = Args{
	Source:          source.TypePowerSupply,
	IntervalSeconds: 60,
	StateDir:        "/var/lib/battery-advisor",
	ReadingsFile:    defaultReadingsFile,
	DBFile:          "/var/lib/battery-advisor/advisories.db",
	HTTPAddress:     ":2042",
}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

// Run is the monitor subcommand. It feeds battery readings to the engine and publishes the
// advice until it is interrupted.
func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log = logging.NewLogger(args.LogLevel)

	log.Printf("Running version: %s", version)

	conf, err := ParseConfig(args.ConfigDir)
	if err != nil {
		return err
	}
	go func() {
		if err := checkConfigChanges(conf, args.ConfigDir); err != nil {
			log.Error("Failed to watch config file: ", err)
		}
	}()

	if err := os.MkdirAll(args.StateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m, err := newMonitor(args, conf, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer m.close()

	if args.HTTPAddress != "" {
		m.hub = api.NewHub(log)
		go m.hub.Run(ctx)
		srv := &http.Server{
			Addr:    args.HTTPAddress,
			Handler: m.apiServer(prometheus.DefaultGatherer).Router(),
		}
		go func() {
			log.Infof("Serving HTTP API on %s", args.HTTPAddress)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("HTTP server stopped: ", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if !args.NoDBus {
		if err := startService(m.engine); err != nil {
			return fmt.Errorf("failed to start D-Bus service: %w", err)
		}
	}

	src, err := openSource(args)
	if err != nil {
		return err
	}
	return m.run(ctx, src)
}

// openSource opens the configured source. A missing power supply battery falls back to a
// simulated one.
func openSource(args Args) (source.Source, error) {
	opts := source.Options{
		PowerSupplyName: args.PowerSupply,
		Interval:        time.Duration(args.IntervalSeconds) * time.Second,
	}
	src, err := source.New(args.Source, opts, log)
	if err != nil && args.Source == source.TypePowerSupply && args.PowerSupply == "" {
		log.Warnf("No battery found (%v), using a simulated battery", err)
		return source.New(source.TypeSimulated, source.Options{}, log)
	}
	return src, err
}

// Monitor publishes every engine update to the readings log, metrics, advisory log,
// events, D-Bus and websocket clients, and saves the engine state.
type Monitor struct {
	mu           sync.Mutex
	engine       *Engine
	metrics      *metrics.Metrics
	store        storage.Store
	hub          *api.Hub
	warner       depletionWarner
	statePath    string
	readingsFile string
	signal       func(advisor.Advisory) error
	now          func() time.Time
}

func newMonitor(args Args, conf *Config, reg prometheus.Registerer) (*Monitor, error) {
	m := &Monitor{
		engine:       NewEngine(),
		metrics:      metrics.New(reg),
		warner:       depletionWarner{conf: conf},
		statePath:    statePath(args.StateDir),
		readingsFile: args.ReadingsFile,
		now:          time.Now,
	}
	if !args.NoDBus {
		m.signal = sendAdvisorySignal
	}
	if args.DBFile != "" {
		store, err := storage.NewSQLite(args.DBFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open advisory log: %w", err)
		}
		m.store = store
	}

	if m.readingsFile != "" {
		if err := keepLastLines(m.readingsFile, maxReadings); err != nil {
			log.Warnf("Could not truncate readings file: %v", err)
		}
	}
	if err := restoreEngine(m.engine, m.statePath, m.readingsFile, m.now()); err != nil {
		log.Warnf("Starting without history: %v", err)
	}
	m.metrics.ObserveAdvisory(m.engine.Advisory(), false)

	m.engine.OnUpdate(m.handleUpdate)
	m.engine.OnReject(func(err error) {
		m.metrics.ObserveRejected()
		log.Debug("Rejected sample: ", err)
	})
	return m, nil
}

func (m *Monitor) apiServer(gatherer prometheus.Gatherer) *api.Server {
	var advisories api.AdvisoryLog
	if m.store != nil {
		advisories = m.store
	}
	return api.NewServer(m.engine, advisories, m.hub, gatherer, log)
}

func (m *Monitor) run(ctx context.Context, src source.Source) error {
	readings, err := src.Readings(ctx)
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", src.Name(), err)
	}
	log.Infof("Reading battery from %s", src.Name())

	trimTicker := time.NewTicker(trimInterval)
	defer trimTicker.Stop()
	for {
		select {
		case r, ok := <-readings:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%s stopped sending readings", src.Name())
			}
			m.processReading(r)
		case <-trimTicker.C:
			if m.readingsFile != "" {
				if err := keepLastLines(m.readingsFile, maxReadings); err != nil {
					log.Warnf("Could not truncate readings file: %v", err)
				}
			}
		case <-ctx.Done():
			log.Info("Stopping monitor")
			return nil
		}
	}
}

func (m *Monitor) processReading(r source.Reading) {
	log.Debugf("Battery reading: %.1f%% charging=%t", r.Percent, r.Charging)
	if err := m.engine.PushSample(r.Percent, r.Charging, float64(r.Time.UnixMilli())); err != nil {
		log.Warnf("Ignoring battery reading: %v", err)
	}
}

func (m *Monitor) handleUpdate(u Update) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	changed := u.Changed()
	kindChanged := u.Advisory.Kind != u.Previous.Kind

	m.metrics.ObserveSample(u.Sample)
	m.metrics.ObserveTrend(u.Trend)
	m.metrics.ObserveAdvisory(u.Advisory, changed)

	if m.readingsFile != "" {
		if err := logReading(m.readingsFile, u); err != nil {
			log.Error("Error logging battery reading: ", err)
		}
	}

	if changed {
		log.Infof("Advisory: %s", u.Advisory.WithFinishTime(now))
		if m.signal != nil {
			if err := m.signal(u.Advisory); err != nil {
				log.Error("Error sending advisory signal: ", err)
			}
		}
	}
	if kindChanged {
		if m.store != nil {
			if err := m.store.SaveAdvisory(storage.NewRecord(u.Advisory, u.Sample)); err != nil {
				log.Error("Error saving advisory: ", err)
			}
		}
		reportAdvisoryEvent(u, now)
	}

	if severity := m.warner.check(u.Advisory, now); severity != "" {
		log.Warnf("Battery depletion warning (%s): %s", severity, u.Advisory.Message)
		reportDepletionWarningEvent(u, severity, now)
	}

	if m.hub != nil {
		m.hub.Broadcast(api.MessageSample, u.Sample)
		if changed {
			m.hub.Broadcast(api.MessageAdvisory, api.NewAdvisoryView(u.Advisory, &u.Sample, now))
		}
	}

	if err := saveState(m.statePath, m.engine.Snapshot(now)); err != nil {
		log.Error("Failed to save state: ", err)
	}
}

func (m *Monitor) close() {
	if err := saveState(m.statePath, m.engine.Snapshot(m.now())); err != nil {
		log.Error("Failed to save state: ", err)
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			log.Error("Failed to close advisory log: ", err)
		}
	}
}
