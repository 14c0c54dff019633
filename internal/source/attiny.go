package source

import (
	"context"
	"fmt"
	"time"

	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/godbus/dbus/v5"
)

const (
	attinyInterface     = "org.cacophony.attiny"
	attinyBatterySignal = "org.cacophony.attiny.Battery"
)

// ATtiny listens for the battery signals the ATtiny hat controller emits on the system bus.
// The signal only carries a voltage and a percentage so charging is inferred from jumps
// between readings.
type ATtiny struct {
	log *logging.Logger
	now func() time.Time
}

func NewATtiny(log *logging.Logger) *ATtiny {
	if log == nil {
		log = logging.NewLogger("info")
	}
	return &ATtiny{log: log, now: time.Now}
}

func (a *ATtiny) Name() string {
	return "attiny battery signal"
}

func (a *ATtiny) Readings(ctx context.Context) (<-chan Reading, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	rule := fmt.Sprintf("type='signal',interface='%s'", attinyInterface)
	call := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule)
	if call.Err != nil {
		return nil, fmt.Errorf("failed to add match rule: %w", call.Err)
	}

	signals := make(chan *dbus.Signal, 10)
	conn.Signal(signals)
	a.log.Println("Listening for D-Bus signals from", attinyInterface)

	readings := make(chan Reading, 10)
	go func() {
		<-ctx.Done()
		conn.RemoveSignal(signals)
		close(signals)
	}()
	go a.handleSignals(ctx, signals, readings)
	return readings, nil
}

func (a *ATtiny) handleSignals(ctx context.Context, signals <-chan *dbus.Signal, readings chan<- Reading) {
	defer close(readings)
	detector := &ChargeDetector{}
	for {
		var signal *dbus.Signal
		select {
		case <-ctx.Done():
			return
		case s, ok := <-signals:
			if !ok {
				return
			}
			signal = s
		}
		if signal.Name != attinyBatterySignal {
			continue
		}
		voltage, percent, err := parseBatterySignal(signal.Body)
		if err != nil {
			a.log.Errorf("Unexpected battery signal: %v", err)
			continue
		}
		a.log.Debugf("Battery signal: %.2fV %.1f%%", voltage, percent)
		reading := Reading{
			Percent:  percent,
			Charging: detector.Update(voltage, percent),
			Time:     a.now(),
		}
		select {
		case readings <- reading:
		case <-ctx.Done():
			return
		}
	}
}

func parseBatterySignal(body []interface{}) (voltage, percent float64, err error) {
	if len(body) != 2 {
		return 0, 0, fmt.Errorf("expected 2 values in body, got %d", len(body))
	}
	voltage, ok := body[0].(float64)
	if !ok {
		return 0, 0, fmt.Errorf("voltage is %T, not float64", body[0])
	}
	percent, ok = body[1].(float64)
	if !ok {
		return 0, 0, fmt.Errorf("percent is %T, not float64", body[1])
	}
	return voltage, percent, nil
}

// ChargeDetector infers the charging state from consecutive voltage and percentage readings.
// A rise of more than 0.5V or 5% starts charging, any drop in percentage ends it.
type ChargeDetector struct {
	charging        bool
	previousVoltage float64
	previousPercent float64
	seen            bool
}

func (d *ChargeDetector) Update(voltage, percent float64) bool {
	if d.seen {
		switch {
		case voltage > d.previousVoltage+0.5, percent > d.previousPercent+5:
			d.charging = true
		case percent < d.previousPercent:
			d.charging = false
		}
	}
	d.previousVoltage = voltage
	d.previousPercent = percent
	d.seen = true
	return d.charging
}
