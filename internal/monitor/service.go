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
	"errors"
	"runtime"
	"strings"

	"github.com/TheCacophonyProject/battery-advisor/internal/advisor"
	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
)

const (
	dbusName   = "org.cacophony.BatteryAdvisor"
	dbusPath   = "/org/cacophony/BatteryAdvisor"
	signalName = dbusName + ".Advisory"
)

type service struct {
	engine *Engine
}

func startService(e *Engine) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &service{engine: e}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
			Signals: []introspect.Signal{{
				Name: "Advisory",
				Args: []introspect.Arg{
					{Name: "message", Type: "s"},
					{Name: "kind", Type: "s"},
					{Name: "etaMinutes", Type: "i"},
				},
			}},
		}},
	}
	return introspect.NewIntrospectable(node)
}

// GetAdvisory returns the current advisory message, its kind and the minutes until the
// battery is empty, -1 when there is no estimate.
func (s service) GetAdvisory() (string, string, int32, *dbus.Error) {
	a := s.engine.Advisory()
	return a.Message, string(a.Kind), int32(etaOrNone(a)), nil
}

// GetRecentRates returns the last rates of change in %/minute, oldest first.
func (s service) GetRecentRates() ([]float64, *dbus.Error) {
	rates := s.engine.RecentRates()
	if rates == nil {
		rates = []float64{}
	}
	return rates, nil
}

// PushSample adds a battery reading from another process.
func (s service) PushSample(value float64, charging bool, timestampMillis int64) *dbus.Error {
	return dbusErr(s.engine.PushSample(value, charging, float64(timestampMillis)))
}

func dbusErr(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	return &dbus.Error{
		Name: dbusName + "." + getCallerName(),
		Body: []interface{}{err.Error()},
	}
}

func getCallerName() string {
	pcs := make([]uintptr, 8)
	n := runtime.Callers(3, pcs)
	if n == 0 {
		return ""
	}
	frame, _ := runtime.CallersFrames(pcs[:n]).Next()
	funcNames := strings.Split(frame.Function, ".")
	return funcNames[len(funcNames)-1]
}

// sendAdvisorySignal emits the advisory on the system bus.
func sendAdvisorySignal(a advisor.Advisory) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	return conn.Emit(dbusPath, signalName, a.Message, string(a.Kind), int32(etaOrNone(a)))
}
