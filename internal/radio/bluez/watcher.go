// Package bluez follows the Powered property of a BlueZ adapter over the system D-Bus.
package bluez

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

const (
	service            = "org.bluez"
	adapterInterface   = "org.bluez.Adapter1"
	propertiesIface    = "org.freedesktop.DBus.Properties"
	propertiesChanged  = propertiesIface + ".PropertiesChanged"
	poweredProperty    = "Powered"
	DefaultAdapterName = "hci0"
)

// AdapterPath returns the object path of the named adapter, e.g. /org/bluez/hci0.
func AdapterPath(name string) dbus.ObjectPath {
	if name == "" {
		name = DefaultAdapterName
	}
	return dbus.ObjectPath("/org/bluez/" + name)
}

// Watcher reports adapter power changes.
type Watcher struct {
	conn   *dbus.Conn
	path   dbus.ObjectPath
	logger *logrus.Logger
}

// Dial opens a private system bus connection for the named adapter.
func Dial(adapter string, logger *logrus.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return &Watcher{conn: conn, path: AdapterPath(adapter), logger: logger}, nil
}

func (w *Watcher) Close() error {
	return w.conn.Close()
}

// Powered reads the adapter's current Powered property.
func (w *Watcher) Powered() (bool, error) {
	v, err := w.conn.Object(service, w.path).GetProperty(adapterInterface + "." + poweredProperty)
	if err != nil {
		return false, fmt.Errorf("failed to read %s power state: %w", w.path, err)
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("unexpected %s type %s", poweredProperty, v.Signature())
	}
	return powered, nil
}

// Run reports the current power state, then every change, until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, onPower func(powered bool)) error {
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(w.path),
		dbus.WithMatchInterface(propertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
	}
	if err := w.conn.AddMatchSignal(opts...); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	defer func() {
		_ = w.conn.RemoveMatchSignal(opts...)
	}()

	signals := make(chan *dbus.Signal, 16)
	w.conn.Signal(signals)
	defer w.conn.RemoveSignal(signals)

	powered, err := w.Powered()
	if err != nil {
		return err
	}
	onPower(powered)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			if powered, changed := PowerChange(sig, w.path); changed {
				w.logger.WithFields(logrus.Fields{
					"adapter": w.path,
					"powered": powered,
				}).Info("Bluetooth adapter power changed")
				onPower(powered)
			}
		}
	}
}

// PowerChange extracts a Powered update for path from a PropertiesChanged signal.
func PowerChange(sig *dbus.Signal, path dbus.ObjectPath) (powered, ok bool) {
	if sig == nil || sig.Name != propertiesChanged || sig.Path != path || len(sig.Body) < 2 {
		return false, false
	}
	if iface, _ := sig.Body[0].(string); iface != adapterInterface {
		return false, false
	}
	changed, isMap := sig.Body[1].(map[string]dbus.Variant)
	if !isMap {
		return false, false
	}
	v, exists := changed[poweredProperty]
	if !exists {
		return false, false
	}
	powered, ok = v.Value().(bool)
	return powered, ok
}
