package bluetooth

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/muka/go-bluetooth/bluez/profile/adapter"
	"github.com/muka/go-bluetooth/bluez/profile/device"
)

// Transport is the "generic async RPC" collaborator spec §4.5 names
// abstractly: the BT policy issues profile connect/disconnect requests
// and deconflict/suspend calls through it, without knowing D-Bus
// transport details (spec §1 explicitly keeps D-Bus marshalling out of
// scope).
type Transport interface {
	// ConnectProfile asks BlueZ to connect uuid on the device at path.
	ConnectProfile(path, uuid string) error
	// Disconnect asks BlueZ to tear down the ACL connection entirely.
	Disconnect(path string) error
	// Deconflict suspends audio on every other BT peer currently holding
	// it, so the newly-ready device can take over (spec §4.5 "connection
	// watch" step).
	Deconflict(except *Device)
}

// DBusTransport is the production Transport, backed by BlueZ's D-Bus
// object-manager API via godbus/dbus/v5 and muka/go-bluetooth's typed
// Device1/Adapter1 proxies.
type DBusTransport struct {
	conn     *dbus.Conn
	adapter  *adapter.Adapter1
	policy   *Policy // for Deconflict's cross-device suspend calls
}

// NewDBusTransport connects to the system bus and wraps adapterID
// (e.g. "hci0") for profile-connect calls.
func NewDBusTransport(adapterID string) (*DBusTransport, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluetooth: connect system bus: %w", err)
	}
	a, err := adapter.NewAdapter1FromAdapterID(adapterID)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bluetooth: adapter %s: %w", adapterID, err)
	}
	return &DBusTransport{conn: conn, adapter: a}, nil
}

// BindPolicy lets Deconflict reach back into the policy state machine to
// suspend other devices. Set once during bring-up.
func (t *DBusTransport) BindPolicy(p *Policy) { t.policy = p }

func (t *DBusTransport) deviceProxy(path string) (*device.Device1, error) {
	return device.NewDevice1(dbus.ObjectPath(path))
}

// ConnectProfile calls org.bluez.Device1.ConnectProfile(uuid).
func (t *DBusTransport) ConnectProfile(path, uuid string) error {
	dev, err := t.deviceProxy(path)
	if err != nil {
		return fmt.Errorf("bluetooth: device proxy %s: %w", path, err)
	}
	if err := dev.ConnectProfile(uuid); err != nil {
		return fmt.Errorf("bluetooth: connect profile %s on %s: %w", uuid, path, err)
	}
	return nil
}

// Disconnect calls org.bluez.Device1.Disconnect().
func (t *DBusTransport) Disconnect(path string) error {
	dev, err := t.deviceProxy(path)
	if err != nil {
		return fmt.Errorf("bluetooth: device proxy %s: %w", path, err)
	}
	if err := dev.Disconnect(); err != nil {
		return fmt.Errorf("bluetooth: disconnect %s: %w", path, err)
	}
	return nil
}

// Deconflict asks the policy to suspend every device other than except
// that currently holds an active BT profile.
func (t *DBusTransport) Deconflict(except *Device) {
	if t.policy == nil {
		return
	}
	t.policy.suspendOthers(except)
}
