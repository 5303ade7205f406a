// Package bluetooth implements the BT profile policy state machine and
// its companion BT-audio iodev family (spec §4.5): connection watch,
// profile switch, and suspend scheduling for a remote peer, plus the
// A2DP PCM, HFP SCO, and HFP-over-ALSA shim iodevs whose lifecycle it
// drives.
package bluetooth

import (
	"sync"

	"github.com/avocet-audio/crasd/internal/iodev"
	"github.com/avocet-audio/crasd/internal/stableid"
)

func hashAddress(address string) uint32 {
	return stableid.Hash("bt", address)
}

// Profile is a bit in the supported/connected profile bitmask.
type Profile uint32

const (
	ProfileA2DPSink Profile = 1 << iota
	ProfileA2DPSource
	ProfileHFPHandsfree
	ProfileHFPAudioGateway
)

// Device is the logical remote peer (spec §3 "BT device"). It is valid
// for the duration of every policy message it receives; the registry
// that owns Devices guarantees this by only removing a Device from the
// control thread, the same thread that dispatches policy messages.
type Device struct {
	mu sync.Mutex

	ID                string // stable BlueZ object path, e.g. /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF
	Address           string
	SupportedProfiles Profile
	connectedProfiles Profile

	Manager *IOManager

	// generation increments on Remove so a timer callback scheduled
	// before removal can detect it fired against a dead device (spec §9
	// "weak... invalidated on teardown via a generation check").
	generation int
	removed    bool
}

// NewDevice creates a device with its I/O manager.
func NewDevice(id, address string, supported Profile) *Device {
	d := &Device{ID: id, Address: address, SupportedProfiles: supported}
	d.Manager = &IOManager{device: d}
	return d
}

// StableID derives the device's stable id from its BT address, which is
// never emitted raw on the control surface — callers must run it through
// internal/stableid.Pseudonymise before external use.
func (d *Device) StableID() uint32 {
	return hashAddress(d.Address)
}

// ConnectedProfiles returns the current connected-profile bitmask.
func (d *Device) ConnectedProfiles() Profile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectedProfiles
}

// SetProfileConnected records a profile as connected or disconnected.
func (d *Device) SetProfileConnected(p Profile, connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if connected {
		d.connectedProfiles |= p
	} else {
		d.connectedProfiles &^= p
	}
}

// Generation returns the device's current teardown generation, for
// timer callbacks to validate against before touching the device.
func (d *Device) Generation() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generation
}

// Remove marks the device torn down and bumps its generation so any
// pending timer's captured generation goes stale.
func (d *Device) Remove() {
	d.mu.Lock()
	d.removed = true
	d.generation++
	d.mu.Unlock()
}

// Removed reports whether Remove has been called.
func (d *Device) Removed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removed
}

// IOManager pairs an input and output BT iodev for one device (spec §3
// "BT I/O manager"). Ownership: the Device owns the manager; iodevs hold
// a non-owning back-pointer to it via iodev.Base.BTManager.
type IOManager struct {
	device *Device

	mu                 sync.Mutex
	Input              *iodev.Device
	Output             *iodev.Device
	isProfileSwitching bool
}

// Device returns the owning BT device.
func (m *IOManager) Device() *Device { return m.device }

// IsProfileSwitching reports whether a profile switch is in progress
// (spec §4.5, §8 property 5).
func (m *IOManager) IsProfileSwitching() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isProfileSwitching
}

func (m *IOManager) setSwitching(v bool) {
	m.mu.Lock()
	m.isProfileSwitching = v
	m.mu.Unlock()
}
