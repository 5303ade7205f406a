// Package ucm implements the read-only, typed query facade over a
// card's use-case database (spec §4.3). Actual UCM file lookup/parsing
// is out of scope (spec §1); Manager consumes it through the Source
// interface.
package ucm

import (
	"fmt"
	"strings"

	"github.com/avocet-audio/crasd/internal/crasderr"
	"github.com/avocet-audio/crasd/internal/node"
)

// Source is the abstract UCM config collaborator. A real implementation
// looks these up against alsa-lib's snd_use_case_mgr; tests supply a
// fake backed by a map.
type Source interface {
	// Lookup returns the raw string value of identifier within the
	// current verb (and device/modifier context, encoded into
	// identifier per alsa-lib convention), or ("", false) if absent.
	Lookup(identifier string) (string, bool)
	// SetEnabled enables or disables a device/modifier by name.
	SetEnabled(name string, enabled bool) error
	// SetVerb sets the active use-case verb.
	SetVerb(verb string) error
	// EnableVerb enables whatever verb was most recently set.
	EnableVerb() error
	// Devices lists every device name the verb declares.
	Devices() []string
	// Modifiers lists every modifier name the verb declares.
	Modifiers() []string
}

// Manager is the typed query layer of spec §4.3.
type Manager struct {
	src Source

	// enabledState caches the last known enabled/disabled value per
	// device/modifier name so SetEnabled's no-op invariant (spec §4.3,
	// §8 property 4) is observable without reaching into the source on
	// every call.
	enabledState map[string]bool
	lastVerb     string
}

// New wraps src.
func New(src Source) *Manager {
	return &Manager{src: src, enabledState: make(map[string]bool)}
}

func key(dev string, dir node.Direction) string {
	if dir == node.Input {
		return dev + "/CapturePCM"
	}
	return dev + "/PlaybackPCM"
}

// GetDevForJack matches a jack name against JackDev/JackControl for
// every device in the verb, excluding Mic devices for output direction
// and non-Mic devices for input direction (spec §4.3).
func (m *Manager) GetDevForJack(jack string, dir node.Direction) (string, bool) {
	for _, dev := range m.src.Devices() {
		isMic := strings.Contains(strings.ToLower(dev), "mic")
		if dir == node.Output && isMic {
			continue
		}
		if dir == node.Input && !isMic {
			continue
		}
		if v, ok := m.src.Lookup(dev + "/JackDev"); ok && v == jack {
			return dev, true
		}
		if v, ok := m.src.Lookup(dev + "/JackControl"); ok && v == jack {
			return dev, true
		}
	}
	return "", false
}

// GetDevForMixer matches a mixer control name against PlaybackMixerElem
// / CaptureMixerElem.
func (m *Manager) GetDevForMixer(mixer string, dir node.Direction) (string, bool) {
	field := "PlaybackMixerElem"
	if dir == node.Input {
		field = "CaptureMixerElem"
	}
	for _, dev := range m.src.Devices() {
		if v, ok := m.src.Lookup(dev + "/" + field); ok && v == mixer {
			return dev, true
		}
	}
	return "", false
}

// GetPlaybackMixerElem returns the device's playback mixer element name.
func (m *Manager) GetPlaybackMixerElem(dev string) (string, bool) {
	return m.src.Lookup(dev + "/PlaybackMixerElem")
}

// GetCaptureMixerElem returns the device's capture mixer element name.
func (m *Manager) GetCaptureMixerElem(dev string) (string, bool) {
	return m.src.Lookup(dev + "/CaptureMixerElem")
}

// GetSampleRate returns the configured sample rate for dev/dir.
func (m *Manager) GetSampleRate(dev string, dir node.Direction) (int, error) {
	v, ok := m.src.Lookup(key(dev, dir) + "Rate")
	if !ok {
		return 0, crasderr.New("GetSampleRate", crasderr.NotFound, fmt.Errorf("dev %q", dev))
	}
	var rate int
	if _, err := fmt.Sscanf(v, "%d", &rate); err != nil {
		return 0, crasderr.New("GetSampleRate", crasderr.InvalidArgument, err)
	}
	return rate, nil
}

// GetChannels returns the configured channel count for dev/dir.
func (m *Manager) GetChannels(dev string, dir node.Direction) (int, error) {
	v, ok := m.src.Lookup(key(dev, dir) + "Channels")
	if !ok {
		return 0, crasderr.New("GetChannels", crasderr.NotFound, fmt.Errorf("dev %q", dev))
	}
	var ch int
	if _, err := fmt.Sscanf(v, "%d", &ch); err != nil {
		return 0, crasderr.New("GetChannels", crasderr.InvalidArgument, err)
	}
	return ch, nil
}

// GetCaptureChannelMap returns the 11-entry capture channel map, or an
// InvalidArgument error if the configured value does not have exactly
// 11 entries (spec §4.3).
func (m *Manager) GetCaptureChannelMap(dev string) ([11]int, error) {
	var out [11]int
	v, ok := m.src.Lookup(dev + "/CaptureChannelMap")
	if !ok {
		return out, crasderr.New("GetCaptureChannelMap", crasderr.NotFound, fmt.Errorf("dev %q", dev))
	}
	fields := strings.Fields(v)
	if len(fields) != 11 {
		return out, crasderr.New("GetCaptureChannelMap", crasderr.InvalidArgument,
			fmt.Errorf("expected 11 entries, got %d", len(fields)))
	}
	for i, f := range fields {
		if _, err := fmt.Sscanf(f, "%d", &out[i]); err != nil {
			return out, crasderr.New("GetCaptureChannelMap", crasderr.InvalidArgument, err)
		}
	}
	return out, nil
}

// GetDefaultNodeGain returns the device's default node gain in 0.01 dB
// units.
func (m *Manager) GetDefaultNodeGain(dev string) (int, error) {
	return m.lookupInt(dev+"/DefaultNodeGain", "GetDefaultNodeGain")
}

// GetIntrinsicSensitivity returns the device's intrinsic sensitivity in
// 0.01 dB units.
func (m *Manager) GetIntrinsicSensitivity(dev string) (int, error) {
	return m.lookupInt(dev+"/IntrinsicSensitivity", "GetIntrinsicSensitivity")
}

func (m *Manager) lookupInt(id, op string) (int, error) {
	v, ok := m.src.Lookup(id)
	if !ok {
		return 0, crasderr.New(op, crasderr.NotFound, fmt.Errorf("%q", id))
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, crasderr.New(op, crasderr.InvalidArgument, err)
	}
	return n, nil
}

// GetDSPName returns the device's DSP pipeline name, if any.
func (m *Manager) GetDSPName(dev string) (string, bool) {
	return m.src.Lookup(dev + "/DspName")
}

// GetEDIDFile returns the device's EDID file path, if any.
func (m *Manager) GetEDIDFile(dev string) (string, bool) {
	return m.src.Lookup(dev + "/EDIDFile")
}

const hotwordModifierPrefix = "Hotword Model "

// GetHotwordModels returns a comma-joined list of model names, parsed
// from modifiers named "Hotword Model <name>" (spec §4.3).
func (m *Manager) GetHotwordModels() string {
	var names []string
	for _, mod := range m.src.Modifiers() {
		if strings.HasPrefix(mod, hotwordModifierPrefix) {
			names = append(names, strings.TrimPrefix(mod, hotwordModifierPrefix))
		}
	}
	return strings.Join(names, ",")
}

// SetHotwordModel disables every other hotword-model modifier, then
// enables the one matching name. Returns InvalidArgument if no such
// modifier exists.
func (m *Manager) SetHotwordModel(name string) error {
	target := hotwordModifierPrefix + name
	found := false
	for _, mod := range m.src.Modifiers() {
		if !strings.HasPrefix(mod, hotwordModifierPrefix) {
			continue
		}
		if mod == target {
			found = true
			continue
		}
		if err := m.SetEnabled(mod, false); err != nil {
			return err
		}
	}
	if !found {
		return crasderr.New("SetHotwordModel", crasderr.InvalidArgument, fmt.Errorf("model %q", name))
	}
	return m.SetEnabled(target, true)
}

// SetEnabled enables or disables dev, calling the underlying
// implementation only when the cached state differs from enabled (spec
// §4.3 invariant, §8 property 4).
func (m *Manager) SetEnabled(dev string, enabled bool) error {
	if cur, ok := m.enabledState[dev]; ok && cur == enabled {
		return nil
	}
	if err := m.src.SetEnabled(dev, enabled); err != nil {
		return crasderr.New("SetEnabled", crasderr.TransientIO, err)
	}
	m.enabledState[dev] = enabled
	return nil
}

// SetUseCase sets the verb only; it does not enable it (spec §4.3).
func (m *Manager) SetUseCase(verb string) error {
	if err := m.src.SetVerb(verb); err != nil {
		return crasderr.New("SetUseCase", crasderr.TransientIO, err)
	}
	m.lastVerb = verb
	return nil
}

// EnableUseCase enables the verb most recently set by SetUseCase.
func (m *Manager) EnableUseCase() error {
	return m.src.EnableVerb()
}

// NodeNoiseCancellationExists reports whether a "<node> Noise
// Cancellation" modifier exists for node.
func (m *Manager) NodeNoiseCancellationExists(nodeName string) bool {
	target := nodeName + " Noise Cancellation"
	for _, mod := range m.src.Modifiers() {
		if mod == target {
			return true
		}
	}
	return false
}

// EnableNodeNoiseCancellation enables/disables noise cancellation for
// node via its modifier. Returns CapabilityMissing if UCM does not
// advertise the modifier.
func (m *Manager) EnableNodeNoiseCancellation(nodeName string, enabled bool) error {
	if !m.NodeNoiseCancellationExists(nodeName) {
		return crasderr.New("EnableNodeNoiseCancellation", crasderr.CapabilityMissing,
			fmt.Errorf("node %q", nodeName))
	}
	return m.SetEnabled(nodeName+" Noise Cancellation", enabled)
}

// GetMainVolumeNames returns the ordered list of mixer names making up
// the main volume control chain.
func (m *Manager) GetMainVolumeNames() []string {
	v, ok := m.src.Lookup("MainVolumeNames")
	if !ok {
		return nil
	}
	return strings.Fields(v)
}
