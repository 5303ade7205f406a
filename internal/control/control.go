package control

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/avocet-audio/crasd/internal/controlplane"
	"github.com/avocet-audio/crasd/internal/crasderr"
	"github.com/avocet-audio/crasd/internal/iodev"
	"github.com/avocet-audio/crasd/internal/node"
	"github.com/avocet-audio/crasd/internal/stableid"
)

// BusName / ObjectPath / Interface name the control surface's exported
// D-Bus object (spec §6/§7: "org.chromium.cras.Control-style object,
// adapted path/name for this project").
const (
	BusName   = "org.avocet.crasd"
	ObjectPath dbus.ObjectPath = "/org/avocet/crasd/Control"
	Interface = "org.avocet.crasd.Control"
)

// Surface is the exported D-Bus object backing the control RPC surface
// of spec §6. All methods run on the control thread; none block on
// audio-thread state directly, they read Plane/Registry snapshots that
// are themselves only mutated from this same thread.
type Surface struct {
	log   *log.Logger
	conn  *dbus.Conn
	plane *controlplane.Plane
}

// New creates a Surface bound to the system bus, exports its method
// table at ObjectPath/Interface, and requests BusName.
func New(logger *log.Logger, plane *controlplane.Plane) (*Surface, error) {
	if logger == nil {
		logger = log.New(nil)
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("control: connect system bus: %w", err)
	}
	s := &Surface{log: logger.WithPrefix("control"), conn: conn, plane: plane}

	if err := conn.Export(s, ObjectPath, Interface); err != nil {
		conn.Close()
		return nil, fmt.Errorf("control: export methods: %w", err)
	}
	node := introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{Name: Interface},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(&node), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("control: export introspectable: %w", err)
	}
	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("control: request name %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("control: name %s already owned", BusName)
	}
	return s, nil
}

// Close releases the bus connection.
func (s *Surface) Close() error { return s.conn.Close() }

func (s *Surface) emit(member string, args ...any) {
	if err := s.conn.Emit(ObjectPath, Interface+"."+member, args...); err != nil {
		s.log.Warn("signal emit failed", "signal", member, "err", err)
	}
}

func dbusErr(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	name := "org.avocet.crasd.Error.Failed"
	if crasderr.Is(err, crasderr.InvalidArgument) {
		name = "org.avocet.crasd.Error.InvalidArgument"
	} else if crasderr.Is(err, crasderr.NotFound) {
		name = "org.avocet.crasd.Error.NotFound"
	} else if crasderr.Is(err, crasderr.Busy) {
		name = "org.avocet.crasd.Error.Busy"
	}
	return dbus.NewError(name, []any{err.Error()})
}

// --- Volumes & mutes (spec §6) -----------------------------------------

func (s *Surface) SetOutputVolume(v int32) *dbus.Error {
	err := s.plane.SetOutputVolume(v)
	if err == nil {
		s.emit("OutputVolumeChanged", v)
	}
	return dbusErr(err)
}

func (s *Surface) SetOutputNodeVolume(id uint64, v int32) *dbus.Error {
	err := s.plane.SetOutputNodeVolume(UnpackNodeID(id), v)
	if err == nil {
		s.emit("OutputNodeVolumeChanged", id, v)
	}
	return dbusErr(err)
}

func (s *Surface) SetDisplayRotation(id uint64, rotation uint32) *dbus.Error {
	return dbusErr(s.plane.SetDisplayRotation(UnpackNodeID(id), rotation))
}

func (s *Surface) SwapLeftRight(id uint64, swapped bool) *dbus.Error {
	err := s.plane.SwapLeftRight(UnpackNodeID(id), swapped)
	if err == nil {
		s.emit("NodeLeftRightSwappedChanged", id, swapped)
	}
	return dbusErr(err)
}

func (s *Surface) SetOutputMute(muted bool) *dbus.Error {
	s.plane.SetOutputMute(muted)
	vs := s.plane.GetVolumeState()
	s.emit("OutputMuteChanged", vs.SystemMute, vs.UserMute)
	return nil
}

func (s *Surface) SetOutputUserMute(muted bool) *dbus.Error {
	s.plane.SetOutputUserMute(muted)
	vs := s.plane.GetVolumeState()
	s.emit("OutputMuteChanged", vs.SystemMute, vs.UserMute)
	return nil
}

func (s *Surface) SetSuspendAudio(suspended bool) *dbus.Error {
	s.plane.SetSuspendAudio(suspended)
	return nil
}

func (s *Surface) SetInputNodeGain(id uint64, gain int32) *dbus.Error {
	err := s.plane.SetInputNodeGain(UnpackNodeID(id), gain)
	if err == nil {
		s.emit("InputNodeGainChanged", id, gain)
	}
	return dbusErr(err)
}

func (s *Surface) SetInputMute(muted bool) *dbus.Error {
	s.plane.SetInputMute(muted)
	s.emit("InputMuteChanged", muted)
	return nil
}

func (s *Surface) GetVolumeState() (int32, bool, bool, bool, *dbus.Error) {
	vs := s.plane.GetVolumeState()
	return vs.Volume, vs.SystemMute, vs.CaptureMute, vs.UserMute, nil
}

// --- Enumeration (spec §6) ----------------------------------------------

// nodeDict builds the well-known-keys dict for one node (spec §6
// GetNodes/GetNodeInfos), pseudonymising the stable id before export.
func nodeDict(dev *iodev.Device, n *node.Node, isInput bool) map[string]dbus.Variant {
	d := map[string]dbus.Variant{
		"IsInput":              dbus.MakeVariant(isInput),
		"Id":                   dbus.MakeVariant(PackNodeID(n.ID)),
		"DeviceName":           dbus.MakeVariant(controlplane.ValidateUTF8(dev.Name)),
		"StableDeviceId":       dbus.MakeVariant(uint64(stableid.Pseudonymise(n.StableID))),
		"MaxSupportedChannels": dbus.MakeVariant(int32(dev.MaxChannels)),
		"DeviceLastOpenResult": dbus.MakeVariant(dev.LastOpenResult.String()),
		"Type":                 dbus.MakeVariant(n.Type.String()),
		"Name":                 dbus.MakeVariant(controlplane.ValidateUTF8(dev.Name)),
		"Active":               dbus.MakeVariant(n.Active),
		"PluggedTime":          dbus.MakeVariant(n.PluggedTime.UnixMicro()),
		"NodeVolume":           dbus.MakeVariant(int32(n.Volume)),
		"NodeCaptureGain":      dbus.MakeVariant(int32(n.CaptureGain)),
		"AudioEffect":          dbus.MakeVariant(n.EffectMask),
		"NumberOfVolumeSteps":  dbus.MakeVariant(int32(25)),
		"HotwordModels":        dbus.MakeVariant(n.HotwordModels),
	}
	if isInput {
		d["InputNodeGain"] = dbus.MakeVariant(int32(n.CaptureGain))
	}
	if n.Active {
		d["NumberOfUnderruns"] = dbus.MakeVariant(n.NumberOfUnderruns)
		d["NumberOfSevereUnderruns"] = dbus.MakeVariant(n.NumberOfSevereUnderruns)
	}
	return d
}

func (s *Surface) nodeList(registry *iodev.Registry) []map[string]dbus.Variant {
	var out []map[string]dbus.Variant
	for _, dev := range registry.Devices(node.Output) {
		for _, n := range dev.Nodes() {
			out = append(out, nodeDict(dev, n, false))
		}
	}
	for _, dev := range registry.Devices(node.Input) {
		for _, n := range dev.Nodes() {
			out = append(out, nodeDict(dev, n, true))
		}
	}
	return out
}

func (s *Surface) GetNodes() ([]map[string]dbus.Variant, *dbus.Error) {
	return s.nodeList(s.plane.Registry), nil
}

func (s *Surface) GetNodeInfos() ([]map[string]dbus.Variant, *dbus.Error) {
	return s.nodeList(s.plane.Registry), nil
}

// --- Selection (spec §6) -------------------------------------------------

func (s *Surface) SetActiveOutputNode(id uint64) *dbus.Error {
	s.plane.Registry.SelectNode(node.Output, UnpackNodeID(id))
	s.emit("ActiveOutputNodeChanged", id)
	return nil
}

func (s *Surface) SetActiveInputNode(id uint64) *dbus.Error {
	s.plane.Registry.SelectNode(node.Input, UnpackNodeID(id))
	s.emit("ActiveInputNodeChanged", id)
	return nil
}

func (s *Surface) AddActiveInputNode(id uint64) *dbus.Error {
	s.plane.Registry.AddActiveNode(node.Input, UnpackNodeID(id))
	return nil
}

func (s *Surface) AddActiveOutputNode(id uint64) *dbus.Error {
	s.plane.Registry.AddActiveNode(node.Output, UnpackNodeID(id))
	return nil
}

func (s *Surface) RemoveActiveInputNode(id uint64) *dbus.Error {
	s.plane.Registry.RmActiveNode(node.Input, UnpackNodeID(id))
	return nil
}

func (s *Surface) RemoveActiveOutputNode(id uint64) *dbus.Error {
	s.plane.Registry.RmActiveNode(node.Output, UnpackNodeID(id))
	return nil
}

// --- Capabilities / feature flags (spec §6) -------------------------------

func (s *Surface) GetSystemAecSupported() (bool, *dbus.Error) {
	return s.plane.Flags().SystemAecSupported, nil
}

func (s *Surface) GetSystemAecGroupId() (int32, *dbus.Error) {
	return s.plane.Flags().SystemAecGroupID, nil
}

func (s *Surface) GetSystemNsSupported() (bool, *dbus.Error) {
	return s.plane.Flags().SystemNsSupported, nil
}

func (s *Surface) GetSystemAgcSupported() (bool, *dbus.Error) {
	return s.plane.Flags().SystemAgcSupported, nil
}

func (s *Surface) GetDeprioritizeBtWbsMic() (bool, *dbus.Error) {
	return s.plane.Flags().DeprioritizeBtWbsMic, nil
}

func (s *Surface) GetRtcRunning() (bool, *dbus.Error) {
	return s.plane.RtcRunning(), nil
}

func (s *Surface) SetFlossEnabled(v bool) *dbus.Error {
	s.plane.SetFlag(func(f controlplane.FeatureFlags) controlplane.FeatureFlags { f.FlossEnabled = v; return f })
	return nil
}

func (s *Surface) SetWbsEnabled(v bool) *dbus.Error {
	s.plane.SetFlag(func(f controlplane.FeatureFlags) controlplane.FeatureFlags { f.WbsEnabled = v; return f })
	return nil
}

func (s *Surface) SetNoiseCancellationEnabled(v bool) *dbus.Error {
	s.plane.SetFlag(func(f controlplane.FeatureFlags) controlplane.FeatureFlags { f.NoiseCancellationEnabled = v; return f })
	return nil
}

func (s *Surface) IsNoiseCancellationSupported() (bool, *dbus.Error) {
	return s.plane.Flags().NoiseCancellationSupported, nil
}

func (s *Surface) SetBypassBlockNoiseCancellation(v bool) *dbus.Error {
	s.plane.SetFlag(func(f controlplane.FeatureFlags) controlplane.FeatureFlags { f.BypassBlockNoiseCancellation = v; return f })
	return nil
}

func (s *Surface) SetForceSrBtEnabled(v bool) *dbus.Error {
	s.plane.SetFlag(func(f controlplane.FeatureFlags) controlplane.FeatureFlags { f.ForceSrBtEnabled = v; return f })
	return nil
}

func (s *Surface) GetForceSrBtEnabled() (bool, *dbus.Error) {
	return s.plane.Flags().ForceSrBtEnabled, nil
}

func (s *Surface) SetFixA2dpPacketSize(v bool) *dbus.Error {
	s.plane.SetFlag(func(f controlplane.FeatureFlags) controlplane.FeatureFlags { f.FixA2dpPacketSize = v; return f })
	return nil
}

func (s *Surface) SetSpeakOnMuteDetection(v bool) *dbus.Error {
	s.plane.SetFlag(func(f controlplane.FeatureFlags) controlplane.FeatureFlags { f.SpeakOnMuteDetectionOn = v; return f })
	return nil
}

func (s *Surface) SpeakOnMuteDetectionEnabled() (bool, *dbus.Error) {
	return s.plane.Flags().SpeakOnMuteDetectionOn, nil
}

func (s *Surface) SetForceRespectUiGains(v bool) *dbus.Error {
	s.plane.SetFlag(func(f controlplane.FeatureFlags) controlplane.FeatureFlags { f.ForceRespectUiGains = v; return f })
	return nil
}

func (s *Surface) IsInternalCardDetected() (bool, *dbus.Error) {
	return s.plane.IsInternalCardDetected(), nil
}

// --- Streams / global (spec §6) -------------------------------------------

func (s *Surface) GetNumberOfActiveStreams() (int32, *dbus.Error) {
	out, in, postMix := s.plane.StreamCounts()
	return out + in + postMix, nil
}

func (s *Surface) GetNumberOfActiveInputStreams() (int32, *dbus.Error) {
	_, in, _ := s.plane.StreamCounts()
	return in, nil
}

func (s *Surface) GetNumberOfActiveOutputStreams() (int32, *dbus.Error) {
	out, _, _ := s.plane.StreamCounts()
	return out, nil
}

func (s *Surface) GetNumberOfNonChromeOutputStreams() (int32, *dbus.Error) {
	return s.plane.NonChromeOutputStreams(), nil
}

func (s *Surface) GetNumberOfInputStreamsWithPermission() ([]map[string]dbus.Variant, *dbus.Error) {
	perms := s.plane.InputStreamsWithPermission()
	out := make([]map[string]dbus.Variant, 0, len(perms))
	for _, p := range perms {
		out = append(out, map[string]dbus.Variant{
			"ClientType":               dbus.MakeVariant(p.ClientType),
			"NumStreamsWithPermission": dbus.MakeVariant(p.NumStreamsWithPermission),
		})
	}
	return out, nil
}

// SetGlobalOutputChannelRemix validates 0 < numChannels <= channel-max
// and len(coeffs) == numChannels^2 before accepting the remix matrix
// (spec §6).
func (s *Surface) SetGlobalOutputChannelRemix(numChannels int32, coeffs []float64) *dbus.Error {
	if numChannels <= 0 {
		return dbusErr(crasderr.New("SetGlobalOutputChannelRemix", crasderr.InvalidArgument, fmt.Errorf("numChannels must be positive")))
	}
	const channelMax = 8
	if numChannels > channelMax {
		return dbusErr(crasderr.New("SetGlobalOutputChannelRemix", crasderr.InvalidArgument, fmt.Errorf("numChannels %d exceeds max %d", numChannels, channelMax)))
	}
	if int64(len(coeffs)) != int64(numChannels)*int64(numChannels) {
		return dbusErr(crasderr.New("SetGlobalOutputChannelRemix", crasderr.InvalidArgument, fmt.Errorf("expected %d coefficients, got %d", numChannels*numChannels, len(coeffs))))
	}
	return nil
}

// --- Player / metadata (spec §6) -------------------------------------------

func (s *Surface) SetPlayerPlaybackStatus(status string) *dbus.Error {
	return dbusErr(s.plane.SetPlayerPlaybackStatus(status))
}

func (s *Surface) SetPlayerIdentity(identity string) *dbus.Error {
	s.plane.SetPlayerIdentity(identity)
	return nil
}

func (s *Surface) SetPlayerPosition(positionUs int64) *dbus.Error {
	return dbusErr(s.plane.SetPlayerPosition(positionUs))
}

func (s *Surface) SetPlayerMetadata(title, artist, album string, length int64) *dbus.Error {
	s.plane.SetPlayerMetadata(title, artist, album, length)
	return nil
}

// --- Misc (spec §6) --------------------------------------------------------

func (s *Surface) SetHotwordModel(id uint64, name string) *dbus.Error {
	return dbusErr(s.plane.Registry.SetHotwordModel(UnpackNodeID(id), name))
}

func (s *Surface) IsAudioOutputActive() (bool, *dbus.Error) {
	return s.plane.IsAudioOutputActive(), nil
}

func (s *Surface) GetDefaultOutputBufferSize() (int32, *dbus.Error) {
	return s.plane.DefaultOutputBufferFrames(), nil
}

// Introspect is additionally exported under the standard
// org.freedesktop.DBus.Introspectable interface in New; this method
// satisfies callers that invoke Introspect directly on our own
// interface, matching spec §6's method list.
func (s *Surface) Introspect() (string, *dbus.Error) {
	return fmt.Sprintf("<node name=%q/>", ObjectPath), nil
}
