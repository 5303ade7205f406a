package controlplane

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avocet-audio/crasd/internal/alert"
	"github.com/avocet-audio/crasd/internal/detect"
	"github.com/avocet-audio/crasd/internal/ewma"
	"github.com/avocet-audio/crasd/internal/iodev"
	"github.com/avocet-audio/crasd/internal/node"
	"github.com/avocet-audio/crasd/internal/observer"
)

func newTestPlane() (*Plane, *alert.Bus) {
	bus := alert.NewBus()
	registry := iodev.NewRegistry(nil, bus)
	return New(nil, bus, registry), bus
}

func TestSetOutputVolumeValidatesRangeAndFires(t *testing.T) {
	p, bus := newTestPlane()
	var got int32 = -1
	bus.Get(alert.OutputVolume).Subscribe(func(data any) { got = data.(int32) })

	assert.Error(t, p.SetOutputVolume(-1))
	assert.Error(t, p.SetOutputVolume(101))

	require.NoError(t, p.SetOutputVolume(42))
	bus.Drain()
	assert.Equal(t, int32(42), got)
	assert.Equal(t, int32(42), p.GetVolumeState().Volume)
}

func TestSetOutputMuteAndUserMuteAreIndependentFlags(t *testing.T) {
	p, bus := newTestPlane()
	var last observer.OutputMutePayload
	bus.Get(alert.OutputMute).Subscribe(func(data any) { last = data.(observer.OutputMutePayload) })

	p.SetOutputMute(true)
	bus.Drain()
	assert.True(t, last.Muted)
	assert.False(t, last.UserMuted)

	p.SetOutputUserMute(true)
	bus.Drain()
	assert.True(t, last.Muted, "system mute must be preserved when only user mute changes")
	assert.True(t, last.UserMuted)

	state := p.GetVolumeState()
	assert.True(t, state.SystemMute)
	assert.True(t, state.UserMute)
}

func TestSetInputMuteFiresCaptureMute(t *testing.T) {
	p, bus := newTestPlane()
	var got bool
	bus.Get(alert.CaptureMute).Subscribe(func(data any) { got = data.(bool) })

	p.SetInputMute(true)
	bus.Drain()
	assert.True(t, got)
	assert.True(t, p.GetVolumeState().CaptureMute)
}

func TestFlagsSnapshotAndSetFlagMutatesCopy(t *testing.T) {
	p, _ := newTestPlane()
	assert.False(t, p.Flags().WbsEnabled)

	p.SetFlag(func(f FeatureFlags) FeatureFlags {
		f.WbsEnabled = true
		return f
	})
	assert.True(t, p.Flags().WbsEnabled)
}

func TestRtcRunningFalseWithoutDetector(t *testing.T) {
	p, _ := newTestPlane()
	assert.False(t, p.RtcRunning())

	p.RTC = &detect.RTCDetector{}
	assert.False(t, p.RtcRunning())
}

func TestSetPlayerPlaybackStatusValidatesClosedSet(t *testing.T) {
	p, _ := newTestPlane()
	assert.Error(t, p.SetPlayerPlaybackStatus("bogus"))
	require.NoError(t, p.SetPlayerPlaybackStatus("playing"))
}

func TestSetPlayerIdentityCapsLengthAndRejectsInvalidUTF8(t *testing.T) {
	p, _ := newTestPlane()
	long := make([]byte, maxPlayerIdentityLen+50)
	for i := range long {
		long[i] = 'a'
	}
	p.SetPlayerIdentity(string(long))
	assert.Len(t, p.playerIdentity, maxPlayerIdentityLen)

	p.SetPlayerIdentity(string([]byte{0xff, 0xfe}))
	assert.Equal(t, "", p.playerIdentity)
}

func TestSetPlayerPositionRejectsNegative(t *testing.T) {
	p, _ := newTestPlane()
	assert.Error(t, p.SetPlayerPosition(-1))
	require.NoError(t, p.SetPlayerPosition(0))
}

func TestSetPlayerMetadataValidatesEachFieldIndependently(t *testing.T) {
	p, _ := newTestPlane()
	p.SetPlayerMetadata("Title", string([]byte{0xff}), "Album", 1000)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, "Title", p.playerMeta["title"])
	assert.Equal(t, "", p.playerMeta["artist"])
	assert.Equal(t, "Album", p.playerMeta["album"])
	assert.Equal(t, int64(1000), p.playerMeta["length"])
}

func TestHandleSpeakOnMuteSampleNoopWithoutDetector(t *testing.T) {
	p, bus := newTestPlane()
	fired := false
	bus.Get(alert.SpeakOnMuteDetected).Subscribe(func(data any) { fired = true })
	p.HandleSpeakOnMuteSample(true, 0)
	bus.Drain()
	assert.False(t, fired)
}

func TestHandleSpeakOnMuteSampleOnlyFiresWhileCaptureMuted(t *testing.T) {
	p, bus := newTestPlane()
	p.SpeakOnMute = detect.NewSpeakOnMuteDetector(2, 2, 0)

	fired := false
	bus.Get(alert.SpeakOnMuteDetected).Subscribe(func(data any) { fired = true })

	// Two detections in a row reach threshold, but capture isn't muted yet.
	p.HandleSpeakOnMuteSample(true, 1)
	p.HandleSpeakOnMuteSample(true, 2)
	bus.Drain()
	assert.False(t, fired, "must not fire unless system capture mute is engaged")
}

func TestHandleSpeakOnMuteSampleFiresWhenMuted(t *testing.T) {
	p, bus := newTestPlane()
	p.SpeakOnMute = detect.NewSpeakOnMuteDetector(2, 2, 0)
	p.SetInputMute(true)
	bus.Drain()

	fired := false
	bus.Get(alert.SpeakOnMuteDetected).Subscribe(func(data any) { fired = true })

	p.HandleSpeakOnMuteSample(true, 1)
	p.HandleSpeakOnMuteSample(true, 2)
	bus.Drain()
	assert.True(t, fired)
}

func TestReportEWMAPowerNoopWithoutPower(t *testing.T) {
	p, _ := newTestPlane()
	called := false
	p.ReportEWMAPower(ewma.New(0.5), func(power float64) { called = true })
	assert.False(t, called)
}

func TestReportEWMAPowerGatedOnPowerReporter(t *testing.T) {
	p, _ := newTestPlane()
	p.Power = detect.NewPowerReporter()
	p.Power.Gate = true

	meter := ewma.New(1.0)
	meter.AddSample([]int16{1000, -1000})

	var reported float64
	p.ReportEWMAPower(meter, func(power float64) { reported = power })
	assert.Greater(t, reported, 0.0)
}

func TestSetStreamCountRoutesByDirection(t *testing.T) {
	p, bus := newTestPlane()
	var output, input, postMix int32 = -1, -1, -1
	bus.Get(alert.NumActiveStreamsOutput).Subscribe(func(data any) { output = data.(int32) })
	bus.Get(alert.NumActiveStreamsInput).Subscribe(func(data any) { input = data.(int32) })
	bus.Get(alert.NumActiveStreamsPostMix).Subscribe(func(data any) { postMix = data.(int32) })

	p.SetStreamCount("output", 2)
	p.SetStreamCount("input", 1)
	p.SetStreamCount("post_mix_pre_dsp", 3)
	bus.Drain()

	assert.Equal(t, int32(2), output)
	assert.Equal(t, int32(1), input)
	assert.Equal(t, int32(3), postMix)

	gotOutput, gotInput, gotPostMix := p.StreamCounts()
	assert.Equal(t, int32(2), gotOutput)
	assert.Equal(t, int32(1), gotInput)
	assert.Equal(t, int32(3), gotPostMix)
}

func TestSetNonChromeOutputStreams(t *testing.T) {
	p, bus := newTestPlane()
	var got int32
	bus.Get(alert.NumNonChromeOutputStreams).Subscribe(func(data any) { got = data.(int32) })

	p.SetNonChromeOutputStreams(5)
	bus.Drain()
	assert.Equal(t, int32(5), got)
	assert.Equal(t, int32(5), p.NonChromeOutputStreams())
}

func TestSetInputStreamsWithPermissionFillsCanonicalOrder(t *testing.T) {
	p, _ := newTestPlane()
	perms := []observer.ClientTypePermission{{ClientType: "chrome", NumStreamsWithPermission: 1}}
	p.SetInputStreamsWithPermission(perms)

	got := p.InputStreamsWithPermission()
	require.Len(t, got, int(detect.NumClientTypes), "must always report one entry per client-type enum value (spec §8 property 10)")
	assert.Equal(t, []string{"unknown", "chrome", "lacros", "test"}, clientTypeNames(got), "entries must be in enum order")
	assert.Equal(t, uint32(1), got[detect.ClientChrome].NumStreamsWithPermission)
	assert.Equal(t, uint32(0), got[detect.ClientLacros].NumStreamsWithPermission, "unset client types report zero, not omission")
}

func clientTypeNames(perms []observer.ClientTypePermission) []string {
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = p.ClientType
	}
	return names
}

func TestSetAudioOutputActiveFiresOnlyOnChange(t *testing.T) {
	p, bus := newTestPlane()
	fires := 0
	bus.Get(alert.NonEmptyAudioStateChanged).Subscribe(func(data any) { fires++ })

	p.SetAudioOutputActive(true)
	bus.Drain()
	p.SetAudioOutputActive(true)
	bus.Drain()
	assert.Equal(t, 1, fires, "must fire only on an actual state transition")

	p.SetAudioOutputActive(false)
	bus.Drain()
	assert.Equal(t, 2, fires)
	assert.False(t, p.IsAudioOutputActive())
}

func TestDefaultOutputBufferFramesDefault(t *testing.T) {
	p, _ := newTestPlane()
	assert.Equal(t, int32(1024), p.DefaultOutputBufferFrames())
}

func TestInternalCardDetectedRoundTrip(t *testing.T) {
	p, _ := newTestPlane()
	assert.False(t, p.IsInternalCardDetected())
	p.SetInternalCardDetected(true)
	assert.True(t, p.IsInternalCardDetected())
}

func TestSetOutputNodeVolumeForwardsToRegistry(t *testing.T) {
	p, _ := newTestPlane()
	n := &node.Node{}
	base := iodev.NewBase(0, "dev", node.Output)
	base.AddNode(n)
	dev := iodev.New(base, &fakeRegistryBackend{})
	p.Registry.AddOutput(dev)

	require.NoError(t, p.SetOutputNodeVolume(n.ID, 77))
	assert.Equal(t, 77, n.Volume)

	assert.Error(t, p.SetOutputNodeVolume(node.ID{DeviceIndex: 99}, 1))
}

// fakeRegistryBackend is a minimal iodev.Backend for plane tests that
// only need a node to attach attributes to.
type fakeRegistryBackend struct{}

func (fakeRegistryBackend) ConfigureDev(dev *iodev.Base) error { return nil }
func (fakeRegistryBackend) CloseDev(dev *iodev.Base) error     { return nil }
func (fakeRegistryBackend) FramesQueued(dev *iodev.Base) (int, error) { return 0, nil }
func (fakeRegistryBackend) DelayFrames(dev *iodev.Base) (int, error)  { return 0, nil }
func (fakeRegistryBackend) GetBuffer(dev *iodev.Base, frames int) (iodev.Area, error) {
	return iodev.Area{}, nil
}
func (fakeRegistryBackend) PutBuffer(dev *iodev.Base, frames int) error { return nil }
func (fakeRegistryBackend) FlushBuffer(dev *iodev.Base) error           { return nil }
func (fakeRegistryBackend) NoStream(dev *iodev.Base, enable bool) error { return nil }
func (fakeRegistryBackend) OutputUnderrun(dev *iodev.Base) error        { return nil }
func (fakeRegistryBackend) UpdateActiveNode(dev *iodev.Base) error      { return nil }
func (fakeRegistryBackend) SetVolume(dev *iodev.Base, vol int) error    { return nil }
