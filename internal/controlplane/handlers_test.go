package controlplane

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avocet-audio/crasd/internal/alert"
	"github.com/avocet-audio/crasd/internal/detect"
	"github.com/avocet-audio/crasd/internal/diag"
	"github.com/avocet-audio/crasd/internal/message"
	"github.com/avocet-audio/crasd/internal/node"
	"github.com/avocet-audio/crasd/internal/observer"
)

func newTestPump(t *testing.T) *message.Pump {
	t.Helper()
	pump, err := message.New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { pump.Close() })
	return pump
}

// drainOne sends msg and drains exactly the one record it produced,
// failing the test if nothing was read.
func drainOne(t *testing.T, pump *message.Pump, msg message.Message) {
	t.Helper()
	require.NoError(t, pump.Send(msg))
	more, err := pump.Drain()
	require.NoError(t, err)
	require.True(t, more, "expected Drain to consume the sent message")
}

func TestRegisterHandlersDispatchesAudioThreadEvent(t *testing.T) {
	p, _ := newTestPlane()
	pump := newTestPump(t)

	diagHandler, err := diag.NewHandler(nil, t.TempDir())
	require.NoError(t, err)
	fired := false
	diagHandler.FireSevereUnderrun = func() { fired = true }
	p.Diag = diagHandler
	p.RegisterHandlers(pump)

	drainOne(t, pump, message.Message{
		Tag:  message.AudioThreadEvent,
		Data: EncodeAudioThreadEvent(diag.EventSevereUnderrun, "severe underrun"),
	})

	assert.True(t, fired, "AUDIO_THREAD_EVENT for a severe underrun must reach Diag.Handle and fire the alert callback")
}

func TestRegisterHandlersDispatchesSpeakOnMute(t *testing.T) {
	p, bus := newTestPlane()
	pump := newTestPump(t)

	p.SpeakOnMute = detect.NewSpeakOnMuteDetector(4, 4, time.Minute)
	p.SetInputMute(true)

	var fired bool
	bus.Get(alert.SpeakOnMuteDetected).Subscribe(func(data any) { fired = true })
	p.RegisterHandlers(pump)

	now := time.Now()
	for i := 0; i < 4; i++ {
		drainOne(t, pump, message.Message{
			Tag:  message.SpeakOnMute,
			Data: EncodeSpeakOnMuteSample(true, now.Add(time.Duration(i)*time.Millisecond).UnixNano()),
		})
	}
	bus.Drain()

	assert.True(t, fired, "SPEAK_ON_MUTE samples meeting threshold while capture-muted must fire speak_on_mute_detected")
}

func TestRegisterHandlersDispatchesHotwordTriggered(t *testing.T) {
	p, bus := newTestPlane()
	pump := newTestPump(t)

	var got observer.HotwordPayload
	bus.Get(alert.HotwordTriggered).Subscribe(func(data any) { got = data.(observer.HotwordPayload) })
	p.RegisterHandlers(pump)

	drainOne(t, pump, message.Message{
		Tag:  message.HotwordTriggered,
		Data: EncodeHotwordTriggered(100, 250),
	})
	bus.Drain()

	assert.Equal(t, int64(100), got.TagBegin)
	assert.Equal(t, int64(250), got.TagEnd)
}

func TestRegisterHandlersDispatchesEWMAPowerReportWithoutPanic(t *testing.T) {
	p, _ := newTestPlane()
	pump := newTestPump(t)
	p.RegisterHandlers(pump)

	assert.NotPanics(t, func() {
		drainOne(t, pump, message.Message{
			Tag:  message.EWMAPowerReport,
			Data: EncodeEWMAPowerReport(0.5),
		})
	})
}

func TestRegisterHandlersDispatchesStreamAPMAttachAndDetach(t *testing.T) {
	p, _ := newTestPlane()
	pump := newTestPump(t)
	p.RegisterHandlers(pump)

	in := detect.Stream{
		ID: "in-1", Direction: node.Input, CBThreshold: detect.RTCEligibleCBThreshold,
		ClientType: detect.ClientChrome, DevIdx: detect.RTCCandidateCutoff, HasAPM: true,
	}
	out := detect.Stream{
		ID: "out-1", Direction: node.Output, CBThreshold: detect.RTCEligibleCBThreshold,
		ClientType: detect.ClientChrome, DevIdx: detect.RTCCandidateCutoff,
	}
	p.RTC = &detect.RTCDetector{}
	p.Target = &detect.TargetSelector{}

	drainOne(t, pump, message.Message{Tag: message.StreamAPM, Data: EncodeStreamAttach(in)})
	assert.False(t, p.RTC.Running(), "RTC needs candidates on both directions")
	require.NotNil(t, p.Target.Current(), "the VAD-eligible input stream must be selected as target")
	assert.Equal(t, "in-1", p.Target.Current().ID)

	drainOne(t, pump, message.Message{Tag: message.StreamAPM, Data: EncodeStreamAttach(out)})
	assert.True(t, p.RTC.Running(), "adding the matching output candidate must start RTC")

	drainOne(t, pump, message.Message{Tag: message.StreamAPM, Data: EncodeStreamDetach(in)})
	assert.False(t, p.RTC.Running(), "removing the input candidate must stop RTC")
	assert.Nil(t, p.Target.Current(), "detaching the target stream must clear target selection")
}

func TestAttachDetachStreamDirectly(t *testing.T) {
	p, _ := newTestPlane()
	p.RTC = &detect.RTCDetector{}
	p.Target = &detect.TargetSelector{}

	s := detect.Stream{
		ID: "s1", Direction: node.Input, CBThreshold: detect.RTCEligibleCBThreshold,
		ClientType: detect.ClientTest, DevIdx: detect.RTCCandidateCutoff, HasAPM: true,
	}
	p.AttachStream(s)
	require.NotNil(t, p.Target.Current())
	assert.Equal(t, "s1", p.Target.Current().ID)

	p.DetachStream(s)
	assert.Nil(t, p.Target.Current())
}

func TestEncodeDecodeStreamAPMRoundTrip(t *testing.T) {
	s := detect.Stream{
		ID: "stream-xyz", Direction: node.Output, CBThreshold: 480,
		ClientType: detect.ClientLacros, DevIdx: 101, Type: detect.StreamVoiceCommunication, HasAPM: true,
	}

	op, decoded, ok := decodeStreamAPM(encodeStreamAPM(streamOpAttach, s))
	require.True(t, ok)
	assert.Equal(t, streamOpAttach, op)
	assert.Equal(t, s, decoded)

	op, decoded, ok = decodeStreamAPM(encodeStreamAPM(streamOpDetach, s))
	require.True(t, ok)
	assert.Equal(t, streamOpDetach, op)
	assert.Equal(t, s, decoded)
}

func TestDecodeStreamAPMRejectsShortPayload(t *testing.T) {
	_, _, ok := decodeStreamAPM([]byte{1, 2, 3})
	assert.False(t, ok)
}
