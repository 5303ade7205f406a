package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/avocet-audio/crasd/internal/node"
)

func TestStreamRTCEligible(t *testing.T) {
	tests := []struct {
		name string
		s    Stream
		want bool
	}{
		{"eligible chrome", Stream{CBThreshold: 480, ClientType: ClientChrome, DevIdx: 100}, true},
		{"eligible lacros", Stream{CBThreshold: 480, ClientType: ClientLacros, DevIdx: 100}, true},
		{"eligible test", Stream{CBThreshold: 480, ClientType: ClientTest, DevIdx: 100}, true},
		{"wrong threshold", Stream{CBThreshold: 256, ClientType: ClientChrome, DevIdx: 100}, false},
		{"unknown client type", Stream{CBThreshold: 480, ClientType: ClientUnknown, DevIdx: 100}, false},
		{"below cutoff", Stream{CBThreshold: 480, ClientType: ClientChrome, DevIdx: 99}, false},
		{"at cutoff", Stream{CBThreshold: 480, ClientType: ClientChrome, DevIdx: RTCCandidateCutoff}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.s.RTCEligible())
		})
	}
}

// TestRTCDetectorUpgrade mirrors spec scenario S1: an input stream alone
// stays DEFAULT; adding a qualifying output stream upgrades both.
func TestRTCDetectorUpgrade(t *testing.T) {
	d := &RTCDetector{}

	in := &Stream{Direction: node.Input, CBThreshold: 480, ClientType: ClientChrome, DevIdx: 100}
	d.AddStream(in)
	assert.Equal(t, StreamDefault, in.Type)
	assert.False(t, d.Running())

	out := &Stream{Direction: node.Output, CBThreshold: 480, ClientType: ClientChrome, DevIdx: 101}
	d.AddStream(out)
	assert.True(t, d.Running())
	assert.Equal(t, StreamVoiceCommunication, in.Type)
	assert.Equal(t, StreamVoiceCommunication, out.Type)
}

func TestRTCDetectorIgnoresIneligibleStreams(t *testing.T) {
	d := &RTCDetector{}

	in := &Stream{Direction: node.Input, CBThreshold: 256, ClientType: ClientChrome, DevIdx: 100}
	d.AddStream(in)
	out := &Stream{Direction: node.Output, CBThreshold: 480, ClientType: ClientChrome, DevIdx: 101}
	d.AddStream(out)

	assert.False(t, d.Running())
	assert.Equal(t, StreamDefault, in.Type)
}

// TestRTCDetectorLateJoinerUpgradesImmediately covers the "just-added
// stream" half of spec §8 property 8: once running, a newly eligible
// stream upgrades on arrival without waiting for another transition.
func TestRTCDetectorLateJoinerUpgradesImmediately(t *testing.T) {
	d := &RTCDetector{}
	d.AddStream(&Stream{Direction: node.Input, CBThreshold: 480, ClientType: ClientChrome, DevIdx: 100})
	d.AddStream(&Stream{Direction: node.Output, CBThreshold: 480, ClientType: ClientChrome, DevIdx: 101})
	require := assert.New(t)
	require.True(d.Running())

	late := &Stream{Direction: node.Input, CBThreshold: 480, ClientType: ClientLacros, DevIdx: 102}
	d.AddStream(late)
	require.Equal(StreamVoiceCommunication, late.Type)
}

func TestRTCDetectorRemoveStreamNotifiesOnceOnLastLeaving(t *testing.T) {
	d := &RTCDetector{}
	var notifications []bool
	d.NotifyRTCActive = func(active bool) { notifications = append(notifications, active) }

	in := &Stream{Direction: node.Input, CBThreshold: 480, ClientType: ClientChrome, DevIdx: 100}
	out := &Stream{Direction: node.Output, CBThreshold: 480, ClientType: ClientChrome, DevIdx: 101}
	d.AddStream(in)
	d.AddStream(out)
	assert.True(t, d.Running())

	d.RemoveStream(in)
	assert.False(t, d.Running())
	assert.Equal(t, []bool{false}, notifications)

	// Removing the remaining (already-empty-sided) stream must not fire
	// NotifyRTCActive a second time: RTC mode already ended.
	d.RemoveStream(out)
	assert.Equal(t, []bool{false}, notifications)
}

func TestRTCDetectorRemoveStreamNoOpWhenNeverRunning(t *testing.T) {
	d := &RTCDetector{}
	called := false
	d.NotifyRTCActive = func(active bool) { called = true }

	in := &Stream{Direction: node.Input, CBThreshold: 480, ClientType: ClientChrome, DevIdx: 100}
	d.AddStream(in)
	d.RemoveStream(in)

	assert.False(t, called)
	assert.False(t, d.Running())
}
