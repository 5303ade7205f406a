// Package detect implements the three stream-level detectors that feed
// the observer/alert bus (spec §4.6): the RTC (real-time-communication)
// detector, the speak-on-mute detector, and the EWMA power reporter.
package detect

import (
	"github.com/avocet-audio/crasd/internal/node"
)

// ClientType is the small set of stream producers the RTC detector and
// VAD target selection care about (spec §4.6: "client-type is in
// {CHROME, LACROS, TEST}").
type ClientType int

const (
	ClientUnknown ClientType = iota
	ClientChrome
	ClientLacros
	ClientTest

	// NumClientTypes is the fixed cardinality of the client-type enum —
	// the count GetNumberOfInputStreamsWithPermission must always report
	// (spec §8 property 10), analogous to the original's
	// CRAS_NUM_CLIENT_TYPE.
	NumClientTypes
)

func (c ClientType) String() string {
	switch c {
	case ClientChrome:
		return "chrome"
	case ClientLacros:
		return "lacros"
	case ClientTest:
		return "test"
	default:
		return "unknown"
	}
}

// StreamType is a stream's current routing classification.
type StreamType int

const (
	StreamDefault StreamType = iota
	StreamVoiceCommunication
)

// RTCCandidateCutoff is the reserved-range device-index cutoff below
// which a stream can never be RTC-eligible (spec §4.6: "implementation-
// defined"). 100 matches the device-index range used by the spec's own
// worked example (scenario S1 uses indices 100/101).
const RTCCandidateCutoff = 100

// RTCEligibleCBThreshold is the only callback threshold that qualifies a
// stream as an RTC candidate (spec §4.6).
const RTCEligibleCBThreshold = 480

// Stream is the minimal view the RTC detector and speak-on-mute/VAD
// selection need of a stream; the full stream model lives with the
// stream server, which is out of this repository's scope (spec §1).
type Stream struct {
	ID         string
	Direction  node.Direction
	CBThreshold int
	ClientType  ClientType
	DevIdx      uint32
	Type        StreamType
	HasAPM      bool // attached audio-processing-module instance
}

// RTCEligible reports whether s qualifies as an RTC candidate (spec
// §4.6): callback threshold exactly 480, client type in
// {CHROME,LACROS,TEST}, and target device index at or above the
// reserved-range cutoff.
func (s Stream) RTCEligible() bool {
	if s.CBThreshold != RTCEligibleCBThreshold {
		return false
	}
	switch s.ClientType {
	case ClientChrome, ClientLacros, ClientTest:
	default:
		return false
	}
	return s.DevIdx >= RTCCandidateCutoff
}

// RTCDetector tracks RTC-candidate streams on each direction and upgrades
// them to VOICE_COMMUNICATION once both lists are simultaneously
// non-empty (spec §4.6, §8 property 8).
type RTCDetector struct {
	input  []*Stream
	output []*Stream

	// NotifyRTCActive is the abstract "RTC state changed" side effect to
	// the external control surface (spec §4.6
	// "dbus_notify_rtc_active"). Called with false exactly when the last
	// candidate on either side leaves while running.
	NotifyRTCActive func(active bool)

	running bool
}

// Running reports whether RTC mode is currently active (both lists
// non-empty), the value the control surface's GetRtcRunning exposes.
func (d *RTCDetector) Running() bool { return d.running }

// AddStream registers s as an RTC candidate if eligible. If this
// addition makes both lists non-empty for the first time, every
// existing and the just-added stream upgrade to VOICE_COMMUNICATION
// (spec §8 property 8: "upgrades exactly the streams already present on
// the other side and the just-added stream").
func (d *RTCDetector) AddStream(s *Stream) {
	if !s.RTCEligible() {
		return
	}
	switch s.Direction {
	case node.Input:
		d.input = append(d.input, s)
	case node.Output:
		d.output = append(d.output, s)
	}

	if !d.running && len(d.input) > 0 && len(d.output) > 0 {
		d.running = true
		for _, in := range d.input {
			in.Type = StreamVoiceCommunication
		}
		for _, out := range d.output {
			out.Type = StreamVoiceCommunication
		}
	} else if d.running {
		s.Type = StreamVoiceCommunication
	}
}

// RemoveStream drops s from whichever list it is in. If this empties
// either list while running, RTC mode ends and NotifyRTCActive(false)
// fires exactly once; streams remaining on the other side are left
// unchanged (spec §8 property 8).
func (d *RTCDetector) RemoveStream(s *Stream) {
	switch s.Direction {
	case node.Input:
		d.input = removeStream(d.input, s)
	case node.Output:
		d.output = removeStream(d.output, s)
	}

	if d.running && (len(d.input) == 0 || len(d.output) == 0) {
		d.running = false
		if d.NotifyRTCActive != nil {
			d.NotifyRTCActive(false)
		}
	}
}

func removeStream(list []*Stream, s *Stream) []*Stream {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
