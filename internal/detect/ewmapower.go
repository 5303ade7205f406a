package detect

import (
	"time"

	"github.com/avocet-audio/crasd/internal/ewma"
	"github.com/avocet-audio/crasd/internal/node"
)

// ReportInterval is the EWMA power reporter's cadence cap (spec §4.6:
// "at most every 100 ms").
const ReportInterval = 100 * time.Millisecond

// TargetSelector picks the single input stream providing VAD for
// speak-on-mute and EWMA reporting (spec §4.6 "VAD target selection"):
// the first input stream that is RTC-eligible and has an attached APM
// instance. NotifyTargetChanged fires exactly once per actual change,
// modelling the spec's "audio thread is notified exactly once."
type TargetSelector struct {
	current *Stream

	NotifyTargetChanged func(target *Stream)
}

// Select scans streams in order and updates the current target,
// notifying only if it actually changed.
func (t *TargetSelector) Select(streams []*Stream) *Stream {
	var next *Stream
	for _, s := range streams {
		if s.Direction != node.Input {
			continue
		}
		if s.RTCEligible() && s.HasAPM {
			next = s
			break
		}
	}
	if next != t.current {
		t.current = next
		if t.NotifyTargetChanged != nil {
			t.NotifyTargetChanged(next)
		}
	}
	return t.current
}

// Current returns the presently selected target, or nil.
func (t *TargetSelector) Current() *Stream { return t.current }

// PowerReporter reports the selected target's EWMA power at most every
// ReportInterval, bypassed entirely while Gate is false (spec §4.6).
type PowerReporter struct {
	Gate bool

	lastReport time.Time
	now        func() time.Time // injectable clock for tests
}

// NewPowerReporter creates a reporter using the real clock.
func NewPowerReporter() *PowerReporter {
	return &PowerReporter{now: time.Now}
}

// Report reports meter's accumulated max power (drained via DrainMax) if
// Gate is true and at least ReportInterval has elapsed since the last
// report; report receives the value to forward to the EWMA_POWER_REPORT
// message.
func (r *PowerReporter) Report(meter *ewma.Meter, report func(power float64)) {
	if !r.Gate || meter == nil {
		return
	}
	now := r.now()
	if !r.lastReport.IsZero() && now.Sub(r.lastReport) < ReportInterval {
		return
	}
	r.lastReport = now
	if report != nil {
		report(meter.DrainMax())
	}
}
