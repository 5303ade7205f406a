package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/avocet-audio/crasd/internal/ewma"
	"github.com/avocet-audio/crasd/internal/node"
)

func TestTargetSelectorPicksFirstEligibleInputWithAPM(t *testing.T) {
	sel := &TargetSelector{}
	out := &Stream{Direction: node.Output, CBThreshold: 480, ClientType: ClientChrome, DevIdx: 100, HasAPM: true}
	noAPM := &Stream{Direction: node.Input, CBThreshold: 480, ClientType: ClientChrome, DevIdx: 100, HasAPM: false}
	ineligible := &Stream{Direction: node.Input, CBThreshold: 256, ClientType: ClientChrome, DevIdx: 100, HasAPM: true}
	want := &Stream{Direction: node.Input, CBThreshold: 480, ClientType: ClientLacros, DevIdx: 101, HasAPM: true}

	got := sel.Select([]*Stream{out, noAPM, ineligible, want})
	assert.Same(t, want, got)
	assert.Same(t, want, sel.Current())
}

func TestTargetSelectorNotifiesOnlyOnActualChange(t *testing.T) {
	sel := &TargetSelector{}
	var notifications int
	sel.NotifyTargetChanged = func(target *Stream) { notifications++ }

	s1 := &Stream{Direction: node.Input, CBThreshold: 480, ClientType: ClientChrome, DevIdx: 100, HasAPM: true}
	sel.Select([]*Stream{s1})
	assert.Equal(t, 1, notifications)

	// Selecting the same target again must not re-notify.
	sel.Select([]*Stream{s1})
	assert.Equal(t, 1, notifications)

	// No eligible stream at all: target becomes nil, one more notify.
	sel.Select(nil)
	assert.Equal(t, 2, notifications)
	assert.Nil(t, sel.Current())
}

func TestPowerReporterGatedOff(t *testing.T) {
	r := NewPowerReporter()
	r.Gate = false
	meter := ewma.New(ewma.DefaultAlpha)
	meter.AddSample([]int16{1000, -1000})

	reported := false
	r.Report(meter, func(power float64) { reported = true })
	assert.False(t, reported)
}

func TestPowerReporterNilMeterNoop(t *testing.T) {
	r := NewPowerReporter()
	r.Gate = true
	reported := false
	r.Report(nil, func(power float64) { reported = true })
	assert.False(t, reported)
}

func TestPowerReporterRespectsReportInterval(t *testing.T) {
	r := NewPowerReporter()
	r.Gate = true
	now := time.Unix(5000, 0)
	r.now = func() time.Time { return now }

	meter := ewma.New(ewma.DefaultAlpha)
	meter.AddSample([]int16{16000, -16000})

	var reports []float64
	report := func(power float64) { reports = append(reports, power) }

	r.Report(meter, report)
	assert.Len(t, reports, 1)

	// Within the interval: suppressed.
	now = now.Add(ReportInterval / 2)
	r.Report(meter, report)
	assert.Len(t, reports, 1)

	// Past the interval: reports again and drains the max.
	now = now.Add(ReportInterval)
	r.Report(meter, report)
	assert.Len(t, reports, 2)
}
