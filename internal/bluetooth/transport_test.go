package bluetooth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDBusTransportDeconflictNoopWithoutBoundPolicy(t *testing.T) {
	tr := &DBusTransport{}
	assert.NotPanics(t, func() { tr.Deconflict(nil) })
}

func TestDBusTransportBindPolicyEnablesDeconflict(t *testing.T) {
	reg := &fakeRegistry{}
	fake := &fakeTransport{}
	p := NewPolicy(nil, reg, fake, Timing{ConnWatchPeriod: time.Hour})

	tr := &DBusTransport{}
	tr.BindPolicy(p)

	d1 := NewDevice("/dev/a", "AA:BB:CC:DD:EE:01", ProfileA2DPSink)
	d1.SetProfileConnected(ProfileA2DPSink, true)
	p.StartConnectionWatch(d1) // registers d1 into p.devices without firing

	assert.NotPanics(t, func() { tr.Deconflict(nil) })
	p.StopConnectionWatch(d1)
}
