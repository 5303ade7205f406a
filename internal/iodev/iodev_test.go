package iodev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avocet-audio/crasd/internal/node"
)

// fakeBackend is a minimal Backend for exercising Device/Base without any
// real hardware dependency.
type fakeBackend struct {
	configureCalls int
	closeCalls     int
	startCalls     int
	volumeSet      int
}

func (f *fakeBackend) ConfigureDev(dev *Base) error {
	f.configureCalls++
	dev.SetFormat(Format{RateHz: 48000, Channels: 2, SampleBits: 16})
	return nil
}
func (f *fakeBackend) CloseDev(dev *Base) error { f.closeCalls++; dev.ClearFormat(); return nil }
func (f *fakeBackend) FramesQueued(dev *Base) (int, error) { return 0, nil }
func (f *fakeBackend) DelayFrames(dev *Base) (int, error)  { return 0, nil }
func (f *fakeBackend) GetBuffer(dev *Base, frames int) (Area, error) {
	return Area{Data: make([]byte, frames*4), Frames: frames}, nil
}
func (f *fakeBackend) PutBuffer(dev *Base, frames int) error { return nil }
func (f *fakeBackend) FlushBuffer(dev *Base) error           { return nil }
func (f *fakeBackend) NoStream(dev *Base, enable bool) error { return nil }
func (f *fakeBackend) OutputUnderrun(dev *Base) error        { return nil }
func (f *fakeBackend) UpdateActiveNode(dev *Base) error      { return nil }
func (f *fakeBackend) SetVolume(dev *Base, vol int) error    { f.volumeSet = vol; return nil }

type fakeStartingBackend struct {
	fakeBackend
}

func (f *fakeStartingBackend) Start(dev *Base) error { f.startCalls++; return nil }

func TestDeviceFormatLifecycle(t *testing.T) {
	base := NewBase(0, "fake out", node.Output)
	be := &fakeBackend{}
	dev := New(base, be)

	assert.Nil(t, dev.Format())
	require.NoError(t, dev.ConfigureDev())
	assert.Equal(t, 1, be.configureCalls)
	require.NotNil(t, dev.Format())
	assert.Equal(t, 48000, dev.Format().RateHz)

	require.NoError(t, dev.CloseDev())
	assert.Nil(t, dev.Format())
}

func TestDeviceStartIsNoopWithoutStarter(t *testing.T) {
	dev := New(NewBase(0, "fake", node.Output), &fakeBackend{})
	assert.NoError(t, dev.Start())
}

func TestDeviceStartInvokesStarterWhenImplemented(t *testing.T) {
	be := &fakeStartingBackend{}
	dev := New(NewBase(0, "fake", node.Output), be)
	require.NoError(t, dev.Start())
	assert.Equal(t, 1, be.startCalls)
}

func TestAddNodeAssignsDeviceAndNodeIndex(t *testing.T) {
	base := NewBase(3, "fake", node.Output)
	n1 := &node.Node{}
	n2 := &node.Node{}
	base.AddNode(n1)
	base.AddNode(n2)

	assert.Equal(t, node.ID{DeviceIndex: 3, NodeIndex: 0}, n1.ID)
	assert.Equal(t, node.ID{DeviceIndex: 3, NodeIndex: 1}, n2.ID)
	assert.Equal(t, []*node.Node{n1, n2}, base.Nodes())
}

func TestSetActiveNodeRejectsForeignNode(t *testing.T) {
	base := NewBase(0, "fake", node.Output)
	own := &node.Node{}
	base.AddNode(own)
	foreign := &node.Node{}

	require.NoError(t, base.SetActiveNode(own))
	assert.Same(t, own, base.ActiveNode())

	err := base.SetActiveNode(foreign)
	assert.Error(t, err)
	// ActiveNode is unchanged on rejection.
	assert.Same(t, own, base.ActiveNode())
}

func TestSetActiveNodeNilClears(t *testing.T) {
	base := NewBase(0, "fake", node.Output)
	own := &node.Node{}
	base.AddNode(own)
	require.NoError(t, base.SetActiveNode(own))

	require.NoError(t, base.SetActiveNode(nil))
	assert.Nil(t, base.ActiveNode())
}

func TestOpenResultString(t *testing.T) {
	assert.Equal(t, "success", OpenSuccess.String())
	assert.Equal(t, "EINVAL", OpenEINVAL.String())
	assert.Equal(t, "not-attempted", OpenNotAttempted.String())
}
