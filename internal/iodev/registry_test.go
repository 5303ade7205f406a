package iodev

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avocet-audio/crasd/internal/alert"
	"github.com/avocet-audio/crasd/internal/node"
	"github.com/avocet-audio/crasd/internal/observer"
	"github.com/avocet-audio/crasd/internal/stableid"
)

func newTestRegistry() (*Registry, *alert.Bus) {
	bus := alert.NewBus()
	return NewRegistry(nil, bus), bus
}

func newOutputDevice(idx uint32, name string, nodes ...*node.Node) *Device {
	base := NewBase(idx, name, node.Output)
	for _, n := range nodes {
		base.AddNode(n)
	}
	return New(base, &fakeBackend{})
}

func TestAddOutputAssignsSequentialIndices(t *testing.T) {
	r, _ := newTestRegistry()
	d1 := newOutputDevice(999, "first")
	d2 := newOutputDevice(999, "second")

	r.AddOutput(d1)
	r.AddOutput(d2)

	assert.Equal(t, uint32(0), d1.Index)
	assert.Equal(t, uint32(1), d2.Index)
}

func TestAddOutputFiresNodesChanged(t *testing.T) {
	r, bus := newTestRegistry()
	fired := false
	bus.Get(alert.Nodes).Subscribe(func(data any) { fired = true })

	r.AddOutput(newOutputDevice(0, "speaker"))
	bus.Drain()

	assert.True(t, fired)
}

func TestBestNodePrefersPluggedOverUnplugged(t *testing.T) {
	r, _ := newTestRegistry()
	unplugged := &node.Node{Plugged: false, Type: node.TypeHDMI}
	plugged := &node.Node{Plugged: true, Type: node.TypeUnknown}
	r.AddOutput(newOutputDevice(0, "dev", unplugged, plugged))

	assert.Same(t, plugged, r.BestNode(node.Output))
}

func TestBestNodePrefersMoreRecentlyPlugged(t *testing.T) {
	r, _ := newTestRegistry()
	now := time.Now()
	older := &node.Node{Plugged: true, PluggedTime: now.Add(-time.Hour)}
	newer := &node.Node{Plugged: true, PluggedTime: now}
	r.AddOutput(newOutputDevice(0, "dev", older, newer))

	assert.Same(t, newer, r.BestNode(node.Output))
}

func TestBestNodeFallsBackToPriorityThenStableID(t *testing.T) {
	r, _ := newTestRegistry()
	hdmi := &node.Node{Plugged: true, Type: node.TypeHDMI, StableID: 5}
	bt := &node.Node{Plugged: true, Type: node.TypeBluetooth, StableID: 1}
	r.AddOutput(newOutputDevice(0, "dev", hdmi, bt))

	// Bluetooth outranks HDMI in the default priority table.
	assert.Same(t, bt, r.BestNode(node.Output))
}

func TestBestNodeReturnsNilWhenEmpty(t *testing.T) {
	r, _ := newTestRegistry()
	assert.Nil(t, r.BestNode(node.Output))
}

func TestSelectNodeMarksActiveAndNotifies(t *testing.T) {
	r, bus := newTestRegistry()
	n1 := &node.Node{}
	n2 := &node.Node{}
	dev := newOutputDevice(0, "dev", n1, n2)
	r.AddOutput(dev)

	var payload observer.ActiveNodePayload
	bus.Get(alert.ActiveNode).Subscribe(func(data any) {
		payload = data.(observer.ActiveNodePayload)
	})

	r.SelectNode(node.Output, n2.ID)
	bus.Drain()

	assert.False(t, n1.Active)
	assert.True(t, n2.Active)
	assert.Same(t, n2, dev.ActiveNode())
	assert.Equal(t, observer.DirOutput, payload.Direction)
	assert.Equal(t, stableid.PackNodeID(n2.ID.DeviceIndex, n2.ID.NodeIndex), payload.NodeID)
}

func TestRemoveFiresActiveNodeZeroWhenActiveDeviceLeaves(t *testing.T) {
	r, bus := newTestRegistry()
	n := &node.Node{Active: true}
	dev := newOutputDevice(0, "dev", n)
	r.AddOutput(dev)

	var payload observer.ActiveNodePayload
	var fired bool
	bus.Get(alert.ActiveNode).Subscribe(func(data any) {
		fired = true
		payload = data.(observer.ActiveNodePayload)
	})
	r.RmOutput(dev)
	bus.Drain()

	assert.True(t, fired)
	assert.Equal(t, uint64(0), payload.NodeID)
}

func TestSetNodeAttrVolumeValidatesType(t *testing.T) {
	r, _ := newTestRegistry()
	n := &node.Node{}
	dev := newOutputDevice(0, "dev", n)
	r.AddOutput(dev)

	err := r.SetNodeAttr(n.ID, AttrVolume, "not-an-int")
	assert.Error(t, err)

	require.NoError(t, r.SetNodeAttr(n.ID, AttrVolume, 42))
	assert.Equal(t, 42, n.Volume)
}

func TestSetNodeAttrUnknownNodeReturnsNotFound(t *testing.T) {
	r, _ := newTestRegistry()
	err := r.SetNodeAttr(node.ID{DeviceIndex: 99, NodeIndex: 0}, AttrVolume, 10)
	assert.Error(t, err)
}

func TestSetHotwordModelRequiresAdvertisedName(t *testing.T) {
	r, _ := newTestRegistry()
	n := &node.Node{HotwordModels: []string{"hey_google"}}
	dev := newOutputDevice(0, "dev", n)
	r.AddOutput(dev)

	assert.Error(t, r.SetHotwordModel(n.ID, "unknown_model"))
	require.NoError(t, r.SetHotwordModel(n.ID, "hey_google"))
	assert.Equal(t, "hey_google", n.HotwordModel)

	// Re-setting the same model is an idempotent no-op, not an error.
	assert.NoError(t, r.SetHotwordModel(n.ID, "hey_google"))
}

func TestAddActiveNodeAndRmActiveNode(t *testing.T) {
	r, _ := newTestRegistry()
	n := &node.Node{}
	dev := newOutputDevice(0, "dev", n)
	r.AddOutput(dev)

	r.AddActiveNode(node.Output, n.ID)
	assert.True(t, n.Active)

	r.RmActiveNode(node.Output, n.ID)
	assert.False(t, n.Active)
}

func TestDevicesReturnsSortedByIndex(t *testing.T) {
	r, _ := newTestRegistry()
	d1 := newOutputDevice(999, "a")
	d2 := newOutputDevice(999, "b")
	d3 := newOutputDevice(999, "c")
	r.AddOutput(d2)
	r.AddOutput(d1)
	r.AddOutput(d3)

	devices := r.Devices(node.Output)
	require.Len(t, devices, 3)
	assert.Equal(t, uint32(0), devices[0].Index)
	assert.Equal(t, uint32(1), devices[1].Index)
	assert.Equal(t, uint32(2), devices[2].Index)
}
