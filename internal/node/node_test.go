package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "output", Output.String())
	assert.Equal(t, "input", Input.String())
}

func TestTypeStringKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "BLUETOOTH", TypeBluetooth.String())
	assert.Equal(t, "FLOOP", TypeFlexibleLoopback.String())
	assert.Equal(t, "UNKNOWN", Type(999).String())
}

func TestPriorityTableOrdersBluetoothAboveHDMIAboveHeadphoneAboveMic(t *testing.T) {
	assert.Greater(t, Priority[TypeBluetooth], Priority[TypeHDMI])
	assert.Greater(t, Priority[TypeHDMI], Priority[TypeHeadphone])
	assert.Greater(t, Priority[TypeHeadphone], Priority[TypeInternalMic])
	assert.Greater(t, Priority[TypeInternalMic], Priority[TypeUnknown])
}

func TestCloneCopiesHotwordModelsIndependently(t *testing.T) {
	n := &Node{HotwordModels: []string{"hey_google", "hey_allo"}}
	c := n.Clone()

	c.HotwordModels[0] = "mutated"
	assert.Equal(t, "hey_google", n.HotwordModels[0], "Clone must not alias the original slice")

	c.Volume = 77
	assert.NotEqual(t, n.Volume, c.Volume)
}

func TestCloneOfNilSliceStaysNil(t *testing.T) {
	n := &Node{}
	c := n.Clone()
	assert.Nil(t, c.HotwordModels)
}
