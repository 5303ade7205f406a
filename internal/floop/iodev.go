package floop

import (
	"github.com/avocet-audio/crasd/internal/iodev"
	"github.com/avocet-audio/crasd/internal/node"
)

// OutputBackend adapts Pair's output half to iodev.Backend. NoStream
// defers to the library-provided default (spec §4.4: "output iodev
// defers to a library-provided default no-stream routine"), represented
// here as silence fill, since no concrete library is in scope.
type OutputBackend struct {
	Pair *Pair
}

func (b *OutputBackend) ConfigureDev(dev *iodev.Base) error {
	dev.SetFormat(iodev.Format{RateHz: RateHz, Channels: Channels, SampleBits: SampleBits})
	dev.BufferSizeFrames = BufferFrames
	return nil
}

func (b *OutputBackend) CloseDev(dev *iodev.Base) error {
	dev.ClearFormat()
	return nil
}

func (b *OutputBackend) FramesQueued(dev *iodev.Base) (int, error) {
	return b.Pair.BufferedFrames(), nil
}

func (b *OutputBackend) DelayFrames(dev *iodev.Base) (int, error) {
	return b.Pair.BufferedFrames(), nil
}

func (b *OutputBackend) GetBuffer(dev *iodev.Base, frames int) (iodev.Area, error) {
	return b.Pair.GetBufferOutput(frames), nil
}

func (b *OutputBackend) PutBuffer(dev *iodev.Base, frames int) error {
	return nil // caller uses PutBufferOutput(data) directly; see Pair docs
}

func (b *OutputBackend) FlushBuffer(dev *iodev.Base) error { return nil }

func (b *OutputBackend) NoStream(dev *iodev.Base, enable bool) error {
	if !enable {
		return nil
	}
	silence := make([]byte, BufferFrames/8*FrameBytes)
	b.Pair.PutBufferOutput(silence)
	return nil
}

func (b *OutputBackend) OutputUnderrun(dev *iodev.Base) error { return nil }

func (b *OutputBackend) UpdateActiveNode(dev *iodev.Base) error { return nil }

func (b *OutputBackend) SetVolume(dev *iodev.Base, vol int) error { return nil }

// InputBackend adapts Pair's input half to iodev.Backend.
type InputBackend struct {
	Pair *Pair
}

func (b *InputBackend) ConfigureDev(dev *iodev.Base) error {
	dev.SetFormat(iodev.Format{RateHz: RateHz, Channels: Channels, SampleBits: SampleBits})
	dev.BufferSizeFrames = BufferFrames
	return b.Pair.ConfigureInput()
}

func (b *InputBackend) CloseDev(dev *iodev.Base) error {
	dev.ClearFormat()
	return b.Pair.CloseInput()
}

func (b *InputBackend) FramesQueued(dev *iodev.Base) (int, error) {
	return b.Pair.FramesQueuedInput(), nil
}

func (b *InputBackend) DelayFrames(dev *iodev.Base) (int, error) {
	return 0, nil
}

func (b *InputBackend) GetBuffer(dev *iodev.Base, frames int) (iodev.Area, error) {
	return b.Pair.GetBufferInput(frames), nil
}

func (b *InputBackend) PutBuffer(dev *iodev.Base, frames int) error {
	b.Pair.PutBufferInput(frames)
	return nil
}

func (b *InputBackend) FlushBuffer(dev *iodev.Base) error { return nil }

func (b *InputBackend) NoStream(dev *iodev.Base, enable bool) error { return nil }

func (b *InputBackend) OutputUnderrun(dev *iodev.Base) error { return nil }

func (b *InputBackend) UpdateActiveNode(dev *iodev.Base) error { return nil }

func (b *InputBackend) SetVolume(dev *iodev.Base, vol int) error { return nil }

// NewDevices builds the (output, input) iodev.Device pair for params,
// with stereo-forced nodes per spec §4.4 ("channel layout for 2
// channels is forced to the default stereo regardless of any upstream
// suggestion").
func NewDevices(params Params, name string) (*iodev.Device, *iodev.Device, *Pair) {
	pair := NewPair(params)

	outBase := iodev.NewBase(0, name+" (floop out)", node.Output)
	outBase.StableHash = params.StableID()
	outBase.MaxChannels = Channels
	outBase.SupportedRates = []int{RateHz}
	outBase.SupportedChannelCounts = []int{Channels}
	outBase.AddNode(&node.Node{
		Type:      node.TypeFlexibleLoopback,
		Direction: node.Output,
		StableID:  params.StableID(),
	})
	outDev := iodev.New(outBase, &OutputBackend{Pair: pair})

	inBase := iodev.NewBase(0, name+" (floop in)", node.Input)
	inBase.StableHash = params.StableID()
	inBase.MaxChannels = Channels
	inBase.SupportedRates = []int{RateHz}
	inBase.SupportedChannelCounts = []int{Channels}
	inBase.AddNode(&node.Node{
		Type:      node.TypeFlexibleLoopback,
		Direction: node.Input,
		StableID:  params.StableID(),
	})
	inDev := iodev.New(inBase, &InputBackend{Pair: pair})

	return outDev, inDev, pair
}
