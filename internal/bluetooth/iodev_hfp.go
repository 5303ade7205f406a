package bluetooth

import (
	"github.com/avocet-audio/crasd/internal/iodev"
	"github.com/avocet-audio/crasd/internal/node"
)

// HFP narrowband runs over a CVSD SCO link at 8kHz; wideband (mSBC) runs
// at 16kHz (spec §4.5 "HFP iodev").
const (
	HFPNarrowbandRateHz = 8000
	HFPWidebandRateHz   = 16000
	HFPChannels         = 1
	HFPSampleBits       = 16
)

// SCOSocket is the bidirectional SCO link a HFP backend reads/writes
// fixed-size frames over. Opening the actual kernel SCO socket is out of
// this package's scope (spec §1); production wiring supplies a concrete
// implementation.
type SCOSocket interface {
	Read(buf []byte) (int, error)
	Write(data []byte) (int, error)
	Close() error
}

// HFPBackend implements iodev.Backend for both the input and output
// sides of one HFP connection (spec §4.5: "input and output nodes;
// input node type is bluetooth_nb_mic if the peer lacks wideband
// support, else bluetooth").
type HFPBackend struct {
	Device        *Device
	Policy        *Policy
	SCO           SCOSocket
	Wideband      bool
	IsCaptureSide bool
}

func (b *HFPBackend) rateHz() int {
	if b.Wideband {
		return HFPWidebandRateHz
	}
	return HFPNarrowbandRateHz
}

func (b *HFPBackend) ConfigureDev(dev *iodev.Base) error {
	dev.SetFormat(iodev.Format{RateHz: b.rateHz(), Channels: HFPChannels, SampleBits: HFPSampleBits})
	return nil
}

func (b *HFPBackend) CloseDev(dev *iodev.Base) error {
	dev.ClearFormat()
	return nil
}

func (b *HFPBackend) FramesQueued(dev *iodev.Base) (int, error) { return 0, nil }

func (b *HFPBackend) DelayFrames(dev *iodev.Base) (int, error) { return 0, nil }

func (b *HFPBackend) GetBuffer(dev *iodev.Base, frames int) (iodev.Area, error) {
	n := frames * (HFPChannels * HFPSampleBits / 8)
	buf := make([]byte, n)
	if b.IsCaptureSide && b.SCO != nil {
		read, err := b.SCO.Read(buf)
		if err != nil {
			b.Policy.ScheduleSuspend(b.Device, 0, ReasonHFPSCOSocketError)
			return iodev.Area{}, err
		}
		return iodev.Area{Data: buf[:read], Frames: read / (HFPChannels * HFPSampleBits / 8)}, nil
	}
	return iodev.Area{Data: buf, Frames: frames}, nil
}

func (b *HFPBackend) PutBuffer(dev *iodev.Base, frames int) error {
	if b.IsCaptureSide || b.SCO == nil {
		return nil
	}
	n := frames * (HFPChannels * HFPSampleBits / 8)
	if _, err := b.SCO.Write(make([]byte, n)); err != nil {
		b.Policy.ScheduleSuspend(b.Device, 0, ReasonHFPSCOSocketError)
		return err
	}
	return nil
}

func (b *HFPBackend) FlushBuffer(dev *iodev.Base) error { return nil }

func (b *HFPBackend) NoStream(dev *iodev.Base, enable bool) error { return nil }

func (b *HFPBackend) OutputUnderrun(dev *iodev.Base) error { return nil }

func (b *HFPBackend) UpdateActiveNode(dev *iodev.Base) error { return nil }

func (b *HFPBackend) SetVolume(dev *iodev.Base, vol int) error { return nil }

// NewHFPDevices builds the (output, input) iodev.Device pair for an HFP
// connection on d. The input node's type reflects wideband support per
// spec §4.5.
func NewHFPDevices(d *Device, policy *Policy, sco SCOSocket, wideband bool) (*iodev.Device, *iodev.Device) {
	inType := node.TypeBluetoothNBMic
	if wideband {
		inType = node.TypeBluetooth
	}

	outBase := iodev.NewBase(0, "HFP "+d.Address+" out", node.Output)
	outBase.StableHash = d.StableID()
	outBase.BTManager = d.Manager
	outBase.MaxChannels = HFPChannels
	outBase.AddNode(&node.Node{Type: node.TypeBluetooth, Direction: node.Output, StableID: d.StableID()})
	outBackend := &HFPBackend{Device: d, Policy: policy, SCO: sco, Wideband: wideband, IsCaptureSide: false}
	outDev := iodev.New(outBase, outBackend)

	inBase := iodev.NewBase(0, "HFP "+d.Address+" in", node.Input)
	inBase.StableHash = d.StableID()
	inBase.BTManager = d.Manager
	inBase.MaxChannels = HFPChannels
	inBase.AddNode(&node.Node{Type: inType, Direction: node.Input, StableID: d.StableID()})
	inBackend := &HFPBackend{Device: d, Policy: policy, SCO: sco, Wideband: wideband, IsCaptureSide: true}
	inDev := iodev.New(inBase, inBackend)

	d.Manager.Output = outDev
	d.Manager.Input = inDev
	return outDev, inDev
}
