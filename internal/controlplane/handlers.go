package controlplane

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/avocet-audio/crasd/internal/alert"
	"github.com/avocet-audio/crasd/internal/detect"
	"github.com/avocet-audio/crasd/internal/diag"
	"github.com/avocet-audio/crasd/internal/message"
	"github.com/avocet-audio/crasd/internal/node"
	"github.com/avocet-audio/crasd/internal/observer"
)

// RegisterHandlers binds every message.Type this Plane understands to a
// decode-and-dispatch handler on pump. Without this, Drain finds no
// handler for any tag and silently drops every message (spec §4.1 names
// the pump as "the only path the audio-callback thread uses to reach
// shared state" — that path is dead until something calls Register).
func (p *Plane) RegisterHandlers(pump *message.Pump) {
	pump.Register(message.AudioThreadEvent, p.handleAudioThreadEvent)
	pump.Register(message.SpeakOnMute, p.handleSpeakOnMuteMessage)
	pump.Register(message.HotwordTriggered, p.handleHotwordTriggeredMessage)
	pump.Register(message.EWMAPowerReport, p.handleEWMAPowerReportMessage)
	pump.Register(message.StreamAPM, p.handleStreamAPMMessage)
}

// --- AUDIO_THREAD_EVENT --------------------------------------------------

// EncodeAudioThreadEvent packs an audio-thread diagnostic event for
// transport over the pump: 1 byte EventType followed by the UTF-8 detail
// text (spec §4.7).
func EncodeAudioThreadEvent(eventType diag.EventType, detail string) []byte {
	buf := make([]byte, 1+len(detail))
	buf[0] = byte(eventType)
	copy(buf[1:], detail)
	return buf
}

func (p *Plane) handleAudioThreadEvent(data []byte) {
	if p.Diag == nil || len(data) == 0 {
		return
	}
	state := diag.SnapshotState{EventType: diag.EventType(data[0]), Detail: string(data[1:])}
	p.Diag.Handle(state, time.Now())
}

// --- SPEAK_ON_MUTE --------------------------------------------------------

// EncodeSpeakOnMuteSample packs one VAD sample for transport: 1 byte
// bool(detected) followed by an 8-byte little-endian Unix-nanosecond
// timestamp (spec §4.6 step 5).
func EncodeSpeakOnMuteSample(detected bool, whenUnixNano int64) []byte {
	buf := make([]byte, 9)
	if detected {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint64(buf[1:9], uint64(whenUnixNano))
	return buf
}

func (p *Plane) handleSpeakOnMuteMessage(data []byte) {
	if len(data) != 9 {
		return
	}
	detected := data[0] != 0
	whenUnixNano := int64(binary.LittleEndian.Uint64(data[1:9]))
	p.HandleSpeakOnMuteSample(detected, whenUnixNano)
}

// --- HOTWORD_TRIGGERED ------------------------------------------------

// EncodeHotwordTriggered packs the hotword tag-begin/tag-end pair (spec
// §4.6) as two 8-byte little-endian int64s.
func EncodeHotwordTriggered(tagBegin, tagEnd int64) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(tagBegin))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(tagEnd))
	return buf
}

func (p *Plane) handleHotwordTriggeredMessage(data []byte) {
	if len(data) != 16 {
		return
	}
	tagBegin := int64(binary.LittleEndian.Uint64(data[0:8]))
	tagEnd := int64(binary.LittleEndian.Uint64(data[8:16]))
	p.Bus.Get(alert.HotwordTriggered).Pending(observer.HotwordPayload{TagBegin: tagBegin, TagEnd: tagEnd})
}

// --- EWMA_POWER_REPORT --------------------------------------------------

// EncodeEWMAPowerReport packs a power sample (already rate-limited by the
// caller's PowerReporter) as an 8-byte little-endian float64.
func EncodeEWMAPowerReport(power float64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(power))
	return buf
}

// handleEWMAPowerReportMessage receives an already-gated power sample
// (PowerReporter.Report applies the enable/interval gate on the sending
// side, where the meter lives). The upstream reporter's own main-thread
// handler is a documented no-op (no UI surface consumes it); this mirrors
// that rather than inventing a downstream consumer.
func (p *Plane) handleEWMAPowerReportMessage(data []byte) {
	if len(data) != 8 {
		return
	}
	power := math.Float64frombits(binary.LittleEndian.Uint64(data))
	p.log.Debug("ewma power report", "power", power)
}

// --- STREAM_APM -----------------------------------------------------------

const (
	streamOpAttach byte = 0
	streamOpDetach byte = 1
)

// EncodeStreamAttach/EncodeStreamDetach pack a stream-lifecycle
// notification (spec §4.6 "VAD target selection" / RTC candidate
// tracking): op byte, direction byte, 4-byte cb_threshold, client-type
// byte, 4-byte dev_idx, stream-type byte, has-APM byte, then the
// remaining bytes are the stream id.
func encodeStreamAPM(op byte, s detect.Stream) []byte {
	buf := make([]byte, 13+len(s.ID))
	buf[0] = op
	buf[1] = byte(s.Direction)
	binary.LittleEndian.PutUint32(buf[2:6], uint32(s.CBThreshold))
	buf[6] = byte(s.ClientType)
	binary.LittleEndian.PutUint32(buf[7:11], s.DevIdx)
	buf[11] = byte(s.Type)
	if s.HasAPM {
		buf[12] = 1
	}
	copy(buf[13:], s.ID)
	return buf
}

// EncodeStreamAttach packs an attach notification for s.
func EncodeStreamAttach(s detect.Stream) []byte { return encodeStreamAPM(streamOpAttach, s) }

// EncodeStreamDetach packs a detach notification for s.
func EncodeStreamDetach(s detect.Stream) []byte { return encodeStreamAPM(streamOpDetach, s) }

func decodeStreamAPM(data []byte) (op byte, s detect.Stream, ok bool) {
	if len(data) < 13 {
		return 0, detect.Stream{}, false
	}
	s = detect.Stream{
		Direction:   node.Direction(data[1]),
		CBThreshold: int(binary.LittleEndian.Uint32(data[2:6])),
		ClientType:  detect.ClientType(data[6]),
		DevIdx:      binary.LittleEndian.Uint32(data[7:11]),
		Type:        detect.StreamType(data[11]),
		HasAPM:      data[12] != 0,
		ID:          string(data[13:]),
	}
	return data[0], s, true
}

func (p *Plane) handleStreamAPMMessage(data []byte) {
	op, s, ok := decodeStreamAPM(data)
	if !ok {
		return
	}
	switch op {
	case streamOpAttach:
		p.AttachStream(s)
	case streamOpDetach:
		p.DetachStream(s)
	}
}

// AttachStream registers a newly-attached stream with the RTC detector
// and re-runs VAD target selection over every currently-attached stream
// (spec §4.6). The real stream-server collaborator that calls this on
// stream attach is out of this repository's scope (spec §1); this is the
// injection point it would call through, exercised directly by tests and
// by handleStreamAPMMessage in production.
func (p *Plane) AttachStream(s detect.Stream) {
	p.mu.Lock()
	if p.streams == nil {
		p.streams = make(map[string]*detect.Stream)
	}
	stored := s
	p.streams[s.ID] = &stored
	p.mu.Unlock()

	if p.RTC != nil {
		p.RTC.AddStream(&stored)
	}
	p.reselectTarget()
}

// DetachStream is AttachStream's inverse, called when a stream stops.
func (p *Plane) DetachStream(s detect.Stream) {
	p.mu.Lock()
	stored, found := p.streams[s.ID]
	delete(p.streams, s.ID)
	p.mu.Unlock()
	if !found {
		return
	}

	if p.RTC != nil {
		p.RTC.RemoveStream(stored)
	}
	p.reselectTarget()
}

func (p *Plane) reselectTarget() {
	if p.Target == nil {
		return
	}
	p.mu.Lock()
	streams := make([]*detect.Stream, 0, len(p.streams))
	for _, s := range p.streams {
		streams = append(streams, s)
	}
	p.mu.Unlock()
	p.Target.Select(streams)
}
