// Package message implements the main-thread message pump (spec §4.1):
// the single ordered channel from any thread to the control thread. It is
// the only path the audio-callback thread uses to reach shared state.
package message

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

// Type is the closed set of main-thread message tags (spec §3).
type Type uint32

const (
	A2DP Type = iota
	AudioThreadEvent
	BT
	BTPolicy
	Metrics
	MonitorDevice
	HotwordTriggered
	NonEmptyAudioState
	SpeakOnMute
	StreamAPM
	EWMAPowerReport
)

func (t Type) String() string {
	switch t {
	case A2DP:
		return "A2DP"
	case AudioThreadEvent:
		return "AUDIO_THREAD_EVENT"
	case BT:
		return "BT"
	case BTPolicy:
		return "BT_POLICY"
	case Metrics:
		return "METRICS"
	case MonitorDevice:
		return "MONITOR_DEVICE"
	case HotwordTriggered:
		return "HOTWORD_TRIGGERED"
	case NonEmptyAudioState:
		return "NON_EMPTY_AUDIO_STATE"
	case SpeakOnMute:
		return "SPEAK_ON_MUTE"
	case StreamAPM:
		return "STREAM_APM"
	case EWMAPowerReport:
		return "EWMA_POWER_REPORT"
	default:
		return "UNKNOWN"
	}
}

// Message is a typed, length-prefixed record. Data is copied into the
// pipe by Send; the sender retains no ownership of it afterward.
type Message struct {
	Tag  Type
	Data []byte
}

// maxMessage bounds a single record so a malformed length prefix can
// never make the control thread read an unbounded amount from the pipe.
const maxMessage = 64 << 10

const headerLen = 8 // 4 bytes tag + 4 bytes length

// Handler processes one dispatched message on the control thread. It may
// freely mutate device/observer state — it *is* the control thread for
// the duration of the call.
type Handler func(data []byte)

// Pump is the pipe-backed mailbox. Zero value is not usable; call New.
type Pump struct {
	log *log.Logger

	readFD  int
	writeFD int

	mu       sync.Mutex
	handlers map[Type]Handler
}

// New creates a pump backed by a fresh OS pipe (unix.Pipe2 with
// O_NONBLOCK on both ends — sends never block the audio thread, and the
// control thread drives reads from its own event loop poll).
func New(logger *log.Logger) (*Pump, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("message: create pipe: %w", err)
	}
	if logger == nil {
		logger = log.New(nil)
	}
	return &Pump{
		log:      logger.WithPrefix("message"),
		readFD:   fds[0],
		writeFD:  fds[1],
		handlers: make(map[Type]Handler),
	}, nil
}

// Close releases the pipe's file descriptors.
func (p *Pump) Close() error {
	err1 := unix.Close(p.readFD)
	err2 := unix.Close(p.writeFD)
	if err1 != nil {
		return err1
	}
	return err2
}

// ReadFD returns the descriptor the control thread's event loop should
// poll for readability.
func (p *Pump) ReadFD() int { return p.readFD }

// Register binds exactly one handler per tag. Re-registering replaces
// the previous handler.
func (p *Pump) Register(tag Type, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[tag] = h
}

// Unregister removes any handler bound to tag.
func (p *Pump) Unregister(tag Type) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handlers, tag)
}

// Send copies msg into the pipe as one length-prefixed record. It
// returns an error if the full record could not be written atomically
// (short write from a signal or a full pipe) — callers decide whether to
// retry or drop; Send itself never blocks waiting for room.
func (p *Pump) Send(msg Message) error {
	if len(msg.Data) > maxMessage {
		return fmt.Errorf("message: payload too large: %d bytes", len(msg.Data))
	}

	buf := make([]byte, headerLen+len(msg.Data))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(msg.Tag))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(msg.Data)))
	copy(buf[headerLen:], msg.Data)

	n, err := unix.Write(p.writeFD, buf)
	if err != nil {
		return fmt.Errorf("message: write %s: %w", msg.Tag, err)
	}
	if n != len(buf) {
		return fmt.Errorf("message: short write for %s: %d of %d bytes", msg.Tag, n, len(buf))
	}
	return nil
}

// Drain is called by the control thread's event loop when ReadFD becomes
// readable. It reads exactly one length-prefixed record per call and
// dispatches it to the registered handler, if any. It returns false when
// there is nothing more to read right now (EAGAIN on the non-blocking
// pipe), true if a record was consumed.
func (p *Pump) Drain() (bool, error) {
	hdr := make([]byte, headerLen)
	n, err := unix.Read(p.readFD, hdr)
	if err != nil {
		if err == unix.EAGAIN {
			return false, nil
		}
		return false, fmt.Errorf("message: read header: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if n != headerLen {
		return false, fmt.Errorf("message: short header read: %d bytes", n)
	}

	tag := Type(binary.LittleEndian.Uint32(hdr[0:4]))
	length := binary.LittleEndian.Uint32(hdr[4:8])
	if length > maxMessage {
		return false, fmt.Errorf("message: header claims %d bytes, over limit", length)
	}

	data := make([]byte, length)
	if length > 0 {
		if _, err := readFull(p.readFD, data); err != nil {
			return false, fmt.Errorf("message: read payload for %s: %w", tag, err)
		}
	}

	p.mu.Lock()
	h := p.handlers[tag]
	p.mu.Unlock()

	if h == nil {
		p.log.Warn("dropped message with no registered handler", "tag", tag)
		return true, nil
	}
	h(data)
	return true, nil
}

func readFull(fd int, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := unix.Read(fd, buf[total:])
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("unexpected EOF")
		}
		total += n
	}
	return total, nil
}
