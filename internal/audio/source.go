package audio

import (
	"encoding/binary"

	"github.com/rotisserie/eris"
	"golang.org/x/sys/unix"
)

// PCM stream parameters: little-endian signed 16-bit interleaved stereo at
// 44.1 kHz, consumed in windows of 1024 stereo frames.
const (
	SampleRate     = 44100
	Channels       = 2
	BytesPerSample = 2
	WindowFrames   = 1024
	WindowBytes    = WindowFrames * Channels * BytesPerSample
)

// State classifies the outcome of a window read.
type State int

const (
	// StateWindow means a complete window was read.
	StateWindow State = iota
	// StateSilent means fewer bytes than one window were available right
	// now; the caller falls back to its pattern branch.
	StateSilent
	// StateClosed means the source is unusable and will not recover.
	StateClosed
)

// Pipe reads PCM windows from a named FIFO without ever blocking the
// calling goroutine: the descriptor is opened O_NONBLOCK and read directly,
// bypassing the runtime poller. Each call reads independently; partial
// windows are discarded, never padded.
type Pipe struct {
	fd   int
	path string
	buf  []byte
}

// OpenPipe opens the FIFO at path in non-blocking read mode.
func OpenPipe(path string) (*Pipe, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open audio pipe %s", path)
	}

	return &Pipe{fd: fd, path: path, buf: make([]byte, WindowBytes)}, nil
}

// Path returns the FIFO path this source was opened from.
func (p *Pipe) Path() string {
	return p.path
}

// ReadWindow attempts one read of exactly WindowBytes. The returned buffer
// is reused by the next call. A writer-side close (EOF) and transient read
// errors both report StateSilent; the producer reconnects on its own
// schedule and the source stays usable.
func (p *Pipe) ReadWindow() ([]byte, State) {
	if p.fd < 0 {
		return nil, StateClosed
	}

	n, err := unix.Read(p.fd, p.buf)
	if err != nil {
		switch err {
		case unix.EAGAIN, unix.EINTR:
			return nil, StateSilent
		case unix.EBADF:
			return nil, StateClosed
		default:
			return nil, StateSilent
		}
	}

	if n < WindowBytes {
		return nil, StateSilent
	}

	return p.buf, StateWindow
}

// Close releases the descriptor. Subsequent reads report StateClosed.
func (p *Pipe) Close() error {
	if p.fd < 0 {
		return nil
	}
	fd := p.fd
	p.fd = -1

	if err := unix.Close(fd); err != nil {
		return eris.Wrapf(err, "failed to close audio pipe %s", p.path)
	}
	return nil
}

// Mono reinterprets a raw window as s16le stereo, averages each left/right
// pair, and normalizes to [-1, 1].
func Mono(raw []byte, dst []float64) []float64 {
	frames := len(raw) / (Channels * BytesPerSample)
	if cap(dst) < frames {
		dst = make([]float64, frames)
	} else {
		dst = dst[:frames]
	}

	for i := range frames {
		off := i * Channels * BytesPerSample
		left := int16(binary.LittleEndian.Uint16(raw[off:]))
		right := int16(binary.LittleEndian.Uint16(raw[off+BytesPerSample:]))
		dst[i] = (float64(left) + float64(right)) / 2 / 32768
	}

	return dst
}
