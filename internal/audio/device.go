package audio

import (
	"encoding/binary"

	"github.com/gordonklaus/portaudio"
	"github.com/rotisserie/eris"
)

// Capture pulls PCM windows from a PortAudio input device instead of the
// FIFO, for running the show against a loopback/monitor source during
// development. Windows arrive on a small channel; when the consumer falls
// behind the oldest window is dropped.
type Capture struct {
	stream  *portaudio.Stream
	windows chan []byte
}

// OpenCapture starts capturing from the device at the given index, or the
// default input device when index is negative.
func OpenCapture(deviceIndex int) (*Capture, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, eris.Wrap(err, "failed to initialize PortAudio")
	}

	device, err := captureDevice(deviceIndex)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	c := &Capture{windows: make(chan []byte, 8)}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      SampleRate,
		FramesPerBuffer: WindowFrames,
	}

	stream, err := portaudio.OpenStream(params, c.push)
	if err != nil {
		portaudio.Terminate()
		return nil, eris.Wrap(err, "failed to open capture stream")
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, eris.Wrap(err, "failed to start capture stream")
	}

	c.stream = stream
	return c, nil
}

func captureDevice(index int) (*portaudio.DeviceInfo, error) {
	if index < 0 {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, eris.Wrap(err, "failed to resolve default input device")
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, eris.Wrap(err, "failed to enumerate audio devices")
	}
	if index >= len(devices) {
		return nil, eris.Errorf("invalid capture device index %d", index)
	}

	device := devices[index]
	if device.MaxInputChannels < Channels {
		return nil, eris.Errorf("device %s has no stereo input; select a loopback/monitor device", device.Name)
	}

	return device, nil
}

func (c *Capture) push(in []int16) {
	buf := make([]byte, len(in)*BytesPerSample)
	for i, s := range in {
		binary.LittleEndian.PutUint16(buf[i*BytesPerSample:], uint16(s))
	}

	select {
	case c.windows <- buf:
	default:
		select {
		case <-c.windows:
		default:
		}
		select {
		case c.windows <- buf:
		default:
		}
	}
}

// ReadWindow returns the next captured window without blocking.
func (c *Capture) ReadWindow() ([]byte, State) {
	select {
	case buf, ok := <-c.windows:
		if !ok {
			return nil, StateClosed
		}
		if len(buf) != WindowBytes {
			return nil, StateSilent
		}
		return buf, StateWindow
	default:
		return nil, StateSilent
	}
}

// Close stops the stream and tears down PortAudio.
func (c *Capture) Close() error {
	if c.stream == nil {
		return nil
	}
	stream := c.stream
	c.stream = nil

	stream.Stop()
	err := stream.Close()
	portaudio.Terminate()
	if err != nil {
		return eris.Wrap(err, "failed to close capture stream")
	}
	return nil
}
