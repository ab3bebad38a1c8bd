package lightshow

import (
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Drewsername/localweb/internal/audio"
)

type sentCommand struct {
	ip         string
	kind       string
	r, g, b    uint8
	brightness int
	at         time.Time
}

type fakeTransport struct {
	mu   sync.Mutex
	ips  map[string]string
	sent []sentCommand
}

func newFakeTransport(ips map[string]string) *fakeTransport {
	return &fakeTransport{ips: ips}
}

func (f *fakeTransport) DeviceIP(id string) (string, bool) {
	ip, ok := f.ips[id]
	return ip, ok
}

func (f *fakeTransport) Turn(ip string, on bool) error {
	f.record(sentCommand{ip: ip, kind: "turn", at: time.Now()})
	return nil
}

func (f *fakeTransport) SetBrightness(ip string, value int) error {
	f.record(sentCommand{ip: ip, kind: "brightness", brightness: value, at: time.Now()})
	return nil
}

func (f *fakeTransport) SetColor(ip string, r, g, b uint8) error {
	f.record(sentCommand{ip: ip, kind: "color", r: r, g: g, b: b, at: time.Now()})
	return nil
}

func (f *fakeTransport) record(cmd sentCommand) {
	f.mu.Lock()
	f.sent = append(f.sent, cmd)
	f.mu.Unlock()
}

func (f *fakeTransport) commands(ip, kind string) []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []sentCommand
	for _, cmd := range f.sent {
		if cmd.ip == ip && (kind == "" || cmd.kind == kind) {
			out = append(out, cmd)
		}
	}
	return out
}

// fakeSource replays queued windows, then reads as silent.
type fakeSource struct {
	mu      sync.Mutex
	windows [][]byte
	closed  bool
}

func (f *fakeSource) queue(window []byte) {
	f.mu.Lock()
	f.windows = append(f.windows, window)
	f.mu.Unlock()
}

func (f *fakeSource) ReadWindow() ([]byte, audio.State) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, audio.StateClosed
	}
	if len(f.windows) == 0 {
		return nil, audio.StateSilent
	}

	window := f.windows[0]
	f.windows = f.windows[1:]
	return window, audio.StateWindow
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

var testLamps = map[string]string{
	"lamp-a": "10.0.0.10",
	"lamp-b": "10.0.0.11",
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, nil))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newTestEngine(t *testing.T, transport Transport, opts Options) *Engine {
	t.Helper()

	if opts.PipePath == "" && opts.Source == nil {
		opts.PipePath = "/nonexistent/pcm-pipe"
	}
	e := NewEngine(transport, testLogger(t), opts)
	t.Cleanup(e.Stop)

	return e
}

func TestStartRejectsUnknownMode(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(testLamps), Options{})

	err := e.Start("disco", []string{"lamp-a"}, 0, 5)
	assert.True(t, eris.Is(err, ErrBadMode))
	assert.False(t, e.Status().Active)
}

func TestStartRejectsModeOff(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(testLamps), Options{})

	err := e.Start("off", []string{"lamp-a"}, 0, 5)
	assert.True(t, eris.Is(err, ErrBadMode))
}

func TestStartRejectsEmptyDevices(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(testLamps), Options{})

	err := e.Start("pulse", nil, 0, 5)
	assert.True(t, eris.Is(err, ErrNoLamps))
}

func TestStartRejectsOutOfRangeLatency(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(testLamps), Options{})

	err := e.Start("pulse", []string{"lamp-a"}, 900, 5)
	assert.True(t, eris.Is(err, ErrLatencyOutOfRange))

	err = e.Start("pulse", []string{"lamp-a"}, -900, 5)
	assert.True(t, eris.Is(err, ErrLatencyOutOfRange))
}

func TestStartNoResolvableLamps(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(testLamps), Options{})

	err := e.Start("pulse", []string{"ghost"}, 0, 5)
	assert.True(t, eris.Is(err, ErrNoLamps))
	assert.False(t, e.Status().Active)
}

func TestStartTurnsLampsOnAndRuns(t *testing.T) {
	transport := newFakeTransport(testLamps)
	e := newTestEngine(t, transport, Options{})

	require.NoError(t, e.Start("ambient", []string{"lamp-a", "lamp-b"}, 0, 3))

	status := e.Status()
	assert.True(t, status.Active)
	assert.Equal(t, ModeAmbient, status.Mode)
	assert.Equal(t, 2, status.LightsConnected)
	assert.False(t, status.PipeExists)

	assert.Len(t, transport.commands("10.0.0.10", "turn"), 1)
	assert.Len(t, transport.commands("10.0.0.11", "turn"), 1)

	// Pattern-only fallback drives both lamps promptly.
	assert.Eventually(t, func() bool {
		return len(transport.commands("10.0.0.10", "color")) > 0 &&
			len(transport.commands("10.0.0.11", "color")) > 0
	}, 500*time.Millisecond, 10*time.Millisecond)
}

func TestStopResetsLampsToWarmWhite(t *testing.T) {
	transport := newFakeTransport(testLamps)
	e := newTestEngine(t, transport, Options{})

	require.NoError(t, e.Start("pulse", []string{"lamp-a", "lamp-b"}, 0, 5))
	time.Sleep(150 * time.Millisecond)

	e.Stop()
	assert.False(t, e.Status().Active)

	for _, ip := range []string{"10.0.0.10", "10.0.0.11"} {
		colors := transport.commands(ip, "color")
		require.NotEmpty(t, colors)
		last := colors[len(colors)-1]
		assert.Equal(t, uint8(255), last.r)
		assert.Equal(t, uint8(180), last.g)
		assert.Equal(t, uint8(100), last.b)

		brightnesses := transport.commands(ip, "brightness")
		require.NotEmpty(t, brightnesses)
		assert.Equal(t, warmWhiteBrightness, brightnesses[len(brightnesses)-1].brightness)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	transport := newFakeTransport(testLamps)
	e := newTestEngine(t, transport, Options{})

	require.NoError(t, e.Start("pulse", []string{"lamp-a"}, 0, 5))
	e.Stop()

	resets := len(transport.commands("10.0.0.10", "color"))
	e.Stop()
	assert.Equal(t, resets, len(transport.commands("10.0.0.10", "color")))
}

func TestThrottleCapsCommandRate(t *testing.T) {
	transport := newFakeTransport(testLamps)
	e := newTestEngine(t, transport, Options{})

	require.NoError(t, e.Start("ambient", []string{"lamp-a", "lamp-b"}, 0, 5))
	time.Sleep(time.Second)
	e.Stop()

	for _, ip := range []string{"10.0.0.10", "10.0.0.11"} {
		brightnesses := transport.commands(ip, "brightness")
		// The reset command bypasses the throttle; exclude it.
		driven := brightnesses[:len(brightnesses)-1]

		assert.LessOrEqual(t, len(driven), 20)
		assert.GreaterOrEqual(t, len(driven), 5)

		colors := transport.commands(ip, "color")
		driven = colors[:len(colors)-1]
		for i := 1; i < len(driven); i++ {
			gap := driven[i].at.Sub(driven[i-1].at)
			assert.GreaterOrEqual(t, gap, 45*time.Millisecond)
		}
	}
}

func TestSetModeOffStopsWorker(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(testLamps), Options{})

	require.NoError(t, e.Start("party", []string{"lamp-a"}, 0, 5))
	require.NoError(t, e.SetMode("off"))

	assert.Eventually(t, func() bool {
		return !e.Status().Active
	}, time.Second, 10*time.Millisecond)
}

func TestSetModeRejectsUnknown(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(testLamps), Options{})

	err := e.SetMode("disco")
	assert.True(t, eris.Is(err, ErrBadMode))
}

func TestSetModeRepeatIsIdempotent(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(testLamps), Options{})

	require.NoError(t, e.Start("pulse", []string{"lamp-a"}, 0, 5))

	require.NoError(t, e.SetMode("pulse"))
	require.NoError(t, e.SetMode("pulse"))

	status := e.Status()
	assert.True(t, status.Active)
	assert.Equal(t, ModePulse, status.Mode)
}

func TestSetLatencyValidation(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(testLamps), Options{})

	assert.NoError(t, e.SetLatency(500))
	assert.NoError(t, e.SetLatency(-500))
	assert.Equal(t, -500, e.Status().LatencyMS)

	err := e.SetLatency(501)
	assert.True(t, eris.Is(err, ErrLatencyOutOfRange))
}

func TestSetConfigPartialUpdate(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(testLamps), Options{})

	mode := "ambient"
	latency := 120
	require.NoError(t, e.SetConfig(Config{Mode: &mode, LatencyMS: &latency}))

	status := e.Status()
	assert.Equal(t, ModeAmbient, status.Mode)
	assert.Equal(t, 120, status.LatencyMS)
	assert.Equal(t, 7, status.Intensity)

	bad := "disco"
	err := e.SetConfig(Config{Mode: &bad})
	assert.True(t, eris.Is(err, ErrBadMode))
}

func TestSetIntensityClamps(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(testLamps), Options{})

	e.SetIntensity(25)
	assert.Equal(t, 10, e.Status().Intensity)

	e.SetIntensity(0)
	assert.Equal(t, 1, e.Status().Intensity)
}

func TestStartWhileRunningReconfigures(t *testing.T) {
	transport := newFakeTransport(testLamps)
	e := newTestEngine(t, transport, Options{})

	require.NoError(t, e.Start("pulse", []string{"lamp-a"}, 0, 2))
	require.NoError(t, e.Start("party", []string{"lamp-a", "lamp-b"}, 100, 9))

	status := e.Status()
	assert.True(t, status.Active)
	assert.Equal(t, ModeParty, status.Mode)
	assert.Equal(t, 100, status.LatencyMS)
	assert.Equal(t, 9, status.Intensity)
	assert.Equal(t, 2, status.LightsConnected)

	e.Stop()
	assert.False(t, e.Status().Active)
}

func TestRestartAfterStop(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(testLamps), Options{})

	require.NoError(t, e.Start("pulse", []string{"lamp-a"}, 0, 5))
	e.Stop()
	require.False(t, e.Status().Active)

	require.NoError(t, e.Start("ambient", []string{"lamp-a"}, 0, 5))
	assert.True(t, e.Status().Active)
}

func TestClosedSourceStopsWorker(t *testing.T) {
	source := &fakeSource{}
	source.Close()

	e := newTestEngine(t, newFakeTransport(testLamps), Options{Source: source})

	require.NoError(t, e.Start("pulse", []string{"lamp-a"}, 0, 5))

	assert.Eventually(t, func() bool {
		return !e.Status().Active
	}, time.Second, 10*time.Millisecond)
}

func TestAudioWindowsDriveBeatBrightness(t *testing.T) {
	transport := newFakeTransport(testLamps)
	source := &fakeSource{}

	// Ten quiet windows to build the baseline, then loud ones to beat.
	// Several beats in a row ride out the per-lamp throttle.
	for range 10 {
		source.queue(pcmWindow(0.02))
	}
	for range 5 {
		source.queue(pcmWindow(0.9))
	}

	e := newTestEngine(t, transport, Options{Source: source})
	require.NoError(t, e.Start("pulse", []string{"lamp-a", "lamp-b"}, 0, 10))

	// A beat at full intensity requests brightness 100; nothing else in
	// pulse mode (audio or pattern branch) reaches it.
	assert.Eventually(t, func() bool {
		for _, cmd := range transport.commands("10.0.0.10", "brightness") {
			if cmd.brightness == 100 {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

// pcmWindow builds one 4096-byte stereo window of a bass-band sinusoid.
func pcmWindow(amplitude float64) []byte {
	raw := make([]byte, audio.WindowBytes)
	for i := range audio.WindowFrames {
		sample := int16(amplitude * 32767 * sine(3, i))
		raw[i*4] = byte(sample)
		raw[i*4+1] = byte(sample >> 8)
		raw[i*4+2] = byte(sample)
		raw[i*4+3] = byte(sample >> 8)
	}
	return raw
}

func sine(bin, i int) float64 {
	return math.Sin(2 * math.Pi * float64(bin) * float64(i) / float64(audio.WindowFrames))
}
