package lightshow

import (
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/Drewsername/localweb/internal/audio"
	"github.com/Drewsername/localweb/internal/dsp"
	"github.com/Drewsername/localweb/internal/utils"
)

const (
	loopPeriod     = time.Second / 30
	minCmdInterval = 50 * time.Millisecond
	joinTimeout    = 2 * time.Second
	latencyLimitMS = 500

	warmWhiteBrightness = 50
)

// Lamps reset to warm white when a show ends.
var warmWhite = LampCommand{R: 255, G: 180, B: 100, Brightness: warmWhiteBrightness}

var (
	// ErrNoLamps means start resolved zero lamp addresses.
	ErrNoLamps = eris.New("no lamps resolved")
	// ErrLatencyOutOfRange rejects latency offsets outside [-500, 500] ms.
	ErrLatencyOutOfRange = eris.New("latency offset out of range")
)

// Transport is the slice of the lamp controller the engine needs. The
// govee LAN client satisfies it.
type Transport interface {
	DeviceIP(id string) (string, bool)
	Turn(ip string, on bool) error
	SetBrightness(ip string, value int) error
	SetColor(ip string, r, g, b uint8) error
}

// WindowReader yields PCM windows without blocking.
type WindowReader interface {
	ReadWindow() ([]byte, audio.State)
	Close() error
}

// ShowFrame is the per-iteration snapshot handed to an optional sink
// (e.g. the terminal visualizer).
type ShowFrame struct {
	Bass      float64
	Mid       float64
	Treble    float64
	RMS       float64
	Energy    float64
	Beat      bool
	Audio     bool
	Mode      Mode
	Intensity int
	Lamps     []LampCommand
}

// Status is a point-in-time snapshot of the engine.
type Status struct {
	Active          bool
	Mode            Mode
	LatencyMS       int
	Intensity       int
	LightsConnected int
	PipeExists      bool
	AudioConnected  bool
}

// Options configures an Engine beyond its transport.
type Options struct {
	// PipePath is the PCM FIFO written by the Spotify Connect receiver.
	PipePath string
	// Source, when set, replaces the FIFO entirely (e.g. a PortAudio
	// capture source). The caller keeps ownership and closes it.
	Source WindowReader
	// Sink, when set, receives a ShowFrame every worker iteration.
	Sink func(ShowFrame)
}

// Engine owns the audio→light worker. Supervisor calls (Start, Stop,
// setters, Status) communicate with the worker only through the locked
// state; the lock is never held across a network send or a sleep.
type Engine struct {
	transport Transport
	logger    *slog.Logger
	opts      Options

	ctlMu sync.Mutex // serializes Start/Stop

	mu             sync.Mutex
	running        bool
	mode           Mode
	latencyMS      int
	intensity      int
	deviceIDs      []string
	lampIPs        []string
	lastCmd        []time.Time
	audioConnected bool
	done           chan struct{}
}

// NewEngine constructs an idle engine.
func NewEngine(transport Transport, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		transport: transport,
		logger:    logger,
		opts:      opts,
		mode:      ModeOff,
		intensity: 7,
	}
}

// Start begins (or, while running, reconfigures) the show. It resolves
// every device ID through the transport, turns the resolved lamps on, and
// returns once the worker is observably running. At least one lamp must
// resolve.
func (e *Engine) Start(mode string, deviceIDs []string, latencyMS, intensity int) error {
	m, err := ParseMode(mode)
	if err != nil {
		return err
	}
	if m == ModeOff {
		return eris.Wrap(ErrBadMode, "cannot start a show in mode off")
	}
	if len(deviceIDs) == 0 {
		return eris.Wrap(ErrNoLamps, "no device ids given")
	}
	if latencyMS < -latencyLimitMS || latencyMS > latencyLimitMS {
		return eris.Wrapf(ErrLatencyOutOfRange, "%d ms", latencyMS)
	}
	intensity = utils.Clamp(intensity, 1, 10)

	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()

	// A mode=off shutdown may still be winding down; join it so the old
	// worker's exit cannot clobber the new run's state.
	e.mu.Lock()
	prevRunning := e.running
	prevDone := e.done
	e.mu.Unlock()
	if !prevRunning && prevDone != nil {
		select {
		case <-prevDone:
		case <-time.After(joinTimeout):
		}
	}

	ips := make([]string, len(deviceIDs))
	resolved := 0
	for i, id := range deviceIDs {
		ip, ok := e.transport.DeviceIP(id)
		if !ok {
			e.logger.Warn("could not resolve lamp", slog.String("device", id))
			continue
		}
		ips[i] = ip
		resolved++
		e.logger.Info("resolved lamp", slog.String("device", id), slog.String("ip", ip))
	}
	if resolved == 0 {
		return eris.Wrap(ErrNoLamps, "no device resolved to a lan address")
	}

	for _, ip := range ips {
		if ip == "" {
			continue
		}
		if err := e.transport.Turn(ip, true); err != nil {
			e.logger.Warn("failed to turn on lamp", slog.String("ip", ip), slog.Any("error", err))
		}
	}

	e.mu.Lock()
	e.mode = m
	e.latencyMS = latencyMS
	e.intensity = intensity
	e.deviceIDs = slices.Clone(deviceIDs)
	e.lampIPs = ips
	e.lastCmd = make([]time.Time, len(ips))
	wasRunning := e.running
	var done chan struct{}
	if !wasRunning {
		e.running = true
		done = make(chan struct{})
		e.done = done
	}
	e.mu.Unlock()

	if wasRunning {
		e.logger.Info("show reconfigured", slog.String("mode", string(m)), slog.Int("lamps", resolved))
		return nil
	}

	started := make(chan struct{})
	go e.run(started, done)
	<-started

	e.logger.Info("show started", slog.String("mode", string(m)), slog.Int("lamps", resolved))
	return nil
}

// Stop signals the worker and joins it with a bounded deadline. The worker
// resets the lamps to warm white on its way out.
func (e *Engine) Stop() {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()

	e.mu.Lock()
	e.running = false
	done := e.done
	e.mu.Unlock()

	if done == nil {
		return
	}

	select {
	case <-done:
		e.logger.Info("show stopped")
	case <-time.After(joinTimeout):
		e.logger.Warn("show worker did not stop within the join deadline")
	}
}

// SetMode switches the active mode; "off" shuts the show down without
// waiting for the worker to join.
func (e *Engine) SetMode(mode string) error {
	m, err := ParseMode(mode)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.mode = m
	if m == ModeOff {
		e.running = false
	}
	e.mu.Unlock()

	return nil
}

// SetLatency updates the latency offset; values outside [-500, 500] ms are
// rejected. Negative offsets are stored but currently behave as zero.
func (e *Engine) SetLatency(ms int) error {
	if ms < -latencyLimitMS || ms > latencyLimitMS {
		return eris.Wrapf(ErrLatencyOutOfRange, "%d ms", ms)
	}

	e.mu.Lock()
	e.latencyMS = ms
	e.mu.Unlock()

	return nil
}

// SetIntensity updates the show intensity, clamped to 1..10.
func (e *Engine) SetIntensity(level int) {
	e.mu.Lock()
	e.intensity = utils.Clamp(level, 1, 10)
	e.mu.Unlock()
}

// Config is a partial configuration update; nil fields are left untouched.
type Config struct {
	Mode      *string
	LatencyMS *int
	Intensity *int
}

// SetConfig applies a partial update from the control surface. Validation
// failures leave the remaining fields unapplied.
func (e *Engine) SetConfig(cfg Config) error {
	if cfg.Mode != nil {
		if err := e.SetMode(*cfg.Mode); err != nil {
			return err
		}
	}
	if cfg.LatencyMS != nil {
		if err := e.SetLatency(*cfg.LatencyMS); err != nil {
			return err
		}
	}
	if cfg.Intensity != nil {
		e.SetIntensity(*cfg.Intensity)
	}
	return nil
}

// Status reports the engine snapshot.
func (e *Engine) Status() Status {
	pipeExists := false
	if e.opts.Source != nil {
		pipeExists = true
	} else if e.opts.PipePath != "" {
		_, err := os.Stat(e.opts.PipePath)
		pipeExists = err == nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	connected := 0
	for _, ip := range e.lampIPs {
		if ip != "" {
			connected++
		}
	}

	return Status{
		Active:          e.running && e.mode != ModeOff,
		Mode:            e.mode,
		LatencyMS:       e.latencyMS,
		Intensity:       e.intensity,
		LightsConnected: connected,
		PipeExists:      pipeExists,
		AudioConnected:  e.audioConnected,
	}
}

// run is the worker loop: read a window, analyze, drive lamps, hold 30 Hz.
// Pattern-only iterations replace analysis when no window is available.
func (e *Engine) run(started chan<- struct{}, done chan struct{}) {
	defer close(done)
	defer e.resetLamps()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("show worker panicked", slog.Any("panic", r))
		}
		e.mu.Lock()
		e.running = false
		e.audioConnected = false
		e.mu.Unlock()
	}()

	source := e.opts.Source
	ownSource := false
	if source == nil && e.opts.PipePath != "" {
		if p, err := audio.OpenPipe(e.opts.PipePath); err == nil {
			source = p
			ownSource = true
		} else {
			e.logger.Info("audio pipe unavailable, running pattern-only",
				slog.String("path", e.opts.PipePath),
				slog.Any("error", err),
			)
		}
	}
	defer func() {
		if ownSource && source != nil {
			source.Close()
		}
	}()

	analyzer := dsp.NewAnalyzer(audio.WindowFrames)
	st := &showState{}
	lastMode := Mode("")
	var mono []float64
	var nextReopen time.Time
	startTime := time.Now()

	close(started)

	for {
		iterStart := time.Now()

		e.mu.Lock()
		running := e.running
		mode := e.mode
		latencyMS := e.latencyMS
		intensity := e.intensity
		lamps := len(e.lampIPs)
		e.audioConnected = source != nil
		e.mu.Unlock()

		if !running || mode == ModeOff {
			return
		}

		if mode != lastMode {
			*st = showState{}
			lastMode = mode
		}

		// The producer may create the pipe after the show starts.
		if source == nil && e.opts.PipePath != "" && iterStart.After(nextReopen) {
			if p, err := audio.OpenPipe(e.opts.PipePath); err == nil {
				source = p
				ownSource = true
				e.logger.Info("audio pipe connected", slog.String("path", e.opts.PipePath))
			} else {
				nextReopen = iterStart.Add(time.Second)
			}
		}

		var frame dsp.Frame
		haveAudio := false
		if source != nil {
			raw, state := source.ReadWindow()
			switch state {
			case audio.StateWindow:
				mono = audio.Mono(raw, mono)
				frame = analyzer.Process(mono)
				haveAudio = true
			case audio.StateClosed:
				e.logger.Warn("audio source closed, stopping show")
				return
			}
		}

		var targets []LampCommand
		if haveAudio {
			if latencyMS > 0 {
				time.Sleep(time.Duration(latencyMS) * time.Millisecond)
			}
			if frame.Beat {
				st.beatCount++
			}
			targets = modeTargets(mode, st, frame, intensity, lamps)
		} else {
			t := time.Since(startTime).Seconds()
			targets = patternTargets(mode, st, t, intensity, lamps)
		}

		for i, cmd := range targets {
			e.emit(i, cmd)
		}

		if e.opts.Sink != nil {
			e.opts.Sink(ShowFrame{
				Bass:      frame.Bass,
				Mid:       frame.Mid,
				Treble:    frame.Treble,
				RMS:       frame.RMS,
				Energy:    energy(frame.RMS),
				Beat:      frame.Beat,
				Audio:     haveAudio,
				Mode:      mode,
				Intensity: intensity,
				Lamps:     targets,
			})
		}

		if sleep := loopPeriod - time.Since(iterStart); sleep > 0 {
			time.Sleep(sleep)
		}
	}
}

// emit sends one color/brightness pair to the lamp at idx, dropping the
// update when the lamp was addressed less than 50 ms ago. Sends happen
// outside the engine lock and failures are logged, never propagated.
func (e *Engine) emit(idx int, cmd LampCommand) {
	e.mu.Lock()
	if idx >= len(e.lampIPs) {
		e.mu.Unlock()
		return
	}
	ip := e.lampIPs[idx]
	if ip == "" {
		e.mu.Unlock()
		return
	}
	now := time.Now()
	if now.Sub(e.lastCmd[idx]) < minCmdInterval {
		e.mu.Unlock()
		return
	}
	e.lastCmd[idx] = now
	e.mu.Unlock()

	if err := e.transport.SetColor(ip, cmd.R, cmd.G, cmd.B); err != nil {
		e.logger.Debug("color datagram dropped", slog.String("ip", ip), slog.Any("error", err))
	}
	if err := e.transport.SetBrightness(ip, utils.Clamp(cmd.Brightness, 1, 100)); err != nil {
		e.logger.Debug("brightness datagram dropped", slog.String("ip", ip), slog.Any("error", err))
	}
}

// resetLamps returns every lamp to warm white. Reset bypasses the throttle
// and ignores failures.
func (e *Engine) resetLamps() {
	e.mu.Lock()
	ips := slices.Clone(e.lampIPs)
	e.mu.Unlock()

	for _, ip := range ips {
		if ip == "" {
			continue
		}
		if err := e.transport.SetColor(ip, warmWhite.R, warmWhite.G, warmWhite.B); err != nil {
			e.logger.Debug("reset color dropped", slog.String("ip", ip), slog.Any("error", err))
		}
		if err := e.transport.SetBrightness(ip, warmWhite.Brightness); err != nil {
			e.logger.Debug("reset brightness dropped", slog.String("ip", ip), slog.Any("error", err))
		}
	}
}
