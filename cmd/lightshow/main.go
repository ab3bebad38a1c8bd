package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/Drewsername/localweb/internal/audio"
	"github.com/Drewsername/localweb/internal/govee"
	"github.com/Drewsername/localweb/internal/lightshow"
	"github.com/Drewsername/localweb/internal/ui"
)

func main() {
	opts := parseCLIFlags()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, opts); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, opts runtimeOptions) error {
	cfg, err := resolveSettings(opts)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.debug, opts.visualize)

	lan := govee.NewLAN(logger)

	devices := cfg.devices
	if len(devices) == 0 {
		found, err := lan.Discover(false)
		if err != nil {
			return err
		}
		for _, d := range found {
			devices = append(devices, d.ID)
		}
	}
	if len(devices) == 0 {
		if cfg.cloudAPIKey != "" {
			logCloudDevices(ctx, logger, cfg.cloudAPIKey)
		}
		return eris.New("no lamps available on the lan")
	}

	var source lightshow.WindowReader
	if opts.captureDevice >= -1 {
		capture, err := audio.OpenCapture(opts.captureDevice)
		if err != nil {
			return err
		}
		defer capture.Close()
		source = capture
	}

	var viz *ui.Visualizer
	var sink func(lightshow.ShowFrame)
	if opts.visualize && term.IsTerminal(int(os.Stdout.Fd())) {
		viz = ui.NewVisualizer(cancel)
		defer viz.Close()
		sink = visualizerSink(viz)
	}

	engine := lightshow.NewEngine(lan, logger, lightshow.Options{
		PipePath: cfg.pipePath,
		Source:   source,
		Sink:     sink,
	})

	if err := engine.Start(cfg.mode, devices, cfg.latencyMS, cfg.intensity); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		engine.Stop()
		return gctx.Err()
	})

	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				status := engine.Status()
				logger.Debug("show status",
					slog.Bool("active", status.Active),
					slog.String("mode", string(status.Mode)),
					slog.Int("lights_connected", status.LightsConnected),
					slog.Bool("pipe_exists", status.PipeExists),
					slog.Bool("audio_connected", status.AudioConnected),
				)
				if !status.Active {
					// The engine wound itself down (mode off or the
					// source closed); unblock the stop goroutine.
					cancel()
					return nil
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !eris.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func setupLogger(debug, visualize bool) *slog.Logger {
	logOutput := os.Stdout
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	if visualize && !debug {
		logLevel = slog.LevelWarn
	}
	if visualize {
		logOutput = os.Stderr
	}

	logger := slog.New(slog.NewTextHandler(logOutput, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	return logger
}

// logCloudDevices lists the account's devices through the cloud fallback so
// the user can see what exists even when the LAN scan comes up empty.
func logCloudDevices(ctx context.Context, logger *slog.Logger, apiKey string) {
	cloud := govee.NewCloud(apiKey)

	devices, err := cloud.Devices(ctx)
	if err != nil {
		logger.Warn("cloud device listing failed", slog.Any("error", err))
		return
	}

	for _, d := range devices {
		logger.Info("cloud device (no lan route)",
			slog.String("device", d.Device),
			slog.String("sku", d.SKU),
			slog.String("name", d.DeviceName),
		)
	}
}

func visualizerSink(viz *ui.Visualizer) func(lightshow.ShowFrame) {
	return func(f lightshow.ShowFrame) {
		lamps := make([]ui.LampSwatch, len(f.Lamps))
		for i, lamp := range f.Lamps {
			lamps[i] = ui.LampSwatch{R: lamp.R, G: lamp.G, B: lamp.B, Brightness: lamp.Brightness}
		}

		viz.Update(ui.VisualizerFrame{
			Mode:      string(f.Mode),
			Intensity: f.Intensity,
			Bass:      softScale(f.Bass),
			Mid:       softScale(f.Mid),
			Treble:    softScale(f.Treble),
			Energy:    f.Energy,
			Beat:      f.Beat,
			Audio:     f.Audio,
			Lamps:     lamps,
		})
	}
}

// softScale maps an unbounded magnitude onto [0,1) for bar display.
func softScale(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return v / (v + 8)
}
