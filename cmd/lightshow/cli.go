package main

import "flag"

type runtimeOptions struct {
	configPath    string
	mode          string
	devices       string
	latencyMS     int
	intensity     int
	pipePath      string
	captureDevice int
	visualize     bool
	debug         bool
}

func parseCLIFlags() runtimeOptions {
	var cfg runtimeOptions

	flag.StringVar(&cfg.configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&cfg.mode, "mode", "", "show mode: pulse, ambient, or party")
	flag.StringVar(&cfg.devices, "devices", "", "comma-separated Govee device IDs (empty = all discovered)")
	flag.IntVar(&cfg.latencyMS, "latency-ms", 0, "audio-to-light latency offset in milliseconds (-500..500)")
	flag.IntVar(&cfg.intensity, "intensity", 0, "show intensity 1-10")
	flag.StringVar(&cfg.pipePath, "pipe", "", "path to the librespot PCM pipe")
	flag.IntVar(&cfg.captureDevice, "capture-device", -2, "PortAudio input device index to use instead of the pipe (-1 = default device)")
	flag.BoolVar(&cfg.visualize, "visualize", false, "render the realtime terminal visualization (logs go to stderr)")
	flag.BoolVar(&cfg.debug, "debug", false, "enable debug logging")
	flag.Parse()

	return cfg
}
