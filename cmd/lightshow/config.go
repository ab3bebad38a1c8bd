package main

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

const (
	defaultPipePath  = "/tmp/librespot-pipe"
	defaultMode      = "pulse"
	defaultIntensity = 7
)

// fileConfig is the optional YAML config file. Flags override the file;
// the environment overrides both for the pipe path and cloud key.
type fileConfig struct {
	PipePath    string   `yaml:"pipe_path"`
	CloudAPIKey string   `yaml:"cloud_api_key"`
	Devices     []string `yaml:"devices"`
	Mode        string   `yaml:"mode"`
	LatencyMS   int      `yaml:"latency_ms"`
	Intensity   int      `yaml:"intensity"`
	LogLevel    string   `yaml:"log_level"`
}

type settings struct {
	pipePath    string
	cloudAPIKey string
	devices     []string
	mode        string
	latencyMS   int
	intensity   int
	debug       bool
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, eris.Wrapf(err, "failed to read config file %s", path)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, eris.Wrapf(err, "failed to parse config file %s", path)
	}

	return cfg, nil
}

func resolveSettings(opts runtimeOptions) (settings, error) {
	file, err := loadFileConfig(opts.configPath)
	if err != nil {
		return settings{}, err
	}

	s := settings{
		pipePath:    firstNonEmpty(os.Getenv("LIGHTSHOW_PIPE"), opts.pipePath, file.PipePath, defaultPipePath),
		cloudAPIKey: firstNonEmpty(os.Getenv("GOVEE_API_KEY"), file.CloudAPIKey),
		mode:        firstNonEmpty(opts.mode, file.Mode, defaultMode),
		latencyMS:   file.LatencyMS,
		intensity:   file.Intensity,
		debug:       opts.debug || strings.EqualFold(file.LogLevel, "debug"),
	}

	if opts.latencyMS != 0 {
		s.latencyMS = opts.latencyMS
	}
	if opts.intensity != 0 {
		s.intensity = opts.intensity
	}
	if s.intensity == 0 {
		s.intensity = defaultIntensity
	}

	if opts.devices != "" {
		for _, id := range strings.Split(opts.devices, ",") {
			if id = strings.TrimSpace(id); id != "" {
				s.devices = append(s.devices, id)
			}
		}
	} else {
		s.devices = file.Devices
	}

	return s, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
