// ABOUTME: micstream daemon configuration
// ABOUTME: Defaults, YAML file, MICSTREAM_* environment overrides and validation
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ausculsound/micstream/pkg/audio"
	"github.com/ausculsound/micstream/pkg/capture"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all micstream environment variables.
const EnvPrefix = "MICSTREAM_"

// Config holds the capture daemon configuration. CLI flags are applied on
// top of the loaded value by the binary.
type Config struct {
	// Capture
	SampleRate     int `yaml:"sample_rate"`
	BufferSize     int `yaml:"buffer_size"`
	ResolutionBits int `yaml:"resolution_bits"`
	Channels       int `yaml:"channels"`
	MicEnablePin   int `yaml:"mic_enable_pin"`
	DebugPin       int `yaml:"debug_pin"`

	// Analog source for the simulated board; empty plays a test tone
	Signal string `yaml:"signal"`

	// Streaming
	Port         int    `yaml:"port"`
	Name         string `yaml:"name"`
	Codec        string `yaml:"codec"`
	MDNS         bool   `yaml:"mdns"`
	AllowControl bool   `yaml:"allow_control"`

	// Record is a WAV path; empty disables recording
	Record string `yaml:"record"`

	LogFile string `yaml:"log_file"`
	Debug   bool   `yaml:"debug"`
}

func defaults() Config {
	return Config{
		SampleRate:     capture.DefaultSampleRate,
		BufferSize:     capture.DefaultBufferSize,
		ResolutionBits: audio.DefaultResolutionBits,
		Channels:       capture.DefaultChannels,
		MicEnablePin:   int(capture.NoPin),
		DebugPin:       int(capture.NoPin),
		Port:           8928,
		Name:           "micstream",
		Codec:          audio.CodecPCM,
		MDNS:           true,
		AllowControl:   true,
		LogFile:        "micstream.log",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides and validates the result. It returns the
// config, any validation warnings, and an error if the file exists but
// cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// Capture returns the capture session configuration
func (c Config) Capture() capture.Config {
	cfg := capture.DefaultConfig()
	cfg.Channels = c.Channels
	cfg.SampleRate = uint32(c.SampleRate)
	cfg.BufferSize = c.BufferSize
	cfg.ResolutionBits = c.ResolutionBits
	cfg.MicEnablePin = capture.Pin(c.MicEnablePin)
	cfg.DebugPin = capture.Pin(c.DebugPin)
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	envInt("SAMPLE_RATE", &cfg.SampleRate)
	envInt("BUFFER_SIZE", &cfg.BufferSize)
	envInt("RESOLUTION_BITS", &cfg.ResolutionBits)
	envInt("CHANNELS", &cfg.Channels)
	envInt("MIC_ENABLE_PIN", &cfg.MicEnablePin)
	envInt("DEBUG_PIN", &cfg.DebugPin)
	envInt("PORT", &cfg.Port)

	if v := os.Getenv(EnvPrefix + "SIGNAL"); v != "" {
		cfg.Signal = v
	}
	if v := os.Getenv(EnvPrefix + "NAME"); v != "" {
		cfg.Name = v
	}
	if v := os.Getenv(EnvPrefix + "CODEC"); v != "" {
		cfg.Codec = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv(EnvPrefix + "RECORD"); v != "" {
		cfg.Record = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FILE"); v != "" {
		cfg.LogFile = v
	}

	envBool("MDNS", &cfg.MDNS)
	envBool("ALLOW_CONTROL", &cfg.AllowControl)
	envBool("DEBUG", &cfg.Debug)
}

func envInt(key string, dst *int) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		*dst = n
	}
}

func envBool(key string, dst *bool) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return
	}
	if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
		*dst = b
	}
}

// validate repairs values the daemon cannot run with and reports each repair
func validate(cfg *Config) []string {
	var warnings []string
	def := defaults()

	if cfg.SampleRate <= 0 {
		warnings = append(warnings, fmt.Sprintf("sample_rate %d is invalid, using %d", cfg.SampleRate, def.SampleRate))
		cfg.SampleRate = def.SampleRate
	}
	if cfg.BufferSize <= 0 {
		warnings = append(warnings, fmt.Sprintf("buffer_size %d is invalid, using %d", cfg.BufferSize, def.BufferSize))
		cfg.BufferSize = def.BufferSize
	}
	if _, err := audio.NewResolution(cfg.ResolutionBits); err != nil {
		warnings = append(warnings, fmt.Sprintf("%v, using %d bits", err, def.ResolutionBits))
		cfg.ResolutionBits = def.ResolutionBits
	}
	if cfg.Channels != 1 {
		warnings = append(warnings, fmt.Sprintf("channels %d is unsupported, capturing mono", cfg.Channels))
		cfg.Channels = 1
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		warnings = append(warnings, fmt.Sprintf("port %d is invalid, using %d", cfg.Port, def.Port))
		cfg.Port = def.Port
	}
	switch cfg.Codec {
	case audio.CodecPCM, audio.CodecOpus:
	default:
		warnings = append(warnings, fmt.Sprintf("unknown codec %q, using %s", cfg.Codec, def.Codec))
		cfg.Codec = def.Codec
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}

	return warnings
}
