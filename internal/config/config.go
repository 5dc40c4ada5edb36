// Package config loads the expander service configuration.
//
// The loading order is:
//  1. Default values
//  2. YAML file values, when a file is given
//  3. Environment variables (EXPANDER_SECTION_KEY)
//
// Command line flags are applied on top by the caller, followed by Validate.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"expander-service/internal/hardware"
)

type Config struct {
	Listen  EndpointConfig `yaml:"listen"`
	Server  EndpointConfig `yaml:"server"`
	Serial  SerialConfig   `yaml:"serial"`
	Sounds  SoundsConfig   `yaml:"sounds"`
	Audio   AudioConfig    `yaml:"audio"`
	GPIO    GPIOConfig     `yaml:"gpio"`
	Input   InputConfig    `yaml:"input"`
	Loop    LoopConfig     `yaml:"loop"`
	Redis   RedisConfig    `yaml:"redis"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Logging LoggingConfig  `yaml:"logging"`
}

// EndpointConfig is a UDP host/port pair.
type EndpointConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (e EndpointConfig) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// SerialConfig configures the motor controller link. An empty Port disables it.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	LineBudget  time.Duration `yaml:"line_budget"`
}

type SoundsConfig struct {
	Root          string `yaml:"root"`
	BackgroundDir string `yaml:"background_dir"`
}

type AudioConfig struct {
	SampleRate       int     `yaml:"sample_rate"`
	Buffer           int     `yaml:"buffer"`
	BackgroundVolume float64 `yaml:"background_volume"`
}

type GPIOConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Chip      string `yaml:"chip"`
	Inputs    []int  `yaml:"inputs"`
	Outputs   []int  `yaml:"outputs"`
	ActiveLow bool   `yaml:"active_low"`
}

type InputConfig struct {
	Debounce  time.Duration `yaml:"debounce"`
	EdgeQueue int           `yaml:"edge_queue"`
}

type LoopConfig struct {
	Idle time.Duration `yaml:"idle"`
}

type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type LoggingConfig struct {
	Level int    `yaml:"level"`
	File  string `yaml:"file"`
}

// Load returns the defaults overlaid with the YAML file at path (skipped when
// path is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Listen: EndpointConfig{Host: "0.0.0.0", Port: 5005},
		Server: EndpointConfig{Host: "127.0.0.1", Port: 3333},
		Serial: SerialConfig{
			Baud:        38400,
			ReadTimeout: 500 * time.Millisecond,
			LineBudget:  300 * time.Millisecond,
		},
		Sounds: SoundsConfig{
			Root:          "christmassounds",
			BackgroundDir: "bg",
		},
		Audio: AudioConfig{
			SampleRate:       44100,
			Buffer:           2048,
			BackgroundVolume: 0.5,
		},
		GPIO: GPIOConfig{
			Enabled:   true,
			Chip:      hardware.DefaultChip,
			Inputs:    append([]int(nil), hardware.DefaultInputLines...),
			Outputs:   append([]int(nil), hardware.DefaultOutputLines...),
			ActiveLow: true,
		},
		Input: InputConfig{
			Debounce:  100 * time.Millisecond,
			EdgeQueue: hardware.DefaultEdgeQueue,
		},
		Loop:    LoopConfig{Idle: 100 * time.Millisecond},
		Redis:   RedisConfig{Host: "127.0.0.1", Port: 6379},
		Metrics: MetricsConfig{Listen: ":9105"},
		Logging: LoggingConfig{Level: 3},
	}
}

// applyEnvOverrides applies EXPANDER_SECTION_KEY variables.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"EXPANDER_LISTEN_HOST":           &cfg.Listen.Host,
		"EXPANDER_SERVER_HOST":           &cfg.Server.Host,
		"EXPANDER_SERIAL_PORT":           &cfg.Serial.Port,
		"EXPANDER_SOUNDS_ROOT":           &cfg.Sounds.Root,
		"EXPANDER_SOUNDS_BACKGROUND_DIR": &cfg.Sounds.BackgroundDir,
		"EXPANDER_GPIO_CHIP":             &cfg.GPIO.Chip,
		"EXPANDER_REDIS_HOST":            &cfg.Redis.Host,
		"EXPANDER_METRICS_LISTEN":        &cfg.Metrics.Listen,
		"EXPANDER_LOGGING_FILE":          &cfg.Logging.File,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"EXPANDER_LISTEN_PORT":   &cfg.Listen.Port,
		"EXPANDER_SERVER_PORT":   &cfg.Server.Port,
		"EXPANDER_REDIS_PORT":    &cfg.Redis.Port,
		"EXPANDER_LOGGING_LEVEL": &cfg.Logging.Level,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"EXPANDER_GPIO_ENABLED":    &cfg.GPIO.Enabled,
		"EXPANDER_REDIS_ENABLED":   &cfg.Redis.Enabled,
		"EXPANDER_METRICS_ENABLED": &cfg.Metrics.Enabled,
	}
	for key, dst := range bools {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	if err := validPort("listen.port", c.Listen.Port, true); err != nil {
		errs = append(errs, err)
	}
	if err := validPort("server.port", c.Server.Port, false); err != nil {
		errs = append(errs, err)
	}
	if c.Server.Host == "" {
		errs = append(errs, errors.New("server.host is required"))
	}

	if c.Serial.Port != "" {
		if c.Serial.Baud <= 0 {
			errs = append(errs, fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud))
		}
		if c.Serial.ReadTimeout <= 0 {
			errs = append(errs, errors.New("serial.read_timeout must be positive"))
		}
		if c.Serial.LineBudget <= 0 {
			errs = append(errs, errors.New("serial.line_budget must be positive"))
		}
	}

	if c.Sounds.Root == "" {
		errs = append(errs, errors.New("sounds.root is required"))
	}
	if c.Audio.BackgroundVolume < 0 || c.Audio.BackgroundVolume > 1 {
		errs = append(errs, fmt.Errorf("audio.background_volume must be within [0,1], got %v", c.Audio.BackgroundVolume))
	}
	if c.Audio.SampleRate <= 0 || c.Audio.Buffer <= 0 {
		errs = append(errs, errors.New("audio.sample_rate and audio.buffer must be positive"))
	}

	if c.GPIO.Enabled {
		if len(c.GPIO.Inputs) != hardware.InputCount {
			errs = append(errs, fmt.Errorf("gpio.inputs must list %d lines, got %d", hardware.InputCount, len(c.GPIO.Inputs)))
		}
		if len(c.GPIO.Outputs) != hardware.OutputCount {
			errs = append(errs, fmt.Errorf("gpio.outputs must list %d lines, got %d", hardware.OutputCount, len(c.GPIO.Outputs)))
		}
	}

	if c.Input.Debounce <= 0 {
		errs = append(errs, errors.New("input.debounce must be positive"))
	}
	if c.Input.EdgeQueue <= 0 {
		errs = append(errs, errors.New("input.edge_queue must be positive"))
	}
	if c.Loop.Idle <= 0 {
		errs = append(errs, errors.New("loop.idle must be positive"))
	}

	if c.Redis.Enabled {
		if err := validPort("redis.port", c.Redis.Port, false); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics.listen is required when metrics are enabled"))
	}
	if c.Logging.Level < 0 || c.Logging.Level > 4 {
		errs = append(errs, fmt.Errorf("logging.level must be within 0-4, got %d", c.Logging.Level))
	}

	return errors.Join(errs...)
}

func validPort(name string, port int, allowZero bool) error {
	if port < 0 || port > 65535 || (port == 0 && !allowZero) {
		return fmt.Errorf("%s out of range: %d", name, port)
	}
	return nil
}
