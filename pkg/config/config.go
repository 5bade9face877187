// Package config loads the device's YAML configuration. String values may
// reference environment variables with ${VAR} syntax; references are
// expanded before parsing so secrets can stay out of the file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the full device configuration loaded once at startup.
type Config struct {
	Logger   Logger   `yaml:"logger"`
	OTA      OTA      `yaml:"ota"`
	Wakeword Wakeword `yaml:"wakeword"`
	Audio    Audio    `yaml:"audio"`
}

// Logger configures process-wide logging.
type Logger struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level"`
	// Dir, when set, mirrors logs into a file under this directory.
	Dir string `yaml:"dir"`
}

// OTA configures the device-management backend and device identity.
type OTA struct {
	URL          string         `yaml:"url"`
	DeviceID     string         `yaml:"device_id"`
	ClientID     string         `yaml:"client_id"`
	SerialNumber string         `yaml:"serial_number"`
	HMACKey      string         `yaml:"hmac_key"`
	Board        map[string]any `yaml:"board"`
}

// Wakeword configures the wake-word detector.
type Wakeword struct {
	Word        string  `yaml:"word"`
	Sensitivity float64 `yaml:"sensitivity"`
	Model       string  `yaml:"model"`
}

// Audio holds tunables of the session audio flow.
type Audio struct {
	// SettleDelay is the pause between the server's speech ending and
	// the return to listening. Defaults to 1s.
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// Load reads, expands and validates the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references
// from the environment, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Wakeword.Sensitivity == 0 {
		c.Wakeword.Sensitivity = 0.5
	}
	if c.Audio.SettleDelay == 0 {
		c.Audio.SettleDelay = time.Second
	}
}

// Validate checks the configuration for coherence and returns a joined
// error listing every failure found.
func (c *Config) Validate() error {
	var errs []error

	switch c.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logger.level %q is invalid; valid values: debug, info, warn, error", c.Logger.Level))
	}

	if c.OTA.URL == "" {
		errs = append(errs, errors.New("ota.url is required"))
	}
	if c.OTA.DeviceID == "" {
		errs = append(errs, errors.New("ota.device_id is required"))
	}
	if c.OTA.HMACKey == "" {
		errs = append(errs, errors.New("ota.hmac_key is required"))
	}

	if c.Wakeword.Sensitivity < 0 || c.Wakeword.Sensitivity > 1 {
		errs = append(errs, fmt.Errorf("wakeword.sensitivity %.2f is out of range [0, 1]", c.Wakeword.Sensitivity))
	}
	if c.Audio.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("audio.settle_delay %s must not be negative", c.Audio.SettleDelay))
	}

	return errors.Join(errs...)
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with the environment's value.
// Unset variables expand to the empty string.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}
