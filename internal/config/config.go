// Package config loads settings from flags, VELOPAD_* environment
// variables and an optional ~/.velopad/config.yaml, in that precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix = "VELOPAD"
	configDir = ".velopad"
)

// Config is the resolved runtime configuration.
type Config struct {
	DeviceNameSubstring string
	FTPWatts            float64
	ThresholdWatts      float64
	TargetRatioAtFTP    float64
	MaxRatio            float64
	SmoothingWindow     int

	DPadEnabled bool
	// Bindings maps lowercased key names to gamepad button names.
	Bindings map[string]string

	MaxRetries     int
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	LogFile   string
	LogStderr bool
	Simulate  bool
	// KeyboardDevice is the evdev node to capture; empty auto-detects.
	KeyboardDevice string
}

// ValidationError reports a configuration value that cannot be used.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

func defaultBindings(dpadEnabled bool) map[string]string {
	bindings := map[string]string{
		"home":    "a",
		"l_shift": "b",
		"enter":   "x",
		"end":     "y",
		"=":       "rb",
		"-":       "lb",
	}
	if dpadEnabled {
		bindings["left"] = "dpad_left"
		bindings["right"] = "dpad_right"
	}
	return bindings
}

func defaultLogFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "velopad.log"
	}
	return filepath.Join(home, configDir, "velopad.log")
}

// Load parses args (without the program name) and resolves the full
// configuration. It returns pflag.ErrHelp when --help was requested.
func Load(args []string) (*Config, error) {
	flags := pflag.NewFlagSet("velopad", pflag.ContinueOnError)
	flags.String("device", "KICKR", "substring of the power sensor's advertised name")
	flags.Float64("ftp", 230, "functional threshold power in watts")
	flags.Float64("threshold", 0, "readings below this wattage are dropped")
	flags.Float64("target-ratio", 0.75, "trigger ratio produced when riding at FTP")
	flags.Float64("max-ratio", 0.95, "trigger ratio the curve saturates toward")
	flags.Int("smoothing-window", 3, "moving average window in samples")
	flags.Bool("dpad", true, "bind arrow keys to the d-pad")
	flags.StringSlice("bind", nil, "extra key binding as key=button, repeatable")
	flags.Int("max-retries", 0, "consecutive connection failures before giving up, 0 retries forever")
	flags.Duration("scan-timeout", 10*time.Second, "how long to scan before declaring the sensor absent")
	flags.Duration("connect-timeout", 10*time.Second, "how long to wait for a connection")
	flags.Duration("backoff-initial", time.Second, "first retry delay")
	flags.Duration("backoff-max", 30*time.Second, "retry delay cap")
	flags.String("log-file", defaultLogFile(), "rotating log file path")
	flags.Bool("log-stderr", false, "mirror logs to stderr")
	flags.Bool("simulate", false, "run against a synthetic power sensor instead of Bluetooth")
	flags.String("keyboard-device", "", "evdev keyboard node, auto-detected when empty")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, configDir))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	cfg := &Config{
		DeviceNameSubstring: v.GetString("device"),
		FTPWatts:            v.GetFloat64("ftp"),
		ThresholdWatts:      v.GetFloat64("threshold"),
		TargetRatioAtFTP:    v.GetFloat64("target-ratio"),
		MaxRatio:            v.GetFloat64("max-ratio"),
		SmoothingWindow:     v.GetInt("smoothing-window"),
		DPadEnabled:         v.GetBool("dpad"),
		MaxRetries:          v.GetInt("max-retries"),
		ScanTimeout:         v.GetDuration("scan-timeout"),
		ConnectTimeout:      v.GetDuration("connect-timeout"),
		BackoffInitial:      v.GetDuration("backoff-initial"),
		BackoffMax:          v.GetDuration("backoff-max"),
		LogFile:             v.GetString("log-file"),
		LogStderr:           v.GetBool("log-stderr"),
		Simulate:            v.GetBool("simulate"),
		KeyboardDevice:      v.GetString("keyboard-device"),
	}

	cfg.Bindings = defaultBindings(cfg.DPadEnabled)
	for key, button := range v.GetStringMapString("bindings") {
		cfg.Bindings[strings.ToLower(key)] = strings.ToLower(button)
	}
	binds, err := flags.GetStringSlice("bind")
	if err != nil {
		return nil, fmt.Errorf("reading bind flags: %w", err)
	}
	for _, bind := range binds {
		key, button, ok := strings.Cut(bind, "=")
		if !ok || key == "" || button == "" {
			return nil, &ValidationError{Field: "bind", Reason: fmt.Sprintf("%q is not key=button", bind)}
		}
		cfg.Bindings[strings.ToLower(key)] = strings.ToLower(button)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the numeric relationships the pipeline depends on.
func (c *Config) Validate() error {
	switch {
	case c.DeviceNameSubstring == "":
		return &ValidationError{Field: "device", Reason: "must not be empty"}
	case c.ThresholdWatts < 0:
		return &ValidationError{Field: "threshold", Reason: "must be >= 0"}
	case c.FTPWatts <= c.ThresholdWatts:
		return &ValidationError{Field: "ftp", Reason: "must be greater than threshold"}
	case c.MaxRatio <= 0 || c.MaxRatio > 1:
		return &ValidationError{Field: "max-ratio", Reason: "must be in (0, 1]"}
	case c.TargetRatioAtFTP <= 0 || c.TargetRatioAtFTP >= c.MaxRatio:
		return &ValidationError{Field: "target-ratio", Reason: "must be in (0, max-ratio)"}
	case c.SmoothingWindow < 1:
		return &ValidationError{Field: "smoothing-window", Reason: "must be >= 1"}
	case c.MaxRetries < 0:
		return &ValidationError{Field: "max-retries", Reason: "must be >= 0"}
	case c.ScanTimeout <= 0:
		return &ValidationError{Field: "scan-timeout", Reason: "must be > 0"}
	case c.ConnectTimeout <= 0:
		return &ValidationError{Field: "connect-timeout", Reason: "must be > 0"}
	case c.BackoffInitial <= 0:
		return &ValidationError{Field: "backoff-initial", Reason: "must be > 0"}
	case c.BackoffMax < c.BackoffInitial:
		return &ValidationError{Field: "backoff-max", Reason: "must be >= backoff-initial"}
	}
	return nil
}
