package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes the environment variables overriding config fields,
// e.g. PRESENTER_DEVICE_NAME.
const EnvPrefix = "PRESENTER_"

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`
	// LogFile redirects logs to a size-rotated file when set.
	LogFile string `yaml:"log_file"`

	DeviceName      string `yaml:"device_name" default:"Drogue Presenter"`
	MaxConnections  int    `yaml:"max_connections" default:"6"`
	LinkConnections int    `yaml:"link_connections" default:"2"`

	TickInterval    time.Duration `yaml:"tick_interval" default:"5s"`
	WatchdogPeriod  time.Duration `yaml:"watchdog_period" default:"2s"`
	AccelRateHz     int           `yaml:"accel_rate_hz" default:"10"`
	AccelRetryDelay time.Duration `yaml:"accel_retry_delay" default:"1s"`
	BlinkInterval   time.Duration `yaml:"blink_interval" default:"1s"`

	UpdateQueueSize int    `yaml:"update_queue_size" default:"10"`
	FirmwareImage   string `yaml:"firmware_image" default:"firmware.bin"`
	DFUPageSize     int    `yaml:"dfu_page_size" default:"4096"`
	DFUMTU          int    `yaml:"dfu_mtu" default:"64"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads the YAML file at path on top of the defaults, then applies
// PRESENTER_* environment overrides. An empty path skips the file. The
// result is validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=value pairs from a dotenv file into the process
// environment. Variables already set are kept.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"LOG_LEVEL":      &c.LogLevel,
		"LOG_FILE":       &c.LogFile,
		"DEVICE_NAME":    &c.DeviceName,
		"FIRMWARE_IMAGE": &c.FirmwareImage,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MAX_CONNECTIONS":  &c.MaxConnections,
		"LINK_CONNECTIONS": &c.LinkConnections,
		"ACCEL_RATE_HZ":    &c.AccelRateHz,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"TICK_INTERVAL":   &c.TickInterval,
		"WATCHDOG_PERIOD": &c.WatchdogPeriod,
	}
	for key, dst := range durations {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}
	return nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.DeviceName) == "" {
		errs = append(errs, errors.New("device_name must not be empty"))
	}
	if c.MaxConnections <= 0 {
		errs = append(errs, fmt.Errorf("max_connections must be > 0, got %d", c.MaxConnections))
	}
	if c.LinkConnections <= 0 {
		errs = append(errs, fmt.Errorf("link_connections must be > 0, got %d", c.LinkConnections))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval must be > 0, got %s", c.TickInterval))
	}
	if c.WatchdogPeriod <= 0 {
		errs = append(errs, fmt.Errorf("watchdog_period must be > 0, got %s", c.WatchdogPeriod))
	}
	switch c.AccelRateHz {
	case 1, 10, 25, 50:
	default:
		errs = append(errs, fmt.Errorf("accel_rate_hz must be one of 1, 10, 25, 50, got %d", c.AccelRateHz))
	}
	if c.UpdateQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("update_queue_size must be > 0, got %d", c.UpdateQueueSize))
	}
	if c.DFUPageSize <= 0 {
		errs = append(errs, fmt.Errorf("dfu_page_size must be > 0, got %d", c.DFUPageSize))
	}
	if c.DFUMTU <= 0 || c.DFUMTU > c.DFUPageSize {
		errs = append(errs, fmt.Errorf("dfu_mtu must be in 1..dfu_page_size, got %d", c.DFUMTU))
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level, InfoLevel if it does not parse.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	if c.LogFile != "" {
		logger.SetOutput(&lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}

	return logger
}
