package config

import (
	"os"
	"strings"

	"codeberg.org/mutker/rainsoftctl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultInterval = 2  // hours between polls
	MinInterval     = 1  // hours
	MaxInterval     = 4  // hours
	DefaultTimeout  = 30 // seconds per API request
	DefaultLogLevel = "info"
)

type Config struct {
	Email       string
	Password    string
	DeviceID    string `mapstructure:"device_id"`
	Interval    int    // poll interval in hours
	Timeout     int    // per-request timeout in seconds
	LogLevel    string `mapstructure:"log_level"`
	Telemetry   bool
	TelemetryDB string `mapstructure:"database"`
	Debug       bool
	Verbose     bool
}

// Load reads configuration from defaults, the config file, environment
// variables (RAINSOFTCTL_*) and command line flags, in increasing order of
// precedence, then validates the result.
func Load() (*Config, error) {
	errFactory := errors.New()
	v := viper.New()

	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("telemetry", false)
	v.SetDefault("database", "/var/lib/rainsoftctl/telemetry.db")

	fs := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.String("email", "", "Account email address")
	fs.String("password", "", "Account password")
	fs.String("device-id", "", "Poll only this device ID")
	fs.Int("interval", DefaultInterval, "Hours between polls")
	fs.Int("timeout", DefaultTimeout, "Per-request timeout in seconds")
	fs.String("log-level", "", "Log level (debug, info, warning, error)")
	fs.Bool("telemetry", false, "Record poll results to the telemetry database")
	fs.String("database", "", "Path to the telemetry database")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	bindings := map[string]string{
		"email":     "email",
		"password":  "password",
		"device-id": "device_id",
		"interval":  "interval",
		"timeout":   "timeout",
		"log-level": "log_level",
		"telemetry": "telemetry",
		"database":  "database",
		"debug":     "debug",
		"verbose":   "verbose",
	}
	for flagName, key := range bindings {
		f := fs.Lookup(flagName)
		if f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}

	v.SetEnvPrefix("RAINSOFTCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// AutomaticEnv alone does not surface env-only keys through Unmarshal
	for _, key := range []string{"email", "password", "device_id"} {
		if err := v.BindEnv(key); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	if path := os.Getenv("RAINSOFTCTL_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("rainsoftctl")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks field values; credentials presence is enforced here so a
// misconfigured service fails at startup rather than on the first poll.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Email == "" || c.Password == "" {
		return errFactory.New(errors.ErrMissingCredentials)
	}

	if c.Interval < MinInterval || c.Interval > MaxInterval {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}

	if c.Timeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, c.Timeout)
	}

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	return nil
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

func (l LogLevel) String() string {
	return string(l)
}
